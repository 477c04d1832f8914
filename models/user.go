package models

import "time"

// User describes a person who can submit, receive or act on documents.
// Rows live in the recipients directory table.
type User struct {
	ID         string    `gorm:"type:varchar(64);primaryKey" json:"id"`
	Name       string    `gorm:"not null" json:"name"`
	Role       string    `gorm:"type:varchar(64);index" json:"role"`
	Department string    `gorm:"type:varchar(128)" json:"department"`
	Branch     string    `gorm:"type:varchar(128)" json:"branch"`
	Email      string    `gorm:"type:varchar(255)" json:"email"`
	Phone      string    `gorm:"type:varchar(32)" json:"phone"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "recipients"
}
