package models

import "time"

// ChannelName identifies a delivery channel.
type ChannelName string

const (
	ChannelEmail    ChannelName = "email"
	ChannelPush     ChannelName = "push"
	ChannelSMS      ChannelName = "sms"
	ChannelWhatsApp ChannelName = "whatsapp"
)

// AllChannels in dispatch order.
var AllChannels = []ChannelName{ChannelEmail, ChannelPush, ChannelSMS, ChannelWhatsApp}

// NotificationType selects which preference sub-flag applies.
type NotificationType string

const (
	NotificationApproval   NotificationType = "approval"
	NotificationUpdate     NotificationType = "update"
	NotificationReminder   NotificationType = "reminder"
	NotificationEscalation NotificationType = "escalation"
)

// ChannelPreference is one channel's switch plus per-type sub-flags.
type ChannelPreference struct {
	Enabled   bool `json:"enabled"`
	Approvals bool `json:"approvals"`
	Updates   bool `json:"updates"`
	Reminders bool `json:"reminders"`
}

// Allows reports whether content of type t may go out on this channel.
// Urgent content only needs the channel to be enabled.
func (c ChannelPreference) Allows(t NotificationType, urgent bool) bool {
	if !c.Enabled {
		return false
	}
	if urgent {
		return true
	}
	switch t {
	case NotificationApproval, NotificationEscalation:
		return c.Approvals
	case NotificationUpdate:
		return c.Updates
	case NotificationReminder:
		return c.Reminders
	}
	return false
}

// NotificationPreference holds a recipient's delivery settings.
type NotificationPreference struct {
	UserID    string            `gorm:"type:varchar(64);primaryKey" json:"user_id"`
	Email     ChannelPreference `gorm:"embedded;embeddedPrefix:email_" json:"email"`
	Push      ChannelPreference `gorm:"embedded;embeddedPrefix:push_" json:"push"`
	SMS       ChannelPreference `gorm:"embedded;embeddedPrefix:sms_" json:"sms"`
	WhatsApp  ChannelPreference `gorm:"embedded;embeddedPrefix:whatsapp_" json:"whatsapp"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// DefaultNotificationPreference is used for recipients that never saved preferences.
func DefaultNotificationPreference(userID string) NotificationPreference {
	all := ChannelPreference{Enabled: true, Approvals: true, Updates: true, Reminders: true}
	return NotificationPreference{
		UserID:   userID,
		Email:    all,
		Push:     all,
		SMS:      ChannelPreference{Approvals: true, Reminders: true},
		WhatsApp: ChannelPreference{Approvals: true, Reminders: true},
	}
}

// Channel returns the preference for name.
func (p NotificationPreference) Channel(name ChannelName) ChannelPreference {
	switch name {
	case ChannelEmail:
		return p.Email
	case ChannelPush:
		return p.Push
	case ChannelSMS:
		return p.SMS
	case ChannelWhatsApp:
		return p.WhatsApp
	}
	return ChannelPreference{}
}

// NotificationContent is what a recipient is told about a document.
type NotificationContent struct {
	Type          NotificationType `json:"type"`
	DocumentID    string           `json:"document_id"`
	DocumentTitle string           `json:"document_title"`
	Submitter     string           `json:"submitter"`
	Priority      Priority         `json:"priority"`
	DueDate       *time.Time       `json:"due_date,omitempty"`
	Link          string           `json:"link"`
	Message       string           `json:"message,omitempty"`
	// Urgent content ignores per-type sub-flags (emergency documents).
	Urgent bool `json:"urgent,omitempty"`
}
