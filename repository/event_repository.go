package repository

import (
	"context"

	"github.com/Itish41/IAOMS/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EventRepository is the append-only audit log of domain events.
type EventRepository struct {
	db *gorm.DB
}

func NewEventRepository(db *gorm.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append stores one event.
func (r *EventRepository) Append(ctx context.Context, event *models.DocumentEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

// ListByDocument returns a document's history, oldest first.
func (r *EventRepository) ListByDocument(ctx context.Context, documentID string) ([]models.DocumentEvent, error) {
	var events []models.DocumentEvent
	err := r.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("created_at ASC").
		Find(&events).Error
	return events, err
}
