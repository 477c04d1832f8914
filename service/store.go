package services

import (
	"context"

	"github.com/Itish41/IAOMS/models"
)

// DocumentStore persists documents and keeps their approval cards in step.
// Update is an atomic read-modify-write: mutate sees the latest version and
// an error from it aborts the write.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, id string, mutate func(*models.Document) error) (*models.Document, error)
	Delete(ctx context.Context, id string) error
	ListBySubmitter(ctx context.Context, submitterID string) ([]models.Document, error)
	ListByRecipient(ctx context.Context, recipientID string) ([]models.ApprovalCard, error)
	ListLegacyCards(ctx context.Context) ([]models.ApprovalCard, error)
	SubscribeToChanges(ctx context.Context) (<-chan models.DocumentChange, error)
}

// UserStore reads and upserts the recipients directory.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByRole(ctx context.Context, role string) ([]models.User, error)
	Save(ctx context.Context, user *models.User) error
}

// PreferenceStore reads and writes notification preferences.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (models.NotificationPreference, error)
	Save(ctx context.Context, pref models.NotificationPreference) error
}

// EventStore is the audit log.
type EventStore interface {
	Append(ctx context.Context, event *models.DocumentEvent) error
	ListByDocument(ctx context.Context, documentID string) ([]models.DocumentEvent, error)
}
