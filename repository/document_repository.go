package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Itish41/IAOMS/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DocumentRepository persists documents and their approval cards in Postgres.
type DocumentRepository struct {
	db  *gorm.DB
	dsn string
	log *zap.Logger
}

// NewDocumentRepository creates the repository. dsn is only used by the
// change feed listener and may be empty when the feed is not needed.
func NewDocumentRepository(db *gorm.DB, dsn string, log *zap.Logger) *DocumentRepository {
	return &DocumentRepository{db: db, dsn: dsn, log: log}
}

// Create inserts doc and its approval card in one transaction.
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) (*models.Document, error) {
	created := doc.Clone()
	if created.ID == "" {
		created.ID = uuid.NewString()
	}
	created.Version = 1

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(created).Error; err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		return syncCard(tx, created)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Get loads a document by id.
func (r *DocumentRepository) Get(ctx context.Context, id string) (*models.Document, error) {
	var doc models.Document
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// Update locks the row, applies mutate to a copy and writes it back if the
// version did not move. The approval card is rewritten in the same
// transaction. Errors returned by mutate abort the update unchanged.
func (r *DocumentRepository) Update(ctx context.Context, id string, mutate func(*models.Document) error) (*models.Document, error) {
	var updated *models.Document
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current models.Document
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&current).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		next := current.Clone()
		if err := mutate(next); err != nil {
			return err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt
		next.Version = current.Version + 1
		next.UpdatedAt = time.Now()

		res := tx.Model(&models.Document{}).
			Where("id = ? AND version = ?", id, current.Version).
			Select("*").
			Omit("id", "created_at").
			Updates(next)
		if res.Error != nil {
			return fmt.Errorf("failed to update document: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		if err := syncCard(tx, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Delete removes the document; its card goes with it through the foreign key.
func (r *DocumentRepository) Delete(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Document{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// ListBySubmitter returns the submitter's documents, newest first.
func (r *DocumentRepository) ListBySubmitter(ctx context.Context, submitterID string) ([]models.Document, error) {
	var docs []models.Document
	err := r.db.WithContext(ctx).
		Where("submitter_id = ?", submitterID).
		Order("created_at DESC").
		Find(&docs).Error
	return docs, err
}

// ListByRecipient returns the cards naming recipientID among the people who may act now.
func (r *DocumentRepository) ListByRecipient(ctx context.Context, recipientID string) ([]models.ApprovalCard, error) {
	var cards []models.ApprovalCard
	err := r.db.WithContext(ctx).
		Where("? = ANY(recipient_ids)", recipientID).
		Order("created_at DESC").
		Find(&cards).Error
	return cards, err
}

// ListLegacyCards returns cards that carry labels only, for fallback matching.
func (r *DocumentRepository) ListLegacyCards(ctx context.Context) ([]models.ApprovalCard, error) {
	var cards []models.ApprovalCard
	err := r.db.WithContext(ctx).
		Where("recipient_ids IS NULL OR cardinality(recipient_ids) = 0").
		Order("created_at DESC").
		Find(&cards).Error
	return cards, err
}

// SubscribeToChanges listens on the document_changes NOTIFY channel until ctx is done.
func (r *DocumentRepository) SubscribeToChanges(ctx context.Context) (<-chan models.DocumentChange, error) {
	if r.dsn == "" {
		return nil, fmt.Errorf("change feed requires a database connection string")
	}

	listener := pq.NewListener(r.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			r.log.Warn("document change listener", zap.Int("event", int(ev)), zap.Error(err))
		}
	})
	if err := listener.Listen(changeChannel); err != nil {
		listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", changeChannel, err)
	}

	out := make(chan models.DocumentChange, 64)
	go func() {
		defer close(out)
		defer listener.Close()

		ticker := time.NewTicker(90 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case n := <-listener.Notify:
				// nil after a reconnect
				if n == nil {
					continue
				}
				var change models.DocumentChange
				if err := json.Unmarshal([]byte(n.Extra), &change); err != nil {
					r.log.Warn("malformed document change payload", zap.String("payload", n.Extra), zap.Error(err))
					continue
				}
				select {
				case out <- change:
				case <-ctx.Done():
					return
				}
			case <-ticker.C:
				go listener.Ping()
			}
		}
	}()
	return out, nil
}

func syncCard(tx *gorm.DB, doc *models.Document) error {
	card, keep := models.CardFor(doc)
	if !keep {
		if err := tx.Where("tracking_card_id = ?", doc.ID).Delete(&models.ApprovalCard{}).Error; err != nil {
			return fmt.Errorf("failed to remove approval card: %w", err)
		}
		return nil
	}

	card.ID = uuid.NewString()
	err := tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tracking_card_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"title", "type", "submitter_id", "submitter", "priority", "description",
			"recipients", "recipient_ids", "status", "updated_at",
		}),
	}).Create(&card).Error
	if err != nil {
		return fmt.Errorf("failed to write approval card: %w", err)
	}
	return nil
}
