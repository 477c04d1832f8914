package repository

import (
	"context"
	"errors"

	"github.com/Itish41/IAOMS/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PreferenceRepository stores per-recipient notification settings.
type PreferenceRepository struct {
	db *gorm.DB
}

func NewPreferenceRepository(db *gorm.DB) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// Get returns the stored preference or the defaults when none was saved.
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (models.NotificationPreference, error) {
	var pref models.NotificationPreference
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&pref).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.DefaultNotificationPreference(userID), nil
		}
		return models.NotificationPreference{}, err
	}
	return pref, nil
}

// Save upserts the preference row.
func (r *PreferenceRepository) Save(ctx context.Context, pref models.NotificationPreference) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&pref).Error
}
