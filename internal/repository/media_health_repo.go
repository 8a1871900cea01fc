package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/driftserve/drift/internal/models"
)

// mediaHealthRepository implements MediaHealthRepository using GORM.
type mediaHealthRepository struct {
	db *gorm.DB
}

// NewMediaHealthRepository creates a new MediaHealthRepository.
func NewMediaHealthRepository(db *gorm.DB) MediaHealthRepository {
	return &mediaHealthRepository{db: db}
}

// GetByMediaID retrieves the health record for a media item, or nil when
// none exists.
func (r *mediaHealthRepository) GetByMediaID(ctx context.Context, mediaID string) (*models.MediaHealthRecord, error) {
	var rec models.MediaHealthRecord
	if err := r.db.WithContext(ctx).First(&rec, "media_id = ?", mediaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert creates or replaces the health record keyed by media ID.
func (r *mediaHealthRepository) Upsert(ctx context.Context, rec *models.MediaHealthRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validating health record: %w", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "media_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "failures", "failure_reason",
			"consecutive_successes", "manual_poison",
			"last_failure_at", "last_success_at",
			"updated_at",
		}),
	}).Create(rec).Error
}

// Delete removes the health record for a media item.
func (r *mediaHealthRepository) Delete(ctx context.Context, mediaID string) error {
	return r.db.WithContext(ctx).
		Where("media_id = ?", mediaID).
		Delete(&models.MediaHealthRecord{}).Error
}

// GetUnhealthy retrieves every record not currently healthy, for the
// admin listing and the decay sweep.
func (r *mediaHealthRepository) GetUnhealthy(ctx context.Context) ([]*models.MediaHealthRecord, error) {
	var recs []*models.MediaHealthRecord
	if err := r.db.WithContext(ctx).
		Where("status <> ?", models.HealthStatusHealthy).
		Order("updated_at DESC").
		Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}
