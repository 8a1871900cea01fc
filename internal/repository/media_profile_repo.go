package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/driftserve/drift/internal/models"
)

// mediaProfileRepository implements MediaProfileRepository using GORM.
type mediaProfileRepository struct {
	db *gorm.DB
}

// NewMediaProfileRepository creates a new MediaProfileRepository.
func NewMediaProfileRepository(db *gorm.DB) MediaProfileRepository {
	return &mediaProfileRepository{db: db}
}

// GetByMediaID retrieves the cached profile for a media item, or nil when
// none exists.
func (r *mediaProfileRepository) GetByMediaID(ctx context.Context, mediaID string) (*models.MediaProfileRecord, error) {
	var rec models.MediaProfileRecord
	if err := r.db.WithContext(ctx).First(&rec, "media_id = ?", mediaID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// Upsert creates or replaces the cached profile keyed by media ID.
func (r *mediaProfileRepository) Upsert(ctx context.Context, rec *models.MediaProfileRecord) error {
	if err := rec.Validate(); err != nil {
		return fmt.Errorf("validating profile record: %w", err)
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "media_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"path", "fingerprint", "profile",
			"probed_at", "probe_ms",
			"expires_at", "hit_count",
			"updated_at",
		}),
	}).Create(rec).Error
}

// RecordHit bumps the cache hit counter without touching the payload.
func (r *mediaProfileRepository) RecordHit(ctx context.Context, mediaID string) error {
	return r.db.WithContext(ctx).
		Model(&models.MediaProfileRecord{}).
		Where("media_id = ?", mediaID).
		UpdateColumn("hit_count", gorm.Expr("hit_count + 1")).Error
}

// Delete removes the cached profile for a media item.
func (r *mediaProfileRepository) Delete(ctx context.Context, mediaID string) error {
	return r.db.WithContext(ctx).
		Where("media_id = ?", mediaID).
		Delete(&models.MediaProfileRecord{}).Error
}

// DeleteExpired removes cache entries whose TTL passed before the given
// time. Returns the number of rows removed.
func (r *mediaProfileRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", before).
		Delete(&models.MediaProfileRecord{})
	return res.RowsAffected, res.Error
}
