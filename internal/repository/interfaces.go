// Package repository defines data access interfaces for drift entities.
// All database access goes through these interfaces, enabling easy testing
// and database backend switching.
package repository

import (
	"context"
	"time"

	"github.com/driftserve/drift/internal/models"
)

// MediaProfileRepository defines operations for the probe-result cache.
type MediaProfileRepository interface {
	// GetByMediaID retrieves the cached profile for a media item, or nil
	// when none exists.
	GetByMediaID(ctx context.Context, mediaID string) (*models.MediaProfileRecord, error)
	// Upsert creates or replaces the cached profile keyed by media ID.
	Upsert(ctx context.Context, rec *models.MediaProfileRecord) error
	// RecordHit bumps the cache hit counter.
	RecordHit(ctx context.Context, mediaID string) error
	// Delete removes the cached profile for a media item.
	Delete(ctx context.Context, mediaID string) error
	// DeleteExpired removes entries whose TTL passed before the given time.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// MediaHealthRepository defines operations for media health persistence.
type MediaHealthRepository interface {
	// GetByMediaID retrieves the health record for a media item, or nil
	// when none exists.
	GetByMediaID(ctx context.Context, mediaID string) (*models.MediaHealthRecord, error)
	// Upsert creates or replaces the health record keyed by media ID.
	Upsert(ctx context.Context, rec *models.MediaHealthRecord) error
	// Delete removes the health record for a media item.
	Delete(ctx context.Context, mediaID string) error
	// GetUnhealthy retrieves every record not currently healthy.
	GetUnhealthy(ctx context.Context) ([]*models.MediaHealthRecord, error)
}

// ClientRuleRepository defines operations for client capability overrides.
type ClientRuleRepository interface {
	// GetAll retrieves all override rules ordered by creation time.
	GetAll(ctx context.Context) ([]*models.ClientDetectionRule, error)
	// GetByID retrieves a rule by ID.
	GetByID(ctx context.Context, id models.ULID) (*models.ClientDetectionRule, error)
	// Create creates a new override rule.
	Create(ctx context.Context, rule *models.ClientDetectionRule) error
	// Update updates an existing override rule.
	Update(ctx context.Context, rule *models.ClientDetectionRule) error
	// Delete deletes an override rule by ID.
	Delete(ctx context.Context, id models.ULID) error
}
