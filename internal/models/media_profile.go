package models

import (
	"time"

	"gorm.io/gorm"
)

// MediaProfileRecord caches the technical profile discovered via ffprobe for
// one media file. The fingerprint (size + mtime) invalidates the cache when
// the underlying file changes, so a file is probed at most once per version.
type MediaProfileRecord struct {
	BaseModel

	// MediaID identifies the library item this file belongs to (unique index).
	MediaID string `gorm:"uniqueIndex;not null;size:64" json:"media_id"`

	// Path is the file path that was probed.
	Path string `gorm:"not null;size:2048" json:"path"`

	// Fingerprint is "<size>-<mtime_unix>" at probe time.
	Fingerprint string `gorm:"not null;size:64;index" json:"fingerprint"`

	// Profile is the serialized probe result (JSON).
	Profile []byte `gorm:"type:blob" json:"-"`

	// Probing metadata.
	ProbedAt Time  `gorm:"not null;index" json:"probed_at"`
	ProbeMs  int64 `json:"probe_ms,omitempty"`

	// Cache control.
	ExpiresAt *Time `gorm:"index" json:"expires_at,omitempty"`
	HitCount  int64 `gorm:"default:0" json:"hit_count"`
}

// TableName returns the table name for MediaProfileRecord.
func (MediaProfileRecord) TableName() string {
	return "media_profile_records"
}

// Validate performs basic validation on the record.
func (r *MediaProfileRecord) Validate() error {
	if r.MediaID == "" {
		return ErrMediaIDRequired
	}
	if r.Fingerprint == "" {
		return ErrFingerprintRequired
	}
	return nil
}

// BeforeCreate is a GORM hook that validates and sets defaults.
func (r *MediaProfileRecord) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if r.ProbedAt.IsZero() {
		r.ProbedAt = Now()
	}
	return r.Validate()
}

// BeforeUpdate is a GORM hook that validates before update.
func (r *MediaProfileRecord) BeforeUpdate(tx *gorm.DB) error {
	return r.Validate()
}

// IsExpired returns true if the cached profile has expired.
func (r *MediaProfileRecord) IsExpired() bool {
	if r.ExpiresAt == nil {
		return false
	}
	return time.Now().After(time.Time(*r.ExpiresAt))
}

// Matches reports whether the cached entry is still valid for the given
// fingerprint.
func (r *MediaProfileRecord) Matches(fingerprint string) bool {
	return r.Fingerprint == fingerprint && !r.IsExpired()
}

// SetExpiry sets the expiration time based on a duration from now.
func (r *MediaProfileRecord) SetExpiry(d time.Duration) {
	expires := Now().Add(d)
	r.ExpiresAt = &expires
}

// Touch increments the hit count.
func (r *MediaProfileRecord) Touch() {
	r.HitCount++
	r.UpdatedAt = Now()
}
