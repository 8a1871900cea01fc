package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// HealthStatus is the per-file playback health tier.
type HealthStatus string

const (
	HealthStatusHealthy HealthStatus = "healthy"
	HealthStatusSuspect HealthStatus = "suspect"
	HealthStatusPoison  HealthStatus = "poison"
)

// IsValid returns true for a known health status.
func (s HealthStatus) IsValid() bool {
	switch s {
	case HealthStatusHealthy, HealthStatusSuspect, HealthStatusPoison:
		return true
	}
	return false
}

// FailureTimes is a JSON-encoded list of failure timestamps.
type FailureTimes []time.Time

// Value implements driver.Valuer for database storage.
func (f FailureTimes) Value() (driver.Value, error) {
	if len(f) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("marshaling failure times: %w", err)
	}
	return string(data), nil
}

// Scan implements sql.Scanner for database retrieval.
func (f *FailureTimes) Scan(value any) error {
	if value == nil {
		*f = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported type for FailureTimes: %T", value)
	}
	if len(data) == 0 {
		*f = nil
		return nil
	}
	return json.Unmarshal(data, f)
}

// MediaHealthRecord persists playback health state for one media file so
// poison status survives restarts. The tracker owns the threshold and decay
// math; this record is just its durable form.
type MediaHealthRecord struct {
	BaseModel

	// MediaID identifies the library item (unique index).
	MediaID string `gorm:"uniqueIndex;not null;size:64" json:"media_id"`

	Status HealthStatus `gorm:"not null;size:16;default:healthy" json:"status"`

	// Failures holds the timestamps of failures inside the decay window.
	Failures FailureTimes `gorm:"type:text" json:"failures"`

	// FailureReason is the most recent failure description.
	FailureReason string `gorm:"size:500" json:"failure_reason,omitempty"`

	// ConsecutiveSuccesses counts successes since the last failure.
	ConsecutiveSuccesses int `gorm:"default:0" json:"consecutive_successes"`

	// ManualPoison marks records poisoned by an administrator; these do not
	// decay back to healthy.
	ManualPoison bool `gorm:"default:false" json:"manual_poison"`

	LastFailureAt *Time `json:"last_failure_at,omitempty"`
	LastSuccessAt *Time `json:"last_success_at,omitempty"`
}

// TableName returns the table name for MediaHealthRecord.
func (MediaHealthRecord) TableName() string {
	return "media_health_records"
}

// Validate performs basic validation on the record.
func (r *MediaHealthRecord) Validate() error {
	if r.MediaID == "" {
		return ErrMediaIDRequired
	}
	if !r.Status.IsValid() {
		return ErrInvalidHealthStatus
	}
	return nil
}

// BeforeCreate is a GORM hook that validates and sets defaults.
func (r *MediaHealthRecord) BeforeCreate(tx *gorm.DB) error {
	if err := r.BaseModel.BeforeCreate(tx); err != nil {
		return err
	}
	if r.Status == "" {
		r.Status = HealthStatusHealthy
	}
	return r.Validate()
}

// BeforeUpdate is a GORM hook that validates before update.
func (r *MediaHealthRecord) BeforeUpdate(tx *gorm.DB) error {
	return r.Validate()
}
