// Package health tracks per-file playback reliability. Files that keep
// failing are steered away from copy-based delivery toward a full
// transcode, and files that fail persistently are marked poison so the
// planner stops optimistic attempts entirely.
package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/repository"
)

// Tracker keeps the authoritative in-memory health state and writes every
// mutation through to the repository so poison survives restarts. Records
// load lazily on first touch.
type Tracker struct {
	cfg    config.HealthConfig
	repo   repository.MediaHealthRepository
	logger *slog.Logger

	mu      sync.Mutex
	records map[string]*models.MediaHealthRecord
	cron    *cron.Cron

	// now is swappable for tests.
	now func() time.Time
}

// NewTracker creates a tracker; call StartDecaySweep for background decay.
func NewTracker(cfg config.HealthConfig, repo repository.MediaHealthRepository, logger *slog.Logger) *Tracker {
	return &Tracker{
		cfg:     cfg,
		repo:    repo,
		logger:  observability.WithComponent(logger, "health"),
		records: make(map[string]*models.MediaHealthRecord),
		now:     time.Now,
	}
}

// RecordFailure notes a playback failure. Crossing the failure threshold
// makes the file suspect; crossing the poison threshold marks it poison.
func (t *Tracker) RecordFailure(ctx context.Context, mediaID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.loadLocked(ctx, mediaID)
	if err != nil {
		return err
	}
	t.decayLocked(rec)

	now := t.now()
	rec.Failures = append(rec.Failures, now)
	rec.FailureReason = reason
	rec.ConsecutiveSuccesses = 0
	rec.LastFailureAt = &now
	t.deriveStatusLocked(rec)

	t.logger.Info("playback failure recorded",
		slog.String("media_id", mediaID),
		slog.String("status", string(rec.Status)),
		slog.Int("failures", len(rec.Failures)),
		slog.String("reason", reason))
	return t.persistLocked(ctx, rec)
}

// RecordSuccess notes a clean playback. Rehabilitation applies only to
// suspect files: enough consecutive successes restore healthy and clear
// the failure history. Poison does not rehabilitate through successes.
func (t *Tracker) RecordSuccess(ctx context.Context, mediaID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.loadLocked(ctx, mediaID)
	if err != nil {
		return err
	}
	t.decayLocked(rec)

	now := t.now()
	rec.LastSuccessAt = &now
	if rec.Status == models.HealthStatusSuspect {
		rec.ConsecutiveSuccesses++
		if rec.ConsecutiveSuccesses >= t.cfg.RehabSuccesses {
			rec.Status = models.HealthStatusHealthy
			rec.Failures = nil
			rec.ConsecutiveSuccesses = 0
			rec.FailureReason = ""
			t.logger.Info("media rehabilitated", slog.String("media_id", mediaID))
		}
	}
	return t.persistLocked(ctx, rec)
}

// Status returns the current tier after lazy decay.
func (t *Tracker) Status(ctx context.Context, mediaID string) (models.HealthStatus, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.loadLocked(ctx, mediaID)
	if err != nil {
		return "", err
	}
	if t.decayLocked(rec) {
		if err := t.persistLocked(ctx, rec); err != nil {
			return "", err
		}
	}
	return rec.Status, nil
}

// RecommendedMode downgrades copy-based delivery for unhealthy files: a
// suspect or poison file gets a full transcode regardless of what the
// plan preferred. The reason is empty when no downgrade applied.
func (t *Tracker) RecommendedMode(ctx context.Context, mediaID string, requested planner.Mode) (planner.Mode, string, error) {
	status, err := t.Status(ctx, mediaID)
	if err != nil {
		return requested, "", err
	}
	if status == models.HealthStatusHealthy || requested == planner.ModeTranscodeHLS {
		return requested, "", nil
	}
	return planner.ModeTranscodeHLS, planner.ReasonHealthDowngrade, nil
}

// MarkPoison is the admin override: immediate poison, exempt from decay,
// cleared only via Clear.
func (t *Tracker) MarkPoison(ctx context.Context, mediaID, reason string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, err := t.loadLocked(ctx, mediaID)
	if err != nil {
		return err
	}
	rec.Status = models.HealthStatusPoison
	rec.ManualPoison = true
	rec.FailureReason = reason
	t.logger.Warn("media marked poison",
		slog.String("media_id", mediaID), slog.String("reason", reason))
	return t.persistLocked(ctx, rec)
}

// Clear is the admin reset: the record is removed entirely.
func (t *Tracker) Clear(ctx context.Context, mediaID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, mediaID)
	if err := t.repo.Delete(ctx, mediaID); err != nil {
		return fmt.Errorf("clearing health record: %w", err)
	}
	t.logger.Info("media health cleared", slog.String("media_id", mediaID))
	return nil
}

// Unhealthy lists every suspect or poison record for the admin API.
func (t *Tracker) Unhealthy(ctx context.Context) ([]*models.MediaHealthRecord, error) {
	return t.repo.GetUnhealthy(ctx)
}

// StartDecaySweep schedules a periodic pass that decays persisted records
// so files recover even when nobody plays them.
func (t *Tracker) StartDecaySweep(interval time.Duration) error {
	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", interval), t.DecaySweep); err != nil {
		return fmt.Errorf("schedule health decay sweep: %w", err)
	}
	cr.Start()

	t.mu.Lock()
	t.cron = cr
	t.mu.Unlock()
	return nil
}

// StopDecaySweep halts the sweep.
func (t *Tracker) StopDecaySweep() {
	t.mu.Lock()
	cr := t.cron
	t.cron = nil
	t.mu.Unlock()
	if cr != nil {
		<-cr.Stop().Done()
	}
}

// DecaySweep decays every unhealthy record once. Exported for the admin
// API and tests.
func (t *Tracker) DecaySweep() {
	ctx := context.Background()
	recs, err := t.repo.GetUnhealthy(ctx)
	if err != nil {
		observability.WithError(t.logger, err).Warn("health decay sweep: list failed")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range recs {
		// Prefer the in-memory copy when loaded; it is the authority.
		if mem, ok := t.records[rec.MediaID]; ok {
			rec = mem
		} else {
			t.records[rec.MediaID] = rec
		}
		if t.decayLocked(rec) {
			if err := t.persistLocked(ctx, rec); err != nil {
				observability.WithError(t.logger, err).Warn("health decay sweep: persist failed",
					slog.String("media_id", rec.MediaID))
			}
		}
	}
}

// loadLocked returns the in-memory record, pulling from the repository or
// creating a fresh healthy record on first touch.
func (t *Tracker) loadLocked(ctx context.Context, mediaID string) (*models.MediaHealthRecord, error) {
	if rec, ok := t.records[mediaID]; ok {
		return rec, nil
	}
	rec, err := t.repo.GetByMediaID(ctx, mediaID)
	if err != nil {
		return nil, fmt.Errorf("loading health record: %w", err)
	}
	if rec == nil {
		rec = &models.MediaHealthRecord{
			MediaID: mediaID,
			Status:  models.HealthStatusHealthy,
		}
	}
	t.records[mediaID] = rec
	return rec, nil
}

// decayLocked drops failures older than the decay window and re-derives
// the status. Manual poison never decays. Reports whether anything
// changed.
func (t *Tracker) decayLocked(rec *models.MediaHealthRecord) bool {
	if rec.ManualPoison {
		return false
	}
	window := t.cfg.DecayWindow.Duration()
	if window <= 0 || len(rec.Failures) == 0 {
		return false
	}

	cutoff := t.now().Add(-window)
	kept := rec.Failures[:0]
	for _, ts := range rec.Failures {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	changed := len(kept) != len(rec.Failures)
	rec.Failures = kept

	before := rec.Status
	t.deriveStatusLocked(rec)
	return changed || rec.Status != before
}

// deriveStatusLocked recomputes the tier from the failure count inside
// the window. Manual poison is sticky.
func (t *Tracker) deriveStatusLocked(rec *models.MediaHealthRecord) {
	if rec.ManualPoison {
		rec.Status = models.HealthStatusPoison
		return
	}
	switch n := len(rec.Failures); {
	case n >= t.cfg.PoisonThreshold:
		rec.Status = models.HealthStatusPoison
	case n >= t.cfg.FailureThreshold:
		rec.Status = models.HealthStatusSuspect
	default:
		rec.Status = models.HealthStatusHealthy
		rec.ConsecutiveSuccesses = 0
	}
}

func (t *Tracker) persistLocked(ctx context.Context, rec *models.MediaHealthRecord) error {
	if err := t.repo.Upsert(ctx, rec); err != nil {
		return fmt.Errorf("persisting health record: %w", err)
	}
	return nil
}
