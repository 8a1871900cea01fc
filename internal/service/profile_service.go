// Package service holds the business logic between the HTTP surface and
// the storage/probe layers.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/probe"
	"github.com/driftserve/drift/internal/repository"
)

const janitorInterval = time.Hour

// MediaProber is the probing surface the profile service needs.
type MediaProber interface {
	Probe(ctx context.Context, path string) (*probe.MediaProfile, error)
}

// ProfileService caches probe results keyed by media ID, invalidating on
// file fingerprint change or TTL expiry. Probing costs seconds per file;
// a cache hit costs one row read.
type ProfileService struct {
	prober MediaProber
	repo   repository.MediaProfileRepository
	ttl    time.Duration
	logger *slog.Logger
	cron   *cron.Cron
	now    func() time.Time
}

// NewProfileService creates a profile service.
func NewProfileService(cfg config.ProbeConfig, prober MediaProber, repo repository.MediaProfileRepository, logger *slog.Logger) *ProfileService {
	return &ProfileService{
		prober: prober,
		repo:   repo,
		ttl:    cfg.CacheTTL.Duration(),
		logger: observability.WithComponent(logger, "profile-service"),
		now:    time.Now,
	}
}

// GetOrProbe returns the cached profile for a media item, re-probing when
// the file on disk no longer matches the cached fingerprint, the entry
// has expired, or nothing is cached.
func (s *ProfileService) GetOrProbe(ctx context.Context, mediaID, path string) (*probe.MediaProfile, error) {
	current, err := probe.Fingerprint(path)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting %s: %w", path, err)
	}

	rec, err := s.repo.GetByMediaID(ctx, mediaID)
	if err != nil {
		observability.WithError(s.logger, err).Warn("profile cache read failed; probing",
			slog.String("media_id", mediaID))
	}
	if rec != nil && rec.Fingerprint == current && !s.expired(rec) {
		var profile probe.MediaProfile
		if uerr := json.Unmarshal(rec.Profile, &profile); uerr != nil {
			observability.WithError(s.logger, uerr).Warn("corrupt cached profile; re-probing",
				slog.String("media_id", mediaID))
		} else {
			if herr := s.repo.RecordHit(ctx, mediaID); herr != nil {
				observability.WithError(s.logger, herr).Warn("recording cache hit",
					slog.String("media_id", mediaID))
			}
			return &profile, nil
		}
	}

	return s.probeAndStore(ctx, mediaID, path)
}

func (s *ProfileService) expired(rec *models.MediaProfileRecord) bool {
	if rec.ExpiresAt == nil {
		return false
	}
	return time.Time(*rec.ExpiresAt).Before(s.now())
}

func (s *ProfileService) probeAndStore(ctx context.Context, mediaID, path string) (*probe.MediaProfile, error) {
	start := s.now()
	profile, err := s.prober.Probe(ctx, path)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(profile)
	if err != nil {
		return nil, fmt.Errorf("serializing profile: %w", err)
	}
	rec := &models.MediaProfileRecord{
		MediaID:     mediaID,
		Path:        path,
		Fingerprint: profile.Fingerprint,
		Profile:     raw,
		ProbedAt:    models.Time(start),
		ProbeMs:     time.Since(start).Milliseconds(),
	}
	if s.ttl > 0 {
		exp := models.Time(start.Add(s.ttl))
		rec.ExpiresAt = &exp
	}
	if err := s.repo.Upsert(ctx, rec); err != nil {
		// The probe result is still good; a write failure only costs the
		// next request another probe.
		observability.WithError(s.logger, err).Warn("caching profile",
			slog.String("media_id", mediaID))
	}
	return profile, nil
}

// Invalidate removes the cached profile for a media item.
func (s *ProfileService) Invalidate(ctx context.Context, mediaID string) error {
	return s.repo.Delete(ctx, mediaID)
}

// StartJanitor schedules periodic removal of expired cache entries.
func (s *ProfileService) StartJanitor() error {
	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", janitorInterval), s.Janitor); err != nil {
		return fmt.Errorf("scheduling profile janitor: %w", err)
	}
	cr.Start()
	s.cron = cr
	return nil
}

// StopJanitor stops the janitor and waits for a running pass.
func (s *ProfileService) StopJanitor() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Janitor deletes expired cache entries.
func (s *ProfileService) Janitor() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		observability.WithError(s.logger, err).Warn("profile cache janitor failed")
		return
	}
	if n > 0 {
		s.logger.Info("expired profiles removed", slog.Int64("count", n))
	}
}
