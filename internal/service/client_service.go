package service

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/driftserve/drift/internal/client"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/repository"
)

// ClientService resolves user agents to capabilities, layering
// admin-defined override rules over the built-in device table. Rules are
// evaluated in priority order; the first enabled match contributes its
// overrides.
type ClientService struct {
	repo   repository.ClientRuleRepository
	logger *slog.Logger
}

// NewClientService creates a client capability service.
func NewClientService(repo repository.ClientRuleRepository, logger *slog.Logger) *ClientService {
	return &ClientService{
		repo:   repo,
		logger: observability.WithComponent(logger, "client-service"),
	}
}

// Resolve maps a user agent to capabilities. Resolution never fails:
// rule lookup errors fall back to the built-in table alone.
func (s *ClientService) Resolve(ctx context.Context, userAgent string) (*client.Capabilities, error) {
	caps := client.Resolve(userAgent)

	rules, err := s.repo.GetAll(ctx)
	if err != nil {
		observability.WithError(s.logger, err).Warn("loading client rules; using built-in table only")
		return caps, nil
	}
	for _, rule := range rules {
		if !rule.Enabled() || !rule.Matches(userAgent) {
			continue
		}
		var overrides client.Overrides
		if err := json.Unmarshal([]byte(rule.Overrides), &overrides); err != nil {
			observability.WithError(s.logger, err).Warn("skipping rule with bad overrides",
				slog.String("rule", rule.Name))
			continue
		}
		caps = client.Merge(caps, &overrides)
		s.logger.Debug("client rule applied",
			slog.String("rule", rule.Name),
			slog.String("device", caps.Device))
		break
	}
	return caps, nil
}

// Rules lists every override rule.
func (s *ClientService) Rules(ctx context.Context) ([]*models.ClientDetectionRule, error) {
	return s.repo.GetAll(ctx)
}

// GetRule fetches one rule, nil when absent.
func (s *ClientService) GetRule(ctx context.Context, id models.ULID) (*models.ClientDetectionRule, error) {
	return s.repo.GetByID(ctx, id)
}

// CreateRule validates and stores a new override rule.
func (s *ClientService) CreateRule(ctx context.Context, rule *models.ClientDetectionRule) error {
	return s.repo.Create(ctx, rule)
}

// UpdateRule validates and updates an override rule.
func (s *ClientService) UpdateRule(ctx context.Context, rule *models.ClientDetectionRule) error {
	return s.repo.Update(ctx, rule)
}

// DeleteRule removes an override rule.
func (s *ClientService) DeleteRule(ctx context.Context, id models.ULID) error {
	return s.repo.Delete(ctx, id)
}
