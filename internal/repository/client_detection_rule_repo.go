// Package repository provides data access implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/driftserve/drift/internal/models"
)

// clientRuleRepository implements ClientRuleRepository using GORM.
type clientRuleRepository struct {
	db *gorm.DB
}

// NewClientRuleRepository creates a new ClientRuleRepository.
func NewClientRuleRepository(db *gorm.DB) ClientRuleRepository {
	return &clientRuleRepository{db: db}
}

// GetAll retrieves all override rules, evaluation order first.
func (r *clientRuleRepository) GetAll(ctx context.Context) ([]*models.ClientDetectionRule, error) {
	var rules []*models.ClientDetectionRule
	if err := r.db.WithContext(ctx).
		Order("priority ASC, created_at ASC").
		Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

// GetByID retrieves an override rule by ID, or nil when none exists.
func (r *clientRuleRepository) GetByID(ctx context.Context, id models.ULID) (*models.ClientDetectionRule, error) {
	var rule models.ClientDetectionRule
	if err := r.db.WithContext(ctx).First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &rule, nil
}

// Create creates a new override rule.
func (r *clientRuleRepository) Create(ctx context.Context, rule *models.ClientDetectionRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("validating rule: %w", err)
	}
	return r.db.WithContext(ctx).Create(rule).Error
}

// Update updates an existing override rule.
func (r *clientRuleRepository) Update(ctx context.Context, rule *models.ClientDetectionRule) error {
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("validating rule: %w", err)
	}
	return r.db.WithContext(ctx).Save(rule).Error
}

// Delete deletes an override rule by ID.
func (r *clientRuleRepository) Delete(ctx context.Context, id models.ULID) error {
	return r.db.WithContext(ctx).Delete(&models.ClientDetectionRule{}, "id = ?", id).Error
}
