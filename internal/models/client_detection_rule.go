package models

import (
	"encoding/json"
	"strings"
)

// ClientDetectionRule persists an operator-defined capability override.
// Rules are evaluated in priority order (lower priority = evaluated first)
// against the request's User-Agent; the first match merges its overrides
// into the built-in device profile.
type ClientDetectionRule struct {
	BaseModel

	// Name is a human-readable name for this rule.
	Name string `gorm:"size:255;not null" json:"name"`

	// Description provides additional details about what this rule matches.
	Description string `gorm:"size:1024" json:"description,omitempty"`

	// Tokens is a comma-separated list of lowercase substrings that must
	// all appear in the User-Agent for the rule to match.
	Tokens string `gorm:"size:512;not null" json:"tokens"`

	// Priority determines evaluation order (lower = evaluated first).
	Priority int `gorm:"default:0;index" json:"priority"`

	// IsEnabled determines if the rule is active. Pointer so "not set"
	// defaults to true while "explicitly false" survives round-trips.
	IsEnabled *bool `gorm:"default:true" json:"is_enabled"`

	// Overrides is the serialized capability override set (JSON matching
	// client.Overrides). The resolver service decodes it.
	Overrides string `gorm:"type:text;not null" json:"overrides"`
}

// TableName returns the table name for ClientDetectionRule.
func (ClientDetectionRule) TableName() string {
	return "client_detection_rules"
}

// Validate checks if the rule configuration is valid.
func (r *ClientDetectionRule) Validate() error {
	if r.Name == "" {
		return ErrValidation{Field: "name", Message: "name is required"}
	}
	if strings.TrimSpace(r.Tokens) == "" {
		return ErrValidation{Field: "tokens", Message: "at least one token is required"}
	}
	if r.Overrides == "" {
		return ErrValidation{Field: "overrides", Message: "overrides are required"}
	}
	if !json.Valid([]byte(r.Overrides)) {
		return ErrValidation{Field: "overrides", Message: "must be valid JSON"}
	}
	return nil
}

// Enabled reports whether the rule participates in matching.
func (r *ClientDetectionRule) Enabled() bool {
	return r.IsEnabled == nil || *r.IsEnabled
}

// TokenList returns the match tokens, lowercased and trimmed.
func (r *ClientDetectionRule) TokenList() []string {
	var tokens []string
	for _, t := range strings.Split(r.Tokens, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

// Matches reports whether every token appears in the lowercased
// User-Agent.
func (r *ClientDetectionRule) Matches(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	tokens := r.TokenList()
	if len(tokens) == 0 {
		return false
	}
	for _, t := range tokens {
		if !strings.Contains(ua, t) {
			return false
		}
	}
	return true
}
