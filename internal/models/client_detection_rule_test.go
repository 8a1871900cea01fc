package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRule() *ClientDetectionRule {
	return &ClientDetectionRule{
		Name:      "Samsung TV",
		Tokens:    "SmartTV, Tizen",
		Overrides: `{"video_codecs":{"hevc":{"max_level":153}}}`,
	}
}

func TestClientDetectionRuleValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*ClientDetectionRule)
		wantErr string
	}{
		{
			name:   "valid rule",
			mutate: func(*ClientDetectionRule) {},
		},
		{
			name:    "missing name",
			mutate:  func(r *ClientDetectionRule) { r.Name = "" },
			wantErr: "name",
		},
		{
			name:    "blank tokens",
			mutate:  func(r *ClientDetectionRule) { r.Tokens = "  " },
			wantErr: "tokens",
		},
		{
			name:    "empty overrides",
			mutate:  func(r *ClientDetectionRule) { r.Overrides = "" },
			wantErr: "overrides",
		},
		{
			name:    "invalid override JSON",
			mutate:  func(r *ClientDetectionRule) { r.Overrides = `{broken` },
			wantErr: "overrides",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := validRule()
			tt.mutate(rule)
			err := rule.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var verr ErrValidation
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Field)
		})
	}
}

func TestClientDetectionRuleTokenList(t *testing.T) {
	rule := &ClientDetectionRule{Tokens: " SmartTV ,Tizen,, roku "}
	assert.Equal(t, []string{"smarttv", "tizen", "roku"}, rule.TokenList())
}

func TestClientDetectionRuleMatches(t *testing.T) {
	rule := validRule()

	assert.True(t, rule.Matches("Mozilla/5.0 (SMART-TV; Linux; Tizen 6.0)"))
	assert.False(t, rule.Matches("Mozilla/5.0 (SMART-TV; Linux; WebOS)"), "all tokens must appear")
	assert.False(t, rule.Matches(""))

	blank := &ClientDetectionRule{Name: "r", Tokens: " , "}
	assert.False(t, blank.Matches("anything"), "no tokens never matches")
}

func TestClientDetectionRuleEnabled(t *testing.T) {
	rule := validRule()
	assert.True(t, rule.Enabled(), "nil defaults to enabled")

	rule.IsEnabled = BoolPtr(false)
	assert.False(t, rule.Enabled())

	rule.IsEnabled = BoolPtr(true)
	assert.True(t, rule.Enabled())
}
