package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/driftserve/drift/internal/client"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/service"
)

// ClientRulesHandler manages capability override rules and exposes
// capability resolution for debugging.
type ClientRulesHandler struct {
	clients *service.ClientService
}

// NewClientRulesHandler creates a client rules handler.
func NewClientRulesHandler(clients *service.ClientService) *ClientRulesHandler {
	return &ClientRulesHandler{clients: clients}
}

// Register registers client rule operations with the API.
func (h *ClientRulesHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listClientRules",
		Method:      http.MethodGet,
		Path:        "/api/v1/client-rules",
		Summary:     "List capability override rules",
		Tags:        []string{"client-rules"},
	}, h.list)

	huma.Register(api, huma.Operation{
		OperationID: "createClientRule",
		Method:      http.MethodPost,
		Path:        "/api/v1/client-rules",
		Summary:     "Create a capability override rule",
		Tags:        []string{"client-rules"},
	}, h.create)

	huma.Register(api, huma.Operation{
		OperationID: "getClientRule",
		Method:      http.MethodGet,
		Path:        "/api/v1/client-rules/{id}",
		Summary:     "Get a capability override rule",
		Tags:        []string{"client-rules"},
	}, h.get)

	huma.Register(api, huma.Operation{
		OperationID: "updateClientRule",
		Method:      http.MethodPut,
		Path:        "/api/v1/client-rules/{id}",
		Summary:     "Update a capability override rule",
		Tags:        []string{"client-rules"},
	}, h.update)

	huma.Register(api, huma.Operation{
		OperationID: "deleteClientRule",
		Method:      http.MethodDelete,
		Path:        "/api/v1/client-rules/{id}",
		Summary:     "Delete a capability override rule",
		Tags:        []string{"client-rules"},
	}, h.delete)

	huma.Register(api, huma.Operation{
		OperationID: "resolveCapabilities",
		Method:      http.MethodGet,
		Path:        "/api/v1/capabilities",
		Summary:     "Resolve capabilities for a user agent",
		Description: "Shows what the planner would assume for a device, including applied override rules.",
		Tags:        []string{"client-rules"},
	}, h.resolve)
}

// ClientRuleBody is the writable part of an override rule.
type ClientRuleBody struct {
	Name        string `json:"name" minLength:"1"`
	Description string `json:"description,omitempty"`
	Tokens      string `json:"tokens" minLength:"1" doc:"Comma-separated user-agent substrings; all must match"`
	Priority    int    `json:"priority" doc:"Lower evaluates first"`
	IsEnabled   bool   `json:"is_enabled"`
	Overrides   string `json:"overrides" minLength:"2" doc:"JSON capability overrides"`
}

// ClientRuleListOutput lists rules.
type ClientRuleListOutput struct {
	Body struct {
		Rules []*models.ClientDetectionRule `json:"rules"`
	}
}

// ClientRuleOutput returns one rule.
type ClientRuleOutput struct {
	Body *models.ClientDetectionRule
}

func (h *ClientRulesHandler) list(ctx context.Context, _ *struct{}) (*ClientRuleListOutput, error) {
	rules, err := h.clients.Rules(ctx)
	if err != nil {
		return nil, err
	}
	out := &ClientRuleListOutput{}
	out.Body.Rules = rules
	if out.Body.Rules == nil {
		out.Body.Rules = []*models.ClientDetectionRule{}
	}
	return out, nil
}

// CreateClientRuleInput creates a rule.
type CreateClientRuleInput struct {
	Body ClientRuleBody
}

func ruleFromBody(b ClientRuleBody) *models.ClientDetectionRule {
	enabled := b.IsEnabled
	return &models.ClientDetectionRule{
		Name:        b.Name,
		Description: b.Description,
		Tokens:      b.Tokens,
		Priority:    b.Priority,
		IsEnabled:   &enabled,
		Overrides:   b.Overrides,
	}
}

func ruleError(err error) error {
	var verr models.ErrValidation
	if errors.As(err, &verr) {
		return huma.Error422UnprocessableEntity(verr.Error())
	}
	return err
}

func (h *ClientRulesHandler) create(ctx context.Context, input *CreateClientRuleInput) (*ClientRuleOutput, error) {
	rule := ruleFromBody(input.Body)
	if err := h.clients.CreateRule(ctx, rule); err != nil {
		return nil, ruleError(err)
	}
	return &ClientRuleOutput{Body: rule}, nil
}

// ClientRuleIDInput selects a rule by path.
type ClientRuleIDInput struct {
	ID string `path:"id"`
}

func (h *ClientRulesHandler) get(ctx context.Context, input *ClientRuleIDInput) (*ClientRuleOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid rule id")
	}
	rule, err := h.clients.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, huma.Error404NotFound("client rule not found")
	}
	return &ClientRuleOutput{Body: rule}, nil
}

// UpdateClientRuleInput updates a rule.
type UpdateClientRuleInput struct {
	ID   string `path:"id"`
	Body ClientRuleBody
}

func (h *ClientRulesHandler) update(ctx context.Context, input *UpdateClientRuleInput) (*ClientRuleOutput, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid rule id")
	}
	existing, err := h.clients.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, huma.Error404NotFound("client rule not found")
	}

	rule := ruleFromBody(input.Body)
	rule.ID = existing.ID
	rule.CreatedAt = existing.CreatedAt
	if err := h.clients.UpdateRule(ctx, rule); err != nil {
		return nil, ruleError(err)
	}
	return &ClientRuleOutput{Body: rule}, nil
}

func (h *ClientRulesHandler) delete(ctx context.Context, input *ClientRuleIDInput) (*struct{}, error) {
	id, err := models.ParseULID(input.ID)
	if err != nil {
		return nil, huma.Error422UnprocessableEntity("invalid rule id")
	}
	if err := h.clients.DeleteRule(ctx, id); err != nil {
		return nil, err
	}
	return &struct{}{}, nil
}

// ResolveCapabilitiesInput resolves for a user agent, taken from the
// query when present so resolution for other devices can be inspected.
type ResolveCapabilitiesInput struct {
	UserAgent string `header:"User-Agent"`
	Query     string `query:"user_agent"`
}

// ResolveCapabilitiesOutput carries the resolved matrix.
type ResolveCapabilitiesOutput struct {
	Body *client.Capabilities
}

func (h *ClientRulesHandler) resolve(ctx context.Context, input *ResolveCapabilitiesInput) (*ResolveCapabilitiesOutput, error) {
	ua := input.Query
	if ua == "" {
		ua = input.UserAgent
	}
	caps, err := h.clients.Resolve(ctx, ua)
	if err != nil {
		return nil, err
	}
	return &ResolveCapabilitiesOutput{Body: caps}, nil
}
