package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/driftserve/drift/internal/health"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/planner"
)

// MediaHealthHandler exposes the media health tracker for inspection and
// manual intervention.
type MediaHealthHandler struct {
	tracker *health.Tracker
}

// NewMediaHealthHandler creates a media health handler.
func NewMediaHealthHandler(tracker *health.Tracker) *MediaHealthHandler {
	return &MediaHealthHandler{tracker: tracker}
}

// Register registers media health operations with the API.
func (h *MediaHealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getMediaHealth",
		Method:      http.MethodGet,
		Path:        "/api/v1/media/{id}/health",
		Summary:     "Get a media item's health status",
		Tags:        []string{"media-health"},
	}, h.get)

	huma.Register(api, huma.Operation{
		OperationID: "clearMediaHealth",
		Method:      http.MethodPost,
		Path:        "/api/v1/media/{id}/health/clear",
		Summary:     "Reset a media item to healthy",
		Tags:        []string{"media-health"},
	}, h.clear)

	huma.Register(api, huma.Operation{
		OperationID: "poisonMedia",
		Method:      http.MethodPost,
		Path:        "/api/v1/media/{id}/health/poison",
		Summary:     "Manually poison a media item",
		Description: "A manual poison never decays and survives successful sessions; only an explicit clear removes it.",
		Tags:        []string{"media-health"},
	}, h.poison)

	huma.Register(api, huma.Operation{
		OperationID: "listUnhealthyMedia",
		Method:      http.MethodGet,
		Path:        "/api/v1/media/health/unhealthy",
		Summary:     "List media items that are not healthy",
		Tags:        []string{"media-health"},
	}, h.unhealthy)
}

// MediaIDInput selects a media item by path.
type MediaIDInput struct {
	ID string `path:"id"`
}

// MediaHealthOutput reports one media item's health.
type MediaHealthOutput struct {
	Body MediaHealthResponse
}

// MediaHealthResponse is the health representation returned by the API.
type MediaHealthResponse struct {
	MediaID string `json:"media_id"`
	Status  string `json:"status" enum:"healthy,suspect,poison"`
	// RecommendedMode is how an unhealthy file would be delivered: full
	// transcode instead of copy-based modes. Omitted for healthy files.
	RecommendedMode string `json:"recommended_mode,omitempty"`
}

func (h *MediaHealthHandler) get(ctx context.Context, input *MediaIDInput) (*MediaHealthOutput, error) {
	status, err := h.tracker.Status(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	resp := MediaHealthResponse{
		MediaID: input.ID,
		Status:  string(status),
	}
	if mode, reason, err := h.tracker.RecommendedMode(ctx, input.ID, planner.ModeDirect); err == nil && reason != "" {
		resp.RecommendedMode = mode.String()
	}
	return &MediaHealthOutput{Body: resp}, nil
}

func (h *MediaHealthHandler) clear(ctx context.Context, input *MediaIDInput) (*MediaHealthOutput, error) {
	if err := h.tracker.Clear(ctx, input.ID); err != nil {
		return nil, err
	}
	return &MediaHealthOutput{Body: MediaHealthResponse{
		MediaID: input.ID,
		Status:  string(models.HealthStatusHealthy),
	}}, nil
}

// PoisonInput marks media as permanently failing.
type PoisonInput struct {
	ID   string `path:"id"`
	Body struct {
		Reason string `json:"reason" minLength:"1" doc:"Why this media is being poisoned"`
	}
}

func (h *MediaHealthHandler) poison(ctx context.Context, input *PoisonInput) (*MediaHealthOutput, error) {
	if err := h.tracker.MarkPoison(ctx, input.ID, input.Body.Reason); err != nil {
		return nil, err
	}
	return &MediaHealthOutput{Body: MediaHealthResponse{
		MediaID: input.ID,
		Status:  string(models.HealthStatusPoison),
	}}, nil
}

// UnhealthyListOutput lists unhealthy media records.
type UnhealthyListOutput struct {
	Body struct {
		Media []*models.MediaHealthRecord `json:"media"`
	}
}

func (h *MediaHealthHandler) unhealthy(ctx context.Context, _ *struct{}) (*UnhealthyListOutput, error) {
	records, err := h.tracker.Unhealthy(ctx)
	if err != nil {
		return nil, err
	}
	out := &UnhealthyListOutput{}
	out.Body.Media = records
	if out.Body.Media == nil {
		out.Body.Media = []*models.MediaHealthRecord{}
	}
	return out, nil
}
