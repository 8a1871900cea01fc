// Package handlers provides the HTTP API handlers for drift.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/driftserve/drift/internal/admission"
	"github.com/driftserve/drift/internal/http/middleware"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/session"
)

// SessionsHandler exposes the playback session lifecycle.
type SessionsHandler struct {
	manager *session.Manager
}

// NewSessionsHandler creates a sessions handler.
func NewSessionsHandler(manager *session.Manager) *SessionsHandler {
	return &SessionsHandler{manager: manager}
}

// PlanSummary is the client-facing slice of a playback plan.
type PlanSummary struct {
	Mode        string   `json:"mode" doc:"Playback mode, direct through transcode_hls"`
	Transport   string   `json:"transport" enum:"range,hls"`
	Container   string   `json:"container"`
	VideoAction string   `json:"video_action" enum:"copy,encode"`
	AudioAction string   `json:"audio_action,omitempty" enum:"copy,encode"`
	ReasonCodes []string `json:"reason_codes,omitempty" doc:"Why playback deviates from direct play"`
	CacheKey    string   `json:"cache_key"`
}

func summarize(p *planner.PlaybackPlan) PlanSummary {
	s := PlanSummary{
		Mode:        p.Mode.String(),
		Transport:   string(p.Transport),
		Container:   p.Container,
		VideoAction: string(p.Video.Action),
		ReasonCodes: p.ReasonCodes,
		CacheKey:    p.CacheKey,
	}
	if p.Audio != nil {
		s.AudioAction = string(p.Audio.Action)
	}
	return s
}

// CreateSessionInput is the request to start playback.
type CreateSessionInput struct {
	UserAgent string `header:"User-Agent"`
	Body      struct {
		MediaID   string `json:"media_id" minLength:"1" doc:"Library identifier for the media item"`
		MediaPath string `json:"media_path" minLength:"1" doc:"Filesystem path of the media file"`

		StartSeconds       float64 `json:"start_seconds,omitempty" minimum:"0"`
		AudioLanguage      string  `json:"audio_language,omitempty" doc:"ISO 639 language for audio track selection"`
		SubtitleLanguage   string  `json:"subtitle_language,omitempty"`
		WantSubtitles      bool    `json:"want_subtitles,omitempty"`
		MaxHeight          int     `json:"max_height,omitempty" minimum:"0"`
		MaxVideoBitRate    int     `json:"max_video_bit_rate,omitempty" minimum:"0"`
		Speed              float64 `json:"speed,omitempty" doc:"Playback rate, 0 or 1 for native"`
		AudioNormalization string  `json:"audio_normalization,omitempty" enum:",standard,night"`
		Priority           string  `json:"priority,omitempty" enum:",interactive,normal,background"`
	}
}

// SessionOutput describes one session.
type SessionOutput struct {
	Body SessionResponse
}

// SessionResponse is the session representation returned by the API.
type SessionResponse struct {
	ID        string      `json:"id"`
	MediaID   string      `json:"media_id"`
	Plan      PlanSummary `json:"plan"`
	StreamURL string      `json:"stream_url" doc:"Master playlist for HLS, media URL for range delivery"`
	Position  float64     `json:"position_secs"`
	Epoch     int         `json:"epoch"`
	Failed    bool        `json:"failed"`
}

func (h *SessionsHandler) sessionResponse(s *session.Session) SessionResponse {
	st := s.Snapshot()
	plan := s.Plan()
	url := fmt.Sprintf("/stream/%s/media", s.ID)
	if plan.Mode.IsHLS() {
		url = fmt.Sprintf("/stream/%s/master.m3u8", s.ID)
	}
	return SessionResponse{
		ID:        s.ID,
		MediaID:   s.MediaID,
		Plan:      summarize(plan),
		StreamURL: url,
		Position:  st.Position,
		Epoch:     st.Epoch,
		Failed:    st.Failed,
	}
}

// sessionError maps domain errors onto HTTP status codes.
func sessionError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return huma.Error404NotFound("session not found")
	case errors.Is(err, session.ErrSessionEnded):
		return huma.Error410Gone("session already ended")
	case errors.Is(err, planner.ErrNoVideoStream):
		return huma.Error422UnprocessableEntity("media has no video stream")
	case errors.Is(err, admission.ErrQueueFull),
		errors.Is(err, admission.ErrDiskCritical),
		errors.Is(err, admission.ErrDiskPressure),
		errors.Is(err, admission.ErrTimedOut):
		return huma.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}

// Register registers session operations with the API.
func (h *SessionsHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "createSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions",
		Summary:     "Start a playback session",
		Tags:        []string{"sessions"},
	}, h.create)

	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List active sessions",
		Tags:        []string{"sessions"},
	}, h.list)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get a session",
		Tags:        []string{"sessions"},
	}, h.get)

	huma.Register(api, huma.Operation{
		OperationID: "seekSession",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/seek",
		Summary:     "Seek within a session",
		Tags:        []string{"sessions"},
	}, h.seek)

	huma.Register(api, huma.Operation{
		OperationID: "switchAudioTrack",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/audio-track",
		Summary:     "Switch the audio track",
		Tags:        []string{"sessions"},
	}, h.switchAudio)

	huma.Register(api, huma.Operation{
		OperationID: "switchSubtitles",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/subtitles",
		Summary:     "Change subtitle selection",
		Tags:        []string{"sessions"},
	}, h.switchSubtitles)

	huma.Register(api, huma.Operation{
		OperationID: "sessionHeartbeat",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/heartbeat",
		Summary:     "Report client liveness and position",
		Tags:        []string{"sessions"},
	}, h.heartbeat)

	huma.Register(api, huma.Operation{
		OperationID: "endSession",
		Method:      http.MethodDelete,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "End a session",
		Tags:        []string{"sessions"},
	}, h.end)
}

func (h *SessionsHandler) create(ctx context.Context, input *CreateSessionInput) (*SessionOutput, error) {
	// Playback requests default to interactive; batch callers opt into
	// lower priorities explicitly.
	priority := admission.PriorityInteractive
	if input.Body.Priority != "" {
		priority = admission.ParsePriority(input.Body.Priority)
	}

	s, err := h.manager.Create(ctx, session.CreateRequest{
		MediaID:      input.Body.MediaID,
		MediaPath:    input.Body.MediaPath,
		UserAgent:    input.UserAgent,
		Priority:     priority,
		StartSeconds: input.Body.StartSeconds,
		Prefs: planner.Preferences{
			AudioLanguage:      input.Body.AudioLanguage,
			SubtitleLanguage:   input.Body.SubtitleLanguage,
			WantSubtitles:      input.Body.WantSubtitles,
			MaxHeight:          input.Body.MaxHeight,
			MaxVideoBitRate:    input.Body.MaxVideoBitRate,
			Speed:              input.Body.Speed,
			AudioNormalization: input.Body.AudioNormalization,
			Remote:             middleware.IsRemote(ctx),
		},
	})
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionResponse(s)}, nil
}

// SessionIDInput selects a session by path.
type SessionIDInput struct {
	ID string `path:"id"`
}

func (h *SessionsHandler) get(_ context.Context, input *SessionIDInput) (*SessionOutput, error) {
	s, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionResponse(s)}, nil
}

// SessionListOutput lists session snapshots.
type SessionListOutput struct {
	Body struct {
		Sessions []session.Status `json:"sessions"`
	}
}

func (h *SessionsHandler) list(_ context.Context, _ *struct{}) (*SessionListOutput, error) {
	out := &SessionListOutput{}
	out.Body.Sessions = h.manager.List()
	if out.Body.Sessions == nil {
		out.Body.Sessions = []session.Status{}
	}
	return out, nil
}

// SeekInput is a seek request.
type SeekInput struct {
	ID   string `path:"id"`
	Body struct {
		PositionSeconds float64 `json:"position_secs" minimum:"0"`
	}
}

func (h *SessionsHandler) seek(ctx context.Context, input *SeekInput) (*SessionOutput, error) {
	if err := h.manager.Seek(ctx, input.ID, input.Body.PositionSeconds); err != nil {
		return nil, sessionError(err)
	}
	s, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionResponse(s)}, nil
}

// AudioTrackInput selects an audio language.
type AudioTrackInput struct {
	ID   string `path:"id"`
	Body struct {
		Language string `json:"language" minLength:"1"`
	}
}

func (h *SessionsHandler) switchAudio(ctx context.Context, input *AudioTrackInput) (*SessionOutput, error) {
	if err := h.manager.SwitchAudio(ctx, input.ID, input.Body.Language); err != nil {
		return nil, sessionError(err)
	}
	s, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionResponse(s)}, nil
}

// SubtitlesInput changes subtitle selection.
type SubtitlesInput struct {
	ID   string `path:"id"`
	Body struct {
		Language string `json:"language,omitempty"`
		Enabled  bool   `json:"enabled"`
	}
}

func (h *SessionsHandler) switchSubtitles(ctx context.Context, input *SubtitlesInput) (*SessionOutput, error) {
	if err := h.manager.SwitchSubtitles(ctx, input.ID, input.Body.Language, input.Body.Enabled); err != nil {
		return nil, sessionError(err)
	}
	s, err := h.manager.Get(input.ID)
	if err != nil {
		return nil, sessionError(err)
	}
	return &SessionOutput{Body: h.sessionResponse(s)}, nil
}

// HeartbeatInput reports liveness.
type HeartbeatInput struct {
	ID   string `path:"id"`
	Body struct {
		PositionSeconds float64 `json:"position_secs,omitempty" minimum:"0"`
	}
}

// HeartbeatOutput acknowledges a heartbeat.
type HeartbeatOutput struct {
	Body struct {
		OK bool `json:"ok"`
	}
}

func (h *SessionsHandler) heartbeat(_ context.Context, input *HeartbeatInput) (*HeartbeatOutput, error) {
	if err := h.manager.Heartbeat(input.ID, input.Body.PositionSeconds); err != nil {
		return nil, sessionError(err)
	}
	out := &HeartbeatOutput{}
	out.Body.OK = true
	return out, nil
}

func (h *SessionsHandler) end(ctx context.Context, input *SessionIDInput) (*struct{}, error) {
	if err := h.manager.End(ctx, input.ID); err != nil {
		return nil, sessionError(err)
	}
	return &struct{}{}, nil
}
