package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftserve/drift/internal/version"
)

// SystemHandler serves liveness and build information.
type SystemHandler struct {
	startedAt time.Time
}

// NewSystemHandler creates a system handler.
func NewSystemHandler() *SystemHandler {
	return &SystemHandler{startedAt: time.Now()}
}

type healthzResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Register mounts the system routes on the router.
func (h *SystemHandler) Register(r *chi.Mux) {
	r.Get("/healthz", h.healthz)
	r.Get("/version", h.versionInfo)
}

func (h *SystemHandler) healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(healthzResponse{
		Status:        "ok",
		Version:       version.Version,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	})
}

func (h *SystemHandler) versionInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(version.GetInfo())
}
