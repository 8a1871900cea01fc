package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/session"
)

const (
	playlistContentType = "application/vnd.apple.mpegurl"
	initContentType     = "video/mp4"
	segmentContentType  = "video/iso.segment"

	segmentWaitPoll = 100 * time.Millisecond
)

// segmentWait bounds how long a segment request waits for the encoder
// to produce the file. Players land here when they read ahead of a live
// transcode; a short wait beats an error-and-retry loop. Variable so
// tests can shorten it.
var segmentWait = 10 * time.Second

// StreamHandler serves playlists, segments, and range-delivered media.
// These routes bypass the JSON API machinery: their payloads are media
// bytes and m3u8 text.
type StreamHandler struct {
	manager *session.Manager
	logger  *slog.Logger
}

// NewStreamHandler creates a stream handler.
func NewStreamHandler(manager *session.Manager, logger *slog.Logger) *StreamHandler {
	return &StreamHandler{
		manager: manager,
		logger:  observability.WithComponent(logger, "stream"),
	}
}

// Register mounts the stream routes on the router.
func (h *StreamHandler) Register(r *chi.Mux) {
	r.Route("/stream/{sessionID}", func(r chi.Router) {
		r.Get("/master.m3u8", h.master)
		r.Get("/media.m3u8", h.media)
		r.Get("/init/{epoch}", h.initSegment)
		r.Get("/segment/{epoch}/{index}", h.segment)
		r.Get("/media", h.mediaFile)
	})
}

func (h *StreamHandler) session(w http.ResponseWriter, r *http.Request) *session.Session {
	s, err := h.manager.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.NotFound(w, r)
		} else {
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return nil
	}
	return s
}

func (h *StreamHandler) master(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	playlist := s.MasterPlaylist("media.m3u8")
	if playlist == "" {
		http.Error(w, "session is not HLS", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, playlist)
}

func (h *StreamHandler) media(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	playlist := s.MediaPlaylist()
	if playlist == "" {
		http.Error(w, "session is not HLS", http.StatusConflict)
		return
	}
	w.Header().Set("Content-Type", playlistContentType)
	// The playlist gains an epoch on every seek; clients must refetch.
	w.Header().Set("Cache-Control", "no-cache")
	fmt.Fprint(w, playlist)
}

func (h *StreamHandler) initSegment(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	epoch, err := strconv.Atoi(chi.URLParam(r, "epoch"))
	if err != nil || epoch < 0 {
		http.NotFound(w, r)
		return
	}
	h.serveSegmentFile(w, r, s, session.InitSegmentName(epoch), initContentType)
}

func (h *StreamHandler) segment(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	epoch, err := strconv.Atoi(chi.URLParam(r, "epoch"))
	if err != nil || epoch < 0 {
		http.NotFound(w, r)
		return
	}
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		http.NotFound(w, r)
		return
	}
	// Only published segments are served: the file for an unpublished
	// one may still be mid-write by the encoder.
	if !h.waitFor(r, func() bool { return s.SegmentReady(epoch, index) }) {
		http.NotFound(w, r)
		return
	}
	h.serveSegmentFile(w, r, s, session.SegmentName(epoch, index), segmentContentType)
}

func (h *StreamHandler) serveSegmentFile(w http.ResponseWriter, r *http.Request, s *session.Session, name, contentType string) {
	path := filepath.Join(s.Dir, name)
	if !h.waitForFile(r, path) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", contentType)
	// Segment content is immutable once written; the epoch in the name
	// keeps stale entries from ever being re-requested.
	w.Header().Set("Cache-Control", "max-age=3600")
	http.ServeFile(w, r, path)
}

// waitForFile polls for a segment file the encoder has not produced yet.
func (h *StreamHandler) waitForFile(r *http.Request, path string) bool {
	return h.waitFor(r, func() bool {
		_, err := os.Stat(path)
		return err == nil
	})
}

func (h *StreamHandler) waitFor(r *http.Request, ready func() bool) bool {
	deadline := time.Now().Add(segmentWait)
	for {
		if ready() {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(segmentWaitPoll):
		}
	}
}

// mediaFile serves range-delivered media: the source file for direct
// play, the remux output otherwise. http.ServeFile handles byte ranges
// and conditional requests.
func (h *StreamHandler) mediaFile(w http.ResponseWriter, r *http.Request) {
	s := h.session(w, r)
	if s == nil {
		return
	}
	plan := s.Plan()
	if plan.Transport != planner.TransportRange {
		http.Error(w, "session is not range-delivered", http.StatusConflict)
		return
	}

	path := s.MediaPath
	if plan.Mode != planner.ModeDirect {
		if !s.Completed() {
			// ffmpeg creates the output file immediately, so existence
			// is not enough; serving it mid-remux hands the client a
			// truncated moov.
			w.Header().Set("Retry-After", "2")
			http.Error(w, "remux in progress", http.StatusServiceUnavailable)
			return
		}
		path = filepath.Join(s.Dir, session.RemuxOutputName)
	}
	w.Header().Set("Content-Type", "video/mp4")
	http.ServeFile(w, r, path)
}
