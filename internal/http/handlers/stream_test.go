package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftserve/drift/internal/admission"
	"github.com/driftserve/drift/internal/client"
	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
	"github.com/driftserve/drift/internal/session"
)

type streamProfiles struct {
	profile *probe.MediaProfile
}

func (f *streamProfiles) GetOrProbe(_ context.Context, _, _ string) (*probe.MediaProfile, error) {
	return f.profile, nil
}

type streamResolver struct {
	caps *client.Capabilities
}

func (f *streamResolver) Resolve(_ context.Context, _ string) (*client.Capabilities, error) {
	return f.caps, nil
}

type streamHealth struct{}

func (streamHealth) Status(_ context.Context, _ string) (models.HealthStatus, error) {
	return models.HealthStatusHealthy, nil
}
func (streamHealth) RecordFailure(_ context.Context, _, _ string) error { return nil }
func (streamHealth) RecordSuccess(_ context.Context, _ string) error    { return nil }

type streamAdmitter struct{}

func (streamAdmitter) Request(_ context.Context, req admission.Request) (*admission.Ticket, error) {
	return &admission.Ticket{SessionID: req.SessionID, Priority: req.Priority}, nil
}
func (streamAdmitter) Release(string) {}

type streamHandle struct {
	mu      sync.Mutex
	done    chan error
	stopped bool
}

func newStreamHandle() *streamHandle {
	return &streamHandle{done: make(chan error, 1)}
}

func (h *streamHandle) PID() int             { return 4242 }
func (h *streamHandle) Done() <-chan error   { return h.done }
func (h *streamHandle) StderrTail() []string { return nil }

func (h *streamHandle) Stop(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
	return nil
}

func (h *streamHandle) exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		h.done <- err
		close(h.done)
	}
}

type streamSpawner struct {
	mu      sync.Mutex
	handles []*streamHandle
}

func (f *streamSpawner) Spawn(_ context.Context, _ string, _ []string) (session.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := newStreamHandle()
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *streamSpawner) lastHandle() *streamHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

func streamProfile(path string) *probe.MediaProfile {
	return &probe.MediaProfile{
		Path:         path,
		Fingerprint:  "4000000-1700000000",
		Container:    codec.ContainerMP4,
		DurationSecs: 60,
		VideoStreams: []probe.VideoStream{{
			Index: 0, Codec: "h264", Profile: "High", Level: 40,
			Width: 1920, Height: 1080, AvgFrameRate: 24,
			BitDepth: 8, HDR: probe.HDRNone, IsDefault: true,
		}},
		AudioStreams: []probe.AudioStream{{
			Index: 1, Codec: "aac", Channels: 2, Language: "eng", IsDefault: true,
		}},
		Keyframes: probe.KeyframeAnalysis{
			MaxInterval: 2.0, AvgInterval: 2.0, IsRegular: true, Confidence: 1.0,
		},
	}
}

func streamCaps() *client.Capabilities {
	return &client.Capabilities{
		Device: "test-device",
		VideoCodecs: map[string]client.VideoCapability{
			"h264": {MaxLevel: 51, MaxWidth: 1920, MaxHeight: 1080},
		},
		AudioCodecs:      map[string]bool{"aac": true},
		MaxAudioChannels: 6,
		RangeReliability: client.RangeTrusted,
		Confidence:       0.9,
	}
}

type streamFixture struct {
	manager *session.Manager
	spawner *streamSpawner
	router  *chi.Mux
}

func newStreamFixture(t *testing.T, profile *probe.MediaProfile, caps *client.Capabilities) *streamFixture {
	t.Helper()
	spawner := &streamSpawner{}
	engine := planner.NewEngine(config.EncoderConfig{
		FFmpegPath: "ffmpeg",
		Filters: []string{
			"yadif", "fps", "scale", "tonemap", "fieldmatch", "decimate",
			"loudnorm", "acompressor", "atempo", "aresample",
		},
	}, slog.Default())
	manager := session.NewManager(
		config.SessionConfig{IdleTimeout: 5 * time.Minute, SegmentDuration: 4 * time.Second},
		config.DiskConfig{TranscodeDir: t.TempDir()},
		session.ManagerDeps{
			Profiles: &streamProfiles{profile: profile},
			Clients:  &streamResolver{caps: caps},
			Engine:   engine,
			Health:   streamHealth{},
			Admitter: streamAdmitter{},
			Spawner:  spawner,
		},
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
	)

	router := chi.NewMux()
	NewStreamHandler(manager, slog.Default()).Register(router)
	return &streamFixture{manager: manager, spawner: spawner, router: router}
}

func (f *streamFixture) create(t *testing.T) *session.Session {
	t.Helper()
	s, err := f.manager.Create(context.Background(), session.CreateRequest{
		MediaID:   "m1",
		MediaPath: "/media/movie.mp4",
		UserAgent: "TestPlayer/1.0",
		Priority:  admission.PriorityInteractive,
	})
	require.NoError(t, err)
	return s
}

func (f *streamFixture) get(path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestStreamUnknownSession(t *testing.T) {
	f := newStreamFixture(t, streamProfile("/media/movie.mp4"), streamCaps())

	rec := f.get("/stream/nope/media.m3u8", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamDirectMediaServesSourceWithRanges(t *testing.T) {
	src := filepath.Join(t.TempDir(), "movie.mp4")
	require.NoError(t, os.WriteFile(src, []byte("0123456789"), 0o644))

	f := newStreamFixture(t, streamProfile(src), streamCaps())
	s, err := f.manager.Create(context.Background(), session.CreateRequest{
		MediaID: "m1", MediaPath: src, UserAgent: "TestPlayer/1.0",
	})
	require.NoError(t, err)
	require.Equal(t, planner.ModeDirect, s.Plan().Mode)

	rec := f.get("/stream/"+s.ID+"/media", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0123456789", rec.Body.String())

	rec = f.get("/stream/"+s.ID+"/media", http.Header{"Range": []string{"bytes=2-5"}})
	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "2345", rec.Body.String())

	// Direct sessions have no playlist.
	rec = f.get("/stream/"+s.ID+"/master.m3u8", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamRemuxMediaWaitsForCompletion(t *testing.T) {
	profile := streamProfile("/media/movie.mkv")
	profile.Container = codec.ContainerMKV
	f := newStreamFixture(t, profile, streamCaps())
	s := f.create(t)
	require.Equal(t, planner.ModeRemux, s.Plan().Mode)

	rec := f.get("/stream/"+s.ID+"/media", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, session.RemuxOutputName), []byte("mp4data"), 0o644))
	f.spawner.lastHandle().exit(nil)
	require.Eventually(t, s.Completed, time.Second, 10*time.Millisecond)

	rec = f.get("/stream/"+s.ID+"/media", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "mp4data", rec.Body.String())
	assert.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
}

func TestStreamHLSPlaylists(t *testing.T) {
	caps := streamCaps()
	caps.VideoCodecs = map[string]client.VideoCapability{
		"h264": {MaxLevel: 30, MaxWidth: 1280, MaxHeight: 720},
	}
	f := newStreamFixture(t, streamProfile("/media/movie.mp4"), caps)
	s := f.create(t)
	require.True(t, s.Plan().Mode.IsHLS())

	rec := f.get("/stream/"+s.ID+"/master.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, playlistContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "media.m3u8")

	rec = f.get("/stream/"+s.ID+"/media.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	body := rec.Body.String()
	assert.Contains(t, body, "#EXTM3U")
	assert.NotContains(t, body, "segment/0/0", "nothing encoded yet, nothing on offer")

	// Segment 0 is published once its successor hits the disk.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, session.SegmentName(0, 0)), []byte("seg0"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, session.SegmentName(0, 1)), []byte("seg1"), 0o644))
	rec = f.get("/stream/"+s.ID+"/media.m3u8", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "segment/0/0")

	// HLS sessions are not range-delivered.
	rec = f.get("/stream/"+s.ID+"/media", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestStreamServesSegmentsAndInit(t *testing.T) {
	caps := streamCaps()
	caps.VideoCodecs = map[string]client.VideoCapability{
		"h264": {MaxLevel: 30, MaxWidth: 1280, MaxHeight: 720},
	}
	f := newStreamFixture(t, streamProfile("/media/movie.mp4"), caps)
	s := f.create(t)

	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, session.InitSegmentName(0)), []byte("init"), 0o644))
	// Segments publish in order; 3 is servable once 0..3 have flushed,
	// which takes files up to the successor of 3.
	for i := 0; i <= 4; i++ {
		data := []byte(fmt.Sprintf("seg%d", i))
		require.NoError(t, os.WriteFile(filepath.Join(s.Dir, session.SegmentName(0, i)), data, 0o644))
	}

	rec := f.get("/stream/"+s.ID+"/init/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, initContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "init", rec.Body.String())

	rec = f.get("/stream/"+s.ID+"/segment/0/3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, segmentContentType, rec.Header().Get("Content-Type"))
	assert.Equal(t, "seg3", rec.Body.String())
}

func TestStreamWithholdsMidWriteSegment(t *testing.T) {
	orig := segmentWait
	segmentWait = 50 * time.Millisecond
	t.Cleanup(func() { segmentWait = orig })

	caps := streamCaps()
	caps.VideoCodecs = map[string]client.VideoCapability{
		"h264": {MaxLevel: 30, MaxWidth: 1280, MaxHeight: 720},
	}
	f := newStreamFixture(t, streamProfile("/media/movie.mp4"), caps)
	s := f.create(t)

	// The file exists but its successor does not: the encoder may still
	// be writing it, so it must not be handed out.
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, session.SegmentName(0, 0)), []byte("partial"), 0o644))
	rec := f.get("/stream/"+s.ID+"/segment/0/0", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamSegmentNotProducedInTime(t *testing.T) {
	orig := segmentWait
	segmentWait = 50 * time.Millisecond
	t.Cleanup(func() { segmentWait = orig })

	caps := streamCaps()
	caps.VideoCodecs = map[string]client.VideoCapability{
		"h264": {MaxLevel: 30, MaxWidth: 1280, MaxHeight: 720},
	}
	f := newStreamFixture(t, streamProfile("/media/movie.mp4"), caps)
	s := f.create(t)

	rec := f.get("/stream/"+s.ID+"/segment/0/7", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamRejectsMalformedSegmentParams(t *testing.T) {
	caps := streamCaps()
	caps.VideoCodecs = map[string]client.VideoCapability{
		"h264": {MaxLevel: 30, MaxWidth: 1280, MaxHeight: 720},
	}
	f := newStreamFixture(t, streamProfile("/media/movie.mp4"), caps)
	s := f.create(t)

	for _, path := range []string{
		"/stream/" + s.ID + "/segment/x/0",
		"/stream/" + s.ID + "/segment/0/x",
		"/stream/" + s.ID + "/segment/-1/0",
		"/stream/" + s.ID + "/init/x",
	} {
		rec := f.get(path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}
