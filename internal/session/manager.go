package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/driftserve/drift/internal/admission"
	"github.com/driftserve/drift/internal/client"
	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/hls"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionEnded    = errors.New("session already ended")
)

const reaperInterval = time.Minute

// ProfileSource yields media profiles, probing on cache miss.
type ProfileSource interface {
	GetOrProbe(ctx context.Context, mediaID, path string) (*probe.MediaProfile, error)
}

// CapabilityResolver maps a User-Agent to client capabilities.
type CapabilityResolver interface {
	Resolve(ctx context.Context, userAgent string) (*client.Capabilities, error)
}

// HealthTracker is the slice of the health tracker the manager needs.
type HealthTracker interface {
	Status(ctx context.Context, mediaID string) (models.HealthStatus, error)
	RecordFailure(ctx context.Context, mediaID, reason string) error
	RecordSuccess(ctx context.Context, mediaID string) error
}

// Admitter grants and releases transcode slots.
type Admitter interface {
	Request(ctx context.Context, req admission.Request) (*admission.Ticket, error)
	Release(sessionID string)
}

// Planner produces playback plans.
type Planner interface {
	Plan(profile *probe.MediaProfile, caps *client.Capabilities, prefs planner.Preferences) (*planner.PlaybackPlan, error)
}

// Session is one client's playback of one media item. All mutation goes
// through the manager, which serializes it on the session's own mutex so
// a seek racing a track switch can never interleave transcoder restarts.
type Session struct {
	ID        string
	MediaID   string
	MediaPath string
	Dir       string

	mu         sync.Mutex
	plan       *planner.PlaybackPlan
	profile    *probe.MediaProfile
	caps       *client.Capabilities
	prefs      planner.Preferences
	playlist   *hls.MediaPlaylist
	pending    []plannedSegment
	handle     Handle
	generation int
	admitted   bool
	position   float64
	startedAt  time.Time
	lastSeen   time.Time
	failed     bool
	completed  bool
	ended      bool
}

// Status is a point-in-time snapshot safe to serialize.
type Status struct {
	ID        string    `json:"id"`
	MediaID   string    `json:"media_id"`
	Mode      string    `json:"mode"`
	Transport string    `json:"transport"`
	CacheKey  string    `json:"cache_key"`
	Position  float64   `json:"position_secs"`
	Epoch     int       `json:"epoch"`
	StartedAt time.Time `json:"started_at"`
	LastSeen  time.Time `json:"last_seen"`
	Failed    bool      `json:"failed"`
}

// Plan returns the session's current playback plan. The plan is replaced
// wholesale on track switches, never mutated, so the returned pointer is
// safe to read.
func (s *Session) Plan() *planner.PlaybackPlan {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.plan
}

// Profile returns the probed media profile.
func (s *Session) Profile() *probe.MediaProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// plannedSegment is a playlist entry waiting for the encoder to flush
// its file before it may be published.
type plannedSegment struct {
	index int
	seg   hls.Segment
}

// MediaPlaylist renders the current HLS media playlist; empty for range
// transport. Rendering first publishes any newly flushed segments, so
// each client poll sees exactly what is servable.
func (s *Session) MediaPlaylist() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playlist == nil {
		return ""
	}
	s.publishFlushedLocked()
	return s.playlist.Render()
}

// publishFlushedLocked moves planned entries into the playlist once the
// encoder has flushed their files. ffmpeg writes each segment to its
// final name while encoding, so a segment only counts as flushed when
// its successor exists on disk; a clean exit flushes everything at once.
func (s *Session) publishFlushedLocked() {
	for len(s.pending) > 0 {
		next := s.pending[0]
		if !s.completed {
			marker := filepath.Join(s.Dir, SegmentName(s.playlist.Epoch(), next.index+1))
			if _, err := os.Stat(marker); err != nil {
				return
			}
		}
		if s.playlist.Append(next.seg) != nil {
			return
		}
		s.pending = s.pending[1:]
	}
}

// SegmentReady reports whether a segment has been published and is safe
// to serve. Unpublished files may still be mid-write by the encoder.
func (s *Session) SegmentReady(epoch, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playlist == nil {
		return false
	}
	s.publishFlushedLocked()
	return s.playlist.HasSegment(epoch, index)
}

// MasterPlaylist renders the HLS master playlist; empty for range
// transport.
func (s *Session) MasterPlaylist(mediaURI string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playlist == nil {
		return ""
	}
	return hls.BuildMaster(s.profile, s.plan, hls.MasterOptions{MediaURI: mediaURI}).Render()
}

// Epoch returns the current transcode epoch.
func (s *Session) Epoch() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.playlist == nil {
		return 0
	}
	return s.playlist.Epoch()
}

// Completed reports whether the session's transcoder run finished
// cleanly. Range-delivered remux output is only safe to serve once this
// is true.
func (s *Session) Completed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Snapshot returns the session status.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		ID:        s.ID,
		MediaID:   s.MediaID,
		Mode:      s.plan.Mode.String(),
		Transport: string(s.plan.Transport),
		CacheKey:  s.plan.CacheKey,
		Position:  s.position,
		StartedAt: s.startedAt,
		LastSeen:  s.lastSeen,
		Failed:    s.failed,
	}
	if s.playlist != nil {
		st.Epoch = s.playlist.Epoch()
	}
	return st
}

// Manager owns the full session lifecycle: probe, capability resolution,
// planning, admission, transcoder spawn, seeks and track switches, and
// teardown.
type Manager struct {
	cfg          config.SessionConfig
	transcodeDir string
	profiles     ProfileSource
	clients      CapabilityResolver
	engine       Planner
	health       HealthTracker
	admitter     Admitter
	spawner      Spawner
	logger       *slog.Logger
	cron         *cron.Cron
	now          func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerDeps bundles the manager's collaborators.
type ManagerDeps struct {
	Profiles ProfileSource
	Clients  CapabilityResolver
	Engine   Planner
	Health   HealthTracker
	Admitter Admitter
	Spawner  Spawner
}

// NewManager creates a session manager.
func NewManager(cfg config.SessionConfig, disk config.DiskConfig, deps ManagerDeps, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:          cfg,
		transcodeDir: disk.TranscodeDir,
		profiles:     deps.Profiles,
		clients:      deps.Clients,
		engine:       deps.Engine,
		health:       deps.Health,
		admitter:     deps.Admitter,
		spawner:      deps.Spawner,
		logger:       observability.WithComponent(logger, "session"),
		now:          time.Now,
		sessions:     make(map[string]*Session),
	}
}

// CreateRequest describes a new playback session.
type CreateRequest struct {
	MediaID      string
	MediaPath    string
	UserAgent    string
	Priority     admission.Priority
	Prefs        planner.Preferences
	StartSeconds float64
}

// Create runs the full pipeline for a new session: probe, resolve
// capabilities, consult media health, plan, admit, spawn.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	profile, err := m.profiles.GetOrProbe(ctx, req.MediaID, req.MediaPath)
	if err != nil {
		return nil, fmt.Errorf("probing media: %w", err)
	}
	caps, err := m.clients.Resolve(ctx, req.UserAgent)
	if err != nil {
		return nil, fmt.Errorf("resolving client: %w", err)
	}

	prefs := req.Prefs
	prefs.MediaID = req.MediaID
	status, err := m.health.Status(ctx, req.MediaID)
	if err != nil {
		observability.WithError(m.logger, err).Warn("health lookup failed; planning without downgrade",
			slog.String("media_id", req.MediaID))
	} else if status != models.HealthStatusHealthy {
		prefs.HealthDowngrade = true
	}

	plan, err := m.engine.Plan(profile, caps, prefs)
	if err != nil {
		return nil, err
	}

	id := models.NewULID().String()
	s := &Session{
		ID:        id,
		MediaID:   req.MediaID,
		MediaPath: req.MediaPath,
		Dir:       filepath.Join(m.transcodeDir, id),
		plan:      plan,
		profile:   profile,
		caps:      caps,
		prefs:     prefs,
		position:  req.StartSeconds,
		startedAt: m.now(),
		lastSeen:  m.now(),
	}

	// Direct play serves the source file untouched and holds no slot.
	if plan.Mode != planner.ModeDirect {
		if _, err := m.admitter.Request(ctx, admission.Request{
			SessionID: id,
			Priority:  req.Priority,
		}); err != nil {
			return nil, fmt.Errorf("admission: %w", err)
		}
		s.admitted = true
	}

	if err := m.startSession(ctx, s, req.StartSeconds); err != nil {
		if s.admitted {
			m.admitter.Release(id)
		}
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.logger.Info("session created",
		slog.String("session_id", id),
		slog.String("media_id", req.MediaID),
		slog.String("mode", plan.Mode.String()),
		slog.Any("reasons", plan.ReasonCodes))
	return s, nil
}

func (m *Manager) startSession(ctx context.Context, s *Session, start float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.plan.Mode == planner.ModeDirect {
		return nil
	}
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("creating session dir: %w", err)
	}
	if s.plan.Mode.IsHLS() {
		s.playlist = hls.NewMediaPlaylist(m.segmentSeconds(), InitURI(0))
		m.populateEpochLocked(s, start)
	}
	return m.spawnLocked(ctx, s, start)
}

func (m *Manager) segmentSeconds() int {
	secs := int(m.cfg.SegmentDuration / time.Second)
	if secs <= 0 {
		secs = 4
	}
	return secs
}

// populateEpochLocked plans the current epoch's segment timeline from
// the media duration. Durations are planned, not observed: segment
// boundaries are forced onto the same cadence. Entries are held back
// and published only as the encoder flushes the matching files, so the
// playlist never offers a segment that cannot be served yet.
func (m *Manager) populateEpochLocked(s *Session, start float64) {
	segDur := float64(m.segmentSeconds())
	s.pending = nil
	remaining := s.profile.DurationSecs - start
	if remaining <= 0 {
		return
	}
	n := int(math.Ceil(remaining / segDur))
	epoch := s.playlist.Epoch()
	for i := 0; i < n; i++ {
		d := segDur
		if left := remaining - float64(i)*segDur; left < segDur {
			d = left
		}
		s.pending = append(s.pending, plannedSegment{
			index: i,
			seg: hls.Segment{
				URI:      SegmentURI(epoch, i),
				Duration: d,
			},
		})
	}
}

func (m *Manager) spawnLocked(ctx context.Context, s *Session, start float64) error {
	epoch := 0
	if s.playlist != nil {
		epoch = s.playlist.Epoch()
	}
	inv := Invocation{
		MediaPath:       s.MediaPath,
		SessionDir:      s.Dir,
		Epoch:           epoch,
		StartSeconds:    start,
		SegmentDuration: float64(m.segmentSeconds()),
	}
	h, err := m.spawner.Spawn(ctx, s.Dir, BuildArgs(s.plan, s.profile, inv))
	if err != nil {
		return fmt.Errorf("spawning transcoder: %w", err)
	}
	s.handle = h
	s.generation++
	s.completed = false
	go m.watch(s, h, s.generation)
	return nil
}

// watch observes one transcoder run. A stale generation means the exit
// was deliberate (seek, track switch, teardown) and is ignored.
func (m *Manager) watch(s *Session, h Handle, gen int) {
	err := <-h.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generation != gen || s.ended {
		return
	}

	if err != nil {
		s.failed = true
		reason := transcodeFailureReason(err, h.StderrTail())
		observability.WithError(m.logger, err).Error("transcoder failed",
			slog.String("session_id", s.ID),
			slog.String("media_id", s.MediaID),
			slog.String("reason", reason))
		if herr := m.health.RecordFailure(context.Background(), s.MediaID, reason); herr != nil {
			observability.WithError(m.logger, herr).Warn("recording health failure")
		}
		return
	}

	s.completed = true
	if s.playlist != nil {
		s.publishFlushedLocked()
		s.playlist.Finalize()
	}
	if herr := m.health.RecordSuccess(context.Background(), s.MediaID); herr != nil {
		observability.WithError(m.logger, herr).Warn("recording health success")
	}
	m.logger.Info("transcoder completed",
		slog.String("session_id", s.ID))
}

// transcodeFailureReason condenses a failed run into one line for the
// health record.
func transcodeFailureReason(err error, tail []string) string {
	for i := len(tail) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(tail[i]); line != "" {
			return line
		}
	}
	return err.Error()
}

// Get returns a live session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// List snapshots every live session.
func (m *Manager) List() []Status {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]Status, len(sessions))
	for i, s := range sessions {
		out[i] = s.Snapshot()
	}
	return out
}

// Heartbeat records client liveness and playback position.
func (m *Manager) Heartbeat(id string, position float64) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	s.lastSeen = m.now()
	if position > 0 {
		s.position = position
	}
	return nil
}

// Seek restarts the transcoder at a new position in a fresh epoch. The
// old epoch's segments stay in the playlist behind a discontinuity, so
// a client holding stale segment URIs still resolves them.
func (m *Manager) Seek(ctx context.Context, id string, seconds float64) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}
	if s.playlist == nil {
		// Range transport seeks client-side; nothing to restart.
		s.position = seconds
		return nil
	}
	return m.restartLocked(ctx, s, seconds)
}

// SwitchAudio replans with a new audio language and restarts in a fresh
// epoch at the current position.
func (m *Manager) SwitchAudio(ctx context.Context, id, language string) error {
	return m.switchTracks(ctx, id, func(p *planner.Preferences) {
		p.AudioLanguage = language
	})
}

// SwitchSubtitles replans subtitle selection and restarts if the change
// affects transcoder output.
func (m *Manager) SwitchSubtitles(ctx context.Context, id, language string, want bool) error {
	return m.switchTracks(ctx, id, func(p *planner.Preferences) {
		p.SubtitleLanguage = language
		p.WantSubtitles = want
	})
}

func (m *Manager) switchTracks(ctx context.Context, id string, mutate func(*planner.Preferences)) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return ErrSessionEnded
	}

	prefs := s.prefs
	mutate(&prefs)
	plan, err := m.engine.Plan(s.profile, s.caps, prefs)
	if err != nil {
		return err
	}
	if plan.CacheKey == s.plan.CacheKey {
		s.prefs = prefs
		return nil
	}

	s.prefs = prefs
	s.plan = plan
	if s.playlist == nil {
		// Plan changed but delivery is still range-based; the client
		// refetches the output.
		return nil
	}
	return m.restartLocked(ctx, s, s.position)
}

// restartLocked stops the current transcoder, opens a new epoch, and
// respawns from the given position.
func (m *Manager) restartLocked(ctx context.Context, s *Session, start float64) error {
	// Seal the old epoch: publish what the encoder flushed before the
	// kill; the file it was mid-writing stays unpublished for good.
	s.publishFlushedLocked()
	s.generation++ // invalidate the watcher before the deliberate kill
	if s.handle != nil {
		if err := s.handle.Stop(ctx); err != nil {
			observability.WithError(m.logger, err).Warn("stopping transcoder",
				slog.String("session_id", s.ID))
		}
	}
	nextEpoch := s.playlist.Epoch() + 1
	if err := s.playlist.StartNewEpoch(InitURI(nextEpoch)); err != nil {
		return err
	}
	s.position = start
	m.populateEpochLocked(s, start)
	return m.spawnLocked(ctx, s, start)
}

// End tears a session down: kill the transcoder, release the admission
// slot, remove the scratch directory.
func (m *Manager) End(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return nil
	}
	s.ended = true
	s.generation++
	if s.handle != nil {
		if err := s.handle.Stop(ctx); err != nil {
			observability.WithError(m.logger, err).Warn("stopping transcoder",
				slog.String("session_id", s.ID))
		}
	}
	if s.admitted {
		m.admitter.Release(s.ID)
	}
	if s.playlist != nil {
		s.playlist.Finalize()
	}
	if s.plan.Mode != planner.ModeDirect {
		if err := os.RemoveAll(s.Dir); err != nil {
			observability.WithError(m.logger, err).Warn("removing session dir",
				slog.String("dir", s.Dir))
		}
	}
	m.logger.Info("session ended", slog.String("session_id", id))
	return nil
}

// StartReaper begins the idle-session sweep and the per-session
// resource sampler.
func (m *Manager) StartReaper() error {
	cr := cron.New()
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", reaperInterval), m.ReapIdle); err != nil {
		return fmt.Errorf("scheduling session reaper: %w", err)
	}
	if _, err := cr.AddFunc(fmt.Sprintf("@every %s", reaperInterval), m.SampleResources); err != nil {
		return fmt.Errorf("scheduling resource sampler: %w", err)
	}
	cr.Start()
	m.cron = cr
	return nil
}

// StopReaper stops the sweep and waits for a running pass.
func (m *Manager) StopReaper() {
	if m.cron != nil {
		<-m.cron.Stop().Done()
	}
}

// ReapIdle ends every session whose client has gone quiet past the idle
// timeout.
func (m *Manager) ReapIdle() {
	cutoff := m.now().Add(-m.cfg.IdleTimeout)

	m.mu.Lock()
	var idle []string
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.lastSeen.Before(cutoff) {
			idle = append(idle, id)
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, id := range idle {
		m.logger.Info("reaping idle session", slog.String("session_id", id))
		if err := m.End(ctx, id); err != nil && !errors.Is(err, ErrSessionNotFound) {
			observability.WithError(m.logger, err).Warn("reaping session",
				slog.String("session_id", id))
		}
	}
}

// processStats is the slice of gopsutil's process API the sampler needs.
type processStats interface {
	CPUPercent() (float64, error)
	MemoryInfo() (*process.MemoryInfoStat, error)
}

// statProcess is swappable for tests.
var statProcess = func(pid int) (processStats, error) {
	return process.NewProcess(int32(pid))
}

// SampleResources logs CPU and memory usage for every session with a
// live transcoder.
func (m *Manager) SampleResources() {
	m.mu.Lock()
	type target struct {
		id  string
		pid int
	}
	var targets []target
	for id, s := range m.sessions {
		s.mu.Lock()
		if s.handle != nil && !s.ended {
			targets = append(targets, target{id: id, pid: s.handle.PID()})
		}
		s.mu.Unlock()
	}
	m.mu.Unlock()

	for _, t := range targets {
		p, err := statProcess(t.pid)
		if err != nil {
			// Process already exited; the watch goroutine handles it.
			continue
		}
		cpu, err := p.CPUPercent()
		if err != nil {
			continue
		}
		var rss uint64
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			rss = mem.RSS
		}
		m.logger.Debug("transcoder resources",
			slog.String("session_id", t.id),
			slog.Int("pid", t.pid),
			slog.Float64("cpu_percent", cpu),
			slog.Uint64("rss_bytes", rss))
	}
}

// Shutdown ends every session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.StopReaper()
	for _, st := range m.List() {
		if err := m.End(ctx, st.ID); err != nil && !errors.Is(err, ErrSessionNotFound) {
			observability.WithError(m.logger, err).Warn("ending session on shutdown",
				slog.String("session_id", st.ID))
		}
	}
}
