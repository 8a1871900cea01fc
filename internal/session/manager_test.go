package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/process"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftserve/drift/internal/admission"
	"github.com/driftserve/drift/internal/client"
	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/models"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
)

type fakeProfileSource struct {
	profile *probe.MediaProfile
	err     error
	probes  int
}

func (f *fakeProfileSource) GetOrProbe(_ context.Context, _, _ string) (*probe.MediaProfile, error) {
	f.probes++
	return f.profile, f.err
}

type fakeResolver struct {
	caps *client.Capabilities
}

func (f *fakeResolver) Resolve(_ context.Context, _ string) (*client.Capabilities, error) {
	return f.caps, nil
}

type fakeHealth struct {
	mu        sync.Mutex
	status    models.HealthStatus
	failures  []string
	successes int
}

func (f *fakeHealth) Status(_ context.Context, _ string) (models.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == "" {
		return models.HealthStatusHealthy, nil
	}
	return f.status, nil
}

func (f *fakeHealth) RecordFailure(_ context.Context, _, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, reason)
	return nil
}

func (f *fakeHealth) RecordSuccess(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.successes++
	return nil
}

type fakeAdmitter struct {
	mu       sync.Mutex
	denyWith error
	admitted []string
	released []string
}

func (f *fakeAdmitter) Request(_ context.Context, req admission.Request) (*admission.Ticket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyWith != nil {
		return nil, f.denyWith
	}
	f.admitted = append(f.admitted, req.SessionID)
	return &admission.Ticket{SessionID: req.SessionID, Priority: req.Priority}, nil
}

func (f *fakeAdmitter) Release(sessionID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, sessionID)
}

type fakeHandle struct {
	mu      sync.Mutex
	done    chan error
	stopped bool
	tail    []string
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{done: make(chan error, 1)}
}

func (h *fakeHandle) PID() int             { return 999 }
func (h *fakeHandle) Done() <-chan error   { return h.done }
func (h *fakeHandle) StderrTail() []string { return h.tail }

func (h *fakeHandle) Stop(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		close(h.done)
	}
	return nil
}

func (h *fakeHandle) exit(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stopped {
		h.stopped = true
		h.done <- err
		close(h.done)
	}
}

func (h *fakeHandle) wasStopped() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

type fakeSpawner struct {
	mu      sync.Mutex
	spawns  [][]string
	handles []*fakeHandle
	err     error
}

func (f *fakeSpawner) Spawn(_ context.Context, _ string, args []string) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	h := newFakeHandle()
	f.spawns = append(f.spawns, args)
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeSpawner) spawnCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.spawns)
}

func (f *fakeSpawner) lastArgs() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.spawns[len(f.spawns)-1], " ")
}

func (f *fakeSpawner) lastHandle() *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[len(f.handles)-1]
}

type managerFixture struct {
	m        *Manager
	profiles *fakeProfileSource
	health   *fakeHealth
	admitter *fakeAdmitter
	spawner  *fakeSpawner
}

// mkvProfile needs a remux for MP4-only clients; mp4Profile plays direct.
func mp4Profile() *probe.MediaProfile {
	return &probe.MediaProfile{
		Path:         "/media/movie.mp4",
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

func mkvProfile() *probe.MediaProfile {
	p := mp4Profile()
	p.Path = "/media/movie.mkv"
	p.Container = codec.ContainerMKV
	return p
}

func managerCaps() *client.Capabilities {
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

func newFixture(t *testing.T, profile *probe.MediaProfile) *managerFixture {
	t.Helper()
	f := &managerFixture{
		profiles: &fakeProfileSource{profile: profile},
		health:   &fakeHealth{},
		admitter: &fakeAdmitter{},
		spawner:  &fakeSpawner{},
	}
	engine := planner.NewEngine(config.EncoderConfig{
		FFmpegPath: "ffmpeg",
		Filters: []string{
			"yadif", "fps", "scale", "tonemap", "fieldmatch", "decimate",
			"loudnorm", "acompressor", "atempo", "aresample",
		},
		DolbyVision: config.DolbyVisionConfig{ExtractBaseLayer: true, ConvertHDR10: true, Tonemap: true},
	}, slog.Default())
	f.m = NewManager(
		config.SessionConfig{IdleTimeout: 5 * time.Minute, SegmentDuration: 4 * time.Second},
		config.DiskConfig{TranscodeDir: t.TempDir()},
		ManagerDeps{
			Profiles: f.profiles,
			Clients:  &fakeResolver{caps: managerCaps()},
			Engine:   engine,
			Health:   f.health,
			Admitter: f.admitter,
			Spawner:  f.spawner,
		},
		slog.New(slog.NewTextHandler(os.Stderr, nil)),
	)
	return f
}

func writeSegment(t *testing.T, s *Session, epoch, index int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir, SegmentName(epoch, index)), []byte("seg"), 0o644))
}

func (f *managerFixture) create(t *testing.T) *Session {
	t.Helper()
	s, err := f.m.Create(context.Background(), CreateRequest{
		MediaID:   "m1",
		MediaPath: f.profiles.profile.Path,
		UserAgent: "TestPlayer/1.0",
		Priority:  admission.PriorityInteractive,
	})
	require.NoError(t, err)
	return s
}

func TestCreateDirectPlay(t *testing.T) {
	f := newFixture(t, mp4Profile())
	s := f.create(t)

	assert.Equal(t, planner.ModeDirect, s.Plan().Mode)
	assert.Zero(t, f.spawner.spawnCount(), "direct play spawns nothing")
	assert.Empty(t, f.admitter.admitted, "direct play holds no slot")
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, 1, f.profiles.probes)
}

func TestCreateRemuxSpawnsAndAdmits(t *testing.T) {
	f := newFixture(t, mkvProfile())
	s := f.create(t)

	assert.Equal(t, planner.ModeRemux, s.Plan().Mode)
	require.Equal(t, 1, f.spawner.spawnCount())
	assert.Equal(t, []string{s.ID}, f.admitter.admitted)
	assert.Contains(t, f.spawner.lastArgs(), "-c:v copy")
	assert.DirExists(t, s.Dir)
}

func TestCreateAdmissionDeniedFailsClosed(t *testing.T) {
	f := newFixture(t, mkvProfile())
	f.admitter.denyWith = admission.ErrQueueFull

	_, err := f.m.Create(context.Background(), CreateRequest{
		MediaID: "m1", MediaPath: "/media/movie.mkv", UserAgent: "TestPlayer/1.0",
	})
	require.ErrorIs(t, err, admission.ErrQueueFull)
	assert.Zero(t, f.spawner.spawnCount())
}

func TestCreateSpawnFailureReleasesSlot(t *testing.T) {
	f := newFixture(t, mkvProfile())
	f.spawner.err = errors.New("ffmpeg not found")

	_, err := f.m.Create(context.Background(), CreateRequest{
		MediaID: "m1", MediaPath: "/media/movie.mkv", UserAgent: "TestPlayer/1.0",
	})
	require.Error(t, err)
	require.Len(t, f.admitter.admitted, 1)
	assert.Equal(t, f.admitter.admitted, f.admitter.released,
		"the slot taken for the failed session comes straight back")
}

func TestCreateUnhealthyMediaDowngrades(t *testing.T) {
	f := newFixture(t, mp4Profile())
	f.health.status = models.HealthStatusSuspect
	s := f.create(t)

	assert.Equal(t, planner.ModeTranscodeHLS, s.Plan().Mode)
	assert.Contains(t, s.Plan().ReasonCodes, planner.ReasonHealthDowngrade)
	assert.Equal(t, 1, f.spawner.spawnCount())
}

func TestHLSSessionPlaylist(t *testing.T) {
	f := newFixture(t, mp4Profile())
	f.health.status = models.HealthStatusSuspect // force transcode_hls
	s := f.create(t)

	pl := s.MediaPlaylist()
	assert.Contains(t, pl, "#EXT-X-VERSION:6")
	assert.Contains(t, pl, `#EXT-X-MAP:URI="init/0"`)
	// The encoder has produced nothing yet, so no segment is on offer.
	assert.NotContains(t, pl, "#EXTINF")
	assert.NotContains(t, pl, "#EXT-X-ENDLIST")

	master := s.MasterPlaylist("media.m3u8")
	assert.Contains(t, master, "#EXT-X-STREAM-INF")
	assert.Contains(t, master, "media.m3u8")
}

func TestPlaylistPublishesAsEncoderFlushes(t *testing.T) {
	f := newFixture(t, mp4Profile())
	f.health.status = models.HealthStatusSuspect
	s := f.create(t)

	// A segment is flushed once its successor exists; file 0 alone is
	// still being written for all the playlist knows.
	writeSegment(t, s, 0, 0)
	assert.NotContains(t, s.MediaPlaylist(), "segment/0/0")
	assert.False(t, s.SegmentReady(0, 0))

	writeSegment(t, s, 0, 1)
	pl := s.MediaPlaylist()
	assert.Contains(t, pl, "segment/0/0")
	assert.NotContains(t, pl, "segment/0/1")
	assert.True(t, s.SegmentReady(0, 0))
	assert.False(t, s.SegmentReady(0, 1))

	// A clean exit flushes everything: 60s at 4s cadence is 15 segments.
	f.spawner.lastHandle().exit(nil)
	require.Eventually(t, func() bool {
		return strings.Contains(s.MediaPlaylist(), "#EXT-X-ENDLIST")
	}, time.Second, 10*time.Millisecond)
	pl = s.MediaPlaylist()
	assert.Contains(t, pl, "segment/0/14")
	assert.NotContains(t, pl, "segment/0/15")
}

func TestSeekStartsNewEpoch(t *testing.T) {
	f := newFixture(t, mp4Profile())
	f.health.status = models.HealthStatusSuspect
	s := f.create(t)
	first := f.spawner.lastHandle()
	writeSegment(t, s, 0, 0)
	writeSegment(t, s, 0, 1)

	require.NoError(t, f.m.Seek(context.Background(), s.ID, 40))

	assert.True(t, first.wasStopped())
	assert.Equal(t, 2, f.spawner.spawnCount())
	assert.Equal(t, 1, s.Epoch())
	assert.Contains(t, f.spawner.lastArgs(), "-ss 40.000")
	assert.Contains(t, f.spawner.lastArgs(), "init-1.mp4")

	pl := s.MediaPlaylist()
	assert.Contains(t, pl, "#EXT-X-DISCONTINUITY")
	assert.Contains(t, pl, `#EXT-X-MAP:URI="init/1"`)
	// Epoch 0's flushed prefix was sealed on seek and stays resolvable;
	// the file the killed encoder was mid-writing was never published.
	assert.Contains(t, pl, "segment/0/0")
	assert.NotContains(t, pl, "segment/0/1")

	// 20s remain past the seek point: 5 planned segments in epoch 1,
	// published as the new run flushes them.
	for i := 0; i <= 4; i++ {
		writeSegment(t, s, 1, i)
	}
	f.spawner.lastHandle().exit(nil)
	require.Eventually(t, func() bool {
		return strings.Contains(s.MediaPlaylist(), "segment/1/4")
	}, time.Second, 10*time.Millisecond)
	assert.NotContains(t, s.MediaPlaylist(), "segment/1/5")

	assert.Empty(t, f.health.failures, "a deliberate stop is not a media failure")
}

func TestSeekOnRangeSessionJustMovesPosition(t *testing.T) {
	f := newFixture(t, mkvProfile())
	s := f.create(t)

	require.NoError(t, f.m.Seek(context.Background(), s.ID, 30))
	assert.Equal(t, 1, f.spawner.spawnCount(), "range clients seek with byte ranges")
	assert.Equal(t, 30.0, s.Snapshot().Position)
}

func TestSwitchAudioNoOpWhenPlanUnchanged(t *testing.T) {
	f := newFixture(t, mp4Profile())
	f.health.status = models.HealthStatusSuspect
	s := f.create(t)

	// Only one audio track exists; requesting its language changes nothing.
	require.NoError(t, f.m.SwitchAudio(context.Background(), s.ID, "eng"))
	assert.Equal(t, 1, f.spawner.spawnCount())
	assert.Equal(t, 0, s.Epoch())
}

func TestSwitchAudioRestartsOnPlanChange(t *testing.T) {
	p := mp4Profile()
	p.AudioStreams = append(p.AudioStreams, probe.AudioStream{
		Index: 2, Codec: "aac", Channels: 2, Language: "fra",
	})
	f := newFixture(t, p)
	f.health.status = models.HealthStatusSuspect
	s := f.create(t)

	require.NoError(t, f.m.SwitchAudio(context.Background(), s.ID, "fra"))
	assert.Equal(t, 2, f.spawner.spawnCount())
	assert.Equal(t, 1, s.Epoch())
	assert.Contains(t, f.spawner.lastArgs(), "-map 0:2")
	assert.Equal(t, "fra", s.Plan().Audio.Language)
}

func TestTranscoderFailureRecordsHealth(t *testing.T) {
	f := newFixture(t, mkvProfile())
	s := f.create(t)

	h := f.spawner.lastHandle()
	h.tail = []string{"frame=  100", "Error while decoding stream #0:0"}
	h.exit(errors.New("exit status 1"))

	require.Eventually(t, func() bool {
		return s.Snapshot().Failed
	}, time.Second, 10*time.Millisecond)
	require.Len(t, f.health.failures, 1)
	assert.Equal(t, "Error while decoding stream #0:0", f.health.failures[0])
}

func TestTranscoderCompletionFinalizesAndRecordsSuccess(t *testing.T) {
	f := newFixture(t, mp4Profile())
	f.health.status = models.HealthStatusSuspect
	s := f.create(t)

	f.spawner.lastHandle().exit(nil)

	require.Eventually(t, func() bool {
		return strings.Contains(s.MediaPlaylist(), "#EXT-X-ENDLIST")
	}, time.Second, 10*time.Millisecond)
	f.health.mu.Lock()
	defer f.health.mu.Unlock()
	assert.Equal(t, 1, f.health.successes)
}

func TestEndReleasesEverything(t *testing.T) {
	f := newFixture(t, mkvProfile())
	s := f.create(t)
	h := f.spawner.lastHandle()

	require.NoError(t, f.m.End(context.Background(), s.ID))

	assert.True(t, h.wasStopped())
	assert.Equal(t, []string{s.ID}, f.admitter.released)
	assert.NoDirExists(t, s.Dir)
	_, err := f.m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.Empty(t, f.health.failures, "teardown kill is not a media failure")
}

func TestEndUnknownSession(t *testing.T) {
	f := newFixture(t, mp4Profile())
	assert.ErrorIs(t, f.m.End(context.Background(), "nope"), ErrSessionNotFound)
}

func TestHeartbeatAndReaper(t *testing.T) {
	f := newFixture(t, mp4Profile())
	s := f.create(t)

	base := time.Now()
	f.m.now = func() time.Time { return base }
	require.NoError(t, f.m.Heartbeat(s.ID, 12.5))
	assert.Equal(t, 12.5, s.Snapshot().Position)

	// Not yet idle.
	f.m.now = func() time.Time { return base.Add(time.Minute) }
	f.m.ReapIdle()
	_, err := f.m.Get(s.ID)
	require.NoError(t, err)

	f.m.now = func() time.Time { return base.Add(10 * time.Minute) }
	f.m.ReapIdle()
	_, err = f.m.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSnapshots(t *testing.T) {
	f := newFixture(t, mp4Profile())
	s1 := f.create(t)
	s2 := f.create(t)

	list := f.m.List()
	require.Len(t, list, 2)
	ids := []string{list[0].ID, list[1].ID}
	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, ids)
}

func TestShutdownEndsAllSessions(t *testing.T) {
	f := newFixture(t, mkvProfile())
	s1 := f.create(t)
	s2 := f.create(t)

	f.m.Shutdown(context.Background())

	assert.ElementsMatch(t, []string{s1.ID, s2.ID}, f.admitter.released)
	assert.Empty(t, f.m.List())
	assert.NoDirExists(t, filepath.Join(s1.Dir))
}

type fakeProcessStats struct {
	cpu float64
	rss uint64
}

func (f *fakeProcessStats) CPUPercent() (float64, error) { return f.cpu, nil }
func (f *fakeProcessStats) MemoryInfo() (*process.MemoryInfoStat, error) {
	return &process.MemoryInfoStat{RSS: f.rss}, nil
}

func TestSampleResources(t *testing.T) {
	orig := statProcess
	var sampled []int
	statProcess = func(pid int) (processStats, error) {
		sampled = append(sampled, pid)
		return &fakeProcessStats{cpu: 42.0, rss: 1 << 20}, nil
	}
	t.Cleanup(func() { statProcess = orig })

	f := newFixture(t, mkvProfile())
	f.create(t)

	f.m.SampleResources()
	assert.Equal(t, []int{999}, sampled)
}

func TestSampleResourcesSkipsDirectSessions(t *testing.T) {
	orig := statProcess
	statProcess = func(int) (processStats, error) {
		t.Fatal("direct sessions have no transcoder to sample")
		return nil, nil
	}
	t.Cleanup(func() { statProcess = orig })

	f := newFixture(t, mp4Profile())
	f.create(t)

	f.m.SampleResources()
}
