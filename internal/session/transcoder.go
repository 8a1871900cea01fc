package session

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
)

const stderrTailLines = 40

// Invocation describes one transcoder run for a session epoch.
type Invocation struct {
	MediaPath  string
	SessionDir string
	// Epoch numbers the output files so segments from an aborted run
	// can never be confused with segments from the current one.
	Epoch int
	// StartSeconds seeks the input before decoding begins.
	StartSeconds    float64
	SegmentDuration float64
}

// InitSegmentName returns the fMP4 init segment filename for an epoch.
func InitSegmentName(epoch int) string {
	return fmt.Sprintf("init-%d.mp4", epoch)
}

// SegmentPattern returns the ffmpeg segment filename pattern for an epoch.
func SegmentPattern(epoch int) string {
	return fmt.Sprintf("seg-%d-%%05d.m4s", epoch)
}

// SegmentName returns the filename of one media segment.
func SegmentName(epoch, index int) string {
	return fmt.Sprintf("seg-%d-%05d.m4s", epoch, index)
}

// SegmentURI and InitURI are the playlist-relative URIs the HTTP layer
// serves; they map onto the filenames above.
func SegmentURI(epoch, index int) string {
	return fmt.Sprintf("segment/%d/%d", epoch, index)
}

func InitURI(epoch int) string {
	return fmt.Sprintf("init/%d", epoch)
}

// RemuxOutputName is the progressive output written for range delivery.
const RemuxOutputName = "media.mp4"

// BuildArgs turns a playback plan into the ffmpeg argument list for one
// invocation. The plan carries filter names; this is where they become
// concrete filter strings.
func BuildArgs(plan *planner.PlaybackPlan, profile *probe.MediaProfile, inv Invocation) []string {
	args := []string{"-hide_banner", "-loglevel", "warning", "-nostdin", "-y"}

	// Seeking before -i is keyframe-accurate and fast; the plan only
	// allows range seeks on keyframe-friendly files anyway.
	if inv.StartSeconds > 0 {
		args = append(args, "-ss", strconv.FormatFloat(inv.StartSeconds, 'f', 3, 64))
	}
	args = append(args, "-i", inv.MediaPath)

	args = append(args, "-map", fmt.Sprintf("0:%d", plan.Video.StreamIndex))
	if plan.Audio != nil {
		args = append(args, "-map", fmt.Sprintf("0:%d", plan.Audio.StreamIndex))
	}
	// Subtitles ride sidecar or get burned through the filter chain,
	// never muxed into the stream output.
	args = append(args, "-sn", "-dn")

	args = append(args, videoArgs(plan, profile, inv)...)
	args = append(args, audioArgs(plan)...)
	args = append(args, outputArgs(plan, inv)...)
	return args
}

func videoArgs(plan *planner.PlaybackPlan, profile *probe.MediaProfile, inv Invocation) []string {
	if plan.Video.Action == planner.ActionCopy {
		args := []string{"-c:v", "copy"}
		if plan.HDR != nil && plan.HDR.Mode == planner.HDRExtractBase {
			// Strip the Dolby Vision RPU so the HDR10 base layer stands
			// alone for clients that choke on DV metadata.
			args = append(args, "-bsf:v", "dovi_rpu=strip=1")
		}
		return args
	}

	args := []string{"-c:v", plan.Video.Encoder}
	if strings.HasPrefix(plan.Video.Encoder, "libx26") {
		args = append(args, "-preset", "veryfast")
	}
	if plan.HDR != nil && plan.HDR.Mode == planner.HDRConvertToHDR10 {
		args = append(args, "-pix_fmt", "yuv420p10le", "-tag:v", "hvc1")
	}
	if plan.Video.BitRate > 0 {
		br := strconv.Itoa(plan.Video.BitRate)
		args = append(args, "-b:v", br, "-maxrate", br, "-bufsize", strconv.Itoa(plan.Video.BitRate*2))
	}
	if vf := videoFilterChain(plan, profile, inv); vf != "" {
		args = append(args, "-vf", vf)
	}
	// Segment boundaries must land on keyframes at the planned cadence.
	if plan.Mode.IsHLS() {
		gop := gopSize(plan, profile, inv)
		args = append(args,
			"-g", strconv.Itoa(gop),
			"-keyint_min", strconv.Itoa(gop),
			"-sc_threshold", "0",
			"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%g)", inv.SegmentDuration))
	}
	return args
}

func videoFilterChain(plan *planner.PlaybackPlan, profile *probe.MediaProfile, inv Invocation) string {
	var parts []string
	if plan.Mods.Speed > 0 && plan.Mods.Speed != 1.0 {
		parts = append(parts, fmt.Sprintf("setpts=PTS/%.2f", plan.Mods.Speed))
	}
	for _, name := range plan.Video.Filters {
		switch name {
		case "yadif":
			parts = append(parts, "yadif")
		case "fieldmatch":
			parts = append(parts, "fieldmatch")
		case "decimate":
			parts = append(parts, "decimate")
		case "fps":
			parts = append(parts, fmt.Sprintf("fps=%g", targetFrameRate(plan, profile)))
		case "scale":
			parts = append(parts, fmt.Sprintf("scale=%d:%d", plan.Video.Width, plan.Video.Height))
		case "tonemap":
			parts = append(parts,
				"zscale=t=linear:npl=100",
				"tonemap=hable:desat=0",
				"zscale=p=bt709:t=bt709:m=bt709",
				"format=yuv420p")
		}
	}
	if plan.Subtitles.Mode == planner.SubtitleBurn {
		parts = append(parts, fmt.Sprintf("subtitles=%s:si=%d",
			escapeFilterPath(inv.MediaPath), subtitleRelativeIndex(plan, profile)))
	}
	return strings.Join(parts, ",")
}

// targetFrameRate picks the constant rate for VFR normalization: the
// source average rounded to the nearest integer, floor 24.
func targetFrameRate(plan *planner.PlaybackPlan, profile *probe.MediaProfile) float64 {
	for i := range profile.VideoStreams {
		if profile.VideoStreams[i].Index == plan.Video.StreamIndex {
			if fps := profile.VideoStreams[i].AvgFrameRate; fps > 0 {
				return math.Max(24, math.Round(fps))
			}
		}
	}
	return 30
}

func gopSize(plan *planner.PlaybackPlan, profile *probe.MediaProfile, inv Invocation) int {
	fps := targetFrameRate(plan, profile)
	return int(math.Round(fps * inv.SegmentDuration))
}

// subtitleRelativeIndex maps the absolute stream index to ffmpeg's
// si= numbering, which counts subtitle streams only.
func subtitleRelativeIndex(plan *planner.PlaybackPlan, profile *probe.MediaProfile) int {
	for i := range profile.SubtitleStreams {
		if profile.SubtitleStreams[i].Index == plan.Subtitles.StreamIndex {
			return i
		}
	}
	return 0
}

// escapeFilterPath quotes a path for use inside a filter argument, where
// colons and quotes are syntax.
func escapeFilterPath(path string) string {
	path = strings.ReplaceAll(path, `\`, `\\`)
	path = strings.ReplaceAll(path, `'`, `\'`)
	path = strings.ReplaceAll(path, `:`, `\:`)
	return "'" + path + "'"
}

func audioArgs(plan *planner.PlaybackPlan) []string {
	if plan.Audio == nil {
		return []string{"-an"}
	}
	if plan.Audio.Action == planner.ActionCopy {
		return []string{"-c:a", "copy"}
	}
	args := []string{
		"-c:a", codec.GetAudioEncoder(codec.Audio(plan.Audio.Codec)),
		"-ac", strconv.Itoa(plan.Audio.Channels),
		"-b:a", audioBitrate(plan.Audio.Channels),
	}
	if af := audioFilterChain(plan); af != "" {
		args = append(args, "-af", af)
	}
	return args
}

func audioBitrate(channels int) string {
	if channels > 2 {
		return "384k"
	}
	return "128k"
}

func audioFilterChain(plan *planner.PlaybackPlan) string {
	var parts []string
	for _, name := range plan.Audio.Filters {
		switch name {
		case "loudnorm":
			parts = append(parts, "loudnorm=I=-16:LRA=11:TP=-1.5")
		case "acompressor":
			parts = append(parts, "acompressor=ratio=4")
		case "atempo":
			parts = append(parts, fmt.Sprintf("atempo=%.2f", plan.Mods.Speed))
		case "aresample":
			parts = append(parts, "aresample=async=1:first_pts=0")
		}
	}
	return strings.Join(parts, ",")
}

func outputArgs(plan *planner.PlaybackPlan, inv Invocation) []string {
	if plan.Mode.IsHLS() {
		return []string{
			"-f", "hls",
			"-hls_time", strconv.FormatFloat(inv.SegmentDuration, 'f', -1, 64),
			"-hls_playlist_type", "event",
			"-hls_segment_type", "fmp4",
			"-hls_fmp4_init_filename", InitSegmentName(inv.Epoch),
			"-hls_segment_filename", SegmentPattern(inv.Epoch),
			"-hls_flags", "independent_segments",
			"-start_number", "0",
			"ffmpeg.m3u8",
		}
	}
	// Range delivery gets a single progressive MP4 with the moov up
	// front; the handler serves it only once the remux completes.
	return []string{
		"-movflags", "+faststart",
		"-f", "mp4",
		RemuxOutputName,
	}
}

// Handle is a running transcoder process.
type Handle interface {
	PID() int
	// Done is closed when the process exits; it yields the exit error.
	Done() <-chan error
	// Stop force-kills the process group and waits for exit.
	Stop(ctx context.Context) error
	// StderrTail returns the last captured stderr lines, newest last.
	StderrTail() []string
}

// Spawner starts transcoder processes. The ffmpeg implementation is the
// only real one; tests substitute fakes.
type Spawner interface {
	Spawn(ctx context.Context, dir string, args []string) (Handle, error)
}

// FFmpegSpawner launches ffmpeg in a session directory, recording the
// PID so crash recovery can find the process later.
type FFmpegSpawner struct {
	ffmpegPath string
	logger     *slog.Logger
}

// NewFFmpegSpawner creates a spawner; ffmpegPath empty means find
// ffmpeg on PATH.
func NewFFmpegSpawner(ffmpegPath string, logger *slog.Logger) *FFmpegSpawner {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &FFmpegSpawner{
		ffmpegPath: ffmpegPath,
		logger:     observability.WithComponent(logger, "transcoder"),
	}
}

func (s *FFmpegSpawner) Spawn(ctx context.Context, dir string, args []string) (Handle, error) {
	cmd := exec.Command(s.ffmpegPath, args...)
	cmd.Dir = dir
	// Own process group so Stop can take down ffmpeg's children too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting ffmpeg: %w", err)
	}
	pid := cmd.Process.Pid
	if err := WritePIDFile(dir, pid); err != nil {
		observability.WithError(s.logger, err).Warn("writing pid file",
			slog.String("dir", dir))
	}
	s.logger.Info("transcoder started",
		slog.Int("pid", pid),
		slog.String("dir", dir))

	h := &ffmpegHandle{
		pid:  pid,
		done: make(chan error, 1),
	}
	go h.tailStderr(stderr)
	go func() {
		err := cmd.Wait()
		h.done <- err
		close(h.done)
	}()
	return h, nil
}

type ffmpegHandle struct {
	pid  int
	done chan error

	mu     sync.Mutex
	tail   []string
	exited bool
	err    error
}

func (h *ffmpegHandle) PID() int { return h.pid }

func (h *ffmpegHandle) Done() <-chan error { return h.done }

func (h *ffmpegHandle) tailStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		h.mu.Lock()
		h.tail = append(h.tail, sc.Text())
		if len(h.tail) > stderrTailLines {
			h.tail = h.tail[len(h.tail)-stderrTailLines:]
		}
		h.mu.Unlock()
	}
}

func (h *ffmpegHandle) StderrTail() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.tail))
	copy(out, h.tail)
	return out
}

func (h *ffmpegHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return nil
	}
	// Negative PID signals the whole process group.
	if err := syscall.Kill(-h.pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return fmt.Errorf("killing transcoder group: %w", err)
	}
	select {
	case err := <-h.done:
		h.mu.Lock()
		h.exited = true
		h.err = err
		h.mu.Unlock()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
