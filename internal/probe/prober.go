package probe

import (
	"context"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/observability"
)

// Audio/video stream durations diverging by more than this flag a sync quirk.
const audioSyncThresholdMs = 500

// Nominal vs average frame rate diverging by more than this flags VFR.
const vfrDivergence = 0.10

// Prober runs ffprobe against local files and builds MediaProfiles.
type Prober struct {
	ffprobePath    string
	timeout        time.Duration
	keyframeWindow time.Duration
	logger         *slog.Logger
}

// NewProber creates a prober from configuration.
func NewProber(cfg config.ProbeConfig, logger *slog.Logger) *Prober {
	return &Prober{
		ffprobePath:    cfg.FFprobePath,
		timeout:        cfg.Timeout,
		keyframeWindow: time.Duration(cfg.KeyframeWindowSeconds) * time.Second,
		logger:         observability.WithComponent(logger, "prober"),
	}
}

// Probe produces a full MediaProfile for the file at path, including
// keyframe analysis. The external tool gets one retry before the error is
// surfaced as a ProbeError.
func (p *Prober) Probe(ctx context.Context, path string) (*MediaProfile, error) {
	profile, err := p.probe(ctx, path, true)
	if err != nil {
		return nil, err
	}
	return profile, nil
}

// QuickProbe produces a MediaProfile without keyframe analysis, for callers
// that need stream and HDR information with minimal latency.
func (p *Prober) QuickProbe(ctx context.Context, path string) (*MediaProfile, error) {
	return p.probe(ctx, path, false)
}

func (p *Prober) probe(ctx context.Context, path string, withKeyframes bool) (*MediaProfile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, &ProbeError{Path: path, Attempts: 0, Err: err}
	}

	start := time.Now()
	result, attempts, err := p.runWithRetry(ctx, path)
	if err != nil {
		return nil, &ProbeError{Path: path, Attempts: attempts, Err: err}
	}

	profile := buildProfile(path, fi.Size(), fi.ModTime().Unix(), result)

	if withKeyframes && len(profile.VideoStreams) > 0 {
		kf, err := p.analyzeKeyframes(ctx, path, profile.DurationSecs)
		if err != nil {
			// Keyframe sampling is an accuracy/cost trade-off, not a hard
			// requirement; planning treats missing data as irregular.
			observability.WithError(p.logger, err).Warn("keyframe analysis failed",
				slog.String("path", path))
		} else {
			profile.Keyframes = kf
		}
	}

	p.logger.Debug("probed media",
		slog.String("path", path),
		slog.String("fingerprint", profile.Fingerprint),
		slog.String("container", profile.Container.String()),
		slog.Int("video_streams", len(profile.VideoStreams)),
		slog.Int("audio_streams", len(profile.AudioStreams)),
		slog.Duration("elapsed", time.Since(start)))

	return profile, nil
}

// runWithRetry invokes ffprobe, retrying once on failure.
func (p *Prober) runWithRetry(ctx context.Context, path string) (*ffprobeResult, int, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		"-show_chapters",
		path,
	}

	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		probeCtx, cancel := context.WithTimeout(ctx, p.timeout)
		var result ffprobeResult
		err := run(probeCtx, p.ffprobePath, args, &result)
		cancel()
		if err == nil {
			return &result, attempt, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, attempt, lastErr
		}
		observability.WithError(p.logger, err).Warn("ffprobe attempt failed",
			slog.String("path", path),
			slog.Int("attempt", attempt))
	}
	return nil, 2, lastErr
}

// buildProfile converts raw ffprobe output into a MediaProfile.
func buildProfile(path string, size int64, mtimeUnix int64, result *ffprobeResult) *MediaProfile {
	profile := &MediaProfile{
		Path:         path,
		Fingerprint:  FingerprintFromStat(size, mtimeUnix),
		Container:    codec.ParseContainer(result.Format.FormatName),
		FormatName:   result.Format.FormatName,
		DurationSecs: parseSeconds(result.Format.Duration),
		SizeBytes:    size,
		BitRate:      parseInt(result.Format.BitRate),
	}

	for _, s := range result.Streams {
		switch s.CodecType {
		case "video":
			// Cover art shows up as a video stream; skip streams with no
			// frame rate at all.
			if s.Disposition.Comment == 1 {
				continue
			}
			profile.VideoStreams = append(profile.VideoStreams, buildVideoStream(s))
		case "audio":
			profile.AudioStreams = append(profile.AudioStreams, buildAudioStream(s))
		case "subtitle":
			profile.SubtitleStreams = append(profile.SubtitleStreams, buildSubtitleStream(s))
		}
	}

	for i, c := range result.Chapters {
		profile.Chapters = append(profile.Chapters, Chapter{
			Index:     i,
			StartSecs: parseSeconds(c.StartTime),
			EndSecs:   parseSeconds(c.EndTime),
			Title:     c.Tags["title"],
		})
	}

	profile.Quirks = detectQuirks(profile, result)
	return profile
}

func buildVideoStream(s ffprobeStream) VideoStream {
	vs := VideoStream{
		Index:          s.Index,
		Codec:          codec.NormalizeVideo(s.CodecName),
		Profile:        s.Profile,
		Level:          s.Level,
		Width:          s.Width,
		Height:         s.Height,
		FrameRate:      parseFrameRate(s.RFrameRate),
		AvgFrameRate:   parseFrameRate(s.AvgFrameRate),
		BitRate:        parseInt(s.BitRate),
		PixFmt:         s.PixFmt,
		BitDepth:       bitDepthFromPixFmt(s.PixFmt),
		ColorPrimaries: s.ColorPrimaries,
		ColorTransfer:  s.ColorTransfer,
		FieldOrder:     s.FieldOrder,
		IsDefault:      s.Disposition.Default == 1,
		Language:       s.Tags["language"],
		Title:          s.Tags["title"],
	}
	vs.HDR, vs.DVProfile, vs.DVBLCompatible = detectHDR(s)
	return vs
}

func buildAudioStream(s ffprobeStream) AudioStream {
	title := s.Tags["title"]
	return AudioStream{
		Index:         s.Index,
		Codec:         codec.NormalizeAudio(s.CodecName),
		Profile:       s.Profile,
		SampleRate:    parseInt(s.SampleRate),
		Channels:      s.Channels,
		ChannelLayout: s.ChannelLayout,
		BitRate:       parseInt(s.BitRate),
		IsDefault:     s.Disposition.Default == 1,
		IsCommentary:  s.Disposition.Comment == 1 || containsCommentary(title),
		Language:      s.Tags["language"],
		Title:         title,
	}
}

func buildSubtitleStream(s ffprobeStream) SubtitleStream {
	return SubtitleStream{
		Index:     s.Index,
		Codec:     s.CodecName,
		IsDefault: s.Disposition.Default == 1,
		IsForced:  s.Disposition.Forced == 1,
		Language:  s.Tags["language"],
		Title:     s.Tags["title"],
	}
}

// detectHDR classifies the HDR format of a video stream by layered checks in
// priority order: Dolby Vision configuration record, HDR10+ dynamic
// metadata, PQ/HLG transfer characteristic, then the BT.2020 + 10-bit
// heuristic. The last check is best-effort: some 10-bit SDR masters carry
// BT.2020 tags and will classify as HDR10.
func detectHDR(s ffprobeStream) (format HDRFormat, dvProfile int, blCompatible bool) {
	for _, sd := range s.SideDataList {
		t := strings.ToLower(sd.SideDataType)
		if strings.Contains(t, "dovi") || strings.Contains(t, "dolby vision") {
			return HDRDolbyVision, sd.DVProfile, sd.DVBLSignal > 0
		}
	}

	for _, sd := range s.SideDataList {
		t := strings.ToLower(sd.SideDataType)
		if strings.Contains(t, "hdr10+") || strings.Contains(t, "smpte2094") {
			return HDRHDR10Plus, 0, false
		}
	}

	switch strings.ToLower(s.ColorTransfer) {
	case "smpte2084":
		return HDRHDR10, 0, false
	case "arib-std-b67":
		return HDRHLG, 0, false
	}

	if strings.ToLower(s.ColorPrimaries) == "bt2020" && bitDepthFromPixFmt(s.PixFmt) >= 10 {
		return HDRHDR10, 0, false
	}

	return HDRNone, 0, false
}

// detectQuirks inspects the assembled profile plus raw stream data for
// content properties that need special handling during delivery.
func detectQuirks(profile *MediaProfile, result *ffprobeResult) ContentQuirks {
	var quirks ContentQuirks

	quirks.LegacyContainer = profile.Container.IsLegacy()

	v := profile.DefaultVideo()
	if v == nil {
		return quirks
	}

	switch v.FieldOrder {
	case "tt", "bb", "tb", "bt":
		quirks.Interlaced = true
	}

	// VFR: nominal (r_frame_rate) vs observed average diverging >10%.
	if v.FrameRate > 0 && v.AvgFrameRate > 0 {
		divergence := math.Abs(v.FrameRate-v.AvgFrameRate) / v.FrameRate
		if divergence > vfrDivergence {
			quirks.VariableFrameRate = true
			quirks.FrameRateMin = math.Min(v.FrameRate, v.AvgFrameRate)
			quirks.FrameRateMax = math.Max(v.FrameRate, v.AvgFrameRate)
		}
	}

	// Telecine: legacy broadcast codecs running at NTSC film-transfer rates.
	if (v.Codec == string(codec.VideoMPEG2) || v.Codec == string(codec.VideoMPEG1)) &&
		v.AvgFrameRate >= 29.0 && v.AvgFrameRate < 30.0 {
		quirks.Telecined = true
	}

	// A/V sync: compare stream-level duration tags between the default
	// video and audio streams.
	a := profile.DefaultAudio()
	if a != nil {
		videoDur := streamDurationSecs(result, v.Index)
		audioDur := streamDurationSecs(result, a.Index)
		if videoDur > 0 && audioDur > 0 {
			offsetMs := int(math.Round((audioDur - videoDur) * 1000))
			if offsetMs > audioSyncThresholdMs || offsetMs < -audioSyncThresholdMs {
				quirks.AudioSyncOffsetMs = offsetMs
			}
		}
	}

	return quirks
}

func streamDurationSecs(result *ffprobeResult, index int) float64 {
	for _, s := range result.Streams {
		if s.Index == index {
			return parseSeconds(s.Duration)
		}
	}
	return 0
}

// bitDepthFromPixFmt infers the bit depth from an ffprobe pixel format name
// (yuv420p10le -> 10). Defaults to 8 for recognized 8-bit formats.
func bitDepthFromPixFmt(pixFmt string) int {
	if pixFmt == "" {
		return 0
	}
	switch {
	case strings.Contains(pixFmt, "16"):
		return 16
	case strings.Contains(pixFmt, "12"):
		return 12
	case strings.Contains(pixFmt, "10"):
		return 10
	default:
		return 8
	}
}

func containsCommentary(title string) bool {
	return strings.Contains(strings.ToLower(title), "commentary")
}
