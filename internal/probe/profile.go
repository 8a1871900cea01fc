// Package probe extracts technical media profiles from source files by
// running ffprobe and analyzing its JSON output. A profile captures the
// container, every stream, HDR format, keyframe cadence, and content quirks
// that downstream planning needs. Profiles are keyed by a size+mtime
// fingerprint so they are recomputed only when the file changes.
package probe

import (
	"fmt"
	"os"

	"github.com/driftserve/drift/internal/codec"
)

// HDRFormat identifies the high-dynamic-range encoding of a video stream.
type HDRFormat string

// HDR format constants, from richest to none.
const (
	HDRDolbyVision HDRFormat = "dolby_vision"
	HDRHDR10Plus   HDRFormat = "hdr10plus"
	HDRHDR10       HDRFormat = "hdr10"
	HDRHLG         HDRFormat = "hlg"
	HDRNone        HDRFormat = "sdr"
)

// IsHDR returns true for any format other than SDR.
func (f HDRFormat) IsHDR() bool {
	return f != HDRNone && f != ""
}

// VideoStream describes one video stream in the source.
type VideoStream struct {
	Index        int       `json:"index"`
	Codec        string    `json:"codec"`
	Profile      string    `json:"profile,omitempty"`
	Level        int       `json:"level,omitempty"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	FrameRate    float64   `json:"frame_rate,omitempty"`
	AvgFrameRate float64   `json:"avg_frame_rate,omitempty"`
	BitRate      int       `json:"bit_rate,omitempty"`
	PixFmt       string    `json:"pix_fmt,omitempty"`
	BitDepth     int       `json:"bit_depth,omitempty"`
	HDR          HDRFormat `json:"hdr"`
	// Dolby Vision profile number (5, 7, 8...), 0 when not Dolby Vision.
	DVProfile      int    `json:"dv_profile,omitempty"`
	DVBLCompatible bool   `json:"dv_bl_compatible,omitempty"`
	ColorPrimaries string `json:"color_primaries,omitempty"`
	ColorTransfer  string `json:"color_transfer,omitempty"`
	FieldOrder     string `json:"field_order,omitempty"`
	IsDefault      bool   `json:"is_default"`
	Language       string `json:"language,omitempty"`
	Title          string `json:"title,omitempty"`
}

// AudioStream describes one audio stream in the source.
type AudioStream struct {
	Index         int    `json:"index"`
	Codec         string `json:"codec"`
	Profile       string `json:"profile,omitempty"`
	SampleRate    int    `json:"sample_rate,omitempty"`
	Channels      int    `json:"channels"`
	ChannelLayout string `json:"channel_layout,omitempty"`
	BitRate       int    `json:"bit_rate,omitempty"`
	IsDefault     bool   `json:"is_default"`
	IsCommentary  bool   `json:"is_commentary"`
	Language      string `json:"language,omitempty"`
	Title         string `json:"title,omitempty"`
}

// SubtitleStream describes one subtitle stream in the source.
type SubtitleStream struct {
	Index     int    `json:"index"`
	Codec     string `json:"codec"`
	IsDefault bool   `json:"is_default"`
	IsForced  bool   `json:"is_forced"`
	Language  string `json:"language,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Chapter describes a chapter marker.
type Chapter struct {
	Index     int     `json:"index"`
	StartSecs float64 `json:"start_secs"`
	EndSecs   float64 `json:"end_secs"`
	Title     string  `json:"title,omitempty"`
}

// KeyframeAnalysis summarizes keyframe cadence sampled from three regions of
// the file (start, middle, end) rather than a full scan.
type KeyframeAnalysis struct {
	// Largest observed gap between consecutive keyframes, seconds.
	MaxInterval float64 `json:"max_interval"`
	// Mean gap between consecutive keyframes, seconds.
	AvgInterval float64 `json:"avg_interval"`
	// True when the coefficient of variation of intervals is below 20%.
	IsRegular bool `json:"is_regular"`
	// 0..1, scaled by how many intervals the sample captured.
	Confidence float64 `json:"confidence"`
	// Number of inter-keyframe intervals observed across all regions.
	SampleCount int `json:"sample_count"`
}

// ContentQuirks flags source properties that need fixing during delivery.
// Zero value means no quirks.
type ContentQuirks struct {
	Interlaced bool `json:"interlaced,omitempty"`
	// Variable frame rate: nominal vs average diverge by more than 10%.
	VariableFrameRate bool    `json:"variable_frame_rate,omitempty"`
	FrameRateMin      float64 `json:"frame_rate_min,omitempty"`
	FrameRateMax      float64 `json:"frame_rate_max,omitempty"`
	Telecined         bool    `json:"telecined,omitempty"`
	// Audio leads (+) or lags (-) video by this many milliseconds.
	AudioSyncOffsetMs int  `json:"audio_sync_offset_ms,omitempty"`
	LegacyContainer   bool `json:"legacy_container,omitempty"`
}

// Any returns true if at least one quirk is flagged.
func (q ContentQuirks) Any() bool {
	return q.Interlaced || q.VariableFrameRate || q.Telecined ||
		q.AudioSyncOffsetMs != 0 || q.LegacyContainer
}

// MediaProfile is the complete technical fingerprint of one source file.
// Immutable once computed; recomputed only when the file fingerprint changes.
type MediaProfile struct {
	Path         string          `json:"path"`
	Fingerprint  string          `json:"fingerprint"`
	Container    codec.Container `json:"container"`
	FormatName   string          `json:"format_name"`
	DurationSecs float64         `json:"duration_secs"`
	SizeBytes    int64           `json:"size_bytes"`
	BitRate      int             `json:"bit_rate,omitempty"`

	VideoStreams    []VideoStream    `json:"video_streams"`
	AudioStreams    []AudioStream    `json:"audio_streams"`
	SubtitleStreams []SubtitleStream `json:"subtitle_streams,omitempty"`
	Chapters        []Chapter        `json:"chapters,omitempty"`

	Keyframes KeyframeAnalysis `json:"keyframes"`
	Quirks    ContentQuirks    `json:"quirks"`
}

// DefaultVideo returns the video stream flagged default, else the first.
// Returns nil when the file has no video streams.
func (p *MediaProfile) DefaultVideo() *VideoStream {
	for i := range p.VideoStreams {
		if p.VideoStreams[i].IsDefault {
			return &p.VideoStreams[i]
		}
	}
	if len(p.VideoStreams) > 0 {
		return &p.VideoStreams[0]
	}
	return nil
}

// DefaultAudio returns the audio stream flagged default, else the first.
// Returns nil when the file has no audio streams.
func (p *MediaProfile) DefaultAudio() *AudioStream {
	for i := range p.AudioStreams {
		if p.AudioStreams[i].IsDefault {
			return &p.AudioStreams[i]
		}
	}
	if len(p.AudioStreams) > 0 {
		return &p.AudioStreams[0]
	}
	return nil
}

// HDRFormat returns the HDR format of the default video stream, or SDR when
// the file has no video.
func (p *MediaProfile) HDRFormat() HDRFormat {
	if v := p.DefaultVideo(); v != nil {
		return v.HDR
	}
	return HDRNone
}

// Fingerprint derives the cache-invalidation identity of a file from its
// size and modification time. A changed fingerprint means the profile must
// be recomputed.
func Fingerprint(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("fingerprinting %s: %w", path, err)
	}
	return FingerprintFromStat(fi.Size(), fi.ModTime().Unix()), nil
}

// FingerprintFromStat builds the fingerprint string from known stat values.
func FingerprintFromStat(size int64, mtimeUnix int64) string {
	return fmt.Sprintf("%d-%d", size, mtimeUnix)
}
