package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ffprobeResult is the raw ffprobe JSON document.
type ffprobeResult struct {
	Format   ffprobeFormat    `json:"format"`
	Streams  []ffprobeStream  `json:"streams"`
	Chapters []ffprobeChapter `json:"chapters"`
}

// ffprobeFormat contains container format information.
type ffprobeFormat struct {
	Filename       string            `json:"filename"`
	NumStreams     int               `json:"nb_streams"`
	FormatName     string            `json:"format_name"`
	FormatLongName string            `json:"format_long_name"`
	StartTime      string            `json:"start_time"`
	Duration       string            `json:"duration"`
	Size           string            `json:"size"`
	BitRate        string            `json:"bit_rate"`
	Tags           map[string]string `json:"tags"`
}

// ffprobeStream contains per-stream information.
type ffprobeStream struct {
	Index          int                `json:"index"`
	CodecName      string             `json:"codec_name"`
	Profile        string             `json:"profile"`
	CodecType      string             `json:"codec_type"` // video, audio, subtitle, data
	Width          int                `json:"width,omitempty"`
	Height         int                `json:"height,omitempty"`
	PixFmt         string             `json:"pix_fmt,omitempty"`
	Level          int                `json:"level,omitempty"`
	ColorSpace     string             `json:"color_space,omitempty"`
	ColorTransfer  string             `json:"color_transfer,omitempty"`
	ColorPrimaries string             `json:"color_primaries,omitempty"`
	FieldOrder     string             `json:"field_order,omitempty"`
	SampleRate     string             `json:"sample_rate,omitempty"`
	Channels       int                `json:"channels,omitempty"`
	ChannelLayout  string             `json:"channel_layout,omitempty"`
	RFrameRate     string             `json:"r_frame_rate,omitempty"`
	AvgFrameRate   string             `json:"avg_frame_rate,omitempty"`
	Duration       string             `json:"duration,omitempty"`
	BitRate        string             `json:"bit_rate,omitempty"`
	Disposition    ffprobeDisposition `json:"disposition,omitempty"`
	Tags           map[string]string  `json:"tags,omitempty"`
	SideDataList   []ffprobeSideData  `json:"side_data_list,omitempty"`
}

// ffprobeDisposition contains stream disposition flags.
type ffprobeDisposition struct {
	Default int `json:"default"`
	Forced  int `json:"forced"`
	Comment int `json:"comment"`
}

// ffprobeSideData carries codec side data; Dolby Vision configuration and
// HDR10+ dynamic metadata show up here.
type ffprobeSideData struct {
	SideDataType string `json:"side_data_type"`
	DVProfile    int    `json:"dv_profile,omitempty"`
	DVLevel      int    `json:"dv_level,omitempty"`
	DVBLSignal   int    `json:"dv_bl_signal_compatibility_id,omitempty"`
}

// ffprobeChapter is a chapter marker.
type ffprobeChapter struct {
	ID        int64             `json:"id"`
	StartTime string            `json:"start_time"`
	EndTime   string            `json:"end_time"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// ffprobePacket is one entry of -show_packets output, used for keyframe
// sampling.
type ffprobePacket struct {
	CodecType string `json:"codec_type"`
	PtsTime   string `json:"pts_time"`
	Flags     string `json:"flags"`
}

// ffprobePackets is the -show_packets JSON document.
type ffprobePackets struct {
	Packets []ffprobePacket `json:"packets"`
}

// ProbeError wraps a failed probe with the path and attempt count so callers
// can distinguish tool failures from planning failures.
type ProbeError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probing %s failed after %d attempt(s): %v", e.Path, e.Attempts, e.Err)
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// run executes ffprobe with the given args and decodes JSON output into out.
func run(ctx context.Context, ffprobePath string, args []string, out any) error {
	cmd := exec.CommandContext(ctx, ffprobePath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("ffprobe: %w", ctx.Err())
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("ffprobe failed: %s: %w", msg, err)
		}
		return fmt.Errorf("ffprobe failed: %w", err)
	}

	if err := json.Unmarshal(output, out); err != nil {
		return fmt.Errorf("parsing ffprobe output: %w", err)
	}
	return nil
}

// parseFrameRate parses a frame rate string like "30000/1001" or "25/1".
func parseFrameRate(fr string) float64 {
	parts := strings.Split(fr, "/")
	if len(parts) != 2 {
		if f, err := strconv.ParseFloat(fr, 64); err == nil {
			return f
		}
		return 0
	}

	num, err1 := strconv.ParseFloat(parts[0], 64)
	den, err2 := strconv.ParseFloat(parts[1], 64)
	if err1 != nil || err2 != nil || den == 0 {
		return 0
	}

	return num / den
}

// parseSeconds parses an ffprobe decimal-seconds string, 0 on failure.
func parseSeconds(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

// parseInt parses an ffprobe integer string, 0 on failure.
func parseInt(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
