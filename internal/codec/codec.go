// Package codec provides a unified codec registry for video and audio codecs.
// It consolidates codec definitions, encoder mappings, container classification,
// and RFC 6381 codec strings used throughout drift for probing, planning, and
// playlist generation.
package codec

import (
	"fmt"
	"strings"
)

// Video represents a video codec.
type Video string

// Video codec constants.
const (
	VideoH264 Video = "h264" // H.264/AVC
	VideoH265 Video = "h265" // H.265/HEVC
	VideoVP8  Video = "vp8"  // VP8
	VideoVP9  Video = "vp9"  // VP9 (fMP4 only)
	VideoAV1  Video = "av1"  // AV1 (fMP4 only)
	// Legacy/less common codecs (for detection, not encoding targets)
	VideoMPEG1  Video = "mpeg1"
	VideoMPEG2  Video = "mpeg2"
	VideoMPEG4  Video = "mpeg4"
	VideoVC1    Video = "vc1"
	VideoProRes Video = "prores"
	VideoDNxHD  Video = "dnxhd"
	VideoTheora Video = "theora"
)

// Audio represents an audio codec.
type Audio string

// Audio codec constants.
const (
	AudioAAC    Audio = "aac"    // AAC
	AudioMP3    Audio = "mp3"    // MP3
	AudioAC3    Audio = "ac3"    // Dolby Digital (AC-3)
	AudioEAC3   Audio = "eac3"   // Dolby Digital Plus (E-AC-3)
	AudioOpus   Audio = "opus"   // Opus (fMP4 only)
	AudioVorbis Audio = "vorbis" // Vorbis
	AudioFLAC   Audio = "flac"   // FLAC
	AudioDTS    Audio = "dts"    // DTS
	AudioTrueHD Audio = "truehd" // Dolby TrueHD
	AudioPCM    Audio = "pcm"    // PCM
)

// Container represents a media container format as reported by ffprobe.
type Container string

// Container format constants.
const (
	ContainerMP4     Container = "mp4"
	ContainerMKV     Container = "matroska"
	ContainerWebM    Container = "webm"
	ContainerMPEGTS  Container = "mpegts"
	ContainerAVI     Container = "avi"
	ContainerASF     Container = "asf" // WMV
	ContainerMPEGPS  Container = "mpeg"
	ContainerFLV     Container = "flv"
	ContainerOgg     Container = "ogg"
	ContainerUnknown Container = ""
)

// OutputFormat represents an output container/format type for FFmpeg.
type OutputFormat string

// Output format constants.
const (
	FormatMPEGTS  OutputFormat = "mpegts"
	FormatHLS     OutputFormat = "hls"
	FormatFLV     OutputFormat = "flv"
	FormatMP4     OutputFormat = "mp4"
	FormatFMP4    OutputFormat = "fmp4" // Fragmented MP4 (CMAF)
	FormatMKV     OutputFormat = "matroska"
	FormatWebM    OutputFormat = "webm"
	FormatUnknown OutputFormat = ""
)

// HWAccel represents a hardware acceleration type.
type HWAccel string

// Hardware acceleration constants.
const (
	HWAccelAuto  HWAccel = "auto"         // Auto-detect best available
	HWAccelNone  HWAccel = "none"         // Disabled (software only)
	HWAccelCUDA  HWAccel = "cuda"         // NVIDIA CUDA/NVDEC
	HWAccelQSV   HWAccel = "qsv"          // Intel QuickSync
	HWAccelVAAPI HWAccel = "vaapi"        // Linux VA-API
	HWAccelVT    HWAccel = "videotoolbox" // macOS VideoToolbox
)

// String returns the string representation of the video codec.
func (v Video) String() string {
	return string(v)
}

// String returns the string representation of the audio codec.
func (a Audio) String() string {
	return string(a)
}

// String returns the string representation of the container.
func (c Container) String() string {
	return string(c)
}

// String returns the string representation of the hardware acceleration type.
func (h HWAccel) String() string {
	return string(h)
}

// videoInfo contains metadata about a video codec.
type videoInfo struct {
	// Canonical name (h264, h265, etc.)
	Name Video
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg encoders for each hardware acceleration type
	Encoders map[HWAccel]string
}

// audioInfo contains metadata about an audio codec.
type audioInfo struct {
	// Canonical name (aac, mp3, etc.)
	Name Audio
	// All known aliases and encoder names that map to this codec
	Aliases []string
	// FFmpeg encoder name
	Encoder string
	// RFC 6381 codec string for playlist CODECS attributes ("" if none)
	RFC6381 string
}

// videoRegistry contains all video codec definitions.
var videoRegistry = map[Video]*videoInfo{
	VideoH264: {
		Name: VideoH264,
		Aliases: []string{
			"h264", "avc", "avc1", "h.264",
			// Encoders
			"libx264", "h264_nvenc", "h264_qsv", "h264_vaapi",
			"h264_videotoolbox", "h264_amf", "h264_mf", "h264_omx", "h264_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx264",
			HWAccelAuto:  "libx264",
			HWAccelCUDA:  "h264_nvenc",
			HWAccelQSV:   "h264_qsv",
			HWAccelVAAPI: "h264_vaapi",
			HWAccelVT:    "h264_videotoolbox",
		},
	},
	VideoH265: {
		Name: VideoH265,
		Aliases: []string{
			"h265", "hevc", "hev1", "hvc1", "h.265",
			// Encoders
			"libx265", "hevc_nvenc", "hevc_qsv", "hevc_vaapi",
			"hevc_videotoolbox", "hevc_amf", "hevc_mf", "hevc_v4l2m2m",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libx265",
			HWAccelAuto:  "libx265",
			HWAccelCUDA:  "hevc_nvenc",
			HWAccelQSV:   "hevc_qsv",
			HWAccelVAAPI: "hevc_vaapi",
			HWAccelVT:    "hevc_videotoolbox",
		},
	},
	VideoVP8: {
		Name:     VideoVP8,
		Aliases:  []string{"vp8", "libvpx"},
		Encoders: map[HWAccel]string{HWAccelNone: "libvpx", HWAccelAuto: "libvpx"},
	},
	VideoVP9: {
		Name:    VideoVP9,
		Aliases: []string{"vp9", "vp09", "libvpx-vp9", "vp9_qsv", "vp9_vaapi"},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libvpx-vp9",
			HWAccelAuto:  "libvpx-vp9",
			HWAccelQSV:   "vp9_qsv",
			HWAccelVAAPI: "vp9_vaapi",
		},
	},
	VideoAV1: {
		Name: VideoAV1,
		Aliases: []string{
			"av1", "av01",
			"libaom-av1", "libsvtav1", "librav1e",
			"av1_nvenc", "av1_qsv", "av1_vaapi", "av1_amf",
		},
		Encoders: map[HWAccel]string{
			HWAccelNone:  "libaom-av1",
			HWAccelAuto:  "libaom-av1",
			HWAccelCUDA:  "av1_nvenc",
			HWAccelQSV:   "av1_qsv",
			HWAccelVAAPI: "av1_vaapi",
		},
	},
	VideoMPEG1: {
		Name:     VideoMPEG1,
		Aliases:  []string{"mpeg1", "mpeg1video"},
		Encoders: map[HWAccel]string{HWAccelNone: "mpeg1video"},
	},
	VideoMPEG2: {
		Name:     VideoMPEG2,
		Aliases:  []string{"mpeg2", "mpeg2video"},
		Encoders: map[HWAccel]string{HWAccelNone: "mpeg2video"},
	},
	VideoMPEG4: {
		Name:     VideoMPEG4,
		Aliases:  []string{"mpeg4", "divx", "xvid"},
		Encoders: map[HWAccel]string{HWAccelNone: "mpeg4"},
	},
	VideoVC1: {
		Name:     VideoVC1,
		Aliases:  []string{"vc1", "wmv3"},
		Encoders: nil, // decode only
	},
	VideoProRes: {
		Name:     VideoProRes,
		Aliases:  []string{"prores", "prores_ks"},
		Encoders: map[HWAccel]string{HWAccelNone: "prores_ks"},
	},
	VideoDNxHD: {
		Name:     VideoDNxHD,
		Aliases:  []string{"dnxhd", "dnxhr"},
		Encoders: map[HWAccel]string{HWAccelNone: "dnxhd"},
	},
	VideoTheora: {
		Name:     VideoTheora,
		Aliases:  []string{"theora", "libtheora"},
		Encoders: map[HWAccel]string{HWAccelNone: "libtheora"},
	},
}

// audioRegistry contains all audio codec definitions.
var audioRegistry = map[Audio]*audioInfo{
	AudioAAC: {
		Name:    AudioAAC,
		Aliases: []string{"aac", "mp4a", "libfdk_aac", "aac_at"},
		Encoder: "aac",
		RFC6381: "mp4a.40.2",
	},
	AudioMP3: {
		Name:    AudioMP3,
		Aliases: []string{"mp3", "mp3float", "libmp3lame"},
		Encoder: "libmp3lame",
		RFC6381: "mp4a.40.34",
	},
	AudioAC3: {
		Name:    AudioAC3,
		Aliases: []string{"ac3", "ac-3", "a52", "ac3_fixed"},
		Encoder: "ac3",
		RFC6381: "ac-3",
	},
	AudioEAC3: {
		Name:    AudioEAC3,
		Aliases: []string{"eac3", "ec-3"},
		Encoder: "eac3",
		RFC6381: "ec-3",
	},
	AudioOpus: {
		Name:    AudioOpus,
		Aliases: []string{"opus", "libopus"},
		Encoder: "libopus",
		RFC6381: "Opus",
	},
	AudioVorbis: {
		Name:    AudioVorbis,
		Aliases: []string{"vorbis", "libvorbis"},
		Encoder: "libvorbis",
	},
	AudioFLAC: {
		Name:    AudioFLAC,
		Aliases: []string{"flac", "libflac"},
		Encoder: "flac",
		RFC6381: "fLaC",
	},
	AudioDTS: {
		Name:    AudioDTS,
		Aliases: []string{"dts", "dca"},
		Encoder: "dca",
	},
	AudioTrueHD: {
		Name:    AudioTrueHD,
		Aliases: []string{"truehd", "mlp"},
		Encoder: "truehd",
	},
	AudioPCM: {
		Name:    AudioPCM,
		Aliases: []string{"pcm", "pcm_s16le", "pcm_s24le", "pcm_s32le"},
		Encoder: "pcm_s16le",
	},
}

// videoAliasIndex maps all aliases to their canonical codec.
var videoAliasIndex map[string]Video

// audioAliasIndex maps all aliases to their canonical codec.
var audioAliasIndex map[string]Audio

func init() {
	// Build video alias index
	videoAliasIndex = make(map[string]Video)
	for codec, info := range videoRegistry {
		for _, alias := range info.Aliases {
			videoAliasIndex[strings.ToLower(alias)] = codec
		}
	}

	// Build audio alias index
	audioAliasIndex = make(map[string]Audio)
	for codec, info := range audioRegistry {
		for _, alias := range info.Aliases {
			audioAliasIndex[strings.ToLower(alias)] = codec
		}
	}
}

// ParseVideo parses a string (codec name, alias, or encoder) to a Video codec.
// Returns the canonical codec and whether the parse was successful.
func ParseVideo(s string) (Video, bool) {
	if s == "" {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	codec, ok := videoAliasIndex[s]
	return codec, ok
}

// ParseAudio parses a string (codec name, alias, or encoder) to an Audio codec.
// Returns the canonical codec and whether the parse was successful.
func ParseAudio(s string) (Audio, bool) {
	if s == "" {
		return "", false
	}
	s = strings.ToLower(strings.TrimSpace(s))
	codec, ok := audioAliasIndex[s]
	return codec, ok
}

// NormalizeCodecString normalizes codec strings that may carry RFC 6381
// version/profile suffixes (e.g. "avc1.64001f", "mp4a.40.2") to canonical form.
// Client capability payloads often report codecs in this form.
func NormalizeCodecString(name string) string {
	if name == "" {
		return name
	}

	lower := strings.ToLower(name)

	// First try exact match (handles simple cases like "h264", "aac")
	if codec, ok := videoAliasIndex[lower]; ok {
		return string(codec)
	}
	if codec, ok := audioAliasIndex[lower]; ok {
		return string(codec)
	}

	// Handle RFC 6381 strings with version/profile suffixes
	// Common formats: avc1.*, hev1.*, hvc1.*, mp4a.*, vp09.*, av01.*, ac-3, ec-3
	if len(lower) >= 4 {
		prefix := lower[:4]
		switch prefix {
		case "avc1", "avc3":
			return string(VideoH264)
		case "hev1", "hvc1":
			return string(VideoH265)
		case "mp4a":
			return string(AudioAAC) // mp4a.40.2 = AAC-LC, mp4a.40.5 = HE-AAC, etc.
		case "vp09":
			return string(VideoVP9)
		case "av01":
			return string(VideoAV1)
		case "ac-3":
			return string(AudioAC3)
		case "ec-3":
			return string(AudioEAC3)
		case "opus":
			return string(AudioOpus)
		}
	}

	return name
}

// NormalizeVideo normalizes a video codec/encoder name to its canonical form.
// Returns the canonical codec string (e.g., "h264", "h265") or the input unchanged.
func NormalizeVideo(name string) string {
	if codec, ok := ParseVideo(name); ok {
		return string(codec)
	}
	return name
}

// NormalizeAudio normalizes an audio codec/encoder name to its canonical form.
// Returns the canonical codec string (e.g., "aac", "mp3") or the input unchanged.
func NormalizeAudio(name string) string {
	if codec, ok := ParseAudio(name); ok {
		return string(codec)
	}
	return name
}

// GetVideoEncoder returns the FFmpeg encoder name for a video codec with the given
// hardware acceleration. Falls back to software encoder if hwaccel not supported.
func GetVideoEncoder(v Video, hwaccel HWAccel) string {
	info, ok := videoRegistry[v]
	if !ok {
		return string(v) // Return as-is for unknown codecs
	}

	if info.Encoders == nil {
		return "" // Decode-only codec
	}

	// Try requested hwaccel first
	if encoder, ok := info.Encoders[hwaccel]; ok {
		return encoder
	}

	// Fall back to software encoder
	if encoder, ok := info.Encoders[HWAccelNone]; ok {
		return encoder
	}

	return string(v)
}

// GetAudioEncoder returns the FFmpeg encoder name for an audio codec.
func GetAudioEncoder(a Audio) string {
	info, ok := audioRegistry[a]
	if !ok {
		return string(a) // Return as-is for unknown codecs
	}
	return info.Encoder
}

// containerAliasIndex maps ffprobe format_name values (and common extensions)
// to canonical containers. ffprobe reports comma-separated lists for demuxers
// that handle multiple brands; ParseContainer checks each entry.
var containerAliasIndex = map[string]Container{
	"mp4":      ContainerMP4,
	"mov":      ContainerMP4,
	"m4a":      ContainerMP4,
	"m4v":      ContainerMP4,
	"3gp":      ContainerMP4,
	"3g2":      ContainerMP4,
	"mj2":      ContainerMP4,
	"matroska": ContainerMKV,
	"mkv":      ContainerMKV,
	"webm":     ContainerWebM,
	"mpegts":   ContainerMPEGTS,
	"ts":       ContainerMPEGTS,
	"avi":      ContainerAVI,
	"asf":      ContainerASF,
	"wmv":      ContainerASF,
	"mpeg":     ContainerMPEGPS,
	"mpg":      ContainerMPEGPS,
	"vob":      ContainerMPEGPS,
	"flv":      ContainerFLV,
	"ogg":      ContainerOgg,
	"ogv":      ContainerOgg,
}

// ParseContainer maps an ffprobe format_name (possibly a comma-separated
// demuxer list such as "mov,mp4,m4a,3gp,3g2,mj2") to a canonical container.
func ParseContainer(formatName string) Container {
	for _, part := range strings.Split(formatName, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if c, ok := containerAliasIndex[part]; ok {
			return c
		}
	}
	return ContainerUnknown
}

// IsLegacy returns true for container formats that predate reliable
// byte-range serving and stream copying (AVI, WMV/ASF, MPEG-PS, FLV).
func (c Container) IsLegacy() bool {
	switch c {
	case ContainerAVI, ContainerASF, ContainerMPEGPS, ContainerFLV:
		return true
	default:
		return false
	}
}

// SupportsRangeServing returns true if the container can be served directly
// with HTTP byte-range requests and seeked client-side.
func (c Container) SupportsRangeServing() bool {
	switch c {
	case ContainerMP4, ContainerMKV, ContainerWebM:
		return true
	default:
		return false
	}
}

// RFC6381Video builds the RFC 6381 codec string for a video stream, suitable
// for the CODECS attribute of an HLS master playlist. Profile is the ffprobe
// profile name ("High", "Main 10", ...) and level the ffprobe level value
// (e.g. 41 for H.264 level 4.1, 123 for HEVC level 4.1).
func RFC6381Video(v Video, profile string, level int) string {
	switch v {
	case VideoH264:
		return rfc6381H264(profile, level)
	case VideoH265:
		return rfc6381H265(profile, level)
	case VideoVP9:
		// Generic profile 0, 8-bit; ffprobe does not expose enough to do better.
		return "vp09.00.10.08"
	case VideoAV1:
		return "av01.0.08M.08"
	case VideoVP8:
		return "vp8"
	default:
		return string(v)
	}
}

// rfc6381H264 builds avc1.PPCCLL from the ffprobe profile name and level.
func rfc6381H264(profile string, level int) string {
	// profile_idc + constraint flags byte
	pc := "6400" // High, no constraints
	switch strings.ToLower(profile) {
	case "baseline":
		pc = "42C0"
	case "constrained baseline":
		pc = "42E0"
	case "main":
		pc = "4D40"
	case "high":
		pc = "6400"
	case "high 10":
		pc = "6E00"
	}
	if level <= 0 {
		level = 40
	}
	return fmt.Sprintf("avc1.%s%02X", pc, level)
}

// rfc6381H265 builds hvc1.<profile>.<compat>.L<level>.B0 from the ffprobe
// profile name and level. ffprobe reports HEVC levels pre-multiplied by 30
// (level 4.1 -> 123).
func rfc6381H265(profile string, level int) string {
	prof := "1.6" // Main, compat flags 0x6
	if strings.Contains(strings.ToLower(profile), "10") {
		prof = "2.4" // Main 10
	}
	if level <= 0 {
		level = 120
	}
	return fmt.Sprintf("hvc1.%s.L%d.B0", prof, level)
}

// RFC6381Audio returns the RFC 6381 codec string for an audio codec, or the
// canonical name when no registered string exists.
func RFC6381Audio(a Audio) string {
	info, ok := audioRegistry[a]
	if !ok || info.RFC6381 == "" {
		return string(a)
	}
	return info.RFC6381
}

// ValidHWAccels returns a map of valid hardware acceleration types.
func ValidHWAccels() map[string]HWAccel {
	return map[string]HWAccel{
		"auto":         HWAccelAuto,
		"none":         HWAccelNone,
		"cuda":         HWAccelCUDA,
		"qsv":          HWAccelQSV,
		"vaapi":        HWAccelVAAPI,
		"videotoolbox": HWAccelVT,
	}
}

// ParseHWAccel parses a hardware acceleration string.
func ParseHWAccel(s string) (HWAccel, bool) {
	hwaccels := ValidHWAccels()
	hw, ok := hwaccels[strings.ToLower(strings.TrimSpace(s))]
	return hw, ok
}
