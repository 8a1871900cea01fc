package planner

import "errors"

// ErrNoVideoStream is the only fatal planning error: a file with no video
// stream cannot be planned for playback. Every other shortfall degrades
// into a reason code and a safer mode.
var ErrNoVideoStream = errors.New("media has no video stream")

// Reason codes explain every deviation from pure direct play, in the order
// the deviations were discovered.
const (
	ReasonVideoCodecUnsupported = "VIDEO_CODEC_UNSUPPORTED"
	ReasonVideoLevelExceeded    = "VIDEO_LEVEL_EXCEEDED"
	ReasonResolutionCeiling     = "RESOLUTION_CEILING"
	ReasonBitrateCeiling        = "BITRATE_CEILING"
	ReasonAudioCodecUnsupported = "AUDIO_CODEC_UNSUPPORTED"
	ReasonAudioChannelsDownmix  = "AUDIO_CHANNELS_DOWNMIX"
	ReasonHDRExtractBaseLayer   = "HDR_EXTRACT_BASE_LAYER"
	ReasonHDRConvertHDR10       = "HDR_CONVERT_HDR10"
	ReasonHDRTonemapSDR         = "HDR_TONEMAP_SDR"
	ReasonHDRToolchainMissing   = "HDR_TOOLCHAIN_UNSUPPORTED"
	ReasonKeyframesSparse       = "KEYFRAMES_SPARSE"
	ReasonKeyframesIrregular    = "KEYFRAMES_IRREGULAR"
	ReasonRangeUnreliable       = "RANGE_UNRELIABLE"
	ReasonRemoteAccess          = "REMOTE_ACCESS"
	ReasonContainerNotRangeable = "CONTAINER_NOT_RANGEABLE"
	ReasonContainerRemux        = "CONTAINER_REMUX"
	ReasonDeinterlace           = "DEINTERLACE"
	ReasonVFRNormalize          = "VFR_NORMALIZE"
	ReasonTelecineRemoval       = "TELECINE_REMOVAL"
	ReasonAudioSyncCorrection   = "AUDIO_SYNC_CORRECTION"
	ReasonAudioNormalization    = "AUDIO_NORMALIZATION"
	ReasonSpeedAdjustment       = "SPEED_ADJUSTMENT"
	ReasonSubtitleBurnIn        = "SUBTITLE_BURN_IN"
	ReasonHealthDowngrade       = "HEALTH_DOWNGRADE"
)

// Plan invariants: conditions the session layer must uphold for the mode.
const (
	InvariantNoUpscale          = "no_upscale"
	InvariantNoAudioUpmix       = "no_audio_upmix"
	InvariantMonotonicPTS       = "monotonic_pts"
	InvariantAVSync50ms         = "av_sync_within_50ms"
	InvariantStartupLocal5s     = "startup_under_5s"
	InvariantStartupRemote10s   = "startup_under_10s"
	InvariantSegmentConsistency = "segment_duration_consistent"
)

// VideoPlan is the per-track plan for the selected video stream.
type VideoPlan struct {
	StreamIndex int         `json:"stream_index"`
	Action      TrackAction `json:"action"`
	// Target codec when encoding; source codec when copying.
	Codec   string `json:"codec"`
	Encoder string `json:"encoder,omitempty"`
	// Target dimensions; zero means native resolution.
	Width   int      `json:"width,omitempty"`
	Height  int      `json:"height,omitempty"`
	Filters []string `json:"filters,omitempty"`
	BitRate int      `json:"bit_rate,omitempty"`
}

// AudioPlan is the per-track plan for the selected audio stream.
type AudioPlan struct {
	StreamIndex int         `json:"stream_index"`
	Action      TrackAction `json:"action"`
	Codec       string      `json:"codec"`
	Encoder     string      `json:"encoder,omitempty"`
	Channels    int         `json:"channels"`
	Filters     []string    `json:"filters,omitempty"`
	Language    string      `json:"language,omitempty"`
}

// SubtitlePlan is the planned subtitle handling.
type SubtitlePlan struct {
	Mode        SubtitleMode `json:"mode"`
	StreamIndex int          `json:"stream_index,omitempty"`
	Language    string       `json:"language,omitempty"`
}

// HDRPlan records the source HDR format and the planned handling.
type HDRPlan struct {
	SourceFormat string  `json:"source_format"`
	Mode         HDRMode `json:"mode"`
	DVProfile    int     `json:"dv_profile,omitempty"`
}

// QuirksPlan holds the per-quirk fixes; each field is set only when needed.
type QuirksPlan struct {
	Deinterlace     bool `json:"deinterlace,omitempty"`
	NormalizeVFR    bool `json:"normalize_vfr,omitempty"`
	RemoveTelecine  bool `json:"remove_telecine,omitempty"`
	AudioSyncAdjust int  `json:"audio_sync_adjust_ms,omitempty"`
	FixContainer    bool `json:"fix_container,omitempty"`
}

// Modifications are user-requested playback alterations.
type Modifications struct {
	// 1.0 or 0 means native speed.
	Speed float64 `json:"speed,omitempty"`
	// "", "standard" or "night".
	AudioNormalization string `json:"audio_normalization,omitempty"`
}

// PlaybackPlan is the immutable result of planning one playback session.
type PlaybackPlan struct {
	MediaID     string    `json:"media_id"`
	Fingerprint string    `json:"fingerprint"`
	Mode        Mode      `json:"mode"`
	Transport   Transport `json:"transport"`
	Container   string    `json:"container"`

	Video     VideoPlan     `json:"video"`
	Audio     *AudioPlan    `json:"audio,omitempty"`
	Subtitles SubtitlePlan  `json:"subtitles"`
	HDR       *HDRPlan      `json:"hdr,omitempty"`
	Quirks    QuirksPlan    `json:"quirks"`
	Mods      Modifications `json:"modifications"`

	// Ordered, human-readable explanations for every deviation from pure
	// direct play.
	ReasonCodes []string `json:"reason_codes,omitempty"`
	// Conditions that must hold during delivery of this plan.
	Invariants []string `json:"invariants"`

	// Deterministic key over every field that affects transcoder output
	// bytes. Identical keys may share one cache entry and one transcode.
	CacheKey string `json:"cache_key"`
}
