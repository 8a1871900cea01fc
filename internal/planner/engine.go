package planner

import (
	"log/slog"
	"math"
	"strings"

	"golang.org/x/text/language"

	"github.com/driftserve/drift/internal/client"
	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/config"
	"github.com/driftserve/drift/internal/observability"
	"github.com/driftserve/drift/internal/probe"
)

// Keyframe gaps above this many seconds make remux-to-HLS segmentation
// unacceptable even when the cadence is regular.
const maxRemuxKeyframeInterval = 8.0

// Preferences are the per-request user inputs to planning.
type Preferences struct {
	MediaID          string
	AudioLanguage    string
	SubtitleLanguage string
	WantSubtitles    bool
	// MaxHeight caps the delivered resolution (0 = no cap). Never upscales.
	MaxHeight int
	// MaxVideoBitRate caps the delivered video bitrate in bits/second.
	MaxVideoBitRate int
	// Speed is the requested playback rate (0 or 1 = native).
	Speed float64
	// AudioNormalization is "", "standard" or "night".
	AudioNormalization string
	// Remote marks requests arriving from outside the local network.
	Remote bool
	// HealthDowngrade forces a full transcode because past sessions for
	// this media failed in lighter modes.
	HealthDowngrade bool
}

// Engine plans playback. It is a pure decision component: the same profile,
// capabilities and preferences always produce the same plan.
type Engine struct {
	enc    config.EncoderConfig
	logger *slog.Logger
}

// NewEngine creates a plan engine with the server's encoding capabilities.
func NewEngine(enc config.EncoderConfig, logger *slog.Logger) *Engine {
	return &Engine{
		enc:    enc,
		logger: observability.WithComponent(logger, "planner"),
	}
}

// analysis accumulates decisions across planning steps. Each step reads
// earlier fields and sets its own; nothing is mutated after being set.
type analysis struct {
	video    *probe.VideoStream
	audio    *probe.AudioStream
	subtitle *probe.SubtitleStream

	subtitleMode SubtitleMode

	videoTranscode bool
	targetWidth    int
	targetHeight   int

	audioTranscode bool
	targetChannels int

	hdr *HDRPlan

	transport Transport
	mode      Mode

	reasons []string
}

func (a *analysis) addReason(code string) {
	for _, r := range a.reasons {
		if r == code {
			return
		}
	}
	a.reasons = append(a.reasons, code)
}

// Plan produces a PlaybackPlan. The only fatal input is a profile with no
// video stream; every other shortfall degrades into a reason code and a
// more conservative mode.
func (e *Engine) Plan(profile *probe.MediaProfile, caps *client.Capabilities, prefs Preferences) (*PlaybackPlan, error) {
	if len(profile.VideoStreams) == 0 {
		return nil, ErrNoVideoStream
	}

	a := &analysis{}
	a.video = profile.DefaultVideo()
	a.audio = selectAudioStream(profile, prefs.AudioLanguage)
	a.subtitle, a.subtitleMode = selectSubtitleStream(profile, prefs)

	e.analyzeVideo(a, caps, prefs)
	e.decideHDR(a, caps)
	e.analyzeAudio(a, caps, prefs)
	e.applyModifications(a, prefs)
	e.decideTransport(a, profile, caps, prefs)
	e.decideMode(a, profile)
	quirks := e.applyQuirkFixes(a, profile)

	plan := e.buildPlan(a, profile, prefs, quirks)

	e.logger.Debug("planned playback",
		slog.String("media_id", prefs.MediaID),
		slog.String("mode", plan.Mode.String()),
		slog.String("transport", string(plan.Transport)),
		slog.Any("reasons", plan.ReasonCodes))

	return plan, nil
}

// selectAudioStream picks the audio track: requested language among
// non-commentary tracks, else the default track, else the first.
func selectAudioStream(profile *probe.MediaProfile, requestedLang string) *probe.AudioStream {
	if len(profile.AudioStreams) == 0 {
		return nil
	}
	if requestedLang != "" {
		for i := range profile.AudioStreams {
			s := &profile.AudioStreams[i]
			if s.IsCommentary {
				continue
			}
			if languagesMatch(s.Language, requestedLang) {
				return s
			}
		}
	}
	return profile.DefaultAudio()
}

// selectSubtitleStream picks a subtitle track only when requested:
// language match, else forced, else default, else first. Bitmap subtitle
// codecs must be burned in; text codecs ship as sidecar tracks.
func selectSubtitleStream(profile *probe.MediaProfile, prefs Preferences) (*probe.SubtitleStream, SubtitleMode) {
	if !prefs.WantSubtitles || len(profile.SubtitleStreams) == 0 {
		return nil, SubtitleNone
	}

	pick := func() *probe.SubtitleStream {
		if prefs.SubtitleLanguage != "" {
			for i := range profile.SubtitleStreams {
				if languagesMatch(profile.SubtitleStreams[i].Language, prefs.SubtitleLanguage) {
					return &profile.SubtitleStreams[i]
				}
			}
		}
		for i := range profile.SubtitleStreams {
			if profile.SubtitleStreams[i].IsForced {
				return &profile.SubtitleStreams[i]
			}
		}
		for i := range profile.SubtitleStreams {
			if profile.SubtitleStreams[i].IsDefault {
				return &profile.SubtitleStreams[i]
			}
		}
		return &profile.SubtitleStreams[0]
	}

	s := pick()
	if isBitmapSubtitle(s.Codec) {
		return s, SubtitleBurn
	}
	return s, SubtitleSidecar
}

func isBitmapSubtitle(codecName string) bool {
	switch strings.ToLower(codecName) {
	case "hdmv_pgs_subtitle", "pgssub", "dvd_subtitle", "dvdsub", "dvb_subtitle", "xsub":
		return true
	default:
		return false
	}
}

// languagesMatch compares two language tags by base language, so "en"
// matches "eng" and "en-US".
func languagesMatch(streamLang, requested string) bool {
	if streamLang == "" || requested == "" {
		return false
	}
	a, errA := language.Parse(streamLang)
	b, errB := language.Parse(requested)
	if errA != nil || errB != nil {
		return strings.EqualFold(streamLang, requested)
	}
	baseA, confA := a.Base()
	baseB, confB := b.Base()
	if confA == language.No || confB == language.No {
		return strings.EqualFold(streamLang, requested)
	}
	return baseA == baseB
}

// analyzeVideo checks codec, level, resolution and bitrate against the
// client ceiling clamped by user preference. Any failure flags a video
// transcode with a reason.
func (e *Engine) analyzeVideo(a *analysis, caps *client.Capabilities, prefs Preferences) {
	v := a.video

	if prefs.HealthDowngrade {
		a.videoTranscode = true
		a.addReason(ReasonHealthDowngrade)
	}

	vc, supported := caps.VideoCodecs[codec.NormalizeVideo(v.Codec)]
	if !supported {
		a.videoTranscode = true
		a.addReason(ReasonVideoCodecUnsupported)
		// The codec is unknown to the client, so its ceilings do not apply;
		// the resolution ceiling still comes from preferences below.
		vc = client.VideoCapability{}
	} else if vc.MaxLevel > 0 && v.Level > vc.MaxLevel {
		a.videoTranscode = true
		a.addReason(ReasonVideoLevelExceeded)
	}

	// Resolution ceiling: client cap clamped by user preference, never an
	// upscale target.
	maxW, maxH := vc.MaxWidth, vc.MaxHeight
	if prefs.MaxHeight > 0 && (maxH == 0 || prefs.MaxHeight < maxH) {
		maxH = prefs.MaxHeight
		// Assume 16:9 for the width clamp when only a height preference
		// exists.
		if w := prefs.MaxHeight * 16 / 9; maxW == 0 || w < maxW {
			maxW = w
		}
	}
	if (maxW > 0 && v.Width > maxW) || (maxH > 0 && v.Height > maxH) {
		a.videoTranscode = true
		a.addReason(ReasonResolutionCeiling)
		a.targetWidth, a.targetHeight = scaleToFit(v.Width, v.Height, maxW, maxH)
	}

	if prefs.MaxVideoBitRate > 0 && v.BitRate > prefs.MaxVideoBitRate {
		a.videoTranscode = true
		a.addReason(ReasonBitrateCeiling)
	}

	// Burned-in subtitles rasterize into the picture, which requires a
	// re-encode regardless of codec compatibility.
	if a.subtitleMode == SubtitleBurn {
		a.videoTranscode = true
		a.addReason(ReasonSubtitleBurnIn)
	}
}

// decideHDR picks the HDR handling when the source is not SDR. For Dolby
// Vision the options are tried in cost order: passthrough, base-layer
// extraction, HDR10 conversion, SDR tonemap.
func (e *Engine) decideHDR(a *analysis, caps *client.Capabilities) {
	v := a.video
	if !v.HDR.IsHDR() {
		return
	}

	plan := &HDRPlan{SourceFormat: string(v.HDR), DVProfile: v.DVProfile}
	a.hdr = plan

	if caps.SupportsHDR(v.HDR, v.DVProfile) {
		plan.Mode = HDRPassthrough
		return
	}

	if v.HDR == probe.HDRDolbyVision {
		switch {
		case caps.HDR.HDR10 && e.enc.DolbyVision.ExtractBaseLayer && v.DVBLCompatible:
			// Cheapest: demux the embedded HDR10 base layer, no re-encode.
			plan.Mode = HDRExtractBase
			a.addReason(ReasonHDRExtractBaseLayer)
		case caps.HDR.HDR10 && e.enc.DolbyVision.ConvertHDR10:
			plan.Mode = HDRConvertToHDR10
			a.videoTranscode = true
			a.addReason(ReasonHDRConvertHDR10)
		case e.enc.DolbyVision.Tonemap:
			plan.Mode = HDRTonemapSDR
			a.videoTranscode = true
			a.addReason(ReasonHDRTonemapSDR)
		default:
			plan.Mode = HDRTonemapSDR
			a.videoTranscode = true
			a.addReason(ReasonHDRToolchainMissing)
		}
		return
	}

	// HDR10, HDR10+ or HLG the client cannot display: tonemap to SDR.
	plan.Mode = HDRTonemapSDR
	a.videoTranscode = true
	a.addReason(ReasonHDRTonemapSDR)
	if !e.hasFilter("tonemap") {
		a.addReason(ReasonHDRToolchainMissing)
	}
}

// analyzeAudio checks codec and channel count against the client ceiling.
func (e *Engine) analyzeAudio(a *analysis, caps *client.Capabilities, prefs Preferences) {
	if a.audio == nil {
		return
	}
	s := a.audio
	a.targetChannels = s.Channels

	if !caps.AudioCodecs[codec.NormalizeAudio(s.Codec)] {
		a.audioTranscode = true
		a.addReason(ReasonAudioCodecUnsupported)
	}
	if caps.MaxAudioChannels > 0 && s.Channels > caps.MaxAudioChannels {
		a.audioTranscode = true
		a.targetChannels = caps.MaxAudioChannels
		a.addReason(ReasonAudioChannelsDownmix)
	}
}

// applyModifications folds user-requested alterations in: loudness
// normalization and tempo shifts both force an audio re-encode.
func (e *Engine) applyModifications(a *analysis, prefs Preferences) {
	if prefs.AudioNormalization != "" && a.audio != nil {
		a.audioTranscode = true
		a.addReason(ReasonAudioNormalization)
	}
	if prefs.Speed != 0 && prefs.Speed != 1.0 && a.audio != nil {
		a.audioTranscode = true
		a.addReason(ReasonSpeedAdjustment)
	}
}

// decideTransport forces HLS when a video transcode is planned, range
// serving is unreliable, access is remote without trusted ranges, or the
// container cannot be range-served. Otherwise byte-range serving wins.
func (e *Engine) decideTransport(a *analysis, profile *probe.MediaProfile, caps *client.Capabilities, prefs Preferences) {
	switch {
	case a.videoTranscode:
		a.transport = TransportHLS
	case caps.RangeReliability == client.RangeUntrusted:
		a.transport = TransportHLS
		a.addReason(ReasonRangeUnreliable)
	case prefs.Remote && caps.RangeReliability != client.RangeTrusted:
		a.transport = TransportHLS
		a.addReason(ReasonRemoteAccess)
	case !profile.Container.SupportsRangeServing():
		a.transport = TransportHLS
		a.addReason(ReasonContainerNotRangeable)
	default:
		a.transport = TransportRange
	}
}

// decideMode maps the analysis to one of the seven delivery modes.
func (e *Engine) decideMode(a *analysis, profile *probe.MediaProfile) {
	if a.videoTranscode {
		a.mode = ModeTranscodeHLS
		return
	}

	if a.transport == TransportRange {
		if profile.Container == codec.ContainerMP4 {
			if a.audioTranscode {
				a.mode = ModeDirectAudioTranscode
			} else {
				a.mode = ModeDirect
			}
			return
		}
		// Range-friendly but not natively playable: repackage to MP4.
		a.addReason(ReasonContainerRemux)
		if a.audioTranscode {
			a.mode = ModeRemuxAudioTranscode
		} else {
			a.mode = ModeRemux
		}
		return
	}

	// HLS transport without a video transcode: segmentation cuts on
	// keyframes, so the cadence must be regular and gaps bounded.
	kf := profile.Keyframes
	if !kf.IsRegular {
		a.mode = ModeTranscodeHLS
		a.addReason(ReasonKeyframesIrregular)
		return
	}
	if kf.MaxInterval > maxRemuxKeyframeInterval {
		a.mode = ModeTranscodeHLS
		a.addReason(ReasonKeyframesSparse)
		return
	}

	if a.audioTranscode {
		a.mode = ModeRemuxHLSAudioTranscode
	} else {
		a.mode = ModeRemuxHLS
	}
}

// buildPlan assembles the final immutable plan from the analysis.
func (e *Engine) buildPlan(a *analysis, profile *probe.MediaProfile, prefs Preferences, quirks QuirksPlan) *PlaybackPlan {
	plan := &PlaybackPlan{
		MediaID:     prefs.MediaID,
		Fingerprint: profile.Fingerprint,
		Mode:        a.mode,
		Transport:   a.transport,
		Container:   e.containerFor(a.mode, profile),
		HDR:         a.hdr,
		Subtitles:   SubtitlePlan{Mode: a.subtitleMode},
	}

	if a.subtitle != nil {
		plan.Subtitles.StreamIndex = a.subtitle.Index
		plan.Subtitles.Language = a.subtitle.Language
	}

	plan.Quirks = quirks
	plan.Video = e.buildVideoPlan(a, quirks)
	plan.Audio = e.buildAudioPlan(a, prefs, quirks)
	plan.Mods = buildModifications(prefs)
	plan.Invariants = buildInvariants(a.mode, prefs.Remote)
	plan.ReasonCodes = a.reasons
	plan.CacheKey = cacheKey(plan)
	return plan
}

func (e *Engine) containerFor(mode Mode, profile *probe.MediaProfile) string {
	switch mode {
	case ModeDirect, ModeDirectAudioTranscode:
		return profile.Container.String()
	case ModeRemux, ModeRemuxAudioTranscode:
		return string(codec.FormatMP4)
	default:
		return string(codec.FormatFMP4)
	}
}

// applyQuirkFixes plans a fix for each detected quirk that the chosen mode
// can address. Picture fixes need an encode; sync correction rides on the
// audio encode.
func (e *Engine) applyQuirkFixes(a *analysis, profile *probe.MediaProfile) QuirksPlan {
	var qp QuirksPlan
	q := profile.Quirks

	if a.mode.TranscodesVideo() {
		if q.Interlaced && e.hasFilter("yadif") {
			qp.Deinterlace = true
			a.addReason(ReasonDeinterlace)
		}
		if q.VariableFrameRate && e.hasFilter("fps") {
			qp.NormalizeVFR = true
			a.addReason(ReasonVFRNormalize)
		}
		if q.Telecined && e.hasFilter("fieldmatch") {
			qp.RemoveTelecine = true
			a.addReason(ReasonTelecineRemoval)
		}
	}

	if q.AudioSyncOffsetMs != 0 && a.audio != nil {
		qp.AudioSyncAdjust = q.AudioSyncOffsetMs
		a.audioTranscode = true
		a.addReason(ReasonAudioSyncCorrection)
		// Audio re-encode may upgrade the mode tier.
		a.mode = upgradeForAudio(a.mode)
	}

	if q.LegacyContainer && a.mode != ModeDirect && a.mode != ModeDirectAudioTranscode {
		qp.FixContainer = true
	}

	return qp
}

// upgradeForAudio moves a no-audio-work mode to its audio-transcode
// sibling.
func upgradeForAudio(m Mode) Mode {
	switch m {
	case ModeDirect:
		return ModeDirectAudioTranscode
	case ModeRemux:
		return ModeRemuxAudioTranscode
	case ModeRemuxHLS:
		return ModeRemuxHLSAudioTranscode
	default:
		return m
	}
}

func (e *Engine) buildVideoPlan(a *analysis, quirks QuirksPlan) VideoPlan {
	v := a.video
	vp := VideoPlan{
		StreamIndex: v.Index,
		Action:      ActionCopy,
		Codec:       v.Codec,
	}

	if !a.mode.TranscodesVideo() {
		return vp
	}

	vp.Action = ActionEncode
	vp.Codec = e.targetVideoCodec(a)
	vp.Encoder = codec.GetVideoEncoder(codec.Video(vp.Codec), e.hwAccel())
	vp.Width = a.targetWidth
	vp.Height = a.targetHeight

	// Filter order matters: picture repair, then scaling, then tonemap.
	if quirks.Deinterlace {
		vp.Filters = append(vp.Filters, "yadif")
	}
	if quirks.RemoveTelecine {
		vp.Filters = append(vp.Filters, "fieldmatch", "decimate")
	}
	if quirks.NormalizeVFR {
		vp.Filters = append(vp.Filters, "fps")
	}
	if vp.Width > 0 {
		vp.Filters = append(vp.Filters, "scale")
	}
	if a.hdr != nil && a.hdr.Mode == HDRTonemapSDR && e.hasFilter("tonemap") {
		vp.Filters = append(vp.Filters, "tonemap")
	}
	return vp
}

// targetVideoCodec picks the encode target: HDR10 output needs 10-bit
// HEVC; everything else lands on H.264 as the universal floor.
func (e *Engine) targetVideoCodec(a *analysis) string {
	if a.hdr != nil && a.hdr.Mode == HDRConvertToHDR10 {
		return string(codec.VideoH265)
	}
	return string(codec.VideoH264)
}

func (e *Engine) buildAudioPlan(a *analysis, prefs Preferences, quirks QuirksPlan) *AudioPlan {
	if a.audio == nil {
		return nil
	}
	s := a.audio
	ap := &AudioPlan{
		StreamIndex: s.Index,
		Action:      ActionCopy,
		Codec:       s.Codec,
		Channels:    s.Channels,
		Language:    s.Language,
	}

	// A full transcode still copies compatible audio; only the analysis
	// flag forces an audio encode.
	if !a.audioTranscode {
		return ap
	}

	ap.Action = ActionEncode
	ap.Codec = string(codec.AudioAAC)
	ap.Channels = a.targetChannels
	if ap.Channels == 0 {
		ap.Channels = s.Channels
	}

	switch prefs.AudioNormalization {
	case "standard":
		ap.Filters = append(ap.Filters, "loudnorm")
	case "night":
		// Night mode compresses dynamics on top of normalization.
		ap.Filters = append(ap.Filters, "loudnorm", "acompressor")
	}
	if prefs.Speed != 0 && prefs.Speed != 1.0 {
		ap.Filters = append(ap.Filters, "atempo")
	}
	if quirks.AudioSyncAdjust != 0 {
		ap.Filters = append(ap.Filters, "aresample")
	}
	return ap
}

func buildModifications(prefs Preferences) Modifications {
	var m Modifications
	if prefs.Speed != 0 && prefs.Speed != 1.0 {
		m.Speed = prefs.Speed
	}
	m.AudioNormalization = prefs.AudioNormalization
	return m
}

// buildInvariants lists the conditions delivery must uphold for the mode.
func buildInvariants(mode Mode, remote bool) []string {
	inv := []string{
		InvariantNoUpscale,
		InvariantNoAudioUpmix,
		InvariantMonotonicPTS,
		InvariantAVSync50ms,
	}
	if remote {
		inv = append(inv, InvariantStartupRemote10s)
	} else {
		inv = append(inv, InvariantStartupLocal5s)
	}
	if mode.IsHLS() {
		inv = append(inv, InvariantSegmentConsistency)
	}
	return inv
}

func (e *Engine) hasFilter(name string) bool {
	for _, f := range e.enc.Filters {
		if f == name {
			return true
		}
	}
	return false
}

func (e *Engine) hwAccel() codec.HWAccel {
	for _, enc := range e.enc.HardwareEncoders {
		if hw, ok := codec.ParseHWAccel(enc); ok {
			return hw
		}
	}
	return codec.HWAccelNone
}

// scaleToFit computes target dimensions that fit within the ceiling while
// preserving aspect ratio. The binding dimension lands exactly on its
// ceiling; both results round down to even values as encoders require.
func scaleToFit(srcW, srcH, maxW, maxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	wRatio, hRatio := 1.0, 1.0
	if maxW > 0 && srcW > maxW {
		wRatio = float64(maxW) / float64(srcW)
	}
	if maxH > 0 && srcH > maxH {
		hRatio = float64(maxH) / float64(srcH)
	}
	if wRatio >= 1.0 && hRatio >= 1.0 {
		return 0, 0
	}
	var w, h int
	if wRatio <= hRatio {
		w = maxW
		h = int(math.Round(float64(srcH) * wRatio))
	} else {
		h = maxH
		w = int(math.Round(float64(srcW) * hRatio))
	}
	return w &^ 1, h &^ 1
}
