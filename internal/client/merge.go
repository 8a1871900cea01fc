package client

import "github.com/driftserve/drift/internal/codec"

// Confidence multiplier applied once per override field the client declares.
const overrideConfidencePenalty = 0.9

// Overrides carries client-declared capability adjustments. Every field is
// optional; only present fields are applied. Device-table knowledge is
// trusted more than self-reports, so each applied override lowers the
// resolved confidence.
type Overrides struct {
	// nil entry value removes support for that codec; non-nil deep-merges
	// into the table entry field by field.
	VideoCodecs      map[string]*VideoCapability `json:"video_codecs,omitempty"`
	AudioCodecs      map[string]*bool            `json:"audio_codecs,omitempty"`
	MaxAudioChannels *int                        `json:"max_audio_channels,omitempty"`
	HDR              *HDROverrides               `json:"hdr,omitempty"`
}

// HDROverrides adjusts individual HDR flags.
type HDROverrides struct {
	HDR10         *bool `json:"hdr10,omitempty"`
	HLG           *bool `json:"hlg,omitempty"`
	DolbyVisionP5 *bool `json:"dolby_vision_p5,omitempty"`
	DolbyVisionP7 *bool `json:"dolby_vision_p7,omitempty"`
	DolbyVisionP8 *bool `json:"dolby_vision_p8,omitempty"`
}

// Merge applies client-declared overrides to resolved capabilities,
// returning a new value. The base is never mutated. Confidence is
// multiplied by 0.9 for every override field applied.
func Merge(base *Capabilities, o *Overrides) *Capabilities {
	if o == nil {
		return base
	}

	out := base.clone()

	// Override keys may arrive in RFC 6381 form ("avc1.64001f"); fold
	// them onto the canonical family names the base table uses.
	for name, vc := range o.VideoCodecs {
		name = codec.NormalizeCodecString(name)
		if vc == nil {
			delete(out.VideoCodecs, name)
			out.Confidence *= overrideConfidencePenalty
			continue
		}
		merged := out.VideoCodecs[name]
		if vc.MaxLevel != 0 {
			merged.MaxLevel = vc.MaxLevel
		}
		if vc.MaxWidth != 0 {
			merged.MaxWidth = vc.MaxWidth
		}
		if vc.MaxHeight != 0 {
			merged.MaxHeight = vc.MaxHeight
		}
		out.VideoCodecs[name] = merged
		out.Confidence *= overrideConfidencePenalty
	}

	for name, supported := range o.AudioCodecs {
		name = codec.NormalizeCodecString(name)
		if supported == nil || !*supported {
			delete(out.AudioCodecs, name)
		} else {
			out.AudioCodecs[name] = true
		}
		out.Confidence *= overrideConfidencePenalty
	}

	if o.MaxAudioChannels != nil {
		out.MaxAudioChannels = *o.MaxAudioChannels
		out.Confidence *= overrideConfidencePenalty
	}

	if o.HDR != nil {
		applyFlag := func(dst *bool, src *bool) {
			if src != nil {
				*dst = *src
				out.Confidence *= overrideConfidencePenalty
			}
		}
		applyFlag(&out.HDR.HDR10, o.HDR.HDR10)
		applyFlag(&out.HDR.HLG, o.HDR.HLG)
		applyFlag(&out.HDR.DolbyVisionP5, o.HDR.DolbyVisionP5)
		applyFlag(&out.HDR.DolbyVisionP7, o.HDR.DolbyVisionP7)
		applyFlag(&out.HDR.DolbyVisionP8, o.HDR.DolbyVisionP8)
	}

	return out
}
