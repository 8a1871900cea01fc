// Package client resolves a requesting device to a capability matrix
// describing what it can decode natively. Resolution starts from an
// immutable device-profile table keyed by user-agent tokens; clients may
// declare overrides, which merge in at reduced confidence because the table
// is trusted more than self-reports.
package client

import (
	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/probe"
)

// RangeReliability states whether byte-range direct serving is safe for a
// device class.
type RangeReliability string

// Range reliability tiers.
const (
	RangeTrusted   RangeReliability = "trusted"
	RangeSuspect   RangeReliability = "suspect"
	RangeUntrusted RangeReliability = "untrusted"
)

// VideoCapability is the per-codec decode ceiling for video.
type VideoCapability struct {
	// Codec level ceiling in ffprobe units (41 = H.264 4.1, 153 = HEVC 5.1).
	// 0 means no level restriction.
	MaxLevel  int `json:"max_level,omitempty"`
	MaxWidth  int `json:"max_width,omitempty"`
	MaxHeight int `json:"max_height,omitempty"`
}

// HDRCapabilities holds per-format HDR decode flags. Dolby Vision support is
// tracked per profile because devices commonly decode profile 8 (HDR10
// compatible) but not profile 5.
type HDRCapabilities struct {
	HDR10         bool `json:"hdr10"`
	HLG           bool `json:"hlg"`
	DolbyVisionP5 bool `json:"dolby_vision_p5"`
	DolbyVisionP7 bool `json:"dolby_vision_p7"`
	DolbyVisionP8 bool `json:"dolby_vision_p8"`
}

// AnyDolbyVision reports whether any Dolby Vision profile is supported,
// used as the fallback for unmapped profiles.
func (h HDRCapabilities) AnyDolbyVision() bool {
	return h.DolbyVisionP5 || h.DolbyVisionP7 || h.DolbyVisionP8
}

// Capabilities is the resolved decode capability matrix for one device.
type Capabilities struct {
	Device   string `json:"device"`
	Platform string `json:"platform"`

	VideoCodecs      map[string]VideoCapability `json:"video_codecs"`
	AudioCodecs      map[string]bool            `json:"audio_codecs"`
	MaxAudioChannels int                        `json:"max_audio_channels"`

	HDR HDRCapabilities `json:"hdr"`

	RangeReliability RangeReliability `json:"range_reliability"`

	// 0..1; the device table sets the base, override merging lowers it.
	Confidence float64 `json:"confidence"`
}

// SupportsVideoCodec reports whether the device can decode the given video
// codec at the given level and resolution. Codec aliases are normalized
// before lookup; level 0 or resolution 0 skips that check.
func (c *Capabilities) SupportsVideoCodec(codecName string, level, width, height int) bool {
	vc, ok := c.VideoCodecs[codec.NormalizeVideo(codecName)]
	if !ok {
		return false
	}
	if vc.MaxLevel > 0 && level > vc.MaxLevel {
		return false
	}
	if vc.MaxWidth > 0 && width > vc.MaxWidth {
		return false
	}
	if vc.MaxHeight > 0 && height > vc.MaxHeight {
		return false
	}
	return true
}

// SupportsAudioCodec reports whether the device can decode the given audio
// codec with the given channel count.
func (c *Capabilities) SupportsAudioCodec(codecName string, channels int) bool {
	if !c.AudioCodecs[codec.NormalizeAudio(codecName)] {
		return false
	}
	if c.MaxAudioChannels > 0 && channels > c.MaxAudioChannels {
		return false
	}
	return true
}

// SupportsHDR reports whether the device can display the given HDR format
// natively. For Dolby Vision the profile-specific flag is checked;
// unmapped profiles fall back to "any Dolby Vision profile supported".
func (c *Capabilities) SupportsHDR(format probe.HDRFormat, dvProfile int) bool {
	switch format {
	case probe.HDRNone, "":
		return true
	case probe.HDRHDR10, probe.HDRHDR10Plus:
		// HDR10+ degrades gracefully on HDR10 displays.
		return c.HDR.HDR10
	case probe.HDRHLG:
		return c.HDR.HLG
	case probe.HDRDolbyVision:
		switch dvProfile {
		case 5:
			return c.HDR.DolbyVisionP5
		case 7:
			return c.HDR.DolbyVisionP7
		case 8:
			return c.HDR.DolbyVisionP8
		default:
			return c.HDR.AnyDolbyVision()
		}
	default:
		return false
	}
}

// MaxResolution returns the tightest width/height ceiling across all
// supported video codecs, 0/0 when unrestricted.
func (c *Capabilities) MaxResolution() (width, height int) {
	for _, vc := range c.VideoCodecs {
		if vc.MaxWidth > 0 && (width == 0 || vc.MaxWidth > width) {
			width = vc.MaxWidth
		}
		if vc.MaxHeight > 0 && (height == 0 || vc.MaxHeight > height) {
			height = vc.MaxHeight
		}
	}
	return width, height
}

// clone returns a deep copy so merges never mutate table entries.
func (c *Capabilities) clone() *Capabilities {
	out := *c
	out.VideoCodecs = make(map[string]VideoCapability, len(c.VideoCodecs))
	for k, v := range c.VideoCodecs {
		out.VideoCodecs[k] = v
	}
	out.AudioCodecs = make(map[string]bool, len(c.AudioCodecs))
	for k, v := range c.AudioCodecs {
		out.AudioCodecs[k] = v
	}
	return &out
}
