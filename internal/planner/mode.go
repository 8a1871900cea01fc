// Package planner turns a media profile plus client capabilities into an
// immutable PlaybackPlan: which of seven delivery modes to use, what happens
// to each track, how HDR is handled, and a deterministic cache key that
// correlates identical transcode outputs.
package planner

import (
	"encoding/json"
	"fmt"
)

// Mode is the playback delivery mode, ordered from least to most server
// work. The set is closed: planning logic switches exhaustively over it.
type Mode int

// Delivery modes.
const (
	ModeDirect Mode = iota
	ModeDirectAudioTranscode
	ModeRemux
	ModeRemuxAudioTranscode
	ModeRemuxHLS
	ModeRemuxHLSAudioTranscode
	ModeTranscodeHLS
)

var modeNames = map[Mode]string{
	ModeDirect:                 "direct",
	ModeDirectAudioTranscode:   "direct_audio_transcode",
	ModeRemux:                  "remux",
	ModeRemuxAudioTranscode:    "remux_audio_transcode",
	ModeRemuxHLS:               "remux_hls",
	ModeRemuxHLSAudioTranscode: "remux_hls_audio_transcode",
	ModeTranscodeHLS:           "transcode_hls",
}

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// MarshalJSON renders the mode as its wire name.
func (m Mode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON parses a wire name back to a Mode.
func (m *Mode) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for mode, name := range modeNames {
		if name == s {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("unknown playback mode %q", s)
}

// IsHLS reports whether the mode delivers over HLS playlists.
func (m Mode) IsHLS() bool {
	switch m {
	case ModeRemuxHLS, ModeRemuxHLSAudioTranscode, ModeTranscodeHLS:
		return true
	default:
		return false
	}
}

// TranscodesVideo reports whether the mode re-encodes the video stream.
func (m Mode) TranscodesVideo() bool {
	return m == ModeTranscodeHLS
}

// TranscodesAudio reports whether the mode re-encodes the audio stream.
func (m Mode) TranscodesAudio() bool {
	switch m {
	case ModeDirectAudioTranscode, ModeRemuxAudioTranscode, ModeRemuxHLSAudioTranscode, ModeTranscodeHLS:
		return true
	default:
		return false
	}
}

// Transport is how bytes reach the client.
type Transport string

// Transports.
const (
	TransportRange Transport = "range"
	TransportHLS   Transport = "hls"
)

// TrackAction is what happens to one stream.
type TrackAction string

// Track actions.
const (
	ActionCopy   TrackAction = "copy"
	ActionEncode TrackAction = "encode"
)

// HDRMode is the planned HDR handling, ordered from cheapest to most
// expensive.
type HDRMode string

// HDR handling modes.
const (
	HDRPassthrough    HDRMode = "passthrough"
	HDRExtractBase    HDRMode = "extract_hdr10_base"
	HDRConvertToHDR10 HDRMode = "convert_hdr10"
	HDRTonemapSDR     HDRMode = "tonemap_sdr"
)

// SubtitleMode is the planned subtitle handling.
type SubtitleMode string

// Subtitle modes.
const (
	SubtitleNone    SubtitleMode = "none"
	SubtitleBurn    SubtitleMode = "burn"
	SubtitleSidecar SubtitleMode = "sidecar"
)
