package hls

import (
	"fmt"
	"strings"

	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
)

// audioGroupID names the alternate-audio rendition group.
const audioGroupID = "audio"

// Rendition is one alternate audio track in the master playlist.
type Rendition struct {
	URI      string
	Name     string
	Language string
	Default  bool
}

// Variant is the single A/V variant a session exposes. Sessions deliver
// one quality decided by the plan, so the master playlist exists to carry
// CODECS, resolution and rendition wiring rather than an ABR ladder.
type Variant struct {
	URI          string
	Bandwidth    int
	Width        int
	Height       int
	FrameRate    float64
	Codecs       []string
	AudioGroupID string
}

// MasterPlaylist is the rendered-once master for a session.
type MasterPlaylist struct {
	Variant    Variant
	Renditions []Rendition
}

// MasterOptions name the URIs the HTTP layer serves the playlists under.
type MasterOptions struct {
	// MediaURI is the main media playlist location.
	MediaURI string
	// AudioRenditionURIs maps source audio stream index to a rendition
	// playlist location. Streams without an entry are not offered.
	AudioRenditionURIs map[int]string
}

// BuildMaster derives the master playlist from the probe result and the
// sealed plan. Alternate audio renditions appear only when the source has
// several audio tracks and the caller serves playlists for them.
func BuildMaster(profile *probe.MediaProfile, plan *planner.PlaybackPlan, opts MasterOptions) *MasterPlaylist {
	m := &MasterPlaylist{
		Variant: Variant{
			URI:       opts.MediaURI,
			Bandwidth: variantBandwidth(profile, plan),
			Codecs:    variantCodecs(profile, plan),
		},
	}

	if v := profile.DefaultVideo(); v != nil {
		m.Variant.FrameRate = v.FrameRate
		m.Variant.Width, m.Variant.Height = v.Width, v.Height
	}
	if plan.Video.Width > 0 {
		m.Variant.Width, m.Variant.Height = plan.Video.Width, plan.Video.Height
	}

	if len(profile.AudioStreams) > 1 && len(opts.AudioRenditionURIs) > 0 {
		m.Variant.AudioGroupID = audioGroupID
		defaultIdx := -1
		if a := profile.DefaultAudio(); a != nil {
			defaultIdx = a.Index
		}
		for i := range profile.AudioStreams {
			s := &profile.AudioStreams[i]
			uri, ok := opts.AudioRenditionURIs[s.Index]
			if !ok {
				continue
			}
			m.Renditions = append(m.Renditions, Rendition{
				URI:      uri,
				Name:     renditionName(s),
				Language: s.Language,
				Default:  s.Index == defaultIdx,
			})
		}
	}
	return m
}

func renditionName(s *probe.AudioStream) string {
	if s.Title != "" {
		return s.Title
	}
	if s.Language != "" {
		return s.Language
	}
	return fmt.Sprintf("Audio %d", s.Index)
}

// variantCodecs builds the RFC 6381 CODECS list: the delivered video
// codec string, then the delivered audio codec string.
func variantCodecs(profile *probe.MediaProfile, plan *planner.PlaybackPlan) []string {
	var codecs []string

	v, _ := codec.ParseVideo(plan.Video.Codec)
	if plan.Video.Action == planner.ActionCopy {
		if src := profile.DefaultVideo(); src != nil {
			codecs = append(codecs, codec.RFC6381Video(v, src.Profile, src.Level))
		}
	} else {
		// Encoded output: profile and level are the encoder's defaults, so
		// declare the codec family without the source's constraints.
		codecs = append(codecs, codec.RFC6381Video(v, "", 0))
	}

	if plan.Audio != nil {
		a, _ := codec.ParseAudio(plan.Audio.Codec)
		if s := codec.RFC6381Audio(a); s != "" {
			codecs = append(codecs, s)
		}
	}
	return codecs
}

// variantBandwidth uses the declared source bitrate when copying and a
// resolution-based estimate otherwise. The value is a ceiling hint for
// players, not a promise.
func variantBandwidth(profile *probe.MediaProfile, plan *planner.PlaybackPlan) int {
	const audioAllowance = 256_000

	if plan.Video.Action == planner.ActionCopy {
		if src := profile.DefaultVideo(); src != nil && src.BitRate > 0 {
			return src.BitRate + audioAllowance
		}
		if profile.BitRate > 0 {
			return profile.BitRate
		}
	}

	height := plan.Video.Height
	if height == 0 {
		if src := profile.DefaultVideo(); src != nil {
			height = src.Height
		}
	}
	switch {
	case height >= 2160:
		return 25_000_000
	case height >= 1080:
		return 8_000_000
	case height >= 720:
		return 5_000_000
	default:
		return 2_500_000
	}
}

// Render emits the master playlist text.
func (m *MasterPlaylist) Render() string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", Version)
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	for _, r := range m.Renditions {
		fmt.Fprintf(&b, "#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID=%q,NAME=%q", audioGroupID, r.Name)
		if r.Language != "" {
			fmt.Fprintf(&b, ",LANGUAGE=%q", r.Language)
		}
		if r.Default {
			b.WriteString(",DEFAULT=YES,AUTOSELECT=YES")
		} else {
			b.WriteString(",DEFAULT=NO,AUTOSELECT=YES")
		}
		fmt.Fprintf(&b, ",URI=%q\n", r.URI)
	}

	fmt.Fprintf(&b, "#EXT-X-STREAM-INF:BANDWIDTH=%d", m.Variant.Bandwidth)
	if m.Variant.Width > 0 {
		fmt.Fprintf(&b, ",RESOLUTION=%dx%d", m.Variant.Width, m.Variant.Height)
	}
	if m.Variant.FrameRate > 0 {
		fmt.Fprintf(&b, ",FRAME-RATE=%.3f", m.Variant.FrameRate)
	}
	if len(m.Variant.Codecs) > 0 {
		fmt.Fprintf(&b, ",CODECS=%q", strings.Join(m.Variant.Codecs, ","))
	}
	if m.Variant.AudioGroupID != "" {
		fmt.Fprintf(&b, ",AUDIO=%q", m.Variant.AudioGroupID)
	}
	b.WriteByte('\n')
	b.WriteString(m.Variant.URI)
	b.WriteByte('\n')
	return b.String()
}
