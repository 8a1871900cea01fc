package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftserve/drift/internal/codec"
	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
)

func masterProfile() *probe.MediaProfile {
	return &probe.MediaProfile{
		Container: codec.ContainerMKV,
		VideoStreams: []probe.VideoStream{{
			Index: 0, Codec: "h264", Profile: "High", Level: 41,
			Width: 1920, Height: 1080, FrameRate: 23.976,
			BitRate: 7_500_000, IsDefault: true,
		}},
		AudioStreams: []probe.AudioStream{
			{Index: 1, Codec: "aac", Channels: 6, Language: "eng", IsDefault: true},
			{Index: 2, Codec: "aac", Channels: 2, Language: "fra", Title: "Français"},
		},
	}
}

func copyPlan() *planner.PlaybackPlan {
	return &planner.PlaybackPlan{
		Mode:      planner.ModeRemuxHLS,
		Transport: planner.TransportHLS,
		Video:     planner.VideoPlan{StreamIndex: 0, Action: planner.ActionCopy, Codec: "h264"},
		Audio:     &planner.AudioPlan{StreamIndex: 1, Action: planner.ActionCopy, Codec: "aac", Channels: 6},
	}
}

func TestBuildMasterCopy(t *testing.T) {
	m := BuildMaster(masterProfile(), copyPlan(), MasterOptions{MediaURI: "media.m3u8"})

	assert.Equal(t, "media.m3u8", m.Variant.URI)
	assert.Equal(t, 1920, m.Variant.Width)
	assert.Equal(t, 1080, m.Variant.Height)
	assert.Equal(t, []string{"avc1.640029", "mp4a.40.2"}, m.Variant.Codecs)
	assert.Equal(t, 7_500_000+256_000, m.Variant.Bandwidth)
	assert.Empty(t, m.Renditions, "no rendition URIs offered")
	assert.Empty(t, m.Variant.AudioGroupID)
}

func TestBuildMasterTranscodeDimensions(t *testing.T) {
	plan := copyPlan()
	plan.Mode = planner.ModeTranscodeHLS
	plan.Video = planner.VideoPlan{
		StreamIndex: 0, Action: planner.ActionEncode, Codec: "h264",
		Width: 1280, Height: 720,
	}

	m := BuildMaster(masterProfile(), plan, MasterOptions{MediaURI: "media.m3u8"})
	assert.Equal(t, 1280, m.Variant.Width)
	assert.Equal(t, 720, m.Variant.Height)
	assert.Equal(t, 5_000_000, m.Variant.Bandwidth, "estimated from target height")
	assert.Equal(t, "avc1.640028", m.Variant.Codecs[0], "encoder defaults, not source level")
}

func TestBuildMasterRenditions(t *testing.T) {
	m := BuildMaster(masterProfile(), copyPlan(), MasterOptions{
		MediaURI: "media.m3u8",
		AudioRenditionURIs: map[int]string{
			1: "audio-1.m3u8",
			2: "audio-2.m3u8",
		},
	})

	require.Len(t, m.Renditions, 2)
	assert.Equal(t, audioGroupID, m.Variant.AudioGroupID)
	assert.True(t, m.Renditions[0].Default)
	assert.False(t, m.Renditions[1].Default)
	assert.Equal(t, "Français", m.Renditions[1].Name)

	out := m.Render()
	assert.Contains(t, out, `#EXT-X-MEDIA:TYPE=AUDIO,GROUP-ID="audio",NAME="eng",LANGUAGE="eng",DEFAULT=YES,AUTOSELECT=YES,URI="audio-1.m3u8"`)
	assert.Contains(t, out, `DEFAULT=NO,AUTOSELECT=YES,URI="audio-2.m3u8"`)
	assert.Contains(t, out, `,AUDIO="audio"`)
}

func TestMasterRender(t *testing.T) {
	m := BuildMaster(masterProfile(), copyPlan(), MasterOptions{MediaURI: "media.m3u8"})
	out := m.Render()

	assert.True(t, strings.HasPrefix(out, "#EXTM3U\n"))
	assert.Contains(t, out, "#EXT-X-VERSION:6\n")
	assert.Contains(t, out, "BANDWIDTH=7756000")
	assert.Contains(t, out, "RESOLUTION=1920x1080")
	assert.Contains(t, out, "FRAME-RATE=23.976")
	assert.Contains(t, out, `CODECS="avc1.640029,mp4a.40.2"`)
	assert.True(t, strings.HasSuffix(out, "media.m3u8\n"))
}
