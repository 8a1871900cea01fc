package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftserve/drift/internal/planner"
	"github.com/driftserve/drift/internal/probe"
)

func argsProfile() *probe.MediaProfile {
	return &probe.MediaProfile{
		Path: "/media/movie.mkv",
		VideoStreams: []probe.VideoStream{
			{Index: 0, Codec: "h264", Width: 1920, Height: 1080, AvgFrameRate: 23.976},
		},
		AudioStreams: []probe.AudioStream{
			{Index: 1, Codec: "aac", Channels: 2},
		},
		SubtitleStreams: []probe.SubtitleStream{
			{Index: 2, Codec: "subrip"},
			{Index: 3, Codec: "hdmv_pgs_subtitle"},
		},
	}
}

func remuxPlan() *planner.PlaybackPlan {
	return &planner.PlaybackPlan{
		Mode:      planner.ModeRemux,
		Transport: planner.TransportRange,
		Container: "mp4",
		Video:     planner.VideoPlan{StreamIndex: 0, Action: planner.ActionCopy, Codec: "h264"},
		Audio:     &planner.AudioPlan{StreamIndex: 1, Action: planner.ActionCopy, Codec: "aac", Channels: 2},
	}
}

func transcodePlan() *planner.PlaybackPlan {
	return &planner.PlaybackPlan{
		Mode:      planner.ModeTranscodeHLS,
		Transport: planner.TransportHLS,
		Container: "fmp4",
		Video: planner.VideoPlan{
			StreamIndex: 0,
			Action:      planner.ActionEncode,
			Codec:       "h264",
			Encoder:     "libx264",
			Width:       1280,
			Height:      720,
			Filters:     []string{"scale"},
		},
		Audio: &planner.AudioPlan{
			StreamIndex: 1,
			Action:      planner.ActionEncode,
			Codec:       "aac",
			Channels:    2,
		},
	}
}

func argString(args []string) string { return strings.Join(args, " ") }

func TestBuildArgsRemux(t *testing.T) {
	args := BuildArgs(remuxPlan(), argsProfile(), Invocation{
		MediaPath:  "/media/movie.mkv",
		SessionDir: "/tmp/sess",
	})
	s := argString(args)

	assert.Contains(t, s, "-i /media/movie.mkv")
	assert.Contains(t, s, "-map 0:0")
	assert.Contains(t, s, "-map 0:1")
	assert.Contains(t, s, "-c:v copy")
	assert.Contains(t, s, "-c:a copy")
	assert.Contains(t, s, "-movflags +faststart")
	assert.Equal(t, RemuxOutputName, args[len(args)-1])
	assert.NotContains(t, s, "-ss", "no seek requested")
	assert.NotContains(t, s, "-f hls")
}

func TestBuildArgsHLSTranscode(t *testing.T) {
	args := BuildArgs(transcodePlan(), argsProfile(), Invocation{
		MediaPath:       "/media/movie.mkv",
		Epoch:           2,
		SegmentDuration: 4,
	})
	s := argString(args)

	assert.Contains(t, s, "-c:v libx264")
	assert.Contains(t, s, "-preset veryfast")
	assert.Contains(t, s, "-vf scale=1280:720")
	assert.Contains(t, s, "-c:a aac")
	assert.Contains(t, s, "-ac 2")
	assert.Contains(t, s, "-f hls")
	assert.Contains(t, s, "-hls_segment_type fmp4")
	assert.Contains(t, s, "-hls_fmp4_init_filename init-2.mp4")
	assert.Contains(t, s, "-hls_segment_filename seg-2-%05d.m4s")
	// 23.976 rounds to 24fps, 4s segments.
	assert.Contains(t, s, "-g 96")
	assert.Contains(t, s, "-sc_threshold 0")
}

func TestBuildArgsSeek(t *testing.T) {
	args := BuildArgs(transcodePlan(), argsProfile(), Invocation{
		MediaPath:       "/media/movie.mkv",
		Epoch:           0,
		StartSeconds:    632.5,
		SegmentDuration: 4,
	})

	// -ss precedes -i for input-side seeking.
	s := argString(args)
	ss := strings.Index(s, "-ss 632.500")
	in := strings.Index(s, "-i /media/movie.mkv")
	require.GreaterOrEqual(t, ss, 0)
	assert.Less(t, ss, in)
}

func TestBuildArgsAudioFilters(t *testing.T) {
	plan := transcodePlan()
	plan.Audio.Filters = []string{"loudnorm", "acompressor", "atempo"}
	plan.Mods.Speed = 1.5

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	assert.Contains(t, s, "loudnorm=I=-16:LRA=11:TP=-1.5,acompressor=ratio=4,atempo=1.50")
	assert.Contains(t, s, "setpts=PTS/1.50", "video keeps pace with sped-up audio")
}

func TestBuildArgsSubtitleBurn(t *testing.T) {
	plan := transcodePlan()
	plan.Subtitles = planner.SubtitlePlan{Mode: planner.SubtitleBurn, StreamIndex: 3}

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	// Index 3 is the second subtitle stream, so si=1.
	assert.Contains(t, s, `subtitles='/media/movie.mkv':si=1`)
}

func TestBuildArgsQuirkFilters(t *testing.T) {
	plan := transcodePlan()
	plan.Video.Filters = []string{"yadif", "fieldmatch", "decimate", "fps", "scale"}

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	assert.Contains(t, s, "-vf yadif,fieldmatch,decimate,fps=24,scale=1280:720")
}

func TestBuildArgsTonemap(t *testing.T) {
	plan := transcodePlan()
	plan.Video.Filters = []string{"scale", "tonemap"}
	plan.HDR = &planner.HDRPlan{SourceFormat: "hdr10", Mode: planner.HDRTonemapSDR}

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	assert.Contains(t, s, "tonemap=hable")
	assert.Contains(t, s, "format=yuv420p")
	// Scale runs before the tonemap chain.
	assert.Less(t, strings.Index(s, "scale=1280:720"), strings.Index(s, "tonemap=hable"))
}

func TestBuildArgsDolbyVisionStrip(t *testing.T) {
	plan := remuxPlan()
	plan.Mode = planner.ModeRemuxHLS
	plan.Transport = planner.TransportHLS
	plan.Container = "fmp4"
	plan.HDR = &planner.HDRPlan{SourceFormat: "dolby_vision", Mode: planner.HDRExtractBase, DVProfile: 8}

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	assert.Contains(t, s, "-c:v copy")
	assert.Contains(t, s, "-bsf:v dovi_rpu=strip=1")
}

func TestBuildArgsConvertHDR10(t *testing.T) {
	plan := transcodePlan()
	plan.Video.Codec = "h265"
	plan.Video.Encoder = "libx265"
	plan.HDR = &planner.HDRPlan{SourceFormat: "dolby_vision", Mode: planner.HDRConvertToHDR10, DVProfile: 5}

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	assert.Contains(t, s, "-c:v libx265")
	assert.Contains(t, s, "-pix_fmt yuv420p10le")
	assert.Contains(t, s, "-tag:v hvc1")
}

func TestBuildArgsNoAudio(t *testing.T) {
	plan := remuxPlan()
	plan.Audio = nil

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv"})
	assert.Contains(t, argString(args), "-an")
}

func TestBuildArgsBitrateCap(t *testing.T) {
	plan := transcodePlan()
	plan.Video.BitRate = 4_000_000

	args := BuildArgs(plan, argsProfile(), Invocation{MediaPath: "/media/movie.mkv", SegmentDuration: 4})
	s := argString(args)

	assert.Contains(t, s, "-b:v 4000000")
	assert.Contains(t, s, "-maxrate 4000000")
	assert.Contains(t, s, "-bufsize 8000000")
}

func TestSegmentNames(t *testing.T) {
	assert.Equal(t, "init-0.mp4", InitSegmentName(0))
	assert.Equal(t, "init-3.mp4", InitSegmentName(3))
	assert.Equal(t, "seg-1-00042.m4s", SegmentName(1, 42))
	assert.Equal(t, "seg-0-%05d.m4s", SegmentPattern(0))
}

func TestEscapeFilterPath(t *testing.T) {
	assert.Equal(t, `'/media/a\:b\'s.mkv'`, escapeFilterPath(`/media/a:b's.mkv`))
}

func TestAudioBitrate(t *testing.T) {
	assert.Equal(t, "128k", audioBitrate(2))
	assert.Equal(t, "384k", audioBitrate(6))
}
