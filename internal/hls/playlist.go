// Package hls renders and parses the HTTP Live Streaming playlists that
// drive session playback: a master playlist describing the available
// renditions and a growing media playlist whose epochs track seeks and
// track switches within one session.
package hls

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// Version is the protocol compatibility version declared in every media
// playlist. Version 6 covers EXT-X-MAP outside I-frame playlists, which
// fMP4 segments require.
const Version = 6

// ErrFinalized is returned by mutations attempted after Finalize.
var ErrFinalized = errors.New("hls: playlist finalized")

// PlaylistType is the EXT-X-PLAYLIST-TYPE value.
type PlaylistType string

const (
	// PlaylistEvent grows at the live edge; players may not seek past it.
	PlaylistEvent PlaylistType = "EVENT"
	// PlaylistVOD is complete and immutable.
	PlaylistVOD PlaylistType = "VOD"
)

// Segment is one media segment within an epoch. Length is set only for
// byte-range serving, where URI addresses the shared media file.
type Segment struct {
	URI      string
	Duration float64
	Offset   int64
	Length   int64
}

// epoch is a run of segments with continuous timestamps. Every seek or
// track switch starts a new epoch; players reset their decoders at the
// boundary.
type epoch struct {
	mapURI   string
	segments []Segment
}

// MediaPlaylist is the mutable per-session media playlist. It is safe for
// concurrent use: the session manager appends segments while the HTTP
// layer renders.
type MediaPlaylist struct {
	mu sync.Mutex

	targetDuration        int
	playlistType          PlaylistType
	discontinuitySequence int
	epochs                []epoch
	finalized             bool
}

// NewMediaPlaylist creates an EVENT playlist with one open epoch.
// targetDuration is the declared maximum segment duration in seconds;
// mapURI is the fMP4 initialization segment for the first epoch, empty
// for MPEG-TS or byte-range serving.
func NewMediaPlaylist(targetDuration int, mapURI string) *MediaPlaylist {
	return &MediaPlaylist{
		targetDuration: targetDuration,
		playlistType:   PlaylistEvent,
		epochs:         []epoch{{mapURI: mapURI}},
	}
}

// Append adds a segment to the current epoch.
func (p *MediaPlaylist) Append(seg Segment) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return ErrFinalized
	}
	cur := &p.epochs[len(p.epochs)-1]
	cur.segments = append(cur.segments, seg)
	if d := int(math.Ceil(seg.Duration)); d > p.targetDuration {
		p.targetDuration = d
	}
	return nil
}

// StartNewEpoch opens a new epoch after a seek or track switch. The
// discontinuity sequence advances and never goes back; segment numbering
// within the new epoch restarts at zero. mapURI is the initialization
// segment for the new epoch.
func (p *MediaPlaylist) StartNewEpoch(mapURI string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finalized {
		return ErrFinalized
	}
	p.discontinuitySequence++
	p.epochs = append(p.epochs, epoch{mapURI: mapURI})
	return nil
}

// Finalize flips the playlist from EVENT to VOD and marks it ended.
// Further mutation fails. Finalizing twice is a no-op.
func (p *MediaPlaylist) Finalize() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playlistType = PlaylistVOD
	p.finalized = true
}

// Epoch returns the index of the current epoch.
func (p *MediaPlaylist) Epoch() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.epochs) - 1
}

// EpochSegmentCount returns how many segments the current epoch holds;
// the session layer numbers segment files from it.
func (p *MediaPlaylist) EpochSegmentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.epochs[len(p.epochs)-1].segments)
}

// HasSegment reports whether the given epoch has a published segment at
// index.
func (p *MediaPlaylist) HasSegment(epoch, index int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if epoch < 0 || epoch >= len(p.epochs) || index < 0 {
		return false
	}
	return index < len(p.epochs[epoch].segments)
}

// SegmentCount returns the total segment count across all epochs.
func (p *MediaPlaylist) SegmentCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.epochs {
		n += len(e.segments)
	}
	return n
}

// DiscontinuitySequence returns the session's monotonic discontinuity
// counter (the number of epochs started after the first).
func (p *MediaPlaylist) DiscontinuitySequence() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.discontinuitySequence
}

// Finalized reports whether Finalize has been called.
func (p *MediaPlaylist) Finalized() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finalized
}

// Type returns the current EXT-X-PLAYLIST-TYPE value.
func (p *MediaPlaylist) Type() PlaylistType {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playlistType
}

// Render emits the playlist text. A discontinuity tag precedes the first
// segment of every epoch after the first, and each epoch with an init
// segment re-declares its EXT-X-MAP so players reinitialize after the
// discontinuity.
func (p *MediaPlaylist) Render() string {
	p.mu.Lock()
	defer p.mu.Unlock()

	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	fmt.Fprintf(&b, "#EXT-X-VERSION:%d\n", Version)
	fmt.Fprintf(&b, "#EXT-X-TARGETDURATION:%d\n", p.targetDuration)
	b.WriteString("#EXT-X-MEDIA-SEQUENCE:0\n")
	fmt.Fprintf(&b, "#EXT-X-DISCONTINUITY-SEQUENCE:%d\n", p.discontinuitySequence)
	fmt.Fprintf(&b, "#EXT-X-PLAYLIST-TYPE:%s\n", p.playlistType)
	b.WriteString("#EXT-X-INDEPENDENT-SEGMENTS\n")

	for i, e := range p.epochs {
		if i > 0 {
			b.WriteString("#EXT-X-DISCONTINUITY\n")
		}
		if e.mapURI != "" {
			fmt.Fprintf(&b, "#EXT-X-MAP:URI=%q\n", e.mapURI)
		}
		for _, seg := range e.segments {
			fmt.Fprintf(&b, "#EXTINF:%.5f,\n", seg.Duration)
			if seg.Length > 0 {
				fmt.Fprintf(&b, "#EXT-X-BYTERANGE:%d@%d\n", seg.Length, seg.Offset)
			}
			b.WriteString(seg.URI)
			b.WriteByte('\n')
		}
	}

	if p.finalized {
		b.WriteString("#EXT-X-ENDLIST\n")
	}
	return b.String()
}
