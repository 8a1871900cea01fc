package hls

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Parse reads a media playlist back into its state form. It accepts the
// output of Render plus reasonable variation in tag order and ignores
// tags it does not model. Parse(Render()) preserves segments, durations,
// epoch boundaries, map URIs, playlist type and the end marker.
func Parse(r io.Reader) (*MediaPlaylist, error) {
	sc := bufio.NewScanner(r)
	if !sc.Scan() {
		return nil, fmt.Errorf("hls: empty playlist")
	}
	if strings.TrimSpace(sc.Text()) != "#EXTM3U" {
		return nil, fmt.Errorf("hls: missing #EXTM3U header")
	}

	p := &MediaPlaylist{
		playlistType: PlaylistEvent,
		epochs:       []epoch{{}},
	}

	var (
		pendingDuration float64
		pendingLength   int64
		pendingOffset   int64
		haveSegment     bool
		discontinuities int
	)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "#EXT-X-VERSION:"):
			// Accepted for compatibility; Render always writes Version.

		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"))
			if err != nil {
				return nil, fmt.Errorf("hls: bad target duration %q: %w", line, err)
			}
			p.targetDuration = v

		case strings.HasPrefix(line, "#EXT-X-PLAYLIST-TYPE:"):
			switch t := PlaylistType(strings.TrimPrefix(line, "#EXT-X-PLAYLIST-TYPE:")); t {
			case PlaylistEvent, PlaylistVOD:
				p.playlistType = t
			default:
				return nil, fmt.Errorf("hls: unknown playlist type %q", t)
			}

		case strings.HasPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"):
			v, err := strconv.Atoi(strings.TrimPrefix(line, "#EXT-X-DISCONTINUITY-SEQUENCE:"))
			if err != nil {
				return nil, fmt.Errorf("hls: bad discontinuity sequence %q: %w", line, err)
			}
			p.discontinuitySequence = v

		case line == "#EXT-X-DISCONTINUITY":
			discontinuities++
			p.epochs = append(p.epochs, epoch{})

		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			uri, err := parseMapURI(line)
			if err != nil {
				return nil, err
			}
			p.epochs[len(p.epochs)-1].mapURI = uri

		case strings.HasPrefix(line, "#EXTINF:"):
			spec := strings.TrimPrefix(line, "#EXTINF:")
			if i := strings.IndexByte(spec, ','); i >= 0 {
				spec = spec[:i]
			}
			d, err := strconv.ParseFloat(spec, 64)
			if err != nil {
				return nil, fmt.Errorf("hls: bad segment duration %q: %w", line, err)
			}
			pendingDuration = d
			haveSegment = true

		case strings.HasPrefix(line, "#EXT-X-BYTERANGE:"):
			length, offset, err := parseByteRange(strings.TrimPrefix(line, "#EXT-X-BYTERANGE:"))
			if err != nil {
				return nil, err
			}
			pendingLength, pendingOffset = length, offset

		case line == "#EXT-X-ENDLIST":
			p.finalized = true

		case strings.HasPrefix(line, "#"):
			// Unmodeled tag or comment.

		default:
			if !haveSegment {
				return nil, fmt.Errorf("hls: segment URI %q without #EXTINF", line)
			}
			cur := &p.epochs[len(p.epochs)-1]
			cur.segments = append(cur.segments, Segment{
				URI:      line,
				Duration: pendingDuration,
				Length:   pendingLength,
				Offset:   pendingOffset,
			})
			pendingDuration, pendingLength, pendingOffset = 0, 0, 0
			haveSegment = false
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("hls: read playlist: %w", err)
	}

	// A playlist without the sequence header still carries its epoch count.
	if p.discontinuitySequence < discontinuities {
		p.discontinuitySequence = discontinuities
	}
	return p, nil
}

func parseMapURI(line string) (string, error) {
	attrs := strings.TrimPrefix(line, "#EXT-X-MAP:")
	for _, attr := range splitAttributes(attrs) {
		if v, ok := strings.CutPrefix(attr, "URI="); ok {
			uri, err := strconv.Unquote(v)
			if err != nil {
				return "", fmt.Errorf("hls: bad map URI %q: %w", line, err)
			}
			return uri, nil
		}
	}
	return "", fmt.Errorf("hls: map tag without URI: %q", line)
}

func parseByteRange(spec string) (length, offset int64, err error) {
	lenPart, offPart, hasOffset := strings.Cut(spec, "@")
	length, err = strconv.ParseInt(lenPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("hls: bad byte range %q: %w", spec, err)
	}
	if hasOffset {
		offset, err = strconv.ParseInt(offPart, 10, 64)
		if err != nil {
			return 0, 0, fmt.Errorf("hls: bad byte range offset %q: %w", spec, err)
		}
	}
	return length, offset, nil
}

// splitAttributes splits an attribute list on commas outside quotes.
func splitAttributes(s string) []string {
	var (
		parts  []string
		start  int
		quoted bool
	)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			quoted = !quoted
		case ',':
			if !quoted {
				parts = append(parts, s[start:i])
				start = i + 1
			}
		}
	}
	return append(parts, s[start:])
}
