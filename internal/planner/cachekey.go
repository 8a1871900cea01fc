package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// cacheKeySchema versions the key layout; bump it when the canonical form
// changes so stale transcode artifacts are never reused.
const cacheKeySchema = "v2"

// cacheKey derives a deterministic identity for the plan's output
// artifacts. Two plans that produce byte-different output must get
// different keys; fields that do not affect the output (reason codes,
// invariants) are excluded. Absent optional fields are omitted entirely
// rather than encoded as empty, so adding fields later cannot collide
// with old keys.
func cacheKey(p *PlaybackPlan) string {
	parts := []string{
		cacheKeySchema,
		"media=" + p.MediaID,
		"fp=" + p.Fingerprint,
		"mode=" + p.Mode.String(),
		"transport=" + string(p.Transport),
		"container=" + p.Container,
		fmt.Sprintf("v=%d:%s:%s", p.Video.StreamIndex, p.Video.Action, p.Video.Codec),
	}

	if p.Video.Action == ActionEncode {
		if p.Video.Encoder != "" {
			parts = append(parts, "venc="+p.Video.Encoder)
		}
		if p.Video.Width > 0 {
			parts = append(parts, fmt.Sprintf("vdim=%dx%d", p.Video.Width, p.Video.Height))
		}
		if p.Video.BitRate > 0 {
			parts = append(parts, fmt.Sprintf("vbr=%d", p.Video.BitRate))
		}
		if len(p.Video.Filters) > 0 {
			parts = append(parts, "vf="+strings.Join(p.Video.Filters, ","))
		}
	}

	if p.Audio != nil {
		parts = append(parts, fmt.Sprintf("a=%d:%s:%s:%d",
			p.Audio.StreamIndex, p.Audio.Action, p.Audio.Codec, p.Audio.Channels))
		if p.Audio.Action == ActionEncode && p.Audio.Encoder != "" {
			parts = append(parts, "aenc="+p.Audio.Encoder)
		}
		if len(p.Audio.Filters) > 0 {
			parts = append(parts, "af="+strings.Join(p.Audio.Filters, ","))
		}
	}

	if p.Subtitles.Mode != SubtitleNone {
		parts = append(parts, fmt.Sprintf("sub=%s:%d", p.Subtitles.Mode, p.Subtitles.StreamIndex))
	}

	if p.HDR != nil {
		parts = append(parts, fmt.Sprintf("hdr=%s:%s", p.HDR.SourceFormat, p.HDR.Mode))
	}

	if q := p.Quirks; q != (QuirksPlan{}) {
		parts = append(parts, fmt.Sprintf("quirks=%t:%t:%t:%d:%t",
			q.Deinterlace, q.NormalizeVFR, q.RemoveTelecine, q.AudioSyncAdjust, q.FixContainer))
	}

	if p.Mods.Speed != 0 {
		parts = append(parts, fmt.Sprintf("speed=%.3f", p.Mods.Speed))
	}
	if p.Mods.AudioNormalization != "" {
		parts = append(parts, "anorm="+p.Mods.AudioNormalization)
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
