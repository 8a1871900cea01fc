package probe

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// Coefficient of variation below this means the keyframe cadence is regular
// enough to cut HLS segments on.
const keyframeRegularityCV = 0.20

// Interval count at which sampling confidence saturates.
const keyframeFullConfidenceSamples = 20

// analyzeKeyframes samples keyframe timestamps from three regions of the
// file (start, middle, end) and summarizes their cadence. Sampling windows
// instead of scanning the whole file trades accuracy for probe cost.
func (p *Prober) analyzeKeyframes(ctx context.Context, path string, durationSecs float64) (KeyframeAnalysis, error) {
	window := p.keyframeWindow.Seconds()
	if window <= 0 {
		window = 30
	}

	var starts []float64
	if durationSecs <= 3*window {
		starts = []float64{0}
		window = durationSecs
	} else {
		starts = []float64{
			0,
			durationSecs/2 - window/2,
			durationSecs - window,
		}
	}

	regions := make([][]float64, 0, len(starts))
	for _, start := range starts {
		times, err := p.sampleKeyframes(ctx, path, start, window)
		if err != nil {
			return KeyframeAnalysis{}, err
		}
		regions = append(regions, times)
	}

	return summarizeKeyframes(regions), nil
}

// sampleKeyframes reads packets for one region and returns the timestamps of
// keyframe packets in ascending order.
func (p *Prober) sampleKeyframes(ctx context.Context, path string, startSecs, windowSecs float64) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-select_streams", "v:0",
		"-show_entries", "packet=pts_time,flags,codec_type",
		"-read_intervals", fmt.Sprintf("%.2f%%+%.2f", startSecs, windowSecs),
		path,
	}

	var result ffprobePackets
	if err := run(ctx, p.ffprobePath, args, &result); err != nil {
		return nil, fmt.Errorf("sampling keyframes at %.1fs: %w", startSecs, err)
	}

	var times []float64
	for _, pkt := range result.Packets {
		if !strings.Contains(pkt.Flags, "K") {
			continue
		}
		if t := parseSeconds(pkt.PtsTime); t > 0 || pkt.PtsTime == "0.000000" {
			times = append(times, t)
		}
	}
	return times, nil
}

// summarizeKeyframes computes interval statistics across sampled regions.
// Intervals are taken only between consecutive keyframes within the same
// region; region boundaries are not real gaps.
func summarizeKeyframes(regions [][]float64) KeyframeAnalysis {
	var intervals []float64
	for _, times := range regions {
		for i := 1; i < len(times); i++ {
			if d := times[i] - times[i-1]; d > 0 {
				intervals = append(intervals, d)
			}
		}
	}

	if len(intervals) == 0 {
		// No cadence observed; planning treats this as irregular.
		return KeyframeAnalysis{IsRegular: false, Confidence: 0}
	}

	var sum, maxInterval float64
	for _, d := range intervals {
		sum += d
		if d > maxInterval {
			maxInterval = d
		}
	}
	avg := sum / float64(len(intervals))

	var variance float64
	for _, d := range intervals {
		variance += (d - avg) * (d - avg)
	}
	variance /= float64(len(intervals))
	stddev := math.Sqrt(variance)

	cv := stddev / avg
	confidence := math.Min(1, float64(len(intervals))/keyframeFullConfidenceSamples)

	return KeyframeAnalysis{
		MaxInterval: maxInterval,
		AvgInterval: avg,
		IsRegular:   cv < keyframeRegularityCV,
		Confidence:  confidence,
		SampleCount: len(intervals),
	}
}
