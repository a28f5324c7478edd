package media

import (
	"math"
	"slices"
)

// FrameMillis is the analysis window used by DetectSilence.
const FrameMillis = 20

// DetectSilence returns the gaps of at least minGap seconds whose 20ms windows
// all have an RMS level below threshold. threshold is relative to full scale
// (0..1). A trailing partial window is analysed like a full one.
func DetectSilence(a Audio, threshold, minGap float64) []Interval {
	if a.SampleRate <= 0 || len(a.Samples) == 0 {
		return nil
	}
	window := a.SampleRate * FrameMillis / 1000
	if window <= 0 {
		window = 1
	}
	seconds := func(idx int) float64 { return float64(idx) / float64(a.SampleRate) }

	var (
		out   []Interval
		start = -1
	)
	flush := func(end int) {
		if start < 0 {
			return
		}
		gap := Interval{Start: seconds(start), End: seconds(end)}
		if gap.Duration() >= minGap {
			out = append(out, gap)
		}
		start = -1
	}
	for offset := 0; offset < len(a.Samples); offset += window {
		end := min(offset+window, len(a.Samples))
		if rms(a.Samples[offset:end]) < threshold {
			if start < 0 {
				start = offset
			}
			continue
		}
		flush(offset)
	}
	flush(len(a.Samples))
	return out
}

// Complement returns the parts of [0, total) not covered by intervals, after
// sorting and merging them. It maps speech to silence and back.
func Complement(intervals []Interval, total float64) []Interval {
	merged := Merge(intervals)
	var out []Interval
	cursor := 0.0
	for _, iv := range merged {
		start := math.Max(0, iv.Start)
		if start > cursor {
			out = append(out, Interval{Start: cursor, End: math.Min(start, total)})
		}
		cursor = math.Max(cursor, iv.End)
		if cursor >= total {
			break
		}
	}
	if cursor < total {
		out = append(out, Interval{Start: cursor, End: total})
	}
	return slices.DeleteFunc(out, func(iv Interval) bool { return iv.Duration() <= 0 })
}

// Merge sorts intervals and joins the ones that overlap or touch.
func Merge(intervals []Interval) []Interval {
	if len(intervals) == 0 {
		return nil
	}
	sorted := slices.Clone(intervals)
	slices.SortFunc(sorted, func(a, b Interval) int {
		switch {
		case a.Start < b.Start:
			return -1
		case a.Start > b.Start:
			return 1
		default:
			return 0
		}
	})
	out := []Interval{sorted[0]}
	for _, iv := range sorted[1:] {
		last := &out[len(out)-1]
		if iv.Start <= last.End {
			last.End = math.Max(last.End, iv.End)
			continue
		}
		out = append(out, iv)
	}
	return out
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}
