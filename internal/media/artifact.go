package media

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// Interval is the half-open range [Start, End) in seconds.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the interval length, never negative.
func (i Interval) Duration() float64 {
	return math.Max(0, i.End-i.Start)
}

// Overlaps reports whether the two intervals share any time.
func (i Interval) Overlaps(other Interval) bool {
	return i.Start < other.End && other.Start < i.End
}

// Contains reports whether other lies entirely inside i.
func (i Interval) Contains(other Interval) bool {
	return other.Start >= i.Start && other.End <= i.End
}

// Video is a sequence of raw frames of identical geometry. Pixels are 8-bit
// interleaved channels, row-major.
type Video struct {
	Width     int
	Height    int
	Channels  int
	FrameRate float64
	Frames    [][]byte
}

// FrameSize returns the byte length of one frame.
func (v Video) FrameSize() int {
	return v.Width * v.Height * v.Channels
}

// Audio is a mono PCM16 track.
type Audio struct {
	SampleRate int
	Samples    []int16
}

// Duration returns the track length in seconds.
func (a Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Index converts a time in seconds to a sample index clamped to the track.
func (a Audio) Index(seconds float64) int {
	idx := int(math.Round(seconds * float64(a.SampleRate)))
	return min(max(idx, 0), len(a.Samples))
}

// Artifact is a rendered video with its audio track and the speech intervals
// reported by the renderer. Speech may be empty when the renderer supplied no
// map; callers then derive one from DetectSilence.
type Artifact struct {
	Video  Video
	Audio  Audio
	Speech []Interval
}

// Duration returns the artifact length in seconds, preferring the audio clock.
func (a *Artifact) Duration() float64 {
	if d := a.Audio.Duration(); d > 0 {
		return d
	}
	if a.Video.FrameRate > 0 {
		return float64(len(a.Video.Frames)) / a.Video.FrameRate
	}
	return 0
}

// Clone returns a deep copy.
func (a *Artifact) Clone() *Artifact {
	out := &Artifact{
		Video: a.Video,
		Audio: Audio{SampleRate: a.Audio.SampleRate, Samples: slices.Clone(a.Audio.Samples)},
	}
	out.Video.Frames = make([][]byte, len(a.Video.Frames))
	for i, frame := range a.Video.Frames {
		out.Video.Frames[i] = slices.Clone(frame)
	}
	out.Speech = slices.Clone(a.Speech)
	return out
}

// Validate checks track geometry and interval sanity.
func (a *Artifact) Validate() error {
	if a == nil {
		return errors.New("artifact is nil")
	}
	v := a.Video
	if len(v.Frames) > 0 {
		if v.Width <= 0 || v.Height <= 0 || v.Channels <= 0 {
			return fmt.Errorf("invalid frame geometry %dx%dx%d", v.Width, v.Height, v.Channels)
		}
		if v.FrameRate <= 0 {
			return fmt.Errorf("invalid frame rate %v", v.FrameRate)
		}
		size := v.FrameSize()
		for i, frame := range v.Frames {
			if len(frame) != size {
				return fmt.Errorf("frame %d has %d bytes, want %d", i, len(frame), size)
			}
		}
	}
	if len(a.Audio.Samples) > 0 && a.Audio.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", a.Audio.SampleRate)
	}
	for i, iv := range a.Speech {
		if iv.End < iv.Start || iv.Start < 0 {
			return fmt.Errorf("speech interval %d is inverted: %v", i, iv)
		}
	}
	return nil
}
