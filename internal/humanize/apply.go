package humanize

import (
	"fmt"
	"math"

	"omnireel/internal/media"
)

// Apply returns a perturbed copy of a. It is pure: the same artifact and plan
// always produce byte-identical output, and a is never modified. Frame count
// and sample count are preserved.
func Apply(a *media.Artifact, p Plan) (*media.Artifact, error) {
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("apply plan: %w", err)
	}
	out := a.Clone()
	if v := p.Visual; v != nil {
		if len(v.Offsets) != len(out.Video.Frames) {
			return nil, fmt.Errorf("%w: %d offsets for %d frames", errPlanMismatch, len(v.Offsets), len(out.Video.Frames))
		}
		for i, frame := range out.Video.Frames {
			out.Video.Frames[i] = shiftFrame(out.Video, frame, v.Offsets[i])
		}
	}
	if n := p.Noise; n != nil {
		addNoise(out.Video.Frames, *n)
	}
	for _, b := range p.Breaths {
		mixBreath(&out.Audio, b)
	}
	if pj := p.Pitch; pj != nil && len(out.Audio.Samples) >= 2 {
		if len(pj.Points) == 0 || pj.Interval <= 0 {
			return nil, fmt.Errorf("%w: empty pitch curve", errPlanMismatch)
		}
		out.Audio.Samples = warpPitch(out.Audio, *pj)
	}
	return out, nil
}

// shiftFrame translates a frame by o and fills uncovered pixels from the
// nearest edge.
func shiftFrame(v media.Video, frame []byte, o Offset) []byte {
	if o.DX == 0 && o.DY == 0 {
		return frame
	}
	dst := make([]byte, len(frame))
	stride := v.Width * v.Channels
	for y := 0; y < v.Height; y++ {
		sy := min(max(y-o.DY, 0), v.Height-1)
		for x := 0; x < v.Width; x++ {
			sx := min(max(x-o.DX, 0), v.Width-1)
			copy(dst[y*stride+x*v.Channels:y*stride+(x+1)*v.Channels], frame[sy*stride+sx*v.Channels:])
		}
	}
	return dst
}

func addNoise(frames [][]byte, n NoiseOverlay) {
	if n.Intensity <= 0 {
		return
	}
	rng := newRand(n.Seed)
	for _, frame := range frames {
		for i, px := range frame {
			v := float64(px) + math.Round(rng.NormFloat64()*n.Intensity)
			frame[i] = byte(clamp(v, 0, 255))
		}
	}
}

// mixBreath adds a band-limited noise burst under a raised-sine envelope.
func mixBreath(a *media.Audio, b Breath) {
	start := a.Index(b.Start)
	end := a.Index(b.Start + b.Duration)
	n := end - start
	if n <= 0 {
		return
	}
	rng := newRand(b.Seed)
	var lp float64
	for i := 0; i < n; i++ {
		lp += 0.15 * (rng.NormFloat64() - lp)
		env := math.Sin(math.Pi * float64(i) / float64(n))
		sample := b.Gain * 32767 * env * env * clamp(lp*3, -1, 1)
		mixed := float64(a.Samples[start+i]) + sample
		a.Samples[start+i] = int16(clamp(math.Round(mixed), -32768, 32767))
	}
}

// warpPitch resamples the track along a time-varying playback ratio derived
// from the cents curve. The read positions are rescaled so the last output
// sample reads the last input sample, which keeps the length unchanged.
func warpPitch(a media.Audio, p PitchJitter) []int16 {
	src := a.Samples
	n := len(src)
	ratio := func(i int) float64 {
		t := float64(i) / float64(a.SampleRate) / p.Interval
		k := int(t)
		f := t - float64(k)
		c0 := p.Points[min(k, len(p.Points)-1)]
		c1 := p.Points[min(k+1, len(p.Points)-1)]
		mu := (1 - math.Cos(math.Pi*f)) / 2
		return math.Pow(2, (c0*(1-mu)+c1*mu)/1200)
	}

	var total float64
	for i := 0; i < n-1; i++ {
		total += ratio(i)
	}
	scale := float64(n-1) / total

	out := make([]int16, n)
	pos := 0.0
	for i := 0; i < n; i++ {
		j := min(int(pos), n-1)
		frac := pos - float64(j)
		v := float64(src[j])
		if j+1 < n {
			v += frac * (float64(src[j+1]) - v)
		}
		out[i] = int16(clamp(math.Round(v), -32768, 32767))
		pos += ratio(i) * scale
	}
	return out
}
