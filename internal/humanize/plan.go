package humanize

import (
	"fmt"
	"math"
	"strings"

	"omnireel/internal/config"
	"omnireel/internal/media"
)

// Operation names a perturbation type.
type Operation string

const (
	OpVisualJitter    Operation = "visual_jitter"
	OpNoiseOverlay    Operation = "noise_overlay"
	OpPitchJitter     Operation = "pitch_jitter"
	OpBreathInsertion Operation = "breath_insertion"
)

// Distribution names the visual offset distribution.
const (
	DistributionUniform  = "uniform"
	DistributionGaussian = "gaussian"
)

// Bounds are the maxima every plan parameter is clamped to.
type Bounds struct {
	VisualMaxOffset    int
	VisualDistribution string
	NoiseMaxIntensity  float64
	PitchMaxCents      float64
	PitchInterval      float64
	BreathMinGap       float64
	BreathMinDuration  float64
	BreathMaxDuration  float64
	BreathMargin       float64
	BreathMaxGain      float64
	BreathsPerMinute   float64
	SilenceThreshold   float64
}

// BoundsFromConfig maps the [humanize] config section.
func BoundsFromConfig(cfg config.Humanize) Bounds {
	return Bounds{
		VisualMaxOffset:    cfg.VisualMaxOffset,
		VisualDistribution: strings.ToLower(strings.TrimSpace(cfg.VisualDistribution)),
		NoiseMaxIntensity:  cfg.NoiseMaxIntensity,
		PitchMaxCents:      cfg.PitchMaxCents,
		PitchInterval:      cfg.PitchIntervalSeconds,
		BreathMinGap:       cfg.BreathMinGapSeconds,
		BreathMinDuration:  cfg.BreathMinSeconds,
		BreathMaxDuration:  cfg.BreathMaxSeconds,
		BreathMargin:       cfg.BreathMarginSeconds,
		BreathMaxGain:      cfg.BreathMaxGain,
		BreathsPerMinute:   cfg.BreathsPerMinute,
		SilenceThreshold:   cfg.SilenceThreshold,
	}
}

// Constraints describe the artifact the plan must fit. Duration, when set,
// must match the artifact. Speech is merged with the artifact's own speech
// map. Silence overrides detection when supplied.
type Constraints struct {
	Duration float64          `json:"duration,omitempty"`
	Speech   []media.Interval `json:"speech,omitempty"`
	Silence  []media.Interval `json:"silence,omitempty"`
}

// Offset is a per-frame translation in pixels.
type Offset struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

// VisualJitter translates each frame by its offset, replicating edge pixels.
type VisualJitter struct {
	Distribution string   `json:"distribution"`
	Amplitude    int      `json:"amplitude"`
	Offsets      []Offset `json:"offsets"`
}

// NoiseOverlay adds zero-mean Gaussian noise of the given standard deviation
// (in 8-bit levels) to every pixel channel.
type NoiseOverlay struct {
	Intensity float64 `json:"intensity"`
	Seed      uint64  `json:"seed"`
}

// PitchJitter is a cents curve sampled every Interval seconds and
// cosine-interpolated. Applied as a drift-corrected resample, so the track
// keeps its sample count.
type PitchJitter struct {
	MaxCents float64   `json:"max_cents"`
	Interval float64   `json:"interval_seconds"`
	Points   []float64 `json:"points"`
}

// Breath is one synthesized breath mixed into a silence gap.
type Breath struct {
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
	Gain     float64 `json:"gain"`
	Seed     uint64  `json:"seed"`
}

// Interval returns the time span the breath occupies.
func (b Breath) Interval() media.Interval {
	return media.Interval{Start: b.Start, End: b.Start + b.Duration}
}

// Skip records an operation that was left out and why.
type Skip struct {
	Operation Operation `json:"operation"`
	Reason    string    `json:"reason"`
}

// Plan is the full set of perturbations for one artifact. It is a pure
// function of the artifact, constraints, bounds and seed.
type Plan struct {
	Seed    uint64        `json:"seed"`
	Visual  *VisualJitter `json:"visual,omitempty"`
	Noise   *NoiseOverlay `json:"noise,omitempty"`
	Pitch   *PitchJitter  `json:"pitch,omitempty"`
	Breaths []Breath      `json:"breaths,omitempty"`
	Skipped []Skip        `json:"skipped,omitempty"`
}

// Applied lists the operations the plan carries.
func (p Plan) Applied() []Operation {
	var out []Operation
	if p.Visual != nil {
		out = append(out, OpVisualJitter)
	}
	if p.Noise != nil {
		out = append(out, OpNoiseOverlay)
	}
	if p.Pitch != nil {
		out = append(out, OpPitchJitter)
	}
	if len(p.Breaths) > 0 {
		out = append(out, OpBreathInsertion)
	}
	return out
}

// Summary is the compact form stored in stage provenance.
type Summary struct {
	Seed         uint64      `json:"seed"`
	Applied      []Operation `json:"applied"`
	Skipped      []Skip      `json:"skipped,omitempty"`
	MaxOffset    int         `json:"max_offset"`
	Noise        float64     `json:"noise_intensity"`
	MaxCents     float64     `json:"max_cents"`
	Breaths      int         `json:"breaths"`
	BreathTotalS float64     `json:"breath_seconds"`
}

// Summarize condenses the plan for provenance.
func (p Plan) Summarize() Summary {
	s := Summary{Seed: p.Seed, Applied: p.Applied(), Skipped: p.Skipped, Breaths: len(p.Breaths)}
	if s.Applied == nil {
		s.Applied = []Operation{}
	}
	if p.Visual != nil {
		for _, o := range p.Visual.Offsets {
			s.MaxOffset = max(s.MaxOffset, abs(o.DX), abs(o.DY))
		}
	}
	if p.Noise != nil {
		s.Noise = p.Noise.Intensity
	}
	if p.Pitch != nil {
		for _, c := range p.Pitch.Points {
			s.MaxCents = math.Max(s.MaxCents, math.Abs(c))
		}
	}
	for _, b := range p.Breaths {
		s.BreathTotalS += b.Duration
	}
	return s
}

// Check verifies every parameter against bounds and that no breath overlaps
// speech or another breath. GeneratePlan never produces a plan that fails it.
func (p Plan) Check(b Bounds, speech []media.Interval) error {
	if v := p.Visual; v != nil {
		if v.Amplitude > b.VisualMaxOffset {
			return fmt.Errorf("visual amplitude %d exceeds %d", v.Amplitude, b.VisualMaxOffset)
		}
		for i, o := range v.Offsets {
			if abs(o.DX) > v.Amplitude || abs(o.DY) > v.Amplitude {
				return fmt.Errorf("frame %d offset %+v exceeds %d", i, o, v.Amplitude)
			}
		}
	}
	if n := p.Noise; n != nil && (n.Intensity < 0 || n.Intensity > b.NoiseMaxIntensity) {
		return fmt.Errorf("noise intensity %v outside [0, %v]", n.Intensity, b.NoiseMaxIntensity)
	}
	if pj := p.Pitch; pj != nil {
		if pj.MaxCents > b.PitchMaxCents {
			return fmt.Errorf("pitch bound %v exceeds %v", pj.MaxCents, b.PitchMaxCents)
		}
		for i, c := range pj.Points {
			if math.Abs(c) > pj.MaxCents {
				return fmt.Errorf("pitch point %d = %v exceeds %v cents", i, c, pj.MaxCents)
			}
		}
	}
	for i, br := range p.Breaths {
		if br.Gain < 0 || br.Gain > b.BreathMaxGain {
			return fmt.Errorf("breath %d gain %v outside [0, %v]", i, br.Gain, b.BreathMaxGain)
		}
		if br.Duration < b.BreathMinDuration || br.Duration > b.BreathMaxDuration {
			return fmt.Errorf("breath %d duration %v outside [%v, %v]", i, br.Duration, b.BreathMinDuration, b.BreathMaxDuration)
		}
		iv := br.Interval()
		for _, s := range speech {
			if iv.Overlaps(s) {
				return fmt.Errorf("breath %d %v overlaps speech %v", i, iv, s)
			}
		}
		for j := i + 1; j < len(p.Breaths); j++ {
			if iv.Overlaps(p.Breaths[j].Interval()) {
				return fmt.Errorf("breaths %d and %d overlap", i, j)
			}
		}
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
