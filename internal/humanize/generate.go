package humanize

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"omnireel/internal/media"
	"omnireel/internal/services"
)

// edgeGuard keeps breath edges strictly inside their gap despite rounding.
const edgeGuard = 1e-6

// NewSeed returns a fresh random seed for production runs.
func NewSeed() uint64 {
	return rand.Uint64()
}

func newRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// GeneratePlan samples a plan for a. Every parameter is clamped to bounds
// while it is drawn. Operations whose constraints cannot be met are left out
// and listed in Plan.Skipped; only an invalid artifact or a duration mismatch
// is an error.
func GeneratePlan(a *media.Artifact, c Constraints, b Bounds, seed uint64) (Plan, error) {
	if err := a.Validate(); err != nil {
		return Plan{}, services.Wrap(services.ErrValidation, "", "generate plan", "invalid artifact", err)
	}
	total := a.Duration()
	if err := checkDuration(a, c.Duration); err != nil {
		return Plan{}, err
	}

	rng := newRand(seed)
	plan := Plan{Seed: seed}

	plan.Visual = planVisual(rng, a, b, &plan)
	plan.Noise = planNoise(rng, a, b, &plan)
	plan.Pitch = planPitch(rng, a, b, total, &plan)

	speech, gaps := resolveGaps(a, c, b, total)
	plan.Breaths = planBreaths(rng, gaps, b, total, &plan)
	if err := plan.Check(b, speech); err != nil {
		return Plan{}, fmt.Errorf("generated plan out of bounds: %w", err)
	}
	return plan, nil
}

func checkDuration(a *media.Artifact, want float64) error {
	if want <= 0 {
		return nil
	}
	tolerance := 0.01
	if a.Video.FrameRate > 0 {
		tolerance = math.Max(tolerance, 1/a.Video.FrameRate)
	}
	if got := a.Duration(); math.Abs(got-want) > tolerance {
		return services.Wrap(services.ErrValidation, "", "generate plan",
			fmt.Sprintf("artifact lasts %.3fs, constraints require %.3fs", got, want), nil)
	}
	return nil
}

func (p *Plan) skip(op Operation, format string, args ...any) {
	p.Skipped = append(p.Skipped, Skip{Operation: op, Reason: fmt.Sprintf(format, args...)})
}

func planVisual(rng *rand.Rand, a *media.Artifact, b Bounds, plan *Plan) *VisualJitter {
	if len(a.Video.Frames) == 0 {
		plan.skip(OpVisualJitter, "artifact has no video track")
		return nil
	}
	amp := max(b.VisualMaxOffset, 0)
	if amp == 0 {
		plan.skip(OpVisualJitter, "visual_max_offset is zero")
		return nil
	}
	dist := b.VisualDistribution
	if dist != DistributionGaussian {
		dist = DistributionUniform
	}
	draw := func() int {
		if dist == DistributionGaussian {
			v := int(math.Round(rng.NormFloat64() * float64(amp) / 2))
			return min(max(v, -amp), amp)
		}
		return rng.IntN(2*amp+1) - amp
	}
	offsets := make([]Offset, len(a.Video.Frames))
	for i := range offsets {
		offsets[i] = Offset{DX: draw(), DY: draw()}
	}
	return &VisualJitter{Distribution: dist, Amplitude: amp, Offsets: offsets}
}

func planNoise(rng *rand.Rand, a *media.Artifact, b Bounds, plan *Plan) *NoiseOverlay {
	if len(a.Video.Frames) == 0 {
		plan.skip(OpNoiseOverlay, "artifact has no video track")
		return nil
	}
	if b.NoiseMaxIntensity <= 0 {
		plan.skip(OpNoiseOverlay, "noise_max_intensity is zero")
		return nil
	}
	intensity := clamp(b.NoiseMaxIntensity*(0.25+0.75*rng.Float64()), 0, b.NoiseMaxIntensity)
	return &NoiseOverlay{Intensity: intensity, Seed: rng.Uint64()}
}

func planPitch(rng *rand.Rand, a *media.Artifact, b Bounds, total float64, plan *Plan) *PitchJitter {
	if len(a.Audio.Samples) < 2 {
		plan.skip(OpPitchJitter, "artifact has no audio track")
		return nil
	}
	if b.PitchMaxCents <= 0 {
		plan.skip(OpPitchJitter, "pitch_max_cents is zero")
		return nil
	}
	if b.PitchInterval <= 0 {
		plan.skip(OpPitchJitter, "pitch_interval_seconds must be positive")
		return nil
	}
	n := int(math.Ceil(total/b.PitchInterval)) + 1
	points := make([]float64, n)
	for i := range points {
		points[i] = clamp((2*rng.Float64()-1)*b.PitchMaxCents, -b.PitchMaxCents, b.PitchMaxCents)
	}
	return &PitchJitter{MaxCents: b.PitchMaxCents, Interval: b.PitchInterval, Points: points}
}

// resolveGaps merges supplied speech maps and returns the speech intervals
// with the silence gaps, outside speech, long enough to host a breath.
func resolveGaps(a *media.Artifact, c Constraints, b Bounds, total float64) ([]media.Interval, []media.Interval) {
	speech := media.Merge(append(slices.Clone(a.Speech), c.Speech...))
	var silence []media.Interval
	switch {
	case len(c.Silence) > 0:
		silence = media.Merge(c.Silence)
	case len(speech) > 0:
		silence = media.Complement(speech, total)
	default:
		silence = media.DetectSilence(a.Audio, b.SilenceThreshold, b.BreathMinGap)
		speech = media.Complement(silence, total)
	}

	free := media.Complement(speech, total)
	var gaps []media.Interval
	for _, s := range silence {
		for _, f := range free {
			iv := media.Interval{Start: math.Max(s.Start, f.Start), End: math.Min(s.End, f.End)}
			if iv.Duration() > 0 && iv.Duration() >= b.BreathMinGap {
				gaps = append(gaps, iv)
			}
		}
	}
	return speech, gaps
}

func planBreaths(rng *rand.Rand, gaps []media.Interval, b Bounds, total float64, plan *Plan) []Breath {
	switch {
	case total <= 0:
		plan.skip(OpBreathInsertion, "artifact has no audio track")
		return nil
	case b.BreathsPerMinute <= 0:
		plan.skip(OpBreathInsertion, "breaths_per_minute is zero")
		return nil
	case b.BreathMaxGain <= 0:
		plan.skip(OpBreathInsertion, "breath_max_gain is zero")
		return nil
	case b.BreathMinDuration <= 0 || b.BreathMaxDuration < b.BreathMinDuration:
		plan.skip(OpBreathInsertion, "breath duration bounds are invalid")
		return nil
	}

	margin := math.Max(b.BreathMargin, 0) + edgeGuard
	var windows []media.Interval
	for _, g := range gaps {
		w := media.Interval{Start: g.Start + margin, End: g.End - margin}
		if w.Duration() >= b.BreathMinDuration {
			windows = append(windows, w)
		}
	}
	if len(windows) == 0 {
		plan.skip(OpBreathInsertion, "no silence gap of %.2fs or more fits a breath outside speech", b.BreathMinGap)
		return nil
	}

	want := max(1, int(math.Ceil(total/60*b.BreathsPerMinute)))
	var breaths []Breath
	for _, idx := range rng.Perm(len(windows)) {
		if len(breaths) == want {
			break
		}
		w := windows[idx]
		longest := math.Min(b.BreathMaxDuration, w.Duration())
		dur := clamp(b.BreathMinDuration+rng.Float64()*(longest-b.BreathMinDuration), b.BreathMinDuration, longest)
		start := w.Start + rng.Float64()*(w.Duration()-dur)
		if start+dur > w.End {
			start = w.End - dur
		}
		gain := clamp(b.BreathMaxGain*(0.3+0.7*rng.Float64()), 0, b.BreathMaxGain)
		breaths = append(breaths, Breath{Start: start, Duration: dur, Gain: gain, Seed: rng.Uint64()})
	}
	slices.SortFunc(breaths, func(x, y Breath) int {
		switch {
		case x.Start < y.Start:
			return -1
		case x.Start > y.Start:
			return 1
		default:
			return 0
		}
	})
	if len(breaths) < want {
		plan.skip(OpBreathInsertion, "placed %d of %d breaths; not enough silence gaps", len(breaths), want)
	}
	return breaths
}

// SkipError reports skipped operations as a constraint error, or nil.
func (p Plan) SkipError() error {
	if len(p.Skipped) == 0 {
		return nil
	}
	reasons := make([]string, 0, len(p.Skipped))
	for _, s := range p.Skipped {
		reasons = append(reasons, string(s.Operation)+": "+s.Reason)
	}
	return fmt.Errorf("%w: %s", services.ErrConstraintUnsatisfiable, strings.Join(reasons, "; "))
}

// Humanize generates a plan for a and applies it.
func Humanize(a *media.Artifact, c Constraints, b Bounds, seed uint64) (*media.Artifact, Plan, error) {
	plan, err := GeneratePlan(a, c, b, seed)
	if err != nil {
		return nil, Plan{}, err
	}
	out, err := Apply(a, plan)
	if err != nil {
		return nil, Plan{}, err
	}
	return out, plan, nil
}

var errPlanMismatch = errors.New("plan does not match artifact")
