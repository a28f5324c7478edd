package pipeline

import (
	"log/slog"
	"time"

	"omnireel/internal/config"
	"omnireel/internal/humanize"
	"omnireel/internal/jobspec"
	"omnireel/internal/knowledge"
	"omnireel/internal/logging"
	"omnireel/internal/stage"
)

// Deps are the collaborators the stage descriptors close over.
type Deps struct {
	Config    *config.Config
	Knowledge knowledge.Store
	Logger    *slog.Logger
	// Seed supplies a perturbation seed when the job spec sets none.
	Seed func() uint64
	Now  func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Config == nil {
		cfg := config.Default()
		d.Config = &cfg
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
	if d.Seed == nil {
		d.Seed = humanize.NewSeed
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// Descriptors returns the four stage descriptors in pipeline order.
func Descriptors(deps Deps) []stage.Descriptor {
	deps = deps.withDefaults()
	return []stage.Descriptor{
		Scout(deps),
		Architect(deps),
		Humanizer(deps),
		Distributor(deps),
	}
}

// NewRegistry builds the stage registry over the pipeline descriptors.
func NewRegistry(deps Deps) (*stage.Registry, error) {
	return stage.NewRegistry(Descriptors(deps)...)
}

func specOf(jc stage.JobContext) (jobspec.Spec, error) {
	return jobspec.FromRequest(jc.Job.Request)
}
