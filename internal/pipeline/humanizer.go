package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"omnireel/internal/fileutil"
	"omnireel/internal/humanize"
	"omnireel/internal/jobs"
	"omnireel/internal/logging"
	"omnireel/internal/media"
	"omnireel/internal/services"
	"omnireel/internal/stage"
)

// Files written to the job artifact directory.
const (
	RenderedFile  = "rendered.omr"
	HumanizedFile = "humanized.omr"
	PlanFile      = "plan.json"
	ManifestFile  = "manifest.json"
)

type renderRequest struct {
	Title   string `json:"title"`
	Seconds int    `json:"seconds"`
	Script  Script `json:"script"`
}

// Humanizer renders the script and perturbs the rendered artifact.
func Humanizer(deps Deps) stage.Descriptor {
	bounds := humanize.BoundsFromConfig(deps.Config.Humanize)
	return stage.Descriptor{
		Name:         jobs.StageHumanizing,
		Predecessor:  jobs.StageScripting,
		Capabilities: []string{CapabilityRender},
		Validate: func(jc stage.JobContext) error {
			if strings.TrimSpace(jc.ArtifactDir) == "" {
				return fmt.Errorf("artifact directory not set")
			}
			var script Script
			return jc.DecodePrior(jobs.StageScripting, &script)
		},
		Plan: func(jc stage.JobContext) ([]stage.Call, error) {
			var script Script
			if err := jc.DecodePrior(jobs.StageScripting, &script); err != nil {
				return nil, err
			}
			// The job id is left out of the input so identical scripts share a render.
			return []stage.Call{{
				Key:        "render",
				Capability: CapabilityRender,
				Input: renderRequest{
					Title:   jc.Job.Title,
					Seconds: deps.Config.Pipeline.ScriptSeconds,
					Script:  script,
				},
			}}, nil
		},
		Combine: func(_ stage.JobContext, replies []stage.Reply) (stage.Combined, error) {
			if len(replies) != 1 {
				return stage.Combined{}, fmt.Errorf("expected one render reply, got %d", len(replies))
			}
			var reply RenderReply
			if err := json.Unmarshal(replies[0].Output.Payload, &reply); err != nil {
				return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageHumanizing), "combine", "render reply is not a JSON object", err)
			}
			if strings.TrimSpace(reply.ArtifactPath) == "" {
				return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageHumanizing), "combine", "render reply has no artifact_path", nil)
			}
			return stage.Combined{Payload: reply}, nil
		},
		Finish: func(ctx context.Context, jc stage.JobContext, combined *stage.Combined) error {
			reply, ok := combined.Payload.(RenderReply)
			if !ok {
				return fmt.Errorf("unexpected render payload %T", combined.Payload)
			}
			spec, err := specOf(jc)
			if err != nil {
				return err
			}
			seed := deps.Seed()
			if spec.Seed != nil {
				seed = *spec.Seed
			}

			rendered := filepath.Join(jc.ArtifactDir, RenderedFile)
			if err := fileutil.CopyFileVerified(reply.ArtifactPath, rendered); err != nil {
				return services.Wrap(services.ErrFatal, string(jobs.StageHumanizing), "copy render", "could not copy rendered artifact", err)
			}
			artifact, err := media.ReadFile(rendered)
			if err != nil {
				return services.Wrap(services.ErrFatal, string(jobs.StageHumanizing), "decode render", "rendered artifact is unreadable", err)
			}
			constraints := humanize.Constraints{Duration: reply.Duration, Speech: reply.Speech}
			out, plan, err := humanize.Humanize(artifact, constraints, bounds, seed)
			if err != nil {
				return err
			}

			logger := logging.WithContext(ctx, deps.Logger)
			if skipErr := plan.SkipError(); skipErr != nil {
				logging.WarnWithContext(logger, "humanization partially applied", "humanize_partial",
					logging.Error(skipErr),
					logging.String(logging.FieldErrorHint, "lengthen silence gaps in the render or relax [humanize] bounds"),
					logging.String(logging.FieldImpact, "skipped operations left the artifact unmodified"),
				)
				for _, s := range plan.Skipped {
					combined.Notes = append(combined.Notes, fmt.Sprintf("skipped %s: %s", s.Operation, s.Reason))
				}
			}

			artifactPath := filepath.Join(jc.ArtifactDir, HumanizedFile)
			if err := media.WriteFile(artifactPath, out); err != nil {
				return services.Wrap(services.ErrFatal, string(jobs.StageHumanizing), "write artifact", "could not write humanized artifact", err)
			}
			planJSON, err := json.MarshalIndent(plan, "", "  ")
			if err != nil {
				return err
			}
			planPath := filepath.Join(jc.ArtifactDir, PlanFile)
			if err := fileutil.WriteBytesAtomic(planPath, planJSON, 0o644); err != nil {
				return services.Wrap(services.ErrFatal, string(jobs.StageHumanizing), "write plan", "could not write perturbation plan", err)
			}

			summary := plan.Summarize()
			logger.Info("humanization applied",
				logging.String(logging.FieldEventType, "humanize_complete"),
				logging.Uint64("seed", seed),
				logging.Int("breaths", summary.Breaths),
				logging.Int("skipped", len(plan.Skipped)),
			)
			combined.Payload = Humanized{
				RenderedPath: rendered,
				ArtifactPath: artifactPath,
				PlanPath:     planPath,
				Plan:         summary,
			}
			combined.Sources = append(combined.Sources, reply.ArtifactPath)
			return nil
		},
	}
}
