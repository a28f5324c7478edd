package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"omnireel/internal/fileutil"
	"omnireel/internal/jobs"
	"omnireel/internal/knowledge"
	"omnireel/internal/logging"
	"omnireel/internal/providers/chat"
	"omnireel/internal/services"
	"omnireel/internal/stage"
)

const (
	maxTags        = 12
	maxTitleRunes  = 100
	distributorSys = "You prepare publishing metadata for short videos. Respond with a single JSON object."
)

const distributorTemplate = `Working title: %q

Hook: %s
Body: %s

Return {"title": "...", "description": "...", "tags": ["...", ...]}.
The title is at most %d characters. Use at most %d tags without the leading '#'.`

type metadataReply struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Distributor prepares publishing metadata and the final manifest.
func Distributor(deps Deps) stage.Descriptor {
	return stage.Descriptor{
		Name:         jobs.StageDistributionPrep,
		Predecessor:  jobs.StageHumanizing,
		Capabilities: []string{CapabilityFastReasoning},
		Validate: func(jc stage.JobContext) error {
			var h Humanized
			if err := jc.DecodePrior(jobs.StageHumanizing, &h); err != nil {
				return err
			}
			if h.ArtifactPath == "" {
				return fmt.Errorf("humanizing recorded no artifact")
			}
			var script Script
			return jc.DecodePrior(jobs.StageScripting, &script)
		},
		Plan: func(jc stage.JobContext) ([]stage.Call, error) {
			var script Script
			if err := jc.DecodePrior(jobs.StageScripting, &script); err != nil {
				return nil, err
			}
			prompt := fmt.Sprintf(distributorTemplate, jc.Job.Title, script.Hook, script.Body, maxTitleRunes, maxTags)
			return []stage.Call{{
				Key:        "metadata",
				Capability: CapabilityFastReasoning,
				Input:      chat.Request{System: distributorSys, Prompt: prompt, Temperature: 0.4},
			}}, nil
		},
		Combine: func(jc stage.JobContext, replies []stage.Reply) (stage.Combined, error) {
			if len(replies) != 1 {
				return stage.Combined{}, fmt.Errorf("expected one metadata reply, got %d", len(replies))
			}
			var reply metadataReply
			if err := json.Unmarshal(replies[0].Output.Payload, &reply); err != nil {
				return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageDistributionPrep), "combine", "metadata reply is not a JSON object", err)
			}
			title := strings.Join(strings.Fields(reply.Title), " ")
			if title == "" {
				return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageDistributionPrep), "combine", "metadata reply has no title", nil)
			}
			var notes []string
			if runes := []rune(title); len(runes) > maxTitleRunes {
				title = strings.TrimSpace(string(runes[:maxTitleRunes]))
				notes = append(notes, "title truncated")
			}
			return stage.Combined{
				Payload: Distribution{
					Title:       title,
					Description: strings.TrimSpace(reply.Description),
					Tags:        cleanTags(reply.Tags),
				},
				Notes: notes,
			}, nil
		},
		Finish: func(ctx context.Context, jc stage.JobContext, combined *stage.Combined) error {
			dist, ok := combined.Payload.(Distribution)
			if !ok {
				return fmt.Errorf("unexpected distribution payload %T", combined.Payload)
			}
			var (
				h      Humanized
				script Script
			)
			if err := jc.DecodePrior(jobs.StageHumanizing, &h); err != nil {
				return err
			}
			if err := jc.DecodePrior(jobs.StageScripting, &script); err != nil {
				return err
			}
			digest, err := fileutil.SHA256File(h.ArtifactPath)
			if err != nil {
				return services.Wrap(services.ErrFatal, string(jobs.StageDistributionPrep), "hash artifact", "humanized artifact is unreadable", err)
			}

			manifest := Manifest{
				JobID:          jc.Job.ID,
				Title:          dist.Title,
				Description:    dist.Description,
				Tags:           dist.Tags,
				Artifact:       h.ArtifactPath,
				ArtifactSHA256: digest,
				Plan:           h.PlanPath,
				Script:         script,
				Sources:        priorSources(jc),
				Humanization:   h.Plan,
				CreatedAt:      deps.Now().UTC().Format(time.RFC3339),
			}
			data, err := json.MarshalIndent(manifest, "", "  ")
			if err != nil {
				return err
			}
			path := filepath.Join(jc.ArtifactDir, ManifestFile)
			if err := fileutil.WriteBytesAtomic(path, data, 0o644); err != nil {
				return services.Wrap(services.ErrFatal, string(jobs.StageDistributionPrep), "write manifest", "could not write manifest", err)
			}
			dist.ManifestPath = path
			combined.Payload = dist
			combined.Sources = append(combined.Sources, path)

			if deps.Knowledge != nil {
				err := deps.Knowledge.Write(ctx, knowledge.Record{
					Kind:    knowledge.KindVideo,
					Topic:   strings.ToLower(jc.Job.Title),
					Title:   dist.Title,
					Summary: dist.Description,
					URL:     "omnireel://jobs/" + jc.Job.ID,
					Source:  "omnireel",
					JobID:   jc.Job.ID,
				})
				if err != nil {
					logging.WarnWithContext(logging.WithContext(ctx, deps.Logger), "knowledge write failed", "knowledge_write_failed",
						logging.Error(err),
						logging.String(logging.FieldErrorHint, "check knowledge.driver and knowledge.dsn"),
						logging.String(logging.FieldImpact, "produced video missing from knowledge store"),
					)
				}
			}
			return nil
		},
	}
}

// priorSources collects the sources recorded by ingesting and scripting.
func priorSources(jc stage.JobContext) []string {
	var out []string
	seen := map[string]bool{}
	for _, s := range []jobs.Stage{jobs.StageIngesting, jobs.StageScripting} {
		result, ok := jc.Prior(s)
		if !ok {
			continue
		}
		for _, src := range result.Provenance.Sources {
			if !seen[src] {
				seen[src] = true
				out = append(out, src)
			}
		}
	}
	return out
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := map[string]bool{}
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimLeft(strings.TrimSpace(tag), "#"))
		tag = strings.Join(strings.Fields(tag), "")
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
		if len(out) == maxTags {
			break
		}
	}
	return out
}
