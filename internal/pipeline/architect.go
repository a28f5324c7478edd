package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"omnireel/internal/jobs"
	"omnireel/internal/providers/chat"
	"omnireel/internal/services"
	"omnireel/internal/stage"
)

const architectSystem = "You write scripts for short vertical videos. Respond with a single JSON object."

const architectTemplate = `Write a %d second script titled %q.
%sKeywords: %s

Source material (JSON):
%s

Return {"hook": "...", "body": "...", "loop": "...", "citations": ["<url>", ...]}.
The hook is one sentence. The loop line leads back into the hook. Cite only URLs from the source material.`

// Architect turns ingested material into a script.
func Architect(deps Deps) stage.Descriptor {
	return stage.Descriptor{
		Name:         jobs.StageScripting,
		Predecessor:  jobs.StageIngesting,
		Capabilities: []string{CapabilityDeepReasoning},
		Validate: func(jc stage.JobContext) error {
			var in Ingestion
			if err := jc.DecodePrior(jobs.StageIngesting, &in); err != nil {
				return err
			}
			if in.Count() == 0 {
				return fmt.Errorf("ingestion produced no material")
			}
			return nil
		},
		Plan: func(jc stage.JobContext) ([]stage.Call, error) {
			spec, err := specOf(jc)
			if err != nil {
				return nil, err
			}
			var in Ingestion
			if err := jc.DecodePrior(jobs.StageIngesting, &in); err != nil {
				return nil, err
			}
			material, err := json.MarshalIndent(summarize(in, deps.Config.Pipeline.SummaryItems), "", "  ")
			if err != nil {
				return nil, err
			}
			brief := ""
			if spec.Brief != "" {
				brief = "Brief: " + spec.Brief + "\n"
			}
			prompt := fmt.Sprintf(architectTemplate, deps.Config.Pipeline.ScriptSeconds, spec.Title, brief,
				strings.Join(spec.Keywords, ", "), material)
			return []stage.Call{{
				Key:        "script",
				Capability: CapabilityDeepReasoning,
				Input:      chat.Request{System: architectSystem, Prompt: prompt, Temperature: 0.7},
			}}, nil
		},
		Combine: func(jc stage.JobContext, replies []stage.Reply) (stage.Combined, error) {
			if len(replies) != 1 {
				return stage.Combined{}, fmt.Errorf("expected one script reply, got %d", len(replies))
			}
			var script Script
			if err := json.Unmarshal(replies[0].Output.Payload, &script); err != nil {
				return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageScripting), "combine", "script reply is not a JSON object", err)
			}
			script.Hook = strings.TrimSpace(script.Hook)
			script.Body = strings.TrimSpace(script.Body)
			script.Loop = strings.TrimSpace(script.Loop)
			if script.Hook == "" || script.Body == "" {
				return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageScripting), "combine", "script is missing hook or body", nil)
			}

			known := map[string]bool{}
			if prior, ok := jc.Prior(jobs.StageIngesting); ok {
				for _, src := range prior.Provenance.Sources {
					known[src] = true
				}
			}
			var (
				citations []string
				notes     []string
			)
			for _, c := range script.Citations {
				c = strings.TrimSpace(c)
				switch {
				case c == "":
				case known[c]:
					citations = append(citations, c)
				default:
					notes = append(notes, "dropped citation outside source material: "+c)
				}
			}
			script.Citations = citations
			return stage.Combined{Payload: script, Sources: citations, Notes: notes}, nil
		},
	}
}

// summarize keeps the first n items of every group for the prompt.
func summarize(in Ingestion, n int) Ingestion {
	if n <= 0 {
		n = 5
	}
	out := Ingestion{Groups: make([]Group, 0, len(in.Groups))}
	for _, g := range in.Groups {
		items := g.Items
		if len(items) > n {
			items = items[:n]
		}
		out.Groups = append(out.Groups, Group{Kind: g.Kind, Items: items})
	}
	return out
}
