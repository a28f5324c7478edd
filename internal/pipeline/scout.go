package pipeline

import (
	"context"
	"fmt"
	"strings"

	"omnireel/internal/jobs"
	"omnireel/internal/jobspec"
	"omnireel/internal/knowledge"
	"omnireel/internal/logging"
	"omnireel/internal/services"
	"omnireel/internal/stage"
	"omnireel/internal/textutil"
)

// sourceRequest is the input of every source.<kind> capability.
type sourceRequest struct {
	Query      []string `json:"query"`
	Topics     []string `json:"topics"`
	MaxResults int      `json:"max_results"`
}

var sourceKnowledgeKind = map[string]knowledge.Kind{
	jobspec.SourcePapers:  knowledge.KindPaper,
	jobspec.SourceNews:    knowledge.KindNews,
	jobspec.SourceTrends:  knowledge.KindTrend,
	jobspec.SourceHistory: knowledge.KindHistory,
	jobspec.SourceVideos:  knowledge.KindVideo,
}

// Scout gathers source material for the ingesting stage.
func Scout(deps Deps) stage.Descriptor {
	return stage.Descriptor{
		Name: jobs.StageIngesting,
		Validate: func(jc stage.JobContext) error {
			_, err := specOf(jc)
			return err
		},
		Plan: func(jc stage.JobContext) ([]stage.Call, error) {
			spec, err := specOf(jc)
			if err != nil {
				return nil, err
			}
			calls := make([]stage.Call, 0, len(spec.Sources))
			for _, src := range spec.Sources {
				query := src.Query
				if len(query) == 0 {
					query = spec.Keywords
				}
				calls = append(calls, stage.Call{
					Key:        src.Kind,
					Capability: src.Capability(),
					Input: sourceRequest{
						Query:      nonNil(query),
						Topics:     nonNil(src.Topics),
						MaxResults: src.MaxResults,
					},
				})
			}
			return calls, nil
		},
		Combine: func(jc stage.JobContext, replies []stage.Reply) (stage.Combined, error) {
			spec, err := specOf(jc)
			if err != nil {
				return stage.Combined{}, err
			}
			return combineSources(spec, replies)
		},
		Finish: func(ctx context.Context, jc stage.JobContext, combined *stage.Combined) error {
			if deps.Knowledge == nil {
				return nil
			}
			in, ok := combined.Payload.(Ingestion)
			if !ok {
				return fmt.Errorf("unexpected ingestion payload %T", combined.Payload)
			}
			logger := logging.WithContext(ctx, deps.Logger)
			for _, g := range in.Groups {
				for _, item := range g.Items {
					err := deps.Knowledge.Write(ctx, knowledge.Record{
						Kind:      sourceKnowledgeKind[g.Kind],
						Topic:     item.Topic,
						Title:     item.Title,
						Summary:   item.Summary,
						URL:       item.URL,
						Source:    item.Source,
						Published: item.Published,
						JobID:     jc.Job.ID,
					})
					if err != nil {
						// Knowledge writes never fail the stage.
						logging.WarnWithContext(logger, "knowledge write failed", "knowledge_write_failed",
							logging.String("url", item.URL),
							logging.Error(err),
							logging.String(logging.FieldErrorHint, "check knowledge.driver and knowledge.dsn"),
							logging.String(logging.FieldImpact, "item missing from knowledge store"),
						)
					}
				}
			}
			return nil
		},
	}
}

// Items whose title and summary are this similar to an earlier item are
// dropped, across source kinds.
const (
	nearDuplicateThreshold = 0.85
	nearDuplicateMinTerms  = 4
)

func combineSources(spec jobspec.Spec, replies []stage.Reply) (stage.Combined, error) {
	limits := make(map[string]int, len(spec.Sources))
	for _, src := range spec.Sources {
		limits[src.Kind] = src.MaxResults
	}

	var (
		out      Ingestion
		combined stage.Combined
		seen     = map[string]bool{}
		similar  = textutil.NewDeduper(nearDuplicateThreshold, nearDuplicateMinTerms)
	)
	for _, reply := range replies {
		kind := reply.Call.Key
		items, err := decodeItems(reply.Output.Payload)
		if err != nil {
			return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageIngesting), "combine "+kind, "malformed source reply", err)
		}
		group := Group{Kind: kind, Items: []Item{}}
		nearDupes := 0
		for _, item := range items {
			item = normalizeItem(item)
			if item.Title == "" || !matchesKeywords(item, spec.Keywords) {
				continue
			}
			key := dedupeKey(item)
			if seen[key] {
				continue
			}
			if limit := limits[kind]; limit > 0 && len(group.Items) >= limit {
				break
			}
			if !similar.Accept(item.Title + " " + item.Summary) {
				nearDupes++
				continue
			}
			seen[key] = true
			group.Items = append(group.Items, item)
			if item.URL != "" {
				combined.Sources = append(combined.Sources, item.URL)
			}
		}
		note := fmt.Sprintf("%s: %d received, %d kept", kind, len(items), len(group.Items))
		if nearDupes > 0 {
			note += fmt.Sprintf(", %d near duplicates", nearDupes)
		}
		combined.Notes = append(combined.Notes, note)
		out.Groups = append(out.Groups, group)
	}
	if out.Count() == 0 {
		return stage.Combined{}, services.Wrap(services.ErrValidation, string(jobs.StageIngesting), "combine",
			"no source material left after filtering", nil)
	}
	combined.Payload = out
	return combined, nil
}

func normalizeItem(item Item) Item {
	clean := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	item.Title = clean(item.Title)
	item.Summary = clean(item.Summary)
	item.URL = strings.TrimSpace(item.URL)
	item.Published = clean(item.Published)
	item.Source = clean(item.Source)
	item.Topic = strings.ToLower(clean(item.Topic))
	return item
}

func matchesKeywords(item Item, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	text := strings.ToLower(item.Title + " " + item.Summary)
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func dedupeKey(item Item) string {
	if item.URL != "" {
		return "url:" + strings.TrimSuffix(strings.ToLower(item.URL), "/")
	}
	return "title:" + strings.ToLower(item.Title)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
