package pipeline

import (
	"encoding/json"
	"fmt"

	"omnireel/internal/humanize"
	"omnireel/internal/media"
)

// Capabilities used by the pipeline besides the per-source ones.
const (
	CapabilityDeepReasoning = "deep-reasoning"
	CapabilityFastReasoning = "fast-reasoning"
	CapabilityRender        = "media.render"
)

// Item is one piece of source material.
type Item struct {
	Title     string `json:"title"`
	URL       string `json:"url,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Published string `json:"published,omitempty"`
	Source    string `json:"source,omitempty"`
	Topic     string `json:"topic,omitempty"`
}

// Group is the material gathered for one source kind.
type Group struct {
	Kind  string `json:"kind"`
	Items []Item `json:"items"`
}

// Ingestion is the payload of the ingesting stage.
type Ingestion struct {
	Groups []Group `json:"groups"`
}

// Count returns the number of items across groups.
func (in Ingestion) Count() int {
	n := 0
	for _, g := range in.Groups {
		n += len(g.Items)
	}
	return n
}

// Script is the payload of the scripting stage.
type Script struct {
	Hook      string   `json:"hook"`
	Body      string   `json:"body"`
	Loop      string   `json:"loop"`
	Citations []string `json:"citations,omitempty"`
}

// RenderReply is what the media.render capability returns.
type RenderReply struct {
	ArtifactPath string           `json:"artifact_path"`
	Duration     float64          `json:"duration,omitempty"`
	Speech       []media.Interval `json:"speech,omitempty"`
}

// Humanized is the payload of the humanizing stage.
type Humanized struct {
	RenderedPath string           `json:"rendered_path"`
	ArtifactPath string           `json:"artifact_path"`
	PlanPath     string           `json:"plan_path"`
	Plan         humanize.Summary `json:"plan"`
}

// Distribution is the payload of the distribution_prep stage.
type Distribution struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags"`
	ManifestPath string   `json:"manifest_path"`
}

// Manifest is written beside the final artifact.
type Manifest struct {
	JobID          string           `json:"job_id"`
	Title          string           `json:"title"`
	Description    string           `json:"description"`
	Tags           []string         `json:"tags"`
	Artifact       string           `json:"artifact"`
	ArtifactSHA256 string           `json:"artifact_sha256"`
	Plan           string           `json:"plan"`
	Script         Script           `json:"script"`
	Sources        []string         `json:"sources,omitempty"`
	Humanization   humanize.Summary `json:"humanization"`
	CreatedAt      string           `json:"created_at"`
}

// decodeItems accepts {"items": [...]} or a bare array.
func decodeItems(raw json.RawMessage) ([]Item, error) {
	var wrapped struct {
		Items []Item `json:"items"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Items != nil {
		return wrapped.Items, nil
	}
	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("source reply is neither {\"items\": [...]} nor an array: %w", err)
	}
	return items, nil
}
