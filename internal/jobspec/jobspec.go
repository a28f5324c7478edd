// Package jobspec parses and validates the YAML job specifications operators
// submit with 'omnireel job add'.
package jobspec

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"omnireel/internal/services"
)

// Source kinds accepted in a spec.
const (
	SourcePapers  = "papers"
	SourceNews    = "news"
	SourceTrends  = "trends"
	SourceHistory = "history"
	SourceVideos  = "videos"
)

var sourceKinds = []string{SourcePapers, SourceNews, SourceTrends, SourceHistory, SourceVideos}

// maxResultsLimit caps max_results per source.
const maxResultsLimit = 50

// SourceKinds returns the accepted source kinds.
func SourceKinds() []string { return slices.Clone(sourceKinds) }

// Source is one ingestion request.
type Source struct {
	Kind       string   `yaml:"kind" json:"kind"`
	Query      []string `yaml:"query,omitempty" json:"query,omitempty"`
	Topics     []string `yaml:"topics,omitempty" json:"topics,omitempty"`
	MaxResults int      `yaml:"max_results,omitempty" json:"max_results,omitempty"`
}

// Capability returns the capability serving this source.
func (s Source) Capability() string {
	return "source." + s.Kind
}

// Spec is a submitted job.
type Spec struct {
	Title    string   `yaml:"title" json:"title"`
	Seed     *uint64  `yaml:"seed,omitempty" json:"seed,omitempty"`
	Keywords []string `yaml:"keywords,omitempty" json:"keywords,omitempty"`
	Brief    string   `yaml:"brief,omitempty" json:"brief,omitempty"`
	Sources  []Source `yaml:"sources" json:"sources"`
}

// Parse decodes a YAML spec, rejecting unknown fields, then normalizes and
// validates it. defaultMax fills unset max_results.
func Parse(r io.Reader, defaultMax int) (Spec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return Spec{}, services.Wrap(services.ErrValidation, "", "parse job spec", "job spec is empty", nil)
		}
		return Spec{}, services.Wrap(services.ErrValidation, "", "parse job spec", "invalid YAML", err)
	}
	spec.Normalize(defaultMax)
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// ParseBytes is Parse over a byte slice.
func ParseBytes(data []byte, defaultMax int) (Spec, error) {
	return Parse(bytes.NewReader(data), defaultMax)
}

// FromRequest decodes the JSON request stored with a job.
func FromRequest(raw json.RawMessage) (Spec, error) {
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return Spec{}, services.Wrap(services.ErrValidation, "", "decode job request", "stored request is not a job spec", err)
	}
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	return spec, nil
}

// Normalize trims and lowercases fields and fills defaults.
func (s *Spec) Normalize(defaultMax int) {
	s.Title = strings.TrimSpace(s.Title)
	s.Brief = strings.TrimSpace(s.Brief)
	s.Keywords = cleanList(s.Keywords, true)
	for i := range s.Sources {
		src := &s.Sources[i]
		src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
		src.Query = cleanList(src.Query, false)
		src.Topics = cleanList(src.Topics, true)
		if src.MaxResults == 0 {
			src.MaxResults = defaultMax
		}
	}
}

// Validate checks the title and every source.
func (s Spec) Validate() error {
	var problems []string
	if s.Title == "" {
		problems = append(problems, "title is required")
	}
	if len(s.Sources) == 0 {
		problems = append(problems, "at least one source is required")
	}
	seen := map[string]bool{}
	for i, src := range s.Sources {
		switch {
		case !slices.Contains(sourceKinds, src.Kind):
			problems = append(problems, fmt.Sprintf("sources[%d]: unknown kind %q (want one of %s)", i, src.Kind, strings.Join(sourceKinds, ", ")))
		case seen[src.Kind]:
			problems = append(problems, fmt.Sprintf("sources[%d]: kind %q listed twice", i, src.Kind))
		}
		seen[src.Kind] = true
		if src.MaxResults < 0 || src.MaxResults > maxResultsLimit {
			problems = append(problems, fmt.Sprintf("sources[%d]: max_results must be between 1 and %d", i, maxResultsLimit))
		}
	}
	if len(problems) > 0 {
		return services.Wrap(services.ErrValidation, "", "validate job spec", strings.Join(problems, "; "), nil)
	}
	return nil
}

// Request encodes the spec for storage with the job.
func (s Spec) Request() (json.RawMessage, error) {
	return json.Marshal(s)
}

func cleanList(values []string, lower bool) []string {
	var out []string
	for _, v := range values {
		v = strings.Join(strings.Fields(v), " ")
		if lower {
			v = strings.ToLower(v)
		}
		if v == "" || slices.Contains(out, v) {
			continue
		}
		out = append(out, v)
	}
	return out
}
