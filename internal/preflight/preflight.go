package preflight

import (
	"context"
	"strings"

	"omnireel/internal/config"
)

// defaultChatEndpoint is probed for chat providers without a base_url.
const defaultChatEndpoint = "https://openrouter.ai/api/v1/models"

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes the local checks: directories, provider entries and
// capability bindings. It never touches the network.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Artifact directory", cfg.Paths.ArtifactDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	for _, p := range cfg.Providers {
		results = append(results, CheckProviderConfig(p))
	}
	results = append(results, CheckCapabilityBindings(cfg))
	return results
}

// CheckEndpoints probes every provider endpoint.
func CheckEndpoints(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	var results []Result
	for _, p := range cfg.Providers {
		url := strings.TrimSpace(p.BaseURL)
		if url == "" && p.Kind == "chat" {
			url = defaultChatEndpoint
		}
		results = append(results, CheckEndpoint(ctx, "Endpoint "+p.Name, url, p.APIKey))
	}
	return results
}

// DirectoriesOK reports whether every directory check in results passed.
func DirectoriesOK(results []Result) bool {
	for _, r := range results {
		if strings.HasSuffix(r.Name, "directory") && !r.Passed {
			return false
		}
	}
	return true
}
