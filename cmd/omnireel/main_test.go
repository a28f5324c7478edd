package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"omnireel/internal/jobs"
	"omnireel/internal/storage"
)

type cliTestEnv struct {
	baseDir    string
	configPath string
	dbPath     string
}

func setupCLITestEnv(t *testing.T) *cliTestEnv {
	t.Helper()

	base := t.TempDir()
	configPath := filepath.Join(base, "config.toml")
	content := fmt.Sprintf(`[paths]
data_dir = %q
artifact_dir = %q
log_dir = %q

[api]
enabled = false
`, filepath.Join(base, "data"), filepath.Join(base, "artifacts"), filepath.Join(base, "logs"))
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return &cliTestEnv{
		baseDir:    base,
		configPath: configPath,
		dbPath:     filepath.Join(base, "data", "omnireel.db"),
	}
}

func (e *cliTestEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := cmd.Execute()
	return stdout.String(), err
}

func (e *cliTestEnv) job(t *testing.T, id string) *jobs.Job {
	t.Helper()
	db, err := storage.Open(e.dbPath)
	if err != nil {
		t.Fatalf("storage.Open: %v", err)
	}
	defer db.Close()
	job, err := jobs.NewStore(db).Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return job
}

var queuedPattern = regexp.MustCompile(`Queued job (\S+)`)

const sampleSpec = `title: HBM memory wars
keywords: [hbm, memory]
sources:
  - kind: papers
    query: ["high bandwidth memory"]
    max_results: 5
`

func TestCLIJobLifecycle(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, sampleSpec, "job", "add", "-")
	if err != nil {
		t.Fatalf("job add: %v", err)
	}
	match := queuedPattern.FindStringSubmatch(out)
	if match == nil {
		t.Fatalf("unexpected add output: %q", out)
	}
	id := match[1]

	out, err = env.run(t, "", "job", "list")
	if err != nil {
		t.Fatalf("job list: %v", err)
	}
	if !strings.Contains(out, id) || !strings.Contains(out, "Pending") {
		t.Fatalf("job list missing job: %q", out)
	}

	out, err = env.run(t, "", "job", "show", id, "--json")
	if err != nil {
		t.Fatalf("job show: %v", err)
	}
	if !strings.Contains(out, `"title": "HBM memory wars"`) || !strings.Contains(out, `"status": "pending"`) {
		t.Fatalf("unexpected show output: %q", out)
	}

	if _, err := env.run(t, "", "job", "resume", id); err == nil || !strings.Contains(err.Error(), "not blocked") {
		t.Fatalf("resume pending job err = %v", err)
	}

	out, err = env.run(t, "", "job", "cancel", id)
	if err != nil {
		t.Fatalf("job cancel: %v", err)
	}
	if !strings.Contains(out, "cancelled") {
		t.Fatalf("unexpected cancel output: %q", out)
	}
	if got := env.job(t, id); got.Status != jobs.StatusFailed {
		t.Fatalf("status after cancel = %s", got.Status)
	}

	out, err = env.run(t, "", "ledger", "--job", id)
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	if !strings.Contains(out, "Job Created") || !strings.Contains(out, "cancelled by operator") {
		t.Fatalf("ledger output missing records: %q", out)
	}

	out, err = env.run(t, "", "job", "stats")
	if err != nil {
		t.Fatalf("job stats: %v", err)
	}
	if !strings.Contains(out, "Failed") {
		t.Fatalf("unexpected stats output: %q", out)
	}
}

func TestCLIJobAddRejectsInvalidSpec(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "title: \"\"\nsources: []\n", "job", "add", "-"); err == nil {
		t.Fatal("expected validation error")
	}
	specPath := filepath.Join(env.baseDir, "spec.yaml")
	if err := os.WriteFile(specPath, []byte(sampleSpec), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := env.run(t, "", "job", "add", specPath); err != nil {
		t.Fatalf("job add from file: %v", err)
	}
}

func TestCLIConfigCommands(t *testing.T) {
	env := setupCLITestEnv(t)

	out, err := env.run(t, "", "config", "validate")
	if err != nil {
		t.Fatalf("config validate: %v", err)
	}
	if !strings.Contains(out, "Configuration valid") {
		t.Fatalf("unexpected validate output: %q", out)
	}

	target := filepath.Join(env.baseDir, "generated.toml")
	if _, err := env.run(t, "", "config", "init", "--path", target); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Fatalf("sample config not written: %v", err)
	}
	if _, err := env.run(t, "", "config", "init", "--path", target); err == nil {
		t.Fatal("expected error when config exists")
	}

	out, err = env.run(t, "", "config", "show")
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[paths]") {
		t.Fatalf("unexpected show output: %q", out)
	}
}

func TestCLIPreflightReportsUnboundCapabilities(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "", "preflight")
	if err == nil {
		t.Fatal("expected failure without capability bindings")
	}
	if !strings.Contains(out, "Data directory") || !strings.Contains(out, "no capabilities bound") {
		t.Fatalf("unexpected preflight output: %q", out)
	}
}

func TestCLIStatusWithoutDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "not running") || !strings.Contains(out, "disabled") {
		t.Fatalf("unexpected status output: %q", out)
	}
}

func TestCLICacheStatsAndPurge(t *testing.T) {
	env := setupCLITestEnv(t)
	out, err := env.run(t, "", "cache", "stats")
	if err != nil {
		t.Fatalf("cache stats: %v", err)
	}
	if !strings.Contains(out, "Entries") {
		t.Fatalf("unexpected cache stats output: %q", out)
	}
	out, err = env.run(t, "", "cache", "purge")
	if err != nil {
		t.Fatalf("cache purge: %v", err)
	}
	if !strings.Contains(out, "Removed 0 cache entries") {
		t.Fatalf("unexpected purge output: %q", out)
	}
}

func TestCLIProvidersWithoutLiveNeedsNoDaemon(t *testing.T) {
	env := setupCLITestEnv(t)
	if _, err := env.run(t, "", "providers"); err != nil {
		t.Fatalf("providers: %v", err)
	}
	if _, err := env.run(t, "", "providers", "--live"); err == nil || !strings.Contains(err.Error(), "disabled") {
		t.Fatalf("providers --live err = %v", err)
	}
}

func TestFormatLabel(t *testing.T) {
	tests := map[string]string{
		"distribution_prep": "Distribution Prep",
		"pending":           "Pending",
		"":                  "",
	}
	for in, want := range tests {
		if got := formatLabel(in); got != want {
			t.Errorf("formatLabel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestAPIBaseURL(t *testing.T) {
	if got := apiBaseURL("0.0.0.0:7497"); got != "http://127.0.0.1:7497" {
		t.Fatalf("apiBaseURL = %q", got)
	}
	if got := apiBaseURL("localhost:80"); got != "http://localhost:80" {
		t.Fatalf("apiBaseURL = %q", got)
	}
}
