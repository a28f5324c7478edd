package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"omnireel/internal/api"
	"omnireel/internal/config"
	"omnireel/internal/daemonrun"
	"omnireel/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, workflow and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			running, err := daemonRunning(cfg)
			if err != nil {
				return err
			}

			var health *api.Health
			var apiErr error
			if running && cfg.API.Enabled {
				var h api.Health
				if apiErr = ctx.getAPI(cmd.Context(), "/health", &h); apiErr == nil {
					health = &h
				}
			}

			var stats map[jobs.Status]int
			if err := ctx.withStores(func(s *storeSet) error {
				stats, err = s.jobs.Stats(cmd.Context())
				return err
			}); err != nil {
				return err
			}

			if asJSON {
				payload := map[string]any{"running": running, "pid": daemonrun.ReadPID(cfg), "jobs": stats}
				if health != nil {
					payload["health"] = health
				}
				return writeJSON(cmd, payload)
			}
			renderStatus(cmd.OutOrStdout(), cfg, running, health, apiErr, stats)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

// daemonRunning probes the daemon lock; a lock we can take means no daemon
// holds it.
func daemonRunning(cfg *config.Config) (bool, error) {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return false, fmt.Errorf("probe daemon lock: %w", err)
	}
	if ok {
		_ = lock.Unlock()
		return false, nil
	}
	return true, nil
}

func renderStatus(out io.Writer, cfg *config.Config, running bool, health *api.Health, apiErr error, stats map[jobs.Status]int) {
	r := newReport(out)
	r.section("Daemon")
	if running {
		r.line("Daemon", levelOK, "running (pid "+strconv.Itoa(daemonrun.ReadPID(cfg))+")")
	} else {
		r.line("Daemon", levelWarn, "not running")
	}
	r.line("Database", levelInfo, cfg.Paths.DatabasePath)
	switch {
	case !cfg.API.Enabled:
		r.line("Reporting API", levelInfo, "disabled")
	case apiErr != nil:
		r.line("Reporting API", levelError, apiErr.Error())
	case health != nil:
		lv := levelOK
		if health.Status != "ok" {
			lv = levelWarn
		}
		r.line("Reporting API", lv, health.Status+" on "+cfg.API.Bind)
	}

	if health != nil {
		renderWorkflowHealth(r, out, health.Workflow)
	}

	r.blank()
	r.section("Jobs")
	rows := buildJobStatsRows(stats)
	if len(rows) == 0 {
		fmt.Fprintln(out, "No jobs")
		return
	}
	fmt.Fprint(out, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
}

// renderWorkflowHealth lists worker occupancy, stage readiness and the jobs
// currently held by a worker.
func renderWorkflowHealth(r *report, out io.Writer, wf api.WorkflowStatus) {
	r.blank()
	r.section("Workflow")
	r.line("Workers", levelInfo, fmt.Sprintf("%d (%d busy)", wf.Workers, len(wf.ActiveJobs)))
	for _, sh := range wf.StageHealth {
		if sh.Ready {
			r.line(formatLabel(sh.Name), levelOK, "ready")
		} else {
			r.line(formatLabel(sh.Name), levelError, sh.Detail)
		}
	}
	if wf.LastError != "" {
		r.line("Last error", levelError, wf.LastError)
	}
	if len(wf.ActiveJobs) == 0 {
		return
	}
	ids := make([]string, 0, len(wf.ActiveJobs))
	for id := range wf.ActiveJobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id, wf.ActiveJobs[id]})
	}
	fmt.Fprint(out, renderTable([]string{"Job", "Worker"}, rows, nil))
}
