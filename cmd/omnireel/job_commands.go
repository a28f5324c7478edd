package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"omnireel/internal/api"
	"omnireel/internal/jobs"
	"omnireel/internal/jobspec"
)

func newJobCommand(ctx *commandContext) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Submit, inspect and control pipeline jobs",
	}

	jobCmd.AddCommand(newJobAddCommand(ctx))
	jobCmd.AddCommand(newJobListCommand(ctx))
	jobCmd.AddCommand(newJobShowCommand(ctx))
	jobCmd.AddCommand(newJobResumeCommand(ctx))
	jobCmd.AddCommand(newJobCancelCommand(ctx))
	jobCmd.AddCommand(newJobStatsCommand(ctx))

	return jobCmd
}

func newJobAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <spec.yaml|->",
		Short: "Submit a job spec (use - for stdin)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var r io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open job spec: %w", err)
				}
				defer f.Close()
				r = f
			}
			spec, err := jobspec.Parse(r, cfg.Pipeline.MaxResultsPerSource)
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *storeSet) error {
				job, err := s.operator.Submit(cmd.Context(), spec)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %s (%s)\n", job.ID, job.Title)
				return nil
			})
		},
	}
}

func newJobListCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var limit int
	var archived bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := jobs.Filter{Limit: limit, IncludeArchived: archived}
			for _, raw := range statuses {
				status, ok := jobs.ParseStatus(strings.ToLower(strings.TrimSpace(raw)))
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				filter.Statuses = append(filter.Statuses, status)
			}
			return ctx.withStores(func(s *storeSet) error {
				list, err := s.jobs.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobListResponse{Jobs: api.FromJobs(list)})
				}
				if len(list) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Title", "Status", "Stage", "Created", "Detail"},
					buildJobListRows(list),
					nil,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by status (repeatable)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum jobs to show (0 for all)")
	cmd.Flags().BoolVar(&archived, "archived", false, "Include archived jobs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func newJobShowCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a job with its stage results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *storeSet) error {
				job, err := s.jobs.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.JobResponse{Job: api.FromJob(job)})
				}
				renderJobDetail(cmd.OutOrStdout(), job)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func renderJobDetail(out io.Writer, job *jobs.Job) {
	r := newReport(out)
	r.section(job.Title)
	r.line("ID", levelInfo, job.ID)
	r.line("Status", jobLevel(job.Status), formatLabel(string(job.Status)))
	r.line("Next stage", levelInfo, formatLabel(string(jobs.FirstIncomplete(job.Results))))
	r.line("Runs", levelInfo, fmt.Sprintf("%d", job.RunCount))
	r.line("Created", levelInfo, formatDisplayTime(job.CreatedAt))
	switch job.Status {
	case jobs.StatusBlocked:
		r.line("Blocked", levelWarn, job.BlockedReason)
		r.line("Resumes", levelWarn, formatDisplayTimePtr(job.ResumeAt))
	case jobs.StatusFailed:
		r.line("Error", levelError, job.ErrorMessage)
		if job.FailedStage != "" {
			r.line("Failed at", levelError, strings.TrimSpace(job.FailedStage+" "+job.FailedProvider))
		}
	}
	if job.CancelRequested {
		r.line("Cancel", levelWarn, "requested")
	}
	if len(job.Results) == 0 {
		return
	}
	fmt.Fprintln(out)
	fmt.Fprint(out, renderTable(
		[]string{"Stage", "Cache", "Providers", "Calls", "Duration", "Cost"},
		buildResultRows(job.Results),
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
}

func newJobResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Return a blocked job to the queue now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *storeSet) error {
				if err := s.operator.Resume(cmd.Context(), args[0]); err != nil {
					if errors.Is(err, jobs.ErrInvalidTransition) {
						return fmt.Errorf("job %s is not blocked", args[0])
					}
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s resumed\n", args[0])
				return nil
			})
		},
	}
}

func newJobCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *storeSet) error {
				status, err := s.operator.Cancel(cmd.Context(), args[0])
				if err != nil {
					if errors.Is(err, jobs.ErrInvalidTransition) {
						return fmt.Errorf("job %s already finished", args[0])
					}
					return err
				}
				out := cmd.OutOrStdout()
				if status == jobs.StatusRunning {
					fmt.Fprintf(out, "Cancel requested; the worker stops job %s at its next heartbeat\n", args[0])
					return nil
				}
				fmt.Fprintf(out, "Job %s cancelled\n", args[0])
				return nil
			})
		},
	}
}

func newJobStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *storeSet) error {
				stats, err := s.jobs.Stats(cmd.Context())
				if err != nil {
					return err
				}
				rows := buildJobStatsRows(stats)
				if len(rows) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
