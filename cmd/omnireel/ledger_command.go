package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"omnireel/internal/api"
	"omnireel/internal/ledger"
)

func newLedgerCommand(ctx *commandContext) *cobra.Command {
	var (
		filter ledger.Filter
		kind   string
		since  time.Duration
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Query the append-only job ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter.Kind = ledger.Kind(kind)
			if since > 0 {
				filter.Since = time.Now().Add(-since)
			}
			return ctx.withStores(func(s *storeSet) error {
				records, err := s.ledger.Query(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.LedgerResponse{Records: api.FromLedger(records)})
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No ledger records")
					return nil
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Seq", "At", "Job", "Kind", "Stage", "Provider", "Status", "Reason"},
					buildLedgerRows(records),
					[]columnAlignment{alignRight},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&filter.JobID, "job", "j", "", "Only records for this job")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only records of this kind (job_created, provider_attempt, ...)")
	cmd.Flags().StringVar(&filter.Stage, "stage", "", "Only records for this stage")
	cmd.Flags().StringVarP(&filter.Provider, "provider", "p", "", "Only records naming this provider")
	cmd.Flags().DurationVar(&since, "since", 0, "Only records newer than this duration (e.g. 2h)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 200, "Maximum records (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}
