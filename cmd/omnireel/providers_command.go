package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"omnireel/internal/api"
	"omnireel/internal/config"
	"omnireel/internal/preflight"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	var live bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "providers",
		Short: "List providers and capability bindings",
		Long: "Lists configured providers and the capabilities bound to them. " +
			"With --live the daemon's reporting API supplies quota, breaker and call counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !live {
				if asJSON {
					return writeJSON(cmd, api.ProvidersResponse{Capabilities: cfg.Capabilities})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Provider", "Kind", "Capabilities", "Config"},
					buildConfiguredProviderRows(cfg),
					nil,
				))
				return nil
			}

			var resp api.ProvidersResponse
			if err := ctx.getAPI(cmd.Context(), "/v1/providers", &resp); err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd, resp)
			}
			rows := make([][]string, 0, len(resp.Providers))
			for _, st := range resp.Providers {
				until := "-"
				if !st.ExhaustedUntil.IsZero() {
					until = formatDisplayTime(st.ExhaustedUntil)
				}
				window := strconv.Itoa(st.WindowUsed)
				if st.WindowLimit > 0 {
					window += "/" + strconv.Itoa(st.WindowLimit)
				}
				rows = append(rows, []string{
					st.Provider,
					formatLabel(string(st.Health)),
					until,
					window,
					strconv.FormatUint(st.Calls, 10),
					strconv.FormatUint(st.Failures, 10),
					strconv.FormatUint(st.QuotaHits, 10),
					truncate(st.LastError, 50),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Provider", "Health", "Exhausted Until", "Window", "Calls", "Failures", "Quota Hits", "Last Error"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&live, "live", false, "Fetch provider state from the running daemon")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output as JSON")
	return cmd
}

func buildConfiguredProviderRows(cfg *config.Config) [][]string {
	bound := map[string][]string{}
	for capability, names := range cfg.Capabilities {
		for _, name := range names {
			bound[name] = append(bound[name], capability)
		}
	}
	rows := make([][]string, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		caps := bound[p.Name]
		sort.Strings(caps)
		check := preflight.CheckProviderConfig(p)
		state := "ok"
		if !check.Passed {
			state = check.Detail
		}
		rows = append(rows, []string{p.Name, p.Kind, strings.Join(caps, ", "), state})
	}
	return rows
}
