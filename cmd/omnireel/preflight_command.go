package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"omnireel/internal/preflight"
)

func newPreflightCommand(ctx *commandContext) *cobra.Command {
	var network bool

	cmd := &cobra.Command{
		Use:   "preflight",
		Short: "Check directories, provider config and capability bindings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := preflight.RunAll(cmd.Context(), cfg)
			if network {
				results = append(results, preflight.CheckEndpoints(cmd.Context(), cfg)...)
			}

			r := newReport(cmd.OutOrStdout())
			r.section("Preflight")
			failed := 0
			for _, res := range results {
				lv := levelOK
				if !res.Passed {
					lv = levelError
					failed++
				}
				r.line(res.Name, lv, res.Detail)
			}
			if failed > 0 {
				return errors.New(pluralize(failed, "preflight check") + " failed")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&network, "network", false, "Also probe provider endpoints")
	return cmd
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
