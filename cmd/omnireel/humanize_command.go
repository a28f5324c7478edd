package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"omnireel/internal/humanize"
	"omnireel/internal/media"
)

func newHumanizeCommand(ctx *commandContext) *cobra.Command {
	var seed uint64
	var planOnly bool
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "humanize <input.omr> [output.omr]",
		Short: "Apply a bounded perturbation plan to a local artifact",
		Long: "Generates a perturbation plan for the artifact within the [humanize] bounds " +
			"and writes the perturbed copy. The same seed always yields the same output.",
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !planOnly && len(args) < 2 {
				return fmt.Errorf("output path is required unless --plan-only is set")
			}
			artifact, err := media.ReadFile(args[0])
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("seed") {
				seed = humanize.NewSeed()
			}
			bounds := humanize.BoundsFromConfig(cfg.Humanize)

			var plan humanize.Plan
			if planOnly {
				plan, err = humanize.GeneratePlan(artifact, humanize.Constraints{}, bounds, seed)
				if err != nil {
					return err
				}
			} else {
				var out *media.Artifact
				out, plan, err = humanize.Humanize(artifact, humanize.Constraints{}, bounds, seed)
				if err != nil {
					return err
				}
				if err := media.WriteFile(args[1], out); err != nil {
					return fmt.Errorf("write artifact: %w", err)
				}
			}

			summary := plan.Summarize()
			if asJSON {
				return writeJSON(cmd, summary)
			}
			applied := make([]string, 0, len(summary.Applied))
			for _, op := range summary.Applied {
				applied = append(applied, string(op))
			}
			rows := [][]string{
				{"Seed", fmt.Sprintf("%d", summary.Seed)},
				{"Applied", strings.Join(applied, ", ")},
				{"Max offset (px)", fmt.Sprintf("%d", summary.MaxOffset)},
				{"Noise intensity", fmt.Sprintf("%.4f", summary.Noise)},
				{"Max pitch (cents)", fmt.Sprintf("%.2f", summary.MaxCents)},
				{"Breaths", fmt.Sprintf("%d (%.2fs)", summary.Breaths, summary.BreathTotalS)},
			}
			for _, skip := range summary.Skipped {
				rows = append(rows, []string{"Skipped " + string(skip.Operation), skip.Reason})
			}
			fmt.Fprint(cmd.OutOrStdout(), renderTable([]string{"Plan", "Value"}, rows, nil))
			return nil
		},
	}
	cmd.Flags().Uint64Var(&seed, "seed", 0, "Perturbation seed (random when unset)")
	cmd.Flags().BoolVar(&planOnly, "plan-only", false, "Print the plan without writing output")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output the plan summary as JSON")
	return cmd
}
