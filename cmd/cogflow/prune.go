package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cogflow/internal/engine"
)

var minConfidence float64

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete low-confidence patterns from the pattern store",
	Long: `Delete every stored pattern whose confidence is below a floor.

Without --min-confidence the configured patternstore.min_confidence is used.
Success patterns are stored at 0.8 and error patterns at 0.5.

Examples:
  cogflow prune --config cogflow.yaml
  cogflow prune --config cogflow.yaml --min-confidence 0.6`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

func init() {
	pruneCmd.Flags().Float64Var(&minConfidence, "min-confidence", 0, "confidence floor (0 uses the configured value)")
}

func runPrune(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	floor := minConfidence
	if floor <= 0 {
		floor = a.cfg.PatternStore.MinConfidence
	}
	if floor > 1 {
		return fmt.Errorf("--min-confidence must be in (0,1], got %v", floor)
	}

	eng, err := engine.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer eng.Close()

	n, err := eng.Prune(ctx, floor)
	if err != nil {
		return err
	}
	remaining, err := eng.PatternCount(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		return json.NewEncoder(out).Encode(map[string]any{
			"pruned":         n,
			"remaining":      remaining,
			"min_confidence": floor,
		})
	}
	fmt.Fprintf(out, "%s %d patterns below %.2f, %d remaining\n", labelStyle.Render("pruned"), n, floor, remaining)
	return nil
}
