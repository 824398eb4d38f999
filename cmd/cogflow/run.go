package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/cogflow/internal/aggregate"
	"github.com/fyrsmithlabs/cogflow/internal/engine"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
)

// Exit codes for run.
const (
	exitPartial = 2
	exitAborted = 3
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Execute a plan",
	Long: `Execute every unit of a plan and print the run report.

Exit status is 0 when every unit succeeded, 2 when some units failed or
were skipped, and 3 when the plan could not be expanded.

Examples:
  # Run with defaults (echo backends, in-memory pattern store)
  cogflow run plan.yaml

  # Run with a config file and JSON output
  cogflow run --config cogflow.yaml --json plan.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := plan.LoadFile(args[0])
	if err != nil {
		return &exitError{code: exitAborted, msg: fmt.Sprintf("%s: %v", engine.CodeMalformedPlan, err)}
	}

	a, err := setup(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	eng, err := engine.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			fmt.Fprintf(os.Stderr, "close: %v\n", cerr)
		}
	}()

	rep, runErr := eng.Run(ctx, p)
	if err := writeReport(cmd.OutOrStdout(), rep, jsonOutput); err != nil {
		return err
	}
	return runExit(rep, runErr)
}

// runExit maps a finished run to the command error.
func runExit(rep *engine.Report, runErr error) error {
	var pe *engine.PlanError
	switch {
	case errors.As(runErr, &pe):
		return &exitError{code: exitAborted, msg: pe.Error()}
	case errors.Is(runErr, context.Canceled):
		return &exitError{code: exitPartial, msg: "run cancelled"}
	case runErr != nil:
		return runErr
	case rep.Status == aggregate.StatusPartiallySucceeded:
		return &exitError{code: exitPartial, msg: "run partially succeeded"}
	}
	return nil
}
