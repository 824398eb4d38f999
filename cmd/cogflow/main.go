// Package main implements the cogflow CLI.
//
// Usage:
//
//	# Execute a plan
//	cogflow run plan.yaml
//
//	# Show the waves and edges a plan expands into
//	cogflow plan plan.yaml
//
//	# Drop low-confidence patterns from the store
//	cogflow prune --min-confidence 0.6
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/log/global"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var (
	configPath string
	jsonOutput bool
)

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "cogflow",
	Short: "Plan-driven code generation with a learning feedback loop",
	Long: `cogflow expands a task plan into a dependency DAG, generates each unit
through tiered backends, validates the output and retries failures with
feedback from earlier runs.`,
	Version:       fmt.Sprintf("%s (%s)", version, gitCommit),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print machine-readable JSON")
	rootCmd.AddCommand(runCmd, planCmd, pruneCmd)
}

// app is the ambient setup shared by every command.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Telemetry, version))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if derr := tel.Degraded(); derr != nil {
		fmt.Fprintf(os.Stderr, "telemetry degraded: %v\n", derr)
	}

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &app{cfg: cfg, logger: logger, telemetry: tel}, nil
}

func (a *app) close() {
	_ = a.logger.Sync()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.telemetry.Shutdown(ctx)
}
