// Package logging provides the context-aware zap logger used across cogflow.
//
// Loggers pull correlation fields (run id, unit id, wave, attempt, trace id)
// out of the context on every call, so components only pass ctx along:
//
//	ctx = logging.WithRunID(ctx, runID)
//	ctx = logging.WithUnit(ctx, unit.ID, unit.Wave)
//	logger.Info(ctx, "unit completed", zap.Int("attempts", n))
package logging

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"go.uber.org/zap/zapcore"
)

// TraceLevel sits below Debug and is almost always filtered.
const TraceLevel = zapcore.Level(-2)

// Config holds logging configuration.
type Config struct {
	Level    zapcore.Level
	Format   string // json or console
	Stdout   bool
	OTEL     bool
	Sampling SamplingConfig
	Caller   bool
	Fields   map[string]string
}

// SamplingConfig thins out repeated sub-error entries.
type SamplingConfig struct {
	Enabled    bool
	Tick       config.Duration
	Initial    int
	Thereafter int
}

// NewDefaultConfig returns console logging at info with sampling enabled.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Stdout: true,
		Sampling: SamplingConfig{
			Enabled:    true,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: true,
		Fields: map[string]string{"service": "cogflow"},
	}
}

// FromAppConfig builds a logging Config from the user-facing settings.
func FromAppConfig(c config.LoggingConfig) (*Config, error) {
	cfg := NewDefaultConfig()
	level, err := LevelFromString(c.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	cfg.Level = level
	if c.Format != "" {
		cfg.Format = c.Format
	}
	cfg.OTEL = c.OTEL
	return cfg, nil
}

// LevelFromString parses a level name, accepting "trace".
func LevelFromString(level string) (zapcore.Level, error) {
	if level == "trace" {
		return TraceLevel, nil
	}
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, err
	}
	return l, nil
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Stdout && !c.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}
	for k, v := range c.Fields {
		if k == "" || v == "" {
			return fmt.Errorf("constant field %q must have a non-empty key and value", k)
		}
	}
	return nil
}
