// Package config loads cogflow configuration from YAML and environment
// variables.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config holds the complete cogflow configuration.
type Config struct {
	Engine       EngineConfig       `koanf:"engine"`
	Backoff      BackoffConfig      `koanf:"backoff"`
	Temperature  TemperatureConfig  `koanf:"temperature"`
	Router       RouterConfig       `koanf:"router"`
	Planner      PlannerConfig      `koanf:"planner"`
	Validator    ValidatorConfig    `koanf:"validator"`
	PatternStore PatternStoreConfig `koanf:"patternstore"`
	Embeddings   EmbeddingsConfig   `koanf:"embeddings"`
	Backends     BackendsConfig     `koanf:"backends"`
	Events       EventsConfig       `koanf:"events"`
	Logging      LoggingConfig      `koanf:"logging"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
}

// EngineConfig controls scheduling and attempt limits.
type EngineConfig struct {
	Concurrency    int      `koanf:"concurrency"`
	MaxAttempts    int      `koanf:"max_attempts"`
	EscalateAfter  int      `koanf:"escalate_after"`
	AttemptTimeout Duration `koanf:"attempt_timeout"`
	CancelGrace    Duration `koanf:"cancel_grace"`
}

// BackoffConfig is the delay schedule between attempts of one unit.
type BackoffConfig struct {
	Initial             Duration `koanf:"initial"`
	Max                 Duration `koanf:"max"`
	Multiplier          float64  `koanf:"multiplier"`
	RandomizationFactor float64  `koanf:"randomization_factor"`
}

// TemperatureConfig is the per-attempt sampling temperature schedule:
// max(Floor, Start * Decay^(attempt-1)).
type TemperatureConfig struct {
	Start float64 `koanf:"start"`
	Decay float64 `koanf:"decay"`
	Floor float64 `koanf:"floor"`
}

// RouterConfig holds the size and complexity thresholds for tier selection.
type RouterConfig struct {
	SizeLow        int     `koanf:"size_low"`
	SizeHigh       int     `koanf:"size_high"`
	ComplexityLow  float64 `koanf:"complexity_low"`
	ComplexityHigh float64 `koanf:"complexity_high"`
}

// PlannerConfig controls task expansion into atomic units.
type PlannerConfig struct {
	MaxUnitSize     int     `koanf:"max_unit_size"`
	SplitComplexity float64 `koanf:"split_complexity"`
	PhaseBarrier    bool    `koanf:"phase_barrier"`
}

// ValidatorConfig controls the validation layers.
type ValidatorConfig struct {
	LintBlocking     bool     `koanf:"lint_blocking"`
	SecurityBlocking bool     `koanf:"security_blocking"`
	TestCommand      []string `koanf:"test_command"`
	TestTimeout      Duration `koanf:"test_timeout"`
}

// PatternStoreConfig selects and tunes the vector and graph indexes.
type PatternStoreConfig struct {
	Vector        VectorConfig `koanf:"vector"`
	Graph         GraphConfig  `koanf:"graph"`
	QueueSize     int          `koanf:"queue_size"`
	Workers       int          `koanf:"workers"`
	TopK          int          `koanf:"top_k"`
	MinConfidence float64      `koanf:"min_confidence"`
	Redact        RedactConfig `koanf:"redact"`
}

// RedactConfig controls credential redaction of stored pattern text.
// Redaction is on unless disabled.
type RedactConfig struct {
	Disabled    bool     `koanf:"disabled"`
	Replacement string   `koanf:"replacement"`
	AllowList   []string `koanf:"allow_list"`
}

// VectorConfig configures the similarity index.
type VectorConfig struct {
	Backend    string       `koanf:"backend"` // memory, chromem, qdrant
	Path       string       `koanf:"path"`
	Collection string       `koanf:"collection"`
	Compress   bool         `koanf:"compress"`
	Qdrant     QdrantConfig `koanf:"qdrant"`
}

// QdrantConfig holds the gRPC connection settings for Qdrant.
type QdrantConfig struct {
	Host   string `koanf:"host"`
	Port   int    `koanf:"port"`
	UseTLS bool   `koanf:"use_tls"`
	APIKey Secret `koanf:"api_key"`
}

// GraphConfig configures the relationship index.
type GraphConfig struct {
	Backend string `koanf:"backend"` // memory, sqlite
	Path    string `koanf:"path"`
}

// EmbeddingsConfig selects the embedding provider.
type EmbeddingsConfig struct {
	Provider  string `koanf:"provider"` // hash, fastembed, tei, openai
	Model     string `koanf:"model"`
	Dimension int    `koanf:"dimension"`
	BaseURL   string `koanf:"base_url"`
	CacheDir  string `koanf:"cache_dir"`
	APIKey    Secret `koanf:"api_key"`
}

// BackendsConfig configures the cheap and premium generators. The hybrid
// tier is composed from both.
type BackendsConfig struct {
	Cheap   BackendConfig `koanf:"cheap"`
	Premium BackendConfig `koanf:"premium"`
}

// BackendConfig configures a single generation backend.
type BackendConfig struct {
	Kind              string  `koanf:"kind"` // anthropic, openai, echo
	Model             string  `koanf:"model"`
	BaseURL           string  `koanf:"base_url"`
	APIKey            Secret  `koanf:"api_key"`
	MaxTokens         int     `koanf:"max_tokens"`
	RequestsPerMinute float64 `koanf:"requests_per_minute"`
}

// EventsConfig selects where lifecycle events go.
type EventsConfig struct {
	Sink          string `koanf:"sink"` // log, nats, none
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the subset of logging settings exposed to users.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	OTEL   bool   `koanf:"otel"`
}

// TelemetryConfig is the subset of OpenTelemetry settings exposed to users.
type TelemetryConfig struct {
	Enabled    bool    `koanf:"enabled"`
	Endpoint   string  `koanf:"endpoint"`
	Protocol   string  `koanf:"protocol"`
	Insecure   bool    `koanf:"insecure"`
	SampleRate float64 `koanf:"sample_rate"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values.
func applyDefaults(cfg *Config) {
	e := &cfg.Engine
	if e.Concurrency == 0 {
		e.Concurrency = 4
	}
	if e.MaxAttempts == 0 {
		e.MaxAttempts = 3
	}
	if e.EscalateAfter == 0 {
		e.EscalateAfter = 2
	}
	if e.AttemptTimeout == 0 {
		e.AttemptTimeout = Duration(2 * time.Minute)
	}
	if e.CancelGrace == 0 {
		e.CancelGrace = Duration(10 * time.Second)
	}

	b := &cfg.Backoff
	if b.Initial == 0 {
		b.Initial = Duration(500 * time.Millisecond)
	}
	if b.Max == 0 {
		b.Max = Duration(10 * time.Second)
	}
	if b.Multiplier == 0 {
		b.Multiplier = 2
	}

	t := &cfg.Temperature
	if t.Start == 0 {
		t.Start = 0.7
	}
	if t.Decay == 0 {
		t.Decay = 0.5
	}
	if t.Floor == 0 {
		t.Floor = 0.1
	}

	r := &cfg.Router
	if r.SizeLow == 0 {
		r.SizeLow = 50
	}
	if r.SizeHigh == 0 {
		r.SizeHigh = 200
	}
	if r.ComplexityLow == 0 {
		r.ComplexityLow = 0.3
	}
	if r.ComplexityHigh == 0 {
		r.ComplexityHigh = 0.7
	}

	p := &cfg.Planner
	if p.MaxUnitSize == 0 {
		p.MaxUnitSize = 150
	}
	if p.SplitComplexity == 0 {
		p.SplitComplexity = 0.8
	}

	if cfg.Validator.TestTimeout == 0 {
		cfg.Validator.TestTimeout = Duration(time.Minute)
	}

	ps := &cfg.PatternStore
	if ps.Vector.Backend == "" {
		ps.Vector.Backend = "memory"
	}
	if ps.Vector.Collection == "" {
		ps.Vector.Collection = "cogflow_patterns"
	}
	if ps.Vector.Qdrant.Host == "" {
		ps.Vector.Qdrant.Host = "localhost"
	}
	if ps.Vector.Qdrant.Port == 0 {
		ps.Vector.Qdrant.Port = 6334
	}
	if ps.Graph.Backend == "" {
		ps.Graph.Backend = "memory"
	}
	if ps.QueueSize == 0 {
		ps.QueueSize = 256
	}
	if ps.Workers == 0 {
		ps.Workers = 2
	}
	if ps.TopK == 0 {
		ps.TopK = 5
	}
	if ps.MinConfidence == 0 {
		ps.MinConfidence = 0.3
	}

	em := &cfg.Embeddings
	if em.Provider == "" {
		em.Provider = "hash"
	}
	if em.Dimension == 0 {
		em.Dimension = 384
	}
	if em.Provider == "tei" && em.BaseURL == "" {
		em.BaseURL = "http://localhost:8080"
	}
	if em.Model == "" && (em.Provider == "fastembed" || em.Provider == "tei") {
		em.Model = "BAAI/bge-small-en-v1.5"
	}

	for _, bc := range []*BackendConfig{&cfg.Backends.Cheap, &cfg.Backends.Premium} {
		if bc.Kind == "" {
			bc.Kind = "echo"
		}
		if bc.MaxTokens == 0 {
			bc.MaxTokens = 4096
		}
		if bc.RequestsPerMinute == 0 {
			bc.RequestsPerMinute = 50
		}
	}

	if cfg.Events.Sink == "" {
		cfg.Events.Sink = "log"
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "cogflow"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Engine.Concurrency < 1 {
		return fmt.Errorf("%w: engine.concurrency must be >= 1, got %d", ErrInvalidConfig, c.Engine.Concurrency)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("%w: engine.max_attempts must be >= 1, got %d", ErrInvalidConfig, c.Engine.MaxAttempts)
	}
	if c.Engine.EscalateAfter < 1 {
		return fmt.Errorf("%w: engine.escalate_after must be >= 1", ErrInvalidConfig)
	}
	if c.Backoff.Multiplier < 1 {
		return fmt.Errorf("%w: backoff.multiplier must be >= 1", ErrInvalidConfig)
	}
	if c.Backoff.RandomizationFactor < 0 || c.Backoff.RandomizationFactor > 1 {
		return fmt.Errorf("%w: backoff.randomization_factor must be in [0,1]", ErrInvalidConfig)
	}
	if c.Backoff.Max < c.Backoff.Initial {
		return fmt.Errorf("%w: backoff.max must be >= backoff.initial", ErrInvalidConfig)
	}
	if c.Temperature.Decay <= 0 || c.Temperature.Decay > 1 {
		return fmt.Errorf("%w: temperature.decay must be in (0,1]", ErrInvalidConfig)
	}
	if c.Temperature.Floor < 0 || c.Temperature.Floor > c.Temperature.Start {
		return fmt.Errorf("%w: temperature.floor must be in [0, start]", ErrInvalidConfig)
	}
	if c.Router.SizeLow > c.Router.SizeHigh {
		return fmt.Errorf("%w: router.size_low must be <= router.size_high", ErrInvalidConfig)
	}
	if c.Router.ComplexityLow > c.Router.ComplexityHigh {
		return fmt.Errorf("%w: router.complexity_low must be <= router.complexity_high", ErrInvalidConfig)
	}
	if c.Planner.MaxUnitSize < 1 {
		return fmt.Errorf("%w: planner.max_unit_size must be >= 1", ErrInvalidConfig)
	}

	switch c.PatternStore.Vector.Backend {
	case "memory", "chromem", "qdrant":
	default:
		return fmt.Errorf("%w: unknown patternstore.vector.backend %q", ErrInvalidConfig, c.PatternStore.Vector.Backend)
	}
	switch c.PatternStore.Graph.Backend {
	case "memory":
	case "sqlite":
		if c.PatternStore.Graph.Path == "" {
			return fmt.Errorf("%w: patternstore.graph.path is required for sqlite", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown patternstore.graph.backend %q", ErrInvalidConfig, c.PatternStore.Graph.Backend)
	}
	if c.PatternStore.MinConfidence < 0 || c.PatternStore.MinConfidence > 1 {
		return fmt.Errorf("%w: patternstore.min_confidence must be in [0,1]", ErrInvalidConfig)
	}

	switch c.Embeddings.Provider {
	case "hash", "fastembed", "tei", "openai":
	default:
		return fmt.Errorf("%w: unknown embeddings.provider %q", ErrInvalidConfig, c.Embeddings.Provider)
	}

	for tier, bc := range map[string]BackendConfig{"cheap": c.Backends.Cheap, "premium": c.Backends.Premium} {
		switch bc.Kind {
		case "echo":
		case "anthropic", "openai":
			if bc.Model == "" {
				return fmt.Errorf("%w: backends.%s.model is required for %s", ErrInvalidConfig, tier, bc.Kind)
			}
		default:
			return fmt.Errorf("%w: unknown backends.%s.kind %q", ErrInvalidConfig, tier, bc.Kind)
		}
	}

	switch c.Events.Sink {
	case "log", "none":
	case "nats":
		if c.Events.NATSURL == "" {
			return fmt.Errorf("%w: events.nats_url is required for the nats sink", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown events.sink %q", ErrInvalidConfig, c.Events.Sink)
	}

	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("%w: logging.format must be 'json' or 'console', got %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}
