package engine

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/backend"
	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/embeddings"
	"github.com/fyrsmithlabs/cogflow/internal/events"
	"github.com/fyrsmithlabs/cogflow/internal/feedback"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/patternstore"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/redact"
	"github.com/fyrsmithlabs/cogflow/internal/retry"
	"github.com/fyrsmithlabs/cogflow/internal/router"
	"github.com/fyrsmithlabs/cogflow/internal/validator"
)

// Open builds every collaborator from cfg. The returned engine owns the
// embedding provider, the pattern store and the event sink; Close releases
// them.
func Open(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var closers []io.Closer
	fail := func(err error) (*Engine, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	provider, err := embeddings.NewProvider(embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		Dimension: cfg.Embeddings.Dimension,
		BaseURL:   cfg.Embeddings.BaseURL,
		CacheDir:  cfg.Embeddings.CacheDir,
		APIKey:    cfg.Embeddings.APIKey.Value(),
	})
	if err != nil {
		return fail(fmt.Errorf("embeddings: %w", err))
	}
	closers = append(closers, provider)

	store, err := patternstore.Open(ctx, cfg.PatternStore, provider.Dimension(), logger.Underlying())
	if err != nil {
		return fail(fmt.Errorf("pattern store: %w", err))
	}
	closers = append(closers, store)

	var redactor *redact.Redactor
	if rc := cfg.PatternStore.Redact; !rc.Disabled {
		redactor, err = redact.New(redact.Config{Replacement: rc.Replacement, AllowList: rc.AllowList})
		if err != nil {
			return fail(fmt.Errorf("redaction: %w", err))
		}
	}

	tiers, err := backend.NewTiers(cfg.Backends, logger)
	if err != nil {
		return fail(fmt.Errorf("backends: %w", err))
	}
	for name, bc := range map[string]config.BackendConfig{"cheap": cfg.Backends.Cheap, "premium": cfg.Backends.Premium} {
		logger.Debug(ctx, "backend configured",
			zap.String("tier", name),
			zap.String("kind", bc.Kind),
			zap.String("model", bc.Model),
			logging.Secret("api_key", bc.APIKey))
	}

	sink, err := events.FromConfig(cfg.Events, logger)
	if err != nil {
		return fail(fmt.Errorf("events: %w", err))
	}
	closers = append(closers, sink)

	e, err := New(Options{
		Planner: plan.NewPlanner(plan.Config{
			MaxUnitSize:     cfg.Planner.MaxUnitSize,
			SplitComplexity: cfg.Planner.SplitComplexity,
			PhaseBarrier:    cfg.Planner.PhaseBarrier,
		}, logger.Underlying().Named("plan")),
		Router: router.New(router.Thresholds{
			SizeLow:        cfg.Router.SizeLow,
			SizeHigh:       cfg.Router.SizeHigh,
			ComplexityLow:  cfg.Router.ComplexityLow,
			ComplexityHigh: cfg.Router.ComplexityHigh,
		}),
		Generator: tiers,
		Validator: validator.FromConfig(cfg.Validator, logger),
		Store:     store,
		Embedder:  provider,
		Redactor:  redactor,
		Events:    sink,
		Logger:    logger,
		Retry:     retry.ConfigFrom(cfg),
		Feedback: feedback.Config{
			TopK:          cfg.PatternStore.TopK,
			MinConfidence: cfg.PatternStore.MinConfidence,
		},
		Concurrency: cfg.Engine.Concurrency,
		CancelGrace: cfg.Engine.CancelGrace.Duration(),
	})
	if err != nil {
		return fail(err)
	}

	// store drains pending writes before the provider closes
	e.closers = []io.Closer{sink, store, provider}
	return e, nil
}
