package backend

import (
	"fmt"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/router"
)

// NewTiers builds the tier table from configuration: the cheap and premium
// tiers from their own sections and the hybrid tier from both.
func NewTiers(cfg config.BackendsConfig, logger *logging.Logger) (Tiers, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	cheap, err := NewGenerator(cfg.Cheap)
	if err != nil {
		return nil, fmt.Errorf("cheap backend: %w", err)
	}
	premium, err := NewGenerator(cfg.Premium)
	if err != nil {
		return nil, fmt.Errorf("premium backend: %w", err)
	}
	return Tiers{
		router.TierCheap:   cheap,
		router.TierHybrid:  &Hybrid{Draft: cheap, Refine: premium, Logger: logger.Named("backend")},
		router.TierPremium: premium,
	}, nil
}

// NewGenerator builds a single generator.
func NewGenerator(cfg config.BackendConfig) (Generator, error) {
	switch cfg.Kind {
	case "echo", "":
		return Echo{}, nil
	case "anthropic":
		return NewAnthropic(AnthropicConfig{
			APIKey:            cfg.APIKey.Value(),
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	case "openai":
		return NewOpenAI(OpenAIConfig{
			APIKey:            cfg.APIKey.Value(),
			Model:             cfg.Model,
			BaseURL:           cfg.BaseURL,
			MaxTokens:         cfg.MaxTokens,
			RequestsPerMinute: cfg.RequestsPerMinute,
		})
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, cfg.Kind)
	}
}
