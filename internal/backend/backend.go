// Package backend defines the generation backends the engine routes units to.
//
// The tier set is closed: every router.Tier maps to exactly one Generator
// through Tiers. Concrete generators talk to Anthropic's Messages API,
// OpenAI-compatible chat APIs (via langchaingo), or produce deterministic
// stubs for offline runs. The hybrid tier composes a cheap draft with a
// premium refinement.
package backend

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/cogflow/internal/router"
)

var (
	// ErrNoGenerator indicates a tier without a configured generator.
	ErrNoGenerator = errors.New("no generator for tier")

	// ErrEmptyCompletion indicates the backend returned no usable content.
	ErrEmptyCompletion = errors.New("empty completion")

	// ErrInvalidConfig indicates a backend that cannot be constructed.
	ErrInvalidConfig = errors.New("invalid backend configuration")
)

// Request is a single generation call.
type Request struct {
	UnitID   string
	Prompt   string
	Contract []string

	// Augmentation is rendered feedback from earlier attempts; empty on
	// the first attempt.
	Augmentation string

	Temperature float64
	Tier        router.Tier
	MaxTokens   int
}

// FullPrompt joins the prompt and augmentation.
func (r Request) FullPrompt() string {
	if strings.TrimSpace(r.Augmentation) == "" {
		return r.Prompt
	}
	return r.Prompt + "\n\n" + r.Augmentation
}

// Artifact is generated source for one unit.
type Artifact struct {
	UnitID string      `json:"unit_id"`
	Code   string      `json:"code"`
	Tier   router.Tier `json:"tier"`
	Model  string      `json:"model,omitempty"`

	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Generator produces an artifact for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (Artifact, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Artifact, error)

// Generate calls f.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Artifact, error) {
	return f(ctx, req)
}

// Tiers maps each routing tier to its generator.
type Tiers map[router.Tier]Generator

// For returns the generator for t.
func (ts Tiers) For(t router.Tier) (Generator, error) {
	g, ok := ts[t]
	if !ok || g == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoGenerator, t)
	}
	return g, nil
}

// Validate checks that every tier has a generator.
func (ts Tiers) Validate() error {
	for _, t := range router.Tiers {
		if _, err := ts.For(t); err != nil {
			return err
		}
	}
	return nil
}

// Generate dispatches req to the generator for req.Tier and stamps the
// tier on the artifact.
func (ts Tiers) Generate(ctx context.Context, req Request) (Artifact, error) {
	g, err := ts.For(req.Tier)
	if err != nil {
		return Artifact{}, err
	}
	art, err := g.Generate(ctx, req)
	if err != nil {
		return Artifact{}, err
	}
	art.UnitID = req.UnitID
	art.Tier = req.Tier
	return art, nil
}

var _ Generator = Tiers(nil)
