// Package embeddings turns unit signatures into fixed-dimension vectors.
//
// Providers:
//   - hash: deterministic blake3 feature hashing, no model or network
//   - fastembed: local ONNX models (requires cgo)
//   - tei: HuggingFace Text Embeddings Inference over HTTP
//   - openai: OpenAI-compatible embedding APIs via langchaingo
package embeddings

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vectors for documents and queries.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a fixed output dimension and a lifecycle.
type Provider interface {
	Embedder
	Dimension() int
	Close() error
}

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Provider  string // hash, fastembed, tei, openai
	Model     string
	Dimension int // hash provider only
	BaseURL   string
	CacheDir  string
	APIKey    string
}

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "hash", "":
		p, err = NewHashProvider(cfg.Dimension)
	case "fastembed":
		p, err = NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	case "tei":
		p, err = NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "openai":
		p, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey,
			Dimension: cfg.Dimension,
		})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// dimensionForModel guesses the output size of well-known model names.
func dimensionForModel(model string) int {
	switch model {
	case "BAAI/bge-base-en-v1.5", "BAAI/bge-base-en":
		return 768
	case "BAAI/bge-small-zh-v1.5":
		return 512
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	default:
		return 384
	}
}
