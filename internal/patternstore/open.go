package patternstore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/config"
)

// Open builds the indexes selected by cfg and starts a Store over them.
// dim is the embedding dimension, required by qdrant to create its
// collection.
func Open(ctx context.Context, cfg config.PatternStoreConfig, dim int, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("patternstore")

	vector, err := openVector(ctx, cfg.Vector, dim, logger)
	if err != nil {
		return nil, err
	}
	graph, err := openGraph(cfg.Graph, logger)
	if err != nil {
		_ = vector.Close()
		return nil, err
	}
	if cfg.Vector.Backend != "memory" && cfg.Graph.Backend == "memory" {
		logger.Warn("persistent vector index with in-memory graph: prune cannot see patterns from earlier runs")
	}

	return New(vector, graph, Options{
		QueueSize: cfg.QueueSize,
		Workers:   cfg.Workers,
		Logger:    logger,
	}), nil
}

func openVector(ctx context.Context, cfg config.VectorConfig, dim int, logger *zap.Logger) (VectorIndex, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryVector(dim), nil
	case "chromem":
		return NewChromemVector(ChromemConfig{
			Path:       cfg.Path,
			Compress:   cfg.Compress,
			Collection: cfg.Collection,
		}, logger)
	case "qdrant":
		return NewQdrantVector(ctx, QdrantConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			UseTLS:     cfg.Qdrant.UseTLS,
			APIKey:     cfg.Qdrant.APIKey.Value(),
			Collection: cfg.Collection,
			Dimension:  dim,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Backend)
	}
}

func openGraph(cfg config.GraphConfig, logger *zap.Logger) (GraphIndex, error) {
	switch cfg.Backend {
	case "memory", "":
		return NewMemoryGraph(), nil
	case "sqlite":
		return NewSQLiteGraph(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown graph backend %q", cfg.Backend)
	}
}
