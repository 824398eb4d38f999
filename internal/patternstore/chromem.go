package patternstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Path is the persistence directory. Empty keeps the index in memory.
	Path string

	// Compress gzips the persisted documents.
	Compress bool

	// Collection defaults to "cogflow_patterns".
	Collection string
}

// ChromemVector is a VectorIndex backed by chromem-go. Embeddings are
// always supplied by the caller; the collection's embedding function is
// never invoked.
type ChromemVector struct {
	db         *chromem.DB
	collection *chromem.Collection
	logger     *zap.Logger
}

var errNoEmbeddingFunc = errors.New("chromem collection requires precomputed embeddings")

// NewChromemVector opens or creates the collection.
func NewChromemVector(cfg ChromemConfig, logger *zap.Logger) (*ChromemVector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Collection == "" {
		cfg.Collection = "cogflow_patterns"
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		path, perr := expandPath(cfg.Path)
		if perr != nil {
			return nil, fmt.Errorf("expanding path: %w", perr)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
		cfg.Path = path
	}

	embed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	col, err := db.GetOrCreateCollection(cfg.Collection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("chromem pattern index ready",
		zap.String("path", cfg.Path),
		zap.String("collection", cfg.Collection),
		zap.Int("patterns", col.Count()),
	)
	return &ChromemVector{db: db, collection: col, logger: logger}, nil
}

// Upsert adds p. chromem replaces documents with an existing id.
func (c *ChromemVector) Upsert(ctx context.Context, p Pattern) error {
	ctx, span := tracer.Start(ctx, "ChromemVector.Upsert")
	defer span.End()
	span.SetAttributes(attribute.String("pattern.kind", string(p.Kind)))

	meta, err := encodeFields(p)
	if err != nil {
		return err
	}
	content := p.Summary
	if content == "" {
		content = p.Signature
	}
	doc := chromem.Document{
		ID:        p.ID,
		Content:   content,
		Metadata:  meta,
		Embedding: p.Embedding,
	}
	if err := c.collection.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding pattern %s: %w", p.ID, err)
	}
	return nil
}

// Search queries by embedding with an optional kind filter.
func (c *ChromemVector) Search(ctx context.Context, vec []float32, kind Kind, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "ChromemVector.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", topK), attribute.String("pattern.kind", string(kind)))

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	// chromem requires nResults <= document count
	n := c.collection.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	var where map[string]string
	if kind != "" {
		where = map[string]string{fieldKind: string(kind)}
	}
	results, err := c.collection.QueryEmbedding(ctx, vec, topK, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying patterns: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, r := range results {
		p, err := decodeFields(r.ID, r.Metadata)
		if err != nil {
			c.logger.Warn("skipping undecodable pattern", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		p.Embedding = r.Embedding
		matches = append(matches, Match{Pattern: p, Score: r.Similarity})
	}
	span.SetAttributes(attribute.Int("results_count", len(matches)))
	return matches, nil
}

// Delete removes ids from the collection.
func (c *ChromemVector) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.collection.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting %d patterns: %w", len(ids), err)
	}
	return nil
}

// Close is a no-op; chromem persists on every write.
func (c *ChromemVector) Close() error { return nil }

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}

var _ VectorIndex = (*ChromemVector)(nil)
