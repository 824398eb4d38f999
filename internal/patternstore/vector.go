package patternstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// VectorIndex stores pattern embeddings for nearest-neighbour search under
// cosine similarity.
type VectorIndex interface {
	// Upsert stores or replaces p.
	Upsert(ctx context.Context, p Pattern) error

	// Search returns up to topK patterns of the given kind, most similar
	// first. An empty kind matches every pattern.
	Search(ctx context.Context, vec []float32, kind Kind, topK int) ([]Match, error)

	// Delete removes patterns by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids []string) error

	// Close releases resources.
	Close() error
}

// MemoryVector is an in-process VectorIndex using brute-force cosine
// similarity. It is safe for concurrent use.
type MemoryVector struct {
	mu       sync.RWMutex
	patterns map[string]Pattern
	dim      int
}

// NewMemoryVector creates an empty in-memory index. A dim of 0 accepts the
// dimension of the first stored pattern.
func NewMemoryVector(dim int) *MemoryVector {
	return &MemoryVector{patterns: make(map[string]Pattern), dim: dim}
}

// Upsert stores p.
func (m *MemoryVector) Upsert(ctx context.Context, p Pattern) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dim == 0 {
		m.dim = len(p.Embedding)
	}
	if len(p.Embedding) != m.dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(p.Embedding), m.dim)
	}
	p.Embedding = append([]float32(nil), p.Embedding...)
	m.patterns[p.ID] = p
	return nil
}

// Search scans every pattern.
func (m *MemoryVector) Search(ctx context.Context, vec []float32, kind Kind, topK int) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dim != 0 && len(vec) != m.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), m.dim)
	}

	matches := make([]Match, 0, len(m.patterns))
	for _, p := range m.patterns {
		if kind != "" && p.Kind != kind {
			continue
		}
		matches = append(matches, Match{Pattern: p, Score: cosine(vec, p.Embedding)})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Pattern.ID < matches[j].Pattern.ID
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// Delete removes ids.
func (m *MemoryVector) Delete(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.patterns, id)
	}
	return nil
}

// Len returns the number of stored patterns.
func (m *MemoryVector) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// Close is a no-op.
func (m *MemoryVector) Close() error { return nil }

func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ VectorIndex = (*MemoryVector)(nil)
