package embeddings

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"unicode"

	"github.com/zeebo/blake3"
)

// HashProvider embeds text by hashing word unigrams and bigrams into a fixed
// number of signed buckets (the hashing trick) and L2-normalizing. It needs
// no model, is deterministic across processes, and texts sharing vocabulary
// land close under cosine similarity.
type HashProvider struct {
	dim int
}

// NewHashProvider creates a hash provider with dim buckets.
func NewHashProvider(dim int) (*HashProvider, error) {
	if dim == 0 {
		dim = 384
	}
	if dim < 8 {
		return nil, fmt.Errorf("%w: hash dimension must be >= 8, got %d", ErrInvalidConfig, dim)
	}
	return &HashProvider{dim: dim}, nil
}

// EmbedDocuments embeds each text.
func (h *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = h.embed(t)
	}
	return out, nil
}

// EmbedQuery embeds a single text.
func (h *HashProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return h.embed(text), nil
}

// Dimension returns the number of buckets.
func (h *HashProvider) Dimension() int { return h.dim }

// Close is a no-op.
func (h *HashProvider) Close() error { return nil }

func (h *HashProvider) embed(text string) []float32 {
	vec := make([]float32, h.dim)
	tokens := tokenize(text)

	for i, tok := range tokens {
		h.add(vec, tok, 1)
		if i > 0 {
			h.add(vec, tokens[i-1]+" "+tok, 0.5)
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// text had no word characters; fall back to hashing it whole
		h.add(vec, text, 1)
		norm = 1
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func (h *HashProvider) add(vec []float32, feature string, weight float32) {
	sum := blake3.Sum256([]byte(feature))
	idx := binary.LittleEndian.Uint64(sum[:8]) % uint64(h.dim)
	if sum[8]&1 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
}

var _ Provider = (*HashProvider)(nil)
