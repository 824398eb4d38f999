// Package patternstore keeps past unit outcomes in two indexes: a vector
// index for similarity search over signature embeddings and a graph index
// for explicit relations between patterns and units.
//
// Writes go through an asynchronous queue and never fail the caller.
// Reads are synchronous and used by the feedback consultant on retries.
package patternstore

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"
)

var (
	// ErrInvalidPattern indicates a pattern missing required fields.
	ErrInvalidPattern = errors.New("invalid pattern")

	// ErrClosed indicates the store has been closed.
	ErrClosed = errors.New("pattern store closed")

	// ErrDimensionMismatch indicates a vector of the wrong size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Kind classifies a pattern by the outcome it records.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindSuccess || k == KindError
}

// Relation names a typed graph edge.
type Relation string

const (
	// RelSolvedBy links an error pattern to a success pattern for the same work.
	RelSolvedBy Relation = "solved-by"
	// RelDependsOn links a pattern to the units its unit depended on.
	RelDependsOn Relation = "depends-on"
	// RelSimilarTo links two patterns judged similar.
	RelSimilarTo Relation = "similar-to"
	// RelProducedBy links a pattern to the unit that produced it.
	RelProducedBy Relation = "produced-by"
)

// AllRelations lists every relation in traversal order.
var AllRelations = []Relation{RelProducedBy, RelSolvedBy, RelDependsOn, RelSimilarTo}

// Default confidence scores by kind.
const (
	SuccessConfidence = 0.8
	ErrorConfidence   = 0.5
)

// Link is an outgoing relation from a pattern to a pattern or unit id.
type Link struct {
	Relation Relation `json:"relation"`
	Target   string   `json:"target"`
}

// Pattern is one stored execution outcome.
type Pattern struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Signature  string    `json:"signature"`
	UnitID     string    `json:"unit_id"`
	TaskID     string    `json:"task_id,omitempty"`
	Embedding  []float32 `json:"embedding,omitempty"`
	Summary    string    `json:"summary,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	Tier       string    `json:"tier,omitempty"`
	Confidence float64   `json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
	Relations  []Link    `json:"relations,omitempty"`
}

// Match is a similarity search hit.
type Match struct {
	Pattern Pattern
	Score   float32
}

// prepare fills generated fields and validates p. canEmbed allows a missing
// embedding when the signature can be embedded later.
func (p *Pattern) prepare(now time.Time, canEmbed bool) error {
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidPattern, p.Kind)
	}
	if p.UnitID == "" {
		return fmt.Errorf("%w: unit id required", ErrInvalidPattern)
	}
	if len(p.Embedding) == 0 && (!canEmbed || p.Signature == "") {
		return fmt.Errorf("%w: embedding required", ErrInvalidPattern)
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.Confidence == 0 {
		if p.Kind == KindSuccess {
			p.Confidence = SuccessConfidence
		} else {
			p.Confidence = ErrorConfidence
		}
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.2f outside [0,1]", ErrInvalidPattern, p.Confidence)
	}
	if !hasLink(p.Relations, RelProducedBy, p.UnitID) {
		p.Relations = append(p.Relations, Link{Relation: RelProducedBy, Target: p.UnitID})
	}
	return nil
}

func hasLink(links []Link, rel Relation, target string) bool {
	for _, l := range links {
		if l.Relation == rel && l.Target == target {
			return true
		}
	}
	return false
}

// SignatureKey returns a short stable digest of a unit signature, used as
// an index key so long signatures never hit column or payload limits.
func SignatureKey(signature string) string {
	sum := blake3.Sum256([]byte(signature))
	return hex.EncodeToString(sum[:16])
}

// sortPatterns orders by confidence desc, then newest first, then id.
func sortPatterns(ps []Pattern) {
	sort.SliceStable(ps, func(i, j int) bool {
		if ps[i].Confidence != ps[j].Confidence {
			return ps[i].Confidence > ps[j].Confidence
		}
		if !ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].CreatedAt.After(ps[j].CreatedAt)
		}
		return ps[i].ID < ps[j].ID
	})
}

// withoutEmbedding returns a copy of p safe to persist as graph node data.
func withoutEmbedding(p Pattern) Pattern {
	p.Embedding = nil
	return p
}
