package patternstore

import (
	"context"
	"sort"
	"sync"
)

// Edge is a directed relation between two node ids. Nodes are pattern ids
// or unit ids.
type Edge struct {
	From     string
	Relation Relation
	To       string
}

// GraphIndex stores patterns as nodes together with their relations. It is
// also the catalog of every stored pattern, which Prune relies on.
type GraphIndex interface {
	// Put stores p (without its embedding) and an edge per relation.
	Put(ctx context.Context, p Pattern) error

	// Link adds a single edge. Duplicate edges are ignored.
	Link(ctx context.Context, e Edge) error

	// Edges returns edges whose relation is in rels and that touch any of
	// nodes on either end. An empty rels matches every relation.
	Edges(ctx context.Context, nodes []string, rels []Relation) ([]Edge, error)

	// Patterns returns the stored patterns for ids. Unknown ids are skipped.
	Patterns(ctx context.Context, ids []string) ([]Pattern, error)

	// BySignature returns ids of patterns with the given signature and kind.
	BySignature(ctx context.Context, signature string, kind Kind) ([]string, error)

	// Prune deletes patterns below minConfidence with their edges and
	// returns the removed ids.
	Prune(ctx context.Context, minConfidence float64) ([]string, error)

	// Count returns the number of stored patterns.
	Count(ctx context.Context) (int, error)

	Close() error
}

// traverse walks one hop from seeds along rels and returns the patterns
// found. Reaching a unit node (via depends-on) yields that unit's own
// patterns. Seeds themselves are excluded from the result.
func traverse(ctx context.Context, g GraphIndex, seeds []string, rels []Relation) ([]Pattern, error) {
	edges, err := g.Edges(ctx, seeds, rels)
	if err != nil {
		return nil, err
	}

	seedSet := make(map[string]bool, len(seeds))
	for _, s := range seeds {
		seedSet[s] = true
	}

	var candidates, units []string
	seen := make(map[string]bool)
	for _, e := range edges {
		for _, node := range []string{e.From, e.To} {
			if seedSet[node] || seen[node] {
				continue
			}
			seen[node] = true
			// depends-on and produced-by targets are unit ids
			if (e.Relation == RelDependsOn || e.Relation == RelProducedBy) && node == e.To {
				units = append(units, node)
				continue
			}
			candidates = append(candidates, node)
		}
	}

	if len(units) > 0 {
		produced, err := g.Edges(ctx, units, []Relation{RelProducedBy})
		if err != nil {
			return nil, err
		}
		for _, e := range produced {
			if !seedSet[e.From] && !seen[e.From] {
				seen[e.From] = true
				candidates = append(candidates, e.From)
			}
		}
	}

	patterns, err := g.Patterns(ctx, candidates)
	if err != nil {
		return nil, err
	}
	sortPatterns(patterns)
	return patterns, nil
}

// MemoryGraph is an in-process GraphIndex.
type MemoryGraph struct {
	mu       sync.RWMutex
	patterns map[string]Pattern
	edges    map[Edge]struct{}
}

// NewMemoryGraph creates an empty graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		patterns: make(map[string]Pattern),
		edges:    make(map[Edge]struct{}),
	}
}

func (g *MemoryGraph) Put(_ context.Context, p Pattern) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.patterns[p.ID] = withoutEmbedding(p)
	for _, l := range p.Relations {
		g.edges[Edge{From: p.ID, Relation: l.Relation, To: l.Target}] = struct{}{}
	}
	return nil
}

func (g *MemoryGraph) Link(_ context.Context, e Edge) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges[e] = struct{}{}
	return nil
}

func (g *MemoryGraph) Edges(_ context.Context, nodes []string, rels []Relation) ([]Edge, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodeSet := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		nodeSet[n] = true
	}
	relSet := make(map[Relation]bool, len(rels))
	for _, r := range rels {
		relSet[r] = true
	}

	var out []Edge
	for e := range g.edges {
		if len(relSet) > 0 && !relSet[e.Relation] {
			continue
		}
		if nodeSet[e.From] || nodeSet[e.To] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		if out[i].Relation != out[j].Relation {
			return out[i].Relation < out[j].Relation
		}
		return out[i].To < out[j].To
	})
	return out, nil
}

func (g *MemoryGraph) Patterns(_ context.Context, ids []string) ([]Pattern, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Pattern, 0, len(ids))
	for _, id := range ids {
		if p, ok := g.patterns[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (g *MemoryGraph) BySignature(_ context.Context, signature string, kind Kind) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var ids []string
	for id, p := range g.patterns {
		if p.Signature == signature && p.Kind == kind {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *MemoryGraph) Prune(_ context.Context, minConfidence float64) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := make(map[string]bool)
	for id, p := range g.patterns {
		if p.Confidence < minConfidence {
			removed[id] = true
			delete(g.patterns, id)
		}
	}
	for e := range g.edges {
		if removed[e.From] || removed[e.To] {
			delete(g.edges, e)
		}
	}

	ids := make([]string, 0, len(removed))
	for id := range removed {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (g *MemoryGraph) Count(context.Context) (int, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.patterns), nil
}

func (g *MemoryGraph) Close() error { return nil }

var _ GraphIndex = (*MemoryGraph)(nil)
