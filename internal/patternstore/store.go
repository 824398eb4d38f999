package patternstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/patternstore")

// Embedder turns pattern signatures into vectors.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Options tunes the asynchronous writer.
type Options struct {
	// QueueSize bounds pending writes. Writes beyond it are dropped. Default 256.
	QueueSize int

	// Workers is the number of writer goroutines. Default 2.
	Workers int

	// WriteTimeout bounds a single pattern write. Default 10s.
	WriteTimeout time.Duration

	// Embedder, when set, lets Store accept patterns without an embedding.
	// Their signatures are embedded by the writer workers.
	Embedder Embedder

	Logger *zap.Logger
}

func (o *Options) applyDefaults() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.Workers <= 0 {
		o.Workers = 2
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

type writeJob struct {
	ctx      context.Context
	pattern  Pattern
	embedder Embedder
}

// Store is the dual-indexed pattern store. Store calls return immediately;
// a fixed pool of workers writes to the vector and graph indexes. Failed
// writes are logged and counted, never returned.
type Store struct {
	vector VectorIndex
	graph  GraphIndex
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	queue   chan writeJob
	workers sync.WaitGroup

	mu       sync.Mutex // guards embedder, closed, inflight and waiters
	embedder Embedder
	closed   bool
	inflight int
	waiters  []chan struct{}
}

// New starts the writer pool over the given indexes. The Store owns both
// indexes and closes them in Close.
func New(vector VectorIndex, graph GraphIndex, opts Options) *Store {
	opts.applyDefaults()
	s := &Store{
		vector: vector,
		graph:  graph,
		opts:   opts,
		logger: opts.Logger,
		now:    time.Now,
		queue:  make(chan writeJob, opts.QueueSize),

		embedder: opts.Embedder,
	}
	s.workers.Add(opts.Workers)
	for i := 0; i < opts.Workers; i++ {
		go s.worker()
	}
	return s
}

// NewMemory returns a Store over in-memory indexes.
func NewMemory(opts Options) *Store {
	return New(NewMemoryVector(0), NewMemoryGraph(), opts)
}

// SetEmbedder replaces the embedder used for patterns stored without an
// embedding. Patterns already queued keep the embedder they were queued with.
func (s *Store) SetEmbedder(e Embedder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.embedder = e
}

// Store enqueues p for writing. It never blocks: when the queue is full or
// the store is closed the pattern is dropped and the drop is logged. A
// pattern without an embedding is embedded from its signature by a worker.
func (s *Store) Store(ctx context.Context, p Pattern) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := p.prepare(s.now(), s.embedder != nil); err != nil {
		s.logger.Warn("rejecting pattern", zap.String("unit_id", p.UnitID), zap.Error(err))
		WritesTotal.WithLabelValues(string(p.Kind), "failed").Inc()
		return
	}
	if s.closed {
		s.logger.Warn("pattern store closed, dropping pattern", zap.String("pattern_id", p.ID))
		WritesTotal.WithLabelValues(string(p.Kind), "dropped").Inc()
		return
	}

	job := writeJob{ctx: context.WithoutCancel(ctx), pattern: p, embedder: s.embedder}
	select {
	case s.queue <- job:
		s.inflight++
		QueueDepth.Inc()
	default:
		s.logger.Warn("pattern queue full, dropping pattern",
			zap.String("pattern_id", p.ID),
			zap.String("unit_id", p.UnitID),
			zap.Int("queue_size", s.opts.QueueSize),
		)
		WritesTotal.WithLabelValues(string(p.Kind), "dropped").Inc()
	}
}

func (s *Store) worker() {
	defer s.workers.Done()
	for job := range s.queue {
		QueueDepth.Dec()
		s.write(job)
		s.done()
	}
}

func (s *Store) write(job writeJob) {
	p := job.pattern
	ctx, cancel := context.WithTimeout(job.ctx, s.opts.WriteTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "Store.write")
	defer span.End()
	span.SetAttributes(
		attribute.String("pattern.id", p.ID),
		attribute.String("pattern.kind", string(p.Kind)),
		attribute.String("unit.id", p.UnitID),
	)

	start := time.Now()
	err := s.embed(ctx, job.embedder, &p)
	if err == nil {
		err = s.writeIndexes(ctx, p)
	}
	WriteDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		s.logger.Error("pattern write failed",
			zap.String("pattern_id", p.ID),
			zap.String("unit_id", p.UnitID),
			zap.String("kind", string(p.Kind)),
			zap.Error(err),
		)
		WritesTotal.WithLabelValues(string(p.Kind), "failed").Inc()
		return
	}
	WritesTotal.WithLabelValues(string(p.Kind), "ok").Inc()
	s.logger.Debug("pattern stored", zap.String("pattern_id", p.ID), zap.String("kind", string(p.Kind)))
}

func (s *Store) embed(ctx context.Context, e Embedder, p *Pattern) error {
	if len(p.Embedding) > 0 {
		return nil
	}
	vecs, err := e.EmbedDocuments(ctx, []string{p.Signature})
	if err != nil {
		return fmt.Errorf("embedding signature: %w", err)
	}
	if len(vecs) == 0 || len(vecs[0]) == 0 {
		return fmt.Errorf("embedding signature: %w: empty vector", ErrInvalidPattern)
	}
	p.Embedding = vecs[0]
	return nil
}

// writeIndexes keeps the graph authoritative: a vector entry is never left
// without its graph node, since Count and Prune read only the graph.
func (s *Store) writeIndexes(ctx context.Context, p Pattern) error {
	if err := s.vector.Upsert(ctx, p); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	if err := s.graph.Put(ctx, p); err != nil {
		if derr := s.vector.Delete(context.WithoutCancel(ctx), []string{p.ID}); derr != nil {
			s.logger.Warn("removing orphaned vector entry failed",
				zap.String("pattern_id", p.ID), zap.Error(derr))
		}
		return fmt.Errorf("graph index: %w", err)
	}
	if p.Kind != KindSuccess {
		return nil
	}

	// earlier failures of the same work are solved by this success
	errIDs, err := s.graph.BySignature(ctx, p.Signature, KindError)
	if err != nil {
		return fmt.Errorf("graph index: %w", err)
	}
	for _, id := range errIDs {
		if err := s.graph.Link(ctx, Edge{From: id, Relation: RelSolvedBy, To: p.ID}); err != nil {
			return fmt.Errorf("graph index: %w", err)
		}
	}
	return nil
}

func (s *Store) done() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if s.inflight == 0 {
		for _, w := range s.waiters {
			close(w)
		}
		s.waiters = nil
	}
}

// Flush blocks until every pattern enqueued before the call is written or
// ctx is done.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	if s.inflight == 0 {
		s.mu.Unlock()
		return nil
	}
	w := make(chan struct{})
	s.waiters = append(s.waiters, w)
	s.mu.Unlock()

	select {
	case <-w:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SearchSimilar returns up to topK patterns of kind nearest to vec.
func (s *Store) SearchSimilar(ctx context.Context, vec []float32, kind Kind, topK int) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "Store.SearchSimilar")
	defer span.End()
	span.SetAttributes(attribute.String("pattern.kind", string(kind)), attribute.Int("k", topK))

	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: empty query vector", ErrInvalidPattern)
	}
	matches, err := s.vector.Search(ctx, vec, kind, topK)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return matches, nil
}

// TraverseRelated returns the unit's own patterns together with patterns
// one relation away from them. An empty relations list follows every
// relation.
func (s *Store) TraverseRelated(ctx context.Context, unitID string, relations []Relation) ([]Pattern, error) {
	ctx, span := tracer.Start(ctx, "Store.TraverseRelated")
	defer span.End()
	span.SetAttributes(attribute.String("unit.id", unitID))

	own, err := traverse(ctx, s.graph, []string{unitID}, []Relation{RelProducedBy})
	if err != nil {
		return nil, err
	}

	seeds := make([]string, 0, len(own)+1)
	seeds = append(seeds, unitID)
	for _, p := range own {
		seeds = append(seeds, p.ID)
	}
	related, err := traverse(ctx, s.graph, seeds, relations)
	if err != nil {
		return nil, err
	}

	var out []Pattern
	if len(relations) == 0 || containsRelation(relations, RelProducedBy) {
		out = append(out, own...)
	}
	out = append(out, related...)
	sortPatterns(out)
	span.SetAttributes(attribute.Int("results_count", len(out)))
	return out, nil
}

// Expand returns patterns one relation away from the given pattern ids,
// excluding the ids themselves.
func (s *Store) Expand(ctx context.Context, patternIDs []string, relations []Relation) ([]Pattern, error) {
	if len(patternIDs) == 0 {
		return nil, nil
	}
	return traverse(ctx, s.graph, patternIDs, relations)
}

// Prune deletes every pattern whose confidence is below minConfidence from
// both indexes and returns how many were removed.
func (s *Store) Prune(ctx context.Context, minConfidence float64) (int, error) {
	ids, err := s.graph.Prune(ctx, minConfidence)
	if err != nil {
		return 0, fmt.Errorf("pruning graph: %w", err)
	}
	if err := s.vector.Delete(ctx, ids); err != nil {
		return 0, fmt.Errorf("pruning vector index: %w", err)
	}
	PrunedTotal.Add(float64(len(ids)))
	s.logger.Info("pruned patterns", zap.Int("count", len(ids)), zap.Float64("min_confidence", minConfidence))
	return len(ids), nil
}

// Count returns the number of stored patterns.
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.graph.Count(ctx)
}

// Close drains queued writes, stops the workers and closes both indexes.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.workers.Wait()
	return errors.Join(s.vector.Close(), s.graph.Close())
}

func containsRelation(rels []Relation, r Relation) bool {
	for _, x := range rels {
		if x == r {
			return true
		}
	}
	return false
}
