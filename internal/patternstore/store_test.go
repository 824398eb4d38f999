package patternstore

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func vec(vals ...float32) []float32 { return vals }

func flush(t *testing.T, s *Store) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Flush(ctx))
}

func TestStore_SelfSimilarityRoundTrip(t *testing.T) {
	s := NewMemory(Options{})
	defer s.Close()
	ctx := context.Background()

	target := vec(0.6, 0.8, 0, 0)
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "a", Signature: "sig-a", Embedding: target})
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "b", Signature: "sig-b", Embedding: vec(0, 0.6, 0.8, 0)})
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "c", Signature: "sig-c", Embedding: vec(0, 0, 0, 1)})
	flush(t, s)

	matches, err := s.SearchSimilar(ctx, target, KindSuccess, 3)
	require.NoError(t, err)
	require.Len(t, matches, 3)
	assert.Equal(t, "a", matches[0].Pattern.UnitID)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-6)
	for _, m := range matches[1:] {
		assert.GreaterOrEqual(t, matches[0].Score, m.Score)
	}
}

func TestStore_KindFilterAndDefaults(t *testing.T) {
	s := NewMemory(Options{})
	defer s.Close()
	ctx := context.Background()

	s.Store(ctx, Pattern{Kind: KindError, UnitID: "u1", Signature: "s", Embedding: vec(1, 0), Diagnostic: "syntax error"})
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "u2", Signature: "s", Embedding: vec(1, 0)})
	flush(t, s)

	errs, err := s.SearchSimilar(ctx, vec(1, 0), KindError, 5)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	p := errs[0].Pattern
	assert.Equal(t, KindError, p.Kind)
	assert.Equal(t, ErrorConfidence, p.Confidence)
	assert.NotEmpty(t, p.ID)
	assert.False(t, p.CreatedAt.IsZero())
	assert.Contains(t, p.Relations, Link{Relation: RelProducedBy, Target: "u1"})

	all, err := s.SearchSimilar(ctx, vec(1, 0), "", 5)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStore_SolvedByLinksAcrossSignature(t *testing.T) {
	s := NewMemory(Options{})
	defer s.Close()
	ctx := context.Background()

	s.Store(ctx, Pattern{ID: "err-1", Kind: KindError, UnitID: "parse", Signature: "parse(config)", Embedding: vec(1, 0)})
	flush(t, s)
	s.Store(ctx, Pattern{ID: "ok-1", Kind: KindSuccess, UnitID: "parse", Signature: "parse(config)", Embedding: vec(1, 0)})
	flush(t, s)

	solved, err := s.Expand(ctx, []string{"err-1"}, []Relation{RelSolvedBy})
	require.NoError(t, err)
	require.Len(t, solved, 1)
	assert.Equal(t, "ok-1", solved[0].ID)
	assert.Nil(t, solved[0].Embedding)
}

func TestStore_TraverseRelated(t *testing.T) {
	s := NewMemory(Options{})
	defer s.Close()
	ctx := context.Background()

	s.Store(ctx, Pattern{ID: "dep-ok", Kind: KindSuccess, UnitID: "schema", Signature: "schema", Embedding: vec(0, 1)})
	s.Store(ctx, Pattern{
		ID: "api-err", Kind: KindError, UnitID: "api", Signature: "api", Embedding: vec(1, 0),
		Relations: []Link{{Relation: RelDependsOn, Target: "schema"}},
	})
	s.Store(ctx, Pattern{ID: "other", Kind: KindSuccess, UnitID: "unrelated", Signature: "x", Embedding: vec(1, 1)})
	flush(t, s)

	got, err := s.TraverseRelated(ctx, "api", []Relation{RelDependsOn})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "dep-ok", got[0].ID)

	got, err = s.TraverseRelated(ctx, "api", nil)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	assert.ElementsMatch(t, []string{"api-err", "dep-ok"}, ids)

	got, err = s.TraverseRelated(ctx, "missing", nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_Prune(t *testing.T) {
	vector := NewMemoryVector(0)
	s := New(vector, NewMemoryGraph(), Options{})
	defer s.Close()
	ctx := context.Background()

	s.Store(ctx, Pattern{ID: "low", Kind: KindError, UnitID: "a", Embedding: vec(1, 0), Confidence: 0.2})
	s.Store(ctx, Pattern{ID: "high", Kind: KindSuccess, UnitID: "b", Embedding: vec(0, 1)})
	flush(t, s)

	before := testutil.ToFloat64(PrunedTotal)
	n, err := s.Prune(ctx, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, vector.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(PrunedTotal))

	count, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

type failingVector struct{ *MemoryVector }

func (f *failingVector) Upsert(context.Context, Pattern) error { return assert.AnError }

func TestStore_WriteFailureIsLoggedNotReturned(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := New(&failingVector{NewMemoryVector(0)}, NewMemoryGraph(), Options{Logger: zap.New(core)})
	defer s.Close()

	before := testutil.ToFloat64(WritesTotal.WithLabelValues("success", "failed"))
	s.Store(context.Background(), Pattern{Kind: KindSuccess, UnitID: "u", Embedding: vec(1)})
	flush(t, s)

	assert.Equal(t, 1, logs.FilterMessage("pattern write failed").Len())
	assert.Equal(t, before+1, testutil.ToFloat64(WritesTotal.WithLabelValues("success", "failed")))
}

type failingGraph struct{ *MemoryGraph }

func (f *failingGraph) Put(context.Context, Pattern) error { return assert.AnError }

func TestStore_GraphFailureLeavesNoVectorEntry(t *testing.T) {
	vector := NewMemoryVector(0)
	s := New(vector, &failingGraph{NewMemoryGraph()}, Options{})
	defer s.Close()
	ctx := context.Background()

	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "u", Signature: "s", Embedding: vec(1, 0)})
	flush(t, s)

	assert.Zero(t, vector.Len())
	matches, err := s.SearchSimilar(ctx, vec(1, 0), "", 5)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

// countingEmbedder maps every text to the same vector after an optional delay.
type countingEmbedder struct {
	delay time.Duration
	calls atomic.Int32
	err   error
}

func (c *countingEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	time.Sleep(c.delay)
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = vec(1, 0)
	}
	return out, nil
}

func TestStore_EmbedsSignatureInWorker(t *testing.T) {
	emb := &countingEmbedder{delay: 200 * time.Millisecond}
	s := NewMemory(Options{Embedder: emb})
	defer s.Close()
	ctx := context.Background()

	start := time.Now()
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "a", Signature: "parse(config)"})
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "b", Signature: "x", Embedding: vec(0, 1)})
	assert.Less(t, time.Since(start), emb.delay/2, "Store waited on the embedder")

	flush(t, s)
	assert.EqualValues(t, 1, emb.calls.Load(), "patterns with an embedding are not re-embedded")
	matches, err := s.SearchSimilar(ctx, vec(1, 0), KindSuccess, 1)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "a", matches[0].Pattern.UnitID)
}

func TestStore_EmbeddingFailureIsLogged(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewMemory(Options{Embedder: &countingEmbedder{err: assert.AnError}, Logger: zap.New(core)})
	defer s.Close()

	s.Store(context.Background(), Pattern{Kind: KindError, UnitID: "u", Signature: "s"})
	flush(t, s)

	assert.Equal(t, 1, logs.FilterMessage("pattern write failed").Len())
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStore_SetEmbedder(t *testing.T) {
	s := NewMemory(Options{})
	defer s.Close()
	ctx := context.Background()

	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "early", Signature: "s"})
	s.SetEmbedder(&countingEmbedder{})
	s.Store(ctx, Pattern{Kind: KindSuccess, UnitID: "late", Signature: "s"})
	flush(t, s)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, ownPatterns(t, s, "late"), 1)
}

func ownPatterns(t *testing.T, s *Store, unitID string) []Pattern {
	t.Helper()
	ps, err := s.TraverseRelated(context.Background(), unitID, []Relation{RelProducedBy})
	require.NoError(t, err)
	return ps
}

func TestStore_InvalidPatternRejected(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	s := NewMemory(Options{Logger: zap.New(core)})
	defer s.Close()

	s.Store(context.Background(), Pattern{Kind: "partial", UnitID: "u", Embedding: vec(1)})
	s.Store(context.Background(), Pattern{Kind: KindSuccess, Embedding: vec(1)})
	s.Store(context.Background(), Pattern{Kind: KindSuccess, UnitID: "u"})
	flush(t, s)

	assert.Equal(t, 3, logs.FilterMessage("rejecting pattern").Len())
	n, err := s.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

type blockingVector struct {
	*MemoryVector
	release chan struct{}
}

func (b *blockingVector) Upsert(ctx context.Context, p Pattern) error {
	<-b.release
	return b.MemoryVector.Upsert(ctx, p)
}

func TestStore_QueueFullDropsWithoutBlocking(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	bv := &blockingVector{MemoryVector: NewMemoryVector(0), release: make(chan struct{})}
	s := New(bv, NewMemoryGraph(), Options{QueueSize: 1, Workers: 1, Logger: zap.New(core)})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			s.Store(context.Background(), Pattern{Kind: KindSuccess, UnitID: "u", Embedding: vec(1, 0)})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Store blocked on a full queue")
	}
	close(bv.release)
	require.NoError(t, s.Close())

	assert.GreaterOrEqual(t, logs.FilterMessage("pattern queue full, dropping pattern").Len(), 3)
}

func TestStore_FlushHonorsContext(t *testing.T) {
	bv := &blockingVector{MemoryVector: NewMemoryVector(0), release: make(chan struct{})}
	s := New(bv, NewMemoryGraph(), Options{Workers: 1})
	s.Store(context.Background(), Pattern{Kind: KindSuccess, UnitID: "u", Embedding: vec(1)})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Flush(ctx), context.DeadlineExceeded)

	close(bv.release)
	require.NoError(t, s.Close())
}

func TestStore_CloseDrainsAndRejectsLateWrites(t *testing.T) {
	vector := NewMemoryVector(0)
	s := New(vector, NewMemoryGraph(), Options{})
	for i := 0; i < 10; i++ {
		s.Store(context.Background(), Pattern{Kind: KindSuccess, UnitID: "u", Embedding: vec(1, 0)})
	}
	require.NoError(t, s.Close())
	assert.Equal(t, 10, vector.Len())

	s.Store(context.Background(), Pattern{Kind: KindSuccess, UnitID: "late", Embedding: vec(1, 0)})
	assert.Equal(t, 10, vector.Len())
	assert.ErrorIs(t, s.Close(), ErrClosed)
}

func TestMemoryVector_DimensionMismatch(t *testing.T) {
	m := NewMemoryVector(3)
	err := m.Upsert(context.Background(), Pattern{ID: "x", Embedding: vec(1, 0)})
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Search(context.Background(), vec(1, 0), "", 1)
	assert.ErrorIs(t, err, ErrDimensionMismatch)

	_, err = m.Search(context.Background(), vec(1, 0, 0), "", 0)
	assert.Error(t, err)
}
