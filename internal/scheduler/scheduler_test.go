package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fyrsmithlabs/cogflow/internal/events"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/retry"
	"github.com/fyrsmithlabs/cogflow/internal/validator"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func buildDAG(t *testing.T, ids []string, edges [][2]string) *plan.DAG {
	t.Helper()
	units := make([]*plan.Unit, 0, len(ids))
	for _, id := range ids {
		units = append(units, &plan.Unit{ID: id, TaskID: id, Name: id, Part: 1, Parts: 1})
	}
	es := make([]plan.Edge, 0, len(edges))
	for _, e := range edges {
		es = append(es, plan.Edge{From: e[0], To: e[1], Kind: plan.EdgeDeclared})
	}
	dag, err := plan.NewDAG(units, es)
	require.NoError(t, err)
	return dag
}

func outcome(id string, ok bool) retry.Outcome {
	out := retry.Outcome{UnitID: id, State: retry.StateCompleted, Attempts: []retry.Attempt{{Number: 1}}}
	if !ok {
		out.State = retry.StateFailed
		out.FailingLayer = validator.LayerContract
	}
	return out
}

// recorder is an executor that fails the listed units and records calls.
type recorder struct {
	mu    sync.Mutex
	fail  map[string]bool
	calls []string
}

func (r *recorder) Execute(_ context.Context, u *plan.Unit) retry.Outcome {
	r.mu.Lock()
	r.calls = append(r.calls, u.ID)
	r.mu.Unlock()
	return outcome(u.ID, !r.fail[u.ID])
}

func byID(results []Result) map[string]Result {
	m := make(map[string]Result, len(results))
	for _, r := range results {
		m[r.UnitID] = r
	}
	return m
}

func TestRun_SkipPropagation(t *testing.T) {
	// a -> b -> c, a -> e, d independent
	dag := buildDAG(t, []string{"a", "b", "c", "d", "e"}, [][2]string{{"a", "b"}, {"b", "c"}, {"a", "e"}})
	exec := &recorder{fail: map[string]bool{"a": true}}

	results, err := New(exec, Options{Concurrency: 2}).Run(context.Background(), dag)
	require.NoError(t, err)
	require.Len(t, results, 5)

	got := byID(results)
	assert.Equal(t, StatusFailed, got["a"].Status)
	assert.Equal(t, validator.LayerContract, got["a"].Reason)
	assert.Equal(t, StatusCompleted, got["d"].Status)

	for id, blocker := range map[string]string{"b": "a", "c": "b", "e": "a"} {
		assert.Equal(t, StatusSkipped, got[id].Status, id)
		assert.Equal(t, ReasonUpstreamFailure, got[id].Reason, id)
		assert.Equal(t, blocker, got[id].BlockedBy, id)
		assert.Nil(t, got[id].Outcome, id)
	}
	assert.ElementsMatch(t, []string{"a", "d"}, exec.calls)
}

func TestRun_ResultsSortedByWaveThenID(t *testing.T) {
	dag := buildDAG(t, []string{"z", "y", "m", "b"}, [][2]string{{"z", "b"}, {"y", "b"}})
	results, err := New(&recorder{}, Options{}).Run(context.Background(), dag)
	require.NoError(t, err)

	var order []string
	for _, r := range results {
		order = append(order, r.UnitID)
	}
	assert.Equal(t, []string{"m", "y", "z", "b"}, order)
	assert.Equal(t, 2, results[3].Wave)
}

func TestRun_ConcurrencyBoundAndWaveOrder(t *testing.T) {
	ids := []string{"w1a", "w1b", "w1c", "w1d", "w1e", "w2"}
	edges := [][2]string{{"w1a", "w2"}, {"w1b", "w2"}, {"w1c", "w2"}, {"w1d", "w2"}, {"w1e", "w2"}}
	dag := buildDAG(t, ids, edges)

	var running, peak atomic.Int32
	var mu sync.Mutex
	var finished []string
	var w2SawFinished int

	exec := ExecutorFunc(func(_ context.Context, u *plan.Unit) retry.Outcome {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)

		mu.Lock()
		defer mu.Unlock()
		if u.ID == "w2" {
			w2SawFinished = len(finished)
		}
		finished = append(finished, u.ID)
		return outcome(u.ID, true)
	})

	_, err := New(exec, Options{Concurrency: 2}).Run(context.Background(), dag)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 5, w2SawFinished, "wave 2 started before wave 1 finished")
}

func TestRun_CancellationStopsDispatch(t *testing.T) {
	dag := buildDAG(t, []string{"a", "b", "later"}, [][2]string{{"a", "later"}, {"b", "later"}})
	ctx, cancel := context.WithCancel(context.Background())

	started := make(chan struct{}, 2)
	var sawCancel atomic.Int32
	exec := ExecutorFunc(func(uctx context.Context, u *plan.Unit) retry.Outcome {
		started <- struct{}{}
		<-uctx.Done()
		sawCancel.Add(1)
		out := outcome(u.ID, false)
		out.FailingLayer = retry.ReasonCancelled
		return out
	})

	go func() {
		<-started
		<-started
		cancel()
	}()

	start := time.Now()
	results, err := New(exec, Options{Concurrency: 2, CancelGrace: 30 * time.Millisecond}).Run(ctx, dag)
	assert.ErrorIs(t, err, context.Canceled)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, int32(2), sawCancel.Load())

	got := byID(results)
	assert.Equal(t, StatusFailed, got["a"].Status)
	assert.Equal(t, retry.ReasonCancelled, got["a"].Reason)
	assert.Equal(t, StatusSkipped, got["later"].Status)
	assert.Equal(t, ReasonCancelled, got["later"].Reason)
}

func TestRun_GraceLetsInflightUnitsFinish(t *testing.T) {
	dag := buildDAG(t, []string{"a"}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	exec := ExecutorFunc(func(uctx context.Context, u *plan.Unit) retry.Outcome {
		cancel()
		select {
		case <-time.After(10 * time.Millisecond):
			return outcome(u.ID, true)
		case <-uctx.Done():
			return outcome(u.ID, false)
		}
	})

	results, err := New(exec, Options{CancelGrace: time.Second}).Run(ctx, dag)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCompleted, results[0].Status)
}

func TestRun_Events(t *testing.T) {
	dag := buildDAG(t, []string{"a", "b"}, [][2]string{{"a", "b"}})
	sink := events.NewChannelSink(32)

	ctx := logging.WithRunID(context.Background(), "run-42")
	_, err := New(&recorder{fail: map[string]bool{"a": true}}, Options{Events: sink}).Run(ctx, dag)
	require.NoError(t, err)
	require.NoError(t, sink.Close())

	var kinds []events.Kind
	var last events.Event
	for ev := range sink.Events() {
		assert.Equal(t, "run-42", ev.RunID)
		kinds = append(kinds, ev.Kind)
		last = ev
	}
	assert.Equal(t, []events.Kind{
		events.RunStarted,
		events.WaveStarted, events.UnitStarted, events.UnitFailed, events.WaveCompleted,
		events.WaveStarted, events.UnitSkipped, events.WaveCompleted,
		events.RunCompleted,
	}, kinds)
	require.NotNil(t, last.Counts)
	assert.Equal(t, events.Counts{Total: 2, Failed: 1, Skipped: 1}, *last.Counts)
}
