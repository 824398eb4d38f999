// Package scheduler executes a unit DAG wave by wave.
//
// Waves run strictly in order. Inside a wave, units run on a bounded
// errgroup. A unit whose dependency failed or was skipped is never
// executed: it is recorded as skipped with the blocking unit. Cancelling
// the run context stops dispatch at once; units already running keep
// their contexts for CancelGrace and are then cancelled.
package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/cogflow/internal/events"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/retry"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/scheduler")

// Skip reasons.
const (
	ReasonUpstreamFailure = "skipped due to upstream failure"
	ReasonCancelled       = "cancelled"
)

// Status is a unit's terminal status.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Executor runs one unit to a terminal outcome.
type Executor interface {
	Execute(ctx context.Context, unit *plan.Unit) retry.Outcome
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, unit *plan.Unit) retry.Outcome

func (f ExecutorFunc) Execute(ctx context.Context, unit *plan.Unit) retry.Outcome {
	return f(ctx, unit)
}

// Result is one unit's terminal record.
type Result struct {
	UnitID string `json:"unit_id"`
	TaskID string `json:"task_id"`
	Wave   int    `json:"wave"`
	Status Status `json:"status"`

	// Reason is the failing layer for failed units and the skip reason for
	// skipped ones.
	Reason string `json:"reason,omitempty"`

	// BlockedBy is the failed or skipped dependency that caused a skip.
	BlockedBy string `json:"blocked_by,omitempty"`

	// Outcome is nil for skipped units.
	Outcome *retry.Outcome `json:"outcome,omitempty"`
}

// Options tunes a Scheduler.
type Options struct {
	Concurrency int           // default 4
	CancelGrace time.Duration // zero cancels in-flight units immediately
	Events      events.Sink
	Logger      *logging.Logger
}

// Scheduler runs DAGs.
type Scheduler struct {
	exec   Executor
	opts   Options
	logger *logging.Logger
}

// New creates a Scheduler.
func New(exec Executor, opts Options) *Scheduler {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	return &Scheduler{exec: exec, opts: opts, logger: opts.Logger.Named("scheduler")}
}

// run is the state of one Run call.
type run struct {
	s       *Scheduler
	dag     *plan.DAG
	results map[string]*Result

	mu     sync.Mutex
	counts events.Counts
}

// Run executes dag and returns one result per unit, sorted by wave then
// unit id. The error is non-nil only when ctx was cancelled; the results
// are complete either way.
func (s *Scheduler) Run(ctx context.Context, dag *plan.DAG) ([]Result, error) {
	ctx, span := tracer.Start(ctx, "Scheduler.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("units", dag.Len()),
		attribute.Int("waves", len(dag.Waves())),
	)

	r := &run{
		s:       s,
		dag:     dag,
		results: make(map[string]*Result, dag.Len()),
		counts:  events.Counts{Total: dag.Len()},
	}

	// In-flight work runs on execCtx, which outlives ctx by CancelGrace.
	execCtx, cancelExec := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelExec()
	stopGrace := context.AfterFunc(ctx, func() {
		if s.opts.CancelGrace <= 0 {
			cancelExec()
			return
		}
		t := time.AfterFunc(s.opts.CancelGrace, cancelExec)
		context.AfterFunc(execCtx, func() { t.Stop() })
	})
	defer stopGrace()

	r.publish(ctx, events.Event{Kind: events.RunStarted}, true)
	for _, w := range dag.Waves() {
		r.runWave(ctx, execCtx, w)
	}
	r.publish(ctx, events.Event{Kind: events.RunCompleted}, true)

	out := make([]Result, 0, len(r.results))
	for _, u := range dag.Units() {
		out = append(out, *r.results[u.ID])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Wave != out[j].Wave {
			return out[i].Wave < out[j].Wave
		}
		return out[i].UnitID < out[j].UnitID
	})

	c := r.snapshot()
	span.SetAttributes(
		attribute.Int("units.completed", c.Completed),
		attribute.Int("units.failed", c.Failed),
		attribute.Int("units.skipped", c.Skipped),
	)
	return out, ctx.Err()
}

func (r *run) runWave(ctx, execCtx context.Context, w plan.Wave) {
	start := time.Now()
	wctx, span := tracer.Start(ctx, "Scheduler.Wave")
	defer span.End()
	span.SetAttributes(attribute.Int("wave", w.Number), attribute.Int("units", len(w.UnitIDs)))

	r.publish(wctx, events.Event{Kind: events.WaveStarted, Wave: w.Number}, true)

	// Skips are decided up front: every dependency sits in an earlier,
	// finished wave.
	var runnable []*plan.Unit
	for _, id := range w.UnitIDs {
		u := r.dag.Unit(id)
		if ctx.Err() != nil {
			r.skip(wctx, u, ReasonCancelled, "")
			continue
		}
		if blocker := r.blocker(u); blocker != "" {
			r.skip(wctx, u, ReasonUpstreamFailure, blocker)
			continue
		}
		runnable = append(runnable, u)
	}

	var g errgroup.Group
	g.SetLimit(r.s.opts.Concurrency)
	for _, u := range runnable {
		if ctx.Err() != nil {
			r.skip(wctx, u, ReasonCancelled, "")
			continue
		}
		g.Go(func() error {
			// dispatch may have waited on the limit
			if ctx.Err() != nil {
				r.skip(wctx, u, ReasonCancelled, "")
				return nil
			}
			r.execute(wctx, execCtx, u)
			return nil
		})
	}
	_ = g.Wait()

	waveDuration.Observe(time.Since(start).Seconds())
	r.publish(wctx, events.Event{Kind: events.WaveCompleted, Wave: w.Number}, true)
}

// blocker returns the first dependency, by id, that did not complete.
func (r *run) blocker(u *plan.Unit) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range u.DependsOn {
		if res, ok := r.results[dep]; !ok || res.Status != StatusCompleted {
			return dep
		}
	}
	return ""
}

func (r *run) execute(wctx, execCtx context.Context, u *plan.Unit) {
	// Span and log correlation come from the wave; cancellation from execCtx.
	uctx := logging.WithUnit(oteltrace.ContextWithSpan(execCtx, oteltrace.SpanFromContext(wctx)), u.ID, u.Wave)
	uctx, span := tracer.Start(uctx, "Scheduler.Unit")
	defer span.End()
	span.SetAttributes(attribute.String("unit.id", u.ID), attribute.Int("wave", u.Wave))

	inflight.Inc()
	r.publish(uctx, events.Event{Kind: events.UnitStarted, UnitID: u.ID, Wave: u.Wave}, false)
	out := r.s.exec.Execute(uctx, u)
	inflight.Dec()

	res := &Result{UnitID: u.ID, TaskID: u.TaskID, Wave: u.Wave, Outcome: &out}
	kind := events.UnitCompleted
	if out.State == retry.StateCompleted {
		res.Status = StatusCompleted
	} else {
		res.Status = StatusFailed
		res.Reason = out.FailingLayer
		kind = events.UnitFailed
	}
	span.SetAttributes(attribute.String("status", string(res.Status)))
	r.record(res)

	if res.Status == StatusFailed {
		r.s.logger.Warn(uctx, "unit failed",
			zap.String("unit_id", u.ID),
			zap.String("failing_layer", res.Reason),
			zap.Int("attempts", len(out.Attempts)),
			zap.Stringer("tier", out.Tier))
	}
	r.publish(uctx, events.Event{
		Kind:    kind,
		UnitID:  u.ID,
		Wave:    u.Wave,
		Attempt: len(out.Attempts),
		Tier:    out.Tier.String(),
		Reason:  res.Reason,
	}, true)
}

func (r *run) skip(ctx context.Context, u *plan.Unit, reason, blocker string) {
	r.record(&Result{UnitID: u.ID, TaskID: u.TaskID, Wave: u.Wave, Status: StatusSkipped, Reason: reason, BlockedBy: blocker})
	r.s.logger.Debug(ctx, "unit skipped",
		zap.String("unit_id", u.ID),
		zap.String("reason", reason),
		zap.String("blocked_by", blocker))
	r.publish(ctx, events.Event{Kind: events.UnitSkipped, UnitID: u.ID, Wave: u.Wave, Reason: reason}, true)
}

func (r *run) record(res *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.UnitID] = res
	switch res.Status {
	case StatusCompleted:
		r.counts.Completed++
	case StatusFailed:
		r.counts.Failed++
	case StatusSkipped:
		r.counts.Skipped++
	}
	unitsTotal.WithLabelValues(string(res.Status)).Inc()
}

func (r *run) snapshot() events.Counts {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts
}

// publish sends ev, stamping run id and time. Sink errors are logged only.
func (r *run) publish(ctx context.Context, ev events.Event, withCounts bool) {
	ev.RunID = logging.RunIDFromContext(ctx)
	ev.Time = time.Now()
	if withCounts {
		c := r.snapshot()
		ev.Counts = &c
	}
	// a cancelled run still reports its progress
	if err := r.s.opts.Events.Publish(context.WithoutCancel(ctx), ev); err != nil {
		r.s.logger.Debug(ctx, "event publish failed", zap.String("event", string(ev.Kind)), zap.Error(err))
	}
}
