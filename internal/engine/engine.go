// Package engine runs a plan end to end.
//
// Run expands the plan into a unit DAG, executes it wave by wave through
// the retry orchestrator, records every terminal unit outcome in the
// pattern store and folds the results into a Report. Planning errors abort
// the run before any unit executes.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/aggregate"
	"github.com/fyrsmithlabs/cogflow/internal/backend"
	"github.com/fyrsmithlabs/cogflow/internal/embeddings"
	"github.com/fyrsmithlabs/cogflow/internal/events"
	"github.com/fyrsmithlabs/cogflow/internal/feedback"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/patternstore"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/redact"
	"github.com/fyrsmithlabs/cogflow/internal/retry"
	"github.com/fyrsmithlabs/cogflow/internal/router"
	"github.com/fyrsmithlabs/cogflow/internal/scheduler"
	"github.com/fyrsmithlabs/cogflow/internal/validator"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/engine")

// ErrNoPatternStore is returned by pattern operations on an engine built
// without a store.
var ErrNoPatternStore = errors.New("engine has no pattern store")

// Options configures an Engine. Generator is required; Embedder is
// required when Store is set.
type Options struct {
	Planner   *plan.Planner
	Router    retry.Router
	Generator backend.Generator
	Validator retry.Validator

	// Store receives one pattern per terminal unit outcome and backs
	// retry consultations. Nil disables the feedback loop.
	Store    *patternstore.Store
	Embedder embeddings.Embedder
	// Redactor scrubs credentials from pattern text before it is stored.
	// Nil stores text as generated.
	Redactor *redact.Redactor

	Events events.Sink
	Logger *logging.Logger

	Retry       retry.Config
	Feedback    feedback.Config
	Concurrency int
	CancelGrace time.Duration

	// FlushTimeout bounds the wait for pending pattern writes at the end
	// of a run. Default 30s.
	FlushTimeout time.Duration
}

// Engine runs plans. It is safe for sequential reuse; concurrent Run calls
// share the pattern store but nothing else.
type Engine struct {
	opts   Options
	orch   *retry.Orchestrator
	sched  *scheduler.Scheduler
	logger *logging.Logger

	newRunID func() string

	// closers are resources built by Open and released by Close.
	closers []io.Closer
}

// New assembles an engine from explicit collaborators.
func New(opts Options) (*Engine, error) {
	if opts.Generator == nil {
		return nil, fmt.Errorf("%w: generator", ErrMissingDependency)
	}
	if opts.Store != nil && opts.Embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required with a pattern store", ErrMissingDependency)
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Planner == nil {
		opts.Planner = plan.NewPlanner(plan.Config{}, opts.Logger.Underlying())
	}
	if opts.Router == nil {
		opts.Router = router.New(router.DefaultThresholds())
	}
	if opts.Validator == nil {
		opts.Validator = validator.New(validator.Options{Logger: opts.Logger})
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 30 * time.Second
	}

	e := &Engine{
		opts:     opts,
		logger:   opts.Logger.Named("engine"),
		newRunID: uuid.NewString,
	}

	ro := retry.Options{Events: opts.Events, Logger: opts.Logger}
	if opts.Store != nil {
		// signatures are embedded by the store's writers, off the unit's path
		opts.Store.SetEmbedder(opts.Embedder)
		ro.Consultant = feedback.New(opts.Store, opts.Embedder, opts.Feedback, opts.Logger)
	}
	e.orch = retry.New(opts.Router, opts.Generator, opts.Validator, opts.Retry, ro)
	e.sched = scheduler.New(scheduler.ExecutorFunc(e.executeUnit), scheduler.Options{
		Concurrency: opts.Concurrency,
		CancelGrace: opts.CancelGrace,
		Events:      opts.Events,
		Logger:      opts.Logger,
	})
	return e, nil
}

// Plan expands p without executing it. Errors are *PlanError.
func (e *Engine) Plan(ctx context.Context, p plan.Plan) (*plan.DAG, error) {
	dag, err := e.opts.Planner.Expand(ctx, p)
	if err != nil {
		return nil, NewPlanError(err)
	}
	return dag, nil
}

// Run executes p and returns its report. A planning failure yields an
// aborted report and a *PlanError. When ctx is cancelled the report is
// still complete and the error is ctx.Err().
func (e *Engine) Run(ctx context.Context, p plan.Plan) (*Report, error) {
	runID := e.newRunID()
	ctx = logging.WithRunID(ctx, runID)
	ctx, span := tracer.Start(ctx, "Engine.Run")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("plan", p.Name))

	start := time.Now()
	rep := &Report{RunID: runID, Plan: p.Name, StartedAt: start}

	dag, err := e.Plan(ctx, p)
	if err != nil {
		var pe *PlanError
		errors.As(err, &pe)
		rep.Status = aggregate.StatusAborted
		rep.Error = pe
		rep.Duration = time.Since(start)

		span.RecordError(err)
		span.SetStatus(codes.Error, pe.Code)
		e.logger.Error(ctx, "run aborted", zap.String("code", pe.Code), zap.Error(pe.Err))
		runsTotal.WithLabelValues(string(rep.Status)).Inc()
		return rep, err
	}
	rep.Waves = dag.Waves()

	e.logger.Info(ctx, "run started",
		zap.String("plan", p.Name),
		zap.Int("units", dag.Len()),
		zap.Int("waves", len(rep.Waves)))

	results, runErr := e.sched.Run(ctx, dag)
	e.flush(ctx)

	rep.fill(results)
	rep.Cancelled = runErr != nil
	rep.Duration = time.Since(start)

	span.SetAttributes(
		attribute.String("status", string(rep.Status)),
		attribute.Int("units.completed", rep.Deliverable.Stats.Completed),
		attribute.Int("units.failed", rep.Deliverable.Stats.Failed),
		attribute.Int("units.skipped", rep.Deliverable.Stats.Skipped),
	)
	if runErr != nil {
		span.SetStatus(codes.Error, "cancelled")
	} else {
		span.SetStatus(codes.Ok, "")
	}
	runsTotal.WithLabelValues(string(rep.Status)).Inc()

	e.logger.Info(ctx, "run finished",
		zap.String("status", string(rep.Status)),
		zap.Int("completed", rep.Deliverable.Stats.Completed),
		zap.Int("failed", rep.Deliverable.Stats.Failed),
		zap.Int("skipped", rep.Deliverable.Stats.Skipped),
		zap.Int("attempts", rep.Deliverable.Stats.Attempts),
		zap.Duration("duration", rep.Duration))
	return rep, runErr
}

// executeUnit runs one unit and records its terminal outcome.
func (e *Engine) executeUnit(ctx context.Context, u *plan.Unit) retry.Outcome {
	out := e.orch.Execute(ctx, u)
	e.recordPattern(ctx, u, out)
	return out
}

func (e *Engine) flush(ctx context.Context) {
	if e.opts.Store == nil {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.FlushTimeout)
	defer cancel()
	if err := e.opts.Store.Flush(fctx); err != nil {
		e.logger.Warn(ctx, "pattern flush incomplete", zap.Error(err))
	}
}

// Prune deletes stored patterns with confidence below minConfidence.
func (e *Engine) Prune(ctx context.Context, minConfidence float64) (int, error) {
	if e.opts.Store == nil {
		return 0, ErrNoPatternStore
	}
	return e.opts.Store.Prune(ctx, minConfidence)
}

// PatternCount returns the number of stored patterns.
func (e *Engine) PatternCount(ctx context.Context) (int, error) {
	if e.opts.Store == nil {
		return 0, ErrNoPatternStore
	}
	return e.opts.Store.Count(ctx)
}

// Close releases resources created by Open. Engines built with New leave
// their collaborators to the caller.
func (e *Engine) Close() error {
	var errs []error
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
