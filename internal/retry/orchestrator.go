// Package retry runs one unit through bounded, escalating attempts.
//
// Each attempt generates an artifact on the routed tier and validates it.
// A failed attempt moves the unit to retrying: the orchestrator waits out
// an exponential backoff, asks the feedback consultant for an augmentation
// built from past outcomes, lowers the sampling temperature, and escalates
// the tier one level for every EscalateAfter failures. The first passing
// attempt completes the unit; exhausting MaxAttempts fails it.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cogflow/internal/backend"
	"github.com/fyrsmithlabs/cogflow/internal/events"
	"github.com/fyrsmithlabs/cogflow/internal/feedback"
	"github.com/fyrsmithlabs/cogflow/internal/logging"
	"github.com/fyrsmithlabs/cogflow/internal/plan"
	"github.com/fyrsmithlabs/cogflow/internal/router"
	"github.com/fyrsmithlabs/cogflow/internal/validator"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/cogflow/internal/retry")

// Failure reasons used when no validation layer is at fault.
const (
	ReasonGeneration = "generation"
	ReasonTimeout    = "timeout"
	ReasonCancelled  = "cancelled"
)

// Router picks the initial tier for a unit.
type Router interface {
	Route(u *plan.Unit) router.Tier
}

// Validator checks an artifact against the unit's contract.
type Validator interface {
	Validate(ctx context.Context, art backend.Artifact, contract []string) validator.Report
}

// Consultant builds retry augmentations.
type Consultant interface {
	Consult(ctx context.Context, unit *plan.Unit, attempt int, lastDiagnostic string) *feedback.Augmentation
}

// Config bounds the attempt loop.
type Config struct {
	MaxAttempts    int           // default 3
	EscalateAfter  int           // default 2
	AttemptTimeout time.Duration // zero disables the per-attempt timeout
	Backoff        Backoff
	Temperature    Temperature
}

func (c *Config) applyDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.EscalateAfter <= 0 {
		c.EscalateAfter = 2
	}
	if c.Backoff.Initial <= 0 {
		c.Backoff.Initial = 500 * time.Millisecond
	}
	if c.Backoff.Max < c.Backoff.Initial {
		c.Backoff.Max = 20 * c.Backoff.Initial
	}
	if c.Backoff.Multiplier < 1 {
		c.Backoff.Multiplier = 2
	}
	if c.Temperature.Start == 0 && c.Temperature.Decay == 0 {
		c.Temperature = Temperature{Start: 0.7, Decay: 0.5, Floor: 0.1}
	}
}

// Attempt is the record of one generate-and-validate cycle.
type Attempt struct {
	Number       int               `json:"number"`
	Tier         router.Tier       `json:"tier"`
	Temperature  float64           `json:"temperature"`
	Augmented    bool              `json:"augmented"`
	Artifact     *backend.Artifact `json:"artifact,omitempty"`
	Report       *validator.Report `json:"report,omitempty"`
	FailingLayer string            `json:"failing_layer,omitempty"`
	Diagnostic   string            `json:"diagnostic,omitempty"`
	Duration     time.Duration     `json:"duration"`
}

// Passed reports whether the attempt produced a valid artifact.
func (a Attempt) Passed() bool {
	return a.FailingLayer == "" && a.Report != nil && a.Report.Passed
}

// Outcome is the terminal result for one unit.
type Outcome struct {
	UnitID       string            `json:"unit_id"`
	State        State             `json:"state"`
	Artifact     *backend.Artifact `json:"artifact,omitempty"`
	Tier         router.Tier       `json:"tier"`
	FailingLayer string            `json:"failing_layer,omitempty"`
	Diagnostic   string            `json:"diagnostic,omitempty"`
	Attempts     []Attempt         `json:"attempts"`
	Transitions  []Transition      `json:"transitions"`
	Duration     time.Duration     `json:"duration"`
}

// Orchestrator executes units.
type Orchestrator struct {
	router     Router
	generator  backend.Generator
	validator  Validator
	consultant Consultant
	sink       events.Sink
	cfg        Config
	logger     *logging.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Options holds the optional collaborators.
type Options struct {
	// Consultant may be nil, in which case retries run unaugmented.
	Consultant Consultant

	// Events receives unit.retrying notifications. Nil discards them.
	Events events.Sink

	Logger *logging.Logger
}

// New creates an Orchestrator.
func New(r Router, gen backend.Generator, v Validator, cfg Config, opts Options) *Orchestrator {
	cfg.applyDefaults()
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}
	if opts.Events == nil {
		opts.Events = events.Nop{}
	}
	return &Orchestrator{
		router:     r,
		generator:  gen,
		validator:  v,
		consultant: opts.Consultant,
		sink:       opts.Events,
		cfg:        cfg,
		logger:     opts.Logger.Named("retry"),
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Execute runs unit to a terminal state. It never returns an error: every
// failure, including cancellation, is described by the Outcome.
func (o *Orchestrator) Execute(ctx context.Context, unit *plan.Unit) Outcome {
	start := o.now()
	m := newMachine(o.now)
	baseTier := o.router.Route(unit)
	out := Outcome{UnitID: unit.ID, Tier: baseTier}
	bo := o.cfg.Backoff.newBackOff()
	prompt := backend.BuildPrompt(unit)

	var lastDiag string
	failures := 0
	for attempt := 1; attempt <= o.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := bo.NextBackOff()
			if delay == backoff.Stop {
				delay = o.cfg.Backoff.Max
			}
			if err := o.sleep(ctx, delay); err != nil {
				m.to(StateFailed, attempt-1, ReasonCancelled)
				out.FailingLayer = ReasonCancelled
				out.Diagnostic = err.Error()
				break
			}
		}
		if err := ctx.Err(); err != nil {
			m.to(StateFailed, attempt-1, ReasonCancelled)
			out.FailingLayer = ReasonCancelled
			out.Diagnostic = err.Error()
			break
		}

		m.to(StateRunning, attempt, "")
		tier := tierFor(baseTier, failures, o.cfg.EscalateAfter)

		var aug *feedback.Augmentation
		if attempt > 1 && o.consultant != nil {
			aug = o.consultant.Consult(ctx, unit, attempt, lastDiag)
		}

		att := o.runAttempt(ctx, unit, prompt, attempt, tier, aug)
		out.Attempts = append(out.Attempts, att)
		out.Tier = tier
		attemptsTotal.WithLabelValues(tier.String(), resultLabel(att.Passed())).Inc()

		if att.Passed() {
			m.to(StateCompleted, attempt, "")
			out.Artifact = att.Artifact
			out.FailingLayer = ""
			out.Diagnostic = ""
			break
		}

		failures++
		lastDiag = att.Diagnostic
		out.FailingLayer = att.FailingLayer
		out.Diagnostic = att.Diagnostic

		if attempt == o.cfg.MaxAttempts || ctx.Err() != nil {
			m.to(StateFailed, attempt, att.FailingLayer)
			break
		}
		m.to(StateRetrying, attempt, att.FailingLayer)

		next := tierFor(baseTier, failures, o.cfg.EscalateAfter)
		if next != tier {
			escalationsTotal.WithLabelValues(tier.String(), next.String()).Inc()
		}
		o.logger.Info(ctx, "retrying unit",
			zap.String("unit_id", unit.ID),
			zap.Int("attempt", attempt),
			zap.String("failing_layer", att.FailingLayer),
			zap.Stringer("next_tier", next))
		o.publish(ctx, events.Event{
			Kind:    events.UnitRetrying,
			UnitID:  unit.ID,
			Wave:    unit.Wave,
			Attempt: attempt + 1,
			Tier:    next.String(),
			Reason:  att.FailingLayer,
		})
	}

	out.State = m.state
	out.Transitions = m.history
	out.Duration = o.now().Sub(start)
	attemptsPerUnit.WithLabelValues(string(out.State)).Observe(float64(len(out.Attempts)))
	return out
}

func (o *Orchestrator) runAttempt(ctx context.Context, unit *plan.Unit, prompt string, attempt int, tier router.Tier, aug *feedback.Augmentation) Attempt {
	start := o.now()
	temp := o.cfg.Temperature.At(attempt)
	att := Attempt{Number: attempt, Tier: tier, Temperature: temp, Augmented: aug != nil && !aug.Empty()}

	actx := logging.WithAttempt(ctx, attempt)
	actx, span := tracer.Start(actx, "Orchestrator.Attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("unit.id", unit.ID),
		attribute.Int("attempt", attempt),
		attribute.String("tier", tier.String()),
		attribute.Float64("temperature", temp),
		attribute.Bool("augmented", att.Augmented),
	)

	if o.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, o.cfg.AttemptTimeout)
		defer cancel()
	}

	art, err := o.generator.Generate(actx, backend.Request{
		UnitID:       unit.ID,
		Prompt:       prompt,
		Contract:     unit.Contract,
		Augmentation: aug.Render(),
		Temperature:  temp,
		Tier:         tier,
	})
	if err != nil {
		att.FailingLayer, att.Diagnostic = classify(actx, ctx, err, o.cfg.AttemptTimeout)
		span.SetStatus(codes.Error, att.FailingLayer)
		o.logger.Warn(actx, "generation failed",
			zap.String("unit_id", unit.ID),
			zap.Stringer("tier", tier),
			zap.Error(err))
		att.Duration = o.now().Sub(start)
		return att
	}
	art.UnitID = unit.ID
	att.Artifact = &art

	report := o.validator.Validate(actx, art, unit.Contract)
	att.Report = &report
	if actx.Err() != nil {
		att.FailingLayer, att.Diagnostic = classify(actx, ctx, actx.Err(), o.cfg.AttemptTimeout)
	} else if !report.Passed {
		att.FailingLayer = report.FailingLayer()
		att.Diagnostic = report.Diagnostic()
	}
	if att.FailingLayer != "" {
		span.SetStatus(codes.Error, att.FailingLayer)
		o.logger.Debug(actx, "validation failed",
			zap.String("unit_id", unit.ID),
			zap.String("failing_layer", att.FailingLayer))
	}
	att.Duration = o.now().Sub(start)
	return att
}

// classify attributes an attempt error to the attempt deadline, the parent
// context, or the backend.
func classify(actx, parent context.Context, err error, timeout time.Duration) (string, string) {
	switch {
	case parent.Err() != nil:
		return ReasonCancelled, parent.Err().Error()
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		return ReasonTimeout, fmt.Sprintf("attempt exceeded %s", timeout)
	default:
		return ReasonGeneration, "generation failed: " + err.Error()
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev events.Event) {
	ev.RunID = logging.RunIDFromContext(ctx)
	ev.Time = o.now()
	if err := o.sink.Publish(ctx, ev); err != nil {
		o.logger.Debug(ctx, "event publish failed", zap.String("event", string(ev.Kind)), zap.Error(err))
	}
}

func resultLabel(passed bool) string {
	if passed {
		return "pass"
	}
	return "fail"
}
