package logging

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type runCtxKey struct{}
type unitCtxKey struct{}
type attemptCtxKey struct{}

type unitScope struct {
	id   string
	wave int
}

// ContextFields extracts correlation fields from ctx.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 6)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if u, ok := ctx.Value(unitCtxKey{}).(unitScope); ok {
		fields = append(fields, zap.String("unit.id", u.id), zap.Int("wave", u.wave))
	}
	if attempt := AttemptFromContext(ctx); attempt > 0 {
		fields = append(fields, zap.Int("attempt", attempt))
	}
	return fields
}

// WithRunID tags ctx with the run identifier.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runCtxKey{}, runID)
}

// RunIDFromContext returns the run identifier, or "".
func RunIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(runCtxKey{}).(string)
	return s
}

// WithUnit tags ctx with the unit being executed and its wave.
func WithUnit(ctx context.Context, unitID string, wave int) context.Context {
	return context.WithValue(ctx, unitCtxKey{}, unitScope{id: unitID, wave: wave})
}

// UnitIDFromContext returns the unit identifier, or "".
func UnitIDFromContext(ctx context.Context) string {
	u, _ := ctx.Value(unitCtxKey{}).(unitScope)
	return u.id
}

// WithAttempt tags ctx with the 1-based attempt number.
func WithAttempt(ctx context.Context, attempt int) context.Context {
	return context.WithValue(ctx, attemptCtxKey{}, attempt)
}

// AttemptFromContext returns the attempt number, or 0.
func AttemptFromContext(ctx context.Context) int {
	n, _ := ctx.Value(attemptCtxKey{}).(int)
	return n
}
