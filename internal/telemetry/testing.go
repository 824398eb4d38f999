package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// TestTelemetry records spans in memory.
type TestTelemetry struct {
	SpanRecorder *tracetest.SpanRecorder
	provider     *sdktrace.TracerProvider
}

// NewTestTelemetry creates an in-memory tracer provider.
func NewTestTelemetry() *TestTelemetry {
	rec := tracetest.NewSpanRecorder()
	return &TestTelemetry{
		SpanRecorder: rec,
		provider:     sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)),
	}
}

// TracerProvider returns the recording provider.
func (t *TestTelemetry) TracerProvider() trace.TracerProvider {
	return t.provider
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []sdktrace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpansNamed returns ended spans with the given name.
func (t *TestTelemetry) SpansNamed(name string) []sdktrace.ReadOnlySpan {
	var out []sdktrace.ReadOnlySpan
	for _, s := range t.Spans() {
		if s.Name() == name {
			out = append(out, s)
		}
	}
	return out
}

// AssertSpanAttribute fails tb unless some span named spanName has key=expected.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName, key string, expected interface{}) {
	tb.Helper()
	spans := t.SpansNamed(spanName)
	if len(spans) == 0 {
		tb.Fatalf("span %q not found", spanName)
	}
	for _, s := range spans {
		for _, attr := range s.Attributes() {
			if string(attr.Key) == key && attrValue(attr.Value) == expected {
				return
			}
		}
	}
	tb.Errorf("no span %q with attribute %q=%v", spanName, key, expected)
}

func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}
