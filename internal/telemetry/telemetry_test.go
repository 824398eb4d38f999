package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)
	assert.NotNil(t, tel.TracerProvider())
	assert.NoError(t, tel.Degraded())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestConfig_Validate(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	require.NoError(t, cfg.Validate())

	cfg.Protocol = "udp"
	assert.Error(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Enabled = true
	cfg.SampleRate = 2
	assert.Error(t, cfg.Validate())
}

func TestFromAppConfig(t *testing.T) {
	cfg := FromAppConfig(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "collector:4318",
		Protocol:   "http/protobuf",
		SampleRate: 0.5,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "collector:4318", cfg.Endpoint)
	assert.Equal(t, "http/protobuf", cfg.Protocol)
	assert.Equal(t, 0.5, cfg.SampleRate)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
}

func TestStripScheme(t *testing.T) {
	assert.Equal(t, "otel.example.com:443", stripScheme("https://otel.example.com:443"))
	assert.Equal(t, "localhost:4318", stripScheme("http://localhost:4318"))
	assert.Equal(t, "localhost:4317", stripScheme("localhost:4317"))
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.TracerProvider().Tracer("test").Start(context.Background(), "wave")
	span.SetAttributes(attribute.Int("wave.number", 2))
	span.End()

	require.Len(t, tt.SpansNamed("wave"), 1)
	tt.AssertSpanAttribute(t, "wave", "wave.number", int64(2))
}
