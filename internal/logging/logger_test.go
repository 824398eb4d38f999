package logging

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/cogflow/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	t.Run("default config", func(t *testing.T) {
		logger, err := NewLogger(NewDefaultConfig(), nil)
		require.NoError(t, err)
		assert.True(t, logger.Enabled(zapcore.InfoLevel))
		assert.False(t, logger.Enabled(zapcore.DebugLevel))
	})

	t.Run("invalid format", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Format = "xml"
		_, err := NewLogger(cfg, nil)
		assert.Error(t, err)
	})

	t.Run("otel only without provider", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Stdout = false
		cfg.OTEL = true
		_, err := NewLogger(cfg, nil)
		assert.Error(t, err)
	})
}

func TestFromAppConfig(t *testing.T) {
	cfg, err := FromAppConfig(config.LoggingConfig{Level: "debug", Format: "json", OTEL: true})
	require.NoError(t, err)
	assert.Equal(t, zapcore.DebugLevel, cfg.Level)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.OTEL)

	cfg, err = FromAppConfig(config.LoggingConfig{Level: "trace"})
	require.NoError(t, err)
	assert.Equal(t, TraceLevel, cfg.Level)

	_, err = FromAppConfig(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestContextFields(t *testing.T) {
	logger := NewTestLogger()

	ctx := WithRunID(context.Background(), "run-1")
	ctx = WithUnit(ctx, "auth.1", 2)
	ctx = WithAttempt(ctx, 3)

	logger.Info(ctx, "unit completed", zap.String("tier", "cheap"))

	logger.AssertLogged(t, zapcore.InfoLevel, "unit completed")
	logger.AssertField(t, "unit completed", "run.id", "run-1")
	logger.AssertField(t, "unit completed", "unit.id", "auth.1")
	logger.AssertField(t, "unit completed", "wave", int64(2))
	logger.AssertField(t, "unit completed", "attempt", int64(3))
	logger.AssertField(t, "unit completed", "tier", "cheap")
}

func TestContextFields_Trace(t *testing.T) {
	tp := trace.NewTracerProvider()
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "trace_id")
	assert.Contains(t, keys, "span_id")
}

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
	assert.Equal(t, "", UnitIDFromContext(context.Background()))
	assert.Equal(t, 0, AttemptFromContext(context.Background()))
}

func TestSecretField(t *testing.T) {
	logger := NewTestLogger()
	logger.Info(context.Background(), "backend configured", Secret("api_key", config.Secret("abcdef")))
	logger.AssertField(t, "backend configured", "api_key", "[REDACTED:6]")
}

func TestWrap_Nil(t *testing.T) {
	l := Wrap(nil)
	require.NotNil(t, l)
	l.Info(context.Background(), "discarded")
}
