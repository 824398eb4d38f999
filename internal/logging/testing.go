package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger records entries at every level, trace included.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// Entries returns the entries whose message contains snippet.
func (t *TestLogger) Entries(snippet string) []observer.LoggedEntry {
	return t.logs.FilterMessageSnippet(snippet).All()
}

// AssertLogged fails tb unless an entry at level contains snippet.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, snippet string) {
	tb.Helper()
	for _, e := range t.Entries(snippet) {
		if e.Level == level {
			return
		}
	}
	var msgs []string
	for _, e := range t.logs.All() {
		msgs = append(msgs, e.Level.String()+" "+e.Message)
	}
	tb.Errorf("no %v entry containing %q in [%s]", level, snippet, strings.Join(msgs, ", "))
}

// AssertField fails tb unless an entry with message msg has key == want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	for _, e := range t.logs.FilterMessage(msg).All() {
		if got, ok := e.ContextMap()[key]; ok && reflect.DeepEqual(got, want) {
			return
		}
	}
	tb.Errorf("no %q entry with %s=%v", msg, key, want)
}
