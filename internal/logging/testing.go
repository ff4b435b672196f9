package logging

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records entries in memory for assertions.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns a logger that records every level.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// Entries returns the recorded entries.
func (t *TestLogger) Entries() []observer.LoggedEntry {
	return t.logs.All()
}

// Reset discards the recorded entries.
func (t *TestLogger) Reset() {
	t.logs.TakeAll()
}

// Field returns the value of key on the first entry whose message contains
// msg.
func (t *TestLogger) Field(msg, key string) (any, bool) {
	for _, e := range t.logs.All() {
		if !strings.Contains(e.Message, msg) {
			continue
		}
		v, ok := e.ContextMap()[key]
		return v, ok
	}
	return nil, false
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if !t.has(level, msg) {
		tb.Errorf("no %s entry containing %q in %d entries", level, msg, t.logs.Len())
	}
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.has(level, msg) {
		tb.Errorf("unexpected %s entry containing %q", level, msg)
	}
}

// AssertField fails tb unless the first entry containing msg carries key
// with value want.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	got, ok := t.Field(msg, key)
	if !ok {
		tb.Errorf("no field %q on entry containing %q", key, msg)
		return
	}
	if got != want {
		tb.Errorf("field %q = %v (%T), want %v (%T)", key, got, got, want, want)
	}
}

func (t *TestLogger) has(level zapcore.Level, msg string) bool {
	for _, e := range t.logs.All() {
		if e.Level == level && strings.Contains(e.Message, msg) {
			return true
		}
	}
	return false
}
