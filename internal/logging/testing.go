package logging

import (
	"reflect"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger records every entry, trace level included, for assertions.
type TestLogger struct {
	*Logger
	observed *observer.ObservedLogs
}

// NewTestLogger creates an observing logger.
func NewTestLogger() *TestLogger {
	core, observed := observer.New(TraceLevel)
	return &TestLogger{
		Logger:   &Logger{zap: zap.New(core), config: NewDefaultConfig()},
		observed: observed,
	}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry {
	return t.observed.All()
}

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.observed.FilterMessageSnippet(msg)
}

// ForWorkflow returns entries tagged with workflow.id == id, in order.
func (t *TestLogger) ForWorkflow(id string) []observer.LoggedEntry {
	return t.observed.FilterField(zap.String("workflow.id", id)).All()
}

// Reset drops recorded entries.
func (t *TestLogger) Reset() {
	t.observed.TakeAll()
}

func (t *TestLogger) find(level zapcore.Level, msgContains string) bool {
	for _, entry := range t.observed.All() {
		if entry.Level == level && strings.Contains(entry.Message, msgContains) {
			return true
		}
	}
	return false
}

// AssertLogged fails tb unless an entry at level contains msgContains.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if !t.find(level, msgContains) {
		tb.Errorf("no %v entry containing %q; got %d entries", level, msgContains, t.observed.Len())
	}
}

// AssertNotLogged fails tb if an entry at level contains msgContains.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msgContains string) {
	tb.Helper()
	if t.find(level, msgContains) {
		tb.Errorf("unexpected %v entry containing %q", level, msgContains)
	}
}

// AssertPhaseLogged fails tb unless an entry containing msgContains was
// written while workflowID was running phase.
func (t *TestLogger) AssertPhaseLogged(tb testing.TB, workflowID, phase, msgContains string) {
	tb.Helper()
	for _, entry := range t.ForWorkflow(workflowID) {
		if entry.ContextMap()["phase"] == phase && strings.Contains(entry.Message, msgContains) {
			return
		}
	}
	tb.Errorf("no entry containing %q for workflow %s in phase %s", msgContains, workflowID, phase)
}

// AssertField fails tb unless an entry matching msg carries key=expected.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, expected interface{}) {
	tb.Helper()
	for _, entry := range t.observed.FilterMessageSnippet(msg).All() {
		if got, ok := entry.ContextMap()[key]; ok && reflect.DeepEqual(got, expected) {
			return
		}
	}
	tb.Errorf("field %q=%v not found in message %q", key, expected, msg)
}
