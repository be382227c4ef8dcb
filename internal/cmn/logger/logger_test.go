package logger

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
)

func TestLogger_SourceLocation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		logFunc func(Logger)
	}{
		{name: "Info", logFunc: func(l Logger) { l.Info("test message") }},
		{name: "Debug", logFunc: func(l Logger) { l.Debug("debug message") }},
		{name: "Warnf", logFunc: func(l Logger) { l.Warnf("warning %s", "test") }},
		{name: "Errorf", logFunc: func(l Logger) { l.Errorf("error %v", "test") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			l := NewLogger(WithDebug(), WithFormat("text"), WithQuiet(), WithWriter(&buf))
			tt.logFunc(l)

			out := buf.String()
			assert.Contains(t, out, "logger_test.go:")
			assert.NotContains(t, out, "cmn/logger/logger.go")
			assert.NotContains(t, out, "slog-multi")
		})
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	l := NewLogger(WithQuiet(), WithWriter(&buf))
	l.Debug("hidden")
	l.Info("visible")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "visible")
}

func TestLogger_FanOut(t *testing.T) {
	t.Parallel()

	var console, file bytes.Buffer
	l := NewLogger(WithConsole(&console), WithWriter(&file), WithFormat("json"))
	l.With(tag.SessionID("abc")).Info("started", tag.Dialect("bash"))

	for _, out := range []string{console.String(), file.String()} {
		assert.Contains(t, out, `"session-id":"abc"`)
		assert.Contains(t, out, `"dialect":"bash"`)
	}
}

func TestContext(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(WithQuiet(), WithWriter(&buf)))
	ctx = WithValues(ctx, "connection", "local")

	Info(ctx, "hello")
	Warn(ctx, "count", "n", 3)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "connection=local")
	assert.Contains(t, lines[1], "n=3")
}

func TestFromContext_Default(t *testing.T) {
	t.Parallel()
	assert.NotNil(t, FromContext(context.Background()))
}
