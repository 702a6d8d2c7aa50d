package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CustomWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{
		Level:  slog.LevelInfo,
		Format: "json",
		Writer: &buf,
	})

	logger.Info("test message", "book_id", "book-1")

	assert.Contains(t, buf.String(), "test message")
	assert.Contains(t, buf.String(), `"level":"INFO"`)
	assert.Contains(t, buf.String(), `"book_id":"book-1"`)
}

func TestNew_FormatAutoDetection(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		wantJSON    bool
	}{
		{"production uses json", "production", true},
		{"development uses pretty", "development", false},
		{"staging uses pretty", "staging", false},
		{"empty uses pretty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(Config{Environment: tt.environment, Writer: &buf})
			logger.Info("hello")

			assert.Equal(t, tt.wantJSON, strings.HasPrefix(buf.String(), "{"))
		})
	}
}

func TestNew_PrettyWithoutTerminalHasNoColor(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "pretty", Writer: &buf})

	logger.Info("plain")

	assert.NotContains(t, buf.String(), "\033[")
	assert.Contains(t, buf.String(), "INF plain")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.input))
		})
	}
}

func TestPrettyHandler_Enabled(t *testing.T) {
	h := NewPrettyHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn})
	ctx := context.Background()

	assert.False(t, h.Enabled(ctx, slog.LevelDebug))
	assert.False(t, h.Enabled(ctx, slog.LevelInfo))
	assert.True(t, h.Enabled(ctx, slog.LevelWarn))
	assert.True(t, h.Enabled(ctx, slog.LevelError))

	defaults := NewPrettyHandler(&bytes.Buffer{}, nil)
	assert.False(t, defaults.Enabled(ctx, slog.LevelDebug))
	assert.True(t, defaults.Enabled(ctx, slog.LevelInfo))
}

func TestPrettyHandler_Handle(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	logger.Warn("group commit conflict, retrying", "book_id", "book-1", "attempt", 2, "backoff", 5*time.Millisecond)

	line := buf.String()
	assert.Contains(t, line, "WRN")
	assert.Contains(t, line, "group commit conflict, retrying")
	assert.Contains(t, line, "book_id=book-1")
	assert.Contains(t, line, "attempt=2")
	assert.Contains(t, line, "backoff=5ms")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestPrettyHandler_QuotesStrings(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	logger.Info("book created", "name", "Alice's Book", "empty", "")

	assert.Contains(t, buf.String(), `name="Alice's Book"`)
	assert.Contains(t, buf.String(), `empty=""`)
}

func TestPrettyHandler_Errors(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	logger.Error("commit failed", "error", errors.New("storage unavailable"))

	assert.Contains(t, buf.String(), `error="storage unavailable"`)
}

func TestPrettyHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil)).With("component", "store")

	logger.Info("opened", "backend", "badger")

	assert.Contains(t, buf.String(), "component=store backend=badger")
}

func TestPrettyHandler_WithGroup(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil)).WithGroup("commit").With("book_id", "book-1")

	logger.Info("done", "attempts", 3, slog.Group("backoff", "max", "250ms"))

	line := buf.String()
	assert.Contains(t, line, "commit.book_id=book-1")
	assert.Contains(t, line, "commit.attempts=3")
	assert.Contains(t, line, "commit.backoff.max=250ms")
}

func TestPrettyHandler_WithSource(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, &slog.HandlerOptions{AddSource: true}))

	logger.Info("with source")

	assert.Contains(t, buf.String(), "logger_test.go:")
}

func TestPrettyHandler_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewPrettyHandler(&buf, nil))

	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for j := 0; j < 50; j++ {
				logger.Info("line", "n", j)
			}
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
}

func TestFormatLevel(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "DBG"},
		{slog.LevelInfo, "INF"},
		{slog.LevelWarn, "WRN"},
		{slog.LevelError, "ERR"},
	}

	for _, tt := range tests {
		got, color := formatLevel(tt.level)
		assert.Equal(t, tt.want, got)
		assert.NotEmpty(t, color)
	}
}

func TestFormatValue(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, "plain", formatValue(slog.StringValue("plain")))
	assert.Equal(t, `"two words"`, formatValue(slog.StringValue("two words")))
	assert.Equal(t, "2024-05-01T12:00:00Z", formatValue(slog.TimeValue(at)))
	assert.Equal(t, "1.5s", formatValue(slog.DurationValue(1500*time.Millisecond)))
	assert.Equal(t, "42", formatValue(slog.Int64Value(42)))
	assert.Equal(t, "true", formatValue(slog.BoolValue(true)))
}

func TestLogger_Component(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Writer: &buf})

	logger.Component("service").Info("ready")

	assert.Contains(t, buf.String(), `"component":"service"`)
}

func TestLogger_WithError(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: "json", Writer: &buf})

	logger.WithError(errors.New("boom")).Error("failed")

	require.NotEmpty(t, buf.String())
	assert.Contains(t, buf.String(), `"error":"boom"`)
}
