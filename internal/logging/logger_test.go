package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
)

// captureDefault swaps the default logger for a JSON handler writing into
// the returned buffer and restores it when the test ends.
func captureDefault(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(old) })
	return &buf
}

func TestFromContext_RequestID(t *testing.T) {
	buf := captureDefault(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	FromContext(ctx).Error("request error", "path", "/catalog/countries")

	out := buf.String()
	if !strings.Contains(out, `"request_id":"req-42"`) {
		t.Errorf("log entry missing request_id: %s", out)
	}
	if !strings.Contains(out, `"path":"/catalog/countries"`) {
		t.Errorf("log entry missing path attr: %s", out)
	}
}

func TestFromContext_NoRequestID(t *testing.T) {
	buf := captureDefault(t)

	FromContext(context.Background()).Info("plain")

	if strings.Contains(buf.String(), "request_id") {
		t.Errorf("log entry has request_id without one in context: %s", buf.String())
	}
}

func TestWithFields(t *testing.T) {
	buf := captureDefault(t)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-7")
	WithFields(ctx, "stage", "postal_map").Info("stage starting")

	out := buf.String()
	for _, want := range []string{`"request_id":"req-7"`, `"stage":"postal_map"`} {
		if !strings.Contains(out, want) {
			t.Errorf("log entry missing %s: %s", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
