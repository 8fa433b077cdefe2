package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn").With("component", "engine")

	logger.Info("hidden")
	logger.Warn("trial aborted", "reason", "shutdown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info should be filtered at warn level")
	}
	if !strings.Contains(out, "component=engine") || !strings.Contains(out, "reason=shutdown") {
		t.Errorf("output = %q", out)
	}
}

func TestNew_Production(t *testing.T) {
	t.Setenv("GO_ENV", "production")
	var buf bytes.Buffer
	New(&buf, "info").Info("session started", "session", "s-1")

	if !strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), `"session":"s-1"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}
