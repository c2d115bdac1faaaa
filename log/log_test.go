package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

// newTestLogger returns a Logger that writes JSON into buf.
func newTestLogger(buf *bytes.Buffer, level slog.Level) *Logger {
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: level})
	return NewWithHandler(h)
}

// ---------------------------------------------------------------------------
// Logger.Module
// ---------------------------------------------------------------------------

func TestLogger_Module(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	child := l.Module("stacktrace")

	child.Info("decoded")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}

	if entry["module"] != "stacktrace" {
		t.Fatalf("module = %v, want %q", entry["module"], "stacktrace")
	}
	if entry["msg"] != "decoded" {
		t.Fatalf("msg = %v, want %q", entry["msg"], "decoded")
	}
}

func TestLogger_ModuleChain(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	child := l.Module("rpc").With("method", "debug_solidityStackTrace")

	child.Info("served")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("unmarshal: %v (raw: %s)", err, buf.String())
	}

	if entry["module"] != "rpc" {
		t.Fatalf("module = %v, want %q", entry["module"], "rpc")
	}
	if entry["method"] != "debug_solidityStackTrace" {
		t.Fatalf("method = %v, want %q", entry["method"], "debug_solidityStackTrace")
	}
}

// ---------------------------------------------------------------------------
// Levels and formats
// ---------------------------------------------------------------------------

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	l.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("output contains filtered records: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("output misses warn record: %s", out)
	}
	if l.Enabled(slog.LevelInfo) {
		t.Fatal("Enabled(info) = true on a warn logger")
	}
}

func TestNewWithFormat_Text(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithFormat(&buf, slog.LevelInfo, "text")
	l.Info("hello", "k", "v")

	out := buf.String()
	if !strings.Contains(out, "msg=hello") || !strings.Contains(out, "k=v") {
		t.Fatalf("text output = %q", out)
	}
}

func TestLevelFromVerbosity(t *testing.T) {
	tests := []struct {
		v    int
		want slog.Level
	}{
		{-1, slog.LevelError + 4},
		{0, slog.LevelError + 4},
		{1, slog.LevelError},
		{2, slog.LevelWarn},
		{3, slog.LevelInfo},
		{4, slog.LevelDebug},
		{5, slog.LevelDebug},
	}
	for _, tt := range tests {
		if got := LevelFromVerbosity(tt.v); got != tt.want {
			t.Errorf("LevelFromVerbosity(%d) = %v, want %v", tt.v, got, tt.want)
		}
	}
}

// ---------------------------------------------------------------------------
// Package-level helpers
// ---------------------------------------------------------------------------

func TestPackageLevelFunctions(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, slog.LevelDebug)
	prev := Default()
	SetDefault(l)
	defer SetDefault(prev)

	Debug("d")
	Info("i")
	Warn("w")
	Error("e")

	out := buf.String()
	for _, msg := range []string{"d", "i", "w", "e"} {
		if !strings.Contains(out, msg) {
			t.Errorf("missing message %q in output", msg)
		}
	}
}

func TestSetDefault_IgnoresNil(t *testing.T) {
	prev := Default()
	SetDefault(nil)
	if Default() != prev {
		t.Fatal("SetDefault(nil) replaced the default logger")
	}
}

func TestDiscard(t *testing.T) {
	l := Discard()
	if l.Enabled(slog.LevelError) {
		t.Fatal("Discard logger reports error level as enabled")
	}
	l.Error("dropped")
}
