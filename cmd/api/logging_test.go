package main

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"-4":      slog.LevelDebug,
	}
	for raw, want := range cases {
		got, err := parseLogLevel(raw)
		if err != nil {
			t.Fatalf("parseLogLevel(%q): %v", raw, err)
		}
		if got != want {
			t.Fatalf("parseLogLevel(%q) = %v, want %v", raw, got, want)
		}
	}

	if _, err := parseLogLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerFormat(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, slog.LevelInfo, true).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("production logger is not JSON: %s", buf.String())
	}

	buf.Reset()
	newLogger(&buf, slog.LevelInfo, false).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("debug line written at info level: %s", buf.String())
	}
}

func TestCronLoggerError(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{logger: newLogger(&buf, slog.LevelInfo, true)}
	l.Error(errors.New("boom"), "job failed", "entry", 1)
	if out := buf.String(); !strings.Contains(out, `"err":"boom"`) || !strings.Contains(out, "cron: job failed") {
		t.Fatalf("unexpected output %s", out)
	}
}
