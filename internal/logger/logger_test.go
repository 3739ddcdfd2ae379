package logger

import (
	"bytes"
	"log"
	"strings"
	"testing"
)

func TestStdLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &StdLogger{
		logger: log.New(&buf, "", 0),
		level:  LevelDebug,
	}

	tests := []struct {
		name     string
		fn       func()
		expected string
	}{
		{
			name:     "Info",
			fn:       func() { l.Info("connected to %s", "sqlite:./data/stockroom") },
			expected: "[INFO] connected to sqlite:./data/stockroom",
		},
		{
			name:     "Warn",
			fn:       func() { l.Warn("target busy") },
			expected: "[WARN] target busy",
		},
		{
			name:     "Error",
			fn:       func() { l.Error("all targets failed") },
			expected: "[ERROR] all targets failed",
		},
		{
			name:     "Debug",
			fn:       func() { l.Debug("attempt %d/%d", 2, 3) },
			expected: "[DEBUG] attempt 2/3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()
			tt.fn()
			got := strings.TrimSpace(buf.String())
			if got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestLeveledDropsBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewLeveled(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got %q", buf.String())
	}

	l.Warn("shown")
	if !strings.Contains(buf.String(), "[WARN] shown") {
		t.Errorf("warn message missing from %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		" error ": LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestOrDefault(t *testing.T) {
	if OrDefault(nil) != Default {
		t.Error("nil logger should resolve to Default")
	}
	if OrDefault(Nop) != Nop {
		t.Error("non-nil logger should be returned unchanged")
	}
	Nop.Error("discarded")
}
