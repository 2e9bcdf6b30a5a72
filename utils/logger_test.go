package utils

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func TestLoggerLevelFilteringAndPrefix(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, LevelInfo)
	logger.now = func() time.Time { return time.Date(2026, 4, 24, 9, 30, 0, 0, time.UTC) }

	tracker := logger.With("tracker")
	tracker.Debug("hidden %d", 1)
	tracker.Info("checking %s", "Best tacos")
	tracker.Warn("token missing")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug line should be filtered at info level: %q", out)
	}
	want := "[2026-04-24 09:30:00] INFO  [tracker] checking Best tacos\n"
	if !strings.Contains(out, want) {
		t.Errorf("output %q missing %q", out, want)
	}
	if !strings.Contains(out, "WARN  [tracker] token missing") {
		t.Errorf("output %q missing warn line", out)
	}
	if strings.Contains(out, "\033[") {
		t.Error("non-terminal writer must not receive color codes")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{" WARN ", LevelWarn},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"", LevelInfo},
		{"verbose", LevelInfo},
	}
	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestStripTags(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"<p>Great <b>dumplings</b></p>", "Great dumplings"},
		{"plain", "plain"},
		{"<p>line one</p>\n<p>line two</p>", "line one line two"},
		{"", ""},
		{"a < b", "a < b"},
	}
	for _, tt := range tests {
		if got := StripTags(tt.raw); got != tt.want {
			t.Errorf("StripTags(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestSortKeyComposesAccents(t *testing.T) {
	composed := "Caf\u00e9"
	decomposed := "Cafe\u0301"
	if SortKey(composed) != SortKey(decomposed) {
		t.Errorf("SortKey should normalize %q and %q to the same key", composed, decomposed)
	}
}
