package sessions

import "testing"

func TestLogLevelOrdering(t *testing.T) {
	ordered := []LogLevel{
		LogLevelDebug, LogLevelInfo, LogLevelNotice, LogLevelWarning,
		LogLevelError, LogLevelCritical, LogLevelAlert, LogLevelEmergency,
	}
	for i, threshold := range ordered {
		for j, lvl := range ordered {
			want := j >= i
			if got := threshold.Allows(lvl); got != want {
				t.Fatalf("threshold %s, level %s: expected Allows=%v, got %v", threshold, lvl, want, got)
			}
		}
	}
}

func TestLogLevelEmptyThresholdAllowsAll(t *testing.T) {
	var threshold LogLevel
	if !threshold.Allows(LogLevelDebug) {
		t.Fatal("empty threshold must allow debug")
	}
}

func TestParseLogLevel(t *testing.T) {
	lvl, err := ParseLogLevel("warning")
	if err != nil {
		t.Fatalf("parse warning: %v", err)
	}
	if lvl != LogLevelWarning {
		t.Fatalf("expected warning, got %s", lvl)
	}

	if _, err := ParseLogLevel("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
