package logx

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"  Info ", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tc := range cases {
		if got := parseLevel(tc.in, zerolog.InfoLevel); got != tc.want {
			t.Fatalf("parseLevel(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestZeroValueLoggerIsSafe(t *testing.T) {
	var l Logger
	if !l.IsZero() {
		t.Fatalf("zero value not reported as zero")
	}
	// Must not panic.
	l.Info("ignored", String("k", "v"), Err(errors.New("x")))
	l.With(Int("n", 1)).Error("ignored")
}

func TestNopLoggerIsNotZero(t *testing.T) {
	l := Nop()
	if l.IsZero() {
		t.Fatalf("Nop logger reported as zero value")
	}
	l.Warn("ignored")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	parent := Nop()
	child := parent.With(String("component", "test"))
	if len(parent.fields) != 0 {
		t.Fatalf("parent gained fields: %d", len(parent.fields))
	}
	if len(child.fields) != 1 {
		t.Fatalf("child fields = %d, want 1", len(child.fields))
	}
}

func TestEnabledRespectsLevel(t *testing.T) {
	l := NewConsole("warn")
	if l.Enabled(LevelDebug) {
		t.Fatalf("debug enabled at warn level")
	}
	if !l.Enabled(LevelError) {
		t.Fatalf("error disabled at warn level")
	}
}
