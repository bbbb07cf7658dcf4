package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zapcore.Level{
		"debug":   zapcore.DebugLevel,
		" WARN ":  zapcore.WarnLevel,
		"":        zapcore.InfoLevel,
		"verbose": zapcore.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestNew_RespectsLevel(t *testing.T) {
	log, err := New("error")
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if log.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn to be disabled at error level")
	}
	con, err := NewConsole("debug")
	if err != nil {
		t.Fatalf("new console: %v", err)
	}
	if !con.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug enabled")
	}
}
