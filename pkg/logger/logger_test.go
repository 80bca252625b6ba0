package logger

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewModes(t *testing.T) {
	tests := []struct {
		mode    string
		verbose bool
		debug   bool
	}{
		{"development", false, false},
		{"development", true, true},
		{"production", false, false},
		{"PROD", true, true},
		{"", false, false},
	}
	for _, tt := range tests {
		l, err := New(tt.mode, tt.verbose)
		if err != nil {
			t.Fatalf("New(%q) failed: %v", tt.mode, err)
		}
		if got := l.Zap().Core().Enabled(zapcore.DebugLevel); got != tt.debug {
			t.Errorf("New(%q, %v): expected debug enabled=%v, got %v", tt.mode, tt.verbose, tt.debug, got)
		}
		if !l.Zap().Core().Enabled(zapcore.InfoLevel) {
			t.Errorf("New(%q): expected info to be enabled", tt.mode)
		}
	}
}

func TestInfoFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := &Logger{SugaredLogger: zap.New(core).Sugar()}

	l.Info("done", "elapsed", "1s")
	l.Zap().Debug("filtered")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("Expected 1 entry, got %d", len(entries))
	}
	if entries[0].Message != "done" || entries[0].ContextMap()["elapsed"] != "1s" {
		t.Errorf("Unexpected entry %+v", entries[0])
	}
}
