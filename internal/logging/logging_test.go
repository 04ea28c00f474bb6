package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	logger, err := New("production", "warn")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.InfoLevel) {
		t.Error("info should be disabled at warn")
	}
	if !logger.Core().Enabled(zapcore.WarnLevel) {
		t.Error("warn should be enabled")
	}

	dev, err := New("development", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !dev.Core().Enabled(zapcore.DebugLevel) {
		t.Error("development logger should log debug by default")
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	if _, err := New("production", "chatty"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
