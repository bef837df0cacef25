// Package logging includes tests for the zap logger helpers.
package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// TestNewDevelopmentLogger confirms the development logger builds and logs.
func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(true)
	if err != nil {
		t.Fatalf("New(true) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("development logger ready")
}

// TestNewProductionLogger ensures the production logger configuration succeeds.
func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(false)
	if err != nil {
		t.Fatalf("New(false) error = %v", err)
	}
	if logger == nil {
		t.Fatal("expected logger to be non-nil")
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	logger.Info("production logger ready")
}

// TestNewWithLevelAdjustable checks the runtime level handle.
func TestNewWithLevelAdjustable(t *testing.T) {
	t.Parallel()

	logger, level, err := NewWithLevel(false, "warn")
	if err != nil {
		t.Fatalf("NewWithLevel() error = %v", err)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	if level.Level() != zapcore.WarnLevel {
		t.Fatalf("expected warn level, got %v", level.Level())
	}
	if err := SetLevel(level, "debug"); err != nil {
		t.Fatalf("SetLevel() error = %v", err)
	}
	if !logger.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("expected debug to be enabled after SetLevel")
	}
	if _, _, err := NewWithLevel(true, "loud"); err == nil {
		t.Fatal("expected invalid level error")
	}
}
