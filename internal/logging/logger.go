// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	logger, _, err := NewWithLevel(development, "")
	return logger, err
}

// NewWithLevel builds a logger whose level can be changed at runtime through
// the returned AtomicLevel. An empty level keeps the preset default.
func NewWithLevel(development bool, level string) (*zap.Logger, zap.AtomicLevel, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"
	if level != "" {
		if err := SetLevel(cfg.Level, level); err != nil {
			return nil, zap.AtomicLevel{}, err
		}
	}
	logger, err := cfg.Build()
	if err != nil {
		if development {
			return nil, zap.AtomicLevel{}, fmt.Errorf("build dev logger: %w", err)
		}
		return nil, zap.AtomicLevel{}, fmt.Errorf("build prod logger: %w", err)
	}
	return logger, cfg.Level, nil
}

// SetLevel parses level and applies it to the atomic level.
func SetLevel(atomic zap.AtomicLevel, level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("parse log level %q: %w", level, err)
	}
	atomic.SetLevel(lvl)
	return nil
}
