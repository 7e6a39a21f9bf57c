// Package logging builds the zap logger used by the CLI layer. Core
// packages return errors instead of logging; only the command surface
// decides what the user sees.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a logger writing to stderr. Verbose mode switches to the
// development config with debug level enabled.
func New(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	return cfg.Build()
}

// NewNop returns a disabled logger for tests and non-CLI embedding.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
