// Package logging constructs the zap.Logger shared across components,
// grounded on the production/development split used throughout the
// example pack's dependency-injection containers.
package logging

import "go.uber.org/zap"

// New builds a production logger in non-debug mode and a development
// (console-encoded, debug-level) logger otherwise.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		cfg := zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	return cfg.Build()
}
