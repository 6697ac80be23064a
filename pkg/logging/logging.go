// Package logging constructs the logr.Logger used across every component.
// There is no package-level logger singleton: callers build one Logger and
// inject it into each component's constructor, following the teacher's
// "singletons become injected collaborators" rewrite.
package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// Options controls the concrete zap sink backing the returned Logger.
type Options struct {
	// Development enables human-readable console output instead of JSON.
	Development bool
	// Level is the minimum zap level name: "debug", "info", "warn", "error".
	Level string
}

// New builds a logr.Logger backed by zap according to opts.
func New(opts Options) (logr.Logger, error) {
	level := zap.InfoLevel
	if opts.Level != "" {
		if err := level.Set(opts.Level); err != nil {
			return logr.Discard(), err
		}
	}

	var cfg zap.Config
	if opts.Development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	zl, err := cfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zl), nil
}

// Discard returns a Logger that drops everything, the default for tests
// that do not care to assert on log output.
func Discard() logr.Logger {
	return logr.Discard()
}
