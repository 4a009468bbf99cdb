// Package logging builds the process-wide zap logger and a small timing
// helper, grounded on cmd/nerd/main.go's zap bootstrap: production config by
// default, debug level under verbose mode.
package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a zap logger: production-encoded, debug level when verbose.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg.Build()
}

// Timer measures an operation's duration and logs it on Stop, mirroring the
// teacher's category timer but against a zap field set instead of a
// category file.
type Timer struct {
	log   *zap.Logger
	op    string
	start time.Time
}

// StartTimer begins timing op, logged through log.
func StartTimer(log *zap.Logger, op string) *Timer {
	return &Timer{log: log, op: op, start: time.Now()}
}

// Stop logs the elapsed duration at debug level and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.log.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs at warn level if elapsed exceeds threshold, debug
// otherwise.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.log.Warn(t.op+" exceeded threshold", zap.Duration("elapsed", elapsed), zap.Duration("threshold", threshold))
	} else {
		t.log.Debug(t.op+" completed", zap.Duration("elapsed", elapsed))
	}
	return elapsed
}
