package pool

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Option is a functional option for configuring the pool.
type Option func(*poolConfig)

type poolConfig struct {
	name          string
	ctx           context.Context
	logger        log.FieldLogger
	pollInterval  time.Duration
	admitPerCycle int
	rateLimiter   *rate.Limiter
	rejectOnStop  bool
}

func defaultConfig() *poolConfig {
	return &poolConfig{
		name:   "pool",
		ctx:    context.Background(),
		logger: log.StandardLogger(),
	}
}

// WithName sets the name used in log fields and metric labels.
func WithName(name string) Option {
	return func(cfg *poolConfig) {
		if name != "" {
			cfg.name = name
		}
	}
}

// WithContext sets the base context handed to every task.
// Stop never cancels it; cancelling it is up to the caller.
func WithContext(ctx context.Context) Option {
	return func(cfg *poolConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// WithLogger sets the logger used for lifecycle debug output.
// If not specified, the logrus standard logger is used.
func WithLogger(l log.FieldLogger) Option {
	return func(cfg *poolConfig) {
		if l != nil {
			cfg.logger = l
		}
	}
}

// WithPollInterval makes the admission loop also run on a fixed tick,
// in addition to waking on push and completion.
func WithPollInterval(d time.Duration) Option {
	return func(cfg *poolConfig) {
		if d > 0 {
			cfg.pollInterval = d
		}
	}
}

// WithAdmitPerCycle caps how many queued tasks one loop iteration may
// admit. 1 admits a single task per wake-up; 0 (the default) fills every
// free slot.
func WithAdmitPerCycle(n int) Option {
	return func(cfg *poolConfig) {
		if n >= 0 {
			cfg.admitPerCycle = n
		}
	}
}

// WithRateLimit limits how fast tasks are admitted.
// tasksPerSecond is the sustained admission rate, burst the bucket size.
// This is useful for not hammering the scraped site.
//
// Example:
//
//	WithRateLimit(2, 1) // at most two page fetches start per second
func WithRateLimit(tasksPerSecond float64, burst int) Option {
	return func(cfg *poolConfig) {
		if tasksPerSecond > 0 && burst > 0 {
			cfg.rateLimiter = rate.NewLimiter(rate.Limit(tasksPerSecond), burst)
		}
	}
}

// WithRejectOnStop rejects queued tasks with ErrPoolStopped when Stop is
// called, and tasks pushed afterwards immediately. Without it their
// futures never settle.
func WithRejectOnStop() Option {
	return func(cfg *poolConfig) {
		cfg.rejectOnStop = true
	}
}
