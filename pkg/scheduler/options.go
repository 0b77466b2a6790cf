package scheduler

import (
	"log/slog"
	"time"
)

// Option is a functional option for configuring a scheduler
type Option func(*options)

type options struct {
	checkInterval time.Duration
	lockTTL       time.Duration
	locker        Locker
	logger        *slog.Logger
	now           func() time.Time
}

// WithCheckInterval sets how often the scheduler looks for due tasks
func WithCheckInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.checkInterval = d
		}
	}
}

// WithLocker makes every run acquire a named lock first, so only one
// instance of a horizontally scaled deployment executes a given task.
func WithLocker(l Locker) Option {
	return func(o *options) {
		o.locker = l
	}
}

// WithLockTTL bounds how long a crashed instance can hold a task lock
func WithLockTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.lockTTL = d
		}
	}
}

// WithLogger sets the logger for the scheduler
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used to decide which tasks are due
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}
