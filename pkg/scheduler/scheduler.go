package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Job is the unit of work executed by a scheduled task.
type Job func(ctx context.Context) error

// Locker provides cross-instance mutual exclusion for task runs.
type Locker interface {
	// Acquire tries to take key for at most ttl. ok is false when another
	// holder owns the lock; release must be called once the run finishes.
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, ok bool, err error)
}

// Scheduler manages periodic task execution
type Scheduler struct {
	tasks    map[string]*scheduledTask
	mu       sync.RWMutex
	wg       sync.WaitGroup
	interval time.Duration
	lockTTL  time.Duration
	locker   Locker
	logger   *slog.Logger
	now      func() time.Time
}

// scheduledTask holds configuration and run state for a periodic task
type scheduledTask struct {
	name     string
	schedule Schedule
	job      Job
	running  atomic.Bool
	nextRun  time.Time // zero means due on the next check
}

// New creates a new task scheduler
func New(opts ...Option) *Scheduler {
	options := &options{
		checkInterval: 30 * time.Second,
		lockTTL:       5 * time.Minute,
		logger:        slog.Default(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		tasks:    make(map[string]*scheduledTask),
		interval: options.checkInterval,
		lockTTL:  options.lockTTL,
		locker:   options.locker,
		logger:   options.logger,
		now:      options.now,
	}
}

// AddTask registers a periodic task
func (s *Scheduler) AddTask(name string, schedule Schedule, job Job) error {
	if name == "" || schedule == nil || job == nil {
		return ErrInvalidTask
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrTaskAlreadyRegistered, name)
	}
	s.tasks[name] = &scheduledTask{
		name:     name,
		schedule: schedule,
		job:      job,
	}

	s.logger.Info("registered periodic task",
		slog.String("task_name", name),
		slog.String("schedule", schedule.String()))

	return nil
}

// ListTasks returns the names of all registered tasks in lexical order
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Start runs due tasks until ctx is cancelled, then waits for in-flight runs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	taskCount := len(s.tasks)
	s.mu.RUnlock()

	if taskCount == 0 {
		return ErrNoTasks
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Check immediately on start
	s.checkTasks(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			s.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			s.checkTasks(ctx)
		}
	}
}

// RunNow executes the named task synchronously, ignoring its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.RLock()
	task, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, name)
	}

	if !task.running.CompareAndSwap(false, true) {
		return ErrTaskRunning
	}
	defer task.running.Store(false)

	return s.execute(ctx, task, 0)
}

// checkTasks starts every task whose next run time has passed
func (s *Scheduler) checkTasks(ctx context.Context) {
	now := s.now()

	type dueTask struct {
		task *scheduledTask
		hold time.Duration
	}

	s.mu.Lock()
	due := make([]dueTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		if !task.nextRun.IsZero() && now.Before(task.nextRun) {
			continue
		}
		task.nextRun = task.schedule.Next(now)
		// Hold the lock until just before this instance's next check so
		// peers on their own timers cannot repeat the run in this window.
		due = append(due, dueTask{task: task, hold: task.nextRun.Sub(now) - s.interval})
	}
	s.mu.Unlock()

	for _, d := range due {
		if !d.task.running.CompareAndSwap(false, true) {
			s.logger.Debug("previous run still in progress, skipping",
				slog.String("task_name", d.task.name))
			continue
		}

		s.wg.Add(1)
		go func(t *scheduledTask, hold time.Duration) {
			defer s.wg.Done()
			defer t.running.Store(false)
			_ = s.execute(ctx, t, hold)
		}(d.task, d.hold)
	}
}

// execute runs the task under the optional lock and logs the outcome.
// When hold is at least the lock TTL, a successful run keeps the lock until
// it expires after hold; failed runs always release it so another instance
// may retry.
func (s *Scheduler) execute(ctx context.Context, task *scheduledTask, hold time.Duration) (retErr error) {
	if s.locker != nil {
		keep := hold >= s.lockTTL
		ttl := s.lockTTL
		if keep {
			ttl = hold
		}
		release, ok, err := s.locker.Acquire(ctx, lockKey(task.name), ttl)
		if err != nil {
			s.logger.Error("failed to acquire task lock",
				slog.String("task_name", task.name),
				slog.String("error", err.Error()))
			return err
		}
		if !ok {
			s.logger.Debug("task lock held elsewhere, skipping",
				slog.String("task_name", task.name))
			return ErrLockNotAcquired
		}
		defer func() {
			if keep && retErr == nil {
				return
			}
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release task lock",
					slog.String("task_name", task.name),
					slog.String("error", err.Error()))
			}
		}()
	}

	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			retErr = fmt.Errorf("panic in task %s: %v", task.name, r)
			s.logger.Error("task panicked",
				slog.String("task_name", task.name),
				slog.Any("panic", r))
		}
	}()

	if err := task.job(ctx); err != nil {
		s.logger.Error("task failed",
			slog.String("task_name", task.name),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()))
		return err
	}

	s.logger.Info("task completed",
		slog.String("task_name", task.name),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func lockKey(name string) string {
	return "scheduler:" + name
}
