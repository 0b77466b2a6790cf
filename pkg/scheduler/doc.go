// Package scheduler runs named periodic jobs inside a long-lived process.
//
// A Scheduler owns a set of tasks, each pairing a Schedule with a Job. Start
// blocks until its context is cancelled: it runs every task once right away
// and then polls at the check interval, starting each task whose next run
// time has passed. A task never overlaps with itself; a tick that finds the
// previous run still in flight is skipped.
//
// Multi-instance deployments pass a Locker (see pkg/redis) so that a task
// executes on one instance per run:
//
//	s := scheduler.New(
//		scheduler.WithLocker(redis.NewLocker(client, "tierkeep:lock:")),
//		scheduler.WithLogger(log),
//	)
//	_ = s.AddTask("subscription.sweep", scheduler.Every(15*time.Minute), func(ctx context.Context) error {
//		_, err := svc.Sweep(ctx)
//		return err
//	})
//	err := s.Start(ctx)
//
// RunNow executes a task synchronously outside the schedule, which is what
// one-shot CLI commands use.
package scheduler
