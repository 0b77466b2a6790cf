package scheduler

import "errors"

var (
	// ErrNoTasks is returned by Start when no task has been registered
	ErrNoTasks = errors.New("scheduler has no registered tasks")

	// ErrTaskAlreadyRegistered is returned when trying to register a duplicate task
	ErrTaskAlreadyRegistered = errors.New("task already registered")

	// ErrTaskNotFound is returned by RunNow for an unknown task name
	ErrTaskNotFound = errors.New("task not found")

	// ErrInvalidTask is returned when a task has no name, schedule or job
	ErrInvalidTask = errors.New("task requires a name, schedule and job")

	// ErrTaskRunning is returned by RunNow while the same task is still executing
	ErrTaskRunning = errors.New("task is already running")

	// ErrLockNotAcquired is returned by RunNow when another instance holds the task lock
	ErrLockNotAcquired = errors.New("task lock held by another instance")
)
