package plan

import "errors"

var (
	// ErrNoPlan indicates an operation was attempted without an active plan.
	ErrNoPlan = errors.New("no active plan")

	// ErrUnknownTask indicates the task key does not exist in the plan.
	ErrUnknownTask = errors.New("unknown task key")

	// ErrNotPending indicates Begin was called on a task that is not pending.
	ErrNotPending = errors.New("task is not pending")

	// ErrNotInProgress indicates a completion transition was attempted on a
	// task that is not in progress.
	ErrNotInProgress = errors.New("task is not in progress")

	// ErrBusy indicates Begin was called while another task is in progress.
	ErrBusy = errors.New("another task is already in progress")

	// ErrExhausted indicates SelectNext found no pending task.
	ErrExhausted = errors.New("plan has no pending tasks")
)
