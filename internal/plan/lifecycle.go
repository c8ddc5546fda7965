// Package plan manages the lifecycle of a task plan: selecting the next
// pending task, moving one task at a time through in_progress, and keeping
// the cursor and completion log consistent.
//
// Invariants enforced here:
//   - at most one task is in_progress at any moment
//   - the cursor always points at the first pending task in declaration
//     order, or is empty when none remain
//   - CompletedKeys is append-only and records completion order
//   - a task paused by a clarification or interrupted by a failure stays
//     in_progress; Rewind moves it back to pending so the same task runs
//     again (with the user's answer merged in, for clarifications)
package plan

import (
	"fmt"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// SelectNext returns the key and task the cursor points at. It recomputes the
// cursor first so a stale snapshot can never select out of order.
func SelectNext(p *types.Plan) (string, *types.Task, error) {
	if p == nil {
		return "", nil, ErrNoPlan
	}
	recomputeCursor(p)
	if p.Cursor == "" {
		return "", nil, ErrExhausted
	}
	return p.Cursor, p.Tasks[p.Cursor], nil
}

// Begin transitions a pending task to in_progress. It refuses to start a
// second concurrent task.
func Begin(p *types.Plan, key string) error {
	if p == nil {
		return ErrNoPlan
	}
	task, ok := p.Tasks[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if task.Status != types.TaskPending {
		return fmt.Errorf("%w: %s is %s", ErrNotPending, key, task.Status)
	}
	if n := p.InProgressCount(); n > 0 {
		return fmt.Errorf("%w: cannot begin %s", ErrBusy, key)
	}
	task.Status = types.TaskInProgress
	logging.PlanDebug("task %s -> in_progress", key)
	return nil
}

// Complete transitions an in_progress task to completed, stores its outcome,
// appends to the completion log, and advances the cursor.
func Complete(p *types.Plan, key string, outcome *types.Outcome) error {
	if p == nil {
		return ErrNoPlan
	}
	task, ok := p.Tasks[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if task.Status != types.TaskInProgress {
		return fmt.Errorf("%w: %s is %s", ErrNotInProgress, key, task.Status)
	}
	task.Status = types.TaskCompleted
	task.Result = outcome
	p.CompletedKeys = append(p.CompletedKeys, key)
	recomputeCursor(p)
	logging.Plan("task %s completed (%d/%d)", key, len(p.CompletedKeys), len(p.Order))
	return nil
}

// Pause records a clarification outcome on an in_progress task without
// advancing. The task stays in_progress so introspection shows exactly which
// step is waiting on the user.
func Pause(p *types.Plan, key string, outcome *types.Outcome) error {
	if p == nil {
		return ErrNoPlan
	}
	task, ok := p.Tasks[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if task.Status != types.TaskInProgress {
		return fmt.Errorf("%w: %s is %s", ErrNotInProgress, key, task.Status)
	}
	task.Result = outcome
	logging.Plan("task %s paused for clarification", key)
	return nil
}

// Rewind moves a paused task back to pending so the next turn can re-run it
// with the clarification answer merged into its params.
func Rewind(p *types.Plan, key string) error {
	if p == nil {
		return ErrNoPlan
	}
	task, ok := p.Tasks[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if task.Status != types.TaskInProgress {
		return fmt.Errorf("%w: %s is %s", ErrNotInProgress, key, task.Status)
	}
	task.Status = types.TaskPending
	recomputeCursor(p)
	logging.PlanDebug("task %s rewound to pending", key)
	return nil
}

// Fail records a failure outcome on an in_progress task. The task stays
// in_progress and the cursor does not advance, so completed work survives
// the failed turn; a retry Rewinds the task and re-runs it.
func Fail(p *types.Plan, key string, outcome *types.Outcome) error {
	return Pause(p, key, outcome)
}

// FailedKey returns the key of an in_progress task carrying a failure
// outcome, or "". Such a task was interrupted by a failed turn and needs a
// Rewind before the plan can resume.
func FailedKey(p *types.Plan) string {
	if p == nil {
		return ""
	}
	for _, key := range p.Order {
		task := p.Tasks[key]
		if task.Status == types.TaskInProgress && task.Result != nil &&
			task.Result.Status == types.OutcomeFailure {
			return key
		}
	}
	return ""
}

// MergeAnswer folds a clarification answer into the paused task's params
// under the given key so the re-run sees it.
func MergeAnswer(p *types.Plan, key, paramKey, answer string) error {
	if p == nil {
		return ErrNoPlan
	}
	task, ok := p.Tasks[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, key)
	}
	if task.Params == nil {
		task.Params = make(map[string]interface{})
	}
	task.Params[paramKey] = answer
	return nil
}

// recomputeCursor scans declaration order for the first pending task.
func recomputeCursor(p *types.Plan) {
	for _, key := range p.Order {
		if p.Tasks[key].Status == types.TaskPending {
			p.Cursor = key
			return
		}
	}
	p.Cursor = ""
}
