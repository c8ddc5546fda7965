package plan

import (
	"errors"
	"testing"

	"helmsman/internal/types"
)

func threeTaskPlan(t *testing.T) *types.Plan {
	t.Helper()
	p, err := types.NewPlan(
		[]string{"resolve", "build", "execute"},
		map[string]*types.Task{
			"resolve": {Capability: "entity_resolution"},
			"build":   {Capability: "es_query_builder"},
			"execute": {Capability: "es_executor"},
		},
		types.StrategyElasticsearch, 1,
	)
	if err != nil {
		t.Fatalf("NewPlan: %v", err)
	}
	return p
}

func TestHappyPathLifecycle(t *testing.T) {
	p := threeTaskPlan(t)

	for _, want := range []string{"resolve", "build", "execute"} {
		key, task, err := SelectNext(p)
		if err != nil {
			t.Fatalf("SelectNext: %v", err)
		}
		if key != want {
			t.Fatalf("SelectNext = %q, want %q", key, want)
		}
		if task.Status != types.TaskPending {
			t.Fatalf("selected task %s is %s", key, task.Status)
		}
		if err := Begin(p, key); err != nil {
			t.Fatalf("Begin(%s): %v", key, err)
		}
		if n := p.InProgressCount(); n != 1 {
			t.Fatalf("in-progress count = %d during %s", n, key)
		}
		if err := Complete(p, key, types.Success(nil)); err != nil {
			t.Fatalf("Complete(%s): %v", key, err)
		}
	}

	if !p.Completed() {
		t.Error("plan should be completed")
	}
	if p.Cursor != "" {
		t.Errorf("cursor = %q after completion, want empty", p.Cursor)
	}
	if _, _, err := SelectNext(p); !errors.Is(err, ErrExhausted) {
		t.Errorf("SelectNext on done plan = %v, want ErrExhausted", err)
	}
	got := p.CompletedKeys
	if len(got) != 3 || got[0] != "resolve" || got[1] != "build" || got[2] != "execute" {
		t.Errorf("CompletedKeys = %v", got)
	}
}

func TestBeginGuards(t *testing.T) {
	p := threeTaskPlan(t)
	if err := Begin(p, "nope"); !errors.Is(err, ErrUnknownTask) {
		t.Errorf("Begin unknown = %v, want ErrUnknownTask", err)
	}
	if err := Begin(p, "resolve"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := Begin(p, "build"); !errors.Is(err, ErrBusy) {
		t.Errorf("second Begin = %v, want ErrBusy", err)
	}
	if err := Begin(p, "resolve"); !errors.Is(err, ErrNotPending) {
		t.Errorf("re-Begin = %v, want ErrNotPending", err)
	}
}

func TestClarificationPauseAndRewind(t *testing.T) {
	p := threeTaskPlan(t)
	if err := Begin(p, "resolve"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	outcome := types.NeedClarification("Which Miami?", "Miami, FL", "Miami, OH")
	if err := Pause(p, "resolve", outcome); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if p.Tasks["resolve"].Status != types.TaskInProgress {
		t.Error("paused task should remain in_progress")
	}
	if p.Cursor != "resolve" {
		t.Errorf("cursor = %q, want resolve", p.Cursor)
	}
	if len(p.CompletedKeys) != 0 {
		t.Error("pause must not append to CompletedKeys")
	}

	// Next turn: merge the answer and rewind so the same task runs again.
	if err := MergeAnswer(p, "resolve", "clarification_answer", "Miami, FL"); err != nil {
		t.Fatalf("MergeAnswer: %v", err)
	}
	if err := Rewind(p, "resolve"); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	key, task, err := SelectNext(p)
	if err != nil || key != "resolve" {
		t.Fatalf("SelectNext after rewind = %q, %v", key, err)
	}
	if task.Params["clarification_answer"] != "Miami, FL" {
		t.Errorf("answer not merged: %v", task.Params)
	}
}

func TestFailureStaysInProgressUntilRewound(t *testing.T) {
	p := threeTaskPlan(t)
	if err := Begin(p, "resolve"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := Complete(p, "resolve", types.Success(nil)); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if err := Begin(p, "build"); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := Fail(p, "build", types.Fail("timeout")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if p.Tasks["build"].Status != types.TaskInProgress {
		t.Error("failed task should remain in_progress")
	}
	if got := FailedKey(p); got != "build" {
		t.Errorf("FailedKey = %q, want build", got)
	}

	// Retry: rewind and run the same task again without losing progress.
	if err := Rewind(p, "build"); err != nil {
		t.Fatalf("Rewind: %v", err)
	}
	if got := FailedKey(p); got != "" {
		t.Errorf("FailedKey after rewind = %q, want empty", got)
	}
	key, _, err := SelectNext(p)
	if err != nil || key != "build" {
		t.Fatalf("SelectNext after rewind = %q, %v", key, err)
	}
	if err := Begin(p, "build"); err != nil {
		t.Fatalf("Begin after rewind: %v", err)
	}
	if err := Complete(p, "build", types.Success(nil)); err != nil {
		t.Fatalf("Complete after retry: %v", err)
	}
	if p.Tasks["resolve"].Status != types.TaskCompleted {
		t.Error("earlier completion must survive the failure")
	}
}

func TestCompleteRequiresInProgress(t *testing.T) {
	p := threeTaskPlan(t)
	if err := Complete(p, "resolve", types.Success(nil)); !errors.Is(err, ErrNotInProgress) {
		t.Errorf("Complete pending = %v, want ErrNotInProgress", err)
	}
}

func TestNilPlan(t *testing.T) {
	if _, _, err := SelectNext(nil); !errors.Is(err, ErrNoPlan) {
		t.Errorf("SelectNext(nil) = %v", err)
	}
	if err := Begin(nil, "x"); !errors.Is(err, ErrNoPlan) {
		t.Errorf("Begin(nil) = %v", err)
	}
}
