package engine

import (
	"context"
	"errors"

	"helmsman/internal/logging"
	"helmsman/internal/memory"
	"helmsman/internal/store"
	"helmsman/internal/types"
)

// Checkpointer persists per-thread state between input cycles.
type Checkpointer interface {
	SaveCheckpoint(ctx context.Context, cp *store.Checkpoint) error
	LoadCheckpoint(ctx context.Context, threadID string) (*store.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, threadID string) error
}

// session is the long-lived per-thread state: the active plan, the monotonic
// history counter, any pending clarification, and the short-term memory tier.
type session struct {
	threadID    string
	plan        *types.Plan
	turnCounter int64

	pendingTaskKey  string
	pendingQuestion string
	pendingOptions  []string

	memory *memory.Manager
}

// restore rebuilds a session from its checkpoint, if one exists. Short-term
// memory starts empty after a restart; history units stay durable long-term.
func (e *Engine) restore(ctx context.Context, threadID string) *session {
	sess := &session{
		threadID: threadID,
		memory:   memory.NewManager(memory.NewShortTermMemory(e.cfg.Memory.ShortTermTurns), e.forwarder),
	}

	if e.checkpointer == nil {
		return sess
	}
	cp, err := e.checkpointer.LoadCheckpoint(ctx, threadID)
	if err != nil {
		if !errors.Is(err, store.ErrNoCheckpoint) {
			logging.TurnError("failed to load checkpoint for %s, starting fresh: %v", threadID, err)
		}
		return sess
	}

	sess.turnCounter = cp.TurnCounter
	sess.plan = cp.Plan
	sess.pendingTaskKey = cp.PendingTaskKey
	sess.pendingQuestion = cp.PendingQuestion
	if sess.plan != nil && cp.PendingTaskKey != "" {
		if task, ok := sess.plan.Tasks[cp.PendingTaskKey]; ok &&
			task.Result != nil && task.Result.Clarification != nil {
			sess.pendingOptions = task.Result.Clarification.Options
		}
	}
	logging.Turn("restored thread %s at turn %d", threadID, cp.TurnCounter)
	return sess
}

// checkpoint persists the session after a terminal phase.
func (e *Engine) checkpoint(ctx context.Context, sess *session) {
	if e.checkpointer == nil {
		return
	}
	cp := &store.Checkpoint{
		ThreadID:        sess.threadID,
		TurnCounter:     sess.turnCounter,
		Plan:            sess.plan,
		PendingQuestion: sess.pendingQuestion,
		PendingTaskKey:  sess.pendingTaskKey,
	}
	if err := e.checkpointer.SaveCheckpoint(ctx, cp); err != nil {
		logging.TurnError("failed to checkpoint thread %s: %v", sess.threadID, err)
	}
}

// hasUsablePlan reports whether the session's plan still has work left.
func (s *session) hasUsablePlan() bool {
	return s.plan != nil && !s.plan.Completed()
}

// clearPending drops any outstanding clarification.
func (s *session) clearPending() {
	s.pendingTaskKey = ""
	s.pendingQuestion = ""
	s.pendingOptions = nil
}
