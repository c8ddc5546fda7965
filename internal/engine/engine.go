package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"helmsman/internal/capability"
	"helmsman/internal/config"
	"helmsman/internal/llm"
	"helmsman/internal/logging"
	"helmsman/internal/memory"
	"helmsman/internal/plan"
	"helmsman/internal/routing"
	"helmsman/internal/types"
)

const fallbackErrorResponse = "Something went wrong while working on that. Please try again or rephrase your request."

// Options wires an Engine. Registry is required; collaborators default to
// the deterministic heuristics, and persistence is optional.
type Options struct {
	Config       *config.Config
	Registry     *capability.Registry
	Classifier   llm.Classifier
	Rewriter     llm.Rewriter
	Planner      llm.Planner
	Responder    llm.Responder
	Checkpointer Checkpointer
	LongTerm     memory.LongTermStore
	Embedder     memory.Embedder
}

// Engine executes turns for any number of threads. Turns within one thread
// are serialized; different threads run independently.
type Engine struct {
	cfg          *config.Config
	registry     *capability.Registry
	classifier   llm.Classifier
	rewriter     llm.Rewriter
	planner      llm.Planner
	responder    llm.Responder
	checkpointer Checkpointer
	forwarder    *memory.Forwarder

	mu       sync.Mutex
	sessions map[string]*session
	turnMu   map[string]*sync.Mutex
}

// New builds an engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine requires a capability registry")
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	h := llm.Heuristic{}
	e := &Engine{
		cfg:          cfg,
		registry:     opts.Registry,
		classifier:   opts.Classifier,
		rewriter:     opts.Rewriter,
		planner:      opts.Planner,
		responder:    opts.Responder,
		checkpointer: opts.Checkpointer,
		sessions:     make(map[string]*session),
		turnMu:       make(map[string]*sync.Mutex),
	}
	if e.classifier == nil {
		e.classifier = h
	}
	if e.rewriter == nil {
		e.rewriter = h
	}
	if e.planner == nil {
		e.planner = h
	}
	if e.responder == nil {
		e.responder = h
	}
	if opts.LongTerm != nil {
		e.forwarder = memory.NewForwarder(opts.LongTerm, memory.ForwarderOptions{
			QueueSize: cfg.Memory.QueueSize,
			Retries:   cfg.Memory.LongTermRetries,
			Backoff:   cfg.GetLongTermBackoff(),
			Embedder:  opts.Embedder,
		})
	}
	return e, nil
}

// Close flushes long-term memory.
func (e *Engine) Close() {
	if e.forwarder != nil {
		e.forwarder.Close()
	}
}

// TurnResult is what one input cycle hands back to the caller.
type TurnResult struct {
	Response      string
	Phase         routing.Phase
	Intent        types.Intent
	Clarification *types.ClarificationRequest
	TurnID        int64 // id of the last history unit recorded this cycle
}

// session returns (creating or restoring) the thread session plus its turn
// lock.
func (e *Engine) session(ctx context.Context, threadID string) (*session, *sync.Mutex) {
	e.mu.Lock()
	defer e.mu.Unlock()
	sess, ok := e.sessions[threadID]
	if !ok {
		sess = e.restore(ctx, threadID)
		e.sessions[threadID] = sess
		e.turnMu[threadID] = &sync.Mutex{}
	}
	return sess, e.turnMu[threadID]
}

// WarmThread restores a thread session from its checkpoint without running
// a turn, so introspection works right after startup.
func (e *Engine) WarmThread(ctx context.Context, threadID string) {
	e.session(ctx, threadID)
}

// ActivePlan returns a deep copy of the thread's plan for introspection, or
// nil when no plan exists.
func (e *Engine) ActivePlan(threadID string) *types.Plan {
	e.mu.Lock()
	sess, ok := e.sessions[threadID]
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return sess.plan.Clone()
}

// ClearMemory wipes the thread's short-term memory. Durable history units
// are untouched.
func (e *Engine) ClearMemory(threadID string) {
	e.mu.Lock()
	sess, ok := e.sessions[threadID]
	e.mu.Unlock()
	if !ok {
		return
	}
	sess.memory.Clear()
	sess.turnCounter = 0
	e.checkpoint(context.Background(), sess)
}

// RunTurn drives one user input to a terminal phase.
func (e *Engine) RunTurn(ctx context.Context, threadID, input string) (*TurnResult, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		// Blank input resolves to a clarifying response like every other
		// failure path; RunTurn never surfaces an error for it.
		question := "I didn't catch that. What would you like to know?"
		return &TurnResult{
			Response:      question,
			Phase:         routing.PhaseClarify,
			Clarification: &types.ClarificationRequest{Question: question},
		}, nil
	}

	sess, lock := e.session(ctx, threadID)
	lock.Lock()
	defer lock.Unlock()

	timer := logging.StartTimer(logging.CategoryTurn, "RunTurn")
	defer timer.Stop()

	state := &turnState{Input: input}

	// Classification runs exactly once per input.
	cls, err := e.classifier.Classify(ctx, llm.ClassifyInput{
		Input:            input,
		RecentTranscript: sess.memory.RecentText(e.cfg.Memory.ShortTermTurns),
		PlanSummary:      sess.plan.Summary(),
		PendingQuestion:  sess.pendingQuestion,
		PendingOptions:   sess.pendingOptions,
	})
	if err != nil {
		logging.TurnError("classification failed: %v", err)
		return e.finishError(ctx, sess, state, fmt.Sprintf("classification failed: %v", err)), nil
	}
	state.Classification = cls
	logging.Routing("intent=%s confidence=%.2f plan_valid=%v", cls.Intent, cls.Confidence, cls.PlanValid)

	switch phase := routing.AfterClassify(cls, sess.hasUsablePlan()); phase {
	case routing.PhaseClarify:
		// The input itself was too ambiguous to act on. No task ran, so no
		// history unit is recorded.
		question := strings.Join(cls.NeedsClarification, " ")
		sess.pendingQuestion = question
		e.checkpoint(ctx, sess)
		return &TurnResult{
			Response:      question,
			Phase:         routing.PhaseClarify,
			Intent:        cls.Intent,
			Clarification: &types.ClarificationRequest{Question: question},
			TurnID:        sess.turnCounter,
		}, nil

	case routing.PhaseError:
		return e.finishError(ctx, sess, state, fmt.Sprintf("unroutable classification: intent=%q", cls.Intent)), nil

	case routing.PhaseRewrite:
		rewritten, err := e.rewriter.Rewrite(ctx, llm.RewriteInput{
			Input:            input,
			RecentTranscript: sess.memory.RecentText(e.cfg.Memory.ShortTermTurns),
			PendingQuestion:  sess.pendingQuestion,
		})
		if err != nil || rewritten == "" {
			rewritten = input
		}
		state.Rewritten = rewritten

		// A replan atomically replaces the whole plan; tasks are never
		// merged between plans.
		newPlan, err := e.planner.PlanTasks(ctx, llm.PlanInput{
			Question:     rewritten,
			Entities:     cls.Entities,
			TimeRange:    cls.TimeRange,
			Capabilities: e.registry.Catalog(),
			TurnID:       sess.turnCounter + 1,
		})
		if err != nil {
			return e.finishError(ctx, sess, state, fmt.Sprintf("planning failed: %v", err)), nil
		}
		sess.plan = newPlan
		sess.clearPending()
		logging.Plan("new plan: %s", newPlan.Summary())

	case routing.PhaseExecute:
		// Resuming the existing plan. A pending clarification means the
		// paused task reruns with the user's answer folded in.
		if sess.pendingTaskKey != "" {
			if err := plan.MergeAnswer(sess.plan, sess.pendingTaskKey, "clarification_answer", input); err != nil {
				return e.finishError(ctx, sess, state, fmt.Sprintf("failed to merge answer: %v", err)), nil
			}
			if err := plan.Rewind(sess.plan, sess.pendingTaskKey); err != nil {
				return e.finishError(ctx, sess, state, fmt.Sprintf("failed to resume task: %v", err)), nil
			}
			sess.clearPending()
		} else if key := plan.FailedKey(sess.plan); key != "" {
			// A task interrupted by a failed turn re-runs; completed work
			// ahead of it survives.
			if err := plan.Rewind(sess.plan, key); err != nil {
				return e.finishError(ctx, sess, state, fmt.Sprintf("failed to retry task: %v", err)), nil
			}
			logging.Plan("retrying failed task %s", key)
		}
	}

	return e.executeLoop(ctx, sess, state)
}

// executeLoop runs plan tasks one at a time until a terminal phase.
func (e *Engine) executeLoop(ctx context.Context, sess *session, state *turnState) (*TurnResult, error) {
	for {
		key, task, err := plan.SelectNext(sess.plan)
		if errors.Is(err, plan.ErrExhausted) {
			// Continuation on an already-finished plan.
			return e.finishRespond(ctx, sess, state), nil
		}
		if err != nil {
			return e.finishError(ctx, sess, state, fmt.Sprintf("task selection: %v", err)), nil
		}

		// A task that already recorded a clarification unit must not record
		// a second unit when its rerun completes.
		alreadyRecorded := task.Result != nil && task.Result.Status == types.OutcomeClarification

		if err := plan.Begin(sess.plan, key); err != nil {
			return e.finishError(ctx, sess, state, fmt.Sprintf("task begin: %v", err)), nil
		}

		started := time.Now()
		outcome := e.registry.Invoke(ctx, task.Capability, &capability.Request{
			Params:     task.Params,
			Trust:      e.cfg.Engine.TrustMode,
			Resolution: state.Resolution,
			Query:      state.Query,
			Execution:  state.Execution,
		})
		state.Iterations++
		state.absorb(outcome)

		action := types.ActionRecord{
			Capability: task.Capability,
			Summary:    actionSummary(outcome),
			Status:     string(outcome.Status),
		}
		state.Actions = append(state.Actions, action)

		switch outcome.Status {
		case types.OutcomeSuccess:
			if err := plan.Complete(sess.plan, key, outcome); err != nil {
				return e.finishError(ctx, sess, state, fmt.Sprintf("task complete: %v", err)), nil
			}
			done := sess.plan.Completed()

			var response string
			if done {
				response = e.draftResponse(ctx, state)
			}
			if !alreadyRecorded {
				unitResponse := action.Summary
				if done {
					unitResponse = response
				}
				e.recordUnit(sess, state, action, unitResponse, started)
			}

			switch routing.AfterExecute(outcome, done, state.Iterations, e.cfg.Engine.MaxIterations) {
			case routing.PhaseRespond:
				e.checkpoint(ctx, sess)
				return &TurnResult{
					Response: response,
					Phase:    routing.PhaseRespond,
					Intent:   state.Classification.Intent,
					TurnID:   sess.turnCounter,
				}, nil
			case routing.PhaseError:
				return e.finishError(ctx, sess, state,
					fmt.Sprintf("iteration limit reached after %d tasks", state.Iterations)), nil
			}
			// PhaseExecute: loop to the next task.

		case types.OutcomeClarification:
			if err := plan.Pause(sess.plan, key, outcome); err != nil {
				return e.finishError(ctx, sess, state, fmt.Sprintf("task pause: %v", err)), nil
			}
			sess.pendingTaskKey = key
			sess.pendingQuestion = outcome.Clarification.Question
			sess.pendingOptions = outcome.Clarification.Options

			if !alreadyRecorded {
				e.recordUnit(sess, state, action, outcome.Clarification.Prompt(), started)
			}
			e.checkpoint(ctx, sess)
			return &TurnResult{
				Response:      outcome.Clarification.Prompt(),
				Phase:         routing.PhaseClarify,
				Intent:        state.Classification.Intent,
				Clarification: outcome.Clarification,
				TurnID:        sess.turnCounter,
			}, nil

		case types.OutcomeFailure:
			logging.TurnError("task %s (%s) failed: %s", key, task.Capability, outcome.Diagnostic)
			if err := plan.Fail(sess.plan, key, outcome); err != nil {
				logging.TurnError("could not record failure on task %s: %v", key, err)
			}
			e.recordUnit(sess, state, action, fallbackErrorResponse, started)
			e.checkpoint(ctx, sess)
			return &TurnResult{
				Response: fallbackErrorResponse,
				Phase:    routing.PhaseError,
				Intent:   state.Classification.Intent,
				TurnID:   sess.turnCounter,
			}, nil
		}
	}
}

// draftResponse turns the execution record into the user-facing answer.
func (e *Engine) draftResponse(ctx context.Context, state *turnState) string {
	in := llm.RespondInput{Question: state.questionText()}
	if state.Execution != nil {
		in.RecordCount = state.Execution.RecordCount
		in.Summary = state.Execution.Summary
		in.Sources = state.Execution.Sources
	} else {
		in.Summary = "Everything in the current plan is already done."
	}
	response, err := e.responder.Respond(ctx, in)
	if err != nil || response == "" {
		if in.Summary != "" {
			return in.Summary
		}
		return fmt.Sprintf("Found %d matching records.", in.RecordCount)
	}
	return response
}

// recordUnit appends one history unit: monotonic id, both memory tiers.
func (e *Engine) recordUnit(sess *session, state *turnState, action types.ActionRecord, response string, started time.Time) {
	sess.turnCounter++
	unit := &types.TurnRecord{
		ID:                uuid.NewString(),
		TurnID:            sess.turnCounter,
		ThreadID:          sess.threadID,
		UserInput:         state.Input,
		Response:          response,
		Intent:            state.Classification.Intent,
		RewrittenQuestion: state.Rewritten,
		Entities:          state.Classification.Entities,
		Actions:           []types.ActionRecord{action},
		StartedAt:         started,
		CompletedAt:       time.Now(),
	}
	if state.Execution != nil {
		unit.HowToRepeat = state.Execution.HowToRepeat
	}
	sess.memory.Record(unit)
}

// finishRespond ends a turn that had nothing left to execute.
func (e *Engine) finishRespond(ctx context.Context, sess *session, state *turnState) *TurnResult {
	response := e.draftResponse(ctx, state)
	e.checkpoint(ctx, sess)
	return &TurnResult{
		Response: response,
		Phase:    routing.PhaseRespond,
		Intent:   state.Classification.Intent,
		TurnID:   sess.turnCounter,
	}
}

// finishError ends a turn with a polite message; the diagnostic stays in the
// logs.
func (e *Engine) finishError(ctx context.Context, sess *session, state *turnState, diagnostic string) *TurnResult {
	logging.TurnError("turn failed for thread %s: %s", sess.threadID, diagnostic)
	e.checkpoint(ctx, sess)
	intent := types.Intent("")
	if state.Classification != nil {
		intent = state.Classification.Intent
	}
	return &TurnResult{
		Response: fallbackErrorResponse,
		Phase:    routing.PhaseError,
		Intent:   intent,
		TurnID:   sess.turnCounter,
	}
}

// questionText prefers the rewritten question for prompts and summaries.
func (s *turnState) questionText() string {
	if s.Rewritten != "" {
		return s.Rewritten
	}
	return s.Input
}
