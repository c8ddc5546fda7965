// Package routing holds the pure decision functions of the turn state
// machine. Both routers take a snapshot of turn state and return the next
// phase; they never mutate anything, which keeps the engine loop trivially
// testable.
package routing

import (
	"helmsman/internal/types"
)

// Phase is a node of the turn state machine.
type Phase string

const (
	PhaseClassify Phase = "classify"
	PhaseRewrite  Phase = "rewrite"
	PhasePlan     Phase = "plan"
	PhaseExecute  Phase = "execute"
	PhaseRespond  Phase = "respond"
	PhaseClarify  Phase = "clarify"
	PhaseError    Phase = "error"
)

// Terminal reports whether the phase ends the turn.
func (p Phase) Terminal() bool {
	return p == PhaseRespond || p == PhaseClarify || p == PhaseError
}

// AfterClassify decides where a turn goes once classification has run.
//
// The classifier asks for clarification before anything else. A reusable plan
// only survives when the classifier marked it valid AND one actually exists;
// every other path rebuilds the plan from scratch after a rewrite.
func AfterClassify(c *types.Classification, hasPlan bool) Phase {
	if c == nil {
		return PhaseError
	}
	if len(c.NeedsClarification) > 0 {
		return PhaseClarify
	}

	switch c.Intent {
	case types.IntentNewRequest, types.IntentModification:
		return PhaseRewrite
	case types.IntentExactAnswer, types.IntentContinuation, types.IntentClarificationResponse:
		if c.PlanValid && hasPlan {
			return PhaseExecute
		}
		return PhaseRewrite
	default:
		return PhaseError
	}
}

// AfterExecute decides where a turn goes once one task has run.
//
// Clarification and failure short-circuit the loop immediately. Success keeps
// executing until the plan is exhausted, bounded by the iteration guard.
func AfterExecute(outcome *types.Outcome, planCompleted bool, iterations, maxIterations int) Phase {
	if outcome == nil {
		return PhaseError
	}
	switch outcome.Status {
	case types.OutcomeFailure:
		return PhaseError
	case types.OutcomeClarification:
		return PhaseClarify
	case types.OutcomeSuccess:
		if planCompleted {
			return PhaseRespond
		}
		if iterations >= maxIterations {
			return PhaseError
		}
		return PhaseExecute
	default:
		return PhaseError
	}
}
