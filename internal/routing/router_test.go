package routing

import (
	"testing"

	"helmsman/internal/types"
)

func TestAfterClassify(t *testing.T) {
	tests := []struct {
		name    string
		c       *types.Classification
		hasPlan bool
		want    Phase
	}{
		{"nil classification", nil, false, PhaseError},
		{"needs clarification wins",
			&types.Classification{Intent: types.IntentNewRequest, NeedsClarification: []string{"time range"}},
			false, PhaseClarify},
		{"new request rewrites",
			&types.Classification{Intent: types.IntentNewRequest, PlanValid: true}, true, PhaseRewrite},
		{"modification discards plan",
			&types.Classification{Intent: types.IntentModification, PlanValid: true}, true, PhaseRewrite},
		{"exact answer resumes valid plan",
			&types.Classification{Intent: types.IntentExactAnswer, PlanValid: true}, true, PhaseExecute},
		{"exact answer without plan replans",
			&types.Classification{Intent: types.IntentExactAnswer, PlanValid: true}, false, PhaseRewrite},
		{"continuation with invalidated plan replans",
			&types.Classification{Intent: types.IntentContinuation, PlanValid: false}, true, PhaseRewrite},
		{"continuation resumes",
			&types.Classification{Intent: types.IntentContinuation, PlanValid: true}, true, PhaseExecute},
		{"clarification response resumes",
			&types.Classification{Intent: types.IntentClarificationResponse, PlanValid: true}, true, PhaseExecute},
		{"unknown intent errors",
			&types.Classification{Intent: "banter"}, true, PhaseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AfterClassify(tt.c, tt.hasPlan); got != tt.want {
				t.Errorf("AfterClassify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAfterExecute(t *testing.T) {
	tests := []struct {
		name          string
		outcome       *types.Outcome
		planCompleted bool
		iterations    int
		want          Phase
	}{
		{"nil outcome", nil, false, 1, PhaseError},
		{"failure short-circuits", types.Fail("boom"), false, 1, PhaseError},
		{"clarification pauses", types.NeedClarification("which one?"), false, 1, PhaseClarify},
		{"success with work left loops", types.Success(nil), false, 3, PhaseExecute},
		{"success on last task responds", types.Success(nil), true, 3, PhaseRespond},
		{"iteration guard trips", types.Success(nil), false, 10, PhaseError},
		{"completed plan beats guard", types.Success(nil), true, 10, PhaseRespond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AfterExecute(tt.outcome, tt.planCompleted, tt.iterations, 10); got != tt.want {
				t.Errorf("AfterExecute() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhaseTerminal(t *testing.T) {
	for phase, terminal := range map[Phase]bool{
		PhaseClassify: false,
		PhaseRewrite:  false,
		PhasePlan:     false,
		PhaseExecute:  false,
		PhaseRespond:  true,
		PhaseClarify:  true,
		PhaseError:    true,
	} {
		if phase.Terminal() != terminal {
			t.Errorf("%s.Terminal() = %v, want %v", phase, phase.Terminal(), terminal)
		}
	}
}
