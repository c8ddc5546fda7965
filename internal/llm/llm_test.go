package llm

import (
	"context"
	"strings"
	"testing"

	"helmsman/internal/capability"
	"helmsman/internal/types"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"prose wrapped", `Here you go: {"a":1} hope that helps`, `{"a":1}`, false},
		{"no object", "sorry, I cannot", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractJSON(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("extractJSON = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHeuristicClassify(t *testing.T) {
	h := Heuristic{}
	ctx := context.Background()

	tests := []struct {
		name       string
		in         ClassifyInput
		wantIntent types.Intent
		wantValid  bool
	}{
		{"fresh question",
			ClassifyInput{Input: "how many users signed up last week"},
			types.IntentNewRequest, false},
		{"continuation",
			ClassifyInput{Input: "go ahead"},
			types.IntentContinuation, true},
		{"option pick is exact answer",
			ClassifyInput{Input: "Miami, FL", PendingQuestion: "Which Miami?",
				PendingOptions: []string{"Miami, FL", "Miami, OH"}},
			types.IntentExactAnswer, true},
		{"short reply to question is exact answer",
			ClassifyInput{Input: "the florida one", PendingQuestion: "Which Miami?"},
			types.IntentExactAnswer, true},
		{"answer with new requirements is modification",
			ClassifyInput{Input: "Miami, FL, but actually only active users",
				PendingQuestion: "Which Miami?"},
			types.IntentModification, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.Classify(ctx, tt.in)
			if err != nil {
				t.Fatalf("Classify: %v", err)
			}
			if got.Intent != tt.wantIntent {
				t.Errorf("intent = %s, want %s", got.Intent, tt.wantIntent)
			}
			if got.PlanValid != tt.wantValid {
				t.Errorf("plan_valid = %v, want %v", got.PlanValid, tt.wantValid)
			}
		})
	}
}

func TestHeuristicPlanPipelines(t *testing.T) {
	h := Heuristic{}
	ctx := context.Background()

	tests := []struct {
		name         string
		question     string
		wantStrategy types.Strategy
		wantLast     string
	}{
		{"count question goes to search", "how many users in miami", types.StrategyElasticsearch, "format"},
		{"relationship question goes to graphql", "which orders are related to user 42", types.StrategyGraphQL, "format"},
		{"mixed question goes hybrid", "count users related to these orders", types.StrategyHybrid, "format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := h.PlanTasks(ctx, PlanInput{Question: tt.question, TurnID: 1})
			if err != nil {
				t.Fatalf("PlanTasks: %v", err)
			}
			if plan.Strategy != tt.wantStrategy {
				t.Errorf("strategy = %s, want %s", plan.Strategy, tt.wantStrategy)
			}
			if plan.Cursor != plan.Order[0] {
				t.Errorf("cursor = %q, want first task", plan.Cursor)
			}
			if got := plan.Order[len(plan.Order)-1]; got != tt.wantLast {
				t.Errorf("last task = %q, want %q", got, tt.wantLast)
			}
			if plan.Order[0] != "resolve_entities" {
				t.Errorf("first task = %q, want resolve_entities", plan.Order[0])
			}
			for key, task := range plan.Tasks {
				if task.Params["question"] != tt.question {
					t.Errorf("task %s missing question param", key)
				}
			}
		})
	}
}

func TestHeuristicRewrite(t *testing.T) {
	h := Heuristic{}
	out, err := h.Rewrite(context.Background(), RewriteInput{
		Input:           "Miami, FL",
		PendingQuestion: "Which Miami?",
	})
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if out != `Miami, FL (answering "Which Miami?")` {
		t.Errorf("Rewrite = %q", out)
	}
}

func TestHeuristicRespond(t *testing.T) {
	h := Heuristic{}
	out, _ := h.Respond(context.Background(), RespondInput{RecordCount: 0})
	if out != "No matching records were found." {
		t.Errorf("Respond(0) = %q", out)
	}
	out, _ = h.Respond(context.Background(), RespondInput{RecordCount: 5})
	if out != "Found 5 matching records." {
		t.Errorf("Respond(5) = %q", out)
	}
}

func TestPlanPromptListsCapabilityCatalog(t *testing.T) {
	prompt := planUserPrompt(PlanInput{
		Question: "How many shipments reached Miami?",
		Capabilities: []capability.Summary{
			{Name: "entity_resolution", Description: "resolves entity aliases", CanClarify: true},
			{Name: "es_executor", Description: "runs the search"},
		},
	})
	if !strings.Contains(prompt, "entity_resolution: resolves entity aliases (may ask the user to clarify)") {
		t.Errorf("clarifying capability not rendered:\n%s", prompt)
	}
	if !strings.Contains(prompt, "es_executor: runs the search") {
		t.Errorf("executor not rendered:\n%s", prompt)
	}
}

func TestCollaboratorsFallBackWithoutClient(t *testing.T) {
	c := NewCollaborators(nil)
	cls, err := c.Classify(context.Background(), ClassifyInput{Input: "continue"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if cls.Intent != types.IntentContinuation {
		t.Errorf("intent = %s", cls.Intent)
	}
	plan, err := c.PlanTasks(context.Background(), PlanInput{Question: "find users", TurnID: 1})
	if err != nil || plan == nil {
		t.Fatalf("PlanTasks: %v", err)
	}
}
