// Package types defines the shared data model for the helmsman turn engine:
// intent classifications, plans and their tasks, capability outcomes, and the
// per-task history records that feed both memory tiers.
package types

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// =============================================================================
// INTENT CLASSIFICATION
// =============================================================================

// Intent is the classified intent of one user input.
type Intent string

const (
	// IntentNewRequest starts a fresh task; any existing plan is discarded.
	IntentNewRequest Intent = "new_request"

	// IntentExactAnswer is a direct answer to a clarification question; the
	// paused task is re-run with the answer, the plan stays valid.
	IntentExactAnswer Intent = "exact_answer"

	// IntentModification answers a clarification but adds new requirements;
	// the plan is discarded and rebuilt.
	IntentModification Intent = "modification"

	// IntentContinuation resumes the current plan ("continue", "go ahead").
	IntentContinuation Intent = "continuation"

	// IntentClarificationResponse marks input that responds to a question the
	// engine asked but that the classifier could not map to exact/modification.
	IntentClarificationResponse Intent = "clarification_response"
)

// Valid reports whether the intent is one of the known values.
func (i Intent) Valid() bool {
	switch i {
	case IntentNewRequest, IntentExactAnswer, IntentModification,
		IntentContinuation, IntentClarificationResponse:
		return true
	}
	return false
}

// TimeRange is an optional parsed time window from the user input.
type TimeRange struct {
	Start string `json:"start,omitempty"` // ISO date or relative anchor
	End   string `json:"end,omitempty"`
	Kind  string `json:"kind,omitempty"` // "absolute" or "relative"
}

// Classification is the structured decision produced by the classification
// collaborator for one user input. The engine only consumes it; deciding its
// content is out of scope for the core.
type Classification struct {
	Intent             Intent              `json:"intent"`
	Confidence         float64             `json:"confidence"`
	PlanValid          bool                `json:"plan_valid"`
	Entities           map[string][]string `json:"entities,omitempty"`
	TimeRange          *TimeRange          `json:"time_range,omitempty"`
	NeedsClarification []string            `json:"needs_clarification,omitempty"`
	RewrittenQuestion  string              `json:"rewritten_question,omitempty"`
}

// =============================================================================
// PLAN / TODO LIST
// =============================================================================

// TaskStatus tracks a task through its lifecycle.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
)

// Strategy describes the overall execution approach of a plan. It is
// informational: downstream capabilities interpret it, the engine does not.
type Strategy string

const (
	StrategyElasticsearch Strategy = "elasticsearch"
	StrategyGraphQL       Strategy = "graphql"
	StrategyHybrid        Strategy = "hybrid"
)

// Task is one capability invocation with fixed parameters and a status.
type Task struct {
	Capability string                 `json:"capability"`
	Params     map[string]interface{} `json:"params,omitempty"`
	Status     TaskStatus             `json:"status"`
	Result     *Outcome               `json:"result,omitempty"`
}

// Plan is the ordered set of subtasks derived from one planning event.
//
// Order fixes the declaration order at planning time; cursor recomputation
// scans Order, never map iteration order, so task selection is deterministic.
type Plan struct {
	Tasks         map[string]*Task `json:"tasks"`
	Order         []string         `json:"order"`
	Cursor        string           `json:"cursor,omitempty"` // empty means all tasks completed
	CompletedKeys []string         `json:"completed_keys,omitempty"`
	CreatedAtTurn int64            `json:"created_at_turn"`
	Strategy      Strategy         `json:"strategy"`
}

// NewPlan builds a plan from tasks in declaration order. The cursor starts at
// the first task. Keys in order must be unique and present in tasks.
func NewPlan(order []string, tasks map[string]*Task, strategy Strategy, createdAtTurn int64) (*Plan, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("plan has no tasks")
	}
	seen := make(map[string]bool, len(order))
	for _, key := range order {
		if seen[key] {
			return nil, fmt.Errorf("duplicate task key: %s", key)
		}
		seen[key] = true
		task, ok := tasks[key]
		if !ok {
			return nil, fmt.Errorf("ordered key %s missing from task map", key)
		}
		if task.Status == "" {
			task.Status = TaskPending
		}
	}
	if len(tasks) != len(order) {
		return nil, fmt.Errorf("task map has %d entries but order lists %d", len(tasks), len(order))
	}
	return &Plan{
		Tasks:         tasks,
		Order:         append([]string(nil), order...),
		Cursor:        order[0],
		CreatedAtTurn: createdAtTurn,
		Strategy:      strategy,
	}, nil
}

// Completed reports whether every task in the plan is completed.
func (p *Plan) Completed() bool {
	for _, task := range p.Tasks {
		if task.Status != TaskCompleted {
			return false
		}
	}
	return true
}

// InProgressCount returns the number of in-progress tasks. The plan invariant
// keeps this at most 1.
func (p *Plan) InProgressCount() int {
	n := 0
	for _, task := range p.Tasks {
		if task.Status == TaskInProgress {
			n++
		}
	}
	return n
}

// Clone returns a deep copy of the plan for read-only introspection.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	cp := &Plan{
		Tasks:         make(map[string]*Task, len(p.Tasks)),
		Order:         append([]string(nil), p.Order...),
		Cursor:        p.Cursor,
		CompletedKeys: append([]string(nil), p.CompletedKeys...),
		CreatedAtTurn: p.CreatedAtTurn,
		Strategy:      p.Strategy,
	}
	for key, task := range p.Tasks {
		t := *task
		if task.Params != nil {
			t.Params = make(map[string]interface{}, len(task.Params))
			for k, v := range task.Params {
				t.Params[k] = v
			}
		}
		cp.Tasks[key] = &t
	}
	return cp
}

// Summary renders a short progress line for classification prompts and
// introspection ("2/5 done, current: build_query").
func (p *Plan) Summary() string {
	if p == nil {
		return "no active plan"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d/%d done", len(p.CompletedKeys), len(p.Order))
	if p.Cursor != "" {
		fmt.Fprintf(&sb, ", current: %s", p.Cursor)
	}
	fmt.Fprintf(&sb, ", strategy: %s", p.Strategy)
	return sb.String()
}

// =============================================================================
// CAPABILITY OUTCOME (three-way envelope)
// =============================================================================

// OutcomeStatus is the three-way result of a capability invocation.
type OutcomeStatus string

const (
	OutcomeSuccess       OutcomeStatus = "success"
	OutcomeClarification OutcomeStatus = "clarification"
	OutcomeFailure       OutcomeStatus = "failure"
)

// ClarificationRequest asks the user for input before a task can complete.
type ClarificationRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

// Prompt renders the question with enumerated options when present.
func (c *ClarificationRequest) Prompt() string {
	if len(c.Options) == 0 {
		return c.Question
	}
	return fmt.Sprintf("%s (%s)", c.Question, strings.Join(c.Options, " / "))
}

// OutcomeMeta carries execution metadata for monitoring and history.
type OutcomeMeta struct {
	Duration   time.Duration `json:"duration,omitempty"`
	TokensUsed int           `json:"tokens_used,omitempty"`
	Source     string        `json:"source,omitempty"` // which backend served the call
}

// Outcome is the uniform result envelope every capability returns. Exactly
// one of the three statuses applies; constructors keep the shape consistent.
type Outcome struct {
	Status        OutcomeStatus          `json:"status"`
	Data          map[string]interface{} `json:"data,omitempty"`
	Clarification *ClarificationRequest  `json:"clarification,omitempty"`
	Diagnostic    string                 `json:"diagnostic,omitempty"`
	Meta          OutcomeMeta            `json:"meta,omitempty"`
}

// Success builds a successful outcome.
func Success(data map[string]interface{}) *Outcome {
	return &Outcome{Status: OutcomeSuccess, Data: data}
}

// NeedClarification builds a clarification outcome.
func NeedClarification(question string, options ...string) *Outcome {
	return &Outcome{
		Status:        OutcomeClarification,
		Clarification: &ClarificationRequest{Question: question, Options: options},
	}
}

// Fail builds a failure outcome with an internal diagnostic.
func Fail(format string, args ...interface{}) *Outcome {
	return &Outcome{Status: OutcomeFailure, Diagnostic: fmt.Sprintf(format, args...)}
}

// IsSuccess reports whether the outcome succeeded.
func (o *Outcome) IsSuccess() bool { return o != nil && o.Status == OutcomeSuccess }

// =============================================================================
// TURN SUB-RECORDS
// =============================================================================

// ResolvedEntity is one canonical match from entity resolution.
type ResolvedEntity struct {
	Name       string  `json:"name"`
	ID         string  `json:"id"`
	Confidence float64 `json:"confidence"`
}

// ResolutionRecord captures entity resolution and field mapping state for the
// current turn.
type ResolutionRecord struct {
	Unresolved    map[string][]string         `json:"unresolved,omitempty"`
	Resolved      map[string][]ResolvedEntity `json:"resolved,omitempty"`
	Ambiguous     map[string][]ResolvedEntity `json:"ambiguous,omitempty"`
	FieldMappings map[string]string           `json:"field_mappings,omitempty"` // business term -> schema field
}

// QueryRecord captures query construction state for the current turn.
type QueryRecord struct {
	Source    string                 `json:"source"` // elasticsearch or graphql
	Query     map[string]interface{} `json:"query,omitempty"`
	GraphQL   string                 `json:"graphql,omitempty"`
	Variables map[string]interface{} `json:"variables,omitempty"`
	Errors    []string               `json:"errors,omitempty"`
}

// ExecutionRecord captures query execution results for the current turn,
// including everything needed to repeat the action later.
type ExecutionRecord struct {
	RecordCount int                    `json:"record_count"`
	Duration    time.Duration          `json:"duration,omitempty"`
	Sources     []string               `json:"sources,omitempty"`
	Summary     string                 `json:"summary,omitempty"`
	HowToRepeat map[string]interface{} `json:"how_to_repeat,omitempty"`
}

// =============================================================================
// HISTORY UNIT
// =============================================================================

// ActionRecord summarizes one executed action inside a turn.
type ActionRecord struct {
	Capability string `json:"capability"`
	Summary    string `json:"summary"`
	Status     string `json:"status"`
}

// TurnRecord is the immutable history unit created once per completed task
// (including clarification and error terminations). It is the unit of both
// memory tiers and is never mutated after creation.
type TurnRecord struct {
	ID                string                 `json:"id"` // uuid
	TurnID            int64                  `json:"turn_id"`
	ThreadID          string                 `json:"thread_id"`
	UserInput         string                 `json:"user_input"`
	Response          string                 `json:"response"`
	Intent            Intent                 `json:"intent"`
	RewrittenQuestion string                 `json:"rewritten_question,omitempty"`
	Entities          map[string][]string    `json:"entities,omitempty"`
	Actions           []ActionRecord         `json:"actions,omitempty"`
	HowToRepeat       map[string]interface{} `json:"how_to_repeat,omitempty"`
	StartedAt         time.Time              `json:"started_at"`
	CompletedAt       time.Time              `json:"completed_at"`
}

// ContextString renders the exchange for short-term memory injection into
// classification and rewrite prompts. Kept terse to save tokens.
func (tr *TurnRecord) ContextString() string {
	return fmt.Sprintf("User: %s\nAssistant: %s", tr.UserInput, tr.Response)
}

// EmbeddingText renders the search-friendly long-term representation:
// question, intent, entities, action summaries, and a response excerpt.
func (tr *TurnRecord) EmbeddingText() string {
	parts := make([]string, 0, 5)

	question := tr.UserInput
	if tr.RewrittenQuestion != "" {
		question = tr.RewrittenQuestion
	}
	parts = append(parts, "Question: "+question)
	parts = append(parts, "Intent: "+string(tr.Intent))

	if len(tr.Entities) > 0 {
		cats := make([]string, 0, len(tr.Entities))
		for cat := range tr.Entities {
			cats = append(cats, cat)
		}
		sort.Strings(cats)
		entityStrs := make([]string, 0, len(cats))
		for _, cat := range cats {
			entityStrs = append(entityStrs, cat+":"+strings.Join(tr.Entities[cat], ","))
		}
		parts = append(parts, "Entities: "+strings.Join(entityStrs, " "))
	}

	if len(tr.Actions) > 0 {
		actionStrs := make([]string, 0, len(tr.Actions))
		for _, a := range tr.Actions {
			actionStrs = append(actionStrs, a.Capability+": "+a.Summary)
		}
		parts = append(parts, "Actions: "+strings.Join(actionStrs, "; "))
	}

	excerpt := tr.Response
	if len(excerpt) > 200 {
		excerpt = excerpt[:200]
	}
	parts = append(parts, "Response: "+excerpt)

	return strings.Join(parts, "\n")
}
