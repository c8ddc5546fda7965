package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"helmsman/internal/capability"
	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// ClassifyInput is everything the classifier may see: the raw input plus the
// short-term transcript and a summary of any active plan.
type ClassifyInput struct {
	Input            string
	RecentTranscript string
	PlanSummary      string
	PendingQuestion  string
	PendingOptions   []string
}

// RewriteInput carries the context for self-contained question rewriting.
type RewriteInput struct {
	Input            string
	RecentTranscript string
	PendingQuestion  string
}

// PlanInput carries the rewritten question and resolved context for planning.
// Capabilities is the registry catalog: names, descriptions, and contract
// flags for the planning prompt.
type PlanInput struct {
	Question     string
	Entities     map[string][]string
	TimeRange    *types.TimeRange
	Capabilities []capability.Summary
	TurnID       int64
}

// RespondInput carries execution results for response drafting.
type RespondInput struct {
	Question    string
	RecordCount int
	Summary     string
	Sources     []string
}

// Classifier decides intent and plan validity for one input.
type Classifier interface {
	Classify(ctx context.Context, in ClassifyInput) (*types.Classification, error)
}

// Rewriter produces a self-contained question from input plus context.
type Rewriter interface {
	Rewrite(ctx context.Context, in RewriteInput) (string, error)
}

// Planner decomposes a question into an ordered task plan.
type Planner interface {
	PlanTasks(ctx context.Context, in PlanInput) (*types.Plan, error)
}

// Responder drafts the user-facing answer from execution results.
type Responder interface {
	Respond(ctx context.Context, in RespondInput) (string, error)
}

// Collaborators bundles all four roles behind one LLM client, each degrading
// to the deterministic heuristic when the model is unavailable or returns
// something unparseable.
type Collaborators struct {
	client    *Client
	heuristic Heuristic
}

// NewCollaborators wires the roles. A nil client means heuristics only.
func NewCollaborators(client *Client) *Collaborators {
	return &Collaborators{client: client}
}

// Classify implements Classifier.
func (c *Collaborators) Classify(ctx context.Context, in ClassifyInput) (*types.Classification, error) {
	if !c.client.Configured() {
		return c.heuristic.Classify(ctx, in)
	}
	out, err := c.client.Complete(ctx, classifySystemPrompt, classifyUserPrompt(in))
	if err != nil {
		logging.LLMError("classification call failed, using heuristic: %v", err)
		return c.heuristic.Classify(ctx, in)
	}
	raw, err := extractJSON(out)
	if err != nil {
		logging.LLMError("classification returned no JSON, using heuristic")
		return c.heuristic.Classify(ctx, in)
	}
	var cls types.Classification
	if err := json.Unmarshal([]byte(raw), &cls); err != nil || !cls.Intent.Valid() {
		logging.LLMError("classification JSON invalid, using heuristic: %v", err)
		return c.heuristic.Classify(ctx, in)
	}
	return &cls, nil
}

// Rewrite implements Rewriter.
func (c *Collaborators) Rewrite(ctx context.Context, in RewriteInput) (string, error) {
	if !c.client.Configured() {
		return c.heuristic.Rewrite(ctx, in)
	}
	out, err := c.client.Complete(ctx, rewriteSystemPrompt, rewriteUserPrompt(in))
	if err != nil || out == "" {
		logging.LLMError("rewrite call failed, using heuristic: %v", err)
		return c.heuristic.Rewrite(ctx, in)
	}
	return out, nil
}

// planSpec is the JSON shape the planner model emits.
type planSpec struct {
	Strategy string `json:"strategy"`
	Tasks    []struct {
		Key        string                 `json:"key"`
		Capability string                 `json:"capability"`
		Params     map[string]interface{} `json:"params"`
	} `json:"tasks"`
}

// PlanTasks implements Planner.
func (c *Collaborators) PlanTasks(ctx context.Context, in PlanInput) (*types.Plan, error) {
	if !c.client.Configured() {
		return c.heuristic.PlanTasks(ctx, in)
	}
	out, err := c.client.Complete(ctx, planSystemPrompt, planUserPrompt(in))
	if err != nil {
		logging.LLMError("planning call failed, using heuristic: %v", err)
		return c.heuristic.PlanTasks(ctx, in)
	}
	raw, err := extractJSON(out)
	if err != nil {
		return c.heuristic.PlanTasks(ctx, in)
	}
	var spec planSpec
	if err := json.Unmarshal([]byte(raw), &spec); err != nil || len(spec.Tasks) == 0 {
		logging.LLMError("plan JSON invalid, using heuristic: %v", err)
		return c.heuristic.PlanTasks(ctx, in)
	}

	allowed := make(map[string]bool, len(in.Capabilities))
	for _, c := range in.Capabilities {
		allowed[c.Name] = true
	}
	order := make([]string, 0, len(spec.Tasks))
	tasks := make(map[string]*types.Task, len(spec.Tasks))
	for _, t := range spec.Tasks {
		if !allowed[t.Capability] {
			logging.LLMError("planner proposed unknown capability %q, using heuristic", t.Capability)
			return c.heuristic.PlanTasks(ctx, in)
		}
		key := t.Key
		if key == "" {
			key = fmt.Sprintf("step_%d", len(order)+1)
		}
		order = append(order, key)
		tasks[key] = &types.Task{Capability: t.Capability, Params: t.Params}
	}

	strategy := types.Strategy(spec.Strategy)
	switch strategy {
	case types.StrategyElasticsearch, types.StrategyGraphQL, types.StrategyHybrid:
	default:
		strategy = types.StrategyElasticsearch
	}
	plan, err := types.NewPlan(order, tasks, strategy, in.TurnID)
	if err != nil {
		logging.LLMError("planner produced invalid plan (%v), using heuristic", err)
		return c.heuristic.PlanTasks(ctx, in)
	}
	return plan, nil
}

// Respond implements Responder.
func (c *Collaborators) Respond(ctx context.Context, in RespondInput) (string, error) {
	if !c.client.Configured() {
		return c.heuristic.Respond(ctx, in)
	}
	out, err := c.client.Complete(ctx, respondSystemPrompt, respondUserPrompt(in))
	if err != nil || out == "" {
		logging.LLMError("respond call failed, using heuristic: %v", err)
		return c.heuristic.Respond(ctx, in)
	}
	return out, nil
}
