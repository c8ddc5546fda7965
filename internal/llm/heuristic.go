package llm

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/types"
)

// Heuristic implements all four collaborator roles without a model. It keeps
// the engine deterministic in tests and functional when no API key is set.
type Heuristic struct{}

var continuationPhrases = map[string]bool{
	"continue": true, "go ahead": true, "go on": true, "proceed": true,
	"next": true, "yes": true, "ok": true, "okay": true, "sure": true,
	"do it": true, "keep going": true,
}

var modificationMarkers = []string{
	"instead", "actually", "rather", "change that", "make it", "but also",
}

// Classify implements Classifier with keyword rules.
func (Heuristic) Classify(_ context.Context, in ClassifyInput) (*types.Classification, error) {
	input := strings.ToLower(strings.TrimSpace(in.Input))

	if in.PendingQuestion != "" {
		for _, marker := range modificationMarkers {
			if strings.Contains(input, marker) {
				return &types.Classification{
					Intent:     types.IntentModification,
					Confidence: 0.6,
					PlanValid:  false,
				}, nil
			}
		}
		// A direct option pick is the clearest exact answer.
		for _, opt := range in.PendingOptions {
			if strings.Contains(input, strings.ToLower(opt)) || strings.Contains(strings.ToLower(opt), input) {
				return &types.Classification{
					Intent:     types.IntentExactAnswer,
					Confidence: 0.9,
					PlanValid:  true,
				}, nil
			}
		}
		// Short replies to a question are answers, long ones new ground.
		if len(strings.Fields(input)) <= 6 {
			return &types.Classification{
				Intent:     types.IntentExactAnswer,
				Confidence: 0.6,
				PlanValid:  true,
			}, nil
		}
	}

	if continuationPhrases[input] {
		return &types.Classification{
			Intent:     types.IntentContinuation,
			Confidence: 0.8,
			PlanValid:  true,
		}, nil
	}

	return &types.Classification{
		Intent:     types.IntentNewRequest,
		Confidence: 0.5,
		PlanValid:  false,
	}, nil
}

// Rewrite implements Rewriter by passing the input through; with a pending
// question it folds the answer into a restatement.
func (Heuristic) Rewrite(_ context.Context, in RewriteInput) (string, error) {
	input := strings.TrimSpace(in.Input)
	if in.PendingQuestion != "" {
		return fmt.Sprintf("%s (answering %q)", input, in.PendingQuestion), nil
	}
	return input, nil
}

// PlanTasks implements Planner with a fixed pipeline per strategy.
func (Heuristic) PlanTasks(_ context.Context, in PlanInput) (*types.Plan, error) {
	strategy := guessStrategy(in.Question)

	base := map[string]interface{}{"question": in.Question}
	if len(in.Entities) > 0 {
		entities := make(map[string]interface{}, len(in.Entities))
		for k, v := range in.Entities {
			entities[k] = v
		}
		base["entities"] = entities
	}
	params := func(extra map[string]interface{}) map[string]interface{} {
		p := make(map[string]interface{}, len(base)+len(extra))
		for k, v := range base {
			p[k] = v
		}
		for k, v := range extra {
			p[k] = v
		}
		return p
	}

	order := []string{"resolve_entities", "map_fields"}
	tasks := map[string]*types.Task{
		"resolve_entities": {Capability: "entity_resolution", Params: params(nil)},
		"map_fields":       {Capability: "field_mapping", Params: params(nil)},
	}

	switch strategy {
	case types.StrategyGraphQL:
		order = append(order, "build_graphql", "run_graphql")
		tasks["build_graphql"] = &types.Task{Capability: "graphql_query_builder", Params: params(nil)}
		tasks["run_graphql"] = &types.Task{Capability: "graphql_executor", Params: params(nil)}
	case types.StrategyHybrid:
		order = append(order, "build_search", "build_graphql", "run_hybrid")
		tasks["build_search"] = &types.Task{Capability: "es_query_builder", Params: params(nil)}
		tasks["build_graphql"] = &types.Task{Capability: "graphql_query_builder", Params: params(nil)}
		tasks["run_hybrid"] = &types.Task{Capability: "hybrid_executor", Params: params(nil)}
	default:
		order = append(order, "build_search", "run_search")
		tasks["build_search"] = &types.Task{Capability: "es_query_builder", Params: params(nil)}
		tasks["run_search"] = &types.Task{Capability: "es_executor", Params: params(nil)}
	}

	order = append(order, "format")
	tasks["format"] = &types.Task{Capability: "format_results", Params: params(nil)}

	return types.NewPlan(order, tasks, strategy, in.TurnID)
}

// Respond implements Responder with a plain one-line summary.
func (Heuristic) Respond(_ context.Context, in RespondInput) (string, error) {
	if in.Summary != "" {
		return in.Summary, nil
	}
	switch in.RecordCount {
	case 0:
		return "No matching records were found.", nil
	case 1:
		return "Found 1 matching record.", nil
	default:
		return fmt.Sprintf("Found %d matching records.", in.RecordCount), nil
	}
}

func guessStrategy(question string) types.Strategy {
	q := strings.ToLower(question)
	graph := containsAny(q, "relationship", "related", "linked", "belongs to", "graph", "nested")
	search := containsAny(q, "count", "how many", "search", "find", "top", "aggregate", "average")
	switch {
	case graph && search:
		return types.StrategyHybrid
	case graph:
		return types.StrategyGraphQL
	default:
		return types.StrategyElasticsearch
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
