// Package engine drives one user input through the turn state machine:
// classify once, rewrite and replan when needed, then execute plan tasks one
// at a time until a terminal phase, recording one history unit per task.
package engine

import (
	"fmt"
	"strings"

	"helmsman/internal/types"
)

// turnState is the ephemeral record threaded through one input cycle. It is
// created fresh for every input and discarded when the cycle ends.
type turnState struct {
	Input          string
	Rewritten      string
	Classification *types.Classification

	Resolution *types.ResolutionRecord
	Query      *types.QueryRecord
	Execution  *types.ExecutionRecord

	Iterations int
	Actions    []types.ActionRecord
}

// absorb merges one task outcome's data into the shared sub-records so later
// tasks see what earlier ones produced.
func (s *turnState) absorb(outcome *types.Outcome) {
	if outcome == nil || outcome.Data == nil {
		return
	}

	if rec, ok := outcome.Data["resolution"].(*types.ResolutionRecord); ok {
		if s.Resolution != nil && len(s.Resolution.FieldMappings) > 0 && len(rec.FieldMappings) == 0 {
			rec.FieldMappings = s.Resolution.FieldMappings
		}
		s.Resolution = rec
	}
	if mappings, ok := outcome.Data["field_mappings"].(map[string]string); ok {
		if s.Resolution == nil {
			s.Resolution = &types.ResolutionRecord{}
		}
		s.Resolution.FieldMappings = mappings
	}

	if query, ok := outcome.Data["query"].(map[string]interface{}); ok {
		if s.Query == nil {
			s.Query = &types.QueryRecord{}
		}
		s.Query.Query = query
		if src, ok := outcome.Data["source"].(string); ok {
			s.Query.Source = src
		}
	}
	if doc, ok := outcome.Data["graphql"].(string); ok {
		if s.Query == nil {
			s.Query = &types.QueryRecord{}
		}
		s.Query.GraphQL = doc
		if vars, ok := outcome.Data["variables"].(map[string]interface{}); ok {
			s.Query.Variables = vars
		}
	}

	if count, ok := asInt(outcome.Data["record_count"]); ok {
		if s.Execution == nil {
			s.Execution = &types.ExecutionRecord{}
		}
		s.Execution.RecordCount = count
		if sources, ok := outcome.Data["sources"].([]string); ok {
			s.Execution.Sources = sources
		}
		if repeat, ok := outcome.Data["how_to_repeat"].(map[string]interface{}); ok {
			s.Execution.HowToRepeat = repeat
		}
		s.Execution.Duration = outcome.Meta.Duration
	}
	if summary, ok := outcome.Data["summary"].(string); ok {
		if s.Execution == nil {
			s.Execution = &types.ExecutionRecord{}
		}
		s.Execution.Summary = summary
	}
}

func asInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// actionSummary renders a one-line description of a task outcome for the
// history trail.
func actionSummary(outcome *types.Outcome) string {
	switch outcome.Status {
	case types.OutcomeClarification:
		return "asked: " + outcome.Clarification.Question
	case types.OutcomeFailure:
		return "failed: " + outcome.Diagnostic
	}
	if summary, ok := outcome.Data["summary"].(string); ok {
		return summary
	}
	if count, ok := asInt(outcome.Data["record_count"]); ok {
		if sources, ok := outcome.Data["sources"].([]string); ok && len(sources) > 0 {
			return fmt.Sprintf("%s: %d records", strings.Join(sources, "+"), count)
		}
		return fmt.Sprintf("%d records", count)
	}
	return "completed"
}
