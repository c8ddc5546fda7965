package llm

import (
	"fmt"
	"strings"
)

const classifySystemPrompt = `You classify a user message in an ongoing data-query conversation.
Respond with a single JSON object:
{
  "intent": "new_request" | "exact_answer" | "modification" | "continuation" | "clarification_response",
  "confidence": 0.0-1.0,
  "plan_valid": true|false,
  "entities": {"category": ["value", ...]},
  "time_range": {"start": "", "end": "", "kind": "absolute"|"relative"},
  "needs_clarification": ["what is unclear", ...],
  "rewritten_question": ""
}
Rules:
- "exact_answer": the message directly answers the pending question; plan_valid=true.
- "modification": the message answers but also changes requirements; plan_valid=false.
- "continuation": the message asks to proceed with the current plan; plan_valid=true.
- "new_request": a fresh task; plan_valid=false.
- Populate needs_clarification only when the message itself is too ambiguous to act on.`

func classifyUserPrompt(in ClassifyInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent conversation:\n%s\n\n", in.RecentTranscript)
	if in.PendingQuestion != "" {
		fmt.Fprintf(&sb, "Pending question to the user: %s\n", in.PendingQuestion)
		if len(in.PendingOptions) > 0 {
			fmt.Fprintf(&sb, "Offered options: %s\n", strings.Join(in.PendingOptions, ", "))
		}
		sb.WriteString("\n")
	}
	if in.PlanSummary != "" {
		fmt.Fprintf(&sb, "Active plan: %s\n\n", in.PlanSummary)
	}
	fmt.Fprintf(&sb, "User message: %s", in.Input)
	return sb.String()
}

const rewriteSystemPrompt = `You rewrite the user's latest message into one fully self-contained question.
Resolve pronouns and references using the conversation. Keep the user's meaning exactly.
Reply with the rewritten question only, no preamble.`

func rewriteUserPrompt(in RewriteInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent conversation:\n%s\n\n", in.RecentTranscript)
	if in.PendingQuestion != "" {
		fmt.Fprintf(&sb, "The assistant had asked: %s\n\n", in.PendingQuestion)
	}
	fmt.Fprintf(&sb, "Latest user message: %s", in.Input)
	return sb.String()
}

const planSystemPrompt = `You decompose a data question into an ordered list of capability invocations.
Respond with a single JSON object:
{
  "strategy": "elasticsearch" | "graphql" | "hybrid",
  "tasks": [
    {"key": "resolve_entities", "capability": "<name>", "params": {...}},
    ...
  ]
}
Use only the capabilities listed in the prompt. Order matters: resolution
before query building, query building before execution, formatting last.`

func planUserPrompt(in PlanInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n\n", in.Question)
	if len(in.Entities) > 0 {
		fmt.Fprintf(&sb, "Extracted entities: %v\n", in.Entities)
	}
	if in.TimeRange != nil {
		fmt.Fprintf(&sb, "Time range: %s to %s (%s)\n", in.TimeRange.Start, in.TimeRange.End, in.TimeRange.Kind)
	}
	sb.WriteString("\nAvailable capabilities:\n")
	for _, c := range in.Capabilities {
		fmt.Fprintf(&sb, "- %s: %s", c.Name, c.Description)
		if c.CanClarify {
			sb.WriteString(" (may ask the user to clarify)")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

const respondSystemPrompt = `You draft a concise, friendly answer to the user's data question from the
execution summary. State the key numbers plainly. Do not mention internal
machinery, task names, or data sources unless the user asked about them.`

func respondUserPrompt(in RespondInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\n", in.Question)
	fmt.Fprintf(&sb, "Records found: %d\n", in.RecordCount)
	if in.Summary != "" {
		fmt.Fprintf(&sb, "Summary: %s\n", in.Summary)
	}
	if len(in.Sources) > 0 {
		fmt.Fprintf(&sb, "Sources: %s\n", strings.Join(in.Sources, ", "))
	}
	return sb.String()
}
