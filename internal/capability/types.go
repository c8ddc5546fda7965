// Package capability defines the uniform contract for executable skills and
// the registry that dispatches plan tasks to them. Capabilities are stateless
// between invocations: everything they need arrives in the request, and
// everything they produce leaves in the outcome envelope.
package capability

import (
	"context"
	"fmt"
	"strings"

	"helmsman/internal/types"
)

// Handler is the function a capability runs. It returns an outcome, never an
// error: operational problems are reported as failure outcomes so the engine
// has a single result shape to route on.
type Handler func(ctx context.Context, req *Request) *types.Outcome

// Request carries one invocation's inputs.
type Request struct {
	// Params are the task parameters fixed at planning time, plus any
	// clarification answer merged in by the plan lifecycle.
	Params map[string]interface{}

	// Trust tells the capability to make its best guess instead of asking
	// for clarification.
	Trust bool

	// Shared turn state the capability may read.
	Resolution *types.ResolutionRecord
	Query      *types.QueryRecord
	Execution  *types.ExecutionRecord
}

// String fetches a string param, with ok reporting presence.
func (r *Request) String(key string) (string, bool) {
	v, ok := r.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// StringOr fetches a string param with a fallback.
func (r *Request) StringOr(key, fallback string) string {
	if s, ok := r.String(key); ok && s != "" {
		return s
	}
	return fallback
}

// Strings fetches a string-slice param, accepting []string or []interface{}.
func (r *Request) Strings(key string) []string {
	switch v := r.Params[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// Schema declares the params a capability requires. Validation happens at
// the registry boundary so handlers can assume required keys exist.
type Schema struct {
	Required []string
	Optional []string
}

// Capability is one registered skill.
type Capability struct {
	Name        string
	Description string

	// CanClarify permits the capability to return clarification outcomes.
	// A clarification from a capability without this flag is a contract
	// violation and is downgraded to failure at the registry boundary.
	CanClarify bool

	// TrustGuess permits the capability to proceed with its best match
	// instead of asking when the engine runs in trust mode. The trust flag
	// is stripped at the registry boundary for capabilities without it.
	TrustGuess bool

	Schema  Schema
	Handler Handler
}

// Validate checks the capability definition is well-formed.
func (c *Capability) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("capability has no name")
	}
	if strings.ContainsAny(c.Name, " \t\n") {
		return fmt.Errorf("capability name %q contains whitespace", c.Name)
	}
	if c.Handler == nil {
		return fmt.Errorf("capability %s has no handler", c.Name)
	}
	return nil
}
