package capability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"helmsman/internal/logging"
	"helmsman/internal/types"
)

// Registry holds the available capabilities and dispatches invocations.
// It is safe for concurrent use. There is no global instance: engines
// receive their registry explicitly.
type Registry struct {
	mu           sync.RWMutex
	capabilities map[string]*Capability
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{capabilities: make(map[string]*Capability)}
}

// Register adds a capability. Duplicate names are rejected.
func (r *Registry) Register(c *Capability) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCapability, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.capabilities[c.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, c.Name)
	}
	r.capabilities[c.Name] = c
	logging.CapabilityDebug("registered capability: %s (can_clarify=%v)", c.Name, c.CanClarify)
	return nil
}

// MustRegister registers a capability and panics on error. Use for static
// registration during engine setup.
func (r *Registry) MustRegister(c *Capability) {
	if err := r.Register(c); err != nil {
		panic(fmt.Sprintf("failed to register capability %s: %v", c.Name, err))
	}
}

// Get returns a capability by name, or nil.
func (r *Registry) Get(name string) *Capability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.capabilities[name]
}

// Has reports whether a capability is registered.
func (r *Registry) Has(name string) bool {
	return r.Get(name) != nil
}

// Names returns all registered names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.capabilities))
	for name := range r.capabilities {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.capabilities)
}

// Summary is the planner-facing view of one capability.
type Summary struct {
	Name        string
	Description string
	CanClarify  bool
	TrustGuess  bool
}

// Catalog returns summaries of all capabilities, sorted by name, for
// injection into the planning prompt.
func (r *Registry) Catalog() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.capabilities))
	for _, c := range r.capabilities {
		out = append(out, Summary{
			Name:        c.Name,
			Description: c.Description,
			CanClarify:  c.CanClarify,
			TrustGuess:  c.TrustGuess,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Invoke dispatches one invocation and always returns an outcome. An unknown
// name, a missing required param, a panicking handler, or a contract
// violation all come back as failure outcomes; the turn ends with a polite
// error message instead of crashing the engine.
func (r *Registry) Invoke(ctx context.Context, name string, req *Request) (outcome *types.Outcome) {
	cap := r.Get(name)
	if cap == nil {
		logging.CapabilityError("unknown capability requested: %s", name)
		return types.Fail("unknown capability: %s", name)
	}

	if req == nil {
		req = &Request{}
	}
	for _, required := range cap.Schema.Required {
		if _, ok := req.Params[required]; !ok {
			return types.Fail("capability %s missing required param %q", name, required)
		}
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logging.CapabilityError("capability %s panicked: %v", name, rec)
			outcome = types.Fail("capability %s panicked: %v", name, rec)
			outcome.Meta.Duration = time.Since(start)
		}
	}()

	// Trust only reaches handlers that advertise guessing.
	req.Trust = req.Trust && cap.TrustGuess

	logging.CapabilityDebug("invoking %s (trust=%v)", name, req.Trust)
	outcome = cap.Handler(ctx, req)
	if outcome == nil {
		outcome = types.Fail("capability %s returned no outcome", name)
	}
	outcome.Meta.Duration = time.Since(start)

	if outcome.Status == types.OutcomeClarification && !cap.CanClarify {
		logging.CapabilityError("capability %s returned clarification without CanClarify", name)
		return types.Fail("capability %s asked for clarification but is not permitted to", name)
	}

	logging.Capability("%s -> %s in %v", name, outcome.Status, outcome.Meta.Duration)
	return outcome
}
