package executor

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownFunction is returned when a rule names a contract function with
// no registered binding. Treated as a per-rule execution failure, never as a
// silent fall-through to the manual path.
var ErrUnknownFunction = errors.New("no binding registered for function")

// Binding declares one contract entry point and its capability. ReadOnly is
// a declared property of the binding, not guessed from the name.
type Binding struct {
	Function string
	ReadOnly bool
}

// Registry maps contract function names to their declared bindings.
// Safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]Binding
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{bindings: make(map[string]Binding)}
}

// Register adds a binding. Panics on duplicate function to surface
// misconfiguration early.
func (r *Registry) Register(b Binding) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[b.Function]; exists {
		panic(fmt.Sprintf("function registry: duplicate binding %q", b.Function))
	}
	r.bindings[b.Function] = b
}

// Get returns the binding for the given function name.
func (r *Registry) Get(function string) (Binding, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[function]
	if !ok {
		return Binding{}, fmt.Errorf("%w: %q", ErrUnknownFunction, function)
	}
	return b, nil
}

// Functions returns all registered function names.
func (r *Registry) Functions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.bindings))
	for name := range r.bindings {
		out = append(out, name)
	}
	return out
}
