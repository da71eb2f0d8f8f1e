// Package registry maps stable handler identifiers to the functions that
// pursue goals, per spec.md §9 ("Polymorphism over handlers. Use a registry
// (string -> callable) rather than inheritance"). Shape grounded on the
// teacher's internal/registry/registry.go.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/relaywell/goals/internal/domain"
)

// Handler is the function signature every goal handler must implement. It
// receives the goal row (state, args/kwargs, deadlines) and must return a
// Result or an error. Handlers must be idempotent: the engine offers no
// exactly-once guarantee across retries (spec.md §1 Non-goals).
type Handler func(ctx context.Context, goal *domain.Goal) (Result, error)

// Registry maps handler names to Handler functions. Safe for concurrent
// registration and lookup, since multiple worker goroutines share one
// registry within a process.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func New() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// ErrUnknownHandler is returned by Lookup when no handler is registered
// under the given name. The dispatcher treats this as a CORRUPTED goal
// with no Progress entry (spec.md §7).
var ErrUnknownHandler = fmt.Errorf("no handler registered")

func (r *Registry) Lookup(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	return h, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}
