package automation

import (
	"context"
	"sync"

	"github.com/DKmica/TreeProAIv2-sub008/errors"
	"github.com/DKmica/TreeProAIv2-sub008/event"
)

// Handler is the action contract. Implementations must be safe to invoke
// twice for the same event id: a replayed event must detect prior work and
// no-op instead of duplicating it.
type Handler interface {
	// Name is the identifier rules reference in their action lists.
	Name() string

	// Execute performs the side effect for one event. Params come from the
	// rule's ActionRef.
	Execute(ctx context.Context, evt event.Event, params map[string]interface{}) error
}

// Registry maps action names to handlers, so actions are addable without
// touching engine code.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty action registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler. Registering the same name twice is a programming
// error and is rejected.
func (r *Registry) Register(h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := h.Name()
	if name == "" {
		return errors.New("action handler name cannot be empty")
	}
	if _, exists := r.handlers[name]; exists {
		return errors.Newf("action handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// Get looks up a handler by name.
func (r *Registry) Get(name string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	return h, ok
}

// Names returns the registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
