package comm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Emitter lets a handler talk back to the front end over its comm.
type Emitter interface {
	Send(data any) error
	// Close publishes comm_close and tears the comm down after the current message.
	Close(data any) error
}

// Handler serves one open comm. Message calls are serialized per comm.
// Close runs exactly once when the comm goes away.
type Handler interface {
	Message(ctx context.Context, data json.RawMessage, out Emitter) error
	Close()
}

// Factory builds the handler for a newly opened comm.
type Factory func(ctx context.Context, commID string, data json.RawMessage, out Emitter) (Handler, error)

// Registry stores comm factories by target name.
type Registry struct {
	mu    sync.RWMutex
	items map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{items: make(map[string]Factory)}
}

func (r *Registry) Register(target string, factory Factory) error {
	name := strings.TrimSpace(target)
	if name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidTarget)
	}
	if factory == nil {
		return ErrFactoryNil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%w: %s", ErrTargetExists, name)
	}
	r.items[name] = factory
	return nil
}

func (r *Registry) Resolve(target string) (Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.items[target]
	return f, ok
}

// Targets returns registered target names in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.items))
	for name := range r.items {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
