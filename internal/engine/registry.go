package engine

import (
	"sort"
	"sync"

	errspkg "github.com/drblury/procflow/internal/engine/errors"
)

// HandlerRegistry resolves the handler refs used by task nodes. Registration
// happens before instances run; lookups are read-only and safe to share across
// concurrently running instances.
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry creates an empty registry.
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a ref. Refs are registered once; re-registering
// returns ErrDuplicateHandler.
func (r *HandlerRegistry) Register(ref string, handler Handler) error {
	if ref == "" {
		return errspkg.ErrHandlerRefRequired
	}
	if handler == nil {
		return errspkg.ErrNilHandler
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[ref]; exists {
		return errspkg.ErrDuplicateHandler
	}
	r.handlers[ref] = handler
	return nil
}

// RegisterFunc binds a plain function to a ref.
func (r *HandlerRegistry) RegisterFunc(ref string, fn HandlerFunc) error {
	return r.Register(ref, fn)
}

// MustRegister is Register for program initialization; it panics on error.
func (r *HandlerRegistry) MustRegister(ref string, handler Handler) {
	if err := r.Register(ref, handler); err != nil {
		panic(err)
	}
}

// Lookup returns the handler registered under ref.
func (r *HandlerRegistry) Lookup(ref string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[ref]
	return h, ok
}

// Has reports whether a handler is registered under ref.
func (r *HandlerRegistry) Has(ref string) bool {
	_, ok := r.Lookup(ref)
	return ok
}

// Refs returns all registered refs in sorted order.
func (r *HandlerRegistry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	refs := make([]string, 0, len(r.handlers))
	for ref := range r.handlers {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
