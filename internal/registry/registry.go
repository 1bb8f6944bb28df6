// Package registry maps the opaque contexts handed to the streaming
// library back to the sessions that issued them.
package registry

import (
	"fmt"
	"log/slog"
	"sync"

	"moonlink/native/internal/domain"
)

// Registry holds non-owning references to registered values. Owners call
// Register when constructed and Unregister when torn down.
type Registry[T any] struct {
	mu      sync.RWMutex
	next    uint64
	entries map[domain.Context]T
	active  domain.Context
	log     *slog.Logger
}

// New creates an empty registry.
func New[T any](log *slog.Logger) *Registry[T] {
	if log == nil {
		log = slog.Default()
	}
	return &Registry[T]{
		entries: make(map[domain.Context]T),
		log:     log.With("component", "registry"),
	}
}

// Register stores v and returns its context. Contexts are never reused.
func (r *Registry[T]) Register(v T) domain.Context {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.next++
	ctx := domain.Context(r.next)
	r.entries[ctx] = v
	return ctx
}

// Unregister removes ctx, deactivating it first if needed.
func (r *Registry[T]) Unregister(ctx domain.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.entries, ctx)
	if r.active == ctx {
		r.active = domain.NoContext
	}
}

// Lookup resolves ctx directly.
func (r *Registry[T]) Lookup(ctx domain.Context) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	v, ok := r.entries[ctx]
	return v, ok
}

// Activate marks ctx as the target of callbacks that carry no context.
// Only one value may be active at a time: context-less callbacks cannot be
// told apart, so a second activation is refused.
func (r *Registry[T]) Activate(ctx domain.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[ctx]; !ok {
		return fmt.Errorf("activate context %d: not registered", ctx)
	}
	if r.active != domain.NoContext && r.active != ctx {
		r.log.Warn("refusing concurrent activation, context-less callbacks would be ambiguous",
			"active", uint64(r.active), "requested", uint64(ctx))
		return fmt.Errorf("activate context %d: %w (context %d)", ctx, domain.ErrAmbiguousActive, r.active)
	}
	r.active = ctx
	return nil
}

// Deactivate clears the active value if it is ctx.
func (r *Registry[T]) Deactivate(ctx domain.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == ctx {
		r.active = domain.NoContext
	}
}

// Active returns the active value, if any.
func (r *Registry[T]) Active() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.active == domain.NoContext {
		var zero T
		return zero, false
	}
	v, ok := r.entries[r.active]
	return v, ok
}

// Len returns the number of registered values.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
