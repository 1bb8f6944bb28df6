package registry

import (
	"sync/atomic"

	"moonlink/native/internal/domain"
)

// Strategy resolves the value a callback belongs to.
type Strategy[T any] interface {
	Resolve(ctx domain.Context) (T, bool)
}

// DirectLookup resolves callbacks that carry the context supplied at
// connect time.
type DirectLookup[T any] struct {
	Registry *Registry[T]
}

func (s DirectLookup[T]) Resolve(ctx domain.Context) (T, bool) {
	return s.Registry.Lookup(ctx)
}

// SingleActiveSession resolves callbacks that carry no context to the
// active value. The context argument is ignored.
type SingleActiveSession[T any] struct {
	Registry *Registry[T]
}

func (s SingleActiveSession[T]) Resolve(domain.Context) (T, bool) {
	return s.Registry.Active()
}

// Binding caches the value resolved for one decoder lane. It is set when
// the lane is set up and cleared on cleanup; the callbacks in between skip
// the registry.
type Binding[T any] struct {
	v atomic.Pointer[T]
}

func (b *Binding[T]) Bind(v T) { b.v.Store(&v) }

func (b *Binding[T]) Clear() { b.v.Store(nil) }

func (b *Binding[T]) Get() (T, bool) {
	p := b.v.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}

// Lane resolves context-less callbacks on one decoder lane: the bound
// value if set, otherwise the fallback strategy.
type Lane[T any] struct {
	Binding  Binding[T]
	Fallback Strategy[T]
}

func (l *Lane[T]) Resolve() (T, bool) {
	if v, ok := l.Binding.Get(); ok {
		return v, true
	}
	if l.Fallback == nil {
		var zero T
		return zero, false
	}
	return l.Fallback.Resolve(domain.NoContext)
}
