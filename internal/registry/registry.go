// Package registry provides the strong-owner object registry: the
// registry is the single owner of each registered value, and everything
// else holds weak Handles (id plus generation pairs validated on every
// lookup). A handle to a deregistered or replaced entry simply stops
// resolving; there is no aliasing pointer to go stale.
package registry

import "sync"

// Handle is a weak reference to a registered value. The zero Handle never
// resolves.
type Handle struct {
	id  uint64
	gen uint32
}

// Valid reports whether the handle was ever issued by a registry.
func (h Handle) Valid() bool {
	return h.id != 0
}

type entry[T any] struct {
	value T
	gen   uint32
}

// Registry owns values of type T keyed by issued handles. Safe for
// concurrent use.
type Registry[T any] struct {
	mu      sync.RWMutex
	nextID  uint64
	nextGen uint32
	entries map[uint64]entry[T]
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{entries: make(map[uint64]entry[T])}
}

// Register takes ownership of value and returns its handle.
func (r *Registry[T]) Register(value T) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.nextGen++
	r.entries[r.nextID] = entry[T]{value: value, gen: r.nextGen}
	return Handle{id: r.nextID, gen: r.nextGen}
}

// Resolve returns the value for a handle, or the zero value and false if
// the handle is stale or was never issued.
func (r *Registry[T]) Resolve(h Handle) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[h.id]
	if !ok || e.gen != h.gen {
		var zero T
		return zero, false
	}
	return e.value, true
}

// Deregister removes the value for a handle, returning it so the caller
// can tear it down. Stale handles remove nothing.
func (r *Registry[T]) Deregister(h Handle) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[h.id]
	if !ok || e.gen != h.gen {
		var zero T
		return zero, false
	}
	delete(r.entries, h.id)
	return e.value, true
}

// Len returns the number of live entries.
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Each calls fn for every live entry. The registry lock is held for the
// duration; fn must not call back into the registry.
func (r *Registry[T]) Each(fn func(Handle, T)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, e := range r.entries {
		fn(Handle{id: id, gen: e.gen}, e.value)
	}
}
