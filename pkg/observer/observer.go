// Package observer keeps sets of listeners that can be removed while they are being notified.
package observer

import (
	"sort"
	"sync"
)

// Registry holds the handlers registered for one kind of event.
type Registry[T any] struct {
	lock     sync.Mutex
	nextID   uint64
	handlers map[uint64]func(T)
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{
		handlers: make(map[uint64]func(T)),
	}
}

// Register adds handler and returns the function that removes it.
// The returned function may be called any number of times.
func (r *Registry[T]) Register(handler func(T)) func() {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.nextID++
	id := r.nextID
	r.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() {
			r.lock.Lock()
			defer r.lock.Unlock()
			delete(r.handlers, id)
		})
	}
}

// Notify calls every handler registered at the time of the call, in registration order.
// Handlers run on the caller's goroutine without the registry lock held,
// so they may register or unregister handlers.
func (r *Registry[T]) Notify(event T) {
	for _, handler := range r.snapshot() {
		handler(event)
	}
}

func (r *Registry[T]) snapshot() []func(T) {
	r.lock.Lock()
	defer r.lock.Unlock()

	ids := make([]uint64, 0, len(r.handlers))
	for id := range r.handlers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	handlers := make([]func(T), 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, r.handlers[id])
	}
	return handlers
}
