package event

import (
	"log/slog"
	"sync"
)

// Unsubscribe detaches an observer. Calling it twice is harmless.
type Unsubscribe func()

// Registry keeps observers of one kind of event.
// Observers are notified in subscription order on the caller goroutine.
// A panicking observer is logged and skipped, the others still run.
type Registry[T any] struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]func(T)
	order     []int
	log       *slog.Logger
	name      string
}

func NewRegistry[T any](name string, log *slog.Logger) *Registry[T] {
	return &Registry[T]{
		observers: make(map[int]func(T)),
		log:       log,
		name:      name,
	}
}

func (r *Registry[T]) Subscribe(fn func(T)) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := r.nextID
	r.nextID++
	r.observers[id] = fn
	r.order = append(r.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { r.remove(id) })
	}
}

func (r *Registry[T]) remove(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.observers, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

// Notify delivers value to a snapshot of the current observers,
// so observers may subscribe or unsubscribe from inside the callback.
func (r *Registry[T]) Notify(value T) {
	r.mu.RLock()
	snapshot := make([]func(T), 0, len(r.order))
	for _, id := range r.order {
		snapshot = append(snapshot, r.observers[id])
	}
	r.mu.RUnlock()

	for _, fn := range snapshot {
		r.call(fn, value)
	}
}

func (r *Registry[T]) call(fn func(T), value T) {
	defer func() {
		if rec := recover(); rec != nil && r.log != nil {
			r.log.Error("Observer panicked", "registry", r.name, "panic", rec)
		}
	}()
	fn(value)
}

func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
