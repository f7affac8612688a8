package core

import "sync"

// Emitter is a minimal observer registry. Subscribe returns an unsubscribe
// handle so listeners cannot leak across participant or room lifetimes.
// Handlers run synchronously, in subscription order, outside the emitter
// lock.
type Emitter[T any] struct {
	mu       sync.Mutex
	seq      int
	handlers []handler[T]
}

type handler[T any] struct {
	id int
	fn func(T)
}

func (e *Emitter[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	e.mu.Lock()
	e.seq++
	id := e.seq
	e.handlers = append(e.handlers, handler[T]{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		for i, h := range e.handlers {
			if h.id == id {
				e.handlers = append(e.handlers[:i], e.handlers[i+1:]...)
				return
			}
		}
	}
}

func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	snapshot := make([]handler[T], len(e.handlers))
	copy(snapshot, e.handlers)
	e.mu.Unlock()

	for _, h := range snapshot {
		h.fn(v)
	}
}
