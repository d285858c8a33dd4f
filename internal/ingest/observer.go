package ingest

import (
	"sync"
	"sync/atomic"
)

type handlerEntry[T any] struct {
	id uint64
	fn func(T)
}

// observers is a copy-on-write handler list. publish iterates the snapshot
// current at call time, so handlers added or removed during dispatch take
// effect from the next event.
type observers[T any] struct {
	mu       sync.Mutex
	nextID   uint64
	handlers atomic.Pointer[[]handlerEntry[T]]
}

func (o *observers[T]) add(fn func(T)) (unsubscribe func()) {
	o.mu.Lock()
	o.nextID++
	id := o.nextID
	cur := o.load()
	next := make([]handlerEntry[T], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, handlerEntry[T]{id: id, fn: fn})
	o.handlers.Store(&next)
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { o.remove(id) })
	}
}

func (o *observers[T]) remove(id uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	cur := o.load()
	next := make([]handlerEntry[T], 0, len(cur))
	for _, h := range cur {
		if h.id != id {
			next = append(next, h)
		}
	}
	o.handlers.Store(&next)
}

func (o *observers[T]) load() []handlerEntry[T] {
	if p := o.handlers.Load(); p != nil {
		return *p
	}
	return nil
}

func (o *observers[T]) len() int {
	return len(o.load())
}

func (o *observers[T]) publish(v T) {
	for _, h := range o.load() {
		h.fn(v)
	}
}
