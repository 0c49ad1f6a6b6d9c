package fanout

import (
	"slices"
	"sync"
)

type entry[T any] struct {
	id int
	fn func(T)
}

// List is an ordered set of callbacks. The backing slice is replaced on every
// update so Emit can iterate a snapshot without holding the lock.
type List[T any] struct {
	mu      sync.Mutex
	nextId  int
	entries []entry[T]
}

func (l *List[T]) Add(fn func(T)) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextId++
	id := l.nextId

	next := slices.Clone(l.entries)
	next = append(next, entry[T]{id, fn})
	l.entries = next

	var once sync.Once

	return func() {
		once.Do(func() {
			l.remove(id)
		})
	}
}

func (l *List[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := slices.IndexFunc(l.entries, func(e entry[T]) bool {
		return e.id == id
	})
	if i < 0 {
		return
	}

	next := slices.Clone(l.entries)
	l.entries = slices.Delete(next, i, i+1)
}

// Emit calls every callback in registration order.
func (l *List[T]) Emit(v T) {
	l.mu.Lock()
	entries := l.entries
	l.mu.Unlock()

	for _, e := range entries {
		e.fn(v)
	}
}

func (l *List[T]) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.entries)
}

func (l *List[T]) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = nil
}
