package optimistic

import (
	"slices"
	"sync"

	"github.com/goevery/ideaboard/internal/fanout"
)

type Status int

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusRolledBack:
		return "rolledBack"
	default:
		return "unknown"
	}
}

// Entry is one element of a Collection. TempId is only set on entries that
// started as pending.
type Entry[T any] struct {
	TempId string
	Status Status
	Value  T
}

// Collection holds server entities and local placeholders in one ordered
// list. Entities are keyed by the id returned by key. Removed ids are
// remembered so that late updates cannot bring them back.
type Collection[T any] struct {
	key func(T) string

	mu         sync.Mutex
	entries    []Entry[T]
	tombstones map[string]struct{}
	changed    fanout.List[[]T]
}

func NewCollection[T any](key func(T) string) *Collection[T] {
	return &Collection[T]{
		key:        key,
		tombstones: make(map[string]struct{}),
	}
}

// Load replaces every confirmed entity with values. Pending entries are kept
// after them. Tombstones are forgotten since values is authoritative.
func (c *Collection[T]) Load(values []T) {
	c.mutate(func() bool {
		pending := slices.DeleteFunc(c.entries, func(e Entry[T]) bool {
			return e.Status != StatusPending
		})

		entries := make([]Entry[T], 0, len(values)+len(pending))
		for _, v := range values {
			entries = append(entries, Entry[T]{Status: StatusConfirmed, Value: v})
		}

		c.entries = append(entries, pending...)
		c.tombstones = make(map[string]struct{})

		return true
	})
}

func (c *Collection[T]) AddPending(tempId string, v T) {
	c.mutate(func() bool {
		c.entries = append(c.entries, Entry[T]{TempId: tempId, Status: StatusPending, Value: v})
		return true
	})
}

// Confirm turns the pending entry tempId into the server entity v. When v
// is already present, from a push that beat the reply, the placeholder is
// dropped instead. It reports whether tempId was pending.
func (c *Collection[T]) Confirm(tempId string, v T) bool {
	var found bool

	c.mutate(func() bool {
		i := c.pendingIndexLocked(tempId)
		if i < 0 {
			return false
		}

		found = true
		id := c.key(v)

		_, removed := c.tombstones[id]
		if removed || c.confirmedIndexLocked(id) >= 0 {
			c.entries = slices.Delete(c.entries, i, i+1)
			return true
		}

		c.entries[i] = Entry[T]{TempId: tempId, Status: StatusConfirmed, Value: v}

		return true
	})

	return found
}

// Rollback marks the pending entry tempId as rolled back. Rolled back
// entries are never visible.
func (c *Collection[T]) Rollback(tempId string) bool {
	var found bool

	c.mutate(func() bool {
		i := c.pendingIndexLocked(tempId)
		if i < 0 {
			return false
		}

		found = true
		c.entries[i].Status = StatusRolledBack

		return true
	})

	return found
}

// Upsert stores a server entity, replacing the one with the same id. The
// last call wins. Removed ids are ignored and false is returned.
func (c *Collection[T]) Upsert(v T) bool {
	var stored bool

	c.mutate(func() bool {
		id := c.key(v)
		if _, removed := c.tombstones[id]; removed {
			return false
		}

		stored = true

		if i := c.confirmedIndexLocked(id); i >= 0 {
			c.entries[i].Value = v
			return true
		}

		c.entries = append(c.entries, Entry[T]{Status: StatusConfirmed, Value: v})

		return true
	})

	return stored
}

func (c *Collection[T]) Remove(id string) {
	c.mutate(func() bool {
		c.tombstones[id] = struct{}{}

		i := c.confirmedIndexLocked(id)
		if i < 0 {
			return false
		}

		c.entries = slices.Delete(c.entries, i, i+1)

		return true
	})
}

func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.confirmedIndexLocked(id); i >= 0 {
		return c.entries[i].Value, true
	}

	var zero T

	return zero, false
}

// Visible lists pending and confirmed values in order.
func (c *Collection[T]) Visible() []T {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.visibleLocked()
}

func (c *Collection[T]) Pending() []Entry[T] {
	return c.filter(StatusPending)
}

func (c *Collection[T]) Confirmed() []Entry[T] {
	return c.filter(StatusConfirmed)
}

func (c *Collection[T]) RolledBack() []Entry[T] {
	return c.filter(StatusRolledBack)
}

// OnChange receives the visible values after every change.
func (c *Collection[T]) OnChange(fn func([]T)) (remove func()) {
	return c.changed.Add(fn)
}

func (c *Collection[T]) filter(status Status) []Entry[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	var entries []Entry[T]
	for _, e := range c.entries {
		if e.Status == status {
			entries = append(entries, e)
		}
	}

	return entries
}

func (c *Collection[T]) mutate(fn func() bool) {
	c.mu.Lock()
	changed := fn()
	visible := c.visibleLocked()
	c.mu.Unlock()

	if changed {
		c.changed.Emit(visible)
	}
}

func (c *Collection[T]) visibleLocked() []T {
	values := make([]T, 0, len(c.entries))
	for _, e := range c.entries {
		if e.Status != StatusRolledBack {
			values = append(values, e.Value)
		}
	}

	return values
}

func (c *Collection[T]) pendingIndexLocked(tempId string) int {
	return slices.IndexFunc(c.entries, func(e Entry[T]) bool {
		return e.Status == StatusPending && e.TempId == tempId
	})
}

func (c *Collection[T]) confirmedIndexLocked(id string) int {
	return slices.IndexFunc(c.entries, func(e Entry[T]) bool {
		return e.Status == StatusConfirmed && c.key(e.Value) == id
	})
}
