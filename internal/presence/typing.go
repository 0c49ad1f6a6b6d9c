package presence

import (
	"slices"
	"sync"
	"time"

	"github.com/goevery/ideaboard/internal/clock"
	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/model"
)

const DefaultTypingExpiry = 5 * time.Second

type typingEntry struct {
	user       model.User
	generation int
	timer      clock.Timer
}

// TypingSet holds the users currently typing. An entry disappears Expiry
// after its last Touch unless it is removed earlier.
type TypingSet struct {
	clock  clock.Clock
	expiry time.Duration

	mu         sync.Mutex
	entries    map[string]*typingEntry
	order      []string
	generation int
	closed     bool
	changed    fanout.List[[]model.User]
}

func NewTypingSet(c clock.Clock, expiry time.Duration) *TypingSet {
	if c == nil {
		c = clock.Real{}
	}

	if expiry <= 0 {
		expiry = DefaultTypingExpiry
	}

	return &TypingSet{
		clock:   c,
		expiry:  expiry,
		entries: make(map[string]*typingEntry),
	}
}

// Touch adds user or restarts its expiry window.
func (s *TypingSet) Touch(user model.User) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	s.generation++
	generation := s.generation

	entry, known := s.entries[user.Id]
	if known {
		entry.timer.Stop()
	} else {
		entry = &typingEntry{}
		s.entries[user.Id] = entry
		s.order = append(s.order, user.Id)
	}

	entry.user = user
	entry.generation = generation
	entry.timer = s.clock.AfterFunc(s.expiry, func() {
		s.expire(user.Id, generation)
	})

	members := s.membersLocked()
	s.mu.Unlock()

	if !known {
		s.changed.Emit(members)
	}
}

func (s *TypingSet) Remove(userId string) bool {
	s.mu.Lock()
	entry, ok := s.entries[userId]
	if !ok {
		s.mu.Unlock()
		return false
	}

	entry.timer.Stop()
	members := s.deleteLocked(userId)
	s.mu.Unlock()

	s.changed.Emit(members)

	return true
}

func (s *TypingSet) Has(userId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.entries[userId]

	return ok
}

func (s *TypingSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.order)
}

func (s *TypingSet) Members() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.membersLocked()
}

func (s *TypingSet) OnChange(fn func([]model.User)) (remove func()) {
	return s.changed.Add(fn)
}

// Close stops every pending expiry and empties the set. Touch is ignored
// afterwards.
func (s *TypingSet) Close() {
	s.mu.Lock()
	s.closed = true
	empty := len(s.order) == 0

	for _, entry := range s.entries {
		entry.timer.Stop()
	}

	s.entries = make(map[string]*typingEntry)
	s.order = nil
	s.mu.Unlock()

	if !empty {
		s.changed.Emit(nil)
	}
}

// Reopen accepts touches again after Close.
func (s *TypingSet) Reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = false
}

func (s *TypingSet) expire(userId string, generation int) {
	s.mu.Lock()
	entry, ok := s.entries[userId]
	if !ok || entry.generation != generation {
		s.mu.Unlock()
		return
	}

	members := s.deleteLocked(userId)
	s.mu.Unlock()

	s.changed.Emit(members)
}

func (s *TypingSet) deleteLocked(userId string) []model.User {
	delete(s.entries, userId)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == userId })

	return s.membersLocked()
}

func (s *TypingSet) membersLocked() []model.User {
	members := make([]model.User, 0, len(s.order))
	for _, id := range s.order {
		members = append(members, s.entries[id].user)
	}

	return members
}
