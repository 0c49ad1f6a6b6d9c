package presence

import (
	"slices"
	"sync"

	"github.com/goevery/ideaboard/internal/fanout"
	"github.com/goevery/ideaboard/internal/model"
)

// Set holds the users currently viewing an idea, keyed by user id. Members
// are returned in arrival order.
type Set struct {
	mu      sync.Mutex
	users   map[string]model.User
	order   []string
	changed fanout.List[[]model.User]
}

func NewSet() *Set {
	return &Set{users: make(map[string]model.User)}
}

// Add reports whether user was not a member yet. A known user only has its
// profile refreshed.
func (s *Set) Add(user model.User) bool {
	s.mu.Lock()
	_, known := s.users[user.Id]
	s.users[user.Id] = user
	if !known {
		s.order = append(s.order, user.Id)
	}
	members := s.membersLocked()
	s.mu.Unlock()

	if !known {
		s.changed.Emit(members)
	}

	return !known
}

func (s *Set) Remove(userId string) bool {
	s.mu.Lock()
	if _, ok := s.users[userId]; !ok {
		s.mu.Unlock()
		return false
	}

	delete(s.users, userId)
	s.order = slices.DeleteFunc(s.order, func(id string) bool { return id == userId })
	members := s.membersLocked()
	s.mu.Unlock()

	s.changed.Emit(members)

	return true
}

func (s *Set) Clear() {
	s.mu.Lock()
	empty := len(s.order) == 0
	s.users = make(map[string]model.User)
	s.order = nil
	s.mu.Unlock()

	if !empty {
		s.changed.Emit(nil)
	}
}

func (s *Set) Has(userId string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.users[userId]

	return ok
}

func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.order)
}

func (s *Set) Members() []model.User {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.membersLocked()
}

// OnChange receives the member list after every change.
func (s *Set) OnChange(fn func([]model.User)) (remove func()) {
	return s.changed.Add(fn)
}

func (s *Set) membersLocked() []model.User {
	members := make([]model.User, 0, len(s.order))
	for _, id := range s.order {
		members = append(members, s.users[id])
	}

	return members
}
