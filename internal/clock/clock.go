package clock

import (
	"slices"
	"sync"
	"time"
)

type Timer interface {
	Stop() bool
}

// Clock is the time source of timer driven components.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

type Real struct{}

func (Real) Now() time.Time {
	return time.Now()
}

func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Fake only moves when Advance or Set is called. Due callbacks run on the
// calling goroutine in deadline order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextId int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	id       int
	deadline time.Time
	fn       func()
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.now
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextId++
	timer := &fakeTimer{clock: f, id: f.nextId, deadline: f.now.Add(d), fn: fn}
	f.timers = append(f.timers, timer)

	return timer
}

func (f *Fake) Advance(d time.Duration) {
	f.Set(f.Now().Add(d))
}

func (f *Fake) Set(now time.Time) {
	for {
		f.mu.Lock()
		timer := f.nextDueLocked(now)
		if timer == nil {
			f.now = now
			f.mu.Unlock()
			return
		}

		f.now = timer.deadline
		f.removeLocked(timer.id)
		f.mu.Unlock()

		timer.fn()
	}
}

// Pending counts timers that have neither fired nor been stopped.
func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.timers)
}

func (f *Fake) nextDueLocked(now time.Time) *fakeTimer {
	var due *fakeTimer
	for _, timer := range f.timers {
		if timer.deadline.After(now) {
			continue
		}

		if due == nil || timer.deadline.Before(due.deadline) {
			due = timer
		}
	}

	return due
}

func (f *Fake) removeLocked(id int) bool {
	i := slices.IndexFunc(f.timers, func(timer *fakeTimer) bool {
		return timer.id == id
	})
	if i < 0 {
		return false
	}

	f.timers = slices.Delete(f.timers, i, i+1)

	return true
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	return t.clock.removeLocked(t.id)
}
