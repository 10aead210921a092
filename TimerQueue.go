package oswc

import (
	"cmp"
	"sync"

	omap "github.com/akalinux/orderedmap"
)

// An armed deadline.  Returned by TimerQueue.Arm, pass it to Disarm when the wait ends.
type Timer struct {
	deadline Deadline
	id       uint64
	waiter   Waiter
	fired    bool
}

func (s *Timer) Deadline() Deadline {
	return s.deadline
}

// Keeps the deadlines of blocked waiters ordered per clock, and resolves the waiters
// with INTERRUPTED_BY_TIMEOUT once their deadline is reached.
type TimerQueue struct {
	lock   sync.Mutex
	clock  Clock
	slots  int
	nextId uint64
	trees  map[ClockId]*omap.SliceTree[int64, map[uint64]*Timer]

	// nudges the timer loop when a new deadline is armed
	wake chan struct{}
}

func NewTimerQueue(clock Clock, slots int) *TimerQueue {
	if slots < 1 {
		slots = DEFAULT_TIMER_SLOTS
	}
	return &TimerQueue{
		clock: clock,
		slots: slots,
		trees: make(map[ClockId]*omap.SliceTree[int64, map[uint64]*Timer]),
		wake:  make(chan struct{}, 1),
	}
}

func (s *TimerQueue) tree(id ClockId) *omap.SliceTree[int64, map[uint64]*Timer] {
	t, ok := s.trees[id]
	if !ok {
		t = omap.NewSliceTree[int64, map[uint64]*Timer](s.slots, cmp.Compare)
		s.trees[id] = t
	}
	return t
}

// Arms the deadline for w.  A forever deadline returns nil.
func (s *TimerQueue) Arm(d Deadline, w Waiter) *Timer {
	if d.IsForever() {
		return nil
	}
	s.lock.Lock()
	s.nextId++
	t := &Timer{deadline: d, id: s.nextId, waiter: w}
	tree := s.tree(d.clock)
	var m map[uint64]*Timer
	var ok bool
	if m, ok = tree.Get(d.instant); !ok {
		m = make(map[uint64]*Timer)
		tree.Put(d.instant, m)
	}
	m[t.id] = t
	s.lock.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return t
}

// Removes the timer if it has not fired yet.  Returns true if the timer had all ready
// fired.
func (s *TimerQueue) Disarm(t *Timer) (fired bool) {
	if t == nil {
		return false
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if t.fired {
		return true
	}
	tree := s.tree(t.deadline.clock)
	if m, ok := tree.Get(t.deadline.instant); ok {
		delete(m, t.id)
		if len(m) == 0 {
			tree.Remove(t.deadline.instant)
		}
	}
	return false
}

// Fires every timer whose deadline has been reached.  Returns the number of waiters
// resolved by the timeouts.
func (s *TimerQueue) RunTimeouts() (total int) {
	expired := make([]*Timer, 0)
	s.lock.Lock()
	for id, tree := range s.trees {
		now := s.clock.Now(id)
		for _, timers := range tree.RemoveBetweenKV(-1, now, omap.FIRST_KEY) {
			for _, t := range timers {
				t.fired = true
				expired = append(expired, t)
			}
		}
	}
	s.lock.Unlock()

	// resolve outside our lock, a resolution wakes the blocked thread
	for _, t := range expired {
		if t.waiter.Base().Resolve(INTERRUPTED_BY_TIMEOUT) {
			total++
		}
	}
	return
}

// Returns the earliest armed deadline on the given clock, or FOREVER.
func (s *TimerQueue) NextDeadline(id ClockId) Deadline {
	s.lock.Lock()
	defer s.lock.Unlock()
	tree, ok := s.trees[id]
	if !ok {
		return FOREVER
	}
	for instant := range tree.All() {
		return Deadline{instant: instant, clock: id}
	}
	return FOREVER
}

// Returns how long the timer loop may sleep before the next deadline, -1 if there is
// nothing armed.
func (s *TimerQueue) nextSleep() (sleep int64) {
	sleep = -1
	for _, id := range []ClockId{CLOCK_MONOTONIC, CLOCK_REALTIME} {
		d := s.NextDeadline(id)
		if d.IsForever() {
			continue
		}
		left := int64(d.Remaining(s.clock))
		if sleep < 0 || left < sleep {
			sleep = left
		}
	}
	return
}
