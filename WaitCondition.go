package oswc

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// A WaitCondition is owned by a resource and holds the Waiters registered with it.
//
// Lock order is always condition then waiter, a condition never blocks while holding
// its lock.
type WaitCondition interface {
	// Registers the waiter unless the current state all ready satisfies it.  Returns false
	// when the waiter was resolved right away and was not added.
	Add(w Waiter, token any) bool

	// Removes the waiter, returns false if it was not registered.  Safe to call more than
	// once.
	Remove(w Waiter, token any) bool

	// Called when the owner can no longer produce events.
	Finalize()
}

type condEntry struct {
	waiter Waiter
	token  any
}

// The FIFO bookkeeping shared by every condition kind.  Tokens must be comparable.
type ConditionBase struct {
	lock      sync.Mutex
	self      WaitCondition
	entries   []*condEntry
	finalized bool

	// Runs under lock before a waiter is added.  Returns true if it resolved the waiter
	// and the waiter must not be added.
	immediate func(w Waiter, token any) bool
}

func (s *ConditionBase) init(self WaitCondition, immediate func(w Waiter, token any) bool) {
	s.self = self
	s.immediate = immediate
}

func (s *ConditionBase) Add(w Waiter, token any) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.addLocked(w, token)
}

func (s *ConditionBase) addLocked(w Waiter, token any) bool {
	if s.finalized {
		w.Base().Resolve(WOULD_NOT_BLOCK)
		return false
	}
	if s.immediate != nil && s.immediate(w, token) {
		return false
	}
	s.entries = append(s.entries, &condEntry{waiter: w, token: token})
	w.Base().attach(s.self, token)
	return true
}

func (s *ConditionBase) Remove(w Waiter, token any) bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.removeLocked(w, token)
}

func (s *ConditionBase) removeLocked(w Waiter, token any) bool {
	i := slices.IndexFunc(s.entries, func(e *condEntry) bool {
		return e.waiter == w && e.token == token
	})
	if i < 0 {
		return false
	}
	s.entries = slices.Delete(s.entries, i, i+1)
	w.Base().detach(s.self, token)
	return true
}

// Calls cb for every registered waiter, oldest first.  Every entry cb returns true for is
// removed.  Returns how many entries were removed.
func (s *ConditionBase) NotifyMatching(cb func(w Waiter, token any) bool) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.notifyLocked(cb)
}

func (s *ConditionBase) notifyLocked(cb func(w Waiter, token any) bool) (total int) {
	// cb may end up removing entries, so walk a copy
	for _, e := range slices.Clone(s.entries) {
		if !cb(e.waiter, e.token) {
			continue
		}
		if i := slices.Index(s.entries, e); i > -1 {
			s.entries = slices.Delete(s.entries, i, i+1)
			e.waiter.Base().detach(s.self, e.token)
			total++
		}
	}
	return
}

// Returns the number of registered waiters.
func (s *ConditionBase) Count() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.entries)
}

func (s *ConditionBase) IsFinalized() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.finalized
}

func (s *ConditionBase) Finalize() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.finalizeLocked()
}

func (s *ConditionBase) finalizeLocked() {
	s.finalized = true
	if len(s.entries) == 0 {
		return
	}
	slog.Warn(fmt.Sprintf("Finalizing a wait condition with %d registered waiters", len(s.entries)))
	s.notifyLocked(func(w Waiter, token any) bool {
		w.Base().Resolve(WOULD_NOT_BLOCK)
		return true
	})
}
