package oswc

import (
	"fmt"
)

// One resource of a select wait.  Satisfied is filled in once the wait resolves.
type SelectEntry struct {
	Resource  Resource
	Interest  ReadyFlags
	Satisfied ReadyFlags
}

// Waits on many resources at once.  The wait resolves on the first ready resource, the
// ready set reports every resource that was ready at that moment.
type SelectWaiter struct {
	WaiterBase
	entries []SelectEntry
}

func NewSelectWaiter(thread *Thread, entries []SelectEntry) (*SelectWaiter, error) {
	for i, e := range entries {
		if e.Resource == nil {
			return nil, fmt.Errorf("Select entry %d has no resource", i)
		}
	}
	s := &SelectWaiter{entries: make([]SelectEntry, len(entries))}
	for i, e := range entries {
		s.entries[i] = SelectEntry{Resource: e.Resource, Interest: e.Interest}
	}
	s.init(s, thread)
	s.multi = true

	ok := true
	for i, e := range s.entries {
		if !s.TryRegister(e.Resource.Condition(), i) {
			// already resolved, the ready set is complete
			ok = false
			break
		}
	}
	s.setup(ok)
	return s, nil
}

func (s *SelectWaiter) interest(token any) (Resource, ReadyFlags) {
	i := token.(int)
	return s.entries[i].Resource, s.entries[i].Interest
}

func (s *SelectWaiter) resolveReady(token any) bool {
	return s.resolveWith(WOKE_NORMALLY, s.collect)
}

// Evaluates every entry, called with the waiter lock held.
func (s *SelectWaiter) collect() {
	for i := range s.entries {
		s.entries[i].Satisfied = satisfiedFlags(s.entries[i].Resource, s.entries[i].Interest)
	}
}

func (s *SelectWaiter) clear() {
	for i := range s.entries {
		s.entries[i].Satisfied = 0
	}
}

func (s *SelectWaiter) OnNotBlocking(timeoutInPast bool) {
	s.lock.Lock()
	if s.resolved {
		s.lock.Unlock()
		return
	}
	s.collect()
	count := s.countLocked()
	s.lock.Unlock()

	outcome := WOKE_NORMALLY
	if count == 0 {
		outcome = WOULD_NOT_BLOCK
		if timeoutInPast {
			outcome = INTERRUPTED_BY_TIMEOUT
		}
	}
	s.resolveWith(outcome, func() {
		if outcome != WOKE_NORMALLY {
			s.clear()
		}
	})
}

func (s *SelectWaiter) EndBlocking(didTimeOut bool) Outcome {
	outcome := s.endBlocking()
	if outcome != WOKE_NORMALLY {
		s.lock.Lock()
		s.clear()
		s.lock.Unlock()
	}
	return outcome
}

func (s *SelectWaiter) countLocked() (total int) {
	for _, e := range s.entries {
		if e.Satisfied != 0 {
			total++
		}
	}
	return
}

// Returns a copy of the entries with their Satisfied flags.
func (s *SelectWaiter) Entries() []SelectEntry {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]SelectEntry, len(s.entries))
	copy(res, s.entries)
	return res
}

// Returns the number of entries with at least one satisfied flag.
func (s *SelectWaiter) ReadyCount() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.countLocked()
}

// Blocks the thread on all entries, see SelectWaiter.
func (s *Thread) Select(entries []SelectEntry, ambient Deadline) ([]SelectEntry, Outcome, error) {
	w, err := NewSelectWaiter(s, entries)
	if err != nil {
		return nil, WOULD_NOT_BLOCK, err
	}
	outcome := s.Block(w, ambient)
	return w.Entries(), outcome, nil
}
