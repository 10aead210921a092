package oswc

import (
	"fmt"
	"slices"

	"golang.org/x/sys/unix"
)

// The kind of state change a child went through.
type ReapFlags uint8

const (
	TERMINATED ReapFlags = 1 << iota
	STOPPED
	CONTINUED

	// The child was taken away from its parent.
	DISOWNED
)

func (s ReapFlags) String() string {
	switch s {
	case TERMINATED:
		return "Terminated"
	case STOPPED:
		return "Stopped"
	case CONTINUED:
		return "Continued"
	case DISOWNED:
		return "Disowned"
	case 0:
		return "None"
	}
	return fmt.Sprintf("ReapFlags(%d)", uint8(s))
}

// A child process as seen by its parent's ReapCondition.
type Child interface {
	Pid() int
	Pgid() int

	// Only meaningful once the child has terminated.
	ExitStatus() int
}

// A state change no waiter consumed yet.
type ProcessBlockInfo struct {
	Child     Child
	Flags     ReapFlags
	Signal    unix.Signal
	WasWaited bool
}

// Implemented by waiters that accept child state changes.
type reapWaiter interface {
	Waiter

	// Resolves the waiter if it wants this change, called with the condition lock held.
	deliver(child Child, flags ReapFlags, signal unix.Signal) bool

	// A real wait consumes the state, a probe (WNOWAIT) leaves it pending.
	consumes() bool

	// True if the waiter targets this exact pid.
	targets(pid int) bool
}

// The condition a parent process owns.  Children report their state changes here; changes
// nobody waited for yet are kept as pending entries until a waiter consumes them.
type ReapCondition struct {
	ConditionBase
	pending  []*ProcessBlockInfo
	reaped   []Child
	onReaped func(child Child)
}

func NewReapCondition() *ReapCondition {
	s := &ReapCondition{}
	s.init(s, s.consumeLocked)
	return s
}

// Sets the callback run whenever a real wait consumed a terminated child.  It runs without
// any condition lock held.
func (s *ReapCondition) SetOnReaped(cb func(child Child)) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.onReaped = cb
}

func (s *ReapCondition) Add(w Waiter, token any) bool {
	s.lock.Lock()
	added := s.addLocked(w, token)
	reaped, cb := s.takeReaped()
	s.lock.Unlock()
	runReaped(reaped, cb)
	return added
}

// Resolves w against the pending entries, used by waiters that never registered or whose
// deadline all ready passed.
func (s *ReapCondition) TryConsumePending(w Waiter) bool {
	s.lock.Lock()
	ok := !s.finalized && s.consumeLocked(w, nil)
	reaped, cb := s.takeReaped()
	s.lock.Unlock()
	runReaped(reaped, cb)
	return ok
}

func (s *ReapCondition) consumeLocked(w Waiter, token any) bool {
	rw, ok := w.(reapWaiter)
	if !ok {
		return false
	}
	for i, info := range s.pending {
		if info.WasWaited && rw.consumes() {
			// this state was all ready waited on
			continue
		}
		if !rw.deliver(info.Child, info.Flags, info.Signal) {
			continue
		}
		if rw.consumes() {
			if info.Flags == TERMINATED {
				s.pending = slices.Delete(s.pending, i, i+1)
				s.reaped = append(s.reaped, info.Child)
				s.dropTargetsLocked(info.Child)
			} else {
				info.WasWaited = true
			}
		}
		return true
	}
	return false
}

// Reports a state change of child.  Registered waiters that want it are resolved, the
// change is kept as pending unless a real wait consumed a termination.  Returns true if a
// waiter was resolved.
func (s *ReapCondition) Notify(child Child, flags ReapFlags, signal unix.Signal) bool {
	s.lock.Lock()
	if s.finalized {
		s.lock.Unlock()
		return false
	}
	idx := slices.IndexFunc(s.pending, func(info *ProcessBlockInfo) bool {
		return info.Child == child
	})
	// only a repeat of the same state was already waited on
	wasWaited := idx > -1 && s.pending[idx].WasWaited && s.pending[idx].Flags == flags

	var resolvedAny, didWait bool
	s.notifyLocked(func(w Waiter, token any) bool {
		rw, ok := w.(reapWaiter)
		if !ok {
			return false
		}
		if (wasWaited || didWait) && rw.consumes() {
			// one real wait per state change
			return false
		}
		if !rw.deliver(child, flags, signal) {
			return false
		}
		didWait = didWait || rw.consumes()
		resolvedAny = true
		return true
	})

	switch {
	case didWait && flags == TERMINATED:
		if idx > -1 {
			s.pending = slices.Delete(s.pending, idx, idx+1)
		}
		s.reaped = append(s.reaped, child)
		s.dropTargetsLocked(child)
	case idx > -1:
		info := s.pending[idx]
		info.Flags = flags
		info.Signal = signal
		info.WasWaited = didWait
	default:
		s.pending = append(s.pending, &ProcessBlockInfo{Child: child, Flags: flags, Signal: signal, WasWaited: didWait})
	}
	reaped, cb := s.takeReaped()
	s.lock.Unlock()
	runReaped(reaped, cb)
	return resolvedAny
}

// Forces every waiter targeting child's pid to finish with DISOWNED, and forgets any
// pending state of child.  Waiters on a group or on any child are left alone.  Returns the
// number of waiters resolved.
func (s *ReapCondition) Disown(child Child) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.finalized {
		return 0
	}
	s.pending = slices.DeleteFunc(s.pending, func(info *ProcessBlockInfo) bool {
		return info.Child == child
	})
	return s.dropTargetsLocked(child)
}

// Resolves every registered waiter targeting child's pid with DISOWNED, used once child
// can no longer report to this condition.
func (s *ReapCondition) dropTargetsLocked(child Child) int {
	return s.notifyLocked(func(w Waiter, token any) bool {
		rw, ok := w.(reapWaiter)
		if !ok || !rw.targets(child.Pid()) {
			return false
		}
		rw.deliver(child, DISOWNED, 0)
		// resolved or not, the waiter can never be satisfied here
		return true
	})
}

// Returns a copy of the pending entries.
func (s *ReapCondition) Pending() []ProcessBlockInfo {
	s.lock.Lock()
	defer s.lock.Unlock()
	res := make([]ProcessBlockInfo, len(s.pending))
	for i, info := range s.pending {
		res[i] = *info
	}
	return res
}

// Called once the owning process is reaped, clears all pending entries.
func (s *ReapCondition) Finalize() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.pending = nil
	s.finalizeLocked()
}

func (s *ReapCondition) takeReaped() ([]Child, func(Child)) {
	if len(s.reaped) == 0 {
		return nil, nil
	}
	reaped := s.reaped
	s.reaped = nil
	return reaped, s.onReaped
}

func runReaped(reaped []Child, cb func(Child)) {
	if cb == nil {
		return
	}
	for _, child := range reaped {
		cb(child)
	}
}
