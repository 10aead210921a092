package oswc

import (
	"slices"
	"sync"
)

// This is the core Waiter interface used by the WaitCondition and Thread internals.
//
// A Waiter is one thread's single outstanding wait.  Every kind embeds *WaiterBase, which
// owns the resolved flag and the Outcome.
//
// # Life cycle
//
// The constructor of each kind registers the waiter with its condition.  The blocked
// thread then runs:
//
//	Thread.Block: OverrideTimeout -> BeginBlocking -> [suspend] -> EndBlocking -> Release
//
// or, when registration all ready resolved the waiter or the deadline was past:
//
//	Thread.Block: OverrideTimeout -> OnNotBlocking -> Release
//
// Resolve may be called from any goroutine at any time.
type Waiter interface {
	// Returns the shared state of this waiter.
	Base() *WaiterBase

	// Returns the deadline to use instead of the ambient one.
	OverrideTimeout(ambient Deadline) Deadline

	// Called instead of BeginBlocking/EndBlocking when the thread is not going to suspend.
	OnNotBlocking(timeoutInPast bool)

	// Called by the blocked thread once it has been resumed.
	EndBlocking(didTimeOut bool) Outcome
}

type registration struct {
	condition WaitCondition
	token     any
}

type WaiterBase struct {
	lock   sync.Mutex
	self   Waiter
	thread *Thread
	regs   []registration

	// true when the kind registers with more than one condition at a time
	multi    bool
	setupOk  bool
	resolved bool
	blocking bool
	outcome  Outcome
}

func (s *WaiterBase) init(self Waiter, thread *Thread) {
	s.self = self
	s.thread = thread
}

func (s *WaiterBase) Base() *WaiterBase {
	return s
}

// The thread this waiter blocks.
func (s *WaiterBase) Thread() *Thread {
	return s.thread
}

// Registers with exactly one condition.  Returns false when the condition resolved the
// waiter during registration, in that case the caller must not suspend.
func (s *WaiterBase) TryRegister(cond WaitCondition, token any) bool {
	s.lock.Lock()
	if len(s.regs) != 0 && !s.multi {
		s.lock.Unlock()
		panic(ERR_ALREADY_REGISTERED)
	}
	s.lock.Unlock()
	return cond.Add(s.self, token)
}

// Returns true if the constructor registered the waiter and the thread should suspend.
func (s *WaiterBase) ShouldBlock() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.setupOk && !s.resolved
}

func (s *WaiterBase) setup(ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.setupOk = ok
}

// Marks the wait as finished.  Only the first call returns true, all later calls are
// no-ops.
func (s *WaiterBase) Resolve(outcome Outcome) bool {
	return s.resolveWith(outcome, nil)
}

// Same as Resolve, record runs under the waiter lock on the winning call only.
func (s *WaiterBase) resolveWith(outcome Outcome, record func()) bool {
	s.lock.Lock()
	if s.resolved {
		s.lock.Unlock()
		return false
	}
	s.resolved = true
	s.outcome = outcome
	if record != nil {
		record()
	}
	// a waiter resolved while still registering is never woken, its thread is not asleep
	wake := s.blocking
	s.lock.Unlock()
	if wake && s.thread != nil {
		s.thread.wakeup()
	}
	return true
}

func (s *WaiterBase) IsResolved() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.resolved
}

// The current outcome, only meaningful once IsResolved returns true.
func (s *WaiterBase) Outcome() Outcome {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.outcome
}

// Called by the blocked thread right before it suspends.  Returns false if the waiter was
// resolved in the mean time and the thread must not suspend.
func (s *WaiterBase) BeginBlocking() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.blocking = true
	return !s.resolved
}

func (s *WaiterBase) endBlocking() Outcome {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.blocking = false
	return s.outcome
}

// Default: use the ambient deadline.
func (s *WaiterBase) OverrideTimeout(ambient Deadline) Deadline {
	return ambient
}

// Default: a past deadline is a timeout, otherwise the waiter all ready has its outcome.
func (s *WaiterBase) OnNotBlocking(timeoutInPast bool) {
	if timeoutInPast {
		s.Resolve(INTERRUPTED_BY_TIMEOUT)
	}
}

func (s *WaiterBase) EndBlocking(didTimeOut bool) Outcome {
	return s.endBlocking()
}

// Returns the condition this waiter is registered with, or nil.
func (s *WaiterBase) Condition() WaitCondition {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.regs) == 0 {
		return nil
	}
	return s.regs[0].condition
}

func (s *WaiterBase) IsRegistered() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.regs) != 0
}

// Deregisters from every condition.  Safe to call more than once.
func (s *WaiterBase) Release() {
	for {
		s.lock.Lock()
		if len(s.regs) == 0 {
			s.lock.Unlock()
			return
		}
		reg := s.regs[0]
		s.lock.Unlock()
		// a concurrent requeue may move us first, the next pass sees the new condition
		reg.condition.Remove(s.self, reg.token)
	}
}

// The methods below are called by conditions with their own lock held.

func (s *WaiterBase) attach(cond WaitCondition, token any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.regs = append(s.regs, registration{cond, token})
}

func (s *WaiterBase) detach(cond WaitCondition, token any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if i := s.findReg(cond, token); i > -1 {
		s.regs = slices.Delete(s.regs, i, i+1)
	}
}

// Moves the registration from one condition to another in a single step.
func (s *WaiterBase) repoint(from, to WaitCondition, token any) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if i := s.findReg(from, token); i > -1 {
		s.regs[i].condition = to
	}
}

func (s *WaiterBase) findReg(cond WaitCondition, token any) int {
	for i, reg := range s.regs {
		if reg.condition == cond && reg.token == token {
			return i
		}
	}
	return -1
}
