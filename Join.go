package oswc

import "fmt"

// Resolved once when its thread exits.  Joiners registering after the exit are resolved
// right away with the stored exit value.
type ThreadExitCondition struct {
	ConditionBase
	thread *Thread
	exited bool
	value  any
}

func NewThreadExitCondition(thread *Thread) *ThreadExitCondition {
	s := &ThreadExitCondition{thread: thread}
	s.init(s, s.hasExited)
	return s
}

func (s *ThreadExitCondition) hasExited(w Waiter, token any) bool {
	if !s.exited {
		return false
	}
	s.resolveJoin(w)
	return true
}

func (s *ThreadExitCondition) resolveJoin(w Waiter) bool {
	jw, ok := w.(*JoinWaiter)
	if !ok {
		return w.Base().Resolve(WOKE_NORMALLY)
	}
	value := s.value
	return jw.resolveWith(WOKE_NORMALLY, func() {
		jw.value = value
	})
}

// Records the exit value and resolves every joiner.
func (s *ThreadExitCondition) NotifyExit(value any) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.exited = true
	s.value = value
	return s.notifyLocked(func(w Waiter, token any) bool {
		s.resolveJoin(w)
		return true
	})
}

func (s *ThreadExitCondition) HasExited() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.exited
}

type JoinWaiter struct {
	WaiterBase
	target *Thread
	value  any
}

// Registers a waiter for target's exit.
func NewJoinWaiter(thread *Thread, target *Thread) (*JoinWaiter, error) {
	if target == nil {
		return nil, fmt.Errorf("Cannot join a nil thread, error was %w", ERR_THREAD_DEAD)
	}
	if thread == target {
		return nil, fmt.Errorf("Thread: %d tried to join itself, error was %w", thread.Tid, ERR_JOIN_SELF)
	}
	s := &JoinWaiter{target: target}
	s.init(s, thread)
	s.setup(s.TryRegister(target.ExitCondition(), nil))
	return s, nil
}

// The exit value of the target, only set once the target has exited.
func (s *JoinWaiter) ExitValue() any {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.value
}
