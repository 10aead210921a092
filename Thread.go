package oswc

import (
	"sync"

	"golang.org/x/sys/unix"
)

type Thread struct {
	Tid  int
	Name string

	sched   *Scheduler
	wake    chan struct{}
	lock    sync.Mutex
	current Waiter
	signals []unix.Signal
	dying   bool
	exited  bool
	exit    *ThreadExitCondition
}

func (s *Thread) Scheduler() *Scheduler {
	return s.sched
}

func (s *Thread) Clock() Clock {
	return s.sched.clock
}

// The condition joiners register with.
func (s *Thread) ExitCondition() *ThreadExitCondition {
	return s.exit
}

// Blocks the calling thread on w until it is resolved or the deadline is reached.  Must
// only be called by the thread itself.  The waiter is deregistered on every return path.
func (s *Thread) Block(w Waiter, ambient Deadline) Outcome {
	b := w.Base()
	defer b.Release()

	deadline := w.OverrideTimeout(ambient)
	past := deadline.IsPast(s.sched.clock)
	if past || !b.ShouldBlock() {
		w.OnNotBlocking(past)
		b.Resolve(WOULD_NOT_BLOCK)
		return b.Outcome()
	}

	s.setCurrent(w)
	defer s.clearCurrent()
	if !b.BeginBlocking() {
		return w.EndBlocking(false)
	}

	timer := s.sched.timers.Arm(deadline, w)
	for !b.IsResolved() {
		<-s.wake
	}
	s.sched.timers.Disarm(timer)
	return w.EndBlocking(b.Outcome() == INTERRUPTED_BY_TIMEOUT)
}

func (s *Thread) setCurrent(w Waiter) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = w
	switch {
	case s.dying:
		w.Base().Resolve(INTERRUPTED_BY_DEATH)
	case len(s.signals) != 0:
		w.Base().Resolve(INTERRUPTED_BY_SIGNAL)
	}
}

func (s *Thread) clearCurrent() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.current = nil
}

func (s *Thread) wakeup() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Queues a signal for the thread and interrupts its current wait.
func (s *Thread) Signal(sig unix.Signal) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.signals = append(s.signals, sig)
	if s.current != nil {
		s.current.Base().Resolve(INTERRUPTED_BY_SIGNAL)
	}
}

func (s *Thread) HasPendingSignal() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.signals) != 0
}

// Removes and returns the oldest pending signal.
func (s *Thread) TakeSignal() (sig unix.Signal, ok bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if len(s.signals) == 0 {
		return
	}
	sig, ok = s.signals[0], true
	s.signals = s.signals[1:]
	return
}

// Marks the thread as dying.  The current wait and every later wait end with
// INTERRUPTED_BY_DEATH.
func (s *Thread) Kill() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.dying = true
	if s.current != nil {
		s.current.Base().Resolve(INTERRUPTED_BY_DEATH)
	}
}

func (s *Thread) IsDying() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.dying
}

// Ends the thread, joiners receive value.
func (s *Thread) Exit(value any) error {
	s.lock.Lock()
	if s.exited {
		s.lock.Unlock()
		return ERR_THREAD_DEAD
	}
	s.exited = true
	s.lock.Unlock()
	s.exit.NotifyExit(value)
	s.sched.forget(s)
	return nil
}

// Waits for target to exit and returns its exit value.
func (s *Thread) Join(target *Thread, ambient Deadline) (value any, outcome Outcome, err error) {
	var w *JoinWaiter
	if w, err = NewJoinWaiter(s, target); err != nil {
		return
	}
	outcome = s.Block(w, ambient)
	value = w.ExitValue()
	return
}
