package oswc

import "time"

// Sleeps until its own deadline.  The ambient deadline is ignored, reaching the deadline
// is reported as WOKE_NORMALLY.  Any other resolution, such as a signal, wakes it early
// and Remaining reports the time that was left.
type SleepWaiter struct {
	WaiterBase
	deadline  Deadline
	remaining time.Duration
}

// Creates a sleep until deadline.  A sleep does not register with any condition.
func NewSleepWaiter(thread *Thread, deadline Deadline) *SleepWaiter {
	s := &SleepWaiter{deadline: deadline}
	s.init(s, thread)
	s.setup(true)
	return s
}

// Creates a sleep until the next time the cron expression matches on CLOCK_REALTIME.
func NewCronSleepWaiter(thread *Thread, expr string) (*SleepWaiter, error) {
	d, err := CronDeadline(thread.Clock(), expr)
	if err != nil {
		return nil, err
	}
	return NewSleepWaiter(thread, d), nil
}

func (s *SleepWaiter) OverrideTimeout(ambient Deadline) Deadline {
	return s.deadline
}

func (s *SleepWaiter) OnNotBlocking(timeoutInPast bool) {
	if timeoutInPast {
		s.resolveWith(WOKE_NORMALLY, func() {
			s.remaining = 0
		})
	}
}

func (s *SleepWaiter) EndBlocking(didTimeOut bool) Outcome {
	s.endBlocking()
	s.lock.Lock()
	defer s.lock.Unlock()
	if didTimeOut {
		s.outcome = WOKE_NORMALLY
		s.remaining = 0
	} else if !s.deadline.IsForever() {
		s.remaining = s.deadline.Remaining(s.thread.Clock())
	}
	return s.outcome
}

// Time that was left when the sleep ended.
func (s *SleepWaiter) Remaining() time.Duration {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.remaining
}

func (s *SleepWaiter) Deadline() Deadline {
	return s.deadline
}

// Sleeps for d on CLOCK_MONOTONIC.  Returns the time left if the sleep was interrupted.
func (s *Thread) Sleep(d time.Duration) (remaining time.Duration, outcome Outcome) {
	w := NewSleepWaiter(s, DeadlineAfter(s.Clock(), CLOCK_MONOTONIC, d))
	outcome = s.Block(w, FOREVER)
	remaining = w.Remaining()
	return
}
