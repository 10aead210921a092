package oswc

// A generic FIFO condition, waiters are resolved by explicit wake calls.
//
// A WakeOne with nobody registered is remembered, the next waiter to register consumes
// it and does not block.
type QueueCondition struct {
	ConditionBase
	wakeRequested bool
}

func NewQueueCondition() *QueueCondition {
	s := &QueueCondition{}
	s.init(s, s.consumeWakeRequest)
	return s
}

func (s *QueueCondition) consumeWakeRequest(w Waiter, token any) bool {
	if !s.wakeRequested {
		return false
	}
	if w.Base().Resolve(WOKE_NORMALLY) {
		s.wakeRequested = false
	}
	return true
}

// Wakes the oldest waiter.  Returns false and records a wake request if nobody was
// registered.
func (s *QueueCondition) WakeOne() bool {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.wakeN(1) == 0 {
		s.wakeRequested = true
		return false
	}
	return true
}

// Wakes up to n waiters in registration order.  Returns how many were woken.
func (s *QueueCondition) WakeN(n int) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.wakeN(n)
}

// Wakes every registered waiter.
func (s *QueueCondition) WakeAll() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.wakeRequested = false
	return s.wakeN(-1)
}

func (s *QueueCondition) wakeN(n int) int {
	woken := 0
	s.notifyLocked(func(w Waiter, token any) bool {
		if n > -1 && woken >= n {
			return false
		}
		if w.Base().Resolve(WOKE_NORMALLY) {
			woken++
			return true
		}
		// all ready resolved by a signal or timeout, leave it for Release
		return false
	})
	return woken
}

type QueueWaiter struct {
	WaiterBase
	queue *QueueCondition
}

// Registers a new waiter with the queue.
func NewQueueWaiter(thread *Thread, queue *QueueCondition) *QueueWaiter {
	s := &QueueWaiter{queue: queue}
	s.init(s, thread)
	s.setup(s.TryRegister(queue, nil))
	return s
}

// Blocks on the queue until woken.
func (s *QueueCondition) Wait(thread *Thread, ambient Deadline) Outcome {
	return thread.Block(NewQueueWaiter(thread, s), ambient)
}
