package oswc

import (
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func TestQueueNoLostWakeup(t *testing.T) {
	s, _ := createTestScheduler()
	th := s.Adopt("no lost wakeup")
	defer th.Exit(nil)

	q := NewQueueCondition()
	if q.WakeOne() {
		t.Fatalf("Nobody was registered, WakeOne should report false")
	}
	w := NewQueueWaiter(th, q)
	if w.ShouldBlock() || w.IsRegistered() {
		t.Fatalf("The recorded wake should have resolved the waiter during registration")
	}
	if outcome := th.Block(w, FOREVER); outcome != WOKE_NORMALLY {
		t.Fatalf("Expected WOKE_NORMALLY, got: %s", outcome)
	}

	// the request was consumed
	w = NewQueueWaiter(th, q)
	if !w.ShouldBlock() {
		t.Fatalf("The wake request should only be consumed once")
	}
	w.Release()
}

func TestQueueWakeOrder(t *testing.T) {
	s, _ := createTestScheduler()
	th := s.Adopt("order")
	defer th.Exit(nil)

	q := NewQueueCondition()
	waiters := make([]*QueueWaiter, 4)
	for i := range waiters {
		waiters[i] = NewQueueWaiter(th, q)
		defer waiters[i].Release()
	}
	if n := q.WakeN(2); n != 2 {
		t.Fatalf("Expected 2 woken, got: %d", n)
	}
	for i, w := range waiters {
		if w.IsResolved() != (i < 2) {
			t.Fatalf("Waiter %d resolved: %v, expected FIFO order", i, w.IsResolved())
		}
	}
	waiters[2].Resolve(INTERRUPTED_BY_SIGNAL)
	if n := q.WakeAll(); n != 1 {
		t.Fatalf("Only the unresolved waiter should count, got: %d", n)
	}
	if waiters[2].Outcome() != INTERRUPTED_BY_SIGNAL {
		t.Fatalf("WakeAll must not overwrite an outcome")
	}
}

func TestQueueBlockedThread(t *testing.T) {
	s, _ := createTestScheduler()
	q := NewQueueCondition()
	th, res := runOn(s, "sleeper", func(th *Thread) Outcome {
		return q.Wait(th, FOREVER)
	})
	waitFor(t, "thread to block", func() bool { return isBlocked(th) })
	if !q.WakeOne() {
		t.Fatalf("WakeOne should have found the blocked thread")
	}
	if outcome := recv(t, res); outcome != WOKE_NORMALLY {
		t.Fatalf("Expected WOKE_NORMALLY, got: %s", outcome)
	}
	if q.Count() != 0 {
		t.Fatalf("Queue should be empty, got: %d", q.Count())
	}
}

func TestQueueSignalAndDeath(t *testing.T) {
	s, _ := createTestScheduler()
	q := NewQueueCondition()
	th, res := runOn(s, "signal", func(th *Thread) Outcome {
		return q.Wait(th, FOREVER)
	})
	waitFor(t, "thread to block", func() bool { return isBlocked(th) })
	th.Signal(unix.SIGUSR1)
	if outcome := recv(t, res); outcome != INTERRUPTED_BY_SIGNAL {
		t.Fatalf("Expected INTERRUPTED_BY_SIGNAL, got: %s", outcome)
	}
	if q.Count() != 0 {
		t.Fatalf("Interrupted waiter left registered")
	}

	// pending signal interrupts without suspending
	self := s.Adopt("pending")
	defer self.Exit(nil)
	self.Signal(unix.SIGUSR2)
	if outcome := q.Wait(self, FOREVER); outcome != INTERRUPTED_BY_SIGNAL {
		t.Fatalf("Expected INTERRUPTED_BY_SIGNAL, got: %s", outcome)
	}
	if sig, ok := self.TakeSignal(); !ok || sig != unix.SIGUSR2 {
		t.Fatalf("Expected SIGUSR2 pending, got: %v", sig)
	}

	th, res = runOn(s, "death", func(th *Thread) Outcome {
		return q.Wait(th, FOREVER)
	})
	waitFor(t, "thread to block", func() bool { return isBlocked(th) })
	th.Kill()
	if outcome := recv(t, res); outcome != INTERRUPTED_BY_DEATH {
		t.Fatalf("Expected INTERRUPTED_BY_DEATH, got: %s", outcome)
	}
}

func TestQueueTimeout(t *testing.T) {
	s, clock := createTestScheduler()
	q := NewQueueCondition()
	th, res := runOn(s, "timeout", func(th *Thread) Outcome {
		return q.Wait(th, DeadlineAfter(th.Clock(), CLOCK_MONOTONIC, time.Second))
	})
	waitFor(t, "thread to block", func() bool { return isBlocked(th) })
	clock.Advance(int64(2 * time.Second))
	waitFor(t, "timer to fire", func() bool { return s.RunTimeouts() == 1 })
	if outcome := recv(t, res); outcome != INTERRUPTED_BY_TIMEOUT {
		t.Fatalf("Expected INTERRUPTED_BY_TIMEOUT, got: %s", outcome)
	}

	self := s.Adopt("past deadline")
	defer self.Exit(nil)
	past := NewDeadline(1, CLOCK_MONOTONIC)
	if outcome := q.Wait(self, past); outcome != INTERRUPTED_BY_TIMEOUT {
		t.Fatalf("A past deadline should time out right away, got: %s", outcome)
	}
	if q.Count() != 0 {
		t.Fatalf("Timed out waiter left registered")
	}
}
