package oswc

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestResolveExactlyOnce(t *testing.T) {
	s, _ := createTestScheduler()
	th := s.Adopt("resolver test")
	defer th.Exit(nil)

	for _, n := range []int{1, 2, 8, 64} {
		q := NewQueueCondition()
		w := NewQueueWaiter(th, q)
		var wins atomic.Int32
		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := range n {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				outcome := WOKE_NORMALLY
				if i%2 == 1 {
					outcome = INTERRUPTED_BY_SIGNAL
				}
				if w.Resolve(outcome) {
					wins.Add(1)
				}
			}()
		}
		close(start)
		wg.Wait()
		if wins.Load() != 1 {
			t.Fatalf("Expected exactly 1 winning resolve for %d resolvers, got: %d", n, wins.Load())
		}
		if w.Resolve(WOKE_NORMALLY) {
			t.Fatalf("A late resolve must not win")
		}
		w.Release()
		if q.Count() != 0 {
			t.Fatalf("Release left %d entries behind", q.Count())
		}
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	s, _ := createTestScheduler()
	th := s.Adopt("release test")
	defer th.Exit(nil)

	q := NewQueueCondition()
	w := NewQueueWaiter(th, q)
	if !w.IsRegistered() || w.Condition() != q {
		t.Fatalf("Waiter should be registered with the queue")
	}
	w.Release()
	w.Release()
	if w.IsRegistered() {
		t.Fatalf("Waiter should no longer be registered")
	}
	if q.Remove(w, nil) {
		t.Fatalf("Removing a released waiter should report false")
	}
}

func TestRegisterTwicePanics(t *testing.T) {
	s, _ := createTestScheduler()
	th := s.Adopt("double register")
	defer th.Exit(nil)

	w := NewQueueWaiter(th, NewQueueCondition())
	defer w.Release()
	defer func() {
		e := recover()
		err, ok := e.(error)
		if !ok || !errors.Is(err, ERR_ALREADY_REGISTERED) {
			t.Fatalf("Expected ERR_ALREADY_REGISTERED panic, got: %v", e)
		}
	}()
	w.TryRegister(NewQueueCondition(), nil)
}

func TestFinalizedConditionRejects(t *testing.T) {
	s, _ := createTestScheduler()
	th := s.Adopt("finalized")
	defer th.Exit(nil)

	q := NewQueueCondition()
	blocked := NewQueueWaiter(th, q)
	q.Finalize()
	if !blocked.IsResolved() || blocked.Outcome() != WOULD_NOT_BLOCK {
		t.Fatalf("Finalize should evict registered waiters, got: %s", blocked.Outcome())
	}
	if blocked.IsRegistered() {
		t.Fatalf("Evicted waiter is still registered")
	}

	w := NewQueueWaiter(th, q)
	if w.ShouldBlock() {
		t.Fatalf("A finalized condition must not accept new waiters")
	}
	if outcome := th.Block(w, FOREVER); outcome != WOULD_NOT_BLOCK {
		t.Fatalf("Expected WOULD_NOT_BLOCK, got: %s", outcome)
	}
}
