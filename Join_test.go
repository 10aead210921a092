package oswc

import (
	"errors"
	"testing"
)

func TestJoin(t *testing.T) {
	s, _ := createTestScheduler()
	gate := NewQueueCondition()
	target := s.Spawn("target", func(th *Thread) any {
		gate.Wait(th, FOREVER)
		return "done"
	})
	waitFor(t, "target to block", func() bool { return isBlocked(target) })

	type result struct {
		value   any
		outcome Outcome
	}
	joiner, res := runOn(s, "joiner", func(th *Thread) result {
		v, o, err := th.Join(target, FOREVER)
		if err != nil {
			return result{err, WOULD_NOT_BLOCK}
		}
		return result{v, o}
	})
	waitFor(t, "joiner to block", func() bool { return isBlocked(joiner) })
	gate.WakeOne()

	r := recv(t, res)
	if r.outcome != WOKE_NORMALLY || r.value != "done" {
		t.Fatalf("Expected done, got: %v, %s", r.value, r.outcome)
	}

	// joining an exited thread returns right away
	self := s.Adopt("late joiner")
	defer self.Exit(nil)
	v, outcome, err := self.Join(target, FOREVER)
	if err != nil || outcome != WOKE_NORMALLY || v != "done" {
		t.Fatalf("Expected the stored exit value, got: %v, %s, %v", v, outcome, err)
	}
	if _, ok := s.Thread(target.Tid); ok {
		t.Fatalf("An exited thread should be forgotten")
	}
}

func TestJoinErrors(t *testing.T) {
	s, _ := createTestScheduler()
	self := s.Adopt("self")
	defer self.Exit(nil)

	if _, _, err := self.Join(self, FOREVER); !errors.Is(err, ERR_JOIN_SELF) {
		t.Fatalf("Expected ERR_JOIN_SELF, got: %v", err)
	}
	if _, _, err := self.Join(nil, FOREVER); !errors.Is(err, ERR_THREAD_DEAD) {
		t.Fatalf("Expected ERR_THREAD_DEAD, got: %v", err)
	}
	other := s.Adopt("other")
	if err := other.Exit(1); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := other.Exit(2); !errors.Is(err, ERR_THREAD_DEAD) {
		t.Fatalf("Expected ERR_THREAD_DEAD on a second exit, got: %v", err)
	}
}

func TestJoinPanickingThread(t *testing.T) {
	s, _ := createTestScheduler()
	target := s.Spawn("panic", func(th *Thread) any {
		panic("boom")
	})
	self := s.Adopt("joiner")
	defer self.Exit(nil)

	type result struct {
		value   any
		outcome Outcome
	}
	res := make(chan result, 1)
	go func() {
		v, o, _ := self.Join(target, FOREVER)
		res <- result{v, o}
	}()
	r := recv(t, res)
	if r.outcome != WOKE_NORMALLY || r.value != nil {
		t.Fatalf("A panicking thread still exits with nil, got: %v, %s", r.value, r.outcome)
	}
}
