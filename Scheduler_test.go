package oswc

import (
	"errors"
	"testing"
	"time"
)

func TestSchedulerTimerLoop(t *testing.T) {
	s := NewSchedulerDefaults()
	if err := s.Start(); err != nil {
		t.Fatalf("Failed to start: %v", err)
	}
	defer s.Stop()
	if err := s.Start(); !errors.Is(err, ERR_SHUTDOWN) {
		t.Fatalf("A second start should fail, got: %v", err)
	}

	q := NewQueueCondition()
	_, res := runOn(s, "timed", func(th *Thread) Outcome {
		return q.Wait(th, DeadlineAfter(th.Clock(), CLOCK_MONOTONIC, 20*time.Millisecond))
	})
	start := time.Now()
	if outcome := recv(t, res); outcome != INTERRUPTED_BY_TIMEOUT {
		t.Fatalf("Expected INTERRUPTED_BY_TIMEOUT, got: %s", outcome)
	}
	t.Logf("Timed out after: %s", time.Since(start))

	_, sleeps := runOn(s, "sleeper", func(th *Thread) Outcome {
		_, outcome := th.Sleep(10 * time.Millisecond)
		return outcome
	})
	if outcome := recv(t, sleeps); outcome != WOKE_NORMALLY {
		t.Fatalf("Expected WOKE_NORMALLY, got: %s", outcome)
	}
}

func TestSchedulerStop(t *testing.T) {
	s := NewSchedulerDefaults()
	if err := s.Stop(); !errors.Is(err, ERR_SHUTDOWN) {
		t.Fatalf("Stopping a stopped scheduler should fail, got: %v", err)
	}
	s.Start()
	if err := s.Stop(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	// can be restarted
	if err := s.Start(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	s.Stop()
}

func TestSystemClock(t *testing.T) {
	c := SystemClock{}
	a := c.Now(CLOCK_MONOTONIC)
	b := c.Now(CLOCK_MONOTONIC)
	if a <= 0 || b < a {
		t.Fatalf("CLOCK_MONOTONIC went backwards: %d, %d", a, b)
	}
	wall := c.Now(CLOCK_REALTIME)
	if diff := time.Since(time.Unix(0, wall)); diff < -time.Second || diff > time.Second {
		t.Fatalf("CLOCK_REALTIME is off by: %s", diff)
	}
}
