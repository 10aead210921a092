package oswc

import (
	"testing"
	"time"
)

func TestDeadline(t *testing.T) {
	clock := NewManualClock()
	clock.Set(CLOCK_MONOTONIC, 1000)

	if !FOREVER.IsForever() || FOREVER.IsPast(clock) {
		t.Fatalf("FOREVER should never be past")
	}
	if FOREVER.Remaining(clock) != -1 {
		t.Fatalf("FOREVER should have -1 remaining")
	}

	d := DeadlineAfter(clock, CLOCK_MONOTONIC, 500)
	if d.Instant() != 1500 || d.Clock() != CLOCK_MONOTONIC {
		t.Fatalf("Unexpected deadline: %s", d)
	}
	if d.IsPast(clock) || d.Remaining(clock) != 500 {
		t.Fatalf("Deadline should have 500ns left, got: %d", d.Remaining(clock))
	}
	clock.Set(CLOCK_MONOTONIC, 1600)
	if !d.IsPast(clock) || d.Remaining(clock) != 0 {
		t.Fatalf("Deadline should be past")
	}

	if DeadlineAfter(clock, CLOCK_MONOTONIC, -time.Hour).IsForever() {
		t.Fatalf("A negative duration must not turn into forever")
	}
}

func TestDeadlineEarliest(t *testing.T) {
	clock := NewManualClock()
	clock.Set(CLOCK_MONOTONIC, 1000)
	clock.Set(CLOCK_REALTIME, 50000)

	a := NewDeadline(2000, CLOCK_MONOTONIC)
	b := NewDeadline(1500, CLOCK_MONOTONIC)
	if a.Earliest(clock, b) != b || b.Earliest(clock, a) != b {
		t.Fatalf("Earliest should pick the smaller instant")
	}
	if a.Earliest(clock, FOREVER) != a || FOREVER.Earliest(clock, a) != a {
		t.Fatalf("Forever never wins")
	}

	// 300ns from now on the wall clock
	wall := NewDeadline(50300, CLOCK_REALTIME)
	got := a.Earliest(clock, wall)
	if got.Clock() != CLOCK_MONOTONIC || got.Instant() != 1300 {
		t.Fatalf("Expected 1300@CLOCK_MONOTONIC, got: %s", got)
	}
}

func TestCronDeadline(t *testing.T) {
	clock := NewManualClock()
	now := time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC)
	clock.Set(CLOCK_REALTIME, now.UnixNano())

	d, err := CronDeadline(clock, "* * * * *")
	if err != nil {
		t.Fatalf("Failed to parse cron expression: %v", err)
	}
	want := now.Add(30 * time.Second).UnixNano()
	if d.Clock() != CLOCK_REALTIME || d.Instant() != want {
		t.Fatalf("Expected %d, got: %s", want, d)
	}
	t.Logf("Next cron deadline: %s", d)

	if _, err := CronDeadline(clock, "not a cron line"); err == nil {
		t.Fatalf("Expected an error for an invalid expression")
	}
}
