package oswc

import (
	"fmt"
	"time"

	"github.com/aptible/supercronic/cronexpr"
)

// An immutable "block until instant on clock" value.
//
// The instant is in nanoseconds of the given clock.  If the instant is less than or equal
// to 0, then the Deadline never expires.
type Deadline struct {
	instant int64
	clock   ClockId
}

// Blocks until something else resolves the waiter.
var FOREVER = Deadline{clock: CLOCK_MONOTONIC}

func NewDeadline(instant int64, clock ClockId) Deadline {
	return Deadline{instant: instant, clock: clock}
}

// Creates a deadline d from now on the given clock.  A d <= 0 creates a deadline that is
// all ready past.
func DeadlineAfter(c Clock, clock ClockId, d time.Duration) Deadline {
	instant := c.Now(clock) + int64(d)
	if instant <= 0 {
		instant = 1
	}
	return Deadline{instant: instant, clock: clock}
}

// Creates a CLOCK_REALTIME deadline for the next time the cron expression matches.
func CronDeadline(c Clock, expr string) (Deadline, error) {
	parsed, err := cronexpr.Parse(expr)
	if err != nil {
		return FOREVER, fmt.Errorf("Failed to parse cron expression: %s, error was %w", expr, err)
	}
	now := time.Unix(0, c.Now(CLOCK_REALTIME))
	next := parsed.Next(now)
	if next.IsZero() {
		// expression can never match again
		return FOREVER, nil
	}
	return Deadline{instant: next.UnixNano(), clock: CLOCK_REALTIME}, nil
}

func (s Deadline) Instant() int64 {
	return s.instant
}

func (s Deadline) Clock() ClockId {
	return s.clock
}

func (s Deadline) IsForever() bool {
	return s.instant <= 0
}

// Returns true if the deadline has all ready been reached.
func (s Deadline) IsPast(c Clock) bool {
	return !s.IsForever() && s.instant <= c.Now(s.clock)
}

// Returns how long until the deadline is reached, never less than 0.  A forever
// deadline returns -1.
func (s Deadline) Remaining(c Clock) time.Duration {
	if s.IsForever() {
		return -1
	}
	return time.Duration(max(s.instant-c.Now(s.clock), 0))
}

// Returns the earlier of the two deadlines.  When the clocks differ, other is converted
// into this deadline's clock using the current readings of both clocks.
func (s Deadline) Earliest(c Clock, other Deadline) Deadline {
	if other.IsForever() {
		return s
	}
	if other.clock != s.clock {
		left := other.instant - c.Now(other.clock)
		other = Deadline{instant: max(c.Now(s.clock)+left, 1), clock: s.clock}
	}
	if s.IsForever() || other.instant < s.instant {
		return other
	}
	return s
}

func (s Deadline) String() string {
	if s.IsForever() {
		return "forever"
	}
	return fmt.Sprintf("%d@%s", s.instant, s.clock)
}
