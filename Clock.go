package oswc

import (
	"sync"

	"golang.org/x/sys/unix"
)

// Identifies which clock a Deadline is measured against.
type ClockId int32

const (
	CLOCK_REALTIME  = ClockId(unix.CLOCK_REALTIME)
	CLOCK_MONOTONIC = ClockId(unix.CLOCK_MONOTONIC)
)

func (s ClockId) String() string {
	switch s {
	case CLOCK_REALTIME:
		return "CLOCK_REALTIME"
	case CLOCK_MONOTONIC:
		return "CLOCK_MONOTONIC"
	}
	return "CLOCK_UNKNOWN"
}

// Clock reads the current time, in nanoseconds, of the given clock.
type Clock interface {
	Now(id ClockId) int64
}

// Reads the kernel clocks through clock_gettime.
type SystemClock struct{}

func (s SystemClock) Now(id ClockId) int64 {
	var ts unix.Timespec
	if e := unix.ClockGettime(int32(id), &ts); e != nil {
		// only happens for clock ids the kernel does not know about
		panic(e)
	}
	return ts.Nano()
}

// A Clock that only moves when told to.  Each ClockId has its own value, all of them
// start at 1 so that the zero instant keeps meaning "forever".
type ManualClock struct {
	lock sync.RWMutex
	now  map[ClockId]int64
}

func NewManualClock() *ManualClock {
	return &ManualClock{now: make(map[ClockId]int64)}
}

func (s *ManualClock) Now(id ClockId) int64 {
	s.lock.RLock()
	defer s.lock.RUnlock()
	if v, ok := s.now[id]; ok {
		return v
	}
	return 1
}

// Sets the clock id to the given instant.
func (s *ManualClock) Set(id ClockId, instant int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.now[id] = instant
}

// Moves every clock forward by ns nanoseconds.
func (s *ManualClock) Advance(ns int64) {
	s.lock.Lock()
	defer s.lock.Unlock()
	for _, id := range []ClockId{CLOCK_REALTIME, CLOCK_MONOTONIC} {
		v, ok := s.now[id]
		if !ok {
			v = 1
		}
		s.now[id] = v + ns
	}
}
