package oswc

import (
	"context"
	"sync"
	"testing"
	"time"
)

const TEST_WAIT = 2 * time.Second

func createTestScheduler() (*Scheduler, *ManualClock) {
	clock := NewManualClock()
	return NewScheduler(SchedulerConfig{Clock: clock}), clock
}

// Polls cond until it returns true, fails the test after TEST_WAIT.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TEST_WAIT)
	defer cancel()
	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatalf("Timed out waiting for: %s", what)
		case <-time.After(time.Millisecond):
		}
	}
}

// Returns true once the thread is suspended inside Block.
func isBlocked(th *Thread) bool {
	th.lock.Lock()
	w := th.current
	th.lock.Unlock()
	if w == nil {
		return false
	}
	b := w.Base()
	b.lock.Lock()
	defer b.lock.Unlock()
	return b.blocking && !b.resolved
}

// Runs body on a new thread, the result is sent on the returned channel.
func runOn[T any](s *Scheduler, name string, body func(th *Thread) T) (*Thread, chan T) {
	res := make(chan T, 1)
	th := s.Spawn(name, func(th *Thread) any {
		v := body(th)
		res <- v
		return v
	})
	return th, res
}

func recv[T any](t *testing.T, ch chan T) (v T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), TEST_WAIT)
	defer cancel()
	select {
	case v = <-ch:
	case <-ctx.Done():
		t.Fatalf("Thread never finished")
	}
	return
}

type testResource struct {
	lock  sync.Mutex
	flags ReadyFlags
	recv  time.Duration
	send  time.Duration
	cond  *ResourceCondition
}

func newTestResource(flags ReadyFlags) *testResource {
	return &testResource{flags: flags, cond: NewResourceCondition()}
}

func (s *testResource) Ready(interest ReadyFlags) ReadyFlags {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.flags & interest
}

func (s *testResource) Condition() *ResourceCondition {
	return s.cond
}

func (s *testResource) ReceiveTimeout() time.Duration {
	return s.recv
}

func (s *testResource) SendTimeout() time.Duration {
	return s.send
}

// Changes the ready flags and notifies the condition.
func (s *testResource) Set(flags ReadyFlags) int {
	s.lock.Lock()
	s.flags = flags
	s.lock.Unlock()
	return s.cond.NotifyReady()
}

type testChild struct {
	pid    int
	pgid   int
	status int
}

func (s *testChild) Pid() int {
	return s.pid
}

func (s *testChild) Pgid() int {
	return s.pgid
}

func (s *testChild) ExitStatus() int {
	return s.status
}

type testContext struct {
	reap     *ReapCondition
	children []*testChild
}

func newTestContext(children ...*testChild) *testContext {
	return &testContext{reap: NewReapCondition(), children: children}
}

func (s *testContext) ReapCondition() *ReapCondition {
	return s.reap
}

func (s *testContext) HasChild(pid int) bool {
	for _, c := range s.children {
		if c.pid == pid {
			return true
		}
	}
	return false
}

func (s *testContext) HasChildInGroup(pgid int) bool {
	for _, c := range s.children {
		if c.pgid == pgid {
			return true
		}
	}
	return false
}

func (s *testContext) HasChildren() bool {
	return len(s.children) != 0
}
