package oswc

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Readiness flags, see the unix.POLL* constants.
type ReadyFlags uint32

const (
	// Checks if a resource can read
	CAN_READ = ReadyFlags(unix.POLLIN)

	// Checks if a resource can write
	CAN_WRITE = ReadyFlags(unix.POLLOUT)

	// watch both read and write events
	CAN_RW = CAN_READ | CAN_WRITE

	// Errors, or not a valid handle
	IN_ERROR = ReadyFlags(unix.POLLERR | unix.POLLNVAL)

	// Other end has disconnected
	IN_HUP = ReadyFlags(unix.POLLHUP)

	// Reported even when they are not part of the interest set
	ALWAYS_REPORTED = IN_ERROR | IN_HUP
)

// A descriptor or socket waiters can block on.
type Resource interface {
	// Returns which of the interest flags currently hold.  Called with condition and
	// waiter locks held, so it must not block or touch any WaitCondition.
	Ready(interest ReadyFlags) ReadyFlags

	// The condition owned by this resource.
	Condition() *ResourceCondition
}

// A Resource with socket style timeouts.  A timeout of 0 means none.
type TimeoutResource interface {
	Resource
	ReceiveTimeout() time.Duration
	SendTimeout() time.Duration
}

func satisfiedFlags(res Resource, interest ReadyFlags) ReadyFlags {
	want := interest | ALWAYS_REPORTED
	return res.Ready(want) & want
}

// Implemented by every waiter kind a ResourceCondition can resolve.
type readinessWaiter interface {
	Waiter
	interest(token any) (Resource, ReadyFlags)
	resolveReady(token any) bool
}

// The per resource condition, waiters are resolved once the resource's readiness
// predicate reports one of the flags they are interested in.
type ResourceCondition struct {
	ConditionBase
}

func NewResourceCondition() *ResourceCondition {
	s := &ResourceCondition{}
	s.init(s, s.readyNow)
	return s
}

func (s *ResourceCondition) readyNow(w Waiter, token any) bool {
	rw, ok := w.(readinessWaiter)
	if !ok {
		return false
	}
	res, interest := rw.interest(token)
	if satisfiedFlags(res, interest) == 0 {
		return false
	}
	rw.resolveReady(token)
	return true
}

// Called by the resource whenever its state changed.  Returns the number of waiters
// resolved.
func (s *ResourceCondition) NotifyReady() int {
	return s.NotifyMatching(func(w Waiter, token any) bool {
		rw, ok := w.(readinessWaiter)
		if !ok {
			return false
		}
		res, interest := rw.interest(token)
		if satisfiedFlags(res, interest) == 0 {
			return false
		}
		return rw.resolveReady(token)
	})
}

type DescriptorKind int

const (
	ACCEPT DescriptorKind = iota
	CONNECT
	READ
	WRITE
)

func (s DescriptorKind) String() string {
	switch s {
	case ACCEPT:
		return "Accept"
	case CONNECT:
		return "Connect"
	case READ:
		return "Read"
	case WRITE:
		return "Write"
	}
	return "Unknown"
}

func (s DescriptorKind) Interest() ReadyFlags {
	switch s {
	case ACCEPT, READ:
		return CAN_READ
	case CONNECT, WRITE:
		return CAN_WRITE
	}
	return 0
}

// Waits for one resource to become ready for accept, connect, read or write.
type DescriptorWaiter struct {
	WaiterBase
	kind      DescriptorKind
	resource  Resource
	satisfied ReadyFlags
}

func NewDescriptorWaiter(thread *Thread, kind DescriptorKind, res Resource) (*DescriptorWaiter, error) {
	if res == nil {
		return nil, fmt.Errorf("No resource to wait on for: %s", kind)
	}
	if kind.Interest() == 0 {
		return nil, fmt.Errorf("Unknown descriptor wait kind: %d", kind)
	}
	s := &DescriptorWaiter{kind: kind, resource: res}
	s.init(s, thread)
	s.setup(s.TryRegister(res.Condition(), nil))
	return s, nil
}

func NewAcceptWaiter(thread *Thread, res Resource) (*DescriptorWaiter, error) {
	return NewDescriptorWaiter(thread, ACCEPT, res)
}

func NewConnectWaiter(thread *Thread, res Resource) (*DescriptorWaiter, error) {
	return NewDescriptorWaiter(thread, CONNECT, res)
}

func NewReadWaiter(thread *Thread, res Resource) (*DescriptorWaiter, error) {
	return NewDescriptorWaiter(thread, READ, res)
}

func NewWriteWaiter(thread *Thread, res Resource) (*DescriptorWaiter, error) {
	return NewDescriptorWaiter(thread, WRITE, res)
}

func (s *DescriptorWaiter) interest(token any) (Resource, ReadyFlags) {
	return s.resource, s.kind.Interest()
}

func (s *DescriptorWaiter) resolveReady(token any) bool {
	return s.resolveWith(WOKE_NORMALLY, func() {
		s.satisfied = satisfiedFlags(s.resource, s.kind.Interest())
	})
}

// Reads and writes use the resource's receive or send timeout when it ends earlier than
// the ambient deadline.
func (s *DescriptorWaiter) OverrideTimeout(ambient Deadline) Deadline {
	tr, ok := s.resource.(TimeoutResource)
	if !ok {
		return ambient
	}
	var timeout time.Duration
	switch s.kind {
	case READ:
		timeout = tr.ReceiveTimeout()
	case WRITE:
		timeout = tr.SendTimeout()
	}
	if timeout <= 0 {
		return ambient
	}
	clock := s.thread.Clock()
	return ambient.Earliest(clock, DeadlineAfter(clock, ambient.Clock(), timeout))
}

func (s *DescriptorWaiter) OnNotBlocking(timeoutInPast bool) {
	flags := satisfiedFlags(s.resource, s.kind.Interest())
	outcome := WOKE_NORMALLY
	if flags == 0 {
		outcome = WOULD_NOT_BLOCK
		if timeoutInPast {
			outcome = INTERRUPTED_BY_TIMEOUT
		}
	}
	s.resolveWith(outcome, func() { s.satisfied = flags })
}

func (s *DescriptorWaiter) EndBlocking(didTimeOut bool) Outcome {
	outcome := s.endBlocking()
	if outcome != WOKE_NORMALLY {
		s.lock.Lock()
		s.satisfied = 0
		s.lock.Unlock()
	}
	return outcome
}

// The flags that were ready when the wait was resolved.
func (s *DescriptorWaiter) Satisfied() ReadyFlags {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.satisfied
}

func (s *DescriptorWaiter) Kind() DescriptorKind {
	return s.kind
}
