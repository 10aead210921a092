package oswc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Option bits accepted by NewProcessWaiter, see waitid(2).
const (
	WNOHANG    = unix.WNOHANG
	WUNTRACED  = unix.WUNTRACED
	WEXITED    = unix.WEXITED
	WCONTINUED = unix.WCONTINUED
	WNOWAIT    = unix.WNOWAIT

	WAIT_VALID_OPTIONS = WNOHANG | WUNTRACED | WEXITED | WCONTINUED | WNOWAIT
	WAIT_EVENT_OPTIONS = WUNTRACED | WEXITED | WCONTINUED
)

// Everything a ProcessWaiter needs to know about the waiting process.
type ProcessContext interface {
	ReapCondition() *ReapCondition
	HasChild(pid int) bool
	HasChildInGroup(pgid int) bool
	HasChildren() bool
}

type SelectorKind int

const (
	SELECT_PID SelectorKind = iota
	SELECT_PGID
	SELECT_ANY_CHILD
)

// Which children a ProcessWaiter is interested in.
type Selector struct {
	Kind SelectorKind
	Id   int
}

func PidSelector(pid int) Selector {
	return Selector{Kind: SELECT_PID, Id: pid}
}

func PgidSelector(pgid int) Selector {
	return Selector{Kind: SELECT_PGID, Id: pgid}
}

func AnyChild() Selector {
	return Selector{Kind: SELECT_ANY_CHILD}
}

func (s Selector) String() string {
	switch s.Kind {
	case SELECT_PID:
		return fmt.Sprintf("pid %d", s.Id)
	case SELECT_PGID:
		return fmt.Sprintf("pgid %d", s.Id)
	}
	return "any child"
}

func (s Selector) matches(child Child) bool {
	switch s.Kind {
	case SELECT_PID:
		return child.Pid() == s.Id
	case SELECT_PGID:
		return child.Pgid() == s.Id
	}
	return true
}

// What a ProcessWaiter observed.
type ProcessStatus struct {
	Pid      int
	Flags    ReapFlags
	Signal   unix.Signal
	ExitCode int
}

// Waits for a child, a process group member or any child to terminate, stop or continue.
type ProcessWaiter struct {
	WaiterBase
	ctx      ProcessContext
	selector Selector
	options  int
	status   ProcessStatus
}

// Validates the target and options, then registers with the context's ReapCondition.
// WNOHANG waiters never register, they only look at the pending entries.
func NewProcessWaiter(thread *Thread, ctx ProcessContext, selector Selector, options int) (*ProcessWaiter, error) {
	if options&^WAIT_VALID_OPTIONS != 0 || options&WAIT_EVENT_OPTIONS == 0 {
		return nil, fmt.Errorf("Options 0x%x, error was: %w", options, ERR_INVALID_OPTIONS)
	}
	var found bool
	switch selector.Kind {
	case SELECT_PID:
		found = ctx.HasChild(selector.Id)
	case SELECT_PGID:
		found = ctx.HasChildInGroup(selector.Id)
	case SELECT_ANY_CHILD:
		found = ctx.HasChildren()
	default:
		return nil, fmt.Errorf("Unknown selector kind %d, error was: %w", selector.Kind, ERR_INVALID_OPTIONS)
	}
	if !found {
		return nil, fmt.Errorf("Nothing to wait on for %s, error was: %w", selector, ERR_NO_CHILD)
	}

	s := &ProcessWaiter{ctx: ctx, selector: selector, options: options}
	s.init(s, thread)
	if options&WNOHANG != 0 {
		s.setup(false)
	} else {
		s.setup(s.TryRegister(ctx.ReapCondition(), nil))
	}
	return s, nil
}

func (s *ProcessWaiter) wants(flags ReapFlags) bool {
	switch flags {
	case TERMINATED:
		return s.options&WEXITED != 0
	case STOPPED:
		return s.options&WUNTRACED != 0
	case CONTINUED:
		return s.options&WCONTINUED != 0
	case DISOWNED:
		return s.selector.Kind == SELECT_PID
	}
	return false
}

func (s *ProcessWaiter) deliver(child Child, flags ReapFlags, signal unix.Signal) bool {
	if !s.selector.matches(child) || !s.wants(flags) {
		return false
	}
	return s.resolveWith(WOKE_NORMALLY, func() {
		s.status = ProcessStatus{Pid: child.Pid(), Flags: flags, Signal: signal}
		if flags == TERMINATED {
			s.status.ExitCode = child.ExitStatus()
		}
	})
}

func (s *ProcessWaiter) consumes() bool {
	return s.options&WNOWAIT == 0
}

func (s *ProcessWaiter) targets(pid int) bool {
	return s.selector.Kind == SELECT_PID && s.selector.Id == pid
}

func (s *ProcessWaiter) OnNotBlocking(timeoutInPast bool) {
	if s.IsResolved() || s.ctx.ReapCondition().TryConsumePending(s) {
		return
	}
	if timeoutInPast && s.options&WNOHANG == 0 {
		s.Resolve(INTERRUPTED_BY_TIMEOUT)
		return
	}
	s.Resolve(WOULD_NOT_BLOCK)
}

// Returns the observed status.  A WNOHANG wait with nothing to report returns a zero
// status and no error.  ERR_NO_CHILD is returned when the child was disowned or reaped by
// another wait, or when the condition was finalized under the waiter.
func (s *ProcessWaiter) Result() (ProcessStatus, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	switch {
	case s.status.Flags == DISOWNED:
		return s.status, fmt.Errorf("Pid %d can no longer be waited on, error was: %w", s.status.Pid, ERR_NO_CHILD)
	case s.outcome == WOULD_NOT_BLOCK && s.options&WNOHANG == 0:
		return s.status, fmt.Errorf("Waiting on %s: %w: %w", s.selector, ERR_NO_CHILD, ERR_CONDITION_FINALIZED)
	}
	return s.status, nil
}

func (s *ProcessWaiter) Selector() Selector {
	return s.selector
}

func (s *ProcessWaiter) Options() int {
	return s.options
}

// Waits on the children of ctx, see ProcessWaiter.
func (s *Thread) WaitProcess(ctx ProcessContext, selector Selector, options int, ambient Deadline) (ProcessStatus, Outcome, error) {
	w, err := NewProcessWaiter(s, ctx, selector, options)
	if err != nil {
		return ProcessStatus{}, WOULD_NOT_BLOCK, err
	}
	outcome := s.Block(w, ambient)
	status, err := w.Result()
	return status, outcome, err
}
