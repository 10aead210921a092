package oswc

import (
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sys/unix"
)

// The pid of the process every orphan is handed to.
const INIT_PID = 1

// A process of a ProcessTable.  It is both a Child of its parent and the ProcessContext
// its own threads wait on children with.
type Process struct {
	table    *ProcessTable
	pid      int
	pgid     int
	parent   *Process
	children map[int]*Process
	reap     *ReapCondition
	state    ReapFlags
	exitCode int
	signal   unix.Signal
}

func (s *Process) Pid() int {
	return s.pid
}

func (s *Process) Pgid() int {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	return s.pgid
}

func (s *Process) ExitStatus() int {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	return s.exitCode
}

// The pid of the parent, 0 for init.
func (s *Process) ParentPid() int {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	if s.parent == nil {
		return 0
	}
	return s.parent.pid
}

// The last reported state change.
func (s *Process) State() ReapFlags {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	return s.state
}

func (s *Process) ReapCondition() *ReapCondition {
	return s.reap
}

func (s *Process) HasChild(pid int) bool {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	_, ok := s.children[pid]
	return ok
}

func (s *Process) HasChildInGroup(pgid int) bool {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	for _, child := range s.children {
		if child.pgid == pgid {
			return true
		}
	}
	return false
}

func (s *Process) HasChildren() bool {
	s.table.locker.RLock()
	defer s.table.locker.RUnlock()
	return len(s.children) != 0
}

// An in memory process tree that reports child state changes to the parents'
// ReapConditions, and removes children once a wait consumed their termination.
type ProcessTable struct {
	locker  sync.RWMutex
	logger  *slog.Logger
	nextPid int
	procs   map[int]*Process
	root    *Process
}

func NewProcessTable(logger *slog.Logger) *ProcessTable {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ProcessTable{
		logger:  logger,
		nextPid: INIT_PID,
		procs:   make(map[int]*Process),
	}
	s.root = s.newProcess(nil)
	return s
}

func (s *ProcessTable) newProcess(parent *Process) *Process {
	p := &Process{
		table:    s,
		pid:      s.nextPid,
		pgid:     s.nextPid,
		parent:   parent,
		children: make(map[int]*Process),
		reap:     NewReapCondition(),
	}
	s.nextPid++
	if parent != nil {
		p.pgid = parent.pgid
		parent.children[p.pid] = p
	}
	p.reap.SetOnReaped(s.reaped)
	s.procs[p.pid] = p
	return p
}

func (s *ProcessTable) Init() *Process {
	return s.root
}

// Creates a child of parent, in the parent's process group.
func (s *ProcessTable) Spawn(parent *Process) (*Process, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if parent == nil {
		parent = s.root
	}
	if current, ok := s.procs[parent.pid]; !ok || current != parent || parent.state == TERMINATED {
		return nil, fmt.Errorf("Spawn from pid %d, error was: %w", parent.pid, ERR_NO_PROCESS)
	}
	p := s.newProcess(parent)
	s.logger.Debug(fmt.Sprintf("Spawned pid %d, parent %d", p.pid, parent.pid))
	return p, nil
}

func (s *ProcessTable) Get(pid int) (*Process, bool) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	p, ok := s.procs[pid]
	return p, ok
}

// Returns the number of processes, including init and unreaped zombies.
func (s *ProcessTable) Size() int {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return len(s.procs)
}

func (s *ProcessTable) SetPgid(pid, pgid int) error {
	s.locker.Lock()
	defer s.locker.Unlock()
	p, ok := s.procs[pid]
	if !ok {
		return fmt.Errorf("SetPgid on pid %d, error was: %w", pid, ERR_NO_PROCESS)
	}
	if pgid <= 0 {
		pgid = pid
	}
	p.pgid = pgid
	return nil
}

func (s *ProcessTable) lookupLive(pid int) (*Process, error) {
	p, ok := s.procs[pid]
	if !ok || p.state == TERMINATED {
		return nil, fmt.Errorf("Pid %d, error was: %w", pid, ERR_NO_PROCESS)
	}
	return p, nil
}

// Terminates pid with an exit code.
func (s *ProcessTable) Exit(pid, code int) error {
	return s.terminate(pid, code, 0)
}

// Terminates pid by a signal.
func (s *ProcessTable) Kill(pid int, sig unix.Signal) error {
	return s.terminate(pid, 128+int(sig), sig)
}

func (s *ProcessTable) terminate(pid, code int, sig unix.Signal) error {
	if pid == INIT_PID {
		return fmt.Errorf("Cannot terminate init, error was: %w", ERR_INVALID_OPTIONS)
	}
	s.locker.Lock()
	p, err := s.lookupLive(pid)
	if err != nil {
		s.locker.Unlock()
		return err
	}
	p.state = TERMINATED
	p.exitCode = code
	p.signal = sig
	parent := p.parent
	orphans := make([]*Process, 0, len(p.children))
	for _, child := range p.children {
		orphans = append(orphans, child)
	}
	s.locker.Unlock()

	s.logger.Debug(fmt.Sprintf("Pid %d terminated, code: %d, signal: %d", pid, code, sig))
	for _, child := range orphans {
		if err := s.reparent(child, s.root); err != nil {
			s.logger.Warn(fmt.Sprintf("Failed to hand pid %d to init, error was: %s", child.pid, err))
		}
	}
	parent.reap.Notify(p, TERMINATED, sig)
	return nil
}

// Stops pid, waiters with WUNTRACED see it.
func (s *ProcessTable) Stop(pid int, sig unix.Signal) error {
	return s.change(pid, STOPPED, sig)
}

// Resumes a stopped pid, waiters with WCONTINUED see it.
func (s *ProcessTable) Continue(pid int) error {
	return s.change(pid, CONTINUED, unix.SIGCONT)
}

func (s *ProcessTable) change(pid int, flags ReapFlags, sig unix.Signal) error {
	s.locker.Lock()
	p, err := s.lookupLive(pid)
	if err != nil {
		s.locker.Unlock()
		return err
	}
	if p.parent == nil {
		s.locker.Unlock()
		return fmt.Errorf("Cannot change state of init, error was: %w", ERR_INVALID_OPTIONS)
	}
	p.state = flags
	p.signal = sig
	parent := p.parent
	s.locker.Unlock()
	parent.reap.Notify(p, flags, sig)
	return nil
}

// Moves pid under a new parent.  Waiters of the old parent targeting pid are disowned, a
// terminated child is reported again to the new parent.
func (s *ProcessTable) Reparent(pid, newParent int) error {
	s.locker.RLock()
	p, ok := s.procs[pid]
	np, npOk := s.procs[newParent]
	s.locker.RUnlock()
	if !ok || p.parent == nil {
		return fmt.Errorf("Reparent pid %d, error was: %w", pid, ERR_NO_PROCESS)
	}
	if !npOk {
		return fmt.Errorf("Reparent to pid %d, error was: %w", newParent, ERR_NO_PROCESS)
	}
	return s.reparent(p, np)
}

func (s *ProcessTable) reparent(p, np *Process) error {
	s.locker.Lock()
	for a := np; a != nil; a = a.parent {
		if a == p {
			s.locker.Unlock()
			return fmt.Errorf("Pid %d cannot become a child of itself: %w", p.pid, ERR_INVALID_OPTIONS)
		}
	}
	old := p.parent
	if old == np {
		s.locker.Unlock()
		return nil
	}
	delete(old.children, p.pid)
	np.children[p.pid] = p
	p.parent = np
	state, sig := p.state, p.signal
	s.locker.Unlock()

	if n := old.reap.Disown(p); n != 0 {
		s.logger.Debug(fmt.Sprintf("Disowned %d waiters of pid %d", n, p.pid))
	}
	if state == TERMINATED {
		np.reap.Notify(p, TERMINATED, sig)
	}
	return nil
}

// Runs once a real wait consumed the termination of child.
func (s *ProcessTable) reaped(child Child) {
	s.locker.Lock()
	p, ok := s.procs[child.Pid()]
	if !ok || p != child {
		s.locker.Unlock()
		return
	}
	delete(s.procs, p.pid)
	if p.parent != nil {
		delete(p.parent.children, p.pid)
	}
	s.locker.Unlock()

	s.logger.Debug(fmt.Sprintf("Reaped pid %d", p.pid))
	p.reap.Finalize()
}
