//go:build linux

package oswc

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// A real child process of this program, watched through a pidfd.
type hostChild struct {
	pid    int
	pgid   int
	pidfd  int
	status int
}

func (s *hostChild) Pid() int {
	return s.pid
}

func (s *hostChild) Pgid() int {
	return s.pgid
}

func (s *hostChild) ExitStatus() int {
	return s.status
}

// Feeds the exits of host processes into a ReapCondition.  Each watched pid gets a pidfd
// that is polled with epoll, a pipe is used to wake the loop up on Stop.
type HostReaper struct {
	locker   sync.RWMutex
	logger   *slog.Logger
	epfd     int
	read     *os.File
	write    *os.File
	readFd   int32
	children map[int]*hostChild
	fds      map[int32]*hostChild
	events   []unix.EpollEvent
	reap     *ReapCondition
	running  bool
	closed   bool
	done     chan struct{}
}

func NewHostReaperDefaults() (*HostReaper, error) {
	return NewHostReaper(slog.Default(), DEFAULT_HOST_EVENTS)
}

func NewHostReaper(logger *slog.Logger, events int) (*HostReaper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if events < 1 {
		events = DEFAULT_HOST_EVENTS
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, err
	}

	// level triggered
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	readFd := int32(r.Fd())
	err = unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, int(readFd), &unix.EpollEvent{Events: uint32(CAN_READ), Fd: readFd})
	if err != nil {
		unix.Close(epfd)
		r.Close()
		w.Close()
		return nil, err
	}
	s := &HostReaper{
		logger:   logger,
		epfd:     epfd,
		read:     r,
		write:    w,
		readFd:   readFd,
		children: make(map[int]*hostChild),
		fds:      make(map[int32]*hostChild),
		events:   make([]unix.EpollEvent, events),
		reap:     NewReapCondition(),
		done:     make(chan struct{}),
	}
	s.reap.SetOnReaped(s.reaped)
	return s, nil
}

// Starts the poll loop on its own goroutine.
func (s *HostReaper) Start() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed || s.running {
		return ERR_SHUTDOWN
	}
	s.running = true
	go s.loop()
	return nil
}

// Stops the poll loop, closes every pidfd and finalizes the condition.  Watched processes
// that did not exit yet are never reported.
func (s *HostReaper) Stop() error {
	s.locker.Lock()
	if s.closed {
		s.locker.Unlock()
		return ERR_SHUTDOWN
	}
	s.closed = true
	running := s.running
	err := s.write.Close()
	s.locker.Unlock()

	if running {
		<-s.done
	} else {
		s.shutdown()
	}
	return err
}

// Starts watching pid.  The pid does not have to be a child of this program, but only
// children report an exit status.
func (s *HostReaper) Watch(pid int) (Child, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.closed {
		return nil, ERR_SHUTDOWN
	}
	if _, ok := s.children[pid]; ok {
		return nil, fmt.Errorf("Pid %d is all ready watched, error was: %w", pid, ERR_ALREADY_REGISTERED)
	}
	pgid, err := unix.Getpgid(pid)
	if err != nil {
		return nil, fmt.Errorf("Failed to get pgid for pid: %d, error was: %w: %w", pid, ERR_NO_PROCESS, err)
	}
	pfd, err := unix.PidfdOpen(pid, unix.PIDFD_NONBLOCK)
	if err != nil {
		// no such pid
		return nil, fmt.Errorf("Failed to Create fd for pid: %d, error was: %w: %w", pid, ERR_NO_PROCESS, err)
	}
	err = unix.EpollCtl(s.epfd, unix.EPOLL_CTL_ADD, pfd, &unix.EpollEvent{Events: uint32(CAN_READ), Fd: int32(pfd)})
	if err != nil {
		unix.Close(pfd)
		return nil, err
	}
	child := &hostChild{pid: pid, pgid: pgid, pidfd: pfd, status: -1}
	s.children[pid] = child
	s.fds[int32(pfd)] = child
	s.logger.Info(fmt.Sprintf("Watching host pid %d, pgid %d", pid, pgid))
	return child, nil
}

// Starts name as a host child in its own process group and watches it.  As with
// os.StartProcess, args includes argv[0].
func (s *HostReaper) Spawn(name string, args ...string) (Child, error) {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	p, err := os.StartProcess(name, args, &os.ProcAttr{
		Dir: dir,
		Env: os.Environ(),
		Sys: &syscall.SysProcAttr{
			Setpgid:   true,
			Pdeathsig: syscall.SIGTERM,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("Failed to start: %s, error was: %w", name, err)
	}
	child, err := s.Watch(p.Pid)
	if err != nil {
		p.Kill()
		p.Wait()
		return nil, err
	}
	// from here on the exit status belongs to the reaper
	p.Release()
	return child, nil
}

func (s *HostReaper) loop() {
	defer close(s.done)
	defer s.shutdown()
	for {
		active, err := unix.EpollWait(s.epfd, s.events, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			s.logger.Error(fmt.Sprintf("Host reaper poll failed, error was: %s", err))
			return
		}
		for i := 0; i < active; i++ {
			if s.events[i].Fd == s.readFd {
				// the write side was closed
				return
			}
			s.collect(s.events[i].Fd)
		}
	}
}

func (s *HostReaper) collect(fd int32) {
	s.locker.Lock()
	child, ok := s.fds[fd]
	if !ok {
		s.locker.Unlock()
		return
	}
	var ws unix.WaitStatus
	wpid, err := unix.Wait4(child.pid, &ws, unix.WNOHANG, nil)
	if err == nil && wpid == 0 {
		// not done yet
		s.locker.Unlock()
		return
	}
	var sig unix.Signal
	switch {
	case err != nil:
		// not our child, the exit status went to its real parent
		s.logger.Debug(fmt.Sprintf("No exit status for pid %d, error was: %s", child.pid, err))
	case ws.Signaled():
		sig = ws.Signal()
		child.status = 128 + int(sig)
	default:
		child.status = ws.ExitStatus()
	}
	unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
	unix.Close(child.pidfd)
	delete(s.fds, fd)
	child.pidfd = -1
	s.locker.Unlock()

	s.logger.Info(fmt.Sprintf("Host pid %d exited, status: %d, signal: %d", child.pid, child.status, sig))
	s.reap.Notify(child, TERMINATED, sig)
}

func (s *HostReaper) shutdown() {
	s.locker.Lock()
	for fd, child := range s.fds {
		unix.EpollCtl(s.epfd, unix.EPOLL_CTL_DEL, int(fd), nil)
		unix.Close(child.pidfd)
		delete(s.fds, fd)
	}
	unix.Close(s.epfd)
	s.read.Close()
	s.locker.Unlock()
	s.reap.Finalize()
}

func (s *HostReaper) reaped(child Child) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if c, ok := s.children[child.Pid()]; ok && c == child {
		delete(s.children, child.Pid())
	}
}

func (s *HostReaper) ReapCondition() *ReapCondition {
	return s.reap
}

func (s *HostReaper) HasChild(pid int) bool {
	s.locker.RLock()
	defer s.locker.RUnlock()
	_, ok := s.children[pid]
	return ok
}

func (s *HostReaper) HasChildInGroup(pgid int) bool {
	s.locker.RLock()
	defer s.locker.RUnlock()
	for _, child := range s.children {
		if child.pgid == pgid {
			return true
		}
	}
	return false
}

func (s *HostReaper) HasChildren() bool {
	s.locker.RLock()
	defer s.locker.RUnlock()
	return len(s.children) != 0
}
