package oswc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	DEFAULT_TIMER_SLOTS = 100
	DEFAULT_HOST_EVENTS = 64
)

type SchedulerConfig struct {
	// Clock used for every deadline, defaults to SystemClock.
	Clock Clock

	// Defaults to slog.Default().
	Logger *slog.Logger

	// Initial capacity of each per clock timer slot tree.
	TimerSlots int
}

// The suspension side of the wait core: it owns the threads, runs the Block bracket and
// expires deadlines.
type Scheduler struct {
	locker  sync.RWMutex
	clock   Clock
	logger  *slog.Logger
	timers  *TimerQueue
	threads map[int]*Thread
	nextTid int
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Creates a new Scheduler using the SystemClock and the default logger.
func NewSchedulerDefaults() *Scheduler {
	return NewScheduler(SchedulerConfig{})
}

func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.TimerSlots < 1 {
		cfg.TimerSlots = DEFAULT_TIMER_SLOTS
	}
	return &Scheduler{
		clock:   cfg.Clock,
		logger:  cfg.Logger,
		timers:  NewTimerQueue(cfg.Clock, cfg.TimerSlots),
		threads: make(map[int]*Thread),
	}
}

func (s *Scheduler) Clock() Clock {
	return s.clock
}

func (s *Scheduler) Timers() *TimerQueue {
	return s.timers
}

// Fires all expired deadlines.  Only needed when the timer loop is not running, for
// example with a ManualClock.
func (s *Scheduler) RunTimeouts() int {
	return s.timers.RunTimeouts()
}

// Starts the timer loop.
func (s *Scheduler) Start() error {
	s.locker.Lock()
	defer s.locker.Unlock()
	if s.running {
		return ERR_SHUTDOWN
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.logger.Info("Starting scheduler timer loop")
	go s.timerLoop(s.stop, s.done)
	return nil
}

// Stops the timer loop, blocked threads keep waiting for other resolutions.
func (s *Scheduler) Stop() error {
	s.locker.Lock()
	if !s.running {
		s.locker.Unlock()
		return ERR_SHUTDOWN
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.locker.Unlock()
	<-done
	s.logger.Info("Scheduler timer loop stopped")
	return nil
}

func (s *Scheduler) timerLoop(stop, done chan struct{}) {
	defer close(done)
	for {
		var expire <-chan time.Time
		var timer *time.Timer
		if sleep := s.timers.nextSleep(); sleep > -1 {
			timer = time.NewTimer(time.Duration(sleep))
			expire = timer.C
		}
		select {
		case <-stop:
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.timers.wake:
		case <-expire:
		}
		if timer != nil {
			timer.Stop()
		}
		if total := s.timers.RunTimeouts(); total != 0 {
			s.logger.Debug(fmt.Sprintf("Timed out %d waiters", total))
		}
	}
}

func (s *Scheduler) newThread(name string) *Thread {
	s.locker.Lock()
	defer s.locker.Unlock()
	s.nextTid++
	t := &Thread{
		Tid:   s.nextTid,
		Name:  name,
		sched: s,
		wake:  make(chan struct{}, 1),
	}
	t.exit = NewThreadExitCondition(t)
	s.threads[t.Tid] = t
	return t
}

// Registers the calling goroutine as a thread.  The caller must call Thread.Exit when it
// is done.
func (s *Scheduler) Adopt(name string) *Thread {
	return s.newThread(name)
}

// Runs body as a new thread, the value it returns is the thread's exit value.
func (s *Scheduler) Spawn(name string, body func(t *Thread) any) *Thread {
	t := s.newThread(name)
	s.logger.Debug(fmt.Sprintf("Spawning thread: %d, name: %s", t.Tid, name))
	go s.launchThread(t, body)
	return t
}

func (s *Scheduler) launchThread(t *Thread, body func(t *Thread) any) {
	var value any
	defer func() {
		if e := recover(); e != nil {
			s.logger.Error(fmt.Sprintf("Thread panic in thread: %d, error was: %v", t.Tid, e))
		}
		t.Exit(value)
	}()
	value = body(t)
}

// Returns the live thread with the given id.
func (s *Scheduler) Thread(tid int) (*Thread, bool) {
	s.locker.RLock()
	defer s.locker.RUnlock()
	t, ok := s.threads[tid]
	return t, ok
}

func (s *Scheduler) forget(t *Thread) {
	s.locker.Lock()
	defer s.locker.Unlock()
	delete(s.threads, t.Tid)
}
