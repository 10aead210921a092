package oswc

import (
	"fmt"
	"sync"
	"sync/atomic"
)

const FUTEX_BITSET_MATCH_ANY = uint32(0xffffffff)

const DEFAULT_FUTEX_LIMIT = 1024

var futexSeq atomic.Uint64

// A condition keyed by a futex word.  Waiters carry a bitset, wakes only resolve waiters
// whose bitset intersects the wake bitset.
type FutexCondition struct {
	ConditionBase
	Key uint64

	// orders lock acquisition when two conditions are locked for a requeue
	seq uint64
}

func NewFutexCondition(key uint64) *FutexCondition {
	s := &FutexCondition{Key: key, seq: futexSeq.Add(1)}
	s.init(s, s.checkValue)
	return s
}

// The futex word must still hold the expected value when the waiter is queued, a
// changed value means the wake all ready happened.
func (s *FutexCondition) checkValue(w Waiter, token any) bool {
	fw, ok := w.(*FutexWaiter)
	if !ok || fw.check == nil || fw.check() {
		return false
	}
	w.Base().Resolve(WOULD_NOT_BLOCK)
	return true
}

// Wakes up to n waiters whose bitset matches.  n < 0 wakes all of them.
func (s *FutexCondition) Wake(n int, bitset uint32) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.wakeLocked(n, bitset)
}

func (s *FutexCondition) wakeLocked(n int, bitset uint32) int {
	woken := 0
	s.notifyLocked(func(w Waiter, token any) bool {
		if n > -1 && woken >= n {
			return false
		}
		if fw, ok := w.(*FutexWaiter); ok && fw.bitset&bitset == 0 {
			return false
		}
		if w.Base().Resolve(WOKE_NORMALLY) {
			woken++
			return true
		}
		return false
	})
	return woken
}

// Wakes nwake waiters, then moves up to nrequeue of the remaining waiters to target
// without waking them.  A moved waiter is never registered with neither or both
// conditions.
func (s *FutexCondition) Requeue(target *FutexCondition, nwake, nrequeue int) (woken, requeued int) {
	if target == nil || target == s {
		return s.Wake(nwake, FUTEX_BITSET_MATCH_ANY), 0
	}
	first, second := s, target
	if target.seq < s.seq {
		first, second = target, s
	}
	first.lock.Lock()
	defer first.lock.Unlock()
	second.lock.Lock()
	defer second.lock.Unlock()

	woken = s.wakeLocked(nwake, FUTEX_BITSET_MATCH_ANY)
	if target.finalized {
		return
	}
	for len(s.entries) != 0 && (nrequeue < 0 || requeued < nrequeue) {
		e := s.entries[0]
		s.entries = s.entries[1:]
		target.entries = append(target.entries, e)
		e.waiter.Base().repoint(s, target, e.token)
		if fw, ok := e.waiter.(*FutexWaiter); ok {
			fw.key.Store(target.Key)
		}
		requeued++
	}
	return
}

type FutexWaiter struct {
	WaiterBase
	bitset uint32
	check  func() bool

	// key of the condition the waiter currently belongs to, changes on requeue
	key atomic.Uint64
}

// Registers a new waiter with cond.  check, when not nil, runs under the condition lock
// and must return false if the futex word no longer holds the expected value.
func NewFutexWaiter(thread *Thread, cond *FutexCondition, bitset uint32, check func() bool) *FutexWaiter {
	if bitset == 0 {
		bitset = FUTEX_BITSET_MATCH_ANY
	}
	s := &FutexWaiter{bitset: bitset, check: check}
	s.key.Store(cond.Key)
	s.init(s, thread)
	s.setup(s.TryRegister(cond, nil))
	return s
}

func (s *FutexWaiter) Bitset() uint32 {
	return s.bitset
}

// The futex key the waiter is, or was last, queued on.
func (s *FutexWaiter) Key() uint64 {
	return s.key.Load()
}

// The futex slots of one address space.  Conditions are created on demand and dropped
// once nobody waits on them.
type FutexTable struct {
	locker sync.Mutex
	limit  int
	m      map[uint64]*FutexCondition
}

func NewFutexTable(limit int) *FutexTable {
	if limit < 1 {
		limit = DEFAULT_FUTEX_LIMIT
	}
	return &FutexTable{limit: limit, m: make(map[uint64]*FutexCondition)}
}

// Returns the condition for key, creating it if needed.
func (s *FutexTable) Get(key uint64) (*FutexCondition, error) {
	s.locker.Lock()
	defer s.locker.Unlock()
	return s.getLocked(key)
}

func (s *FutexTable) getLocked(key uint64) (*FutexCondition, error) {
	if c, ok := s.m[key]; ok {
		return c, nil
	}
	if len(s.m) >= s.limit {
		return nil, fmt.Errorf("Cannot create futex: %#x, limit is %d, error was %w", key, s.limit, ERR_TOO_MANY_FUTEXES)
	}
	c := NewFutexCondition(key)
	s.m[key] = c
	return c, nil
}

// Returns the condition for key if one exists.
func (s *FutexTable) Lookup(key uint64) (*FutexCondition, bool) {
	s.locker.Lock()
	defer s.locker.Unlock()
	c, ok := s.m[key]
	return c, ok
}

// Drops the condition for key if it has no waiters left.
func (s *FutexTable) Release(key uint64) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if c, ok := s.m[key]; ok && c.Count() == 0 {
		delete(s.m, key)
	}
}

func (s *FutexTable) Size() int {
	s.locker.Lock()
	defer s.locker.Unlock()
	return len(s.m)
}

// Blocks thread on key until woken, check has the same meaning as in NewFutexWaiter.
func (s *FutexTable) Wait(thread *Thread, key uint64, bitset uint32, check func() bool, ambient Deadline) (Outcome, error) {
	// register under the table lock so Release cannot drop the condition first
	s.locker.Lock()
	c, err := s.getLocked(key)
	if err != nil {
		s.locker.Unlock()
		return WOULD_NOT_BLOCK, err
	}
	w := NewFutexWaiter(thread, c, bitset, check)
	s.locker.Unlock()

	defer func() {
		s.Release(key)
		if moved := w.Key(); moved != key {
			s.Release(moved)
		}
	}()
	return thread.Block(w, ambient), nil
}

// Wakes up to n waiters on key.
func (s *FutexTable) Wake(key uint64, n int, bitset uint32) int {
	c, ok := s.Lookup(key)
	if !ok {
		return 0
	}
	return c.Wake(n, bitset)
}

// Wakes nwake waiters on from and moves up to nrequeue others to to.
func (s *FutexTable) Requeue(from, to uint64, nwake, nrequeue int) (woken, requeued int, err error) {
	// hold the table lock so neither condition can be dropped mid move
	s.locker.Lock()
	defer s.locker.Unlock()
	src, ok := s.m[from]
	if !ok {
		return
	}
	var dst *FutexCondition
	if dst, err = s.getLocked(to); err != nil {
		return
	}
	woken, requeued = src.Requeue(dst, nwake, nrequeue)
	if src != dst && src.Count() == 0 {
		// moved waiters only release the key they end up on
		delete(s.m, from)
	}
	return
}
