package oswc

import "errors"

// Why a wait ended.
type Outcome int

const (
	WOKE_NORMALLY Outcome = iota
	INTERRUPTED_BY_SIGNAL
	INTERRUPTED_BY_TIMEOUT
	INTERRUPTED_BY_DEATH
	WOULD_NOT_BLOCK
)

func (s Outcome) String() string {
	switch s {
	case WOKE_NORMALLY:
		return "WokeNormally"
	case INTERRUPTED_BY_SIGNAL:
		return "InterruptedBySignal"
	case INTERRUPTED_BY_TIMEOUT:
		return "InterruptedByTimeout"
	case INTERRUPTED_BY_DEATH:
		return "InterruptedByDeath"
	case WOULD_NOT_BLOCK:
		return "WouldNotBlock"
	}
	return "Unknown"
}

// Returns true for the signal, timeout and death outcomes.
func (s Outcome) Interrupted() bool {
	return s == INTERRUPTED_BY_SIGNAL || s == INTERRUPTED_BY_TIMEOUT || s == INTERRUPTED_BY_DEATH
}

var ERR_NO_CHILD = errors.New("No child process to wait on")
var ERR_INVALID_OPTIONS = errors.New("Invalid wait options")
var ERR_JOIN_SELF = errors.New("A thread cannot join itself")
var ERR_ALREADY_REGISTERED = errors.New("Waiter is all ready registered with a condition")
var ERR_CONDITION_FINALIZED = errors.New("Wait condition has been finalized")
var ERR_SHUTDOWN = errors.New("Shutdown")
var ERR_THREAD_DEAD = errors.New("Thread is dead")
var ERR_TOO_MANY_FUTEXES = errors.New("Futex limit reached")
var ERR_NO_PROCESS = errors.New("No such process")
