package session

import "time"

// TimerHandle is one outstanding scheduled callback. Cancel reports whether
// the callback was stopped before firing.
type TimerHandle interface {
	Cancel() bool
}

// Scheduler arms expiry callbacks. The registry never touches raw timers
// directly so the replace-never-leak invariant stays enforceable and
// expiry is testable with a virtual clock.
type Scheduler interface {
	Schedule(d time.Duration, fn func()) TimerHandle
}

type realScheduler struct{}

type realTimer struct{ t *time.Timer }

func (rt realTimer) Cancel() bool { return rt.t.Stop() }

func (realScheduler) Schedule(d time.Duration, fn func()) TimerHandle {
	return realTimer{t: time.AfterFunc(d, fn)}
}

// NewScheduler returns the wall-clock scheduler.
func NewScheduler() Scheduler { return realScheduler{} }
