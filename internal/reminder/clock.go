package reminder

import "time"

// Clock is the time source of the reminder services. Timers take absolute
// deadlines so a fake clock can fire them deterministically.
type Clock interface {
	Now() time.Time
	TimerAt(deadline time.Time) Timer
}

// Timer is the subset of *time.Timer the services use.
type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// SystemClock is the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

func (SystemClock) TimerAt(deadline time.Time) Timer {
	return sysTimer{time.NewTimer(time.Until(deadline))}
}

type sysTimer struct{ t *time.Timer }

func (s sysTimer) C() <-chan time.Time { return s.t.C }
func (s sysTimer) Stop() bool          { return s.t.Stop() }
