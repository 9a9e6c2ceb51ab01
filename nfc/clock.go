package nfc

import (
	"sync"
	"time"
)

// Clock provides an abstraction over time operations so session timeouts can
// be tested without real delays.
type Clock interface {
	// Now returns the current time
	Now() time.Time

	// NewTimer creates a new timer that will send on its channel
	// after the specified duration
	NewTimer(d time.Duration) Timer
}

// Timer is an interface for time.Timer to enable testing
type Timer interface {
	// C returns the channel on which the timer value will be sent
	C() <-chan time.Time

	// Stop prevents the timer from firing
	Stop() bool
}

// RealClock implements Clock using actual time operations
type RealClock struct{}

// NewRealClock creates a new RealClock
func NewRealClock() Clock {
	return &RealClock{}
}

func (rc *RealClock) Now() time.Time {
	return time.Now()
}

func (rc *RealClock) NewTimer(d time.Duration) Timer {
	return &realTimer{timer: time.NewTimer(d)}
}

// realTimer wraps time.Timer to implement Timer interface
type realTimer struct {
	timer *time.Timer
}

func (rt *realTimer) C() <-chan time.Time {
	return rt.timer.C
}

func (rt *realTimer) Stop() bool {
	return rt.timer.Stop()
}

// FakeClock implements Clock for testing with controllable time
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

// NewFakeClock creates a new FakeClock starting at the given time
func NewFakeClock(startTime time.Time) *FakeClock {
	return &FakeClock{now: startTime}
}

func (fc *FakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *FakeClock) NewTimer(d time.Duration) Timer {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	ft := &fakeTimer{
		clock:    fc,
		deadline: fc.now.Add(d),
		c:        make(chan time.Time, 1),
	}
	fc.timers = append(fc.timers, ft)
	return ft
}

// Timers returns the number of timers that are armed and have not fired.
func (fc *FakeClock) Timers() int {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	n := 0
	for _, t := range fc.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// Advance moves the fake clock forward by the given duration
// and fires any timers that should fire
func (fc *FakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)

	pending := fc.timers[:0]
	for _, timer := range fc.timers {
		if timer.stopped {
			continue
		}
		if fc.now.Before(timer.deadline) {
			pending = append(pending, timer)
			continue
		}
		// Timers only fire once
		timer.stopped = true
		select {
		case timer.c <- fc.now:
		default:
		}
	}
	fc.timers = pending
}

// fakeTimer implements Timer for testing
type fakeTimer struct {
	clock    *FakeClock
	deadline time.Time
	c        chan time.Time
	stopped  bool
}

func (ft *fakeTimer) C() <-chan time.Time {
	return ft.c
}

func (ft *fakeTimer) Stop() bool {
	ft.clock.mu.Lock()
	defer ft.clock.mu.Unlock()
	if ft.stopped {
		return false
	}
	ft.stopped = true
	return true
}
