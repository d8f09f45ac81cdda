package timeutil

import (
	"sync"
	"time"
)

// TimerState represents the current state of a timer.
type TimerState string

const (
	// TimerStateRunning indicates the timer is currently running.
	TimerStateRunning TimerState = "running"
	// TimerStateStopped indicates the timer was stopped before expiration.
	TimerStateStopped TimerState = "stopped"
	// TimerStateExpired indicates the timer has expired.
	TimerStateExpired TimerState = "expired"
)

// Timer runs a callback after its duration elapses.
type Timer struct {
	mu        sync.Mutex
	startTime time.Time
	duration  time.Duration
	state     TimerState
	gen       uint64
	callback  func()
	realTimer *time.Timer
}

// AfterFunc creates a new timer with the given duration and callback.
// The timer is started immediately.
func AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{callback: f}
	t.mu.Lock()
	t.startUnsafe(d)
	t.mu.Unlock()
	return t
}

func (t *Timer) startUnsafe(d time.Duration) {
	t.gen++
	gen := t.gen
	t.startTime = time.Now()
	t.duration = d
	t.state = TimerStateRunning
	t.realTimer = time.AfterFunc(d, func() { t.fire(gen) })
}

func (t *Timer) fire(gen uint64) {
	t.mu.Lock()
	if gen != t.gen || t.state != TimerStateRunning {
		t.mu.Unlock()
		return
	}
	t.state = TimerStateExpired
	cb := t.callback
	t.mu.Unlock()

	if cb != nil {
		cb()
	}
}

// Stop prevents the timer from firing.
// It returns true if the call stops the timer, false if the timer has already
// expired or been stopped.
func (t *Timer) Stop() bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return false
	}
	t.gen++
	t.state = TimerStateStopped
	if t.realTimer != nil {
		t.realTimer.Stop()
	}
	return true
}

// Reset restarts the timer with the new duration.
// It returns true if the timer was running before the call.
func (t *Timer) Reset(d time.Duration) bool {
	if t == nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	wasRunning := t.state == TimerStateRunning
	if t.realTimer != nil {
		t.realTimer.Stop()
	}
	t.startUnsafe(d)
	return wasRunning
}

// State returns the current timer state.
func (t *Timer) State() TimerState {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Duration returns the timer's duration.
func (t *Timer) Duration() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// Left returns the time remaining until the timer expires.
// Returns 0 if the timer is expired or stopped.
func (t *Timer) Left() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != TimerStateRunning {
		return 0
	}
	return max(t.duration-time.Since(t.startTime), 0)
}

// Expired returns true if the timer has expired.
func (t *Timer) Expired() bool {
	return t.State() == TimerStateExpired
}
