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

// Timer is a one-shot timer that calls its callback in its own goroutine.
type Timer struct {
	mu        sync.Mutex
	startTime time.Time
	duration  time.Duration
	state     TimerState
	callback  func()
	gen       uint64
	realTimer *time.Timer
}

// AfterFunc creates a new timer with the given duration and callback.
// The timer is started immediately.
func AfterFunc(d time.Duration, f func()) *Timer {
	t := &Timer{callback: f}
	t.mu.Lock()
	t.arm(d)
	t.mu.Unlock()
	return t
}

// arm starts a new run of the timer; must be called with mu held.
func (t *Timer) arm(d time.Duration) {
	t.gen++
	gen := t.gen
	t.startTime = time.Now()
	t.duration = d
	t.state = TimerStateRunning
	t.realTimer = time.AfterFunc(d, func() { t.expire(gen) })
}

func (t *Timer) expire(gen uint64) {
	t.mu.Lock()
	if t.gen != gen || t.state != TimerStateRunning {
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

// State returns the current timer state.
func (t *Timer) State() TimerState {
	if t == nil {
		return ""
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Duration returns the duration of the current run.
func (t *Timer) Duration() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.duration
}

// ExpiresAt returns the moment the current run expires.
func (t *Timer) ExpiresAt() time.Time {
	if t == nil {
		return time.Time{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime.Add(t.duration)
}

// Left returns the time left until expiration, zero if the timer is not running.
func (t *Timer) Left() time.Duration {
	if t == nil {
		return 0
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != TimerStateRunning {
		return 0
	}
	return max(0, time.Until(t.startTime.Add(t.duration)))
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
	t.state = TimerStateStopped
	t.realTimer.Stop()
	return true
}

// Reset stops the timer if needed and starts a new run with duration d.
// A callback of the previous run that has not started yet will not be called.
func (t *Timer) Reset(d time.Duration) {
	if t == nil {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.realTimer != nil {
		t.realTimer.Stop()
	}
	t.arm(d)
}
