// Package timeutil provides Timer, a thin wrapper over time.AfterFunc that keeps track
// of its start time, duration and state so callers can log expiry times and re-arm
// timers with a derived duration (for example the RFC 3261 doubling retransmission timers).
//
// Basic usage:
//
//	tmr := timeutil.AfterFunc(500*time.Millisecond, func() {
//	    log.Println("timer expired")
//	})
//	...
//	tmr.Reset(2 * tmr.Duration())
//	...
//	tmr.Stop()
//
// All timer operations are safe for concurrent use.
package timeutil
