// Package debounce coalesces bursts of signals into at most one action per interval.
package debounce

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Emitter calls fn at most once per interval. A Trigger that arrives inside
// the window arms a single deferred call for the end of the window; further
// triggers before it fires are absorbed. fn is expected to render the latest
// state itself, so coalesced triggers lose no data.
//
// fn never runs on the caller's goroutine and never runs concurrently with itself.
type Emitter struct {
	fn      func()
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	timer   *time.Timer
	pending bool
	stopped bool

	emitMu sync.Mutex // held while fn runs
}

// New returns an Emitter that invokes fn no more than once per interval.
func New(interval time.Duration, fn func()) *Emitter {
	return &Emitter{
		fn:      fn,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		now:     time.Now,
	}
}

// Trigger requests a call to fn. It never blocks on fn.
func (e *Emitter) Trigger() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped || e.pending {
		return
	}

	now := e.now()
	delay := e.limiter.ReserveN(now, 1).DelayFrom(now)
	e.pending = true
	if delay <= 0 {
		go e.fire()
		return
	}
	e.timer = time.AfterFunc(delay, e.fire)
}

func (e *Emitter) fire() {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.pending = false
	e.timer = nil
	e.mu.Unlock()

	e.fn()
}

// Stop disables the emitter: a pending call is cancelled, later triggers are
// ignored, and Stop waits for an in-flight call to return. Safe to call twice.
func (e *Emitter) Stop() {
	e.mu.Lock()
	e.stopped = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.mu.Unlock()

	// Wait out a call that already passed the stopped check.
	e.emitMu.Lock()
	e.emitMu.Unlock()
}

// Stopped reports whether Stop has been called.
func (e *Emitter) Stopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}
