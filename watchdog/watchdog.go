////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package watchdog periodically asks the worker whether the foreground state is
// stale and triggers a full reload when it is.
package watchdog

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	jww "github.com/spf13/jwalterweatherman"
)

// Checker asks the worker whether a reload is required. It is implemented by
// [proxy.Proxy].
type Checker interface {
	NeedsReload(ctx context.Context) (bool, error)
}

// Reloader discards the foreground state and starts again.
type Reloader interface {
	Reload()
}

// ReloadFunc adapts a function to a Reloader.
type ReloadFunc func()

func (f ReloadFunc) Reload() { f() }

// Params are the timing parameters of a [Watchdog].
type Params struct {
	// Interval is the time between two checks.
	Interval time.Duration

	// Jitter is the upper bound of a random delay added to every interval.
	Jitter time.Duration

	// CheckTimeout bounds a single check. Zero leaves it to the checker.
	CheckTimeout time.Duration
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{
		Interval:     2 * time.Second,
		Jitter:       500 * time.Millisecond,
		CheckTimeout: 0,
	}
}

// Watchdog runs the periodic reload check. At most one check is outstanding at
// any time; a tick that finds a check still running is skipped.
type Watchdog struct {
	checker  Checker
	reloader Reloader

	// active reports whether an identity is resolved and ready. Ticks are
	// skipped while it returns false.
	active func() bool

	params Params

	inFlight atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mux    sync.Mutex
}

// New returns a stopped Watchdog.
func New(checker Checker, reloader Reloader, active func() bool,
	params Params) *Watchdog {
	if active == nil {
		active = func() bool { return true }
	}
	return &Watchdog{
		checker:  checker,
		reloader: reloader,
		active:   active,
		params:   params,
	}
}

// Start starts the ticker thread. Calling Start on a running watchdog does
// nothing.
func (w *Watchdog) Start(ctx context.Context) {
	w.mux.Lock()
	defer w.mux.Unlock()
	if w.cancel != nil {
		return
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the ticker thread and waits for an outstanding check to return.
func (w *Watchdog) Stop() {
	w.mux.Lock()
	cancel := w.cancel
	w.cancel = nil
	w.mux.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()
}

func (w *Watchdog) run(ctx context.Context) {
	defer w.wg.Done()
	jww.INFO.Printf("[WATCHDOG] Starting reload check every %s (jitter %s).",
		w.params.Interval, w.params.Jitter)

	timer := time.NewTimer(w.nextDelay())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			jww.INFO.Printf("[WATCHDOG] Stopping reload check.")
			return
		case <-timer.C:
			w.tick(ctx)
			timer.Reset(w.nextDelay())
		}
	}
}

// tick starts a check unless the watchdog is inactive or a check is still
// outstanding.
func (w *Watchdog) tick(ctx context.Context) {
	if !w.active() {
		return
	}
	if !w.inFlight.CompareAndSwap(false, true) {
		jww.DEBUG.Printf("[WATCHDOG] Previous check still outstanding; " +
			"skipping tick.")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.inFlight.Store(false)
		w.check(ctx)
	}()
}

// check asks the checker once and reloads if it answers true. Errors are
// logged and otherwise ignored; the next tick tries again.
func (w *Watchdog) check(ctx context.Context) {
	if w.params.CheckTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.params.CheckTimeout)
		defer cancel()
	}

	reload, err := w.checker.NeedsReload(ctx)
	if err != nil {
		if ctx.Err() == nil {
			jww.WARN.Printf("[WATCHDOG] Reload check failed: %+v", err)
		}
		return
	}
	if reload {
		jww.INFO.Printf("[WATCHDOG] Worker requires a reload.")
		w.reloader.Reload()
	}
}

func (w *Watchdog) nextDelay() time.Duration {
	return jitteredInterval(w.params.Interval, w.params.Jitter, rand.Float64())
}

// jitteredInterval returns base plus a share of jitter given by sample, which
// is in [0, 1).
func jitteredInterval(base, jitter time.Duration, sample float64) time.Duration {
	if base < time.Millisecond {
		base = time.Millisecond
	}
	if jitter <= 0 {
		return base
	}
	if sample < 0 {
		sample = 0
	} else if sample >= 1 {
		sample = 0
	}
	return base + time.Duration(float64(jitter)*sample)
}
