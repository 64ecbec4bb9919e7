////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package watchdog

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type checkFunc func(ctx context.Context) (bool, error)

func (f checkFunc) NeedsReload(ctx context.Context) (bool, error) { return f(ctx) }

func testParams() Params {
	return Params{Interval: 2 * time.Millisecond, Jitter: time.Millisecond}
}

// Tests that a tick is skipped while a check is outstanding, so there is never
// more than one check in flight.
func TestWatchdog_AtMostOneCheck(t *testing.T) {
	var current, maxSeen, started atomic.Int32
	release := make(chan struct{})

	checker := checkFunc(func(ctx context.Context) (bool, error) {
		n := current.Add(1)
		defer current.Add(-1)
		for {
			m := maxSeen.Load()
			if n <= m || maxSeen.CompareAndSwap(m, n) {
				break
			}
		}
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return false, nil
	})

	w := New(checker, ReloadFunc(func() {
		t.Error("Reload called for a false answer.")
	}), nil, testParams())
	w.Start(context.Background())

	// Many intervals pass while the first check blocks
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, started.Load())

	close(release)
	time.Sleep(20 * time.Millisecond)
	w.Stop()

	require.EqualValues(t, 1, maxSeen.Load())
	require.Greater(t, started.Load(), int32(1))
}

// Tests that a true answer triggers a reload.
func TestWatchdog_Reload(t *testing.T) {
	reloaded := make(chan struct{}, 10)
	w := New(checkFunc(func(context.Context) (bool, error) {
		return true, nil
	}), ReloadFunc(func() { reloaded <- struct{}{} }), nil, testParams())
	w.Start(context.Background())
	defer w.Stop()

	select {
	case <-reloaded:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

// Tests that check errors are swallowed and checking continues.
func TestWatchdog_ErrorSwallowed(t *testing.T) {
	var calls atomic.Int32
	w := New(checkFunc(func(context.Context) (bool, error) {
		calls.Add(1)
		return false, errors.New("worker hiccup")
	}), ReloadFunc(func() {
		t.Error("Reload called after an error.")
	}), nil, testParams())
	w.Start(context.Background())

	deadline := time.After(time.Second)
	for calls.Load() < 3 {
		select {
		case <-deadline:
			t.Fatalf("only %d checks ran", calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
	w.Stop()
}

// Tests that no check runs while the watchdog is inactive.
func TestWatchdog_Inactive(t *testing.T) {
	var active atomic.Bool
	var calls atomic.Int32
	w := New(checkFunc(func(context.Context) (bool, error) {
		calls.Add(1)
		return false, nil
	}), ReloadFunc(func() {}), active.Load, testParams())
	w.Start(context.Background())
	defer w.Stop()

	time.Sleep(20 * time.Millisecond)
	require.Zero(t, calls.Load())

	active.Store(true)
	deadline := time.After(time.Second)
	for calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for check")
		case <-time.After(time.Millisecond):
		}
	}
}

// Tests that Stop waits for the outstanding check and that the watchdog can be
// started again.
func TestWatchdog_StopStart(t *testing.T) {
	var calls atomic.Int32
	w := New(checkFunc(func(ctx context.Context) (bool, error) {
		calls.Add(1)
		<-ctx.Done()
		return false, ctx.Err()
	}), ReloadFunc(func() {}), nil, testParams())

	w.Start(context.Background())
	w.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	w.Stop()
	n := calls.Load()
	require.EqualValues(t, 1, n)

	w.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	w.Stop()
	require.EqualValues(t, 2, calls.Load())
}

func TestJitteredInterval(t *testing.T) {
	base := 2 * time.Second
	require.Equal(t, base, jitteredInterval(base, 0, 0.7))
	require.Equal(t, base, jitteredInterval(base, time.Second, 0))
	require.Equal(t, base+250*time.Millisecond,
		jitteredInterval(base, time.Second, 0.25))
	require.Equal(t, time.Millisecond, jitteredInterval(0, 0, 0))
	require.Less(t, jitteredInterval(base, time.Second, 0.999999), base+time.Second)
}
