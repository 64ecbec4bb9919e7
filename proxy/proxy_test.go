////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package proxy

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"github.com/stretchr/testify/require"

	"gitlab.com/transcrobes/offline-proxy/worker"
)

func TestMain(m *testing.M) {
	jww.SetStdoutThreshold(jww.LevelDebug)
	os.Exit(m.Run())
}

// newTestProxy connects a Proxy to a ThreadManager over a pipe. The register
// function adds the worker's callbacks before it signals ready.
func newTestProxy(t *testing.T, register func(tm *worker.ThreadManager)) *Proxy {
	mainPort, workerPort := worker.NewPipe()

	tm, err := worker.NewThreadManager(workerPort, "testWorker", false)
	require.NoError(t, err)
	register(tm)
	require.NoError(t, tm.SignalReady(context.Background()))

	p, err := Connect(context.Background(), mainPort, "testProxy",
		worker.DefaultParams())
	require.NoError(t, err)

	t.Cleanup(func() {
		p.Close()
		tm.Stop()
	})
	return p
}

// initialiseCounter returns a provisioning callback that counts its calls and
// records the usernames.
func initialiseCounter(calls *atomic.Int32,
	names chan<- string) worker.ThreadReceptionCallback {
	return func(_ context.Context, _ string, v json.RawMessage) (any, error) {
		calls.Add(1)
		var msg InitialiseMessage
		if err := json.Unmarshal(v, &msg); err != nil {
			return nil, err
		}
		if names != nil {
			names <- msg.Username
		}
		return true, nil
	}
}

// Tests that calling Init twice with the same identity returns the same session
// and only provisions once.
func TestProxy_Init_SameIdentity(t *testing.T) {
	var calls atomic.Int32
	p := newTestProxy(t, func(tm *worker.ThreadManager) {
		tm.RegisterCallback(worker.InitialiseTag, initialiseCounter(&calls, nil))
	})

	s1, err := p.Init(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, s1.Ready())
	require.True(t, p.Ready())

	s2, err := p.Init(context.Background(), "alice")
	require.NoError(t, err)
	require.Same(t, s1, s2)
	require.EqualValues(t, 1, calls.Load())
	require.Equal(t, "alice", p.Identity())
}

// Tests that concurrent Init calls for the same identity share one
// provisioning request.
func TestProxy_Init_Concurrent(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	p := newTestProxy(t, func(tm *worker.ThreadManager) {
		tm.RegisterCallback(worker.InitialiseTag, func(ctx context.Context,
			src string, v json.RawMessage) (any, error) {
			<-release
			return initialiseCounter(&calls, nil)(ctx, src, v)
		})
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Init(context.Background(), "alice"); err != nil {
				t.Errorf("Init failed: %+v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
}

// Tests that initialising a different identity rejects every request pending on
// the previous session with SessionSuperseded before the new identity is
// provisioned.
func TestProxy_Init_Supersede(t *testing.T) {
	const n = 3
	names := make(chan string, 2)
	var calls atomic.Int32
	var p *Proxy
	pendingAtProvision := make(chan int, 2)
	blocked := make(chan struct{}, n)
	release := make(chan struct{})

	p = newTestProxy(t, func(tm *worker.ThreadManager) {
		tm.RegisterCallback(worker.InitialiseTag, func(ctx context.Context,
			src string, v json.RawMessage) (any, error) {
			// Only this provisioning request may be pending at this point
			pendingAtProvision <- p.mm.Pending()
			return initialiseCounter(&calls, names)(ctx, src, v)
		})
		tm.RegisterCallback(worker.GetCardWordsTag, func(context.Context,
			string, json.RawMessage) (any, error) {
			blocked <- struct{}{}
			<-release
			return "late", nil
		})
	})
	defer close(release)

	_, err := p.Init(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, 1, <-pendingAtProvision)

	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := p.SendMessage(context.Background(),
				Envelope{Source: "test", Type: worker.GetCardWordsTag})
			errs <- err
		}()
	}
	for i := 0; i < n; i++ {
		<-blocked
	}

	s, err := p.Init(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "bob", s.Identity())
	require.Equal(t, 1, <-pendingAtProvision)

	for i := 0; i < n; i++ {
		err := <-errs
		require.True(t, worker.IsKind(err, worker.SessionSuperseded),
			"unexpected error: %+v", err)
	}
	require.Equal(t, "alice", <-names)
	require.Equal(t, "bob", <-names)
}

// Tests that a provisioning failure is returned from Init and that the next
// Init provisions again.
func TestProxy_Init_Failure(t *testing.T) {
	var calls atomic.Int32
	p := newTestProxy(t, func(tm *worker.ThreadManager) {
		tm.RegisterCallback(worker.InitialiseTag, func(context.Context,
			string, json.RawMessage) (any, error) {
			if calls.Add(1) == 1 {
				return nil, errors.New("quota exceeded")
			}
			return true, nil
		})
	})

	_, err := p.Init(context.Background(), "alice")
	require.True(t, worker.IsKind(err, worker.WorkerError))
	require.Equal(t, "quota exceeded", err.Error())
	require.False(t, p.Ready())

	_, err = p.Init(context.Background(), "alice")
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
}

// Tests that Close rejects pending requests and later requests with Closed.
func TestProxy_Close(t *testing.T) {
	blocked := make(chan struct{})
	release := make(chan struct{})
	p := newTestProxy(t, func(tm *worker.ThreadManager) {
		tm.RegisterCallback(worker.GetAllFromDBTag, func(context.Context,
			string, json.RawMessage) (any, error) {
			close(blocked)
			<-release
			return nil, nil
		})
	})
	defer close(release)

	errChan := make(chan error)
	go func() {
		_, err := p.SendMessage(context.Background(),
			Envelope{Type: worker.GetAllFromDBTag})
		errChan <- err
	}()
	<-blocked
	p.Close()

	require.True(t, worker.IsKind(<-errChan, worker.Closed))

	_, err := p.SendMessage(context.Background(),
		Envelope{Type: worker.GetAllFromDBTag})
	require.True(t, worker.IsKind(err, worker.Closed))

	_, err = p.Init(context.Background(), "alice")
	require.True(t, worker.IsKind(err, worker.Closed))
}

// Tests that Send reports a reply that does not decode as a ProtocolError.
func TestSend_ProtocolError(t *testing.T) {
	p := newTestProxy(t, func(tm *worker.ThreadManager) {
		tm.RegisterCallback(worker.NeedsReloadTag, func(context.Context,
			string, json.RawMessage) (any, error) {
			return "yes", nil
		})
	})

	_, err := Send[bool](context.Background(), p,
		Envelope{Type: worker.NeedsReloadTag})
	require.True(t, worker.IsKind(err, worker.ProtocolError),
		"unexpected error: %+v", err)
}
