////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

// newThreadPair connects a ThreadManager and a MessageManager over a pipe. The
// register function is called before the worker signals ready.
func newThreadPair(t *testing.T,
	register func(tm *ThreadManager)) (*MessageManager, *ThreadManager) {
	mainPort, workerPort := NewPipe()

	tm, err := NewThreadManager(workerPort, "testWorker", true)
	require.NoError(t, err)
	t.Cleanup(tm.Stop)
	register(tm)
	require.NoError(t, tm.SignalReady(context.Background()))

	mm, err := NewMessageManager(
		context.Background(), mainPort, "testMain", DefaultParams())
	require.NoError(t, err)
	t.Cleanup(mm.Stop)

	return mm, tm
}

// Tests that a callback result is returned to the sender and that the source
// reaches the callback.
func TestThreadManager_RegisterCallback(t *testing.T) {
	mm, _ := newThreadPair(t, func(tm *ThreadManager) {
		tm.RegisterCallback(GetCardWordsTag, func(_ context.Context,
			source string, value json.RawMessage) (any, error) {
			return map[string]string{"source": source, "echo": string(value)}, nil
		})
	})

	resp, err := mm.Send(context.Background(), GetCardWordsTag, "list", "abc")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(resp, &got))
	require.Equal(t, "list", got["source"])
	require.Equal(t, `"abc"`, got["echo"])
}

// Tests that a type without a callback is reported to the sender as a
// WorkerError.
func TestThreadManager_UnknownType(t *testing.T) {
	mm, _ := newThreadPair(t, func(*ThreadManager) {})

	_, err := mm.Send(context.Background(), "notAHandler", "test", nil)
	require.True(t, IsKind(err, WorkerError), "unexpected error: %+v", err)
	require.Contains(t, err.Error(), `no callback found for type "notAHandler"`)
}

// Tests that a callback error is sent back verbatim.
func TestThreadManager_CallbackError(t *testing.T) {
	mm, _ := newThreadPair(t, func(tm *ThreadManager) {
		tm.RegisterCallback(DataProviderTag, func(context.Context, string,
			json.RawMessage) (any, error) {
			return nil, errors.New("collection \"x\" does not exist")
		})
	})

	_, err := mm.Send(context.Background(), DataProviderTag, "test", nil)
	require.True(t, IsKind(err, WorkerError))
	require.Equal(t, `collection "x" does not exist`, err.Error())
}

// Tests that a panicking callback is reported to the sender as a WorkerError
// and that the worker keeps serving later requests.
func TestThreadManager_CallbackPanic(t *testing.T) {
	mm, _ := newThreadPair(t, func(tm *ThreadManager) {
		tm.RegisterCallback(DataProviderTag, func(context.Context, string,
			json.RawMessage) (any, error) {
			var s []int
			return s[5], nil
		})
		tm.RegisterCallback(NeedsReloadTag, func(context.Context, string,
			json.RawMessage) (any, error) {
			return false, nil
		})
	})

	_, err := mm.Send(context.Background(), DataProviderTag, "test", nil)
	require.True(t, IsKind(err, WorkerError), "unexpected error: %+v", err)
	require.Contains(t, err.Error(), `callback for "DataProvider" panicked`)

	resp, err := mm.Send(context.Background(), NeedsReloadTag, "test", nil)
	require.NoError(t, err)
	require.JSONEq(t, "false", string(resp))
}

// Tests that a slow request does not hold up a later one and that both are
// settled with their own replies.
func TestThreadManager_ConcurrentHandlers(t *testing.T) {
	release := make(chan struct{})
	mm, _ := newThreadPair(t, func(tm *ThreadManager) {
		tm.RegisterCallback(GetAllFromDBTag, func(_ context.Context, _ string,
			value json.RawMessage) (any, error) {
			if string(value) == `"slow"` {
				<-release
			}
			return value, nil
		})
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		resp, err := mm.Send(context.Background(), GetAllFromDBTag, "", "slow")
		if err != nil || string(resp) != `"slow"` {
			t.Errorf("Unexpected slow reply %s: %+v", resp, err)
		}
	}()

	for i := 0; i < 5; i++ {
		resp, err := mm.Send(
			context.Background(), GetAllFromDBTag, "", strconv.Itoa(i))
		require.NoError(t, err)
		require.Equal(t, strconv.Quote(strconv.Itoa(i)), string(resp))
	}

	close(release)
	wg.Wait()
}

// Tests that SendMessage reaches a callback registered on the foreground.
func TestThreadManager_SendMessage(t *testing.T) {
	mm, tm := newThreadPair(t, func(*ThreadManager) {})

	received := make(chan json.RawMessage, 1)
	mm.RegisterCallback(ReloadRequiredTag, func(_ string, v json.RawMessage) {
		received <- v
	})
	require.NoError(t, tm.SendMessage(
		context.Background(), ReloadRequiredTag, map[string]int{"version": 2}))

	select {
	case v := <-received:
		require.JSONEq(t, `{"version":2}`, string(v))
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for broadcast.")
	}
}

// Tests that fire-and-forget messages call the callback without a reply.
func TestThreadManager_NoResponse(t *testing.T) {
	called := make(chan struct{})
	mm, _ := newThreadPair(t, func(tm *ThreadManager) {
		tm.RegisterCallback(ResetDBConnectionsTag, func(context.Context, string,
			json.RawMessage) (any, error) {
			close(called)
			return "ignored", nil
		})
	})

	require.NoError(t, mm.SendNoResponse(
		context.Background(), ResetDBConnectionsTag, "logout", nil))

	select {
	case <-called:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for callback.")
	}
	require.Zero(t, mm.Pending())
}
