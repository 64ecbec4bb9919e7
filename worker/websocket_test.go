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
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Tests a full request/reply exchange between a MessageManager and a
// ThreadManager connected over a websocket.
func TestWebSocketPort_RoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			port, err := AcceptWebSocket(w, r)
			if err != nil {
				t.Errorf("Failed to accept: %+v", err)
				return
			}
			tm, err := NewThreadManager(port, "wsWorker", false)
			if err != nil {
				t.Errorf("Failed to start ThreadManager: %+v", err)
				return
			}
			tm.RegisterCallback(NeedsReloadTag, func(context.Context, string,
				json.RawMessage) (any, error) {
				return true, nil
			})
			if err = tm.SignalReady(r.Context()); err != nil {
				t.Errorf("Failed to signal ready: %+v", err)
			}
			<-tm.Done()
		}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	port, err := DialWebSocket(ctx, url)
	require.NoError(t, err)

	mm, err := NewMessageManager(ctx, port, "wsMain", DefaultParams())
	require.NoError(t, err)
	defer mm.Stop()

	resp, err := mm.Send(ctx, NeedsReloadTag, "watchdog", nil)
	require.NoError(t, err)
	require.Equal(t, "true", string(resp))
}

// Tests that a websocket port can only be listened to once.
func TestWebSocketPort_ListenTwice(t *testing.T) {
	p := &WebSocketPort{listening: true}
	_, err := p.Listen(context.Background())
	require.Error(t, err)
}
