////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
	"nhooyr.io/websocket"
)

// webSocketReadLimit is the largest message accepted from the peer. Data
// provider pages can be large, so the library default of 32 KiB is too small.
const webSocketReadLimit = 16 << 20

// WebSocketPort is a Port backed by a websocket connection. It is used when the
// background worker runs as a separate process.
type WebSocketPort struct {
	conn *websocket.Conn

	listening bool
	closeOnce sync.Once
	mux       sync.Mutex
}

// DialWebSocket connects to a worker listening at the URL.
func DialWebSocket(ctx context.Context, url string) (*WebSocketPort, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial worker at %s", url)
	}
	return newWebSocketPort(conn), nil
}

// AcceptWebSocket upgrades the HTTP request to a websocket and returns the
// worker's end of the connection.
func AcceptWebSocket(
	w http.ResponseWriter, r *http.Request) (*WebSocketPort, error) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to accept websocket")
	}
	return newWebSocketPort(conn), nil
}

func newWebSocketPort(conn *websocket.Conn) *WebSocketPort {
	conn.SetReadLimit(webSocketReadLimit)
	return &WebSocketPort{conn: conn}
}

// PostMessage writes the data as a single text frame.
func (p *WebSocketPort) PostMessage(ctx context.Context, data []byte) error {
	err := p.conn.Write(ctx, websocket.MessageText, data)
	if websocket.CloseStatus(err) != -1 {
		return ErrPortClosed
	}
	return err
}

// Listen starts the single reader of the connection. It may only be called
// once.
func (p *WebSocketPort) Listen(ctx context.Context) (<-chan MessageEvent, error) {
	p.mux.Lock()
	if p.listening {
		p.mux.Unlock()
		return nil, errors.New("websocket port is already being listened to")
	}
	p.listening = true
	p.mux.Unlock()

	events := make(chan MessageEvent)
	go func() {
		defer close(events)
		for {
			_, data, err := p.conn.Read(ctx)
			if err != nil {
				if ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
					jww.DEBUG.Printf("[WW] Websocket read ended: %+v", err)
				}
				return
			}
			select {
			case events <- MessageEvent{data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return events, nil
}

// Close closes the connection with a normal closure status.
func (p *WebSocketPort) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}
