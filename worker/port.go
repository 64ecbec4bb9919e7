////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"

	"github.com/pkg/errors"
)

// Port is one end of a bidirectional message channel to another execution
// context (a browser Worker, a websocket peer or an in-process pipe).
type Port interface {
	// PostMessage delivers one encoded message to the other end.
	PostMessage(ctx context.Context, data []byte) error

	// Listen returns every message received on the port. Once the context is
	// done or the port is closed no more events are delivered and the channel
	// may be closed.
	Listen(ctx context.Context) (<-chan MessageEvent, error)

	// Close releases the port. Listen channels stop delivering events.
	Close() error
}

// MessageEvent is received from the channel returned by Port.Listen.
type MessageEvent struct {
	data []byte
	err  error
}

// Data returns this event's data or the error raised while receiving it.
func (e MessageEvent) Data() ([]byte, error) {
	if e.err != nil {
		return e.data, errors.Wrap(e.err, "failed to receive MessageEvent")
	}
	return e.data, nil
}

// ErrPortClosed is returned when posting to a closed port.
var ErrPortClosed = errors.New("port is closed")
