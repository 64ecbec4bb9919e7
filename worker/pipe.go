////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"context"
	"sync"
)

// pipeQueueSize is the number of messages buffered on each direction of a pipe
// before PostMessage blocks.
const pipeQueueSize = 100

// pipeEnd is one side of an in-process pipe created by NewPipe.
type pipeEnd struct {
	in   chan []byte
	peer *pipeEnd

	closed chan struct{}
	once   sync.Once
}

// NewPipe returns two connected ports. A message posted on one is received on
// the other. It is used to run a worker inside the same process.
func NewPipe() (Port, Port) {
	a := &pipeEnd{
		in:     make(chan []byte, pipeQueueSize),
		closed: make(chan struct{}),
	}
	b := &pipeEnd{
		in:     make(chan []byte, pipeQueueSize),
		closed: make(chan struct{}),
	}
	a.peer, b.peer = b, a
	return a, b
}

// PostMessage copies the data to the peer's queue.
func (p *pipeEnd) PostMessage(ctx context.Context, data []byte) error {
	buf := make([]byte, len(data))
	copy(buf, data)

	select {
	case <-p.closed:
		return ErrPortClosed
	case <-p.peer.closed:
		return ErrPortClosed
	default:
	}

	select {
	case p.peer.in <- buf:
		return nil
	case <-p.closed:
		return ErrPortClosed
	case <-p.peer.closed:
		return ErrPortClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen forwards queued messages until the context is done or either end is
// closed.
func (p *pipeEnd) Listen(ctx context.Context) (<-chan MessageEvent, error) {
	events := make(chan MessageEvent)
	go func() {
		defer close(events)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.closed:
				return
			case <-p.peer.closed:
				return
			case data := <-p.in:
				select {
				case events <- MessageEvent{data: data}:
				case <-ctx.Done():
					return
				case <-p.closed:
					return
				}
			}
		}
	}()
	return events, nil
}

// Close closes this end. The peer sees its Listen channel close.
func (p *pipeEnd) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}
