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
	"fmt"
	"sync"

	"github.com/aquilax/truncate"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ThreadReceptionCallback is called with a message received from the
// foreground. The returned value is JSON marshalled and sent as the reply. A
// returned error is sent as the reply's error description.
type ThreadReceptionCallback func(
	ctx context.Context, source string, value json.RawMessage) (any, error)

// ThreadManager runs on the worker side of a port. It dispatches incoming
// messages to callbacks based on their tag and sends their results back with
// the same correlation ID.
type ThreadManager struct {
	p Port

	// callbacks is a list of callbacks to handle messages that come from the
	// foreground keyed on the callback tag.
	callbacks map[Tag]ThreadReceptionCallback

	// quit, when closed, stops the thread that processes received messages.
	quit     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	// handlers tracks callbacks that are still running. threadDone is closed
	// when processThread returns, after which no handler is added.
	handlers   sync.WaitGroup
	threadDone chan struct{}

	// name describes the worker. It is used for debugging and logging purposes.
	name string

	// messageLogging determines if debug message logs should be printed every
	// time a message is sent/received to/from the foreground.
	messageLogging bool

	mux sync.Mutex
}

// NewThreadManager initialises a new ThreadManager and starts processing
// messages received on the port. Callbacks should be registered before calling
// [ThreadManager.SignalReady].
func NewThreadManager(
	p Port, name string, messageLogging bool) (*ThreadManager, error) {
	ctx, cancel := context.WithCancel(context.Background())
	tm := &ThreadManager{
		p:              p,
		callbacks:      make(map[Tag]ThreadReceptionCallback),
		quit:           make(chan struct{}),
		threadDone:     make(chan struct{}),
		cancel:         cancel,
		name:           name,
		messageLogging: messageLogging,
	}

	events, err := p.Listen(ctx)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to listen on port")
	}

	// Start thread to process messages from the foreground
	go tm.processThread(ctx, events)

	return tm, nil
}

// Stop closes the thread manager and waits for running callbacks to return.
func (tm *ThreadManager) Stop() {
	tm.stop()
	<-tm.threadDone
	tm.handlers.Wait()
	if err := tm.p.Close(); err != nil {
		jww.WARN.Printf("[WW] [%s] Failed to close port: %+v", tm.name, err)
	}
}

func (tm *ThreadManager) stop() {
	tm.stopOnce.Do(func() {
		close(tm.quit)
		tm.cancel()
	})
}

// Done returns a channel that is closed when the thread manager stops, either
// by Stop or because the foreground went away.
func (tm *ThreadManager) Done() <-chan struct{} {
	return tm.quit
}

// processThread processes received messages. Each message is handled on its own
// goroutine so that a slow request does not hold up the others; replies may
// therefore be sent in a different order than the requests arrived.
func (tm *ThreadManager) processThread(
	ctx context.Context, events <-chan MessageEvent) {
	defer close(tm.threadDone)
	jww.INFO.Printf("[WW] [%s] Starting worker process thread.", tm.name)
	for {
		select {
		case <-ctx.Done():
			jww.INFO.Printf("[WW] [%s] Quitting worker process thread.", tm.name)
			return
		case event, ok := <-events:
			if !ok {
				jww.INFO.Printf("[WW] [%s] Foreground disconnected; quitting "+
					"worker process thread.", tm.name)
				tm.stop()
				return
			}
			data, err := event.Data()
			if err != nil {
				jww.ERROR.Printf("[WW] [%s] Failed to receive message from "+
					"foreground: %+v", tm.name, err)
				continue
			}

			tm.handlers.Add(1)
			go func() {
				defer tm.handlers.Done()
				err := tm.processReceivedMessage(ctx, data)
				if err != nil {
					jww.ERROR.Printf("[WW] [%s] Failed to process message "+
						"received from foreground: %+v", tm.name, err)
				}
			}()
		}
	}
}

// SignalReady sends a signal to the foreground indicating that the worker is
// ready. Once the foreground receives this, it will initiate communication.
// Therefore, this should only be run once all callbacks are registered.
func (tm *ThreadManager) SignalReady(ctx context.Context) error {
	return tm.SendMessage(ctx, ReadyTag, nil)
}

// SendMessage sends an unsolicited message to the foreground for the given tag.
func (tm *ThreadManager) SendMessage(ctx context.Context, tag Tag, value any) error {
	msg, err := newRequest(tag, tm.name, noResponseID, value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal value for %q", tag)
	}
	return tm.postMessage(ctx, msg)
}

// sendResponse sends a reply to the foreground with the given tag and ID.
func (tm *ThreadManager) sendResponse(ctx context.Context, tag Tag, id uint64,
	response any, respErr error) error {
	msg := Message{
		Type:     tag,
		Source:   tm.name,
		ID:       id,
		Response: true,
	}

	if respErr != nil {
		msg.Error = respErr.Error()
	} else {
		data, err := marshalValue(response)
		if err != nil {
			msg.Error = fmt.Sprintf("worker failed to marshal %T for %q and "+
				"ID %d: %v", response, tag, id, err)
		} else {
			msg.Value = data
		}
	}

	return tm.postMessage(ctx, msg)
}

// postMessage encodes the message and writes it to the port.
func (tm *ThreadManager) postMessage(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return errors.Errorf("worker failed to marshal %T for %q and ID %d "+
			"going to foreground: %+v", msg, msg.Type, msg.ID, err)
	}

	if tm.messageLogging {
		jww.DEBUG.Printf("[WW] [%s] Worker sending %q and ID %d: %s",
			tm.name, msg.Type, msg.ID, truncate.Truncate(
				string(payload), 64, "...", truncate.PositionMiddle))
	}

	return tm.p.PostMessage(ctx, payload)
}

// processReceivedMessage processes the message received from the foreground
// and calls the associated callback. If the message expects a reply, the
// callback's result or error is sent back. This function blocks until the
// callback returns.
func (tm *ThreadManager) processReceivedMessage(
	ctx context.Context, data []byte) error {
	msg, err := decodeMessage(data)
	if err != nil {
		if msg.ID != noResponseID {
			return tm.sendResponse(ctx, msg.Type, msg.ID, nil, err)
		}
		return err
	}

	if tm.messageLogging {
		jww.DEBUG.Printf("[WW] [%s] Worker received message for %q and ID %d "+
			"from %q with data: %s", tm.name, msg.Type, msg.ID, msg.Source,
			truncate.Truncate(string(msg.Value), 64, "...",
				truncate.PositionMiddle))
	}

	tm.mux.Lock()
	callback, exists := tm.callbacks[msg.Type]
	tm.mux.Unlock()
	if !exists {
		err = errors.Errorf("no callback found for type %q", msg.Type)
		if msg.ID != noResponseID {
			return tm.sendResponse(ctx, msg.Type, msg.ID, nil, err)
		}
		return err
	}

	response, err := tm.call(ctx, callback, msg)
	if msg.ID == noResponseID {
		if err != nil {
			return errors.Errorf("callback for %q returned an error: %+v",
				msg.Type, err)
		}
		return nil
	}

	return tm.sendResponse(ctx, msg.Type, msg.ID, response, err)
}

// call runs the callback and turns a panic into an error so that one bad
// request cannot take down the worker.
func (tm *ThreadManager) call(ctx context.Context,
	callback ThreadReceptionCallback, msg Message) (response any, err error) {
	defer func() {
		if r := recover(); r != nil {
			jww.ERROR.Printf("[WW] [%s] Callback for %q and ID %d panicked: %v",
				tm.name, msg.Type, msg.ID, r)
			response = nil
			err = errors.Errorf("callback for %q panicked: %v", msg.Type, r)
		}
	}()
	return callback(ctx, msg.Source, msg.Value)
}

// RegisterCallback registers the callback with the given tag overwriting any
// previous registered callbacks with the same tag. This function is thread
// safe.
func (tm *ThreadManager) RegisterCallback(
	tag Tag, receptionCallback ThreadReceptionCallback) {
	jww.DEBUG.Printf(
		"[WW] [%s] Worker registering callback for tag %q", tm.name, tag)
	tm.mux.Lock()
	tm.callbacks[tag] = receptionCallback
	tm.mux.Unlock()
}
