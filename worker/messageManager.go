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
	"time"

	"github.com/aquilax/truncate"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// ReceiverCallback is called when the worker sends a message that is not a
// reply to a request, such as a broadcast push.
type ReceiverCallback func(source string, value json.RawMessage)

// result is what a pending request settles with.
type result struct {
	value json.RawMessage
	err   error
}

// errUnknownID is returned when a reply does not match a pending request.
var errUnknownID = errors.New("no pending request for reply")

// MessageManager manages the sending and receiving of messages to a background
// worker. It owns the pending request table: every request gets a fresh
// correlation ID and the reply carrying that ID settles it.
type MessageManager struct {
	// The underlying port that sends and receives messages.
	p Port

	// pending maps the correlation ID of each outstanding request to the
	// channel its reply is delivered on. Each channel has a buffer of one so
	// the reception thread never blocks on a caller.
	pending map[uint64]chan result

	// nextID is the next correlation ID to hand out. IDs are never reused.
	nextID uint64

	// receiverCallbacks are called when receiving an unsolicited message from
	// the worker.
	receiverCallbacks map[Tag]ReceiverCallback

	// inFlight limits the number of outstanding requests. It is nil when
	// Params.MaxInFlight is zero.
	inFlight chan struct{}

	// ready is closed when the worker signals it is ready.
	ready     chan struct{}
	readyOnce sync.Once

	// quit is closed when the manager stops, either by Stop or because the
	// port stopped delivering messages.
	quit     chan struct{}
	stopOnce sync.Once
	cancel   context.CancelFunc

	// name describes the worker. It is used for debugging and logging purposes.
	name string

	Params

	mux sync.Mutex
}

// NewMessageManager generates a new MessageManager listening on the port. This
// function will only return once the worker has signalled that it is ready, or
// returns an error if that does not happen before the context is done or
// Params.ReadyTimeout elapses.
func NewMessageManager(
	ctx context.Context, p Port, name string, params Params) (*MessageManager, error) {
	mm := initMessageManager(name, params)
	mm.p = p

	listenCtx, cancel := context.WithCancel(context.Background())
	events, err := mm.p.Listen(listenCtx)
	if err != nil {
		cancel()
		return nil, errors.Wrap(err, "failed to listen on port")
	}
	mm.cancel = cancel

	// Start thread to process responses from worker
	go mm.messageReception(listenCtx, events)

	if err = mm.waitReady(ctx); err != nil {
		mm.Stop()
		return nil, err
	}

	return mm, nil
}

// initMessageManager initialises a new empty MessageManager.
func initMessageManager(name string, p Params) *MessageManager {
	mm := &MessageManager{
		pending:           make(map[uint64]chan result),
		nextID:            noResponseID + 1,
		receiverCallbacks: make(map[Tag]ReceiverCallback),
		ready:             make(chan struct{}),
		quit:              make(chan struct{}),
		cancel:            func() {},
		name:              name,
		Params:            p,
	}
	if p.MaxInFlight > 0 {
		mm.inFlight = make(chan struct{}, p.MaxInFlight)
	}
	return mm
}

// waitReady blocks until the worker sends ReadyTag.
func (mm *MessageManager) waitReady(ctx context.Context) error {
	var timeout <-chan time.Time
	if mm.ReadyTimeout > 0 {
		t := time.NewTimer(mm.ReadyTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-mm.ready:
		jww.INFO.Printf("[WW] [%s] Worker is ready.", mm.name)
		return nil
	case <-timeout:
		return newError(Timeout, ReadyTag, noResponseID,
			"timed out after %s waiting for worker to be ready", mm.ReadyTimeout)
	case <-mm.quit:
		return newError(Closed, ReadyTag, noResponseID,
			"port closed before worker was ready")
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "stopped waiting for worker to be ready")
	}
}

// Send sends the value to the worker with the given tag and waits for a
// response. Returns an error if posting the message fails, marshalling the
// value fails, the worker replies with an error, or if receiving a response
// times out.
//
// Cancelling the context only stops the wait. The worker still receives the
// request and its late reply is dropped.
func (mm *MessageManager) Send(ctx context.Context, tag Tag, source string,
	value any) (json.RawMessage, error) {
	return mm.SendTimeout(ctx, tag, source, value, mm.ResponseTimeout)
}

// SendTimeout sends the data to the worker with a custom timeout. A zero
// timeout waits indefinitely. Refer to [MessageManager.Send] for more
// information.
func (mm *MessageManager) SendTimeout(ctx context.Context, tag Tag,
	source string, value any, timeout time.Duration) (json.RawMessage, error) {
	if err := mm.acquire(ctx, tag); err != nil {
		return nil, err
	}
	defer mm.release()

	id, replyChan := mm.registerPending()

	msg, err := newRequest(tag, source, id, value)
	if err != nil {
		mm.removePending(id)
		return nil, errors.Wrapf(err, "failed to marshal value for %q", tag)
	}

	if err = mm.postMessage(ctx, msg); err != nil {
		mm.removePending(id)
		return nil, errors.Wrapf(err, "failed to send %q with ID %d", tag, id)
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timeoutC = t.C
	}

	select {
	case r := <-replyChan:
		return r.value, r.err
	case <-timeoutC:
		return mm.abandon(id, replyChan, newError(Timeout, tag, id,
			"timed out after %s waiting for response", timeout))
	case <-mm.quit:
		return mm.abandon(id, replyChan,
			newError(Closed, tag, id, "message manager stopped"))
	case <-ctx.Done():
		return mm.abandon(id, replyChan, contextError(ctx, tag, id))
	}
}

// SendNoResponse sends the data to the worker with the given tag; however,
// unlike [MessageManager.Send], it returns immediately and does not wait for a
// response.
//
// It is preferable to use [MessageManager.Send] over
// [MessageManager.SendNoResponse] as it will report a timeout when the worker
// crashes and [MessageManager.SendNoResponse] will not.
func (mm *MessageManager) SendNoResponse(
	ctx context.Context, tag Tag, source string, value any) error {
	msg, err := newRequest(tag, source, noResponseID, value)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal value for %q", tag)
	}
	return mm.postMessage(ctx, msg)
}

// abandon removes the pending entry for a caller that stopped waiting. If the
// entry is already gone, the reply won the race and is returned instead of the
// error so that a request is never settled twice.
func (mm *MessageManager) abandon(
	id uint64, replyChan chan result, err error) (json.RawMessage, error) {
	if mm.removePending(id) {
		return nil, err
	}
	r := <-replyChan
	return r.value, r.err
}

// contextError returns the error for a request whose context is done. A cause
// of type *Error (for example SessionSuperseded) is passed on with the request's
// tag and ID filled in.
func contextError(ctx context.Context, tag Tag, id uint64) error {
	var e *Error
	if cause := context.Cause(ctx); errors.As(cause, &e) {
		return &Error{Kind: e.Kind, Tag: tag, ID: id, Msg: e.Msg}
	}
	return errors.Wrapf(ctx.Err(), "stopped waiting for %q with ID %d", tag, id)
}

// postMessage encodes the message and writes it to the port.
func (mm *MessageManager) postMessage(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	if mm.MessageLogging {
		jww.DEBUG.Printf("[WW] [%s] Sending message for %q and ID %d: %s",
			mm.name, msg.Type, msg.ID, truncate.Truncate(
				fmt.Sprintf("%q", msg.Value), 64, "...", truncate.PositionMiddle))
	}

	select {
	case <-mm.quit:
		return newError(Closed, msg.Type, msg.ID, "message manager stopped")
	default:
	}

	return mm.p.PostMessage(ctx, payload)
}

// acquire takes an in-flight slot.
func (mm *MessageManager) acquire(ctx context.Context, tag Tag) error {
	if mm.inFlight == nil {
		return nil
	}
	select {
	case mm.inFlight <- struct{}{}:
		return nil
	case <-mm.quit:
		return newError(Closed, tag, noResponseID, "message manager stopped")
	case <-ctx.Done():
		return contextError(ctx, tag, noResponseID)
	}
}

// release gives back an in-flight slot.
func (mm *MessageManager) release() {
	if mm.inFlight != nil {
		<-mm.inFlight
	}
}

// Stop closes the message reception thread and closes the port. Requests still
// waiting for a reply are rejected with a Closed error.
func (mm *MessageManager) Stop() {
	mm.stop()
	if err := mm.p.Close(); err != nil {
		jww.WARN.Printf("[WW] [%s] Failed to close port: %+v", mm.name, err)
	}
}

// stop closes quit once.
func (mm *MessageManager) stop() {
	mm.stopOnce.Do(func() {
		close(mm.quit)
		mm.cancel()
	})
}

// Done returns a channel that is closed once the manager has stopped.
func (mm *MessageManager) Done() <-chan struct{} {
	return mm.quit
}

// messageReception processes received messages sequentially.
func (mm *MessageManager) messageReception(
	ctx context.Context, events <-chan MessageEvent) {
	jww.INFO.Printf("[WW] [%s] Starting message reception thread.", mm.name)
	for {
		select {
		case <-ctx.Done():
			jww.INFO.Printf(
				"[WW] [%s] Quitting message reception thread.", mm.name)
			return
		case event, ok := <-events:
			if !ok {
				jww.WARN.Printf("[WW] [%s] Port stopped delivering messages; "+
					"quitting message reception thread.", mm.name)
				mm.stop()
				return
			}

			data, err := event.Data()
			if err != nil {
				jww.ERROR.Printf("[WW] [%s] Failed to receive message: %+v",
					mm.name, err)
				continue
			}

			err = mm.processReceivedMessage(data)
			if errors.Is(err, errUnknownID) {
				jww.WARN.Printf("[WW] [%s] Dropping reply: %+v", mm.name, err)
			} else if err != nil {
				jww.ERROR.Printf("[WW] [%s] Failed to process received "+
					"message: %+v", mm.name, err)
			}
		}
	}
}

// processReceivedMessage processes the message received from the worker and
// settles the matching request or starts the registered callback on its own
// goroutine.
func (mm *MessageManager) processReceivedMessage(data []byte) error {
	msg, decodeErr := decodeMessage(data)

	if mm.MessageLogging {
		jww.DEBUG.Printf("[WW] [%s] Received message for %q and ID %d "+
			"with data: %s", mm.name, msg.Type, msg.ID, truncate.Truncate(
			fmt.Sprintf("%q", data), 64, "...", truncate.PositionMiddle))
	}

	if decodeErr != nil {
		// A malformed reply to a known request rejects that request rather
		// than leaving it to hang
		if msg.Response && msg.ID != noResponseID {
			replyChan, exists := mm.takePending(msg.ID)
			if exists {
				replyChan <- result{err: newError(
					ProtocolError, msg.Type, msg.ID, "%v", decodeErr)}
			}
		}
		return decodeErr
	}

	if msg.Response {
		replyChan, exists := mm.takePending(msg.ID)
		if !exists {
			return errors.Wrapf(errUnknownID, "%q with ID %d", msg.Type, msg.ID)
		}

		if msg.Error != "" {
			replyChan <- result{err: &Error{
				Kind: WorkerError, Tag: msg.Type, ID: msg.ID, Msg: msg.Error}}
		} else {
			replyChan <- result{value: msg.Value}
		}
		return nil
	}

	if msg.Type == ReadyTag {
		mm.readyOnce.Do(func() { close(mm.ready) })
		return nil
	}

	callback, err := mm.getReceiverCallback(msg.Type)
	if err != nil {
		return err
	}
	go callback(msg.Source, msg.Value)

	return nil
}

// RegisterCallback registers the callback for unsolicited messages with the
// given tag. Previous callbacks for the tag are overwritten. Each message is
// handled on its own goroutine, so callbacks may send requests on the same
// manager and may run concurrently. This function is thread safe.
func (mm *MessageManager) RegisterCallback(tag Tag, receiverCB ReceiverCallback) {
	mm.mux.Lock()
	defer mm.mux.Unlock()

	jww.DEBUG.Printf("[WW] [%s] Main registering receiver callback for tag %q",
		mm.name, tag)

	mm.receiverCallbacks[tag] = receiverCB
}

// getReceiverCallback returns the ReceiverCallback for the given Tag or returns
// an error if no callback is found. This function is thread safe.
func (mm *MessageManager) getReceiverCallback(tag Tag) (ReceiverCallback, error) {
	mm.mux.Lock()
	defer mm.mux.Unlock()

	callback, exists := mm.receiverCallbacks[tag]
	if !exists {
		return nil, errors.Errorf("no receiver callbacks found for tag %q", tag)
	}

	return callback, nil
}

// registerPending adds a new entry to the pending request table and returns
// its correlation ID and reply channel. This function is thread safe.
func (mm *MessageManager) registerPending() (uint64, chan result) {
	mm.mux.Lock()
	defer mm.mux.Unlock()

	id := mm.getNextID()
	replyChan := make(chan result, 1)
	mm.pending[id] = replyChan
	return id, replyChan
}

// takePending removes and returns the entry for the ID. Returns false if there
// is no entry, meaning the request was already settled or never existed. This
// function is thread safe.
func (mm *MessageManager) takePending(id uint64) (chan result, bool) {
	mm.mux.Lock()
	defer mm.mux.Unlock()

	replyChan, exists := mm.pending[id]
	if exists {
		delete(mm.pending, id)
	}
	return replyChan, exists
}

// removePending deletes the entry for the ID. Returns true if it was present.
func (mm *MessageManager) removePending(id uint64) bool {
	_, exists := mm.takePending(id)
	return exists
}

// Pending returns the number of requests waiting for a reply.
func (mm *MessageManager) Pending() int {
	mm.mux.Lock()
	defer mm.mux.Unlock()
	return len(mm.pending)
}

// getNextID returns the next unique correlation ID. This function is not
// thread-safe.
func (mm *MessageManager) getNextID() uint64 {
	id := mm.nextID
	mm.nextID++
	return id
}
