////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

//go:build js && wasm

package worker

import (
	"context"
	"sync"
	"syscall/js"

	"github.com/hack-pad/safejs"
	"github.com/pkg/errors"

	"gitlab.com/elixxir/wasm-utils/utils"
)

// MessagePort wraps a Javascript object that has postMessage and
// addEventListener, such as a Worker, a MessagePort or the global scope of a
// dedicated worker.
//
// Doc: https://developer.mozilla.org/en-US/docs/Web/API/MessagePort
type MessagePort struct {
	safejs.Value

	// terminate is called on Close when the wrapped object is a Worker.
	terminate bool
	closeOnce sync.Once
}

// NewMessagePort wraps the given MessagePort.
func NewMessagePort(v safejs.Value) (*MessagePort, error) {
	method, err := v.Get("postMessage")
	if err != nil {
		return nil, err
	}
	if method.Type() != safejs.TypeFunction {
		return nil, errors.New("postMessage is not a function")
	}
	return &MessagePort{Value: v}, nil
}

// NewWorker starts a new Javascript Worker running the script at the URL and
// returns a port to it. Closing the port terminates the worker.
//
// Doc: https://developer.mozilla.org/en-US/docs/Web/API/Worker/Worker
func NewWorker(scriptURL, name string) (*MessagePort, error) {
	workerConstructor, err := safejs.Global().Get("Worker")
	if err != nil {
		return nil, err
	}
	opts := map[string]any{
		"type":        "classic",
		"credentials": "omit",
		"name":        name,
	}
	v, err := workerConstructor.New(scriptURL, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to construct Worker %q", name)
	}
	mp, err := NewMessagePort(v)
	if err != nil {
		return nil, err
	}
	mp.terminate = true
	return mp, nil
}

// PostMessage sends the bytes from the port. Ownership of the underlying
// buffer is transferred instead of copied.
func (mp *MessagePort) PostMessage(_ context.Context, data []byte) error {
	buffer := utils.CopyBytesToJS(data)
	_, err := mp.Call("postMessage", buffer, []any{buffer.Get("buffer")})
	return err
}

// Listen registers listeners on the MessagePort and returns all events on the
// returned channel. Handlers may still be running when the context is done, so
// the channel is abandoned rather than closed.
func (mp *MessagePort) Listen(
	ctx context.Context) (_ <-chan MessageEvent, err error) {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		if err != nil {
			cancel()
		}
	}()

	events := make(chan MessageEvent)
	messageHandler, err := nonBlocking(func(args []safejs.Value) {
		select {
		case events <- parseMessageEvent(args[0]):
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}
	errorHandler, err := nonBlocking(func(args []safejs.Value) {
		select {
		case events <- MessageEvent{err: js.Error{Value: safejs.Unsafe(args[0])}}:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return nil, err
	}

	go func() {
		<-ctx.Done()
		_, err := mp.Call("removeEventListener", "message", messageHandler)
		if err == nil {
			messageHandler.Release()
		}
		_, err = mp.Call("removeEventListener", "messageerror", errorHandler)
		if err == nil {
			errorHandler.Release()
		}
	}()
	_, err = mp.Call("addEventListener", "message", messageHandler)
	if err != nil {
		return nil, err
	}
	_, err = mp.Call("addEventListener", "messageerror", errorHandler)
	if err != nil {
		return nil, err
	}
	if start, err := mp.Get("start"); err == nil {
		if truthy, err := start.Truthy(); err == nil && truthy {
			if _, err := mp.Call("start"); err != nil {
				return nil, err
			}
		}
	}
	return events, nil
}

// Close terminates the wrapped Worker, or closes the wrapped MessagePort.
func (mp *MessagePort) Close() error {
	var err error
	mp.closeOnce.Do(func() {
		method := "close"
		if mp.terminate {
			method = "terminate"
		}
		if fn, getErr := mp.Get(method); getErr == nil &&
			fn.Type() == safejs.TypeFunction {
			_, err = mp.Call(method)
		}
	})
	return err
}

// parseMessageEvent copies the Uint8Array carried by a MessageEvent into Go.
func parseMessageEvent(v safejs.Value) MessageEvent {
	data, err := v.Get("data")
	if err != nil {
		return MessageEvent{err: err}
	}
	raw := safejs.Unsafe(data)
	if raw.Type() != js.TypeObject || !raw.Get("constructor").Equal(utils.Uint8Array) {
		return MessageEvent{err: errors.Errorf(
			"cannot handle data of type %s: %s", raw.Type(), utils.JsToJson(raw))}
	}
	return MessageEvent{data: utils.CopyBytesToGo(raw)}
}

func nonBlocking(fn func(args []safejs.Value)) (safejs.Func, error) {
	return safejs.FuncOf(func(_ safejs.Value, args []safejs.Value) any {
		go fn(args)
		return nil
	})
}
