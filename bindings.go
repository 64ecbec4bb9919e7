////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"syscall/js"

	"github.com/hack-pad/safejs"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elixxir/wasm-utils/exception"
	"gitlab.com/elixxir/wasm-utils/storage"
	"gitlab.com/elixxir/wasm-utils/utils"

	"gitlab.com/transcrobes/offline-proxy/dataprovider"
	"gitlab.com/transcrobes/offline-proxy/logging"
	"gitlab.com/transcrobes/offline-proxy/proxy"
	"gitlab.com/transcrobes/offline-proxy/readiness"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// Local storage keys of the identity.
const (
	usernameKey = "username"
	langPairKey = "langPair"
)

// bindings are the functions exposed to Javascript.
type bindings struct {
	p  *proxy.Proxy
	m  *readiness.Machine
	dp *dataprovider.Provider
	lf *logging.LogFile
}

// routeDecision is the JSON returned by ResolveRoute.
type routeDecision struct {
	State    string              `json:"state"`
	Identity readiness.Identity  `json:"identity"`
	Redirect *readiness.Redirect `json:"redirect,omitempty"`
}

// localIdentity reads the identity from local storage. A missing key is an
// empty value.
func localIdentity(context.Context) (readiness.Identity, error) {
	ls := storage.GetLocalStorage()
	var id readiness.Identity
	for key, dst := range map[string]*string{
		usernameKey: &id.Username, langPairKey: &id.LangPair} {
		v, err := ls.Get(key)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return readiness.Identity{}, errors.Wrapf(err,
				"failed to read %s from local storage", key)
		}
		*dst = string(v)
	}
	return id, nil
}

// navigate follows a redirect decided by the readiness machine.
func navigate(r readiness.Redirect) {
	loc, err := safejs.Global().Get("location")
	if err == nil {
		err = loc.Set("hash", strings.TrimPrefix(r.To, "/#"))
	}
	if err != nil {
		jww.ERROR.Printf("Failed to navigate to %s: %+v", r.To, err)
	}
}

// reloadPage discards all foreground state by reloading the page.
func reloadPage() {
	jww.INFO.Printf("Reloading page.")
	loc, err := safejs.Global().Get("location")
	if err == nil {
		_, err = loc.Call("reload")
	}
	if err != nil {
		jww.ERROR.Printf("Failed to reload page: %+v", err)
	}
}

// SetIdentity stores the identity used by the next ResolveRoute.
//
// Parameters:
//   - args[0] - Username (string).
//   - args[1] - Language pair, for example "zh-Hans:en" (string).
//
// Returns:
//   - Throws an error if local storage cannot be written.
func (b *bindings) SetIdentity(_ js.Value, args []js.Value) any {
	ls := storage.GetLocalStorage()
	if err := ls.Set(usernameKey, []byte(args[0].String())); err != nil {
		exception.ThrowTrace(err)
		return nil
	}
	if err := ls.Set(langPairKey, []byte(args[1].String())); err != nil {
		exception.ThrowTrace(err)
		return nil
	}
	return nil
}

// ResolveRoute resolves the identity and its readiness for a route. When the
// identity is ready, the proxy session is established before the promise
// resolves.
//
// Parameters:
//   - args[0] - Hash route, for example "/#/repetrobes" (string).
//
// Returns a promise:
//   - Resolves to the JSON of the decision (Uint8Array).
//   - Rejected with an error if the identity is misconfigured or the worker
//     cannot be queried.
func (b *bindings) ResolveRoute(_ js.Value, args []js.Value) any {
	route := args[0].String()

	promiseFn := func(resolve, reject func(args ...any) js.Value) {
		ctx := context.Background()
		d, err := b.m.Resolve(ctx, route)
		if err == nil && d.State == readiness.Ready {
			_, err = b.p.Init(ctx, d.Identity.Username)
		}
		if err != nil {
			reject(exception.NewTrace(err))
			return
		}

		data, err := json.Marshal(routeDecision{
			State:    d.State.String(),
			Identity: d.Identity,
			Redirect: d.Redirect,
		})
		if err != nil {
			reject(exception.NewTrace(err))
		} else {
			resolve(utils.CopyBytesToJS(data))
		}
	}

	return utils.CreatePromise(promiseFn)
}

// InitStore provisions the offline store of the resolved identity.
//
// Returns a promise:
//   - Resolves when the store is ready.
//   - Rejected with an error if provisioning fails.
func (b *bindings) InitStore(js.Value, []js.Value) any {
	promiseFn := func(resolve, reject func(args ...any) js.Value) {
		if err := b.m.Init(context.Background()); err != nil {
			reject(exception.NewTrace(err))
		} else {
			resolve()
		}
	}

	return utils.CreatePromise(promiseFn)
}

// DataProvider sends one data provider request.
//
// Parameters:
//   - args[0] - Method, such as "getList" (string).
//   - args[1] - Collection name (string).
//   - args[2] - JSON of the method's params (Uint8Array).
//
// Returns a promise:
//   - Resolves to the JSON of the worker's reply (Uint8Array).
//   - Rejected with the worker's error.
func (b *bindings) DataProvider(_ js.Value, args []js.Value) any {
	method := dataprovider.Method(args[0].String())
	collection := args[1].String()
	params := json.RawMessage(utils.CopyBytesToGo(args[2]))
	if len(params) == 0 {
		params = nil
	}

	promiseFn := func(resolve, reject func(args ...any) js.Value) {
		reply, err := b.dp.Do(context.Background(), dataprovider.Descriptor{
			Collection: collection, Method: method, Params: params})
		if err != nil {
			reject(exception.NewTrace(err))
		} else {
			resolve(utils.CopyBytesToJS(reply))
		}
	}

	return utils.CreatePromise(promiseFn)
}

// SendMessage sends any message to the worker, such as getCardWords.
//
// Parameters:
//   - args[0] - Message type (string).
//   - args[1] - JSON of the message value (Uint8Array).
//
// Returns a promise:
//   - Resolves to the JSON of the worker's reply (Uint8Array).
//   - Rejected with the worker's error.
func (b *bindings) SendMessage(_ js.Value, args []js.Value) any {
	tag := worker.Tag(args[0].String())
	value := json.RawMessage(utils.CopyBytesToGo(args[1]))
	if len(value) == 0 {
		value = nil
	}

	promiseFn := func(resolve, reject func(args ...any) js.Value) {
		reply, err := b.p.SendMessage(context.Background(), proxy.Envelope{
			Source: messageSource, Type: tag, Value: value})
		if err != nil {
			reject(exception.NewTrace(err))
		} else {
			resolve(utils.CopyBytesToJS(reply))
		}
	}

	return utils.CreatePromise(promiseFn)
}

// Logout ends the session, closes the worker's database connections and
// forgets the stored identity.
//
// Returns a promise:
//   - Resolves when the session has ended.
//   - Rejected with an error if the reset could not be sent.
func (b *bindings) Logout(js.Value, []js.Value) any {
	promiseFn := func(resolve, reject func(args ...any) js.Value) {
		if err := b.p.Logout(context.Background()); err != nil {
			reject(exception.NewTrace(err))
			return
		}
		ls := storage.GetLocalStorage()
		if err := ls.Set(usernameKey, nil); err != nil {
			reject(exception.NewTrace(err))
			return
		}
		resolve()
	}

	return utils.CreatePromise(promiseFn)
}

// LogLevel sets the log level.
//
// Parameters:
//   - args[0] - Log level (int), 0 TRACE to 6 FATAL.
//
// Returns:
//   - Throws an error if the log level is invalid.
func (b *bindings) LogLevel(_ js.Value, args []js.Value) any {
	if err := logging.LogLevel(jww.Threshold(args[0].Int())); err != nil {
		exception.Throw(err)
	}
	return nil
}

// GetLogFile returns the recent log output.
//
// Returns:
//   - Log file contents (Uint8Array).
func (b *bindings) GetLogFile(js.Value, []js.Value) any {
	return utils.CopyBytesToJS(b.lf.GetFile())
}
