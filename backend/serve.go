////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package backend

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/storage"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// ReloadRequiredMessage is pushed to every foreground when the schema version
// changes.
type ReloadRequiredMessage struct {
	SchemaVersion string `json:"schemaVersion"`
}

// Hub tracks the connected foregrounds so that pushes reach all of them.
type Hub struct {
	conns map[*worker.ThreadManager]struct{}
	mux   sync.Mutex
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*worker.ThreadManager]struct{})}
}

func (h *Hub) add(tm *worker.ThreadManager) {
	h.mux.Lock()
	defer h.mux.Unlock()
	h.conns[tm] = struct{}{}
}

func (h *Hub) remove(tm *worker.ThreadManager) {
	h.mux.Lock()
	defer h.mux.Unlock()
	delete(h.conns, tm)
}

// Len returns the number of connected foregrounds.
func (h *Hub) Len() int {
	h.mux.Lock()
	defer h.mux.Unlock()
	return len(h.conns)
}

// Broadcast sends an unsolicited message to every connected foreground.
// Failures are logged per connection.
func (h *Hub) Broadcast(ctx context.Context, tag worker.Tag, value any) {
	h.mux.Lock()
	conns := make([]*worker.ThreadManager, 0, len(h.conns))
	for tm := range h.conns {
		conns = append(conns, tm)
	}
	h.mux.Unlock()

	for _, tm := range conns {
		if err := tm.SendMessage(ctx, tag, value); err != nil {
			jww.WARN.Printf("[BACKEND] Failed to push %q: %+v", tag, err)
		}
	}
}

// ReloadRequired pushes a reloadRequired message with the version to every
// connected foreground. It matches the onChange callback of
// [NewVersionWatcher].
func (h *Hub) ReloadRequired(version string) {
	h.Broadcast(context.Background(), worker.ReloadRequiredTag,
		ReloadRequiredMessage{SchemaVersion: version})
}

// Serve runs the reference worker on the port until the foreground disconnects
// or the context is done. The hub may be nil.
func Serve(ctx context.Context, port worker.Port, name string,
	store *storage.Store, hub *Hub, messageLogging bool) error {
	tm, err := worker.NewThreadManager(port, name, messageLogging)
	if err != nil {
		return errors.Wrapf(err, "failed to start worker %s", name)
	}
	defer tm.Stop()

	Register(tm, store)
	if err = tm.SignalReady(ctx); err != nil {
		return errors.Wrapf(err, "failed to signal %s is ready", name)
	}

	if hub != nil {
		hub.add(tm)
		defer hub.remove(tm)
	}

	select {
	case <-ctx.Done():
	case <-tm.Done():
	}
	return nil
}
