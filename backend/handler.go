////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package backend is the reference background worker. It registers the
// handlers for every message the proxy sends on a [worker.ThreadManager] and
// serves them from a [storage.Store].
package backend

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/storage"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// ErrNoDatabase is returned for data requests made before a database was
// opened with an initialise message, or after resetDBConnections.
var ErrNoDatabase = errors.New("no database open; initialise a user first")

// userMessage is the value of the initialise and isInitialised messages.
type userMessage struct {
	Username string `json:"username"`
}

// Handler serves one foreground connection.
type Handler struct {
	store *storage.Store

	// seenVersion is the schema version when the connection was made. The
	// foreground must reload once the store's version differs.
	seenVersion string

	// db is the database opened by the last initialise message.
	db  *storage.Database
	mux sync.Mutex
}

// Register creates a Handler for the connection and registers its callbacks on
// the thread manager. Call [worker.ThreadManager.SignalReady] afterwards.
func Register(tm *worker.ThreadManager, store *storage.Store) *Handler {
	h := &Handler{store: store, seenVersion: store.SchemaVersion()}

	tm.RegisterCallback(worker.InitialiseTag, h.initialise)
	tm.RegisterCallback(worker.IsInitialisedTag, h.isInitialised)
	tm.RegisterCallback(worker.NeedsReloadTag, h.needsReload)
	tm.RegisterCallback(worker.ResetDBConnectionsTag, h.resetDBConnections)
	tm.RegisterCallback(worker.DataProviderTag, h.dataProvider)
	tm.RegisterCallback(worker.GetAllFromDBTag, h.getAllFromDB)
	tm.RegisterCallback(worker.GetCardWordsTag, h.getCardWords)

	return h
}

func decodeUser(value json.RawMessage) (string, error) {
	var msg userMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return "", errors.Wrap(err, "failed to decode user message")
	}
	if msg.Username == "" {
		return "", errors.New("username is required")
	}
	return msg.Username, nil
}

func (h *Handler) initialise(
	_ context.Context, source string, value json.RawMessage) (any, error) {
	username, err := decodeUser(value)
	if err != nil {
		return nil, err
	}

	db, err := h.store.Initialise(username)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to initialise %q", username)
	}
	jww.INFO.Printf("[BACKEND] %s opened database of %q.", source, username)

	h.mux.Lock()
	h.db = db
	h.mux.Unlock()
	return true, nil
}

func (h *Handler) isInitialised(
	_ context.Context, _ string, value json.RawMessage) (any, error) {
	username, err := decodeUser(value)
	if err != nil {
		return nil, err
	}
	return h.store.IsInitialised(username), nil
}

func (h *Handler) needsReload(
	context.Context, string, json.RawMessage) (any, error) {
	return h.store.SchemaVersion() != h.seenVersion, nil
}

func (h *Handler) resetDBConnections(
	_ context.Context, source string, _ json.RawMessage) (any, error) {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.db != nil {
		jww.INFO.Printf("[BACKEND] %s closed database of %q.",
			source, h.db.Username())
	}
	h.db = nil
	return nil, nil
}

// database returns the open database.
func (h *Handler) database() (*storage.Database, error) {
	h.mux.Lock()
	defer h.mux.Unlock()
	if h.db == nil {
		return nil, ErrNoDatabase
	}
	return h.db, nil
}
