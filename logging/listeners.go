////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package logging configures jwalterweatherman for the proxy binaries and keeps
// an optional in-memory log file that can be read back at runtime.
package logging

import (
	"sort"
	"sync"

	jww "github.com/spf13/jwalterweatherman"
)

// listeners holds every log listener registered through AddLogListener.
// jwalterweatherman only accepts the full list, so it is set again on every
// change.
var listeners = listenerSet{byID: make(map[uint64]jww.LogListener)}

type listenerSet struct {
	byID   map[uint64]jww.LogListener
	nextID uint64
	mux    sync.Mutex
}

// AddLogListener registers the log listener with jwalterweatherman. Returns an
// ID that can be passed to RemoveLogListener.
func AddLogListener(ll jww.LogListener) uint64 {
	listeners.mux.Lock()
	defer listeners.mux.Unlock()

	id := listeners.nextID
	listeners.nextID++
	listeners.byID[id] = ll
	listeners.apply()
	return id
}

// RemoveLogListener unregisters the log listener with the ID. Unknown IDs are
// ignored.
func RemoveLogListener(id uint64) {
	listeners.mux.Lock()
	defer listeners.mux.Unlock()

	delete(listeners.byID, id)
	listeners.apply()
}

// apply hands the listeners to jwalterweatherman in registration order. The
// caller must hold the lock.
func (ls *listenerSet) apply() {
	ids := make([]uint64, 0, len(ls.byID))
	for id := range ls.byID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	lls := make([]jww.LogListener, len(ids))
	for i, id := range ids {
		lls[i] = ls.byID[id]
	}
	jww.SetLogListeners(lls...)
}
