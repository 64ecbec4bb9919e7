////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package backend

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/storage"
)

// versionDebounce is how long to wait after the last change to the version
// file before reading it. Editors often write a file in several steps.
const versionDebounce = 100 * time.Millisecond

// VersionWatcher keeps the store's schema version in sync with a version file.
// Every connected foreground answers NEEDS_RELOAD with true once the version
// changes.
type VersionWatcher struct {
	path  string
	store *storage.Store

	// onChange is called with the new version after the store is updated.
	onChange func(version string)

	debounce *time.Timer
	mux      sync.Mutex
}

// NewVersionWatcher loads the version file, creating it with the store's
// current version if it does not exist, and applies it to the store.
func NewVersionWatcher(path string, store *storage.Store,
	onChange func(version string)) (*VersionWatcher, error) {
	v, err := storage.InitOrLoadVersion(path, store.SchemaVersion())
	if err != nil {
		return nil, err
	}
	store.SetSchemaVersion(v)

	if onChange == nil {
		onChange = func(string) {}
	}
	return &VersionWatcher{path: path, store: store, onChange: onChange}, nil
}

// Run watches the version file until the context is done. The directory is
// watched rather than the file so that replacing the file is noticed.
func (vw *VersionWatcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create version file watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(vw.path)
	if err = watcher.Add(dir); err != nil {
		return errors.Wrapf(err, "failed to watch %s", dir)
	}
	jww.INFO.Printf("[BACKEND] Watching schema version file %s.", vw.path)

	name := filepath.Clean(vw.path)
	for {
		select {
		case <-ctx.Done():
			vw.mux.Lock()
			if vw.debounce != nil {
				vw.debounce.Stop()
			}
			vw.mux.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			vw.scheduleReload()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			jww.WARN.Printf("[BACKEND] Version file watcher error: %+v", err)
		}
	}
}

func (vw *VersionWatcher) scheduleReload() {
	vw.mux.Lock()
	defer vw.mux.Unlock()
	if vw.debounce != nil {
		vw.debounce.Stop()
	}
	vw.debounce = time.AfterFunc(versionDebounce, vw.reload)
}

// reload reads the version file and applies a changed version.
func (vw *VersionWatcher) reload() {
	v, err := storage.ReadVersionFile(vw.path)
	if err != nil {
		jww.WARN.Printf("[BACKEND] Failed to read schema version: %+v", err)
		return
	}
	if vw.store.SetSchemaVersion(v) {
		vw.onChange(v)
	}
}
