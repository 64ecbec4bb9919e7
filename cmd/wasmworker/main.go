////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

//go:build js && wasm

// Command wasmworker is the reference background worker compiled to run in a
// dedicated Javascript worker started by the foreground.
package main

import (
	"context"
	"fmt"

	"github.com/hack-pad/safejs"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/backend"
	"gitlab.com/transcrobes/offline-proxy/logging"
	"gitlab.com/transcrobes/offline-proxy/storage"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

func main() {
	fmt.Println("Starting offline worker.")

	if err := logging.LogLevel(jww.LevelInfo); err != nil {
		jww.FATAL.Panicf("Failed to set log level: %+v", err)
	}

	port, err := worker.NewMessagePort(safejs.Global())
	if err != nil {
		jww.FATAL.Panicf("Failed to wrap worker global scope: %+v", err)
	}

	store := storage.NewStore(storage.SchemaVersion, nil)
	err = backend.Serve(context.Background(), port, "offlineWorker", store,
		nil, false)
	if err != nil {
		jww.FATAL.Panicf("Offline worker failed: %+v", err)
	}
	jww.INFO.Printf("Offline worker stopped.")
}
