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
	"fmt"
	"syscall/js"

	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/dataprovider"
	"gitlab.com/transcrobes/offline-proxy/logging"
	"gitlab.com/transcrobes/offline-proxy/proxy"
	"gitlab.com/transcrobes/offline-proxy/readiness"
	"gitlab.com/transcrobes/offline-proxy/watchdog"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// workerScript is the URL of the background worker script. It can be set at
// link time with -ldflags "-X main.workerScript=...".
var workerScript = "offlineWorker.js"

const (
	workerName    = "offlineWorker"
	logFileSize   = 1 << 20
	messageSource = "offlineProxy"
)

func main() {
	fmt.Println("Starting offline proxy.")

	if err := logging.LogLevel(jww.LevelInfo); err != nil {
		jww.FATAL.Panicf("Failed to set log level: %+v", err)
	}
	lf, err := logging.EnableLogFile(messageSource, jww.LevelDebug, logFileSize)
	if err != nil {
		jww.FATAL.Panicf("Failed to enable log file: %+v", err)
	}

	port, err := worker.NewWorker(workerScript, workerName)
	if err != nil {
		jww.FATAL.Panicf("Failed to start worker %s: %+v", workerScript, err)
	}
	p, err := proxy.Connect(
		context.Background(), port, messageSource, worker.DefaultParams())
	if err != nil {
		jww.FATAL.Panicf("Failed to connect to worker %s: %+v", workerName, err)
	}

	m := readiness.NewMachine(readiness.IdentityFunc(localIdentity), p)
	m.OnRedirect(navigate)

	p.OnBroadcast(worker.ReloadRequiredTag, func(string, json.RawMessage) {
		reloadPage()
	})
	wd := watchdog.New(
		p, watchdog.ReloadFunc(reloadPage), m.Ready, watchdog.DefaultParams())
	wd.Start(context.Background())

	b := &bindings{
		p:  p,
		m:  m,
		dp: dataprovider.New(p, messageSource),
		lf: lf,
	}
	js.Global().Set("SetIdentity", js.FuncOf(b.SetIdentity))
	js.Global().Set("ResolveRoute", js.FuncOf(b.ResolveRoute))
	js.Global().Set("InitStore", js.FuncOf(b.InitStore))
	js.Global().Set("DataProvider", js.FuncOf(b.DataProvider))
	js.Global().Set("SendMessage", js.FuncOf(b.SendMessage))
	js.Global().Set("Logout", js.FuncOf(b.Logout))
	js.Global().Set("LogLevel", js.FuncOf(b.LogLevel))
	js.Global().Set("GetLogFile", js.FuncOf(b.GetLogFile))

	<-p.Done()
	wd.Stop()
	jww.ERROR.Printf("Connection to worker %s closed.", workerName)
}
