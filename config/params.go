////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package config holds the settings shared by the proxy binaries. Values come
// from defaults, then a TOML file, then OFFLINE_PROXY_* environment variables,
// then explicitly set flags.
package config

import (
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/watchdog"
	"gitlab.com/transcrobes/offline-proxy/worker"
)

// Flag names. They double as the keys of the changed map passed to Apply.
const (
	FlagWorkerURL       = "worker-url"
	FlagListen          = "listen"
	FlagUsername        = "username"
	FlagLangPair        = "lang-pair"
	FlagLogLevel        = "log-level"
	FlagLogFile         = "log-file"
	FlagLogBufferSize   = "log-buffer-size"
	FlagMessageLogging  = "message-logging"
	FlagResponseTimeout = "response-timeout"
	FlagReadyTimeout    = "ready-timeout"
	FlagMaxInFlight     = "max-in-flight"
	FlagPollInterval    = "poll-interval"
	FlagPollJitter      = "poll-jitter"
	FlagCheckTimeout    = "check-timeout"
	FlagSchemaFile      = "schema-file"
)

// Params are the settings of a proxy binary.
type Params struct {
	// WorkerURL is the websocket URL of the background worker.
	WorkerURL string

	// ListenAddress is where the worker host serves websocket connections.
	ListenAddress string

	Username string
	LangPair string

	LogLevel jww.Threshold

	// LogFile is "-" for stdout or a path to append logs to.
	LogFile string

	// LogBufferSize is the size of the in-memory log file. Zero disables it.
	LogBufferSize int

	// SchemaVersionFile is watched by the worker host; a change to it makes
	// every foreground reload.
	SchemaVersionFile string

	Worker   worker.Params
	Watchdog watchdog.Params
}

func DefaultParams() Params {
	return Params{
		WorkerURL:     "ws://localhost:8844/worker",
		ListenAddress: "localhost:8844",
		LogLevel:      jww.LevelInfo,
		LogFile:       "-",
		LogBufferSize: 1 << 20,
		Worker:        worker.DefaultParams(),
		Watchdog:      watchdog.DefaultParams(),
	}
}

// Validate returns an error for settings that cannot work.
func (p Params) Validate() error {
	if p.LogLevel < jww.LevelTrace || p.LogLevel > jww.LevelFatal {
		return errors.Errorf("invalid log level %d", p.LogLevel)
	}
	if p.Worker.MaxInFlight < 0 {
		return errors.Errorf("%s cannot be negative", FlagMaxInFlight)
	}
	if p.Watchdog.Interval <= 0 {
		return errors.Errorf("%s must be positive", FlagPollInterval)
	}
	if p.Watchdog.Jitter < 0 {
		return errors.Errorf("%s cannot be negative", FlagPollJitter)
	}
	if p.LogBufferSize < 0 {
		return errors.Errorf("%s cannot be negative", FlagLogBufferSize)
	}
	return nil
}
