////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package config

import (
	"os"

	"github.com/spf13/pflag"
)

// BindFlags registers the flags of every setting in p on fs, with the current
// values of p as defaults.
func BindFlags(fs *pflag.FlagSet, p *Params) {
	fs.StringVar(&p.WorkerURL, FlagWorkerURL, p.WorkerURL,
		"Websocket URL of the background worker.")
	fs.StringVar(&p.ListenAddress, FlagListen, p.ListenAddress,
		"Address the worker host listens on.")
	fs.StringVarP(&p.Username, FlagUsername, "u", p.Username,
		"Username whose offline store is used.")
	fs.StringVar(&p.LangPair, FlagLangPair, p.LangPair,
		"Language pair preference of the user, for example zh-Hans:en.")
	fs.IntVarP((*int)(&p.LogLevel), FlagLogLevel, "v", int(p.LogLevel),
		"Log threshold (0 TRACE to 6 FATAL).")
	fs.StringVarP(&p.LogFile, FlagLogFile, "l", p.LogFile,
		`Log output path; "-" for stdout.`)
	fs.IntVar(&p.LogBufferSize, FlagLogBufferSize, p.LogBufferSize,
		"Size in bytes of the in-memory log file; 0 disables it.")
	fs.StringVar(&p.SchemaVersionFile, FlagSchemaFile, p.SchemaVersionFile,
		"File whose schema version forces foregrounds to reload when changed.")

	fs.BoolVar(&p.Worker.MessageLogging, FlagMessageLogging,
		p.Worker.MessageLogging, "Log every message sent and received.")
	fs.DurationVar(&p.Worker.ResponseTimeout, FlagResponseTimeout,
		p.Worker.ResponseTimeout, "Time to wait for a reply; 0 waits forever.")
	fs.DurationVar(&p.Worker.ReadyTimeout, FlagReadyTimeout,
		p.Worker.ReadyTimeout, "Time to wait for the worker to be ready.")
	fs.IntVar(&p.Worker.MaxInFlight, FlagMaxInFlight, p.Worker.MaxInFlight,
		"Maximum number of requests awaiting a reply; 0 is unlimited.")

	fs.DurationVar(&p.Watchdog.Interval, FlagPollInterval,
		p.Watchdog.Interval, "Interval between reload checks.")
	fs.DurationVar(&p.Watchdog.Jitter, FlagPollJitter, p.Watchdog.Jitter,
		"Upper bound of the random delay added to each reload check interval.")
	fs.DurationVar(&p.Watchdog.CheckTimeout, FlagCheckTimeout,
		p.Watchdog.CheckTimeout, "Timeout of one reload check; 0 for none.")
}

// Changed returns the names of the flags explicitly set on the command line.
func Changed(fs *pflag.FlagSet) map[string]bool {
	changed := make(map[string]bool)
	fs.Visit(func(f *pflag.Flag) { changed[f.Name] = true })
	return changed
}

// Load merges the config file at path (or DefaultPath when empty) and the
// environment into p, leaving the flags set on fs untouched, then validates
// the result. A missing default file is not an error.
func Load(p *Params, fs *pflag.FlagSet, path string) error {
	changed := Changed(fs)

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	if path != "" && (explicit || FileExists(path)) {
		fp, err := LoadFile(path)
		if err != nil {
			return err
		}
		if err = ApplyFile(p, fp, changed); err != nil {
			return err
		}
	}

	if err := ApplyEnv(p, changed, os.LookupEnv); err != nil {
		return err
	}
	return p.Validate()
}
