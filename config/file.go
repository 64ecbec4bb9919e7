////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// envPrefix prefixes the environment variable of every flag, for example
// OFFLINE_PROXY_WORKER_URL.
const envPrefix = "OFFLINE_PROXY_"

// FileParams mirrors Params with durations as strings to keep the TOML file
// readable. Pointers distinguish unset values from zero values.
type FileParams struct {
	WorkerURL         string `toml:"worker_url"`
	ListenAddress     string `toml:"listen"`
	Username          string `toml:"username"`
	LangPair          string `toml:"lang_pair"`
	LogLevel          *int   `toml:"log_level"`
	LogFile           string `toml:"log_file"`
	LogBufferSize     *int   `toml:"log_buffer_size"`
	SchemaVersionFile string `toml:"schema_file"`

	MessageLogging  *bool  `toml:"message_logging"`
	ResponseTimeout string `toml:"response_timeout"`
	ReadyTimeout    string `toml:"ready_timeout"`
	MaxInFlight     *int   `toml:"max_in_flight"`

	PollInterval string `toml:"poll_interval"`
	PollJitter   string `toml:"poll_jitter"`
	CheckTimeout string `toml:"check_timeout"`
}

// LoadFile reads and parses a TOML config file.
func LoadFile(path string) (FileParams, error) {
	var fp FileParams
	b, err := os.ReadFile(path)
	if err != nil {
		return fp, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err = toml.Unmarshal(b, &fp); err != nil {
		return fp, errors.Wrapf(err, "failed to parse config file %s", path)
	}
	return fp, nil
}

// DefaultPath returns ~/.offline-proxy/config.toml, or an empty string if the
// home directory is unknown.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".offline-proxy", "config.toml")
	}
	return ""
}

// FileExists returns true if a file exists at the path.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// ApplyFile copies the values set in the file into p, except for the flags
// marked in changed.
func ApplyFile(p *Params, fp FileParams, changed map[string]bool) error {
	s := setter{changed: changed}

	s.setString(FlagWorkerURL, fp.WorkerURL, &p.WorkerURL)
	s.setString(FlagListen, fp.ListenAddress, &p.ListenAddress)
	s.setString(FlagUsername, fp.Username, &p.Username)
	s.setString(FlagLangPair, fp.LangPair, &p.LangPair)
	s.setString(FlagLogFile, fp.LogFile, &p.LogFile)
	s.setString(FlagSchemaFile, fp.SchemaVersionFile, &p.SchemaVersionFile)
	s.setBool(FlagMessageLogging, fp.MessageLogging, &p.Worker.MessageLogging)
	s.setInt(FlagMaxInFlight, fp.MaxInFlight, &p.Worker.MaxInFlight)
	s.setInt(FlagLogBufferSize, fp.LogBufferSize, &p.LogBufferSize)
	if fp.LogLevel != nil && !changed[FlagLogLevel] {
		p.LogLevel = jww.Threshold(*fp.LogLevel)
	}

	return s.durations([]durationField{
		{FlagResponseTimeout, fp.ResponseTimeout, &p.Worker.ResponseTimeout},
		{FlagReadyTimeout, fp.ReadyTimeout, &p.Worker.ReadyTimeout},
		{FlagPollInterval, fp.PollInterval, &p.Watchdog.Interval},
		{FlagPollJitter, fp.PollJitter, &p.Watchdog.Jitter},
		{FlagCheckTimeout, fp.CheckTimeout, &p.Watchdog.CheckTimeout},
	})
}

// ApplyEnv copies OFFLINE_PROXY_* environment variables into p, except for the
// flags marked in changed. lookup is normally os.LookupEnv.
func ApplyEnv(p *Params, changed map[string]bool,
	lookup func(string) (string, bool)) error {
	get := func(flag string) string {
		v, _ := lookup(envName(flag))
		return v
	}
	s := setter{changed: changed}

	s.setString(FlagWorkerURL, get(FlagWorkerURL), &p.WorkerURL)
	s.setString(FlagListen, get(FlagListen), &p.ListenAddress)
	s.setString(FlagUsername, get(FlagUsername), &p.Username)
	s.setString(FlagLangPair, get(FlagLangPair), &p.LangPair)
	s.setString(FlagLogFile, get(FlagLogFile), &p.LogFile)
	s.setString(FlagSchemaFile, get(FlagSchemaFile), &p.SchemaVersionFile)

	for _, f := range []struct {
		flag string
		dst  *int
	}{
		{FlagMaxInFlight, &p.Worker.MaxInFlight},
		{FlagLogBufferSize, &p.LogBufferSize},
	} {
		if v := get(f.flag); v != "" && !changed[f.flag] {
			i, err := strconv.Atoi(v)
			if err != nil {
				return errors.Wrapf(err, "failed to parse %s", envName(f.flag))
			}
			*f.dst = i
		}
	}
	if v := get(FlagLogLevel); v != "" && !changed[FlagLogLevel] {
		i, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", envName(FlagLogLevel))
		}
		p.LogLevel = jww.Threshold(i)
	}
	if v := get(FlagMessageLogging); v != "" && !changed[FlagMessageLogging] {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s",
				envName(FlagMessageLogging))
		}
		p.Worker.MessageLogging = b
	}

	return s.durations([]durationField{
		{FlagResponseTimeout, get(FlagResponseTimeout), &p.Worker.ResponseTimeout},
		{FlagReadyTimeout, get(FlagReadyTimeout), &p.Worker.ReadyTimeout},
		{FlagPollInterval, get(FlagPollInterval), &p.Watchdog.Interval},
		{FlagPollJitter, get(FlagPollJitter), &p.Watchdog.Jitter},
		{FlagCheckTimeout, get(FlagCheckTimeout), &p.Watchdog.CheckTimeout},
	})
}

// envName returns the environment variable of the flag.
func envName(flag string) string {
	b := []byte(envPrefix + flag)
	for i := len(envPrefix); i < len(b); i++ {
		switch c := b[i]; {
		case c == '-':
			b[i] = '_'
		case 'a' <= c && c <= 'z':
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

// setter writes values that are set and whose flag was not changed.
type setter struct {
	changed map[string]bool
}

type durationField struct {
	flag  string
	value string
	dst   *time.Duration
}

func (s setter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s setter) setInt(flag string, value *int, dst *int) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s setter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s setter) durations(fields []durationField) error {
	for _, f := range fields {
		if f.value == "" || s.changed[f.flag] {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return errors.Wrapf(err, "failed to parse %s", f.flag)
		}
		*f.dst = d
	}
	return nil
}
