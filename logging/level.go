////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// checkThreshold returns an error if the threshold is not a jwalterweatherman
// level.
func checkThreshold(threshold jww.Threshold) error {
	if threshold < jww.LevelTrace || threshold > jww.LevelFatal {
		return errors.Errorf("log level is not valid: log level: %d", threshold)
	}
	return nil
}

// LogLevel sets level of logging. All logs at the set level and above will be
// displayed (e.g., when log level is ERROR, only ERROR, CRITICAL, and FATAL
// messages will be printed).
//
// The default log level without updates is INFO.
func LogLevel(threshold jww.Threshold) error {
	if err := checkThreshold(threshold); err != nil {
		return err
	}

	// Display microseconds if the threshold is set to TRACE or DEBUG
	if threshold <= jww.LevelDebug {
		jww.SetFlags(log.LstdFlags | log.Lmicroseconds)
	}
	jww.SetLogThreshold(threshold)
	jww.SetStdoutThreshold(threshold)

	printAt(threshold, "Log level set to: %s", threshold)
	return nil
}

// InitLog sets up logging for a command line binary. A logPath of "-" logs to
// stdout, any other non-empty path appends to that file and silences stdout.
// An empty logPath leaves the outputs as they are.
func InitLog(threshold jww.Threshold, logPath string) error {
	if logPath != "" && logPath != "-" {
		logOutput, err :=
			os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %s", logPath)
		}
		jww.SetStdoutOutput(io.Discard)
		jww.SetLogOutput(logOutput)
	}

	return LogLevel(threshold)
}

// printAt prints the message to the logger of the given level.
func printAt(threshold jww.Threshold, format string, a ...any) {
	switch threshold {
	case jww.LevelTrace, jww.LevelDebug, jww.LevelInfo:
		jww.INFO.Printf(format, a...)
	case jww.LevelWarn:
		jww.WARN.Printf(format, a...)
	case jww.LevelError:
		jww.ERROR.Printf(format, a...)
	case jww.LevelCritical:
		jww.CRITICAL.Printf(format, a...)
	case jww.LevelFatal:
		jww.FATAL.Printf(format, a...)
	}
}
