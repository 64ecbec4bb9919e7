////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package logging

import (
	"io"
	"sync"

	"github.com/armon/circbuf"
	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"
)

// LogFile is a virtual log file in memory. It is backed by a circular buffer
// so the oldest entries are overwritten once the max size is reached.
type LogFile struct {
	name      string
	threshold jww.Threshold
	b         *circbuf.Buffer

	// listenerID is the ID of the LogFile's listener. It is only set once the
	// file is enabled.
	listenerID uint64
	stopped    bool

	mux sync.Mutex
}

// NewLogFile returns a LogFile that is not yet receiving logs. Use
// EnableLogFile to create one that is registered with jwalterweatherman.
func NewLogFile(
	name string, threshold jww.Threshold, maxSize int) (*LogFile, error) {
	if err := checkThreshold(threshold); err != nil {
		return nil, err
	}
	b, err := circbuf.NewBuffer(int64(maxSize))
	if err != nil {
		return nil, errors.Wrap(err, "could not create new circular buffer")
	}

	return &LogFile{name: name, threshold: threshold, b: b}, nil
}

// EnableLogFile starts recording logs at or above the threshold to a new
// in-memory log file of at most maxSize bytes.
func EnableLogFile(
	name string, threshold jww.Threshold, maxSize int) (*LogFile, error) {
	lf, err := NewLogFile(name, threshold, maxSize)
	if err != nil {
		return nil, err
	}
	lf.listenerID = AddLogListener(lf.Listen)

	printAt(threshold, "Outputting log to file %s of max size %d with level %s",
		lf.name, maxSize, threshold)
	return lf, nil
}

// Listen is called for every logging event. This function adheres to the
// [jwalterweatherman.LogListener] type.
func (lf *LogFile) Listen(t jww.Threshold) io.Writer {
	if t < lf.threshold {
		return nil
	}
	return lf
}

// Write adheres to the io.Writer interface. jwalterweatherman writes from many
// goroutines, so writes are serialised.
func (lf *LogFile) Write(p []byte) (int, error) {
	lf.mux.Lock()
	defer lf.mux.Unlock()
	if lf.stopped {
		return len(p), nil
	}
	return lf.b.Write(p)
}

// Stop unregisters the file and stops further writes. The contents remain
// readable.
func (lf *LogFile) Stop() {
	lf.mux.Lock()
	if lf.stopped {
		lf.mux.Unlock()
		return
	}
	lf.stopped = true
	lf.mux.Unlock()

	RemoveLogListener(lf.listenerID)
}

// Name returns the name of the log file.
func (lf *LogFile) Name() string { return lf.name }

// Threshold returns the log level threshold used in the file.
func (lf *LogFile) Threshold() jww.Threshold { return lf.threshold }

// GetFile returns the entire log file.
func (lf *LogFile) GetFile() []byte {
	lf.mux.Lock()
	defer lf.mux.Unlock()
	return lf.b.Bytes()
}

// MaxSize returns the max size, in bytes, that the log file is allowed to be.
func (lf *LogFile) MaxSize() int { return int(lf.b.Size()) }

// Size returns the number of bytes currently held by the log file.
func (lf *LogFile) Size() int {
	lf.mux.Lock()
	defer lf.mux.Unlock()
	return len(lf.b.Bytes())
}
