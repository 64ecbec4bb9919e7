////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import "time"

// Params are parameters used in the [MessageManager].
type Params struct {
	// MessageLogging indicates if a DEBUG message should be printed every time
	// a message is sent or received.
	MessageLogging bool

	// ResponseTimeout is the default timeout to wait for a response before
	// timing out and returning an error. Zero waits forever.
	ResponseTimeout time.Duration

	// ReadyTimeout is how long to wait for the worker to signal that it is
	// ready. Zero waits until the context is done.
	ReadyTimeout time.Duration

	// MaxInFlight is the maximum number of requests awaiting a reply at once.
	// Further sends block until a slot frees up. Zero means no limit.
	MaxInFlight int
}

// DefaultParams returns the default parameters.
func DefaultParams() Params {
	return Params{
		MessageLogging:  false,
		ResponseTimeout: 30 * time.Second,
		ReadyTimeout:    30 * time.Second,
		MaxInFlight:     256,
	}
}
