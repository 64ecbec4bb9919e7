////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrorKind classifies why a request failed.
type ErrorKind int

const (
	// ProtocolError means the reply did not have the expected shape. It is
	// never retried.
	ProtocolError ErrorKind = iota + 1

	// WorkerError means the worker reported that the operation failed. The
	// worker's description is kept verbatim in Error.Msg.
	WorkerError

	// SessionSuperseded means the request belonged to a session that was torn
	// down because a different identity was initialised.
	SessionSuperseded

	// Timeout means no reply arrived within the allowed time.
	Timeout

	// Closed means the manager was stopped while the request was pending.
	Closed
)

// String returns the name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case ProtocolError:
		return "ProtocolError"
	case WorkerError:
		return "WorkerError"
	case SessionSuperseded:
		return "SessionSuperseded"
	case Timeout:
		return "Timeout"
	case Closed:
		return "Closed"
	default:
		return fmt.Sprintf("INVALID ERROR KIND %d", int(k))
	}
}

// Error is returned for every failed request. Tag and ID identify the request
// when known.
type Error struct {
	Kind ErrorKind
	Tag  Tag
	ID   uint64
	Msg  string
}

// Error returns the error text. For a WorkerError this is the worker's own
// description.
func (e *Error) Error() string {
	if e.Kind == WorkerError {
		return e.Msg
	}
	if e.Tag == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("%s for %q (ID %d): %s", e.Kind, e.Tag, e.ID, e.Msg)
}

// Is reports whether the target is an *Error of the same kind, so that
// errors.Is(err, &Error{Kind: Timeout}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// IsKind returns true if any error in the chain is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

func newError(kind ErrorKind, tag Tag, id uint64, format string, a ...any) *Error {
	return &Error{Kind: kind, Tag: tag, ID: id, Msg: fmt.Sprintf(format, a...)}
}
