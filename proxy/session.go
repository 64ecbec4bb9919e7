////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package proxy

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"gitlab.com/transcrobes/offline-proxy/worker"
)

// Session scopes requests to one identity. Every request sent through the
// [Proxy] is bound to the session that was current when it was sent, and is
// rejected if that session is torn down.
type Session struct {
	identity string

	// ctx is cancelled, with a *worker.Error cause, when the session is torn
	// down.
	ctx    context.Context
	cancel context.CancelCauseFunc

	// requests counts requests bound to this session that have not returned.
	requests sync.WaitGroup

	// done is closed once provisioning has finished. err holds its outcome and
	// must only be read after done is closed.
	done chan struct{}
	err  error
}

// newSession returns a session that still has to be provisioned.
func newSession(identity string) *Session {
	ctx, cancel := context.WithCancelCause(context.Background())
	return &Session{
		identity: identity,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// newAnonymousSession returns the session used before any identity has been
// initialised. It needs no provisioning.
func newAnonymousSession() *Session {
	s := newSession("")
	close(s.done)
	return s
}

// Identity returns the identity the session is scoped to. It is empty for the
// anonymous session.
func (s *Session) Identity() string {
	return s.identity
}

// Ready returns true if provisioning finished successfully and the session has
// not been torn down.
func (s *Session) Ready() bool {
	select {
	case <-s.done:
		return s.err == nil && s.ctx.Err() == nil
	default:
		return false
	}
}

// Err returns the provisioning error, or nil if provisioning succeeded or is
// still running.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// finish records the provisioning outcome.
func (s *Session) finish(err error) {
	s.err = err
	close(s.done)
}

// wait blocks until provisioning has finished and returns its outcome.
func (s *Session) wait(ctx context.Context) (*Session, error) {
	select {
	case <-s.done:
		if s.err != nil {
			return nil, s.err
		}
		if cause := context.Cause(s.ctx); cause != nil {
			return nil, cause
		}
		return s, nil
	case <-ctx.Done():
		return nil, errors.Wrapf(ctx.Err(),
			"stopped waiting for session %q to be provisioned", s.identity)
	}
}

// teardown rejects every request bound to the session with an error of the
// given kind and waits for them to return.
func (s *Session) teardown(kind worker.ErrorKind, msg string) {
	s.cancel(&worker.Error{Kind: kind, Msg: msg})
	s.requests.Wait()
}
