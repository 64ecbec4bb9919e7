////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

// Package proxy is the only component that talks to the background worker. It
// wraps a [worker.MessageManager] with identity-scoped sessions so that the
// requests of a previous user are rejected when another user is initialised.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/worker"
)

// proxySource is the source set on messages the proxy sends on its own behalf.
const proxySource = "proxy"

// InitialiseMessage is JSON marshalled and sent to the worker to provision the
// offline store of an identity.
type InitialiseMessage struct {
	Username string `json:"username"`
}

// Proxy sends envelopes to the background worker. It is constructed once at
// startup and passed to every component that needs the worker; Close is its
// teardown hook.
type Proxy struct {
	mm *worker.MessageManager

	// session is the session new requests are bound to.
	session *Session

	mux sync.Mutex
}

// New wraps the MessageManager. The manager must already have completed its
// ready handshake (see [worker.NewMessageManager]).
func New(mm *worker.MessageManager) *Proxy {
	return &Proxy{
		mm:      mm,
		session: newAnonymousSession(),
	}
}

// Connect performs the ready handshake with the worker on the port and returns
// a new Proxy.
func Connect(ctx context.Context, port worker.Port, name string,
	params worker.Params) (*Proxy, error) {
	mm, err := worker.NewMessageManager(ctx, port, name, params)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to worker %s", name)
	}
	return New(mm), nil
}

// SendMessage sends the envelope and waits for the reply. The request is bound
// to the current session; if that session is superseded or the proxy is closed
// before the reply arrives, it is rejected with the corresponding
// [worker.Error] kind.
func (p *Proxy) SendMessage(
	ctx context.Context, env Envelope) (json.RawMessage, error) {
	s := p.bind()
	if s == nil {
		return nil, &worker.Error{
			Kind: worker.Closed, Tag: env.Type, Msg: "proxy is closed"}
	}
	defer s.requests.Done()

	return p.sendBound(ctx, s, env)
}

// sendBound sends the envelope on behalf of the session. The caller must have
// counted the request in s.requests.
func (p *Proxy) sendBound(
	ctx context.Context, s *Session, env Envelope) (json.RawMessage, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	stop := context.AfterFunc(s.ctx, func() { cancel(context.Cause(s.ctx)) })
	defer stop()

	return p.mm.Send(ctx, env.Type, env.Source, env.Value)
}

// bind returns the current session with the request counted, or nil if the
// proxy is closed.
func (p *Proxy) bind() *Session {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.session == nil {
		return nil
	}
	p.session.requests.Add(1)
	return p.session
}

// Init establishes or resumes the session scoped to the identity and returns it
// once the worker has provisioned the identity's offline store.
//
// Calling Init again with the same identity returns the same session without
// sending another provisioning request; if provisioning is still running it
// waits for it. Calling Init with a different identity first rejects every
// request pending on the previous session with a SessionSuperseded error and
// waits for them to return, then provisions the new identity. A failed session
// is provisioned again on the next call.
func (p *Proxy) Init(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, errors.New("cannot initialise a session without an identity")
	}

	p.mux.Lock()
	cur := p.session
	if cur == nil {
		p.mux.Unlock()
		return nil, &worker.Error{
			Kind: worker.Closed, Tag: worker.InitialiseTag, Msg: "proxy is closed"}
	}
	if cur.identity == identity && (cur.Err() == nil) && cur.ctx.Err() == nil {
		p.mux.Unlock()
		jww.DEBUG.Printf("[PROXY] Resuming session for %q.", identity)
		return cur.wait(ctx)
	}

	s := newSession(identity)
	// The provisioning request is counted before the session is published so
	// that a superseding Init waits for it.
	s.requests.Add(1)
	p.session = s
	p.mux.Unlock()

	if cur.identity != "" {
		jww.INFO.Printf("[PROXY] Session for %q superseded by %q.",
			cur.identity, identity)
		cur.teardown(worker.SessionSuperseded,
			fmt.Sprintf("session for %q superseded by %q", cur.identity, identity))
	}

	go p.provision(s)

	return s.wait(ctx)
}

// provision asks the worker to provision the session's identity. It runs under
// the session's own context so that a caller giving up on Init does not abort
// provisioning for other callers.
func (p *Proxy) provision(s *Session) {
	defer s.requests.Done()

	jww.INFO.Printf("[PROXY] Provisioning offline store for %q.", s.identity)
	_, err := p.sendBound(context.Background(), s, Envelope{
		Source: proxySource,
		Type:   worker.InitialiseTag,
		Value:  InitialiseMessage{Username: s.identity},
	})
	if err != nil {
		jww.ERROR.Printf("[PROXY] Failed to provision offline store for %q: %+v",
			s.identity, err)
		s.finish(err)
		return
	}

	jww.INFO.Printf("[PROXY] Offline store for %q is ready.", s.identity)
	s.finish(nil)
}

// Identity returns the identity of the current session. It is empty before Init
// and after Logout.
func (p *Proxy) Identity() string {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.session == nil {
		return ""
	}
	return p.session.identity
}

// Ready returns true if the current session is scoped to an identity and has
// been provisioned.
func (p *Proxy) Ready() bool {
	p.mux.Lock()
	defer p.mux.Unlock()
	return p.session != nil && p.session.identity != "" && p.session.Ready()
}

// endSession replaces the current session with the given one (nil when
// closing) and tears the old one down. A closed proxy stays closed.
func (p *Proxy) endSession(next *Session, kind worker.ErrorKind, msg string) {
	p.mux.Lock()
	cur := p.session
	if cur == nil {
		p.mux.Unlock()
		return
	}
	p.session = next
	p.mux.Unlock()

	cur.teardown(kind, msg)
}

// Close is the teardown hook of the proxy. Every pending request is rejected
// with a Closed error, then the message manager and its port are stopped.
func (p *Proxy) Close() {
	p.endSession(nil, worker.Closed, "proxy closed")
	p.mm.Stop()
}

// Done returns a channel that is closed when the connection to the worker is
// gone.
func (p *Proxy) Done() <-chan struct{} {
	return p.mm.Done()
}

// OnBroadcast registers a callback for unsolicited messages of the given type.
func (p *Proxy) OnBroadcast(tag worker.Tag, cb worker.ReceiverCallback) {
	p.mm.RegisterCallback(tag, cb)
}
