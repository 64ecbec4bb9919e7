////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package proxy

import (
	"context"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/transcrobes/offline-proxy/worker"
)

// IsInitialisedMessage is JSON marshalled and sent to the worker to query the
// readiness flag of an identity.
type IsInitialisedMessage struct {
	Username string `json:"username"`
}

// IsInitialised asks the worker whether the offline store of the user has been
// provisioned. The answer is never cached.
func (p *Proxy) IsInitialised(ctx context.Context, username string) (bool, error) {
	return Send[bool](ctx, p, Envelope{
		Source: proxySource,
		Type:   worker.IsInitialisedTag,
		Value:  IsInitialisedMessage{Username: username},
	})
}

// NeedsReload asks the worker whether the foreground must discard its state and
// reload.
func (p *Proxy) NeedsReload(ctx context.Context) (bool, error) {
	return Send[bool](ctx, p, Envelope{
		Source: proxySource,
		Type:   worker.NeedsReloadTag,
	})
}

// ResetDBConnections tells the worker to close its store connections. It does
// not wait for a reply.
func (p *Proxy) ResetDBConnections(ctx context.Context) error {
	err := p.mm.SendNoResponse(
		ctx, worker.ResetDBConnectionsTag, proxySource, nil)
	if err != nil {
		return errors.Wrap(err, "failed to send reset of DB connections")
	}
	return nil
}

// Logout resets the worker's store connections and ends the identified
// session. Requests still pending on it are rejected with SessionSuperseded.
// Later requests use the anonymous session until the next Init.
func (p *Proxy) Logout(ctx context.Context) error {
	identity := p.Identity()
	jww.INFO.Printf("[PROXY] Logging out %q.", identity)

	err := p.ResetDBConnections(ctx)
	p.endSession(newAnonymousSession(), worker.SessionSuperseded,
		"session for "+identity+" ended by logout")
	return err
}
