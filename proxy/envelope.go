////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package proxy

import (
	"context"
	"encoding/json"
	"fmt"

	"gitlab.com/transcrobes/offline-proxy/worker"
)

// Envelope is the logical request sent to the worker. Source names the caller
// for tracing, Type selects the worker-side handler and Value is the payload.
// The value is JSON marshalled when the envelope is sent.
type Envelope struct {
	Source string
	Type   worker.Tag
	Value  any
}

// Sender sends one envelope and waits for its reply. It is implemented by
// [Proxy].
type Sender interface {
	SendMessage(ctx context.Context, env Envelope) (json.RawMessage, error)
}

// Send sends the envelope and JSON decodes the reply into T. A reply that does
// not decode into T is a ProtocolError.
func Send[T any](ctx context.Context, s Sender, env Envelope) (T, error) {
	var out T
	raw, err := s.SendMessage(ctx, env)
	if err != nil {
		return out, err
	}

	if err = json.Unmarshal(raw, &out); err != nil {
		return out, &worker.Error{
			Kind: worker.ProtocolError,
			Tag:  env.Type,
			Msg:  fmt.Sprintf("could not decode reply into %T: %v", out, err),
		}
	}
	return out, nil
}
