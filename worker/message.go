////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"encoding/json"
)

// Message is the outer message that contains the contents of each message sent
// to or from the worker. It is transmitted as JSON.
//
// Type, Source and Value form the logical envelope. ID is the correlation token
// assigned by the sender; it is zero when no reply is expected. A reply carries
// the ID of the request it answers, has Response set, and either a Value or a
// non-empty Error.
type Message struct {
	Type     Tag             `json:"type"`
	Source   string          `json:"source,omitempty"`
	ID       uint64          `json:"id"`
	Response bool            `json:"response"`
	Error    string          `json:"error,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// newRequest builds the request message for the given envelope fields. The
// value is marshalled here so that later changes by the caller are not seen on
// the wire.
func newRequest(tag Tag, source string, id uint64, value any) (Message, error) {
	msg := Message{
		Type:   tag,
		Source: source,
		ID:     id,
	}
	if value != nil {
		data, err := marshalValue(value)
		if err != nil {
			return Message{}, err
		}
		msg.Value = data
	}
	return msg, nil
}

// marshalValue JSON encodes the value unless it is already raw JSON.
func marshalValue(value any) (json.RawMessage, error) {
	if raw, ok := value.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(value)
}
