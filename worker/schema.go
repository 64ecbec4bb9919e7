////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file.                                                              //
////////////////////////////////////////////////////////////////////////////////

package worker

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// messageSchemaURL is the location the wire schema is registered under in the
// compiler. It is never fetched.
const messageSchemaURL = "https://transcrobes.invalid/schema/worker-message.json"

// messageSchemaJSON describes a well-formed Message. A reply must carry a
// non-zero id and must not carry both a value and an error.
const messageSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "id"],
  "properties": {
    "type":     {"type": "string", "minLength": 1},
    "source":   {"type": "string"},
    "id":       {"type": "integer", "minimum": 0},
    "response": {"type": "boolean"},
    "error":    {"type": "string"}
  },
  "if": {
    "properties": {"response": {"const": true}},
    "required": ["response"]
  },
  "then": {
    "properties": {"id": {"minimum": 1}},
    "not": {"required": ["value", "error"]}
  }
}`

var (
	messageSchema     *jsonschema.Schema
	messageSchemaErr  error
	messageSchemaOnce sync.Once
)

// compiledMessageSchema compiles the wire schema once.
func compiledMessageSchema() (*jsonschema.Schema, error) {
	messageSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(messageSchemaJSON))
		if err != nil {
			messageSchemaErr = errors.Wrap(err, "failed to parse message schema")
			return
		}
		c := jsonschema.NewCompiler()
		if err = c.AddResource(messageSchemaURL, doc); err != nil {
			messageSchemaErr = errors.Wrap(err, "failed to add message schema")
			return
		}
		messageSchema, messageSchemaErr = c.Compile(messageSchemaURL)
	})
	return messageSchema, messageSchemaErr
}

// decodeMessage parses and validates a message received on a port. When the
// payload is JSON but violates the schema, the returned message still holds
// whatever fields could be decoded so that a pending request with a matching ID
// can be rejected instead of left hanging.
func decodeMessage(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		// Try to salvage the correlation token from a structurally odd reply
		var partial struct {
			ID       uint64 `json:"id"`
			Type     Tag    `json:"type"`
			Response bool   `json:"response"`
		}
		if json.Unmarshal(data, &partial) == nil {
			msg = Message{
				Type: partial.Type, ID: partial.ID, Response: partial.Response}
		}
		return msg, errors.Wrap(err, "could not unmarshal message")
	}

	sch, err := compiledMessageSchema()
	if err != nil {
		return msg, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return msg, errors.Wrap(err, "could not parse message for validation")
	}
	if err = sch.Validate(inst); err != nil {
		return msg, errors.Wrap(err, "message does not match wire schema")
	}

	return msg, nil
}
