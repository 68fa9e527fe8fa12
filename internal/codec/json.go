// Package codec provides the Connect codec used for tabsplit's RPC messages.
//
// Messages are plain Go structs with json tags, so Connect's built-in JSON
// codec (which requires proto.Message) is replaced by one backed by
// encoding/json under the same "json" name. Clients and handlers must both
// be built with connect.WithCodec(codec.JSON{}).
package codec

import (
	"bytes"
	"encoding/json"
	"fmt"

	"connectrpc.com/connect"
)

var _ connect.Codec = JSON{}

// JSON is a connect.Codec for json-tagged structs.
type JSON struct{}

// Name returns the codec name negotiated in the Content-Type header.
func (JSON) Name() string { return "json" }

// Marshal encodes message as JSON.
func (JSON) Marshal(message any) ([]byte, error) {
	data, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal %T: %w", message, err)
	}
	return data, nil
}

// Unmarshal decodes data into message. Unknown fields are rejected so that
// typos in client requests surface as invalid arguments.
func (JSON) Unmarshal(data []byte, message any) error {
	if len(data) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(message); err != nil {
		return fmt.Errorf("unmarshal into %T: %w", message, err)
	}
	return nil
}

// Option returns the connect option that installs the codec on a handler or
// client.
func Option() connect.Option {
	return connect.WithCodec(JSON{})
}
