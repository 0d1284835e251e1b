package rpc

import (
	"encoding/json"
	"fmt"
)

// Codec marshals plain Go request and response structs as JSON. It is
// registered under the name "json" so both handlers and clients speak
// application/json on the wire.
type Codec struct{}

// Name implements connect.Codec
func (Codec) Name() string { return "json" }

// Marshal implements connect.Codec
func (Codec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", v, err)
	}
	return data, nil
}

// Unmarshal implements connect.Codec. An empty body decodes to the zero message.
func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %T: %w", v, err)
	}
	return nil
}
