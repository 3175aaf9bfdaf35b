package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoPayload is returned by Decode when the frame carried no data.
var ErrNoPayload = errors.New("protocol: frame has no data")

type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope encodes v as the data of an event frame.
func NewEnvelope(eventType string, v any) (*Envelope, error) {
	if v == nil {
		return &Envelope{Type: eventType}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return &Envelope{Type: eventType, Data: data}, nil
}

// ParseEnvelope decodes one socket frame.
func ParseEnvelope(frame []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Type == "" {
		return nil, errors.New("malformed frame: missing type")
	}
	return &env, nil
}

// Decode unmarshals the frame data into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 || string(e.Data) == "null" {
		return ErrNoPayload
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("invalid %s payload: %w", e.Type, err)
	}
	return nil
}
