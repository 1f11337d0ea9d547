package protocol

import (
	"encoding/json"
	"fmt"
)

// Envelope is the single wire message shape exchanged with the relay.
// Every field except Type is optional; Data defaults to an empty mapping.
type Envelope struct {
	ID           string      `json:"id,omitempty"`
	Type         MessageType `json:"type"`
	Route        Routes      `json:"route,omitempty"`
	Data         Payload     `json:"data"`
	UUID         string      `json:"uuid,omitempty"`
	Destination  string      `json:"destination,omitempty"`
	Traceback    string      `json:"traceback,omitempty"`
	PseudoObject any         `json:"pseudo_object,omitempty"`
}

// Encode serializes env to its JSON wire form.
func Encode(env Envelope) ([]byte, error) {
	if !env.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, int(env.Type))
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	return data, nil
}

// Decode parses one inbound wire message. Absent or null data normalizes to
// the empty mapping. Payloads that are not well-formed JSON objects, or whose
// type is outside the eight wire codes, fail with ErrMalformedEnvelope.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	var probe struct {
		Type json.RawMessage `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil || len(probe.Type) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformedEnvelope)
	}
	return env, nil
}
