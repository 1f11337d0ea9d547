package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Payload is the envelope data field: either a plain string or a keyed
// mapping. The zero value behaves as an empty mapping, which is also what an
// absent or null wire value decodes to.
type Payload struct {
	str      string
	obj      map[string]any
	isString bool
}

// StringPayload wraps a plain-string payload.
func StringPayload(s string) Payload {
	return Payload{str: s, isString: true}
}

// ObjectPayload wraps a structured payload. A nil map is treated as empty.
func ObjectPayload(m map[string]any) Payload {
	return Payload{obj: m}
}

// EmptyPayload returns the default empty-mapping payload.
func EmptyPayload() Payload {
	return Payload{}
}

// IsString reports whether the payload carries a plain string.
func (p Payload) IsString() bool {
	return p.isString
}

// Text returns the string form, or "" for structured payloads.
func (p Payload) Text() string {
	return p.str
}

// Object returns the structured form. Never nil; string payloads yield an
// empty map.
func (p Payload) Object() map[string]any {
	if p.isString || p.obj == nil {
		return map[string]any{}
	}
	return p.obj
}

// IsEmpty reports whether the payload is the empty mapping or empty string.
func (p Payload) IsEmpty() bool {
	if p.isString {
		return p.str == ""
	}
	return len(p.obj) == 0
}

func (p Payload) MarshalJSON() ([]byte, error) {
	if p.isString {
		return json.Marshal(p.str)
	}
	if p.obj == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.obj)
}

func (p *Payload) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = Payload{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		*p = StringPayload(s)
		return nil
	case '{':
		var m map[string]any
		if err := json.Unmarshal(trimmed, &m); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		*p = ObjectPayload(m)
		return nil
	default:
		return fmt.Errorf("%w: data must be a string or an object", ErrInvalidPayload)
	}
}
