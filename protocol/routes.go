package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Routes is the envelope route field: a request target route name, or an
// inform destination list. The wire shape is a bare string for a single
// entry and an array otherwise; decode accepts both.
type Routes []string

// Route builds a single-entry Routes value.
func Route(name string) Routes {
	return Routes{name}
}

// First returns the first entry, or "" when empty.
func (r Routes) First() string {
	if len(r) == 0 {
		return ""
	}
	return r[0]
}

func (r Routes) MarshalJSON() ([]byte, error) {
	if len(r) == 1 {
		return json.Marshal(r[0])
	}
	return json.Marshal([]string(r))
}

func (r *Routes) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = nil
		return nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRoute, err)
		}
		*r = Routes{s}
		return nil
	case '[':
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRoute, err)
		}
		*r = Routes(list)
		return nil
	default:
		return fmt.Errorf("%w: route must be a string or a string list", ErrInvalidRoute)
	}
}
