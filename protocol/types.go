package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType is the envelope kind with its integer wire code.
type MessageType int

const (
	MsgSuccess MessageType = iota
	MsgVerification
	MsgRequest
	MsgResponse
	MsgError
	MsgPing
	MsgInformation
	MsgFunctionCall
)

// Valid reports whether t is one of the eight wire codes.
func (t MessageType) Valid() bool {
	return t >= MsgSuccess && t <= MsgFunctionCall
}

func (t MessageType) String() string {
	switch t {
	case MsgSuccess:
		return "success"
	case MsgVerification:
		return "verification"
	case MsgRequest:
		return "request"
	case MsgResponse:
		return "response"
	case MsgError:
		return "error"
	case MsgPing:
		return "ping"
	case MsgInformation:
		return "information"
	case MsgFunctionCall:
		return "function_call"
	default:
		return fmt.Sprintf("message_type(%d)", int(t))
	}
}

func (t MessageType) MarshalJSON() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownMessageType, int(t))
	}
	return json.Marshal(int(t))
}

func (t *MessageType) UnmarshalJSON(data []byte) error {
	var code int
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownMessageType, err)
	}
	v := MessageType(code)
	if !v.Valid() {
		return fmt.Errorf("%w: %d", ErrUnknownMessageType, code)
	}
	*t = v
	return nil
}
