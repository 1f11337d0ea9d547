package protocol

import "errors"

var (
	ErrMalformedEnvelope  = errors.New("protocol: malformed envelope")
	ErrUnknownMessageType = errors.New("protocol: unknown message type")
	ErrInvalidPayload     = errors.New("protocol: invalid payload shape")
	ErrInvalidRoute       = errors.New("protocol: invalid route shape")
)
