package winerp

import (
	"errors"

	"github.com/shahriyardx/winerp-go/protocol/authstate"
)

// Guard errors raised before any network I/O when the client is not allowed
// to transmit. Re-exported so callers need only this package.
var (
	ErrNotAuthorized = authstate.ErrNotAuthorized
	ErrOnHold        = authstate.ErrOnHold
)

var (
	ErrRequestTimedOut  = errors.New("winerp: request timed out")
	ErrRemote           = errors.New("winerp: remote error")
	ErrConnectionClosed = errors.New("winerp: connection closed")
	ErrAlreadyConnected = errors.New("winerp: already connected")
)
