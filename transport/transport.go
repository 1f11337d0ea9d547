// Package transport abstracts the persistent bidirectional message channel
// between a client and the relay.
//
// Ownership boundary:
// - Conn/Dialer/Handler contract consumed by the protocol engine
// - the websocket implementation used in production
//
// Framing and encryption are the transport's concern; the protocol engine
// only sees whole messages.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport: connection closed")

// Handler receives connection events. HandleMessage is called once per
// inbound message, sequentially, from the connection's read pump.
// HandleClose fires once when the connection drops, for any reason.
type Handler interface {
	HandleMessage(data []byte)
	HandleClose(err error)
}

// Conn is one live message channel. Send is safe for concurrent use.
type Conn interface {
	Send(data []byte) error
	Close() error
}

// Dialer opens a Conn against a relay endpoint. A successful Dial means the
// channel is open; the engine sends its verification immediately after.
type Dialer interface {
	Dial(ctx context.Context, url string, h Handler) (Conn, error)
}
