// Package routes maps route names to handlers and answers inbound request
// envelopes.
package routes

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/shahriyardx/winerp-go/internal/observability"
	"github.com/shahriyardx/winerp-go/protocol"
)

// Wire-literal error payloads sent back to the requester.
const (
	RouteNotFoundData       = "Route not found"
	InternalServerErrorData = "Internal Server Error"
)

// Handler answers one inbound request. The returned payload becomes the
// response data; a non-nil error is converted to a wire error envelope and
// never propagates further.
type Handler func(ctx context.Context, data protocol.Payload) (protocol.Payload, error)

// Table is the insert-only route registry for one client. Entries persist
// for the client's lifetime; re-registering a name overwrites it.
type Table struct {
	localName string
	log       zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewTable(localName string, log zerolog.Logger) *Table {
	return &Table{
		localName: localName,
		log:       log.With().Str("component", "routes").Logger(),
		handlers:  make(map[string]Handler),
	}
}

// Register inserts or overwrites the handler for name. Callable at any time
// relative to connection state.
func (t *Table) Register(name string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[name] = h
}

// Lookup returns the handler registered under name.
func (t *Table) Lookup(name string) (Handler, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[name]
	return h, ok
}

// Dispatch answers one inbound request envelope and returns the reply to
// send. Unknown routes yield a wire error with the request's correlation id
// echoed so the remote correlator can match it; the same echo applies to
// success responses and handler failures. The handler runs on the caller's
// goroutine, so a slow handler delays subsequent inbound envelopes.
func (t *Table) Dispatch(ctx context.Context, req protocol.Envelope) protocol.Envelope {
	route := req.Route.First()
	handler, ok := t.Lookup(route)
	if !ok {
		t.log.Warn().Str("route", route).Str("from", req.ID).Msg("route not found")
		observability.RecordDispatch(t.localName, route, "unknown_route")
		return protocol.Envelope{
			ID:          t.localName,
			Type:        protocol.MsgError,
			Data:        protocol.StringPayload(RouteNotFoundData),
			Traceback:   RouteNotFoundData,
			Destination: req.ID,
			UUID:        req.UUID,
		}
	}

	result, err := handler(ctx, req.Data)
	if err != nil {
		t.log.Warn().Str("route", route).Str("from", req.ID).Err(err).Msg("handler failed")
		observability.RecordDispatch(t.localName, route, "handler_error")
		data := err.Error()
		if data == "" {
			data = InternalServerErrorData
		}
		return protocol.Envelope{
			ID:          t.localName,
			Type:        protocol.MsgError,
			Data:        protocol.StringPayload(data),
			Traceback:   data,
			Destination: req.ID,
			UUID:        req.UUID,
		}
	}

	observability.RecordDispatch(t.localName, route, "ok")
	return protocol.Envelope{
		ID:          t.localName,
		Type:        protocol.MsgResponse,
		Data:        result,
		Destination: req.ID,
		UUID:        req.UUID,
	}
}
