// Package winerp implements the client side of the Winerp RPC protocol: one
// persistent relay connection per client, one-way informs to named peers,
// correlated request/response round trips with timeouts, and route handlers
// answering inbound requests.
//
// A Client never reconnects. When the transport drops, the client lands in
// the Disconnected state and stays there; callers detect this through State
// and construct a new Client.
package winerp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/shahriyardx/winerp-go/internal/observability"
	"github.com/shahriyardx/winerp-go/internal/pending"
	"github.com/shahriyardx/winerp-go/internal/routes"
	"github.com/shahriyardx/winerp-go/protocol"
	"github.com/shahriyardx/winerp-go/protocol/authstate"
	"github.com/shahriyardx/winerp-go/transport"
)

// Handler answers one inbound request addressed to a registered route.
type Handler func(ctx context.Context, data protocol.Payload) (protocol.Payload, error)

// Client is one named peer on the relay. It owns exactly one transport
// connection; connections are never shared across Client instances.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	dialer transport.Dialer

	auth    *authstate.Machine
	pending *pending.Registry
	routes  *routes.Table

	mu   sync.Mutex
	conn transport.Conn
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().Str("peer", cfg.Name).Logger()

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &transport.WebsocketDialer{}
	}

	return &Client{
		cfg:     cfg,
		log:     logger,
		dialer:  dialer,
		auth:    authstate.NewMachine(),
		pending: pending.NewRegistry(),
		routes:  routes.NewTable(cfg.Name, logger),
	}, nil
}

// Connect dials the relay and sends the verification envelope. It returns
// once the transport is up; authorization completes asynchronously when the
// relay answers Success. Use WaitAuthorized to block on that.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	c.auth.ConnectStarted()
	conn, err := c.dialer.Dial(ctx, c.cfg.url(), connEvents{c})
	if err != nil {
		c.auth.ConnectionClosed()
		return fmt.Errorf("winerp: dial relay: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	env := c.auth.BeginVerification(c.cfg.Name)
	if err := c.send(env); err != nil {
		_ = conn.Close()
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
		c.auth.ConnectionClosed()
		return err
	}
	c.log.Info().Str("relay", c.cfg.url()).Msg("connected, awaiting verification")
	return nil
}

// WaitAuthorized blocks until the relay accepts this client's name.
func (c *Client) WaitAuthorized(ctx context.Context) error {
	return c.auth.WaitAuthorized(ctx)
}

// RegisterRoute inserts or overwrites the handler for name. Entries persist
// for the client's lifetime; registration is valid at any time relative to
// connection state.
func (c *Client) RegisterRoute(name string, h Handler) {
	c.routes.Register(name, routes.Handler(h))
}

// Request issues a correlated request to exactly one peer and waits for the
// matching response, a remote error, the timeout, or ctx cancellation,
// whichever comes first. Exactly one of those resolves the call.
func (c *Client) Request(ctx context.Context, opts RequestOptions) (protocol.Payload, error) {
	if err := opts.Validate(); err != nil {
		return protocol.Payload{}, err
	}
	if err := c.auth.Guard(); err != nil {
		return protocol.Payload{}, err
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	env := protocol.Envelope{
		ID:          c.cfg.Name,
		Type:        protocol.MsgRequest,
		Route:       protocol.Route(opts.Route),
		Data:        opts.Data,
		UUID:        uuid.NewString(),
		Destination: opts.Destination,
	}
	out := c.roundTrip(ctx, env, timeout)
	return out.Data, out.Err
}

// Ping measures the round-trip latency to a peer. Subject to the same
// outbound gate as Request.
func (c *Client) Ping(ctx context.Context, destination string) (time.Duration, error) {
	if destination == "" {
		return 0, ErrDestinationRequired
	}
	if err := c.auth.Guard(); err != nil {
		return 0, err
	}
	env := protocol.Envelope{
		ID:          c.cfg.Name,
		Type:        protocol.MsgPing,
		UUID:        uuid.NewString(),
		Destination: destination,
	}
	start := time.Now()
	out := c.roundTrip(ctx, env, DefaultRequestTimeout)
	if out.Err != nil {
		return 0, out.Err
	}
	return time.Since(start), nil
}

// Inform sends a one-way broadcast to the named destinations. No response is
// expected and the call never suspends on the network round trip.
func (c *Client) Inform(opts InformOptions) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	if err := c.auth.Guard(); err != nil {
		return err
	}
	env := protocol.Envelope{
		ID:    c.cfg.Name,
		Type:  protocol.MsgInformation,
		Route: protocol.Routes(opts.destinations()),
		Data:  opts.Data,
	}
	return c.send(env)
}

// State reports the authorization phase; Disconnected after the transport
// drops.
func (c *Client) State() authstate.State {
	return c.auth.State()
}

func (c *Client) Authorized() bool {
	return c.auth.Authorized()
}

func (c *Client) OnHold() bool {
	return c.auth.OnHold()
}

// Close tears down the transport. All in-flight requests fail with
// ErrConnectionClosed.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	err := conn.Close()
	c.auth.ConnectionClosed()
	c.pending.FailAll(ErrConnectionClosed)
	return err
}

func (c *Client) roundTrip(ctx context.Context, env protocol.Envelope, timeout time.Duration) pending.Outcome {
	start := time.Now()
	observability.RequestStarted(c.cfg.Name)
	defer observability.RequestFinished(c.cfg.Name)

	ch := c.pending.Add(env.UUID)
	if err := c.send(env); err != nil {
		c.pending.Remove(env.UUID)
		observability.RecordRequest(c.cfg.Name, "send_error", time.Since(start))
		return pending.Outcome{Err: err}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var out pending.Outcome
	select {
	case out = <-ch:
	case <-timer.C:
		// Resolve races the read pump; the loser's delivery is already
		// buffered, so the receive below never blocks.
		c.pending.Resolve(env.UUID, pending.Outcome{Err: ErrRequestTimedOut})
		out = <-ch
	case <-ctx.Done():
		c.pending.Resolve(env.UUID, pending.Outcome{Err: ctx.Err()})
		out = <-ch
	}
	observability.RecordRequest(c.cfg.Name, outcomeLabel(out.Err), time.Since(start))
	return out
}

func (c *Client) send(env protocol.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrConnectionClosed
	}
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}
	if err := conn.Send(data); err != nil {
		return fmt.Errorf("winerp: send %s envelope: %w", env.Type, err)
	}
	observability.RecordEnvelopeSent(c.cfg.Name, env.Type.String())
	return nil
}

func (c *Client) handleMessage(data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		observability.RecordMalformedEnvelope(c.cfg.Name)
		c.log.Warn().Err(err).Msg("dropping malformed envelope")
		return
	}
	observability.RecordEnvelopeReceived(c.cfg.Name, env.Type.String())

	switch env.Type {
	case protocol.MsgSuccess:
		c.auth.HandleSuccess()
		c.log.Info().Msg("authorized by relay")
	case protocol.MsgError:
		c.handleError(env)
	case protocol.MsgResponse:
		if env.UUID == "" || !c.pending.Resolve(env.UUID, pending.Outcome{Data: env.Data}) {
			c.log.Debug().Str("uuid", env.UUID).Msg("response without a pending request")
		}
	case protocol.MsgPing:
		c.handlePing(env)
	case protocol.MsgRequest:
		reply := c.routes.Dispatch(context.Background(), env)
		if err := c.send(reply); err != nil {
			c.log.Warn().Err(err).Str("uuid", env.UUID).Msg("failed to answer request")
		}
	case protocol.MsgInformation:
		if c.cfg.OnInform != nil {
			c.cfg.OnInform(env)
			return
		}
		c.log.Debug().Str("from", env.ID).Msg("inform dropped, no OnInform callback")
	case protocol.MsgVerification:
		c.log.Debug().Str("from", env.ID).Msg("unexpected verification envelope")
	case protocol.MsgFunctionCall:
		// Wire code reserved; invocation semantics are not supported.
		c.log.Debug().Str("from", env.ID).Msg("function_call envelope ignored")
	}
}

func (c *Client) handleError(env protocol.Envelope) {
	if env.Data.IsString() && env.Data.Text() == authstate.AlreadyAuthorizedData {
		c.auth.Hold()
		c.log.Warn().Msg("local name already connected, client on hold")
		return
	}
	if env.UUID != "" {
		outcome := pending.Outcome{Err: fmt.Errorf("%w: %s", ErrRemote, remoteErrorText(env))}
		if c.pending.Resolve(env.UUID, outcome) {
			return
		}
	}
	c.log.Warn().Str("uuid", env.UUID).Str("traceback", env.Traceback).Msg("unmatched error envelope")
}

func (c *Client) handlePing(env protocol.Envelope) {
	if env.UUID != "" && c.pending.Resolve(env.UUID, pending.Outcome{Data: env.Data}) {
		return
	}
	reply := protocol.Envelope{
		ID:          c.cfg.Name,
		Type:        protocol.MsgPing,
		UUID:        env.UUID,
		Destination: env.ID,
	}
	if err := c.send(reply); err != nil {
		c.log.Warn().Err(err).Msg("failed to answer ping")
	}
}

func (c *Client) handleClose(err error) {
	c.mu.Lock()
	hadConn := c.conn != nil
	c.conn = nil
	c.mu.Unlock()

	c.auth.ConnectionClosed()
	c.pending.FailAll(ErrConnectionClosed)
	if hadConn {
		c.log.Info().Err(err).Msg("relay connection closed")
	}
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRequestTimedOut):
		return "timeout"
	case errors.Is(err, ErrRemote):
		return "remote_error"
	case errors.Is(err, ErrConnectionClosed):
		return "closed"
	default:
		return "canceled"
	}
}

func remoteErrorText(env protocol.Envelope) string {
	if env.Data.IsString() && env.Data.Text() != "" {
		return env.Data.Text()
	}
	if env.Traceback != "" {
		return env.Traceback
	}
	return "unspecified"
}

// connEvents adapts the transport callbacks onto the client.
type connEvents struct {
	c *Client
}

func (e connEvents) HandleMessage(data []byte) { e.c.handleMessage(data) }
func (e connEvents) HandleClose(err error)     { e.c.handleClose(err) }
