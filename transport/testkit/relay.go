// Package testkit provides an in-memory relay fabric standing in for the
// real Winerp server during tests.
//
// The fabric understands just enough of the protocol to authorize peers and
// forward envelopes between them: verification earns a Success (or an
// "Already authorized." error for a duplicate name), request/response/error/
// ping envelopes follow their destination field, and information envelopes
// fan out to every name in the route list. Everything the relay accepts is
// recorded for wire-level assertions.
package testkit

import (
	"context"
	"sync"

	"github.com/shahriyardx/winerp-go/protocol"
	"github.com/shahriyardx/winerp-go/transport"
)

// Relay is the fabric hub. Zero configuration; peers attach through Dialer.
type Relay struct {
	mu               sync.Mutex
	conns            []*fabricConn
	peers            map[string]*fabricConn
	holdVerification bool
	history          []protocol.Envelope
}

func NewRelay() *Relay {
	return &Relay{
		peers: make(map[string]*fabricConn),
	}
}

// Dialer returns a transport.Dialer attaching new connections to the fabric.
// The url argument is accepted and ignored.
func (r *Relay) Dialer() transport.Dialer {
	return &fabricDialer{relay: r}
}

// HoldVerification makes the relay sit on verification envelopes instead of
// answering Success, keeping clients in the awaiting-verification state
// until Authorize is called.
func (r *Relay) HoldVerification(hold bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.holdVerification = hold
}

// Authorize sends a fresh Success to the most recent connection that claimed
// name, registering it as the owner.
func (r *Relay) Authorize(name string) {
	r.mu.Lock()
	var target *fabricConn
	for _, c := range r.conns {
		if c.claimedName == name {
			target = c
		}
	}
	if target != nil {
		r.peers[name] = target
	}
	r.mu.Unlock()
	if target != nil {
		target.deliver(mustEncode(protocol.Envelope{Type: protocol.MsgSuccess}))
	}
}

// History returns a copy of every envelope the relay has accepted, in order.
func (r *Relay) History() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Envelope, len(r.history))
	copy(out, r.history)
	return out
}

// CountByType reports how many accepted envelopes carried the given type.
func (r *Relay) CountByType(t protocol.MessageType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for _, env := range r.history {
		if env.Type == t {
			n++
		}
	}
	return n
}

func (r *Relay) receive(c *fabricConn, data []byte) {
	env, err := protocol.Decode(data)
	if err != nil {
		return
	}

	r.mu.Lock()
	r.history = append(r.history, env)

	var deliveries []delivery
	switch env.Type {
	case protocol.MsgVerification:
		deliveries = r.verifyLocked(c, env)
	case protocol.MsgRequest, protocol.MsgResponse, protocol.MsgError, protocol.MsgPing:
		if target, ok := r.peers[env.Destination]; ok {
			deliveries = append(deliveries, delivery{conn: target, data: data})
		}
	case protocol.MsgInformation:
		for _, name := range env.Route {
			if target, ok := r.peers[name]; ok && target != c {
				deliveries = append(deliveries, delivery{conn: target, data: data})
			}
		}
	case protocol.MsgSuccess, protocol.MsgFunctionCall:
		// Clients never originate these; drop.
	}
	r.mu.Unlock()

	for _, d := range deliveries {
		d.conn.deliver(d.data)
	}
}

func (r *Relay) verifyLocked(c *fabricConn, env protocol.Envelope) []delivery {
	c.claimedName = env.ID
	if owner, taken := r.peers[env.ID]; taken && owner != c {
		reply := protocol.Envelope{
			Type:        protocol.MsgError,
			Data:        protocol.StringPayload("Already authorized."),
			UUID:        env.UUID,
			Destination: env.ID,
		}
		return []delivery{{conn: c, data: mustEncode(reply)}}
	}
	r.peers[env.ID] = c
	if r.holdVerification {
		return nil
	}
	return []delivery{{conn: c, data: mustEncode(protocol.Envelope{Type: protocol.MsgSuccess, UUID: env.UUID})}}
}

func (r *Relay) detach(c *fabricConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, other := range r.conns {
		if other == c {
			r.conns = append(r.conns[:i], r.conns[i+1:]...)
			break
		}
	}
	if owner, ok := r.peers[c.claimedName]; ok && owner == c {
		delete(r.peers, c.claimedName)
	}
}

type delivery struct {
	conn *fabricConn
	data []byte
}

type fabricDialer struct {
	relay *Relay
}

func (d *fabricDialer) Dial(ctx context.Context, url string, h transport.Handler) (transport.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &fabricConn{
		relay:   d.relay,
		handler: h,
		inbox:   make(chan []byte, 64),
		done:    make(chan struct{}),
	}
	d.relay.mu.Lock()
	d.relay.conns = append(d.relay.conns, c)
	d.relay.mu.Unlock()
	go c.pump()
	return c, nil
}

// fabricConn delivers inbound messages through a single pump goroutine so
// ordering matches a real socket.
type fabricConn struct {
	relay       *Relay
	handler     transport.Handler
	claimedName string
	inbox       chan []byte
	closeOnce   sync.Once
	done        chan struct{}
}

func (c *fabricConn) Send(data []byte) error {
	select {
	case <-c.done:
		return transport.ErrClosed
	default:
	}
	// Copy so callers may reuse their buffer.
	buf := make([]byte, len(data))
	copy(buf, data)
	c.relay.receive(c, buf)
	return nil
}

func (c *fabricConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.relay.detach(c)
	})
	return nil
}

func (c *fabricConn) deliver(data []byte) {
	select {
	case c.inbox <- data:
	case <-c.done:
	}
}

func (c *fabricConn) pump() {
	for {
		select {
		case data := <-c.inbox:
			c.handler.HandleMessage(data)
		case <-c.done:
			c.handler.HandleClose(transport.ErrClosed)
			return
		}
	}
}

func mustEncode(env protocol.Envelope) []byte {
	data, err := protocol.Encode(env)
	if err != nil {
		panic(err)
	}
	return data
}
