// Package authstate tracks the relay authorization lifecycle and gates
// outbound traffic.
//
// The machine moves Disconnected -> Connecting -> AwaitingVerification ->
// Authorized, with a parallel on-hold flag raised when the relay reports the
// local name as already taken. There is no automatic recovery: a closed
// transport drops the machine back to Disconnected and it stays there.
package authstate

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/shahriyardx/winerp-go/protocol"
)

// AlreadyAuthorizedData is the relay's literal error payload for a duplicate
// local name.
const AlreadyAuthorizedData = "Already authorized."

var (
	ErrNotAuthorized = errors.New("authstate: not authorized")
	ErrOnHold        = errors.New("authstate: on hold, local name already connected")
)

// State is the connection authorization phase.
type State int

const (
	Disconnected State = iota
	Connecting
	AwaitingVerification
	Authorized
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingVerification:
		return "awaiting_verification"
	case Authorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Machine is the mutex-guarded authorization state shared between the
// connection read pump and outbound callers.
type Machine struct {
	mu         sync.Mutex
	state      State
	onHold     bool
	authorized chan struct{}
}

func NewMachine() *Machine {
	return &Machine{
		authorized: make(chan struct{}),
	}
}

// ConnectStarted marks the transport dial in progress.
func (m *Machine) ConnectStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Connecting
}

// BeginVerification builds the verification envelope for the freshly opened
// transport and moves the machine to AwaitingVerification. The envelope
// carries the local name and a new correlation id.
func (m *Machine) BeginVerification(localName string) protocol.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = AwaitingVerification
	return protocol.Envelope{
		ID:   localName,
		Type: protocol.MsgVerification,
		UUID: uuid.NewString(),
	}
}

// HandleSuccess records relay authorization: the machine becomes Authorized,
// any on-hold condition clears, and WaitAuthorized callers are released.
func (m *Machine) HandleSuccess() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Authorized
	m.onHold = false
	select {
	case <-m.authorized:
	default:
		close(m.authorized)
	}
}

// Hold raises the on-hold flag. Only meaningful while awaiting verification
// or authorized; other states ignore it.
func (m *Machine) Hold() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == AwaitingVerification || m.state == Authorized {
		m.onHold = true
	}
}

// ConnectionClosed resets the machine to Disconnected. Callers observing
// this state must construct a new client; there is no reconnect path.
func (m *Machine) ConnectionClosed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Disconnected
	m.onHold = false
	select {
	case <-m.authorized:
		m.authorized = make(chan struct{})
	default:
	}
}

// Guard is the outbound gate checked before any request or inform envelope
// is built or sent. On-hold wins over not-authorized so a duplicate-name
// client reports the more specific condition.
func (m *Machine) Guard() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.onHold {
		return ErrOnHold
	}
	if m.state != Authorized {
		return ErrNotAuthorized
	}
	return nil
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Machine) Authorized() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == Authorized
}

func (m *Machine) OnHold() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.onHold
}

// WaitAuthorized blocks until the relay accepts the verification or ctx ends.
func (m *Machine) WaitAuthorized(ctx context.Context) error {
	m.mu.Lock()
	ch := m.authorized
	m.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
