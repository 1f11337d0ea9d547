package winerp

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/shahriyardx/winerp-go/protocol"
	"github.com/shahriyardx/winerp-go/transport"
)

const (
	// DefaultPort is the relay's conventional listen port.
	DefaultPort = 13254

	// DefaultRequestTimeout bounds a correlated request round trip unless
	// the caller overrides it per call.
	DefaultRequestTimeout = 60 * time.Second
)

var (
	ErrHostRequired        = errors.New("winerp: host required")
	ErrNameRequired        = errors.New("winerp: local name required")
	ErrDestinationRequired = errors.New("winerp: destination required")
	ErrRouteRequired       = errors.New("winerp: route required")
)

// Config constructs a Client. Host, Port, and Name are immutable after
// construction.
type Config struct {
	Host string
	Port int
	Name string

	// Dialer overrides the websocket transport; used by tests.
	Dialer transport.Dialer

	// Logger overrides the global logger for this client.
	Logger *zerolog.Logger

	// OnInform receives inbound Information envelopes. Optional; without it
	// informs are logged and dropped.
	OnInform func(env protocol.Envelope)
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return ErrHostRequired
	}
	if strings.TrimSpace(c.Name) == "" {
		return ErrNameRequired
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("winerp: invalid port %d", c.Port)
	}
	return nil
}

func (c Config) url() string {
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("ws://%s:%d/", c.Host, port)
}

// RequestOptions describes one correlated request.
type RequestOptions struct {
	Destination string
	Route       string
	Data        protocol.Payload

	// Timeout bounds the round trip; zero means DefaultRequestTimeout.
	Timeout time.Duration
}

func (o RequestOptions) Validate() error {
	if strings.TrimSpace(o.Destination) == "" {
		return ErrDestinationRequired
	}
	if strings.TrimSpace(o.Route) == "" {
		return ErrRouteRequired
	}
	return nil
}

// InformOptions describes one one-way broadcast. Route is an alias for a
// single destination; when Destinations is set it takes precedence.
type InformOptions struct {
	Route        string
	Destinations []string
	Data         protocol.Payload
}

func (o InformOptions) destinations() []string {
	if len(o.Destinations) > 0 {
		return o.Destinations
	}
	if strings.TrimSpace(o.Route) != "" {
		return []string{o.Route}
	}
	return nil
}

func (o InformOptions) Validate() error {
	if len(o.destinations()) == 0 {
		return ErrDestinationRequired
	}
	return nil
}
