package winerp

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shahriyardx/winerp-go/internal/testutil/testlog"
	"github.com/shahriyardx/winerp-go/protocol"
	"github.com/shahriyardx/winerp-go/transport/testkit"
)

func newFabricClient(t *testing.T, relay *testkit.Relay, name string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := Config{
		Host:   "relay.test",
		Port:   DefaultPort,
		Name:   name,
		Dialer: relay.Dialer(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("new client %s: %v", name, err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectAuthorized(t *testing.T, c *Client) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := c.WaitAuthorized(ctx); err != nil {
		t.Fatalf("wait authorized: %v", err)
	}
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNewClientValidation(t *testing.T) {
	testlog.Start(t)
	if _, err := NewClient(Config{Port: 1, Name: "a"}); !errors.Is(err, ErrHostRequired) {
		t.Fatalf("expected ErrHostRequired, got %v", err)
	}
	if _, err := NewClient(Config{Host: "h"}); !errors.Is(err, ErrNameRequired) {
		t.Fatalf("expected ErrNameRequired, got %v", err)
	}
	if _, err := NewClient(Config{Host: "h", Name: "a", Port: 70000}); err == nil {
		t.Fatalf("expected port validation error")
	}
}

func TestRequestBeforeAuthorizationSendsNothing(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()
	relay.HoldVerification(true)

	c := newFabricClient(t, relay, "client.a")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	_, err := c.Request(ctx, RequestOptions{Destination: "client.b", Route: "ping"})
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if err := c.Inform(InformOptions{Destinations: []string{"client.b"}}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized for inform, got %v", err)
	}

	history := relay.History()
	if len(history) != 1 || history[0].Type != protocol.MsgVerification {
		t.Fatalf("only the verification envelope may cross the wire, got %+v", history)
	}
}

func TestPingRouteScenario(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	a := newFabricClient(t, relay, "client.a")
	a.RegisterRoute("ping", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		return protocol.ObjectPayload(map[string]any{"pong": true}), nil
	})
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, a)
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	result, err := b.Request(ctx, RequestOptions{
		Destination: "client.a",
		Route:       "ping",
		Data:        protocol.EmptyPayload(),
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if v, ok := result.Object()["pong"].(bool); !ok || !v {
		t.Fatalf("unexpected result: %+v", result.Object())
	}
	if n := relay.CountByType(protocol.MsgRequest); n != 1 {
		t.Fatalf("expected exactly one request envelope, got %d", n)
	}
	if n := relay.CountByType(protocol.MsgResponse); n != 1 {
		t.Fatalf("expected exactly one response envelope, got %d", n)
	}
}

func TestUnknownRouteScenario(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	a := newFabricClient(t, relay, "client.a")
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, a)
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := b.Request(ctx, RequestOptions{Destination: "client.a", Route: "unknown"})
	if !errors.Is(err, ErrRemote) {
		t.Fatalf("expected ErrRemote, got %v", err)
	}
	if !strings.Contains(err.Error(), "Route not found") {
		t.Fatalf("error must carry the wire message, got %v", err)
	}
	if n := relay.CountByType(protocol.MsgError); n != 1 {
		t.Fatalf("expected exactly one error envelope, got %d", n)
	}
	var reqUUID, errUUID string
	for _, env := range relay.History() {
		switch env.Type {
		case protocol.MsgRequest:
			reqUUID = env.UUID
		case protocol.MsgError:
			errUUID = env.UUID
		}
	}
	if errUUID == "" || errUUID != reqUUID {
		t.Fatalf("error envelope must echo the request uuid: req=%q err=%q", reqUUID, errUUID)
	}
}

func TestAlreadyAuthorizedPutsClientOnHold(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	first := newFabricClient(t, relay, "client.c")
	connectAuthorized(t, first)

	second := newFabricClient(t, relay, "client.c")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := second.Connect(ctx); err != nil {
		t.Fatalf("connect duplicate: %v", err)
	}
	waitFor(t, time.Second, "duplicate client on hold", second.OnHold)

	if _, err := second.Request(ctx, RequestOptions{Destination: "x", Route: "r"}); !errors.Is(err, ErrOnHold) {
		t.Fatalf("expected ErrOnHold, got %v", err)
	}
	if err := second.Inform(InformOptions{Destinations: []string{"x"}}); !errors.Is(err, ErrOnHold) {
		t.Fatalf("expected ErrOnHold for inform, got %v", err)
	}

	// A fresh Success lifts the hold.
	relay.Authorize("client.c")
	if err := second.WaitAuthorized(ctx); err != nil {
		t.Fatalf("wait authorized after fresh success: %v", err)
	}
	waitFor(t, time.Second, "hold cleared", func() bool { return !second.OnHold() })
	if err := second.Inform(InformOptions{Destinations: []string{"client.c"}}); err != nil {
		t.Fatalf("inform after fresh success: %v", err)
	}
}

func TestRequestTimeoutResolvesExactlyOnce(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	_, err := b.Request(ctx, RequestOptions{
		Destination: "client.ghost",
		Route:       "anything",
		Timeout:     80 * time.Millisecond,
	})
	elapsed := time.Since(start)
	if !errors.Is(err, ErrRequestTimedOut) {
		t.Fatalf("expected ErrRequestTimedOut, got %v", err)
	}
	if elapsed < 80*time.Millisecond {
		t.Fatalf("request resolved before the timeout: %v", elapsed)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("request resolved far past the timeout: %v", elapsed)
	}
}

func TestLateResponseAfterTimeoutIsNoop(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	release := make(chan struct{})
	a := newFabricClient(t, relay, "client.a")
	a.RegisterRoute("slow", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		<-release
		return protocol.StringPayload("late"), nil
	})
	a.RegisterRoute("fast", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		return protocol.StringPayload("ok"), nil
	})
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, a)
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := b.Request(ctx, RequestOptions{
		Destination: "client.a",
		Route:       "slow",
		Timeout:     50 * time.Millisecond,
	})
	if !errors.Is(err, ErrRequestTimedOut) {
		t.Fatalf("expected timeout, got %v", err)
	}

	// Let the late response land; it must not disturb the next request.
	close(release)
	waitFor(t, 2*time.Second, "late response relayed", func() bool {
		return relay.CountByType(protocol.MsgResponse) == 1
	})

	result, err := b.Request(ctx, RequestOptions{Destination: "client.a", Route: "fast"})
	if err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
	if result.Text() != "ok" {
		t.Fatalf("unexpected follow-up result: %+v", result)
	}
}

func TestConcurrentRequestsResolveIndependently(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	slowRelease := make(chan struct{})
	slow := newFabricClient(t, relay, "peer.slow")
	slow.RegisterRoute("work", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		<-slowRelease
		return protocol.StringPayload("slow-done"), nil
	})
	fast := newFabricClient(t, relay, "peer.fast")
	fast.RegisterRoute("work", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		return protocol.StringPayload("fast-done"), nil
	})
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, slow)
	connectAuthorized(t, fast)
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	slowResult := make(chan string, 1)
	wg.Add(1)
	go func() {
		defer wg.Done()
		result, err := b.Request(ctx, RequestOptions{Destination: "peer.slow", Route: "work"})
		if err != nil {
			slowResult <- "error: " + err.Error()
			return
		}
		slowResult <- result.Text()
	}()

	result, err := b.Request(ctx, RequestOptions{Destination: "peer.fast", Route: "work"})
	if err != nil {
		t.Fatalf("fast request: %v", err)
	}
	if result.Text() != "fast-done" {
		t.Fatalf("fast request got the wrong payload: %q", result.Text())
	}

	close(slowRelease)
	wg.Wait()
	if got := <-slowResult; got != "slow-done" {
		t.Fatalf("slow request got the wrong payload: %q", got)
	}
}

func TestInformDelivery(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	received := make(chan protocol.Envelope, 1)
	a := newFabricClient(t, relay, "client.a", func(cfg *Config) {
		cfg.OnInform = func(env protocol.Envelope) { received <- env }
	})
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, a)
	connectAuthorized(t, b)

	err := b.Inform(InformOptions{
		Destinations: []string{"client.a"},
		Data:         protocol.ObjectPayload(map[string]any{"event": "deploy"}),
	})
	if err != nil {
		t.Fatalf("inform: %v", err)
	}

	select {
	case env := <-received:
		if env.ID != "client.b" {
			t.Fatalf("inform must carry the sender name, got %q", env.ID)
		}
		if env.Data.Object()["event"] != "deploy" {
			t.Fatalf("unexpected inform data: %+v", env.Data.Object())
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("inform never delivered")
	}
}

func TestPingRoundTrip(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()
	a := newFabricClient(t, relay, "client.a")
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, a)
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	latency, err := b.Ping(ctx, "client.a")
	if err != nil {
		t.Fatalf("ping: %v", err)
	}
	if latency <= 0 {
		t.Fatalf("latency must be positive, got %v", latency)
	}
	if n := relay.CountByType(protocol.MsgPing); n != 2 {
		t.Fatalf("expected ping and echo on the wire, got %d", n)
	}
}

func TestCloseFailsInFlightRequests(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()

	block := make(chan struct{})
	defer close(block)
	a := newFabricClient(t, relay, "client.a")
	a.RegisterRoute("hang", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		<-block
		return protocol.EmptyPayload(), nil
	})
	b := newFabricClient(t, relay, "client.b")
	connectAuthorized(t, a)
	connectAuthorized(t, b)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := b.Request(ctx, RequestOptions{Destination: "client.a", Route: "hang"})
		done <- err
	}()

	waitFor(t, 2*time.Second, "request on the wire", func() bool {
		return relay.CountByType(protocol.MsgRequest) == 1
	})
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := <-done; !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if b.State().String() != "disconnected" {
		t.Fatalf("expected disconnected state, got %v", b.State())
	}
	if _, err := b.Request(ctx, RequestOptions{Destination: "client.a", Route: "hang"}); !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("closed client must refuse new requests, got %v", err)
	}
}

func TestConnectTwice(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()
	c := newFabricClient(t, relay, "client.a")
	connectAuthorized(t, c)
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Fatalf("expected ErrAlreadyConnected, got %v", err)
	}
}

func TestRequestOptionValidation(t *testing.T) {
	testlog.Start(t)
	relay := testkit.NewRelay()
	c := newFabricClient(t, relay, "client.a")
	connectAuthorized(t, c)

	ctx := context.Background()
	if _, err := c.Request(ctx, RequestOptions{Route: "r"}); !errors.Is(err, ErrDestinationRequired) {
		t.Fatalf("expected ErrDestinationRequired, got %v", err)
	}
	if _, err := c.Request(ctx, RequestOptions{Destination: "d"}); !errors.Is(err, ErrRouteRequired) {
		t.Fatalf("expected ErrRouteRequired, got %v", err)
	}
	if err := c.Inform(InformOptions{}); !errors.Is(err, ErrDestinationRequired) {
		t.Fatalf("expected ErrDestinationRequired for inform, got %v", err)
	}
}
