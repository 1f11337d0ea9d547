package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	winerp "github.com/shahriyardx/winerp-go"
	"github.com/shahriyardx/winerp-go/internal/observability"
	"github.com/shahriyardx/winerp-go/protocol"
)

func main() {
	configPath := flag.String("config", "winerp.toml", "path to the peer config")
	flag.Parse()

	logger := observability.InitLogger("winerpctl")

	cfg, err := loadPeerConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "winerpctl: %v\n", err)
		os.Exit(1)
	}
	cfg.Client.Logger = &logger
	cfg.Client.OnInform = func(env protocol.Envelope) {
		logger.Info().Str("from", env.ID).Interface("data", env.Data.Object()).Msg("inform received")
	}

	client, err := winerp.NewClient(cfg.Client)
	if err != nil {
		fmt.Fprintf(os.Stderr, "winerpctl: %v\n", err)
		os.Exit(1)
	}
	if cfg.ServeEcho {
		registerBuiltinRoutes(client)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := client.Connect(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "winerpctl: %v\n", err)
		os.Exit(1)
	}
	if err := client.WaitAuthorized(ctx); err != nil {
		cancel()
		fmt.Fprintf(os.Stderr, "winerpctl: authorization: %v\n", err)
		os.Exit(1)
	}
	cancel()

	if cfg.Inform != nil {
		err := client.Inform(winerp.InformOptions{
			Destinations: cfg.Inform.Destinations,
			Data:         protocol.ObjectPayload(cfg.Inform.Data),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "winerpctl: inform: %v\n", err)
			os.Exit(1)
		}
	}

	if cfg.Request != nil {
		reqCtx, reqCancel := context.WithCancel(context.Background())
		result, err := client.Request(reqCtx, winerp.RequestOptions{
			Destination: cfg.Request.Destination,
			Route:       cfg.Request.Route,
			Data:        protocol.ObjectPayload(cfg.Request.Data),
			Timeout:     cfg.RequestTimeout,
		})
		reqCancel()
		if err != nil {
			fmt.Fprintf(os.Stderr, "winerpctl: request: %v\n", err)
			os.Exit(1)
		}
		logger.Info().Interface("result", result.Object()).Msg("request resolved")
		return
	}

	// Serve until interrupted.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	if err := client.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "winerpctl: close: %v\n", err)
		os.Exit(1)
	}
}

func registerBuiltinRoutes(client *winerp.Client) {
	started := time.Now()
	client.RegisterRoute("echo", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		return data, nil
	})
	client.RegisterRoute("status", func(ctx context.Context, data protocol.Payload) (protocol.Payload, error) {
		return protocol.ObjectPayload(map[string]any{
			"uptime_seconds": time.Since(started).Seconds(),
		}), nil
	})
}
