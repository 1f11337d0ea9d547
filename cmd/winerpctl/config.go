package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	winerp "github.com/shahriyardx/winerp-go"
)

type fileConfig struct {
	Name           string         `toml:"name"`
	Host           string         `toml:"host"`
	Port           int            `toml:"port"`
	ServeEcho      bool           `toml:"serve_echo"`
	RequestTimeout string         `toml:"request_timeout"`
	Request        *requestConfig `toml:"request"`
	Inform         *informConfig  `toml:"inform"`
}

type requestConfig struct {
	Destination string         `toml:"destination"`
	Route       string         `toml:"route"`
	Data        map[string]any `toml:"data"`
}

type informConfig struct {
	Destinations []string       `toml:"destinations"`
	Data         map[string]any `toml:"data"`
}

type peerConfig struct {
	Client         winerp.Config
	ServeEcho      bool
	RequestTimeout time.Duration
	Request        *requestConfig
	Inform         *informConfig
}

func defaultPeerConfig() peerConfig {
	return peerConfig{
		Client: winerp.Config{
			Host: "127.0.0.1",
			Port: winerp.DefaultPort,
		},
		ServeEcho:      true,
		RequestTimeout: winerp.DefaultRequestTimeout,
	}
}

func loadPeerConfig(path string) (peerConfig, error) {
	cfg := defaultPeerConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return peerConfig{}, fmt.Errorf("load peer config: %w", err)
	}

	if meta.IsDefined("name") {
		cfg.Client.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("host") {
		cfg.Client.Host = strings.TrimSpace(raw.Host)
	}
	if meta.IsDefined("port") {
		cfg.Client.Port = raw.Port
	}
	if meta.IsDefined("serve_echo") {
		cfg.ServeEcho = raw.ServeEcho
	}
	if meta.IsDefined("request_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.RequestTimeout))
		if err != nil {
			return peerConfig{}, fmt.Errorf("parse request_timeout: %w", err)
		}
		cfg.RequestTimeout = d
	}
	if meta.IsDefined("request") {
		cfg.Request = raw.Request
	}
	if meta.IsDefined("inform") {
		cfg.Inform = raw.Inform
	}

	if err := cfg.Client.Validate(); err != nil {
		return peerConfig{}, err
	}
	return cfg, nil
}
