// Package config loads the daemon TOML file onto daemon.DefaultServiceConfig.
// Keys missing from the file keep their defaults.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/earlink/internal/daemon"
	"github.com/danmuck/earlink/internal/transport"
)

type fileConfig struct {
	Name       string        `toml:"name"`
	AuthKeyHex string        `toml:"auth_key_hex"`
	Engine     fileEngine    `toml:"engine"`
	API        fileAPI       `toml:"api"`
	MCP        fileMCP       `toml:"mcp"`
	Discovery  fileDiscovery `toml:"discovery"`
	Bluetooth  fileBluetooth `toml:"bluetooth"`
}

type fileEngine struct {
	BatteryCheckFirst bool     `toml:"battery_check_first"`
	Services          []string `toml:"services"`
	ConnectTimeout    string   `toml:"connect_timeout"`
	WriteTimeout      string   `toml:"write_timeout"`
	ReplyTimeout      string   `toml:"reply_timeout"`
	ReconnectAttempts int      `toml:"reconnect_attempts"`
	MaxFramingErrors  int      `toml:"max_framing_errors"`
	ListenerBuffer    int      `toml:"listener_buffer"`
	BackoffInitial    string   `toml:"backoff_initial"`
	BackoffMax        string   `toml:"backoff_max"`
	BackoffMultiplier float64  `toml:"backoff_multiplier"`
	BackoffJitter     bool     `toml:"backoff_jitter"`
}

type fileAPI struct {
	Enabled        bool     `toml:"enabled"`
	Addr           string   `toml:"addr"`
	CORSOrigins    []string `toml:"cors_origins"`
	RequestTimeout string   `toml:"request_timeout"`
	EventBuffer    int      `toml:"event_buffer"`
}

type fileMCP struct {
	Stdio bool `toml:"stdio"`
}

type fileDiscovery struct {
	Enabled bool   `toml:"enabled"`
	Service string `toml:"service"`
}

type fileBluetooth struct {
	Adapter string   `toml:"adapter"`
	Devices []string `toml:"devices"`
}

// Load reads path and validates the result.
func Load(path string) (daemon.ServiceConfig, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return daemon.ServiceConfig{}, fmt.Errorf("config parse failed (%s): unknown key %s", path, undecoded[0])
	}
	cfg, err := apply(daemon.DefaultServiceConfig(), raw, meta)
	if err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return daemon.ServiceConfig{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func apply(cfg daemon.ServiceConfig, raw fileConfig, meta toml.MetaData) (daemon.ServiceConfig, error) {
	if meta.IsDefined("name") {
		cfg.Name = strings.TrimSpace(raw.Name)
	}
	if meta.IsDefined("auth_key_hex") {
		cfg.AuthKeyHex = strings.TrimSpace(raw.AuthKeyHex)
	}

	e := raw.Engine
	if meta.IsDefined("engine", "battery_check_first") {
		cfg.Engine.Auth.SkipBatteryCheck = !e.BatteryCheckFirst
	}
	if meta.IsDefined("engine", "services") {
		services, err := transport.ParseServices(e.Services)
		if err != nil {
			return cfg, fmt.Errorf("engine.services: %w", err)
		}
		cfg.Engine.Services = services
	}
	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"connect_timeout", e.ConnectTimeout, &cfg.Engine.Session.ConnectTimeout},
		{"write_timeout", e.WriteTimeout, &cfg.Engine.Session.WriteTimeout},
		{"reply_timeout", e.ReplyTimeout, &cfg.Engine.Session.ReplyTimeout},
		{"backoff_initial", e.BackoffInitial, &cfg.Engine.Session.Backoff.InitialDelay},
		{"backoff_max", e.BackoffMax, &cfg.Engine.Session.Backoff.MaxDelay},
	}
	for _, d := range durations {
		if !meta.IsDefined("engine", d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return cfg, fmt.Errorf("engine.%s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("engine", "reconnect_attempts") {
		cfg.Engine.Session.ReconnectAttempts = e.ReconnectAttempts
		cfg.Engine.Session.NoReconnect = e.ReconnectAttempts == 0
	}
	if meta.IsDefined("engine", "max_framing_errors") {
		cfg.Engine.Session.MaxFramingErrors = e.MaxFramingErrors
	}
	if meta.IsDefined("engine", "listener_buffer") {
		cfg.Engine.ListenerBuffer = e.ListenerBuffer
	}
	if meta.IsDefined("engine", "backoff_multiplier") {
		cfg.Engine.Session.Backoff.Multiplier = e.BackoffMultiplier
	}
	if meta.IsDefined("engine", "backoff_jitter") {
		cfg.Engine.Session.Backoff.Jitter = e.BackoffJitter
	}

	a := raw.API
	if meta.IsDefined("api", "enabled") {
		cfg.APIEnabled = a.Enabled
	}
	if meta.IsDefined("api", "addr") {
		cfg.API.Addr = strings.TrimSpace(a.Addr)
	}
	if meta.IsDefined("api", "cors_origins") {
		cfg.API.CORSOrigins = a.CORSOrigins
	}
	if meta.IsDefined("api", "request_timeout") {
		v, err := time.ParseDuration(strings.TrimSpace(a.RequestTimeout))
		if err != nil {
			return cfg, fmt.Errorf("api.request_timeout: %w", err)
		}
		cfg.API.RequestTimeout = v
	}
	if meta.IsDefined("api", "event_buffer") {
		cfg.API.EventBuffer = a.EventBuffer
	}

	if meta.IsDefined("mcp", "stdio") {
		cfg.MCPStdio = raw.MCP.Stdio
	}
	if meta.IsDefined("discovery", "enabled") {
		cfg.Discovery.Enabled = raw.Discovery.Enabled
	}
	if meta.IsDefined("discovery", "service") {
		cfg.Discovery.Service = strings.TrimSpace(raw.Discovery.Service)
	}
	if meta.IsDefined("bluetooth", "adapter") {
		cfg.Link.Adapter = strings.TrimSpace(raw.Bluetooth.Adapter)
	}
	if meta.IsDefined("bluetooth", "devices") {
		cfg.Link.Devices = normalizeDevices(raw.Bluetooth.Devices)
	}
	return cfg, nil
}

func normalizeDevices(in []string) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		v := strings.ToUpper(strings.TrimSpace(d))
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
