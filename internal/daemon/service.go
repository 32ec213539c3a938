// Package daemon runs earlink as a standalone process: the engine on a
// Bluetooth link, the admin API, optional MCP stdio tools and mDNS.
package daemon

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/danmuck/earlink/internal/api"
	"github.com/danmuck/earlink/internal/api/mcptools"
	"github.com/danmuck/earlink/internal/auth"
	"github.com/danmuck/earlink/internal/discovery"
	"github.com/danmuck/earlink/internal/engine"
	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/transport"
	"github.com/danmuck/earlink/internal/transport/bluez"
	"github.com/rs/zerolog"
)

const Version = "0.1.0"

var (
	ErrInvalidName = errors.New("daemon: invalid name")
	ErrInvalidKey  = errors.New("daemon: invalid auth key")
	ErrNoLink      = errors.New("daemon: no link opener")
)

type DiscoveryConfig struct {
	Enabled bool
	Service string
}

type LinkConfig struct {
	Adapter string
	// Devices restricts which paired devices are driven; empty accepts
	// any device offering a candidate service.
	Devices []string
}

// ServiceConfig configures the standalone runtime.
type ServiceConfig struct {
	Name       string
	Engine     engine.Config
	API        api.Config
	APIEnabled bool
	MCPStdio   bool
	Discovery  DiscoveryConfig
	Link       LinkConfig
	// AuthKeyHex is the shared handshake key; empty leaves the handshake
	// unavailable and relies on the battery check.
	AuthKeyHex string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:       "earlink",
		Engine:     engine.DefaultConfig(),
		API:        api.DefaultConfig(),
		APIEnabled: true,
		Discovery:  DiscoveryConfig{Service: discovery.DefaultService},
		Link:       LinkConfig{Adapter: "hci0"},
	}
}

func (c ServiceConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return ErrInvalidName
	}
	if err := c.Engine.WithDefaults().Validate(); err != nil {
		return err
	}
	if _, err := c.encryptor(); err != nil {
		return err
	}
	return nil
}

func (c ServiceConfig) encryptor() (auth.Encryptor, error) {
	raw := strings.TrimSpace(c.AuthKeyHex)
	if raw == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	switch len(key) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidKey, len(key))
	}
	return auth.StaticKey{Key: key}, nil
}

// Link is the Bluetooth side the engine drives.
type Link interface {
	transport.Dialer
	transport.PeerWatcher
	Close() error
}

type LinkOpener func(ServiceConfig) (Link, error)

// OpenBluez opens the system-bus transport.
func OpenBluez(cfg ServiceConfig) (Link, error) {
	bcfg := bluez.DefaultConfig()
	if cfg.Link.Adapter != "" {
		bcfg.Adapter = bluez.AdapterPath(cfg.Link.Adapter)
	}
	bcfg.Services = cfg.Engine.WithDefaults().Services
	bcfg.Devices = cfg.Link.Devices
	return bluez.Open(bcfg)
}

// Service runs the daemon lifecycle.
type Service struct {
	cfg  ServiceConfig
	open LinkOpener
	log  zerolog.Logger

	mu     sync.Mutex
	engine *engine.Engine
	addr   net.Addr
	ready  chan struct{}
}

func NewService(cfg ServiceConfig, open LinkOpener) *Service {
	return &Service{
		cfg:   cfg,
		open:  open,
		log:   logging.Component("daemon"),
		ready: make(chan struct{}),
	}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// Ready is closed once the engine runs and the API listener is bound.
func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

// Addr is the bound API address, nil before Ready or with the API off.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

func (s *Service) Engine() *engine.Engine {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine
}

func (s *Service) RunContext(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		return err
	}
	if s.open == nil {
		return ErrNoLink
	}
	enc, _ := s.cfg.encryptor()
	if enc == nil {
		s.log.Warn().Msg("daemon: no auth key configured, handshake disabled")
	}

	link, err := s.open(s.cfg)
	if err != nil {
		return fmt.Errorf("daemon: open link: %w", err)
	}
	defer func() {
		if err := link.Close(); err != nil {
			s.log.Debug().Err(err).Msg("daemon: link close")
		}
	}()

	eng, err := engine.New(engine.Deps{Dialer: link, Peers: link, Encryptor: enc}, s.cfg.Engine)
	if err != nil {
		return err
	}
	defer eng.Stop()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := eng.Start(ctx); err != nil {
		return err
	}
	events := eng.RegisterListener(engine.ListenerFunc(s.logEvent))
	defer eng.UnregisterListener(events)

	var ln net.Listener
	if s.cfg.APIEnabled {
		ln, err = net.Listen("tcp", s.cfg.API.WithDefaults().Addr)
		if err != nil {
			return fmt.Errorf("daemon: api listen: %w", err)
		}
	}

	s.mu.Lock()
	s.engine = eng
	if ln != nil {
		s.addr = ln.Addr()
	}
	s.mu.Unlock()

	errCh := make(chan error, 3)
	var wg sync.WaitGroup
	run := func(name string, fn func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(); err != nil {
				errCh <- fmt.Errorf("daemon: %s: %w", name, err)
			}
		}()
	}

	if ln != nil {
		srv := api.New(eng, s.cfg.API)
		run("api", func() error { return srv.Serve(ctx, ln) })
		if s.cfg.Discovery.Enabled {
			port := ln.Addr().(*net.TCPAddr).Port
			run("discovery", func() error {
				err := discovery.Advertise(ctx, discovery.Advert{
					Instance: s.cfg.Name,
					Service:  s.cfg.Discovery.Service,
					Port:     port,
					Version:  Version,
				})
				if err != nil {
					s.log.Warn().Err(err).Msg("daemon: mdns advertisement unavailable")
				}
				return nil
			})
		}
	}
	if s.cfg.MCPStdio {
		tools := mcptools.New(eng, Version)
		// ServeStdio ignores ctx; its return ends the daemon.
		go func() {
			if err := tools.ServeStdio(); err != nil {
				s.log.Warn().Err(err).Msg("daemon: mcp stdio ended")
			}
			cancel()
		}()
	}

	s.log.Info().
		Str("name", s.cfg.Name).
		Bool("api", ln != nil).
		Bool("mcp", s.cfg.MCPStdio).
		Bool("discovery", s.cfg.Discovery.Enabled).
		Msg("daemon: ready")
	close(s.ready)

	var firstErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		firstErr = err
	}
	cancel()
	wg.Wait()
	s.log.Info().Msg("daemon: stopped")
	return firstErr
}

func (s *Service) logEvent(ev engine.Event) {
	e := s.log.Info().Str("device", ev.Device()).Str("kind", string(ev.Kind()))
	switch v := ev.(type) {
	case engine.Disconnected:
		e = e.Str("reason", v.Reason)
	case engine.BatteryChanged:
		e = e.Int("left", v.Left.Level).Int("right", v.Right.Level).Int("case", v.Case.Level)
	case engine.InEarStateChanged:
		e = e.Str("left", v.Left.String()).Str("right", v.Right.String())
	case engine.ConfigChanged:
		e = e.Uint16("config", v.ConfigID)
	}
	e.Msg("daemon: device event")
}

