package engine

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/earlink/internal/auth"
	"github.com/danmuck/earlink/internal/protocol/session"
	"github.com/danmuck/earlink/internal/transport"
	"github.com/google/uuid"
)

var ErrInvalidConfig = errors.New("engine: invalid config")

type AuthConfig struct {
	// SkipBatteryCheck goes straight to the challenge handshake. By default a
	// battery request is sent first and a valid answer skips the handshake.
	SkipBatteryCheck bool
}

type Config struct {
	Session  session.Config
	Services []uuid.UUID
	Auth     AuthConfig
	// ListenerBuffer is the per-listener event queue depth.
	ListenerBuffer int
}

func DefaultConfig() Config {
	return Config{
		Session:        session.DefaultConfig(),
		Services:       transport.DefaultServices(),
		ListenerBuffer: 64,
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	c.Session = c.Session.WithDefaults()
	if len(c.Services) == 0 {
		c.Services = d.Services
	}
	if c.ListenerBuffer <= 0 {
		c.ListenerBuffer = d.ListenerBuffer
	}
	return c
}

func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return errors.Join(ErrInvalidConfig, err)
	}
	if c.ListenerBuffer < 1 {
		return fmt.Errorf("%w: listener buffer %d", ErrInvalidConfig, c.ListenerBuffer)
	}
	return nil
}

// Deps are the collaborators an Engine is built from.
type Deps struct {
	Dialer    transport.Dialer
	Encryptor auth.Encryptor
	// Peers feeds link up/down signals to Start; optional when the host
	// calls HandlePeerConnected directly.
	Peers transport.PeerWatcher
	// Rand seeds sequence counters and challenges; nil uses crypto/rand.
	Rand io.Reader
}
