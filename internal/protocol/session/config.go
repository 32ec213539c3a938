package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/earlink/internal/protocol/frame"
)

var (
	ErrInvalidTimeout  = errors.New("session: invalid timeout")
	ErrInvalidAttempts = errors.New("session: invalid reconnect attempts")
	ErrInvalidBackoff  = errors.New("session: invalid backoff")
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines link reliability defaults.
type Config struct {
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	ReplyTimeout   time.Duration
	// ReconnectAttempts bounds reconnects after a reader failure; zero
	// uses the default.
	ReconnectAttempts int
	// NoReconnect tears the device down on the first reader failure.
	NoReconnect bool
	// MaxFramingErrors consecutive framing errors are treated as a
	// transport failure.
	MaxFramingErrors int
	Limits           frame.Limits
	Backoff          BackoffConfig
}

// DefaultConfig returns the protocol defaults: 1s writes, 2s replies, one
// reconnect attempt.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		WriteTimeout:      1 * time.Second,
		ReplyTimeout:      2 * time.Second,
		ReconnectAttempts: 1,
		MaxFramingErrors:  8,
		Limits:            frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero values from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReplyTimeout <= 0 {
		c.ReplyTimeout = d.ReplyTimeout
	}
	switch {
	case c.NoReconnect:
		c.ReconnectAttempts = 0
	case c.ReconnectAttempts == 0:
		c.ReconnectAttempts = d.ReconnectAttempts
	}
	if c.MaxFramingErrors <= 0 {
		c.MaxFramingErrors = d.MaxFramingErrors
	}
	if c.Limits.MaxBodyLen <= 0 {
		c.Limits = d.Limits
	}
	if c.Backoff.InitialDelay == 0 && c.Backoff.MaxDelay == 0 && c.Backoff.Multiplier == 0 {
		c.Backoff = d.Backoff
	}
	return c
}

func (c Config) Validate() error {
	if c.ConnectTimeout <= 0 || c.WriteTimeout <= 0 || c.ReplyTimeout <= 0 {
		return fmt.Errorf("%w: connect=%v write=%v reply=%v",
			ErrInvalidTimeout, c.ConnectTimeout, c.WriteTimeout, c.ReplyTimeout)
	}
	if c.ReconnectAttempts < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAttempts, c.ReconnectAttempts)
	}
	if c.Backoff.InitialDelay < 0 || c.Backoff.MaxDelay < 0 {
		return fmt.Errorf("%w: negative delay", ErrInvalidBackoff)
	}
	if c.Backoff.MaxDelay > 0 && c.Backoff.InitialDelay > c.Backoff.MaxDelay {
		return fmt.Errorf("%w: initial %v exceeds max %v", ErrInvalidBackoff, c.Backoff.InitialDelay, c.Backoff.MaxDelay)
	}
	return nil
}
