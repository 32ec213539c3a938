// Package transport owns one connected byte-stream channel per device and
// the framed send/receive operations over it.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrTransport    = errors.New("transport: transport error")
	ErrNotConnected = errors.New("transport: not connected")
	ErrClosed       = errors.New("transport: stream closed")
	ErrNoCandidates = errors.New("transport: no candidate service connected")
	ErrWriteTimeout = errors.New("transport: write timeout")
)

// Error is an I/O level failure; it matches ErrTransport and Err.
type Error struct {
	Op       string
	DeviceID string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transport: %s %s: %v", e.Op, e.DeviceID, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{ErrTransport, e.Err}
}

// Conn is one connected byte stream to a device.
type Conn interface {
	io.ReadWriteCloser
	SetWriteDeadline(t time.Time) error
}

// Dialer opens a stream to deviceID over one service identifier.
type Dialer interface {
	Dial(ctx context.Context, deviceID string, service uuid.UUID) (Conn, error)
}

// DialerFunc adapts a function into a Dialer.
type DialerFunc func(ctx context.Context, deviceID string, service uuid.UUID) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, deviceID string, service uuid.UUID) (Conn, error) {
	return f(ctx, deviceID, service)
}

// PeerState is a transport-level link state change.
type PeerState int

const (
	PeerConnected PeerState = iota + 1
	PeerDisconnected
)

func (s PeerState) String() string {
	switch s {
	case PeerConnected:
		return "connected"
	case PeerDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// PeerEvent signals that the bonded peer deviceID changed link state.
type PeerEvent struct {
	DeviceID string
	State    PeerState
}

// PeerWatcher feeds peer link signals until ctx is done, then closes the channel.
type PeerWatcher interface {
	Watch(ctx context.Context) (<-chan PeerEvent, error)
}

// Candidate service identifiers, tried in order.
var (
	ServiceFastConnect = uuid.MustParse("0000fd2d-0000-1000-8000-00805f9b34fb")
	ServiceXiaoAI      = uuid.MustParse("00001101-0000-1000-8000-008584d01810")
	ServiceSPP         = uuid.MustParse("00001101-0000-1000-8000-00805f9b34fb")
)

// DefaultServices returns the candidate list in connect order.
func DefaultServices() []uuid.UUID {
	return []uuid.UUID{ServiceFastConnect, ServiceXiaoAI, ServiceSPP}
}

// ParseServices parses configured identifiers. Short forms like "fd2d" or
// "0xFD2D" expand onto the Bluetooth base UUID.
func ParseServices(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		short := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
		if len(short) == 4 || len(short) == 8 {
			s = strings.Repeat("0", 8-len(short)) + short + "-0000-1000-8000-00805f9b34fb"
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("transport: service %q: %w", s, err)
		}
		out = append(out, id)
	}
	if len(out) == 0 {
		return DefaultServices(), nil
	}
	return out, nil
}
