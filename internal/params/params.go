// Package params holds the typed codecs for device config values and the
// static registry that maps config ids and names onto them.
package params

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/earlink/internal/protocol"
)

var (
	ErrInvalidValue = errors.New("params: invalid value")
	ErrReadOnly     = errors.New("params: config is read-only")
	ErrUnknown      = errors.New("params: unknown config")
)

// Codec maps one config id to a typed value.
type Codec[T any] interface {
	ID() uint16
	Name() string
	// Length is the exact value length in bytes; 0 means the codec checks
	// the length itself.
	Length() int
	Decode(b []byte) (T, error)
	Encode(v T) ([]byte, error)
}

// Get reads and decodes the value of c from deviceID.
func Get[T any](ctx context.Context, r protocol.Requester, deviceID string, c Codec[T]) (T, error) {
	var zero T
	raw, err := protocol.Do(ctx, r, deviceID, protocol.ConfigGet(c.ID()))
	if err != nil {
		return zero, err
	}
	return Decode(c, raw)
}

// Set encodes v and writes it; ok reports a zero reply status.
func Set[T any](ctx context.Context, r protocol.Requester, deviceID string, c Codec[T], v T) (bool, error) {
	raw, err := c.Encode(v)
	if err != nil {
		return false, err
	}
	call, err := protocol.ConfigSet(c.ID(), raw)
	if err != nil {
		return false, err
	}
	return protocol.Do(ctx, r, deviceID, call)
}

// Decode checks the sentinel and declared length before calling c.Decode.
func Decode[T any](c Codec[T], raw []byte) (T, error) {
	var zero T
	if protocol.IsUnsupportedValue(raw) {
		return zero, fmt.Errorf("%s: %w", c.Name(), protocol.ErrUnsupported)
	}
	if n := c.Length(); n > 0 && len(raw) != n {
		return zero, lengthErr(c.Name(), n, len(raw))
	}
	return c.Decode(raw)
}

func lengthErr(name string, want, got int) error {
	return &protocol.Error{
		Op:     name,
		Kind:   protocol.ErrLength,
		Reason: fmt.Sprintf("want %d bytes, got %d", want, got),
	}
}

func invalid(name string, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidValue, name, fmt.Sprintf(format, args...))
}

// enum is the name table shared by the single-byte enumerations.
type enum[T ~uint8] struct {
	names map[T]string
}

func (e enum[T]) name(v T) string {
	if n, ok := e.names[v]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(v))
}

func (e enum[T]) parse(kind, s string) (T, error) {
	for v, n := range e.names {
		if n == s {
			return v, nil
		}
	}
	return 0, invalid(kind, "unknown name %q", s)
}

func (e enum[T]) known(v T) bool {
	_, ok := e.names[v]
	return ok
}
