package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrProtocol    = errors.New("protocol: protocol error")
	ErrUnsupported = errors.New("protocol: feature not supported")
	ErrStatus      = errors.New("protocol: unexpected reply status")
	ErrMismatch    = errors.New("protocol: reply does not match request")
	ErrLength      = errors.New("protocol: invalid payload length")
)

// Error is a request-scoped protocol failure; it matches ErrProtocol and
// Kind under errors.Is.
type Error struct {
	Op     string
	Kind   error
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("protocol: %s: %s", e.Op, e.Reason)
}

func (e *Error) Unwrap() []error {
	if e.Kind == nil {
		return []error{ErrProtocol}
	}
	return []error{ErrProtocol, e.Kind}
}

func protoErr(op string, kind error, format string, args ...any) error {
	return &Error{Op: op, Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// IsUnsupported reports whether err carries the not-supported sentinel.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported)
}
