package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/earlink/internal/protocol/schema"
)

var (
	ErrStopped           = errors.New("engine: stopped")
	ErrUnknownDevice     = errors.New("engine: unknown device")
	ErrDisconnected      = errors.New("engine: device disconnected")
	ErrNotReady          = errors.New("engine: device not connected")
	ErrSequenceExhausted = errors.New("engine: no free sequence number")
	ErrAuthFailed        = errors.New("engine: authentication failed")
	ErrTimeout           = errors.New("engine: timeout")
)

// TimeoutError reports a request that exceeded its write or reply deadline.
// It matches ErrTimeout under errors.Is.
type TimeoutError struct {
	Phase    string
	DeviceID string
	Opcode   uint8
	After    time.Duration
	Err      error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("engine: %s timeout after %s (device=%s op=%s)",
		e.Phase, e.After, e.DeviceID, schema.OpcodeName(e.Opcode))
}

func (e *TimeoutError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTimeout}
	}
	return []error{ErrTimeout, e.Err}
}
