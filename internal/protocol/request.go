package protocol

import (
	"context"

	"github.com/danmuck/earlink/internal/protocol/frame"
)

// Requester issues one request frame to a device and returns its reply.
// Requests built with needsReply=false return a zero Frame on success.
type Requester interface {
	Request(ctx context.Context, deviceID string, req frame.Frame) (frame.Frame, error)
}

// Call pairs a request frame with the parser for its reply.
type Call[T any] struct {
	Name    string
	Request frame.Frame
	Parse   func(reply frame.Frame) (T, error)
}

// Do issues c through r and parses the reply.
func Do[T any](ctx context.Context, r Requester, deviceID string, c Call[T]) (T, error) {
	var zero T
	reply, err := r.Request(ctx, deviceID, c.Request)
	if err != nil {
		return zero, err
	}
	if !c.Request.NeedsReply || c.Parse == nil {
		return zero, nil
	}
	return c.Parse(reply)
}

// StatusOK parses a reply whose only content is its status byte.
func StatusOK(reply frame.Frame) (bool, error) {
	return reply.OK(), nil
}
