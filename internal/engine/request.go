package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/earlink/internal/observability"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/transport"
)

var errNotRequest = errors.New("engine: frame is not a request")

// Request sends req to a Connected device and waits for the matching
// reply. Requests built without needsReply return a zero Frame once
// written. Engine satisfies protocol.Requester.
func (e *Engine) Request(ctx context.Context, deviceID string, req frame.Frame) (frame.Frame, error) {
	d, err := e.lookup(deviceID)
	if err != nil {
		return frame.Frame{}, err
	}
	if st := d.Status(); st != StatusConnected {
		return frame.Frame{}, fmt.Errorf("%w: %s is %s", ErrNotReady, deviceID, st)
	}
	return e.issue(ctx, d, req)
}

// RequestFireAndForget writes req without waiting for any reply.
func (e *Engine) RequestFireAndForget(ctx context.Context, deviceID string, req frame.Frame) error {
	req.NeedsReply = false
	_, err := e.Request(ctx, deviceID, req)
	return err
}

// issue stamps, registers, writes and awaits req on d.
func (e *Engine) issue(ctx context.Context, d *device, req frame.Frame) (frame.Frame, error) {
	if !req.Request {
		return frame.Frame{}, errNotRequest
	}
	op := schema.OpcodeName(req.Opcode)

	if !req.NeedsReply {
		req.Seq = d.nextSeq()
		if err := e.send(ctx, d, req); err != nil {
			observability.RecordRequest(op, outcomeLabel(err), 0)
			return frame.Frame{}, err
		}
		observability.RecordRequest(op, "sent", 0)
		return frame.Frame{}, nil
	}

	key, p, err := e.corr.register(d, &req)
	if err != nil {
		observability.RecordRequest(op, "error", 0)
		return frame.Frame{}, err
	}
	if d.ctx.Err() != nil {
		e.corr.fail(key, ErrDisconnected)
		<-p.ch
		return frame.Frame{}, ErrDisconnected
	}

	if err := e.send(ctx, d, req); err != nil {
		e.corr.fail(key, err)
		o := <-p.ch
		observability.RecordRequest(op, outcomeLabel(o.err), 0)
		return o.reply, o.err
	}

	timer := time.NewTimer(e.cfg.Session.ReplyTimeout)
	defer timer.Stop()
	var o outcome
	select {
	case o = <-p.ch:
	case <-timer.C:
		e.corr.fail(key, &TimeoutError{Phase: "reply", DeviceID: d.id, Opcode: req.Opcode, After: e.cfg.Session.ReplyTimeout})
		o = <-p.ch
	case <-ctx.Done():
		e.corr.fail(key, ctx.Err())
		o = <-p.ch
	case <-d.ctx.Done():
		e.corr.fail(key, ErrDisconnected)
		o = <-p.ch
	}
	latency := time.Since(p.sent)
	observability.RecordRequest(op, outcomeLabel(o.err), latency)
	if o.err != nil {
		d.log.Debug().Err(o.err).Str("op", op).Uint8("seq", req.Seq).Msg("engine: request failed")
		return frame.Frame{}, o.err
	}
	return o.reply, nil
}

// send writes f to d, mapping a write deadline into a TimeoutError.
func (e *Engine) send(ctx context.Context, d *device, f frame.Frame) error {
	err := d.sess.SendFrame(ctx, f)
	if err == nil {
		observability.RecordFrame("tx", schema.OpcodeName(f.Opcode))
		return nil
	}
	if errors.Is(err, transport.ErrWriteTimeout) {
		return &TimeoutError{Phase: "write", DeviceID: d.id, Opcode: f.Opcode, After: e.cfg.Session.WriteTimeout, Err: err}
	}
	return err
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case isDisconnect(err):
		return "disconnected"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}

// authRequester issues requests on a device that is still authenticating.
type authRequester struct {
	e *Engine
	d *device
}

func (a authRequester) Request(ctx context.Context, _ string, req frame.Frame) (frame.Frame, error) {
	return a.e.issue(ctx, a.d, req)
}
