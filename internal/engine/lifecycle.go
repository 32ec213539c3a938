package engine

import (
	"fmt"
	"time"

	"github.com/danmuck/earlink/internal/observability"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
)

// HandlePeerConnected creates a session for id and connects it in the
// background. Signals for a device that already has a session are ignored.
func (e *Engine) HandlePeerConnected(id string) {
	if e.isStopped() {
		return
	}
	d, err := e.newDevice(id)
	if err != nil {
		e.log.Error().Err(err).Str("device", id).Msg("engine: device setup failed")
		return
	}
	if _, loaded := e.devices.LoadOrStore(id, d); loaded {
		d.cancel()
		e.log.Debug().Str("device", id).Msg("engine: peer already tracked")
		return
	}
	d.log.Info().Msg("engine: peer connected")
	if !e.spawn(func() { e.connect(d) }) {
		e.devices.CompareAndDelete(id, d)
		d.cancel()
	}
}

// HandlePeerDisconnected tears down id if it is tracked.
func (e *Engine) HandlePeerDisconnected(id string) {
	d, err := e.lookup(id)
	if err != nil {
		return
	}
	e.teardown(d, "peer disconnected")
}

func (e *Engine) connect(d *device) {
	if err := d.sess.Connect(d.ctx); err != nil {
		d.log.Warn().Err(err).Msg("engine: connect failed")
		e.devices.CompareAndDelete(d.id, d)
		d.cancel()
		return
	}
	if d.ctx.Err() != nil {
		_ = d.sess.Close()
		return
	}
	e.setStatus(d, StatusAuthenticating)
	gen := d.authGen.Add(1)
	e.spawn(func() { e.readLoop(d) })
	e.spawn(func() { e.authenticate(d, gen) })
}

// readLoop is the only reader of d's stream. It routes frames in receipt
// order and owns reconnection.
func (e *Engine) readLoop(d *device) {
	framingErrs := 0
	var seen uint64
	for {
		f, err := d.sess.ReceiveFrame()
		if n := d.sess.Discarded(); n > seen {
			d.resync.Add(n - seen)
			observability.RecordResyncBytes(n - seen)
			seen = n
		}
		if err == nil {
			framingErrs = 0
			observability.RecordFrame("rx", schema.OpcodeName(f.Opcode))
			e.route(d, f)
			continue
		}
		if frame.IsFraming(err) {
			observability.RecordFramingError()
			framingErrs++
			d.log.Debug().Err(err).Int("consecutive", framingErrs).Msg("engine: framing error")
			if framingErrs < e.cfg.Session.MaxFramingErrors {
				continue
			}
			err = fmt.Errorf("engine: %d consecutive framing errors: %w", framingErrs, err)
		}
		if d.ctx.Err() != nil {
			return
		}
		d.log.Warn().Err(err).Msg("engine: reader failed")
		if !e.reconnect(d, err) {
			e.teardown(d, fmt.Sprintf("link lost: %v", err))
			return
		}
		framingErrs = 0
		seen = 0
	}
}

// reconnect fails d's in-flight requests and retries the link. On success
// d is back in Authenticating with a fresh authenticator running.
func (e *Engine) reconnect(d *device, cause error) bool {
	_ = d.sess.Close()
	lost := fmt.Errorf("%w: link lost: %v", ErrDisconnected, cause)
	if n := e.corr.failDevice(d.id, lost); n > 0 {
		d.log.Debug().Int("pending", n).Msg("engine: failed in-flight requests")
	}
	if !e.demote(d) {
		return false
	}
	d.authGen.Add(1)

	for attempt := 1; attempt <= e.cfg.Session.ReconnectAttempts; attempt++ {
		delay := e.cfg.Session.Backoff.Delay(attempt, d.rng)
		timer := time.NewTimer(delay)
		select {
		case <-d.ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		if err := d.sess.Connect(d.ctx); err != nil {
			d.log.Warn().Err(err).Int("attempt", attempt).Msg("engine: reconnect failed")
			continue
		}
		if d.ctx.Err() != nil {
			return false
		}
		gen := d.authGen.Add(1)
		d.log.Info().Int("attempt", attempt).Msg("engine: reconnected")
		return e.spawn(func() { e.authenticate(d, gen) })
	}
	return false
}

// setStatus swaps d's status and returns the previous one.
func (e *Engine) setStatus(d *device, s Status) Status {
	prev := Status(d.status.Swap(int32(s)))
	if prev == StatusConnected && s != StatusConnected {
		observability.DeviceDisconnected()
	}
	return prev
}

// demote moves a live device back to Authenticating. It fails once the
// device has been torn down.
func (e *Engine) demote(d *device) bool {
	for {
		cur := Status(d.status.Load())
		if cur == StatusDisconnected {
			return false
		}
		if d.status.CompareAndSwap(int32(cur), int32(StatusAuthenticating)) {
			if cur == StatusConnected {
				observability.DeviceDisconnected()
			}
			return true
		}
	}
}

// promote moves d from Authenticating to Connected.
func (e *Engine) promote(d *device) bool {
	if !d.status.CompareAndSwap(int32(StatusAuthenticating), int32(StatusConnected)) {
		return false
	}
	observability.DeviceConnected()
	return true
}

// teardown removes d, fails its pending requests and emits Disconnected
// once, if the device had left the Disconnected state.
func (e *Engine) teardown(d *device, reason string) {
	e.devices.CompareAndDelete(d.id, d)
	prev := e.setStatus(d, StatusDisconnected)
	d.cancel()
	_ = d.sess.Close()
	n := e.corr.failDevice(d.id, ErrDisconnected)
	if prev == StatusDisconnected {
		return
	}
	d.log.Info().Str("reason", reason).Int("pending_failed", n).Msg("engine: device disconnected")
	e.bus.publish(Disconnected{DeviceID: d.id, Reason: reason})
}
