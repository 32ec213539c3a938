package engine

import (
	"github.com/danmuck/earlink/internal/earbuds"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
)

// route handles one inbound frame on d's reader goroutine.
func (e *Engine) route(d *device, f frame.Frame) {
	if !f.Request {
		if !e.corr.resolve(d.id, f) {
			d.log.Debug().Str("frame", f.String()).Msg("engine: unmatched reply dropped")
		}
		return
	}
	switch f.Opcode {
	case schema.OpSendAuth, schema.OpNotifyAuth:
		e.routeAuth(d, f)
	case schema.OpNotifyDeviceInfo:
		e.dispatchDeviceInfo(d, f)
	case schema.OpNotifyDeviceConfig:
		e.dispatchDeviceConfig(d, f)
	default:
		d.log.Debug().Str("frame", f.String()).Msg("engine: unrecognized request dropped")
	}
}

func (e *Engine) routeAuth(d *device, f frame.Frame) {
	if f.Opcode == schema.OpSendAuth {
		select {
		case d.authInbox <- f:
		default:
			d.log.Warn().Uint8("seq", f.Seq).Msg("engine: auth challenge dropped, inbox full")
		}
		return
	}
	d.log.Debug().
		Bool("confirm", protocol.IsAuthConfirmNotification(f)).
		Str("frame", f.String()).
		Msg("engine: device auth notification")
	if f.NeedsReply {
		if err := e.send(d.ctx, d, frame.Reply(f, schema.StatusOK, nil)); err != nil {
			d.log.Debug().Err(err).Msg("engine: auth notification ack failed")
		}
	}
}

func (e *Engine) dispatchDeviceInfo(d *device, f frame.Frame) {
	battery, ok, err := protocol.ParseBatteryNotification(f.Payload)
	if err != nil {
		d.log.Warn().Err(err).Msg("engine: bad device-info notification")
		return
	}
	if !ok {
		d.log.Debug().Str("frame", f.String()).Msg("engine: device-info notification without battery")
		return
	}
	e.bus.publish(batteryEvent(d.id, battery))
}

func (e *Engine) dispatchDeviceConfig(d *device, f frame.Frame) {
	c, err := protocol.ParseConfigNotification(f.Payload)
	if err != nil {
		d.log.Warn().Err(err).Str("frame", f.String()).Msg("engine: bad config notification")
		return
	}
	e.bus.publish(ConfigChanged{DeviceID: d.id, ConfigID: c.ID, Value: c.Value})
	if c.ID != schema.ConfigInEarState || len(c.Value) != 1 {
		return
	}
	state := earbuds.DecodeInEar(c.Value[0])
	if d.inEar != nil && *d.inEar == state {
		return
	}
	d.inEar = &state
	e.bus.publish(InEarStateChanged{DeviceID: d.id, Left: state.Left, Right: state.Right})
}
