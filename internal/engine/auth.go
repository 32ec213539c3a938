package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/earlink/internal/auth"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
)

// authenticate runs while d is Authenticating. gen identifies the link
// generation it was started for; a reconnect makes it stale.
func (e *Engine) authenticate(d *device, gen uint64) {
	ctx := d.ctx
	stale := func() bool { return ctx.Err() != nil || d.authGen.Load() != gen }

	if !e.cfg.Auth.SkipBatteryCheck {
		battery, err := protocol.Do(ctx, authRequester{e, d}, d.id, protocol.Battery())
		if err == nil {
			if !stale() && e.promote(d) {
				d.log.Info().Str("battery", battery.String()).Msg("engine: connected without handshake")
				e.bus.publish(Connected{DeviceID: d.id})
				e.bus.publish(batteryEvent(d.id, battery))
			}
			return
		}
		if stale() || isDisconnect(err) {
			return
		}
		d.log.Debug().Err(err).Msg("engine: battery check failed, running handshake")
	}

	if err := e.handshake(ctx, d); err != nil {
		if stale() || isDisconnect(err) {
			return
		}
		d.log.Warn().Err(err).Msg("engine: authentication failed")
		e.teardown(d, fmt.Sprintf("authentication failed: %v", err))
		return
	}
	if !stale() && e.promote(d) {
		d.log.Info().Msg("engine: authenticated")
		e.bus.publish(Connected{DeviceID: d.id})
	}
}

// handshake proves both sides hold the shared key: the device answers our
// challenge, we answer the device's, then we confirm.
func (e *Engine) handshake(ctx context.Context, d *device) error {
	enc := e.deps.Encryptor
	if enc == nil {
		return errors.Join(ErrAuthFailed, auth.ErrNoEncryptor)
	}
	challenge, err := auth.NewChallenge(e.deps.Rand)
	if err != nil {
		return errors.Join(ErrAuthFailed, err)
	}
	expected, err := enc.Encrypt(challenge)
	if err != nil {
		return errors.Join(ErrAuthFailed, err)
	}

	drainInbox(d.authInbox)
	reply, err := e.issue(ctx, d, protocol.AuthChallengeRequest(challenge))
	if err != nil {
		return err
	}
	if err := protocol.CheckAuthAnswer(reply, expected); err != nil {
		return errors.Join(ErrAuthFailed, err)
	}

	req, err := e.awaitDeviceChallenge(ctx, d)
	if err != nil {
		return err
	}
	var answer []byte
	devChallenge, chErr := protocol.DeviceChallenge(req)
	if chErr == nil {
		answer, chErr = enc.Encrypt(devChallenge)
	}
	if chErr != nil {
		answer = nil
		d.log.Warn().Err(chErr).Msg("engine: malformed device challenge")
	}
	if err := e.send(ctx, d, protocol.AuthAnswer(req, answer)); err != nil {
		return err
	}
	if chErr != nil {
		return errors.Join(ErrAuthFailed, chErr)
	}

	confirm, err := e.issue(ctx, d, protocol.AuthConfirmRequest())
	if err != nil {
		return err
	}
	if err := protocol.CheckAuthConfirm(confirm); err != nil {
		return errors.Join(ErrAuthFailed, err)
	}
	return nil
}

func (e *Engine) awaitDeviceChallenge(ctx context.Context, d *device) (frame.Frame, error) {
	wait := e.cfg.Session.ReplyTimeout
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case req := <-d.authInbox:
		return req, nil
	case <-timer.C:
		return frame.Frame{}, errors.Join(ErrAuthFailed, &TimeoutError{Phase: "challenge", DeviceID: d.id, Opcode: schema.OpSendAuth, After: wait})
	case <-ctx.Done():
		return frame.Frame{}, ErrDisconnected
	}
}

func drainInbox(ch chan frame.Frame) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
