package protocol

import (
	"crypto/subtle"

	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
)

const (
	authMarker byte = 0x01

	// ChallengeLen is the size of a random authentication challenge.
	ChallengeLen = 16
)

// AuthChallengeRequest carries the host's random challenge to the device.
func AuthChallengeRequest(challenge []byte) frame.Frame {
	payload := append([]byte{authMarker}, challenge...)
	return frame.NewRequest(schema.OpSendAuth, payload, true)
}

// CheckAuthAnswer verifies the device encrypted the host challenge into expected.
func CheckAuthAnswer(reply frame.Frame, expected []byte) error {
	const op = "send_auth"
	if reply.Status != schema.StatusOK {
		return protoErr(op, ErrStatus, "status 0x%02X", reply.Status)
	}
	want := append([]byte{authMarker}, expected...)
	if subtle.ConstantTimeCompare(want, reply.Payload) != 1 {
		return protoErr(op, ErrMismatch, "device answer does not match challenge")
	}
	return nil
}

// DeviceChallenge extracts the device's challenge from its auth request.
func DeviceChallenge(req frame.Frame) ([]byte, error) {
	if !req.Request || req.Opcode != schema.OpSendAuth {
		return nil, protoErr("device_challenge", ErrMismatch, "unexpected frame %s", req)
	}
	if len(req.Payload) != 1+ChallengeLen || req.Payload[0] != authMarker {
		return nil, protoErr("device_challenge", ErrLength, "challenge payload %d bytes", len(req.Payload))
	}
	return append([]byte{}, req.Payload[1:]...), nil
}

// AuthAnswer replies to the device challenge with the encrypted answer. A
// nil answer produces the empty reply sent for malformed challenges.
func AuthAnswer(req frame.Frame, answer []byte) frame.Frame {
	if answer == nil {
		return frame.Reply(req, schema.StatusOK, []byte{})
	}
	return frame.Reply(req, schema.StatusOK, append([]byte{authMarker}, answer...))
}

// AuthConfirmRequest reports successful authentication to the device.
func AuthConfirmRequest() frame.Frame {
	return frame.NewRequest(schema.OpNotifyAuth, []byte{authMarker, 0x00}, true)
}

// CheckAuthConfirm validates the device's acknowledgement of AuthConfirmRequest.
func CheckAuthConfirm(reply frame.Frame) error {
	if reply.Status != schema.StatusOK {
		return protoErr("notify_auth", ErrStatus, "status 0x%02X", reply.Status)
	}
	if len(reply.Payload) != 1 || reply.Payload[0] != authMarker {
		return protoErr("notify_auth", ErrMismatch, "confirmation payload % X", reply.Payload)
	}
	return nil
}

// IsAuthConfirmNotification reports a device-initiated confirmation.
func IsAuthConfirmNotification(req frame.Frame) bool {
	return req.Request && req.Opcode == schema.OpNotifyAuth &&
		len(req.Payload) >= 1 && req.Payload[0] == authMarker
}
