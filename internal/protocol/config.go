package protocol

import (
	"bytes"
	"fmt"

	"github.com/danmuck/earlink/internal/protocol/bytesutil"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/protocol/tlv"
)

// ConfigGetRequest asks for one or more config ids, each as a big-endian
// 16-bit value.
func ConfigGetRequest(ids ...uint16) frame.Frame {
	payload := make([]byte, 0, len(ids)*2)
	for _, id := range ids {
		payload = append(payload, byte(id>>8), byte(id))
	}
	return frame.NewRequest(schema.OpGetDeviceConfig, payload, true)
}

// ConfigSetRequest wraps value as a length-prefixed record with a 16-bit tag.
func ConfigSetRequest(id uint16, value []byte) (frame.Frame, error) {
	payload, err := tlv.EncodeRecord(tlv.Tag16, tlv.Record{Tag: id, Value: value})
	if err != nil {
		return frame.Frame{}, fmt.Errorf("protocol: config 0x%04X: %w", id, err)
	}
	return frame.NewRequest(schema.OpSetDeviceConfig, payload, true), nil
}

// IsUnsupportedValue reports the single-byte not-supported sentinel.
func IsUnsupportedValue(b []byte) bool {
	return len(b) == 1 && b[0] == schema.Unsupported
}

// ParseConfigReply extracts the raw value for id from a get-config reply.
func ParseConfigReply(reply frame.Frame, id uint16) ([]byte, error) {
	const op = "get_device_config"
	if reply.Status != schema.StatusOK {
		return nil, protoErr(op, ErrStatus, "config 0x%04X status 0x%02X", id, reply.Status)
	}
	data := reply.Payload
	if IsUnsupportedValue(data) {
		return nil, fmt.Errorf("config 0x%04X: %w", id, ErrUnsupported)
	}
	if len(data) < 3 {
		return nil, protoErr(op, ErrLength, "config 0x%04X reply too short: %d bytes", id, len(data))
	}
	records, err := tlv.DecodeRecords(tlv.Tag16, data)
	if len(records) == 0 {
		return nil, protoErr(op, ErrLength, "config 0x%04X reply: %v", id, err)
	}
	rec := records[0]
	if rec.Tag != id {
		return nil, protoErr(op, ErrMismatch, "config id want 0x%04X got 0x%04X", id, rec.Tag)
	}
	if IsUnsupportedValue(rec.Value) {
		return nil, fmt.Errorf("config 0x%04X: %w", id, ErrUnsupported)
	}
	return rec.Value, nil
}

// ConfigGet builds the call returning the raw value for id.
func ConfigGet(id uint16) Call[[]byte] {
	return Call[[]byte]{
		Name:    fmt.Sprintf("config_get/0x%04X", id),
		Request: ConfigGetRequest(id),
		Parse: func(reply frame.Frame) ([]byte, error) {
			return ParseConfigReply(reply, id)
		},
	}
}

// ConfigSet builds the call writing value to id; success is status == 0.
func ConfigSet(id uint16, value []byte) (Call[bool], error) {
	req, err := ConfigSetRequest(id, value)
	if err != nil {
		return Call[bool]{}, err
	}
	return Call[bool]{
		Name:    fmt.Sprintf("config_set/0x%04X", id),
		Request: req,
		Parse:   StatusOK,
	}, nil
}

// ConfigNotification is a decoded device-config notification.
type ConfigNotification struct {
	ID    uint16
	Value []byte
}

// ParseConfigNotification decodes a device-config notification payload
// [id_hi, id_lo, value...]. The value has at least one byte.
func ParseConfigNotification(payload []byte) (ConfigNotification, error) {
	if len(payload) < 3 {
		return ConfigNotification{}, protoErr("notify_device_config", ErrLength, "payload %d bytes", len(payload))
	}
	return ConfigNotification{
		ID:    bytesutil.Join(payload[0], payload[1]),
		Value: bytes.Clone(payload[2:]),
	}, nil
}

// ConfigNotificationPayload is the inverse of ParseConfigNotification.
func ConfigNotificationPayload(id uint16, value []byte) []byte {
	return append([]byte{byte(id >> 8), byte(id)}, value...)
}
