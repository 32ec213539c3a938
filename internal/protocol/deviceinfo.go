package protocol

import (
	"fmt"

	"github.com/danmuck/earlink/internal/earbuds"
	"github.com/danmuck/earlink/internal/protocol/bytesutil"
	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/protocol/tlv"
)

// VidPid identifies a device model.
type VidPid struct {
	Vendor  uint16 `json:"vendor_id"`
	Product uint16 `json:"product_id"`
}

func (v VidPid) String() string {
	return fmt.Sprintf("%04X:%04X", v.Vendor, v.Product)
}

func InfoGetRequest(mask uint8) frame.Frame {
	return frame.NewRequest(schema.OpGetDeviceInfo, []byte{0x00, 0x00, 0x00, byte(1) << mask}, true)
}

func infoCall[T any](name string, mask uint8, parse func(data []byte) T) Call[T] {
	return Call[T]{
		Name:    name,
		Request: InfoGetRequest(mask),
		Parse: func(reply frame.Frame) (T, error) {
			var zero T
			if reply.Status != schema.StatusOK {
				return zero, protoErr(name, ErrStatus, "status 0x%02X", reply.Status)
			}
			if err := schema.ValidateInfoReply(mask, reply.Payload); err != nil {
				return zero, protoErr(name, ErrLength, "%v", err)
			}
			return parse(reply.Payload), nil
		},
	}
}

// Battery reads the left/right/case battery bytes.
func Battery() Call[earbuds.Earbuds] {
	return infoCall("battery", schema.InfoBattery, func(d []byte) earbuds.Earbuds {
		return earbuds.FromBytes(d[2], d[3], d[4])
	})
}

// FirmwareVersion reads the firmware version as a hex string.
func FirmwareVersion() Call[string] {
	return infoCall("firmware_version", schema.InfoVersion, func(d []byte) string {
		return fmt.Sprintf("%x", bytesutil.Join(d[2], d[3]))
	})
}

// UbootVersion reads the bootloader version as a hex string.
func UbootVersion() Call[string] {
	return infoCall("uboot_version", schema.InfoUbootVersion, func(d []byte) string {
		return fmt.Sprintf("%x", bytesutil.Join(d[2], d[3]))
	})
}

// Model reads the vendor and product ids.
func Model() Call[VidPid] {
	return infoCall("vid_pid", schema.InfoVidPid, func(d []byte) VidPid {
		return VidPid{Vendor: bytesutil.Join(d[2], d[3]), Product: bytesutil.Join(d[4], d[5])}
	})
}

// InfoSet writes a device-info key: [len, key, value...].
func InfoSet(key uint8, value []byte) (Call[bool], error) {
	payload, err := tlv.EncodeRecord(tlv.Tag8, tlv.Record{Tag: uint16(key), Value: value})
	if err != nil {
		return Call[bool]{}, fmt.Errorf("protocol: device info 0x%02X: %w", key, err)
	}
	return infoSetCall(key, payload), nil
}

func infoSetCall(key uint8, payload []byte) Call[bool] {
	return Call[bool]{
		Name:    fmt.Sprintf("info_set/0x%02X", key),
		Request: frame.NewRequest(schema.OpSetDeviceInfo, payload, true),
		Parse:   StatusOK,
	}
}

// DisableInEarDetect turns off the headset's own in-ear detection.
func DisableInEarDetect() Call[bool] {
	return infoSetCall(schema.InfoSetInEarDetect, []byte{0x02, schema.InfoSetInEarDetect, 0x01})
}

// ParseBatteryNotification extracts a battery report from a device-info
// notification payload [type, left, right, case]. ok is false when the
// notification carries another type.
func ParseBatteryNotification(payload []byte) (earbuds.Earbuds, bool, error) {
	if len(payload) == 0 {
		return earbuds.Earbuds{}, false, protoErr("notify_device_info", ErrLength, "empty payload")
	}
	if payload[0] != schema.NotifyBattery {
		return earbuds.Earbuds{}, false, nil
	}
	if len(payload) != 4 {
		return earbuds.Earbuds{}, false, protoErr("notify_device_info", ErrLength, "battery report %d bytes", len(payload))
	}
	return earbuds.FromBytes(payload[1], payload[2], payload[3]), true, nil
}

// BatteryNotification is the payload the device sends for a battery report.
func BatteryNotification(left, right, caseByte byte) []byte {
	return []byte{schema.NotifyBattery, left, right, caseByte}
}
