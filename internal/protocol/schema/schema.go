package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Opcodes. Requests carry them in both directions; notifications are
// device-originated requests.
const (
	OpGetDeviceInfo      uint8 = 0x02
	OpSetDeviceInfo      uint8 = 0x08
	OpNotifyDeviceInfo   uint8 = 0x0E
	OpSendAuth           uint8 = 0x50
	OpNotifyAuth         uint8 = 0x51
	OpSetDeviceConfig    uint8 = 0xF2
	OpGetDeviceConfig    uint8 = 0xF3
	OpNotifyDeviceConfig uint8 = 0xF4
)

// Reply status codes.
const (
	StatusOK      uint8 = 0x00
	StatusUnknown uint8 = 0xFF
)

// Device-info masks; a get request selects one with 1<<mask.
const (
	InfoVersion      uint8 = 1
	InfoVidPid       uint8 = 3
	InfoUbootVersion uint8 = 6
	InfoBattery      uint8 = 7
)

// Device-info keys accepted by OpSetDeviceInfo.
const (
	InfoSetInEarDetect uint8 = 0x0B
)

// NotifyBattery is the leading type byte of a battery notification.
const NotifyBattery uint8 = 0x07

// Config ids.
const (
	ConfigGesture               uint16 = 0x0002
	ConfigMultiConnect          uint16 = 0x0004
	ConfigEqualizerMode         uint16 = 0x0007
	ConfigFindEarbuds           uint16 = 0x0009
	ConfigNoiseCancellationList uint16 = 0x000A
	ConfigNoiseCancellationMode uint16 = 0x000B
	ConfigInEarState            uint16 = 0x000C
	ConfigSerialNumber          uint16 = 0x0027
)

// Unsupported is the single-byte config payload a device returns for a
// feature it does not implement.
const Unsupported byte = 0xFF

type ValidationError struct {
	Opcode uint8
	Mask   uint8
	Reason string
}

func (e ValidationError) Error() string {
	if e.Mask == 0 {
		return fmt.Sprintf("schema: opcode=0x%02X: %s", e.Opcode, e.Reason)
	}
	return fmt.Sprintf("schema: opcode=0x%02X mask=%d: %s", e.Opcode, e.Mask, e.Reason)
}

// infoSizes is the exact reply payload size per device-info mask:
// [len, mask, data...].
var infoSizes = map[uint8]int{
	InfoVersion:      4,
	InfoVidPid:       6,
	InfoUbootVersion: 4,
	InfoBattery:      5,
}

// InfoSize returns the expected reply size for a device-info mask.
func InfoSize(mask uint8) (int, bool) {
	n, ok := infoSizes[mask]
	return n, ok
}

// ValidateInfoReply checks a device-info reply payload against mask.
func ValidateInfoReply(mask uint8, data []byte) error {
	want, ok := infoSizes[mask]
	if !ok {
		log.Error().Uint8("mask", mask).Msg("schema: unknown device-info mask")
		return ValidationError{Opcode: OpGetDeviceInfo, Mask: mask, Reason: "unknown mask"}
	}
	if len(data) != want {
		return ValidationError{
			Opcode: OpGetDeviceInfo,
			Mask:   mask,
			Reason: fmt.Sprintf("length mismatch: want %d got %d", want, len(data)),
		}
	}
	if int(data[0]) != len(data)-1 {
		return ValidationError{
			Opcode: OpGetDeviceInfo,
			Mask:   mask,
			Reason: fmt.Sprintf("declared length %d does not cover %d bytes", data[0], len(data)-1),
		}
	}
	if data[1] != mask {
		return ValidationError{
			Opcode: OpGetDeviceInfo,
			Mask:   mask,
			Reason: fmt.Sprintf("mask echo mismatch: got %d", data[1]),
		}
	}
	return nil
}

// IsNotification reports whether a device-originated request with opcode
// carries an unsolicited notification for the dispatcher.
func IsNotification(opcode uint8) bool {
	return opcode == OpNotifyDeviceInfo || opcode == OpNotifyDeviceConfig
}

// IsAuth reports whether opcode belongs to the authentication handshake.
func IsAuth(opcode uint8) bool {
	return opcode == OpSendAuth || opcode == OpNotifyAuth
}

var opcodeNames = map[uint8]string{
	OpGetDeviceInfo:      "get_device_info",
	OpSetDeviceInfo:      "set_device_info",
	OpNotifyDeviceInfo:   "notify_device_info",
	OpSendAuth:           "send_auth",
	OpNotifyAuth:         "notify_auth",
	OpSetDeviceConfig:    "set_device_config",
	OpGetDeviceConfig:    "get_device_config",
	OpNotifyDeviceConfig: "notify_device_config",
}

// OpcodeName is a stable label for logs and metrics.
func OpcodeName(op uint8) string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", op)
}
