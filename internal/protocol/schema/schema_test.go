package schema

import (
	"errors"
	"testing"

	"github.com/danmuck/earlink/internal/testutil/testlog"
)

func TestValidateInfoReply(t *testing.T) {
	testlog.Start(t)
	if err := ValidateInfoReply(InfoBattery, []byte{0x04, InfoBattery, 0x64, 0x64, 0x32}); err != nil {
		t.Fatalf("validate battery: %v", err)
	}
	if err := ValidateInfoReply(InfoVidPid, []byte{0x05, InfoVidPid, 0x27, 0x17, 0x50, 0x35}); err != nil {
		t.Fatalf("validate vid/pid: %v", err)
	}
}

func TestValidateInfoReplyRejects(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		mask uint8
		data []byte
	}{
		{name: "unknown_mask", mask: 2, data: []byte{0x01, 0x02}},
		{name: "short", mask: InfoBattery, data: []byte{0x03, InfoBattery, 0x64, 0x64}},
		{name: "declared_len", mask: InfoVersion, data: []byte{0x02, InfoVersion, 0x01, 0x02}},
		{name: "mask_echo", mask: InfoVersion, data: []byte{0x03, InfoBattery, 0x01, 0x02}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateInfoReply(tc.mask, tc.data)
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Opcode != OpGetDeviceInfo {
				t.Fatalf("unexpected opcode: 0x%02X", verr.Opcode)
			}
		})
	}
}

func TestOpcodeClassification(t *testing.T) {
	testlog.Start(t)
	if !IsNotification(OpNotifyDeviceConfig) || !IsNotification(OpNotifyDeviceInfo) {
		t.Fatalf("notify opcodes not classified")
	}
	if IsNotification(OpGetDeviceConfig) {
		t.Fatalf("get config is not a notification")
	}
	if !IsAuth(OpSendAuth) || !IsAuth(OpNotifyAuth) || IsAuth(OpSetDeviceConfig) {
		t.Fatalf("auth classification mismatch")
	}
	if OpcodeName(OpGetDeviceConfig) != "get_device_config" || OpcodeName(0x99) != "0x99" {
		t.Fatalf("unexpected opcode names")
	}
}
