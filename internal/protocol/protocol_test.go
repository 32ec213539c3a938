package protocol

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/danmuck/earlink/internal/protocol/frame"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/testutil/testlog"
)

type stubRequester struct {
	last  frame.Frame
	reply frame.Frame
	err   error
}

func (s *stubRequester) Request(_ context.Context, _ string, req frame.Frame) (frame.Frame, error) {
	s.last = req
	return s.reply, s.err
}

func TestConfigGetRequestPayload(t *testing.T) {
	testlog.Start(t)
	f := ConfigGetRequest(schema.ConfigEqualizerMode, schema.ConfigSerialNumber)
	if f.Opcode != schema.OpGetDeviceConfig || !f.Request || !f.NeedsReply {
		t.Fatalf("unexpected request header: %s", f)
	}
	if !bytes.Equal(f.Payload, []byte{0x00, 0x07, 0x00, 0x27}) {
		t.Fatalf("unexpected payload: % X", f.Payload)
	}
}

func TestConfigSetRequestPayload(t *testing.T) {
	testlog.Start(t)
	f, err := ConfigSetRequest(schema.ConfigEqualizerMode, []byte{0x01})
	if err != nil {
		t.Fatalf("config set: %v", err)
	}
	if f.Opcode != schema.OpSetDeviceConfig {
		t.Fatalf("unexpected opcode: 0x%02X", f.Opcode)
	}
	if !bytes.Equal(f.Payload, []byte{0x03, 0x00, 0x07, 0x01}) {
		t.Fatalf("unexpected payload: % X", f.Payload)
	}
}

func TestParseConfigReply(t *testing.T) {
	testlog.Start(t)
	ok := frame.Frame{Opcode: schema.OpGetDeviceConfig, Payload: []byte{0x03, 0x00, 0x07, 0x01}}
	v, err := ParseConfigReply(ok, schema.ConfigEqualizerMode)
	if err != nil {
		t.Fatalf("parse reply: %v", err)
	}
	if !bytes.Equal(v, []byte{0x01}) {
		t.Fatalf("unexpected value: % X", v)
	}

	cases := []struct {
		name    string
		payload []byte
		status  uint8
		want    error
	}{
		{name: "bare_sentinel", payload: []byte{0xFF}, want: ErrUnsupported},
		{name: "wrapped_sentinel", payload: []byte{0x03, 0x00, 0x07, 0xFF}, want: ErrUnsupported},
		{name: "short", payload: []byte{0x02, 0x00}, want: ErrLength},
		{name: "id_mismatch", payload: []byte{0x03, 0x00, 0x09, 0x01}, want: ErrMismatch},
		{name: "status", payload: []byte{0x03, 0x00, 0x07, 0x01}, status: 0x01, want: ErrStatus},
		{name: "truncated", payload: []byte{0x05, 0x00, 0x07, 0x01}, want: ErrLength},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConfigReply(frame.Frame{Status: tc.status, Payload: tc.payload}, schema.ConfigEqualizerMode)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if tc.want == ErrUnsupported && errors.Is(err, ErrProtocol) {
				t.Fatalf("unsupported must not classify as protocol error: %v", err)
			}
		})
	}
}

func TestDoParsesReply(t *testing.T) {
	testlog.Start(t)
	r := &stubRequester{reply: frame.Frame{Payload: []byte{0x04, schema.InfoBattery, 0x64, 0xB2, 0xFF}}}
	got, err := Do(context.Background(), r, "AA:BB", Battery())
	if err != nil {
		t.Fatalf("battery: %v", err)
	}
	if got.Left.Level != 100 || !got.Right.Charging || got.Case.Valid {
		t.Fatalf("unexpected battery: %+v", got)
	}
	if !bytes.Equal(r.last.Payload, []byte{0, 0, 0, 0x80}) {
		t.Fatalf("unexpected info request payload: % X", r.last.Payload)
	}

	r.err = errors.New("boom")
	if _, err := Do(context.Background(), r, "AA:BB", Battery()); err == nil {
		t.Fatalf("expected requester error")
	}
}

func TestDeviceInfoParsers(t *testing.T) {
	testlog.Start(t)
	r := &stubRequester{reply: frame.Frame{Payload: []byte{0x05, schema.InfoVidPid, 0x27, 0x17, 0x50, 0x35}}}
	m, err := Do(context.Background(), r, "dev", Model())
	if err != nil {
		t.Fatalf("model: %v", err)
	}
	if m.Vendor != 0x2717 || m.Product != 0x5035 || m.String() != "2717:5035" {
		t.Fatalf("unexpected model: %+v", m)
	}

	r.reply = frame.Frame{Payload: []byte{0x03, schema.InfoVersion, 0x01, 0x2A}}
	v, err := Do(context.Background(), r, "dev", FirmwareVersion())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != "12a" {
		t.Fatalf("unexpected version: %q", v)
	}

	r.reply = frame.Frame{Payload: []byte{0x03, schema.InfoBattery, 0x01, 0x2A}}
	if _, err := Do(context.Background(), r, "dev", FirmwareVersion()); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error on mask mismatch, got %v", err)
	}

	call := DisableInEarDetect()
	if !bytes.Equal(call.Request.Payload, []byte{0x02, schema.InfoSetInEarDetect, 0x01}) {
		t.Fatalf("unexpected in-ear detect payload: % X", call.Request.Payload)
	}
}

func TestParseBatteryNotification(t *testing.T) {
	testlog.Start(t)
	b, ok, err := ParseBatteryNotification([]byte{schema.NotifyBattery, 0x32, 0x33, 0x64})
	if err != nil || !ok {
		t.Fatalf("battery notification ok=%v err=%v", ok, err)
	}
	if b.Left.Level != 50 || b.Right.Level != 51 || b.Case.Level != 100 {
		t.Fatalf("unexpected battery: %+v", b)
	}
	if got := BatteryNotification(0x32, 0x33, 0x64); !bytes.Equal(got, []byte{0x07, 0x32, 0x33, 0x64}) {
		t.Fatalf("unexpected notification bytes: % X", got)
	}

	cases := []struct {
		name    string
		payload []byte
		ok      bool
		wantErr error
	}{
		{name: "short battery", payload: []byte{schema.NotifyBattery, 0x50, 0x51}, wantErr: ErrLength},
		{name: "long battery", payload: []byte{schema.NotifyBattery, 0x50, 0x51, 0x52, 0x53}, wantErr: ErrLength},
		{name: "empty", payload: nil, wantErr: ErrLength},
		{name: "other type", payload: []byte{0x02, 0x01, 0x00}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, ok, err := ParseBatteryNotification(tc.payload)
			if ok != tc.ok {
				t.Fatalf("ok got=%v want=%v", ok, tc.ok)
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestParseConfigNotification(t *testing.T) {
	testlog.Start(t)
	n, err := ParseConfigNotification([]byte{0x00, 0x0C, 0x08})
	if err != nil {
		t.Fatalf("in-ear notification: %v", err)
	}
	if n.ID != schema.ConfigInEarState || !bytes.Equal(n.Value, []byte{0x08}) {
		t.Fatalf("unexpected notification %+v", n)
	}

	n, err = ParseConfigNotification([]byte{0x00, 0x0A, 0x03, 0x05})
	if err != nil {
		t.Fatalf("noise list notification: %v", err)
	}
	if n.ID != schema.ConfigNoiseCancellationList || !bytes.Equal(n.Value, []byte{0x03, 0x05}) {
		t.Fatalf("unexpected notification %+v", n)
	}
	if got := ConfigNotificationPayload(schema.ConfigEqualizerMode, []byte{0x14}); !bytes.Equal(got, []byte{0x00, 0x07, 0x14}) {
		t.Fatalf("unexpected payload % X", got)
	}

	for _, payload := range [][]byte{nil, {0x00}, {0x00, 0x0C}} {
		if _, err := ParseConfigNotification(payload); !errors.Is(err, ErrLength) {
			t.Fatalf("payload % X: expected ErrLength, got %v", payload, err)
		}
	}
}

func TestAuthPayloads(t *testing.T) {
	testlog.Start(t)
	challenge := bytes.Repeat([]byte{0xA5}, ChallengeLen)
	req := AuthChallengeRequest(challenge)
	if req.Opcode != schema.OpSendAuth || len(req.Payload) != 17 || req.Payload[0] != 0x01 {
		t.Fatalf("unexpected challenge request: %s", req)
	}

	answer := bytes.Repeat([]byte{0x5A}, ChallengeLen)
	reply := frame.Frame{Opcode: schema.OpSendAuth, Payload: append([]byte{0x01}, answer...)}
	if err := CheckAuthAnswer(reply, answer); err != nil {
		t.Fatalf("check answer: %v", err)
	}
	if err := CheckAuthAnswer(reply, challenge); !errors.Is(err, ErrMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	devReq := frame.Frame{Request: true, NeedsReply: true, Opcode: schema.OpSendAuth, Seq: 9, Payload: append([]byte{0x01}, challenge...)}
	got, err := DeviceChallenge(devReq)
	if err != nil {
		t.Fatalf("device challenge: %v", err)
	}
	if !bytes.Equal(got, challenge) {
		t.Fatalf("challenge mismatch")
	}
	ans := AuthAnswer(devReq, answer)
	if ans.Request || ans.Seq != 9 || ans.Opcode != schema.OpSendAuth || len(ans.Payload) != 17 {
		t.Fatalf("unexpected answer frame: %s", ans)
	}
	if _, err := DeviceChallenge(frame.Frame{Request: true, Opcode: schema.OpSendAuth, Payload: []byte{0x01}}); !errors.Is(err, ErrLength) {
		t.Fatalf("expected length error, got %v", err)
	}

	if err := CheckAuthConfirm(frame.Frame{Payload: []byte{0x01}}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := CheckAuthConfirm(frame.Frame{Payload: []byte{0x00}}); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
