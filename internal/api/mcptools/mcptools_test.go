package mcptools

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/earlink/internal/auth"
	"github.com/danmuck/earlink/internal/engine"
	"github.com/danmuck/earlink/internal/protocol/schema"
	"github.com/danmuck/earlink/internal/testutil/fakebuds"
	"github.com/danmuck/earlink/internal/testutil/testlog"
	"github.com/mark3labs/mcp-go/mcp"
)

const budsID = "AA:BB:CC:DD:EE:02"

func newTestTools(t *testing.T) (*Tools, *fakebuds.Device) {
	t.Helper()
	buds := fakebuds.New(budsID)
	eng, err := engine.New(engine.Deps{
		Dialer:    buds.Dialer(),
		Encryptor: auth.StaticKey{Key: fakebuds.TestKey},
	}, engine.DefaultConfig())
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	t.Cleanup(eng.Stop)
	eng.HandlePeerConnected(budsID)
	deadline := time.Now().Add(3 * time.Second)
	for eng.Status(budsID) != engine.StatusConnected {
		if time.Now().After(deadline) {
			t.Fatalf("device did not connect")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return New(eng, "test"), buds
}

func call(name string, args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatalf("empty tool result")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return text.Text
}

func TestListDevices(t *testing.T) {
	testlog.Start(t)
	tools, _ := newTestTools(t)

	res, err := tools.listDevices(context.Background(), call("list_devices", nil))
	if err != nil {
		t.Fatalf("list_devices: %v", err)
	}
	var devices []struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &devices); err != nil {
		t.Fatalf("decode devices: %v", err)
	}
	if len(devices) != 1 || devices[0].ID != budsID || devices[0].Status != "connected" {
		t.Fatalf("unexpected devices %+v", devices)
	}
}

func TestBatteryTool(t *testing.T) {
	testlog.Start(t)
	tools, _ := newTestTools(t)

	res, err := tools.battery(context.Background(), call("battery", map[string]any{"device": budsID}))
	if err != nil {
		t.Fatalf("battery: %v", err)
	}
	if res.IsError {
		t.Fatalf("battery tool error: %s", resultText(t, res))
	}
	var out struct {
		Left struct {
			Level int `json:"level"`
		} `json:"left"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("decode battery: %v", err)
	}
	if out.Left.Level != 85 {
		t.Fatalf("left level got=%d want=85", out.Left.Level)
	}

	res, _ = tools.battery(context.Background(), call("battery", map[string]any{}))
	if !res.IsError {
		t.Fatalf("missing device argument should be a tool error")
	}
}

func TestConfigTools(t *testing.T) {
	testlog.Start(t)
	tools, buds := newTestTools(t)
	ctx := context.Background()

	res, err := tools.setConfig(ctx, call("set_config", map[string]any{
		"device": budsID,
		"name":   "equalizer",
		"value":  "harman",
	}))
	if err != nil || res.IsError {
		t.Fatalf("set_config err=%v result=%s", err, resultText(t, res))
	}
	if got := buds.Config(schema.ConfigEqualizerMode); len(got) != 1 || got[0] != 0x14 {
		t.Fatalf("device equalizer got=%x want=14", got)
	}

	res, err = tools.getConfig(ctx, call("get_config", map[string]any{"device": budsID, "name": "equalizer"}))
	if err != nil || res.IsError {
		t.Fatalf("get_config err=%v", err)
	}
	if !strings.Contains(resultText(t, res), `"harman"`) {
		t.Fatalf("unexpected get_config result %s", resultText(t, res))
	}

	res, _ = tools.setConfig(ctx, call("set_config", map[string]any{
		"device": budsID,
		"name":   "serial_number",
		"value":  "X",
	}))
	if !res.IsError {
		t.Fatalf("writing a read-only config should fail")
	}

	res, _ = tools.getConfig(ctx, call("get_config", map[string]any{"device": budsID, "name": "volume"}))
	if !res.IsError {
		t.Fatalf("unknown config should fail")
	}
}

func TestDeviceInfoAndInEarDetectTools(t *testing.T) {
	testlog.Start(t)
	tools, buds := newTestTools(t)
	ctx := context.Background()

	res, err := tools.deviceInfo(ctx, call("device_info", map[string]any{"device": budsID}))
	if err != nil || res.IsError {
		t.Fatalf("device_info err=%v", err)
	}
	var info struct {
		Firmware string `json:"firmware"`
		Uboot    string `json:"uboot"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Firmware != "123" || info.Uboot != "7" {
		t.Fatalf("unexpected info %+v", info)
	}

	res, err = tools.disableInEarDetect(ctx, call("disable_in_ear_detect", map[string]any{"device": budsID}))
	if err != nil || res.IsError {
		t.Fatalf("disable_in_ear_detect err=%v result=%s", err, resultText(t, res))
	}
	if got := buds.InfoSetValue(schema.InfoSetInEarDetect); len(got) != 1 || got[0] != 0x01 {
		t.Fatalf("device in-ear detect value got=%x want=01", got)
	}

	res, _ = tools.disableInEarDetect(ctx, call("disable_in_ear_detect", map[string]any{}))
	if !res.IsError {
		t.Fatalf("missing device argument should be a tool error")
	}
}
