// Package mcptools exposes the engine as MCP tools over stdio.
package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/danmuck/earlink/internal/api"
	"github.com/danmuck/earlink/internal/logging"
	"github.com/danmuck/earlink/internal/params"
	"github.com/danmuck/earlink/internal/protocol"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"
)

const callTimeout = 5 * time.Second

type Tools struct {
	engine api.Engine
	server *server.MCPServer
	log    zerolog.Logger
}

func New(eng api.Engine, version string) *Tools {
	t := &Tools{
		engine: eng,
		server: server.NewMCPServer("earlink", version),
		log:    logging.Component("mcp"),
	}
	t.register()
	return t
}

func (t *Tools) Server() *server.MCPServer {
	return t.server
}

// ServeStdio blocks serving MCP on stdin/stdout.
func (t *Tools) ServeStdio() error {
	t.log.Info().Msg("mcp: serving on stdio")
	defer t.log.Info().Msg("mcp: stdio closed")
	return server.ServeStdio(t.server)
}

func (t *Tools) register() {
	device := mcp.WithString("device", mcp.Required(), mcp.Description("Bluetooth address of the headset"))

	t.server.AddTool(mcp.NewTool("list_devices",
		mcp.WithDescription("List known headsets and their connection status"),
	), t.listDevices)

	t.server.AddTool(mcp.NewTool("list_config",
		mcp.WithDescription("List the config values that can be read or written"),
	), t.listConfig)

	t.server.AddTool(mcp.NewTool("battery",
		mcp.WithDescription("Read left, right and case battery levels"),
		device,
	), t.battery)

	t.server.AddTool(mcp.NewTool("device_info",
		mcp.WithDescription("Read the model, firmware and bootloader versions and supported equalizer modes"),
		device,
	), t.deviceInfo)

	t.server.AddTool(mcp.NewTool("disable_in_ear_detect",
		mcp.WithDescription("Turn off the headset's own in-ear detection"),
		device,
	), t.disableInEarDetect)

	t.server.AddTool(mcp.NewTool("get_config",
		mcp.WithDescription("Read one config value by name or id"),
		device,
		mcp.WithString("name", mcp.Required(), mcp.Description("Config name, e.g. equalizer, or id such as 0x0007")),
	), t.getConfig)

	t.server.AddTool(mcp.NewTool("set_config",
		mcp.WithDescription("Write one config value"),
		device,
		mcp.WithString("name", mcp.Required(), mcp.Description("Config name or id")),
		mcp.WithString("value", mcp.Required(), mcp.Description("JSON value; bare words are taken as strings")),
	), t.setConfig)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(b)), nil
}

func errorResult(err error) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultError(err.Error()), nil
}

func (t *Tools) listDevices(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.engine.Devices())
}

func (t *Tools) listConfig(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(params.Entries())
}

func (t *Tools) battery(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("device")
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	b, err := protocol.Do(ctx, t.engine, id, protocol.Battery())
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(b)
}

func (t *Tools) deviceInfo(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("device")
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	info, err := api.ReadDeviceInfo(ctx, t.engine, id)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(info)
}

func (t *Tools) disableInEarDetect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("device")
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	accepted, err := protocol.Do(ctx, t.engine, id, protocol.DisableInEarDetect())
	if err != nil {
		return errorResult(err)
	}
	if !accepted {
		return errorResult(fmt.Errorf("%s: device rejected in-ear detect change", id))
	}
	t.log.Info().Str("device", id).Msg("mcp: in-ear detection disabled")
	return jsonResult(map[string]any{"device": id, "accepted": true})
}

func (t *Tools) getConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("device")
	if err != nil {
		return errorResult(err)
	}
	name, err := req.RequireString("name")
	if err != nil {
		return errorResult(err)
	}
	entry, err := params.Lookup(name)
	if err != nil {
		return errorResult(err)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	v, err := entry.Get(ctx, t.engine, id)
	if err != nil {
		return errorResult(err)
	}
	return jsonResult(map[string]any{"name": entry.Name, "value": v})
}

func (t *Tools) setConfig(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("device")
	if err != nil {
		return errorResult(err)
	}
	name, err := req.RequireString("name")
	if err != nil {
		return errorResult(err)
	}
	raw, err := req.RequireString("value")
	if err != nil {
		return errorResult(err)
	}
	entry, err := params.Lookup(name)
	if err != nil {
		return errorResult(err)
	}
	value := json.RawMessage(raw)
	if !json.Valid(value) {
		value, _ = json.Marshal(raw)
	}
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	accepted, err := entry.Set(ctx, t.engine, id, value)
	if err != nil {
		return errorResult(err)
	}
	if !accepted {
		return errorResult(fmt.Errorf("%s: device rejected the value", entry.Name))
	}
	t.log.Info().Str("device", id).Str("config", entry.Name).Msg("mcp: config written")
	return jsonResult(map[string]any{"name": entry.Name, "accepted": true})
}
