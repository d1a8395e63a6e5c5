package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mbocsi/meshswitch/node"
	"github.com/mbocsi/meshswitch/proto"
)

// Device is the part of the node the tools drive. Status and SetRelay are only
// called inside Do.
type Device interface {
	Do(ctx context.Context, fn func()) error
	Status() node.Status
	SetRelay(on bool)
}

const callTimeout = 5 * time.Second

// DeviceTools exposes a switch to MCP clients.
type DeviceTools struct {
	server *MCPServer
	device Device
}

func NewDeviceTools(server *MCPServer, device Device) *DeviceTools {
	t := &DeviceTools{server: server, device: device}
	t.register()
	return t
}

func (t *DeviceTools) register() {
	statusTool := mcp.NewTool("device_status",
		mcp.WithDescription("Get the relay state, mesh address and pending sends of this switch"),
	)
	t.server.AddTool(statusTool, t.handleDeviceStatus)

	relayTool := mcp.NewTool("set_relay",
		mcp.WithDescription("Switch the relay on or off, as if the button was pressed"),
		mcp.WithString("state",
			mcp.Required(),
			mcp.Description("Requested relay state"),
			mcp.Enum(proto.StateOn, proto.StateOff),
		),
	)
	t.server.AddTool(relayTool, t.handleSetRelay)

	gatewayTool := mcp.NewTool("gateway_status",
		mcp.WithDescription("Get the adopted gateway and whether its MQTT bridge is online"),
	)
	t.server.AddTool(gatewayTool, t.handleGatewayStatus)
}

func (t *DeviceTools) status(ctx context.Context) (node.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	var s node.Status
	err := t.device.Do(ctx, func() { s = t.device.Status() })
	return s, err
}

func (t *DeviceTools) handleDeviceStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := t.status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Device loop unavailable: %v", err)), nil
	}

	result := map[string]any{
		"name":        s.Name,
		"addr":        s.Addr,
		"net":         s.Net,
		"relay":       s.Relay,
		"pending":     s.Pending,
		"portal_open": s.PortalOpen,
		"uptime":      s.Uptime.Round(time.Second).String(),
	}
	resultBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(resultBytes)), nil
}

func (t *DeviceTools) handleSetRelay(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	state, err := request.RequireString("state")
	if err != nil {
		return mcp.NewToolResultError("state is required and must be a string"), nil
	}
	state = strings.ToUpper(state)
	if state != proto.StateOn && state != proto.StateOff {
		return mcp.NewToolResultError(fmt.Sprintf("state must be %s or %s", proto.StateOn, proto.StateOff)), nil
	}

	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := t.device.Do(ctx, func() { t.device.SetRelay(state == proto.StateOn) }); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Device loop unavailable: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Relay switched %s", state)), nil
}

func (t *DeviceTools) handleGatewayStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := t.status(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Device loop unavailable: %v", err)), nil
	}

	result := map[string]any{
		"gateway":       s.Gateway,
		"available":     s.GatewayAvailable,
		"bridge_online": s.BridgeOnline,
	}
	resultBytes, _ := json.Marshal(result)
	return mcp.NewToolResultText(string(resultBytes)), nil
}
