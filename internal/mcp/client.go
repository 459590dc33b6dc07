package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/openrelay-ai/openrelay/internal/config"
	"github.com/openrelay-ai/openrelay/internal/observability"
)

// Client talks to a single MCP server.
type Client struct {
	label     string
	transport Transport
	logger    *observability.Logger

	mu         sync.RWMutex
	tools      []ToolInfo
	serverInfo ServerInfo
}

// NewClient builds a client for one configured server.
func NewClient(cfg config.MCPServerConfig, logger *observability.Logger) *Client {
	return &Client{
		label:     cfg.Label,
		transport: NewTransport(cfg),
		logger:    logger,
	}
}

// Label is the config-declared server label.
func (c *Client) Label() string { return c.label }

// Connect establishes the transport, runs the initialize handshake and
// caches the server's tool list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "openrelay",
			"version": "1.0.0",
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}
	var init initializeResult
	if err := json.Unmarshal(result, &init); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}
	c.serverInfo = init.ServerInfo

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn(ctx, "mcp initialized notification failed", "server", c.label, "error", err)
	}
	if err := c.RefreshTools(ctx); err != nil {
		c.logger.Warn(ctx, "mcp tools/list failed", "server", c.label, "error", err)
	}

	c.logger.Info(ctx, "mcp server connected",
		"server", c.label, "name", c.serverInfo.Name, "tools", len(c.Tools()))
	return nil
}

// Close shuts the transport down.
func (c *Client) Close() error { return c.transport.Close() }

// RefreshTools re-fetches the server's tool list.
func (c *Client) RefreshTools(ctx context.Context) error {
	result, err := c.transport.Call(ctx, "tools/list", nil)
	if err != nil {
		return err
	}
	var list listToolsResult
	if err := json.Unmarshal(result, &list); err != nil {
		return fmt.Errorf("parse tools/list result: %w", err)
	}
	c.mu.Lock()
	c.tools = list.Tools
	c.mu.Unlock()
	return nil
}

// Tools returns the cached tool list.
func (c *Client) Tools() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// CallTool invokes one tool with JSON arguments.
func (c *Client) CallTool(ctx context.Context, name string, args json.RawMessage) (*ToolResult, error) {
	params := map[string]any{"name": name}
	if len(args) > 0 {
		params["arguments"] = args
	}
	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, fmt.Errorf("tools/call %s: %w", name, err)
	}
	var out ToolResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("parse tools/call result: %w", err)
	}
	return &out, nil
}
