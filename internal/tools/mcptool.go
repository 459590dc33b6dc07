package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openrelay-ai/openrelay/internal/mcp"
)

// mcpTool proxies one remote MCP tool.
type mcpTool struct {
	serverLabel string
	info        mcp.ToolInfo
	client      *mcp.Client
}

func (t *mcpTool) Name() string        { return t.info.Name }
func (t *mcpTool) Description() string { return t.info.Description }

func (t *mcpTool) Parameters() json.RawMessage { return t.info.InputSchema }

// ServerLabel names the MCP server, used for event prefixes.
func (t *mcpTool) ServerLabel() string { return t.serverLabel }

func (t *mcpTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	result, err := t.client.CallTool(ctx, t.info.Name, args)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", fmt.Errorf("%s: %s", t.info.Name, result.Text())
	}
	return result.Text(), nil
}

// MCPServerLabel returns the server label when the tool is MCP-backed.
func MCPServerLabel(t Tool) (string, bool) {
	if m, ok := t.(interface{ ServerLabel() string }); ok {
		return m.ServerLabel(), true
	}
	return "", false
}
