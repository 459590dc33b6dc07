// Package tools implements the server-side tool layer: the registry,
// per-request alias resolution, argument validation and the built-in
// file_search, agentic_search, image_generation and MCP tools.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openrelay-ai/openrelay/internal/config"
	"github.com/openrelay-ai/openrelay/internal/mcp"
	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/internal/vectorstore"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// Tool is a server-executable tool.
type Tool interface {
	Name() string
	Description() string

	// Parameters is the JSON schema of the arguments. Empty means
	// unvalidated.
	Parameters() json.RawMessage

	// Execute runs the tool and returns its output payload.
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// terminalTool marks tools whose output is itself the final response.
type terminalTool interface {
	terminal()
}

// IsTerminal reports whether a tool ends the orchestration when it
// succeeds.
func IsTerminal(t Tool) bool {
	_, ok := t.(terminalTool)
	return ok
}

// RequestScope carries per-request values tools need at construction.
type RequestScope struct {
	// Credential is the pass-through bearer token.
	Credential string

	// ImageBaseURL is the upstream used for image generation.
	ImageBaseURL string
}

// Service resolves and executes tools. Request-declared tool
// definitions are turned into an alias map per orchestration; execution
// wraps every call in a span, metrics and schema validation.
type Service struct {
	vectors *vectorstore.Service
	mcp     *mcp.Registry
	logger  *observability.Logger
	tracer  *observability.Tracer
	metrics *observability.Metrics
}

// NewService wires the tool layer. vectors enables the search tools;
// mcpRegistry enables mcp tool definitions. Either may be nil.
func NewService(vectors *vectorstore.Service, mcpRegistry *mcp.Registry, logger *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Service {
	return &Service{
		vectors: vectors,
		mcp:     mcpRegistry,
		logger:  logger,
		tracer:  tracer,
		metrics: metrics,
	}
}

// BuildAliasMap turns the request's tool definitions into the map the
// classifier resolves call names against. Plain function tools are
// client-side and deliberately absent: an unresolvable name is what
// marks a call as client-resolved.
func (s *Service) BuildAliasMap(ctx context.Context, defs []models.ToolDef, scope RequestScope) map[string]Tool {
	aliases := make(map[string]Tool)
	for _, def := range defs {
		name := def.Name
		if name == "" {
			name = def.Type
		}
		switch def.Type {
		case models.ToolTypeFileSearch:
			if s.vectors == nil {
				continue
			}
			aliases[name] = newFileSearchTool(name, s.vectors, def)
		case models.ToolTypeAgenticSearch:
			if s.vectors == nil {
				continue
			}
			aliases[name] = newAgenticSearchTool(name, s.vectors, def)
		case models.ToolTypeImageGeneration:
			aliases[name] = newImageGenerationTool(name, scope)
		case models.ToolTypeMCP:
			for toolName, tool := range s.mcpTools(ctx, def) {
				aliases[toolName] = tool
			}
		}
	}
	return aliases
}

// mcpTools resolves an mcp tool definition into the server's tools,
// restricted to allowed_tools when set.
func (s *Service) mcpTools(ctx context.Context, def models.ToolDef) map[string]Tool {
	if s.mcp == nil || def.ServerLabel == "" {
		return nil
	}
	client, ok := s.mcp.Get(def.ServerLabel)
	if !ok && def.ServerURL != "" {
		var err error
		client, err = s.mcp.Connect(ctx, config.MCPServerConfig{
			Label: def.ServerLabel,
			URL:   def.ServerURL,
		})
		if err != nil {
			s.logger.Warn(ctx, "mcp server unavailable", "server", def.ServerLabel, "error", err)
			return nil
		}
	}
	if client == nil {
		return nil
	}

	allowed := make(map[string]bool, len(def.AllowedTools))
	for _, name := range def.AllowedTools {
		allowed[name] = true
	}

	out := make(map[string]Tool)
	for _, info := range client.Tools() {
		if len(allowed) > 0 && !allowed[info.Name] {
			continue
		}
		out[info.Name] = &mcpTool{
			serverLabel: def.ServerLabel,
			info:        info,
			client:      client,
		}
	}
	return out
}

// GetFunctionTool resolves a call name against the request alias map. A
// miss means the call is client-side.
func (s *Service) GetFunctionTool(name string, aliases map[string]Tool) (Tool, bool) {
	tool, ok := aliases[name]
	return tool, ok
}

// Execute runs one native tool call inside an execute_tool span,
// validating arguments against the tool's schema first. The error
// return is a tool-level failure the caller embeds as the tool's
// output; it never aborts the orchestration.
func (s *Service) Execute(ctx context.Context, tool Tool, callID string, args string) (string, error) {
	ctx, span := s.tracer.StartToolExecution(ctx, tool.Name(), tool.Description(), callID)
	defer span.End()

	start := time.Now()
	output, err := s.execute(ctx, tool, args)
	if s.metrics != nil {
		s.metrics.RecordTool(tool.Name(), time.Since(start), err)
	}
	if err != nil {
		observability.RecordError(span, err)
		s.logger.Warn(ctx, "tool execution failed",
			"tool", tool.Name(), "call_id", callID, "error", err)
		return "", err
	}
	return output, nil
}

func (s *Service) execute(ctx context.Context, tool Tool, args string) (string, error) {
	raw := json.RawMessage(args)
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := validateArgs(tool.Parameters(), raw); err != nil {
		return "", fmt.Errorf("%s: %w", tool.Name(), err)
	}
	return tool.Execute(ctx, raw)
}
