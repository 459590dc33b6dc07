package mcp

import (
	"context"
	"fmt"
	"sync"

	"github.com/openrelay-ai/openrelay/internal/config"
	"github.com/openrelay-ai/openrelay/internal/observability"
)

// Registry holds the connected MCP clients, keyed by server label.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Client
	logger  *observability.Logger
}

// NewRegistry connects to every configured server. A server that fails
// to connect is logged and skipped; the gateway starts without it.
func NewRegistry(ctx context.Context, cfg config.MCPConfig, logger *observability.Logger) *Registry {
	r := &Registry{
		clients: make(map[string]*Client),
		logger:  logger,
	}
	for _, server := range cfg.Servers {
		client := NewClient(server, logger)
		if err := client.Connect(ctx); err != nil {
			logger.Warn(ctx, "mcp server unavailable", "server", server.Label, "error", err)
			continue
		}
		r.clients[server.Label] = client
	}
	return r
}

// Get returns the client for a server label.
func (r *Registry) Get(label string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	client, ok := r.clients[label]
	return client, ok
}

// Connect adds a server at runtime, e.g. one declared in a request's
// mcp tool definition.
func (r *Registry) Connect(ctx context.Context, server config.MCPServerConfig) (*Client, error) {
	r.mu.RLock()
	existing, ok := r.clients[server.Label]
	r.mu.RUnlock()
	if ok {
		return existing, nil
	}

	client := NewClient(server, r.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect mcp server %s: %w", server.Label, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clients[server.Label]; ok {
		client.Close()
		return existing, nil
	}
	r.clients[server.Label] = client
	return client, nil
}

// Close shuts every client down.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, client := range r.clients {
		client.Close()
	}
	r.clients = make(map[string]*Client)
}
