package mcp

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrelay-ai/openrelay/internal/config"
)

// Transport carries JSON-RPC calls to one MCP server.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error

	// Call sends a request and waits for the matching response.
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)

	// Notify sends a notification; no response is expected.
	Notify(ctx context.Context, method string, params any) error
}

// NewTransport picks the transport from the server config: a URL means
// HTTP, otherwise a subprocess over stdio.
func NewTransport(cfg config.MCPServerConfig) Transport {
	if cfg.URL != "" {
		return newHTTPTransport(cfg)
	}
	return newStdioTransport(cfg)
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}
	return data, nil
}

// httpTransport posts each request to the server URL.
type httpTransport struct {
	config config.MCPServerConfig
	client *http.Client
	nextID atomic.Int64
}

func newHTTPTransport(cfg config.MCPServerConfig) *httpTransport {
	return &httpTransport{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (t *httpTransport) Connect(context.Context) error { return nil }
func (t *httpTransport) Close() error                  { return nil }

func (t *httpTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}
	req := rpcRequest{JSONRPC: "2.0", ID: t.nextID.Add(1), Method: method, Params: raw}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("http %d: %s", resp.StatusCode, msg)
	}

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

func (t *httpTransport) Notify(ctx context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: raw}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range t.config.Headers {
		httpReq.Header.Set(k, v)
	}
	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	resp.Body.Close()
	return nil
}

// stdioTransport speaks newline-delimited JSON-RPC with a subprocess.
type stdioTransport struct {
	config config.MCPServerConfig

	process *exec.Cmd
	stdin   io.WriteCloser

	mu      sync.Mutex
	pending map[int64]chan *rpcResponse
	nextID  atomic.Int64

	connected atomic.Bool
	wg        sync.WaitGroup
}

func newStdioTransport(cfg config.MCPServerConfig) *stdioTransport {
	return &stdioTransport{
		config:  cfg,
		pending: make(map[int64]chan *rpcResponse),
	}
}

func (t *stdioTransport) Connect(ctx context.Context) error {
	if t.config.Command == "" {
		return fmt.Errorf("mcp server %s: command is required for stdio transport", t.config.Label)
	}

	t.process = exec.CommandContext(ctx, t.config.Command, t.config.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.config.Env {
		t.process.Env = append(t.process.Env, k+"="+v)
	}

	stdin, err := t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	t.stdin = stdin
	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}
	t.connected.Store(true)

	t.wg.Add(1)
	go t.readLoop(stdout)
	return nil
}

func (t *stdioTransport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
		t.process.Wait()
	}
	t.wg.Wait()
	return nil
}

func (t *stdioTransport) readLoop(stdout io.Reader) {
	defer t.wg.Done()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 1<<20), 1<<20)
	for scanner.Scan() {
		var resp rpcResponse
		if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
			continue
		}
		id, ok := responseID(resp.ID)
		if !ok {
			// Server notification; this client has no use for them.
			continue
		}
		t.mu.Lock()
		ch := t.pending[id]
		delete(t.pending, id)
		t.mu.Unlock()
		if ch != nil {
			ch <- &resp
		}
	}

	// Process ended: fail everything still waiting.
	t.mu.Lock()
	for id, ch := range t.pending {
		delete(t.pending, id)
		ch <- &rpcResponse{Error: &rpcError{Message: "mcp server closed the connection"}}
	}
	t.mu.Unlock()
}

func responseID(raw any) (int64, bool) {
	switch v := raw.(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	default:
		return 0, false
	}
}

func (t *stdioTransport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := t.nextID.Add(1)
	ch := make(chan *rpcResponse, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	if err := t.write(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: raw}); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, err
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (t *stdioTransport) Notify(_ context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	return t.write(rpcRequest{JSONRPC: "2.0", Method: method, Params: raw})
}

func (t *stdioTransport) write(req rpcRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}
