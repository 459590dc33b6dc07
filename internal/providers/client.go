package providers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Client issues chat completion calls against any OpenAI-compatible
// upstream. The bearer credential is passed through from the inbound
// request; a fresh SDK client is configured per call because base URL and
// credential vary by request.
//
// Safe for concurrent use.
type Client struct {
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
}

// NewClient builds an upstream client. Connect/read/write limits come from
// the shared http.Client; retries use linear backoff and apply only to the
// initial call, never mid-stream.
func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
				IdleConnTimeout:       90 * time.Second,
			},
			Timeout: 0, // streaming reads are bounded by the caller's context
		},
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

func (c *Client) sdk(credential string, upstream Upstream) *openai.Client {
	return c.sdkWithClient(credential, upstream, c.httpClient)
}

func (c *Client) sdkWithClient(credential string, upstream Upstream, httpClient *http.Client) *openai.Client {
	cfg := openai.DefaultConfig(credential)
	cfg.BaseURL = strings.TrimSuffix(upstream.BaseURL, "/")
	cfg.HTTPClient = httpClient
	return openai.NewClientWithConfig(cfg)
}

// captureTransport tees the response body of each round trip into a
// buffer. The SDK's typed decoding drops fields it does not know (the
// annotations array among them); the captured body keeps them readable.
type captureTransport struct {
	base http.RoundTripper
	body bytes.Buffer
}

func (t *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	t.body.Reset()
	resp.Body = teeReadCloser{
		Reader: io.TeeReader(resp.Body, &t.body),
		Closer: resp.Body,
	}
	return resp, nil
}

type teeReadCloser struct {
	io.Reader
	io.Closer
}

// CreateChatCompletion performs a buffered upstream call. The second
// return value is the raw response body of the successful attempt, for
// callers that need fields the typed response does not carry.
func (c *Client) CreateChatCompletion(ctx context.Context, credential string, upstream Upstream, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, []byte, error) {
	req.Model = upstream.Model
	req.Stream = false

	capture := &captureTransport{base: c.httpClient.Transport}
	sdk := c.sdkWithClient(credential, upstream, &http.Client{
		Transport: capture,
		Timeout:   c.httpClient.Timeout,
	})

	var resp openai.ChatCompletionResponse
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return openai.ChatCompletionResponse{}, nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		resp, lastErr = sdk.CreateChatCompletion(ctx, req)
		if lastErr == nil {
			return resp, capture.body.Bytes(), nil
		}
		if !isRetryable(lastErr) {
			return openai.ChatCompletionResponse{}, nil, lastErr
		}
	}
	return openai.ChatCompletionResponse{}, nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// CreateChatCompletionStream opens a streaming upstream call. The caller
// owns the returned stream and must Close it.
func (c *Client) CreateChatCompletionStream(ctx context.Context, credential string, upstream Upstream, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	req.Model = upstream.Model
	req.Stream = true
	req.StreamOptions = &openai.StreamOptions{IncludeUsage: true}

	sdk := c.sdk(credential, upstream)

	var stream *openai.ChatCompletionStream
	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay * time.Duration(attempt)):
			}
		}
		stream, lastErr = sdk.CreateChatCompletionStream(ctx, req)
		if lastErr == nil {
			return stream, nil
		}
		if !isRetryable(lastErr) {
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// isRetryable classifies upstream errors. Rate limits, 5xx responses and
// timeouts are transient; auth and validation failures are not.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, marker := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded", "connection reset"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
