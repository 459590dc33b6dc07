package providers

import (
	"errors"
	"testing"

	"github.com/openrelay-ai/openrelay/internal/config"
)

func TestResolveUpstream(t *testing.T) {
	cfg := config.ModelConfig{
		BaseURL: "http://default.local/v1",
		ProviderBaseURLs: map[string]string{
			"groq": "http://groq.local/v1",
		},
	}

	tests := []struct {
		name    string
		header  string
		model   string
		want    Upstream
		wantErr bool
	}{
		{
			name:  "bare model uses default base url",
			model: "gpt-4o",
			want:  Upstream{BaseURL: "http://default.local/v1", Model: "gpt-4o", System: "openai"},
		},
		{
			name:  "provider prefix",
			model: "anthropic@claude-sonnet",
			want:  Upstream{BaseURL: "https://api.anthropic.com/v1", Model: "claude-sonnet", System: "anthropic"},
		},
		{
			name:  "prefix case insensitive",
			model: "Anthropic@claude-sonnet",
			want:  Upstream{BaseURL: "https://api.anthropic.com/v1", Model: "claude-sonnet", System: "anthropic"},
		},
		{
			name:  "configured override wins",
			model: "groq@llama-3.3-70b",
			want:  Upstream{BaseURL: "http://groq.local/v1", Model: "llama-3.3-70b", System: "groq"},
		},
		{
			name:  "url prefix used verbatim",
			model: "https://my.host/v1@custom-model",
			want:  Upstream{BaseURL: "https://my.host/v1", Model: "custom-model", System: "my.host"},
		},
		{
			name:   "header provider applies without prefix",
			header: "ollama",
			model:  "llama3",
			want:   Upstream{BaseURL: "http://localhost:11434/v1", Model: "llama3", System: "ollama"},
		},
		{
			name:   "prefix beats header",
			header: "ollama",
			model:  "groq@mixtral",
			want:   Upstream{BaseURL: "http://groq.local/v1", Model: "mixtral", System: "groq"},
		},
		{
			name:    "unknown prefix",
			model:   "nosuch@model",
			wantErr: true,
		},
		{
			name:    "unknown header provider",
			header:  "nosuch",
			model:   "gpt-4o",
			wantErr: true,
		},
		{
			name:    "empty model",
			model:   "  ",
			wantErr: true,
		},
		{
			// "@model" has an empty prefix: treated as a literal model name.
			name:  "leading at sign",
			model: "@weird",
			want:  Upstream{BaseURL: "http://default.local/v1", Model: "@weird", System: "openai"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveUpstream(tt.header, tt.model, cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ResolveUpstream() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveUpstreamFallsBackToOpenAI(t *testing.T) {
	got, err := ResolveUpstream("", "gpt-4o", config.ModelConfig{})
	if err != nil {
		t.Fatalf("ResolveUpstream() error = %v", err)
	}
	if got.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("BaseURL = %q, want the OpenAI default", got.BaseURL)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"rate limit exceeded", true},
		{"status code 503", true},
		{"context deadline exceeded", true},
		{"invalid api key", false},
		{"status code 400", false},
	}
	for _, tt := range tests {
		if got := isRetryable(errors.New(tt.msg)); got != tt.want {
			t.Errorf("isRetryable(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
	if isRetryable(nil) {
		t.Error("nil should not be retryable")
	}
}
