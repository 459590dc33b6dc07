// Package providers resolves upstream model endpoints and wraps the
// OpenAI-compatible client used for every provider.
package providers

import (
	"fmt"
	"strings"

	"github.com/openrelay-ai/openrelay/internal/config"
)

// Built-in provider base URLs. Overridable per provider through config or
// <PROVIDER>_BASE_URL environment variables.
var builtinBaseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"claude":     "https://api.anthropic.com/v1",
	"anthropic":  "https://api.anthropic.com/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"togetherai": "https://api.together.xyz/v1",
	"gemini":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"google":     "https://generativelanguage.googleapis.com/v1beta/openai",
	"deepseek":   "https://api.deepseek.com",
	"ollama":     "http://localhost:11434/v1",
	"xai":        "https://api.x.ai/v1",
}

// Upstream is a resolved provider endpoint.
type Upstream struct {
	// BaseURL is the OpenAI-compatible API root.
	BaseURL string

	// Model is the bare model name sent upstream.
	Model string

	// System identifies the provider for telemetry ("openai", "groq",
	// a host name for URL-prefixed models).
	System string
}

// ResolveUpstream maps a model field plus an optional x-model-provider
// header onto a concrete endpoint. Grammar: model := [prefix "@"] name,
// where prefix is an absolute HTTP(S) URL used verbatim or a known
// provider tag. The header provider applies when the model id carries no
// prefix; the configured default base URL is the final fallback.
//
// Pure function of its inputs: no environment reads, no side effects.
func ResolveUpstream(headerProvider, model string, cfg config.ModelConfig) (Upstream, error) {
	if strings.TrimSpace(model) == "" {
		return Upstream{}, fmt.Errorf("model is required")
	}

	if prefix, name, ok := strings.Cut(model, "@"); ok && prefix != "" && name != "" {
		if isHTTPURL(prefix) {
			return Upstream{BaseURL: prefix, Model: name, System: hostOf(prefix)}, nil
		}
		tag := strings.ToLower(prefix)
		if url := providerBaseURL(tag, cfg); url != "" {
			return Upstream{BaseURL: url, Model: name, System: tag}, nil
		}
		return Upstream{}, fmt.Errorf("unknown model provider %q", prefix)
	}

	if headerProvider != "" {
		tag := strings.ToLower(strings.TrimSpace(headerProvider))
		if url := providerBaseURL(tag, cfg); url != "" {
			return Upstream{BaseURL: url, Model: model, System: tag}, nil
		}
		return Upstream{}, fmt.Errorf("unknown model provider %q", headerProvider)
	}

	base := cfg.BaseURL
	if base == "" {
		base = builtinBaseURLs["openai"]
	}
	return Upstream{BaseURL: base, Model: model, System: "openai"}, nil
}

func providerBaseURL(tag string, cfg config.ModelConfig) string {
	if url, ok := cfg.ProviderBaseURLs[tag]; ok && url != "" {
		return url
	}
	return builtinBaseURLs[tag]
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func hostOf(rawURL string) string {
	rest := rawURL
	if _, after, ok := strings.Cut(rawURL, "://"); ok {
		rest = after
	}
	if host, _, ok := strings.Cut(rest, "/"); ok {
		return host
	}
	return rest
}
