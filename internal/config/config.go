// Package config loads the immutable gateway configuration from an
// optional YAML file with environment-variable overrides. Configuration is
// read once at startup and passed through constructors; nothing mutates it
// at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the gateway.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Model         ModelConfig         `yaml:"model"`
	Orchestration OrchestrationConfig `yaml:"orchestration"`
	Store         StoreConfig         `yaml:"store"`
	VectorStore   VectorStoreConfig   `yaml:"vector_store"`
	Storage       StorageConfig       `yaml:"storage"`
	MCP           MCPConfig           `yaml:"mcp"`
	Logging       LoggingConfig       `yaml:"logging"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ModelConfig governs upstream routing.
type ModelConfig struct {
	// BaseURL is the default upstream base URL when the model id carries
	// no provider prefix. Falls back to https://api.openai.com/v1.
	BaseURL string `yaml:"base_url"`

	// ProviderBaseURLs overrides entries of the built-in provider table.
	ProviderBaseURLs map[string]string `yaml:"provider_base_urls"`
}

// OrchestrationConfig bounds the turn loop.
type OrchestrationConfig struct {
	// MaxToolCalls limits cumulative function-call items in a buffered
	// orchestration. Default: 25.
	MaxToolCalls int `yaml:"max_tool_calls"`

	// MaxStreamingToolCalls is the streaming-mode limit. Default: 30.
	MaxStreamingToolCalls int `yaml:"max_streaming_tool_calls"`

	// StreamingTimeout bounds a whole streaming request. Default: 300s.
	StreamingTimeout time.Duration `yaml:"streaming_timeout"`
}

// StoreConfig selects and sizes the response/completion store backend.
type StoreConfig struct {
	// Backend is "memory" or "sqlite". Default: "memory".
	Backend string `yaml:"backend"`

	// CacheSize bounds the in-memory LRU. Default: 1000.
	CacheSize int `yaml:"cache_size"`

	// SQLitePath is the database file for the sqlite backend.
	SQLitePath string `yaml:"sqlite_path"`
}

// VectorStoreConfig sizes the retrieval stack.
type VectorStoreConfig struct {
	// ChunkSize is the default max chunk size in tokens. Default: 800.
	ChunkSize int `yaml:"chunk_size"`

	// ChunkOverlap is the default overlap in tokens. Default: 200.
	ChunkOverlap int `yaml:"chunk_overlap"`

	// VectorDimension is the embedding dimension. Default: 1536.
	VectorDimension int `yaml:"vector_dimension"`

	// MinScore is the default ANN score threshold. Default: 0.
	MinScore float64 `yaml:"min_score"`

	// EmbeddingModel is the model used for embeddings.
	// Default: text-embedding-3-small.
	EmbeddingModel string `yaml:"embedding_model"`

	// PostgresDSN enables the pgvector index backend when set; otherwise
	// the file-backed index under Storage.RootDir is used.
	PostgresDSN string `yaml:"postgres_dsn"`

	// SweepInterval is the cron spec for the cleanup/expiration sweeper.
	// Default: "@every 1m".
	SweepInterval string `yaml:"sweep_interval"`
}

// StorageConfig locates local blob storage.
type StorageConfig struct {
	// RootDir is the root for files, metadata sidecars and embeddings.
	// Default: ./data.
	RootDir string `yaml:"root_dir"`
}

// MCPConfig declares external MCP servers whose tools are registered at
// startup.
type MCPConfig struct {
	Servers []MCPServerConfig `yaml:"servers"`
}

type MCPServerConfig struct {
	Label   string            `yaml:"label"`
	URL     string            `yaml:"url,omitempty"`
	Command string            `yaml:"command,omitempty"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type TelemetryConfig struct {
	// OTLPEndpoint enables trace export when set (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
	ServiceName  string `yaml:"service_name"`
}

// Default returns the configuration defaults before file and env overrides.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Model: ModelConfig{
			BaseURL: "https://api.openai.com/v1",
		},
		Orchestration: OrchestrationConfig{
			MaxToolCalls:          25,
			MaxStreamingToolCalls: 30,
			StreamingTimeout:      300 * time.Second,
		},
		Store: StoreConfig{
			Backend:    "memory",
			CacheSize:  1000,
			SQLitePath: "openrelay.db",
		},
		VectorStore: VectorStoreConfig{
			ChunkSize:       800,
			ChunkOverlap:    200,
			VectorDimension: 1536,
			MinScore:        0,
			EmbeddingModel:  "text-embedding-3-small",
			SweepInterval:   "@every 1m",
		},
		Storage: StorageConfig{RootDir: "./data"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "openrelay",
		},
	}
}

// Load reads configuration from path (optional; empty path skips the file)
// and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the recognized environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("MODEL_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v, ok := envInt("OPEN_RESPONSES_MAX_TOOL_CALLS"); ok {
		c.Orchestration.MaxToolCalls = v
		c.Orchestration.MaxStreamingToolCalls = v
	}
	if v, ok := envInt("OPEN_RESPONSES_MAX_STREAMING_TIMEOUT"); ok {
		c.Orchestration.StreamingTimeout = time.Duration(v) * time.Millisecond
	}
	if v := os.Getenv("OPEN_RESPONSES_STORE_BACKEND"); v != "" {
		c.Store.Backend = v
	}
	if v := os.Getenv("OPEN_RESPONSES_ROOT_DIR"); v != "" {
		c.Storage.RootDir = v
	}
	for _, p := range []string{"openai", "anthropic", "groq", "togetherai", "gemini", "deepseek", "ollama", "xai"} {
		if v := os.Getenv(providerEnvKey(p)); v != "" {
			if c.Model.ProviderBaseURLs == nil {
				c.Model.ProviderBaseURLs = map[string]string{}
			}
			c.Model.ProviderBaseURLs[p] = v
		}
	}
}

func (c *Config) validate() error {
	if c.Orchestration.MaxToolCalls <= 0 {
		return fmt.Errorf("orchestration.max_tool_calls must be positive")
	}
	if c.Orchestration.StreamingTimeout <= 0 {
		return fmt.Errorf("orchestration.streaming_timeout must be positive")
	}
	if c.Store.CacheSize <= 0 {
		return fmt.Errorf("store.cache_size must be positive")
	}
	if c.VectorStore.ChunkOverlap >= c.VectorStore.ChunkSize {
		return fmt.Errorf("vector_store.chunk_overlap must be smaller than chunk_size")
	}
	switch c.Store.Backend {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("store.backend must be memory or sqlite, got %q", c.Store.Backend)
	}
	return nil
}

func envInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// providerEnvKey maps a provider tag to its base-URL override variable,
// e.g. "openai" -> OPENAI_BASE_URL.
func providerEnvKey(provider string) string {
	upper := ""
	for _, r := range provider {
		if r >= 'a' && r <= 'z' {
			r = r - 'a' + 'A'
		}
		upper += string(r)
	}
	return upper + "_BASE_URL"
}
