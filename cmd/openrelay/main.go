// Package main is the CLI entry point for the openrelay gateway.
//
// openrelay fronts OpenAI-compatible upstreams with the /v1/responses
// orchestration surface: multi-turn tool loops, streaming, stored
// conversation state, file uploads and hybrid vector search.
//
// Start the server:
//
//	openrelay serve --config openrelay.yaml
//
// Environment variables of note:
//
//   - OPENRELAY_CONFIG: configuration file path (default: none)
//   - MODEL_BASE_URL: default upstream base URL
//   - OPENAI_API_KEY: credential for embedding calls
//   - OPEN_RESPONSES_MAX_TOOL_CALLS: tool-loop limit override
//   - OPEN_RESPONSES_MAX_STREAMING_TIMEOUT: streaming deadline in ms
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/openrelay-ai/openrelay/internal/api"
	"github.com/openrelay-ai/openrelay/internal/config"
	"github.com/openrelay-ai/openrelay/internal/files"
	"github.com/openrelay-ai/openrelay/internal/mcp"
	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/internal/orchestrator"
	"github.com/openrelay-ai/openrelay/internal/providers"
	"github.com/openrelay-ai/openrelay/internal/store"
	"github.com/openrelay-ai/openrelay/internal/tools"
	"github.com/openrelay-ai/openrelay/internal/vectorstore"
)

var version = "dev"

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "openrelay",
		Short:   "OpenAI-compatible orchestration gateway",
		Version: version,
	}
	rootCmd.AddCommand(buildServeCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if configPath == "" {
				configPath = os.Getenv("OPENRELAY_CONFIG")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "Configuration file path")
	return cmd
}

func runServe(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	tracer, shutdownTracer := observability.NewTracer(observability.TraceConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn(shutdownCtx, "tracer shutdown failed", "error", err)
		}
	}()

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	responseStore, completionStore, closeStore, err := buildStores(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, err := files.NewStorage(cfg.Storage.RootDir)
	if err != nil {
		return fmt.Errorf("init file storage: %w", err)
	}

	vectors, sweeper, closeVectors, err := buildVectorStack(cfg, blobs, logger, metrics, tracer)
	if err != nil {
		return err
	}
	defer closeVectors()
	sweeper.Start()
	defer sweeper.Stop()

	mcpRegistry := mcp.NewRegistry(ctx, cfg.MCP, logger)
	defer mcpRegistry.Close()

	toolSvc := tools.NewService(vectors, mcpRegistry, logger, tracer, metrics)

	orch := orchestrator.New(providers.NewClient(), toolSvc, responseStore, completionStore,
		cfg.Orchestration, cfg.Model, logger, tracer, metrics)

	server := api.NewServer(api.Deps{
		Orchestrator: orch,
		Responses:    responseStore,
		Files:        blobs,
		Vectors:      vectors,
		Logger:       logger,
		Registry:     registry,
	})

	logger.Info(ctx, "server starting", "addr", cfg.Server.Addr(), "version", version)
	if err := server.ListenAndServe(ctx, cfg.Server.Addr()); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	vectors.WaitForIndexing()
	logger.Info(context.Background(), "server stopped")
	return nil
}

// buildStores selects the response/completion store backend.
func buildStores(cfg *config.Config) (store.ResponseStore, store.CompletionStore, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite":
		s, err := store.NewSQLiteStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init sqlite store: %w", err)
		}
		return s, s, func() { s.Close() }, nil
	default:
		s := store.NewMemoryStore(cfg.Store.CacheSize)
		return s, s, func() {}, nil
	}
}

// buildVectorStack assembles the retrieval pipeline: dense index
// (pgvector when a DSN is configured, file-backed otherwise), FTS5
// lexical index, embedder, chunker and the expiration sweeper.
func buildVectorStack(cfg *config.Config, blobs *files.Storage, logger *observability.Logger, metrics *observability.Metrics, tracer *observability.Tracer) (*vectorstore.Service, *vectorstore.Sweeper, func(), error) {
	var (
		index   vectorstore.Index
		cleanup = func() {}
	)
	if dsn := cfg.VectorStore.PostgresDSN; dsn != "" {
		pg, err := vectorstore.NewPGIndex(vectorstore.PGConfig{
			DSN:           dsn,
			Dimension:     cfg.VectorStore.VectorDimension,
			RunMigrations: true,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init pgvector index: %w", err)
		}
		index = pg
		cleanup = func() { pg.Close() }
	} else {
		fi, err := vectorstore.NewFileIndex(cfg.Storage.RootDir)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init file index: %w", err)
		}
		index = fi
	}

	lexical, err := vectorstore.NewLexicalIndex(filepath.Join(cfg.Storage.RootDir, "lexical.db"))
	if err != nil {
		cleanup()
		return nil, nil, nil, fmt.Errorf("init lexical index: %w", err)
	}

	chunker, err := vectorstore.NewChunker(vectorstore.ChunkerConfig{
		MaxChunkSizeTokens: cfg.VectorStore.ChunkSize,
		ChunkOverlapTokens: cfg.VectorStore.ChunkOverlap,
	})
	if err != nil {
		lexical.Close()
		cleanup()
		return nil, nil, nil, err
	}

	embedder := vectorstore.NewOpenAIEmbedder(cfg.Model.BaseURL, os.Getenv("OPENAI_API_KEY"),
		cfg.VectorStore.EmbeddingModel, cfg.VectorStore.VectorDimension)

	service := vectorstore.NewService(vectorstore.ServiceDeps{
		Repository: vectorstore.NewRepository(),
		Blobs:      blobs,
		Embedder:   embedder,
		Index:      index,
		Lexical:    lexical,
		Chunker:    chunker,
		Logger:     logger,
		Metrics:    metrics,
		Tracer:     tracer,
		MinScore:   cfg.VectorStore.MinScore,
	})

	sweeper, err := vectorstore.NewSweeper(service, cfg.VectorStore.SweepInterval)
	if err != nil {
		lexical.Close()
		cleanup()
		return nil, nil, nil, fmt.Errorf("init sweeper: %w", err)
	}

	closeAll := func() {
		lexical.Close()
		cleanup()
	}
	return service, sweeper, closeAll, nil
}
