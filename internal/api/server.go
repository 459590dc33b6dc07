// Package api exposes the gateway's HTTP surface: /v1/responses,
// /v1/chat/completions, /v1/files, /v1/vector_stores and /metrics.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/openrelay-ai/openrelay/internal/files"
	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/internal/orchestrator"
	"github.com/openrelay-ai/openrelay/internal/store"
	"github.com/openrelay-ai/openrelay/internal/vectorstore"
)

// Server routes the HTTP surface.
type Server struct {
	mux *http.ServeMux

	orchestrator *orchestrator.Orchestrator
	responses    store.ResponseStore
	files        *files.Storage
	vectors      *vectorstore.Service
	logger       *observability.Logger
}

// Deps wires a Server.
type Deps struct {
	Orchestrator *orchestrator.Orchestrator
	Responses    store.ResponseStore
	Files        *files.Storage
	Vectors      *vectorstore.Service
	Logger       *observability.Logger
	Registry     prometheus.Gatherer
}

// NewServer registers all routes.
func NewServer(deps Deps) *Server {
	s := &Server{
		mux:          http.NewServeMux(),
		orchestrator: deps.Orchestrator,
		responses:    deps.Responses,
		files:        deps.Files,
		vectors:      deps.Vectors,
		logger:       deps.Logger,
	}

	s.mux.HandleFunc("POST /v1/responses", s.handleCreateResponse)
	s.mux.HandleFunc("GET /v1/responses/{id}", s.handleGetResponse)
	s.mux.HandleFunc("DELETE /v1/responses/{id}", s.handleDeleteResponse)
	s.mux.HandleFunc("GET /v1/responses/{id}/input_items", s.handleInputItems)

	s.mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)

	s.mux.HandleFunc("POST /v1/files", s.handleUploadFile)
	s.mux.HandleFunc("GET /v1/files", s.handleListFiles)
	s.mux.HandleFunc("GET /v1/files/{id}", s.handleGetFile)
	s.mux.HandleFunc("DELETE /v1/files/{id}", s.handleDeleteFile)
	s.mux.HandleFunc("GET /v1/files/{id}/content", s.handleFileContent)

	s.mux.HandleFunc("POST /v1/vector_stores", s.handleCreateVectorStore)
	s.mux.HandleFunc("GET /v1/vector_stores", s.handleListVectorStores)
	s.mux.HandleFunc("GET /v1/vector_stores/{id}", s.handleGetVectorStore)
	s.mux.HandleFunc("POST /v1/vector_stores/{id}", s.handleModifyVectorStore)
	s.mux.HandleFunc("DELETE /v1/vector_stores/{id}", s.handleDeleteVectorStore)
	s.mux.HandleFunc("POST /v1/vector_stores/{id}/search", s.handleVectorSearch)
	s.mux.HandleFunc("POST /v1/vector_stores/{id}/files", s.handleAttachVectorFile)
	s.mux.HandleFunc("GET /v1/vector_stores/{id}/files", s.handleListVectorFiles)
	s.mux.HandleFunc("GET /v1/vector_stores/{id}/files/{file_id}", s.handleGetVectorFile)
	s.mux.HandleFunc("DELETE /v1/vector_stores/{id}/files/{file_id}", s.handleDeleteVectorFile)

	s.mux.HandleFunc("GET /healthz", s.handleHealth)

	registry := deps.Registry
	if registry == nil {
		registry = prometheus.DefaultGatherer
	}
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	return s
}

// Handler returns the middleware-wrapped root handler.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.withLogging(s.mux))
}

// ListenAndServe runs the server until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug(context.Background(), "write response failed", "error", err)
	}
}
