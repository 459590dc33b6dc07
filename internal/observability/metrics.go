package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the gateway's Prometheus metrics.
//
// Token usage is a histogram (distribution summary) keyed by operation,
// system, token type and model pair; operation and tool durations are
// histograms with the same identity tags the spans carry.
type Metrics struct {
	// TokenUsage tracks input/output token counts per upstream call.
	// Labels: operation_name, system, token_type (input|output),
	// request_model, response_model, server_address.
	TokenUsage *prometheus.HistogramVec

	// OperationDuration measures chat operation latency in seconds.
	// Labels: operation_name, system, request_model, response_model,
	// server_address.
	OperationDuration *prometheus.HistogramVec

	// ToolDuration measures native tool execution latency in seconds.
	// Labels: tool_name, status (success|error).
	ToolDuration *prometheus.HistogramVec

	// SearchDuration measures vector-store search latency in seconds.
	// Labels: vector_store_id.
	SearchDuration *prometheus.HistogramVec

	// SearchResults counts hits returned per search.
	// Labels: vector_store_id.
	SearchResults *prometheus.HistogramVec

	// IndexedFiles counts file indexing outcomes.
	// Labels: status (completed|failed).
	IndexedFiles *prometheus.CounterVec
}

// NewMetrics registers the gateway metrics on a registry (nil uses the
// default registerer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		TokenUsage: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gen_ai_client_token_usage",
			Help:    "Token usage per upstream model call.",
			Buckets: []float64{1, 16, 64, 256, 1024, 4096, 16384, 65536, 262144},
		}, []string{"operation_name", "system", "token_type", "request_model", "response_model", "server_address"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gen_ai_client_operation_duration_seconds",
			Help:    "Duration of upstream chat operations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"operation_name", "system", "request_model", "response_model", "server_address"}),

		ToolDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openrelay_tool_duration_seconds",
			Help:    "Duration of native tool executions.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool_name", "status"}),

		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openrelay_vector_search_duration_seconds",
			Help:    "Duration of vector store searches.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"vector_store_id"}),

		SearchResults: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "openrelay_vector_search_results",
			Help:    "Hits returned per vector store search.",
			Buckets: []float64{0, 1, 2, 5, 10, 20, 50},
		}, []string{"vector_store_id"}),

		IndexedFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "openrelay_vector_indexed_files_total",
			Help: "File indexing outcomes.",
		}, []string{"status"}),
	}
}

// TokenLabels identifies one upstream call for token/duration metrics.
type TokenLabels struct {
	Operation     string
	System        string
	RequestModel  string
	ResponseModel string
	ServerAddress string
}

// RecordTokens records input and output token counts for one call.
func (m *Metrics) RecordTokens(l TokenLabels, inputTokens, outputTokens int) {
	m.TokenUsage.WithLabelValues(l.Operation, l.System, "input", l.RequestModel, l.ResponseModel, l.ServerAddress).
		Observe(float64(inputTokens))
	m.TokenUsage.WithLabelValues(l.Operation, l.System, "output", l.RequestModel, l.ResponseModel, l.ServerAddress).
		Observe(float64(outputTokens))
}

// RecordOperation records the duration of one upstream call.
func (m *Metrics) RecordOperation(l TokenLabels, d time.Duration) {
	m.OperationDuration.WithLabelValues(l.Operation, l.System, l.RequestModel, l.ResponseModel, l.ServerAddress).
		Observe(d.Seconds())
}

// RecordTool records one native tool execution.
func (m *Metrics) RecordTool(name string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.ToolDuration.WithLabelValues(name, status).Observe(d.Seconds())
}

// RecordIndexedFile counts one file indexing outcome.
func (m *Metrics) RecordIndexedFile(status string) {
	m.IndexedFiles.WithLabelValues(status).Inc()
}

// RecordSearch records one vector store search.
func (m *Metrics) RecordSearch(vectorStoreID string, d time.Duration, results int) {
	m.SearchDuration.WithLabelValues(vectorStoreID).Observe(d.Seconds())
	m.SearchResults.WithLabelValues(vectorStoreID).Observe(float64(results))
}
