package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceConfig configures OTel tracing. An empty Endpoint yields a no-op
// tracer so callers never branch on whether tracing is enabled.
type TraceConfig struct {
	ServiceName string
	Endpoint    string
	Insecure    bool
}

// Tracer creates the gateway's telemetry spans: one "chat" span per
// orchestration turn, one "execute_tool" span per native tool call and one
// "vector_store_search" span per retrieval.
type Tracer struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// NewTracer builds a tracer and returns it with a shutdown function.
func NewTracer(cfg TraceConfig) (*Tracer, func(context.Context) error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "openrelay"
	}
	if cfg.Endpoint == "" {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptrace.New(context.Background(), otlptracegrpc.NewClient(opts...))
	if err != nil {
		return &Tracer{tracer: otel.Tracer(cfg.ServiceName)}, func(context.Context) error { return nil }
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		res = resource.Default()
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	t := &Tracer{provider: provider, tracer: provider.Tracer(cfg.ServiceName)}
	return t, provider.Shutdown
}

// ChatSpanAttrs carries the attributes recorded on a "chat" span.
type ChatSpanAttrs struct {
	System        string
	OutputType    string
	RequestModel  string
	Temperature   *float32
	TopP          *float32
	MaxTokens     *int
	ServerAddress string
}

// StartChat opens a "chat" span linked to any ambient request span.
func (t *Tracer) StartChat(ctx context.Context, attrs ChatSpanAttrs) (context.Context, trace.Span) {
	kv := []attribute.KeyValue{
		attribute.String("gen_ai.operation.name", "chat"),
		attribute.String("gen_ai.system", attrs.System),
		attribute.String("gen_ai.output.type", attrs.OutputType),
		attribute.String("gen_ai.request.model", attrs.RequestModel),
		attribute.String("server.address", attrs.ServerAddress),
	}
	if attrs.Temperature != nil {
		kv = append(kv, attribute.Float64("gen_ai.request.temperature", float64(*attrs.Temperature)))
	}
	if attrs.TopP != nil {
		kv = append(kv, attribute.Float64("gen_ai.request.top_p", float64(*attrs.TopP)))
	}
	if attrs.MaxTokens != nil {
		kv = append(kv, attribute.Int("gen_ai.request.max_tokens", *attrs.MaxTokens))
	}
	return t.tracer.Start(ctx, "chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(kv...))
}

// EndChat records the response side of a chat span. It does not end the
// span; streaming closes it in the completion hook.
func EndChat(span trace.Span, responseModel, responseID string, finishReasons []string, inputTokens, outputTokens int) {
	span.SetAttributes(
		attribute.String("gen_ai.response.model", responseModel),
		attribute.String("gen_ai.response.id", responseID),
		attribute.StringSlice("gen_ai.response.finish_reasons", finishReasons),
		attribute.Int("gen_ai.usage.input_tokens", inputTokens),
		attribute.Int("gen_ai.usage.output_tokens", outputTokens),
	)
}

// StartToolExecution opens an "execute_tool" span for a native tool call.
func (t *Tracer) StartToolExecution(ctx context.Context, name, description, callID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "execute_tool",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("gen_ai.operation.name", "execute_tool"),
			attribute.String("gen_ai.tool.name", name),
			attribute.String("gen_ai.tool.description", description),
			attribute.String("gen_ai.tool.call.id", callID),
		))
}

// StartVectorSearch opens a "vector_store_search" span.
func (t *Tracer) StartVectorSearch(ctx context.Context, vectorStoreID string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "vector_store_search",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("vector_store_id", vectorStoreID)))
}

// RecordSearchResults annotates a search span with its hits.
func RecordSearchResults(span trace.Span, documentIDs, chunkIDs []string, scores []float64) {
	span.SetAttributes(
		attribute.Int("results_count", len(documentIDs)),
		attribute.StringSlice("document_ids", documentIDs),
		attribute.StringSlice("chunk_ids", chunkIDs),
		attribute.Float64Slice("scores", scores),
	)
}

// AddMessageEvent mirrors a conversation message onto the span as a
// gen_ai.<role>.message event with a JSON payload.
func AddMessageEvent(span trace.Span, system, role, payload string) {
	span.AddEvent("gen_ai."+role+".message", trace.WithAttributes(
		attribute.String("gen_ai.system", system),
		attribute.String("content", payload),
	))
}

// RecordError marks the span as failed, tagging error.type for metrics
// correlation.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetAttributes(attribute.String("error.type", "_OTHER"))
	span.SetStatus(codes.Error, err.Error())
}
