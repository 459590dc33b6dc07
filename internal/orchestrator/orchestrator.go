// Package orchestrator drives the request-to-response turn loop: it
// calls the upstream model, executes native tool calls, feeds their
// outputs back, and repeats until a terminal condition, in buffered and
// streaming modes.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"
	"go.opentelemetry.io/otel/trace"

	"github.com/openrelay-ai/openrelay/internal/config"
	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/internal/providers"
	"github.com/openrelay-ai/openrelay/internal/responses"
	"github.com/openrelay-ai/openrelay/internal/store"
	"github.com/openrelay-ai/openrelay/internal/tools"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// ErrTooManyToolCalls is returned when the cumulative function-call
// count in the conversation exceeds the configured limit.
var ErrTooManyToolCalls = errors.New("too many tool calls")

// ErrInvalidRequest marks request validation failures so the HTTP layer
// can answer 400 instead of 500.
var ErrInvalidRequest = errors.New("invalid request")

// Orchestrator owns the turn loop. One instance serves all requests;
// per-request state lives in turnState.
type Orchestrator struct {
	client      *providers.Client
	tools       *tools.Service
	responses   store.ResponseStore
	completions store.CompletionStore
	cfg         config.OrchestrationConfig
	modelCfg    config.ModelConfig
	logger      *observability.Logger
	tracer      *observability.Tracer
	metrics     *observability.Metrics
}

// New wires an orchestrator.
func New(client *providers.Client, toolSvc *tools.Service, responseStore store.ResponseStore, completionStore store.CompletionStore, cfg config.OrchestrationConfig, modelCfg config.ModelConfig, logger *observability.Logger, tracer *observability.Tracer, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		client:      client,
		tools:       toolSvc,
		responses:   responseStore,
		completions: completionStore,
		cfg:         cfg,
		modelCfg:    modelCfg,
		logger:      logger,
		tracer:      tracer,
		metrics:     metrics,
	}
}

// Request is one inbound /v1/responses call.
type Request struct {
	// Credential is the pass-through bearer token.
	Credential string

	// Provider is the optional x-model-provider header value.
	Provider string

	Body *models.ResponseRequest
}

// turnState is the per-request loop state.
type turnState struct {
	responseID string
	items      []models.Item
	params     responses.RequestParams
	upstream   providers.Upstream
	credential string
	aliases    map[string]tools.Tool
	toolCalls  int
	shouldStore bool
}

// newTurnState validates the request and assembles the loop state,
// loading prior context when previous_response_id is set.
func (o *Orchestrator) newTurnState(ctx context.Context, req Request) (*turnState, error) {
	body := req.Body
	if body.Model == "" {
		return nil, fmt.Errorf("%w: model is required", ErrInvalidRequest)
	}
	items, err := body.InputItems()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	if body.PreviousResponseID != "" {
		prior, err := o.responses.GetInputItems(ctx, body.PreviousResponseID)
		if err != nil {
			return nil, fmt.Errorf("previous_response_id %s: %w", body.PreviousResponseID, err)
		}
		priorOut, err := o.responses.GetOutputItems(ctx, body.PreviousResponseID)
		if err != nil {
			return nil, fmt.Errorf("previous_response_id %s: %w", body.PreviousResponseID, err)
		}
		items = append(append(prior, priorOut...), items...)
	}

	upstream, err := providers.ResolveUpstream(req.Provider, body.Model, o.modelCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	st := &turnState{
		responseID: "resp_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		items:      items,
		upstream:   upstream,
		credential: req.Credential,
		params: responses.RequestParams{
			Model:              body.Model,
			Instructions:       body.Instructions,
			Tools:              body.Tools,
			ToolChoice:         body.ToolChoice,
			Temperature:        body.Temperature,
			TopP:               body.TopP,
			MaxOutputTokens:    body.MaxOutputTokens,
			PreviousResponseID: body.PreviousResponseID,
			Metadata:           body.Metadata,
			Store:              body.ShouldStore(),
		},
		shouldStore: body.ShouldStore(),
	}
	st.toolCalls = countFunctionCalls(items)
	st.aliases = o.tools.BuildAliasMap(ctx, body.Tools, tools.RequestScope{
		Credential:   req.Credential,
		ImageBaseURL: upstream.BaseURL,
	})
	return st, nil
}

// Run executes a buffered orchestration and returns the terminal
// Response.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*models.Response, error) {
	st, err := o.newTurnState(ctx, req)
	if err != nil {
		return nil, err
	}

	for {
		if st.toolCalls > o.cfg.MaxToolCalls {
			return nil, fmt.Errorf("%w: %d calls exceed the limit of %d",
				ErrTooManyToolCalls, st.toolCalls, o.cfg.MaxToolCalls)
		}

		completion, raw, err := o.callUpstream(ctx, st)
		if err != nil {
			return nil, err
		}

		resp := responses.FromChatCompletion(completion, st.params, st.items)
		resp.ID = st.responseID
		responses.AttachURLCitations(resp, raw)

		if !hasToolCalls(completion) {
			o.persist(ctx, st, resp)
			return resp, nil
		}

		outcome := o.handleTools(ctx, st, completion, nil)
		switch outcome.kind {
		case outcomeTerminate:
			final := o.terminalResponse(st, outcome.terminalItem, completion)
			o.persist(ctx, st, final)
			return final, nil
		case outcomeClientTools:
			// Interim "tools requested" response: the client resolves the
			// remaining calls and continues via previous_response_id.
			o.persist(ctx, st, resp)
			return resp, nil
		case outcomeContinue:
			o.persist(ctx, st, resp)
		}
	}
}

// callUpstream performs one chat turn inside a chat span. The raw
// response body rides along for annotation extraction.
func (o *Orchestrator) callUpstream(ctx context.Context, st *turnState) (openai.ChatCompletionResponse, []byte, error) {
	chatReq := o.buildChatRequest(st)

	ctx, span := o.tracer.StartChat(ctx, observability.ChatSpanAttrs{
		System:        st.upstream.System,
		OutputType:    "text",
		RequestModel:  st.upstream.Model,
		Temperature:   st.params.Temperature,
		TopP:          st.params.TopP,
		MaxTokens:     st.params.MaxOutputTokens,
		ServerAddress: st.upstream.BaseURL,
	})
	defer span.End()
	o.mirrorMessages(span, st.upstream.System, chatReq.Messages)

	start := time.Now()
	completion, raw, err := o.client.CreateChatCompletion(ctx, st.credential, st.upstream, chatReq)
	if err != nil {
		observability.RecordError(span, err)
		return openai.ChatCompletionResponse{}, nil, fmt.Errorf("upstream call: %w", err)
	}

	o.recordCompletion(span, st, completion, time.Since(start))
	return completion, raw, nil
}

func (o *Orchestrator) buildChatRequest(st *turnState) openai.ChatCompletionRequest {
	chatReq := openai.ChatCompletionRequest{
		Messages: responses.ToChatMessages(st.params.Instructions, st.items),
		Tools:    upstreamTools(st.params.Tools, st.aliases),
	}
	if st.params.Temperature != nil {
		chatReq.Temperature = *st.params.Temperature
	}
	if st.params.TopP != nil {
		chatReq.TopP = *st.params.TopP
	}
	if st.params.MaxOutputTokens != nil {
		chatReq.MaxTokens = *st.params.MaxOutputTokens
	}
	if st.params.ToolChoice != nil {
		chatReq.ToolChoice = st.params.ToolChoice
	}
	return chatReq
}

// upstreamTools renders the advertised tool list: plain function tools
// pass through; built-in tools are advertised as functions under their
// alias so the model can call them.
func upstreamTools(defs []models.ToolDef, aliases map[string]tools.Tool) []openai.Tool {
	var out []openai.Tool
	for _, def := range defs {
		switch def.Type {
		case models.ToolTypeFunction:
			out = append(out, openai.Tool{
				Type: openai.ToolTypeFunction,
				Function: &openai.FunctionDefinition{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  def.Parameters,
				},
			})
		case models.ToolTypeMCP:
			// One definition can expand to several server tools.
			for name, tool := range aliases {
				if label, ok := tools.MCPServerLabel(tool); ok && label == def.ServerLabel {
					out = append(out, functionTool(name, tool))
				}
			}
		default:
			name := def.Name
			if name == "" {
				name = def.Type
			}
			if tool, ok := aliases[name]; ok {
				out = append(out, functionTool(name, tool))
			}
		}
	}
	return out
}

func functionTool(name string, tool tools.Tool) openai.Tool {
	var params any
	if schema := tool.Parameters(); len(schema) > 0 {
		params = json.RawMessage(schema)
	}
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        name,
			Description: tool.Description(),
			Parameters:  params,
		},
	}
}

// mirrorMessages emits gen_ai.<role>.message span events for the
// conversation being sent upstream.
func (o *Orchestrator) mirrorMessages(span trace.Span, system string, messages []openai.ChatCompletionMessage) {
	for _, msg := range messages {
		payload, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		observability.AddMessageEvent(span, system, msg.Role, string(payload))
	}
}

// recordCompletion annotates the chat span and records token and
// duration metrics for one upstream call.
func (o *Orchestrator) recordCompletion(span trace.Span, st *turnState, completion openai.ChatCompletionResponse, elapsed time.Duration) {
	finishReasons := make([]string, 0, len(completion.Choices))
	for _, choice := range completion.Choices {
		finishReasons = append(finishReasons, string(choice.FinishReason))
	}
	observability.EndChat(span, completion.Model, completion.ID, finishReasons,
		completion.Usage.PromptTokens, completion.Usage.CompletionTokens)

	if o.metrics != nil {
		labels := observability.TokenLabels{
			Operation:     "chat",
			System:        st.upstream.System,
			RequestModel:  st.upstream.Model,
			ResponseModel: completion.Model,
			ServerAddress: st.upstream.BaseURL,
		}
		o.metrics.RecordTokens(labels, completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
		o.metrics.RecordOperation(labels, elapsed)
	}
}

// persist stores the response and the running item log unless the
// client opted out. Failures are logged and swallowed: persistence is
// best-effort and never breaks the response path.
func (o *Orchestrator) persist(ctx context.Context, st *turnState, resp *models.Response) {
	if !st.shouldStore {
		return
	}
	if err := o.responses.StoreResponse(ctx, resp, st.items); err != nil {
		o.logger.Error(ctx, "store response failed", "response_id", resp.ID, "error", err)
	}
}

// terminalResponse wraps a terminal tool's output item as the final
// Response.
func (o *Orchestrator) terminalResponse(st *turnState, item models.Item, completion openai.ChatCompletionResponse) *models.Response {
	resp := responses.FromChatCompletion(completion, st.params, st.items)
	resp.ID = st.responseID
	resp.Status = models.ResponseStatusCompleted
	resp.IncompleteDetails = nil
	resp.Error = nil
	resp.Output = []models.Item{item}
	return resp
}

func countFunctionCalls(items []models.Item) int {
	n := 0
	for _, item := range items {
		if item.Type == models.ItemTypeFunctionCall {
			n++
		}
	}
	return n
}

func hasToolCalls(completion openai.ChatCompletionResponse) bool {
	for _, choice := range completion.Choices {
		if len(choice.Message.ToolCalls) > 0 {
			return true
		}
	}
	return false
}
