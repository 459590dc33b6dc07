package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/internal/providers"
	"github.com/openrelay-ai/openrelay/internal/responses"
	"github.com/openrelay-ai/openrelay/internal/tools"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// CompletionRequest is one inbound /v1/chat/completions call. The body
// passes through to the upstream apart from model routing and the
// server-side tool turns.
type CompletionRequest struct {
	Credential string
	Provider   string
	Body       openai.ChatCompletionRequest
}

// newCompletionState assembles the loop state for a chat completion.
// Only the self-contained built-ins resolve on this surface: the chat
// tool shape carries neither vector store ids nor mcp server labels, so
// search and mcp calls stay client-side.
func (o *Orchestrator) newCompletionState(ctx context.Context, req CompletionRequest) (*turnState, error) {
	upstream, err := providers.ResolveUpstream(req.Provider, req.Body.Model, o.modelCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRequest, err)
	}

	st := &turnState{
		upstream:   upstream,
		credential: req.Credential,
	}
	for _, msg := range req.Body.Messages {
		st.toolCalls += len(msg.ToolCalls)
	}
	st.aliases = o.tools.BuildAliasMap(ctx,
		[]models.ToolDef{{Type: models.ToolTypeImageGeneration}},
		tools.RequestScope{
			Credential:   req.Credential,
			ImageBaseURL: upstream.BaseURL,
		})
	return st, nil
}

// RunCompletion performs a buffered chat completion, running the same
// tool loop as the responses surface in completion mode: native and
// terminal calls execute server-side and their outputs feed the next
// upstream turn; only stop and unresolved client tools return to the
// caller. The result is persisted to the completion store.
func (o *Orchestrator) RunCompletion(ctx context.Context, req CompletionRequest) (openai.ChatCompletionResponse, error) {
	st, err := o.newCompletionState(ctx, req)
	if err != nil {
		return openai.ChatCompletionResponse{}, err
	}

	messages := append([]openai.ChatCompletionMessage(nil), req.Body.Messages...)
	for {
		if st.toolCalls > o.cfg.MaxToolCalls {
			return openai.ChatCompletionResponse{}, fmt.Errorf("%w: %d calls exceed the limit of %d",
				ErrTooManyToolCalls, st.toolCalls, o.cfg.MaxToolCalls)
		}

		body := req.Body
		body.Messages = messages
		completion, err := o.callCompletionUpstream(ctx, st, body)
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}

		if !hasToolCalls(completion) {
			o.storeCompletion(ctx, completion, req.Body.Messages)
			return completion, nil
		}

		before := len(st.items)
		outcome := o.handleTools(ctx, st, completion, nil)
		if outcome.kind == outcomeClientTools {
			// The raw completion carries the unresolved calls for the
			// client to execute.
			o.storeCompletion(ctx, completion, req.Body.Messages)
			return completion, nil
		}
		messages = append(messages, o.continuationMessages(st, before, outcome)...)
	}
}

// continuationMessages renders the tool turn's results as chat messages
// for the next upstream call. A terminal tool has no item pair in the
// log; its call and output are synthesized so the model can narrate the
// result.
func (o *Orchestrator) continuationMessages(st *turnState, before int, outcome toolOutcome) []openai.ChatCompletionMessage {
	messages := responses.ToChatMessages("", st.items[before:])
	if outcome.kind != outcomeTerminate {
		return messages
	}

	st.toolCalls++
	payload, _ := json.Marshal(map[string]string{"data": outcome.terminalItem.Result})
	return append(messages,
		openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: []openai.ToolCall{outcome.terminalCall},
		},
		openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			Content:    string(payload),
			ToolCallID: outcome.terminalCall.ID,
		})
}

// callCompletionUpstream performs one chat turn inside a chat span.
func (o *Orchestrator) callCompletionUpstream(ctx context.Context, st *turnState, body openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	ctx, span := o.tracer.StartChat(ctx, observability.ChatSpanAttrs{
		System:        st.upstream.System,
		OutputType:    "text",
		RequestModel:  st.upstream.Model,
		ServerAddress: st.upstream.BaseURL,
	})
	defer span.End()

	start := time.Now()
	completion, _, err := o.client.CreateChatCompletion(ctx, st.credential, st.upstream, body)
	if err != nil {
		observability.RecordError(span, err)
		return openai.ChatCompletionResponse{}, fmt.Errorf("upstream call: %w", err)
	}
	o.recordCompletion(span, st, completion, time.Since(start))
	return completion, nil
}

func (o *Orchestrator) storeCompletion(ctx context.Context, completion openai.ChatCompletionResponse, messages []openai.ChatCompletionMessage) {
	if o.completions == nil {
		return
	}
	if err := o.completions.StoreCompletion(ctx, completion, messages); err != nil {
		o.logger.Error(ctx, "store completion failed", "completion_id", completion.ID, "error", err)
	}
}

// StreamCompletion relays a streaming chat completion, running the
// completion-mode tool loop between upstream turns. Content chunks
// relay as they arrive; chunks carrying tool-call deltas, the finish
// reason or usage are held back until the turn's disposition is known,
// so server-resolved tool turns never reach the client. write delivers
// each chunk; a write error stops the relay.
func (o *Orchestrator) StreamCompletion(ctx context.Context, req CompletionRequest, write func(openai.ChatCompletionStreamResponse) error) error {
	st, err := o.newCompletionState(ctx, req)
	if err != nil {
		return err
	}

	messages := append([]openai.ChatCompletionMessage(nil), req.Body.Messages...)
	for {
		if st.toolCalls > o.cfg.MaxToolCalls {
			return fmt.Errorf("%w: %d calls exceed the limit of %d",
				ErrTooManyToolCalls, st.toolCalls, o.cfg.MaxToolCalls)
		}

		body := req.Body
		body.Messages = messages
		acc, held, err := o.streamCompletionTurn(ctx, st, body, write)
		if err != nil {
			return err
		}
		if acc == nil {
			// The client went away mid-relay.
			return nil
		}

		completion := acc.completion()
		if !hasToolCalls(completion) {
			return flushChunks(held, write)
		}

		before := len(st.items)
		outcome := o.handleTools(ctx, st, completion, nil)
		if outcome.kind == outcomeClientTools {
			return flushChunks(held, write)
		}
		messages = append(messages, o.continuationMessages(st, before, outcome)...)
	}
}

// streamCompletionTurn drives one upstream stream, relaying content
// chunks and collecting the held-back ones. A nil accumulator with nil
// error means the client write failed.
func (o *Orchestrator) streamCompletionTurn(ctx context.Context, st *turnState, body openai.ChatCompletionRequest, write func(openai.ChatCompletionStreamResponse) error) (*streamAccumulator, []openai.ChatCompletionStreamResponse, error) {
	ctx, span := o.tracer.StartChat(ctx, observability.ChatSpanAttrs{
		System:        st.upstream.System,
		OutputType:    "text",
		RequestModel:  st.upstream.Model,
		ServerAddress: st.upstream.BaseURL,
	})
	defer span.End()

	stream, err := o.client.CreateChatCompletionStream(ctx, st.credential, st.upstream, body)
	if err != nil {
		observability.RecordError(span, err)
		return nil, nil, fmt.Errorf("upstream stream: %w", err)
	}
	defer stream.Close()

	acc := newStreamAccumulator()
	var held []openai.ChatCompletionStreamResponse
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			observability.RecordError(span, err)
			return nil, nil, fmt.Errorf("upstream read: %w", err)
		}
		acc.add(chunk)
		if holdChunk(chunk) {
			held = append(held, chunk)
			continue
		}
		if err := write(chunk); err != nil {
			return nil, nil, nil
		}
	}

	completion := acc.completion()
	finishReasons := make([]string, 0, len(completion.Choices))
	for _, choice := range completion.Choices {
		finishReasons = append(finishReasons, string(choice.FinishReason))
	}
	observability.EndChat(span, completion.Model, completion.ID, finishReasons,
		completion.Usage.PromptTokens, completion.Usage.CompletionTokens)
	return acc, held, nil
}

// holdChunk reports whether a chunk must wait for the turn disposition
// before reaching the client.
func holdChunk(chunk openai.ChatCompletionStreamResponse) bool {
	if chunk.Usage != nil {
		return true
	}
	for _, choice := range chunk.Choices {
		if len(choice.Delta.ToolCalls) > 0 || choice.FinishReason != "" {
			return true
		}
	}
	return false
}

func flushChunks(held []openai.ChatCompletionStreamResponse, write func(openai.ChatCompletionStreamResponse) error) error {
	for _, chunk := range held {
		if err := write(chunk); err != nil {
			return nil
		}
	}
	return nil
}
