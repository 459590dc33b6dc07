package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/internal/responses"
	"github.com/openrelay-ai/openrelay/internal/tools"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// Emitter delivers canonical stream events to the client. Emit returns
// an error when the client is gone; the session then stops producing.
type Emitter interface {
	Emit(event models.StreamEvent) error
}

// errClientGone marks an emitter failure; the session winds down
// without a terminal event.
var errClientGone = errors.New("client disconnected")

// streamSession is the per-request streaming state: the event sequencer
// plus the flags that make response.in_progress and the message item
// fire exactly once.
type streamSession struct {
	o       *Orchestrator
	st      *turnState
	emitter Emitter

	seq            int64
	inProgressSent bool
	messageOpen    bool

	// dead is set on the first emitter failure; no further events are
	// produced and the loop stops at its next checkpoint.
	dead bool

	// pendingArgs holds argument delta events for calls whose partially
	// streamed name could still resolve to a native tool.
	pendingArgs map[string][]models.StreamEvent
}

// Stream runs a streaming orchestration, emitting canonical SSE events.
// A non-nil error means the request failed validation before any event
// was emitted; all later failures surface as terminal events.
func (o *Orchestrator) Stream(ctx context.Context, req Request, emitter Emitter) error {
	st, err := o.newTurnState(ctx, req)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, o.cfg.StreamingTimeout)
	defer cancel()

	s := &streamSession{o: o, st: st, emitter: emitter, pendingArgs: make(map[string][]models.StreamEvent)}
	s.emit(models.StreamEvent{
		Type:     models.EventResponseCreated,
		Response: s.interimResponse(),
	})

	for {
		if s.dead {
			return nil
		}
		if st.toolCalls > o.cfg.MaxStreamingToolCalls {
			s.terminalError(models.ErrorCodeTooManyToolCalls,
				fmt.Sprintf("%d calls exceed the limit of %d", st.toolCalls, o.cfg.MaxStreamingToolCalls))
			return nil
		}

		acc, finish, err := s.streamTurn(ctx)
		if err != nil {
			if errors.Is(err, errClientGone) {
				return nil
			}
			if ctx.Err() != nil {
				s.terminalError(models.ErrorCodeTimeout, "streaming deadline exceeded")
			} else {
				s.terminalError(models.ErrorCodeServerError, err.Error())
			}
			return nil
		}

		completion := acc.completion()
		if finish != openai.FinishReasonToolCalls {
			s.finishText(ctx, completion)
			return nil
		}

		outcome := o.handleTools(ctx, st, completion, s)
		switch outcome.kind {
		case outcomeTerminate:
			final := o.terminalResponse(st, outcome.terminalItem, completion)
			o.persist(ctx, st, final)
			s.emit(models.StreamEvent{Type: models.EventResponseCompleted, Response: final})
			return nil
		case outcomeClientTools:
			s.finishClientTools(ctx, completion)
			return nil
		case outcomeContinue:
			interim := responses.FromChatCompletion(completion, st.params, st.items)
			interim.ID = st.responseID
			o.persist(ctx, st, interim)
		}
	}
}

// streamTurn drives one upstream stream to its end, emitting deltas as
// chunks arrive. It keeps reading after the finish reason so a trailing
// usage chunk is captured.
func (s *streamSession) streamTurn(ctx context.Context) (*streamAccumulator, openai.FinishReason, error) {
	chatReq := s.o.buildChatRequest(s.st)
	stream, err := s.o.client.CreateChatCompletionStream(ctx, s.st.credential, s.st.upstream, chatReq)
	if err != nil {
		return nil, "", fmt.Errorf("upstream stream: %w", err)
	}
	defer stream.Close()

	acc := newStreamAccumulator()
	var finish openai.FinishReason

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", fmt.Errorf("upstream read: %w", err)
		}

		if !s.inProgressSent && usableChunk(chunk) {
			s.inProgressSent = true
			s.emit(models.StreamEvent{
				Type:     models.EventResponseInProgress,
				Response: s.interimResponse(),
			})
		}

		chunkFinish := acc.add(chunk)
		s.emitDeltas(chunk, acc)
		if s.dead {
			return nil, "", errClientGone
		}
		if chunkFinish != "" {
			finish = chunkFinish
		}
	}

	if finish == "" {
		// Stream ended without an explicit finish; treat as stop.
		finish = openai.FinishReasonStop
	}
	return acc, finish, nil
}

// emitDeltas forwards text deltas and client-side tool argument deltas.
// Argument deltas for native tools are suppressed: their execution is
// reported through lifecycle events instead.
func (s *streamSession) emitDeltas(chunk openai.ChatCompletionStreamResponse, acc *streamAccumulator) {
	for _, delta := range chunk.Choices {
		if delta.Delta.Content != "" {
			if !s.messageOpen {
				s.messageOpen = true
				s.emit(models.StreamEvent{
					Type:        models.EventOutputItemAdded,
					ItemID:      s.messageItemID(),
					OutputIndex: intPtr(0),
					Item: &models.Item{
						Type:   models.ItemTypeMessage,
						Role:   models.RoleAssistant,
						Status: models.ItemStatusInProgress,
					},
				})
			}
			s.emit(models.StreamEvent{
				Type:         models.EventOutputTextDelta,
				ItemID:       s.messageItemID(),
				OutputIndex:  intPtr(0),
				ContentIndex: intPtr(0),
				Delta:        delta.Delta.Content,
			})
		}

		for _, tc := range delta.Delta.ToolCalls {
			if tc.Function.Arguments == "" {
				continue
			}
			callIndex := 0
			if tc.Index != nil {
				callIndex = *tc.Index
			}
			call, ok := acc.choice(delta.Index).byIndex[callIndex]
			if !ok {
				continue
			}
			name := call.name.String()
			if _, native := s.o.tools.GetFunctionTool(name, s.st.aliases); native {
				delete(s.pendingArgs, call.id)
				continue
			}
			event := models.StreamEvent{
				Type:        models.EventFunctionCallArgumentsDelta,
				ItemID:      call.id,
				OutputIndex: intPtr(call.index),
				Delta:       tc.Function.Arguments,
			}
			if s.nameMayResolveNative(name) {
				s.pendingArgs[call.id] = append(s.pendingArgs[call.id], event)
				continue
			}
			s.flushPendingArgs(call.id)
			s.emit(event)
		}
	}
}

// nameMayResolveNative reports whether a partially streamed call name
// could still grow into a native alias. Argument deltas are held back
// until the name diverges, so native arguments never leak mid-stream.
func (s *streamSession) nameMayResolveNative(name string) bool {
	for alias := range s.st.aliases {
		if len(alias) > len(name) && strings.HasPrefix(alias, name) {
			return true
		}
	}
	return false
}

func (s *streamSession) flushPendingArgs(callID string) {
	for _, event := range s.pendingArgs[callID] {
		s.emit(event)
	}
	delete(s.pendingArgs, callID)
}

// finishText closes a turn that ended with stop, length or
// content_filter.
func (s *streamSession) finishText(ctx context.Context, completion openai.ChatCompletionResponse) {
	if s.messageOpen {
		text := ""
		if len(completion.Choices) > 0 {
			_, text = responses.SplitThink(completion.Choices[0].Message.Content)
		}
		s.emit(models.StreamEvent{
			Type:         models.EventOutputTextDone,
			ItemID:       s.messageItemID(),
			OutputIndex:  intPtr(0),
			ContentIndex: intPtr(0),
			Text:         text,
		})
	}

	final := responses.FromChatCompletion(completion, s.st.params, s.st.items)
	final.ID = s.st.responseID

	if s.messageOpen {
		for _, item := range final.Output {
			if item.Type == models.ItemTypeMessage {
				done := item
				done.ID = s.messageItemID()
				s.emit(models.StreamEvent{
					Type:        models.EventOutputItemDone,
					ItemID:      s.messageItemID(),
					OutputIndex: intPtr(0),
					Item:        &done,
				})
				break
			}
		}
	}

	s.o.persist(ctx, s.st, final)
	s.emitTerminal(final)
}

// finishClientTools closes a turn whose calls are all client-resolved:
// the final response carries the bare function_call items.
func (s *streamSession) finishClientTools(ctx context.Context, completion openai.ChatCompletionResponse) {
	final := responses.FromChatCompletion(completion, s.st.params, s.st.items)
	final.ID = s.st.responseID

	for _, item := range final.Output {
		if item.Type != models.ItemTypeFunctionCall {
			continue
		}
		if _, native := s.o.tools.GetFunctionTool(item.Name, s.st.aliases); native {
			continue
		}
		s.flushPendingArgs(item.CallID)
		s.emit(models.StreamEvent{
			Type:      models.EventFunctionCallArgumentsDone,
			ItemID:    item.CallID,
			Arguments: item.Arguments,
		})
	}

	s.o.persist(ctx, s.st, final)
	s.emit(models.StreamEvent{Type: models.EventResponseCompleted, Response: final})
}

// emitTerminal picks the terminal event for the response status.
func (s *streamSession) emitTerminal(final *models.Response) {
	switch final.Status {
	case models.ResponseStatusIncomplete:
		s.emit(models.StreamEvent{Type: models.EventResponseIncomplete, Response: final})
	case models.ResponseStatusFailed:
		code := models.ErrorCodeServerError
		message := "upstream failure"
		if final.Error != nil {
			code = final.Error.Code
			message = final.Error.Message
		}
		s.emit(models.StreamEvent{
			Type:     models.EventResponseError,
			Code:     code,
			Message:  message,
			Response: final,
		})
	default:
		s.emit(models.StreamEvent{Type: models.EventResponseCompleted, Response: final})
	}
}

// terminalError emits a terminal response.error event.
func (s *streamSession) terminalError(code, message string) {
	s.emit(models.StreamEvent{
		Type:    models.EventResponseError,
		Code:    code,
		Message: message,
	})
}

// toolStarted emits the per-call lifecycle prefix events.
func (s *streamSession) toolStarted(tool tools.Tool, callID string, index int, generating bool) {
	prefix := s.toolPrefix(tool)
	s.emit(models.StreamEvent{Type: prefix + models.EventSuffixInProgress, ItemID: callID, OutputIndex: intPtr(index)})
	s.emit(models.StreamEvent{Type: prefix + models.EventSuffixExecuting, ItemID: callID, OutputIndex: intPtr(index)})
	if generating {
		s.emit(models.StreamEvent{Type: prefix + models.EventSuffixGenerating, ItemID: callID, OutputIndex: intPtr(index)})
	}
}

func (s *streamSession) toolFinished(tool tools.Tool, callID string, index int, err error) {
	event := models.StreamEvent{
		Type:        s.toolPrefix(tool) + models.EventSuffixCompleted,
		ItemID:      callID,
		OutputIndex: intPtr(index),
	}
	if err != nil {
		event.Message = err.Error()
	}
	s.emit(event)
}

func (s *streamSession) toolPrefix(tool tools.Tool) string {
	if _, ok := tools.MCPServerLabel(tool); ok {
		return "response.mcp_call." + tool.Name()
	}
	return "response." + tool.Name()
}

func (s *streamSession) messageItemID() string {
	return "msg_" + s.st.responseID
}

// emit assigns the next sequence number and forwards. The first emitter
// failure marks the session dead: no further events are produced and
// the turn loop stops at its next checkpoint.
func (s *streamSession) emit(event models.StreamEvent) {
	if s.dead {
		return
	}
	event.SequenceNumber = s.seq
	s.seq++
	if err := s.emitter.Emit(event); err != nil {
		s.dead = true
	}
}

func (s *streamSession) interimResponse() *models.Response {
	return &models.Response{
		ID:        s.st.responseID,
		Object:    "response",
		CreatedAt: time.Now().Unix(),
		Model:     s.st.params.Model,
		Status:    models.ResponseStatusInProgress,
		Output:    []models.Item{},
		Store:     s.st.shouldStore,
	}
}

// usableChunk reports whether a chunk carries anything beyond protocol
// keep-alive.
func usableChunk(chunk openai.ChatCompletionStreamResponse) bool {
	for _, c := range chunk.Choices {
		if c.Delta.Content != "" || len(c.Delta.ToolCalls) > 0 || c.FinishReason != "" {
			return true
		}
	}
	return chunk.Usage != nil
}

func intPtr(v int) *int { return &v }
