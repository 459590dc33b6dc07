package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// streamingUpstream plays scripted SSE chat streams, one per call.
// Calls past the end of the script repeat the last turn. delay stalls
// the stream after the first chunk of every turn.
type streamingUpstream struct {
	mu     sync.Mutex
	turns  [][]openai.ChatCompletionStreamResponse
	calls  int
	delay  time.Duration
	images int
}

func (u *streamingUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasSuffix(r.URL.Path, "/images/generations") {
		u.mu.Lock()
		u.images++
		u.mu.Unlock()
		json.NewEncoder(w).Encode(openai.ImageResponse{
			Data: []openai.ImageResponseDataInner{{B64JSON: "cGl4ZWxz"}},
		})
		return
	}

	u.mu.Lock()
	turn := u.calls
	u.calls++
	u.mu.Unlock()
	if turn >= len(u.turns) {
		turn = len(u.turns) - 1
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for i, chunk := range u.turns[turn] {
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		if i == 0 && u.delay > 0 {
			select {
			case <-time.After(u.delay):
			case <-r.Context().Done():
				return
			}
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// eventCollector records emitted events in order.
type eventCollector struct {
	events []models.StreamEvent
}

func (c *eventCollector) Emit(event models.StreamEvent) error {
	c.events = append(c.events, event)
	return nil
}

func (c *eventCollector) types() []string {
	out := make([]string, len(c.events))
	for i, e := range c.events {
		out[i] = e.Type
	}
	return out
}

// checkSequence verifies the monotone numbering: event n carries
// sequence_number n.
func checkSequence(t *testing.T, events []models.StreamEvent) {
	t.Helper()
	for i, e := range events {
		if e.SequenceNumber != int64(i) {
			t.Errorf("events[%d].SequenceNumber = %d", i, e.SequenceNumber)
		}
	}
}

func streamToolCallChunk(callID, name, args string) openai.ChatCompletionStreamResponse {
	idx := 0
	return openai.ChatCompletionStreamResponse{
		ID: "chatcmpl-test",
		Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{
				{Index: &idx, ID: callID, Function: openai.FunctionCall{Name: name, Arguments: args}},
			}},
		}},
	}
}

func TestStreamTextEvents(t *testing.T) {
	ctx := context.Background()
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{
		{ID: "chatcmpl-test", Model: "gpt-4o"},
		textChunk(0, "Hel"),
		textChunk(0, "lo"),
		finishChunk(0, openai.FinishReasonStop),
		{Usage: &openai.Usage{PromptTokens: 4, CompletionTokens: 2, TotalTokens: 6}},
	}}}
	orch, _ := newTestOrchestrator(t, up, nil, defaultOrchestrationConfig())

	sink := &eventCollector{}
	if err := orch.Stream(ctx, textRequest("gpt-4o", "Say hello"), sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	want := []string{
		models.EventResponseCreated,
		models.EventResponseInProgress,
		models.EventOutputItemAdded,
		models.EventOutputTextDelta,
		models.EventOutputTextDelta,
		models.EventOutputTextDone,
		models.EventOutputItemDone,
		models.EventResponseCompleted,
	}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}
	checkSequence(t, sink.events)

	if sink.events[3].Delta != "Hel" || sink.events[4].Delta != "lo" {
		t.Errorf("deltas = %q, %q", sink.events[3].Delta, sink.events[4].Delta)
	}
	if sink.events[5].Text != "Hello" {
		t.Errorf("output_text.done text = %q", sink.events[5].Text)
	}

	final := sink.events[len(sink.events)-1].Response
	if final == nil || final.Status != models.ResponseStatusCompleted {
		t.Fatalf("terminal response = %+v", final)
	}
	if len(final.Output) != 1 || final.Output[0].Content[0].Text != "Hello" {
		t.Errorf("final output = %+v", final.Output)
	}
	if final.Usage == nil || final.Usage.TotalTokens != 6 {
		t.Errorf("usage = %+v", final.Usage)
	}
}

func TestStreamClientFunctionCall(t *testing.T) {
	ctx := context.Background()
	idx := 0
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{
		streamToolCallChunk("call_1", "lookup_weather", `{"ci`),
		{Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{
				{Index: &idx, Function: openai.FunctionCall{Arguments: `ty":"Berlin"}`}},
			}},
		}}},
		finishChunk(0, openai.FinishReasonToolCalls),
	}}}
	orch, _ := newTestOrchestrator(t, up, nil, defaultOrchestrationConfig())

	req := textRequest("gpt-4o", "weather in Berlin?")
	req.Body.Tools = []models.ToolDef{{Type: models.ToolTypeFunction, Name: "lookup_weather"}}

	sink := &eventCollector{}
	if err := orch.Stream(ctx, req, sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	checkSequence(t, sink.events)

	var deltas []string
	var doneArgs string
	for _, e := range sink.events {
		switch e.Type {
		case models.EventFunctionCallArgumentsDelta:
			if e.ItemID != "call_1" {
				t.Errorf("delta item id = %q", e.ItemID)
			}
			deltas = append(deltas, e.Delta)
		case models.EventFunctionCallArgumentsDone:
			doneArgs = e.Arguments
		}
	}
	if strings.Join(deltas, "") != `{"city":"Berlin"}` {
		t.Errorf("argument deltas = %v", deltas)
	}
	if doneArgs != `{"city":"Berlin"}` {
		t.Errorf("arguments.done = %q", doneArgs)
	}

	last := sink.events[len(sink.events)-1]
	if last.Type != models.EventResponseCompleted || last.Response == nil {
		t.Fatalf("last event = %+v", last)
	}
	if len(last.Response.Output) != 1 || last.Response.Output[0].Type != models.ItemTypeFunctionCall {
		t.Errorf("final output = %+v", last.Response.Output)
	}
}

func TestStreamImageGenerationLifecycle(t *testing.T) {
	ctx := context.Background()
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{
		streamToolCallChunk("call_1", "image_generation", `{"prompt":"a red kite"}`),
		finishChunk(0, openai.FinishReasonToolCalls),
	}}}
	orch, _ := newTestOrchestrator(t, up, nil, defaultOrchestrationConfig())

	req := textRequest("gpt-4o", "draw a red kite")
	req.Body.Tools = []models.ToolDef{{Type: models.ToolTypeImageGeneration}}

	sink := &eventCollector{}
	if err := orch.Stream(ctx, req, sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	checkSequence(t, sink.events)

	var lifecycle []string
	for _, e := range sink.events {
		if strings.HasPrefix(e.Type, "response.image_generation.") {
			lifecycle = append(lifecycle, e.Type)
			if e.ItemID != "call_1" {
				t.Errorf("%s item id = %q", e.Type, e.ItemID)
			}
		}
	}
	want := []string{
		"response.image_generation.in_progress",
		"response.image_generation.executing",
		"response.image_generation.generating",
		"response.image_generation.completed",
	}
	if strings.Join(lifecycle, ",") != strings.Join(want, ",") {
		t.Errorf("lifecycle = %v, want %v", lifecycle, want)
	}

	last := sink.events[len(sink.events)-1]
	if last.Type != models.EventResponseCompleted || last.Response == nil {
		t.Fatalf("last event = %+v", last)
	}
	out := last.Response.Output
	if len(out) != 1 || out[0].Type != models.ItemTypeImageGenerationCall || out[0].Result != "cGl4ZWxz" {
		t.Errorf("final output = %+v", out)
	}
}

func TestStreamTimeout(t *testing.T) {
	ctx := context.Background()
	up := &streamingUpstream{
		delay: 2 * time.Second,
		turns: [][]openai.ChatCompletionStreamResponse{{
			textChunk(0, "partial"),
			textChunk(0, " never arrives"),
		}},
	}
	cfg := defaultOrchestrationConfig()
	cfg.StreamingTimeout = 150 * time.Millisecond
	orch, _ := newTestOrchestrator(t, up, nil, cfg)

	sink := &eventCollector{}
	if err := orch.Stream(ctx, textRequest("gpt-4o", "hi"), sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	checkSequence(t, sink.events)

	last := sink.events[len(sink.events)-1]
	if last.Type != models.EventResponseError || last.Code != models.ErrorCodeTimeout {
		t.Fatalf("last event = %+v, want a timeout response.error", last)
	}
	if sink.events[0].Type != models.EventResponseCreated {
		t.Errorf("first event = %s", sink.events[0].Type)
	}
}

func TestStreamTooManyToolCalls(t *testing.T) {
	ctx := context.Background()
	vectors, storeID := newSearchableStore(t)

	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{
		streamToolCallChunk("call_1", "file_search", `{"query":"anything"}`),
		finishChunk(0, openai.FinishReasonToolCalls),
	}}}
	cfg := defaultOrchestrationConfig()
	cfg.MaxStreamingToolCalls = 0
	orch, _ := newTestOrchestrator(t, up, vectors, cfg)

	req := textRequest("gpt-4o", "loop")
	req.Body.Tools = []models.ToolDef{{Type: models.ToolTypeFileSearch, VectorStoreIDs: []string{storeID}}}

	sink := &eventCollector{}
	if err := orch.Stream(ctx, req, sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	checkSequence(t, sink.events)

	last := sink.events[len(sink.events)-1]
	if last.Type != models.EventResponseError || last.Code != models.ErrorCodeTooManyToolCalls {
		t.Fatalf("last event = %+v, want too_many_tool_calls", last)
	}
}

func TestStreamValidationError(t *testing.T) {
	ctx := context.Background()
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{}}}
	orch, _ := newTestOrchestrator(t, up, nil, defaultOrchestrationConfig())

	sink := &eventCollector{}
	err := orch.Stream(ctx, Request{Body: &models.ResponseRequest{}}, sink)
	if err == nil {
		t.Fatal("Stream() with no model must fail before emitting")
	}
	if len(sink.events) != 0 {
		t.Errorf("events emitted before validation: %v", sink.types())
	}
}

// failingEmitter accepts a fixed number of events, then reports the
// client gone.
type failingEmitter struct {
	accept int
	calls  int
}

func (e *failingEmitter) Emit(models.StreamEvent) error {
	e.calls++
	if e.calls > e.accept {
		return fmt.Errorf("write: broken pipe")
	}
	return nil
}

func TestStreamStopsWhenEmitterFails(t *testing.T) {
	ctx := context.Background()
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{
		textChunk(0, "one"),
		textChunk(0, "two"),
		textChunk(0, "three"),
		finishChunk(0, openai.FinishReasonStop),
	}}}
	orch, _ := newTestOrchestrator(t, up, nil, defaultOrchestrationConfig())

	sink := &failingEmitter{accept: 1}
	if err := orch.Stream(ctx, textRequest("gpt-4o", "hi"), sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	// One accepted event, one failed attempt, then silence.
	if sink.calls != 2 {
		t.Errorf("emit attempts = %d, want 2", sink.calls)
	}
}

func TestStreamSplitNativeToolNameSuppressed(t *testing.T) {
	ctx := context.Background()
	vectors, storeID := newSearchableStore(t)

	idx := 0
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{
		{
			// The tool name arrives in two fragments; arguments must not
			// leak while it could still resolve server-side.
			streamToolCallChunk("call_1", "file_se", `{"query":"`),
			{Choices: []openai.ChatCompletionStreamChoice{{
				Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{
					{Index: &idx, Function: openai.FunctionCall{Name: "arch", Arguments: `gateway"}`}},
				}},
			}}},
			finishChunk(0, openai.FinishReasonToolCalls),
		},
		{
			textChunk(0, "found it"),
			finishChunk(0, openai.FinishReasonStop),
		},
	}}
	orch, _ := newTestOrchestrator(t, up, vectors, defaultOrchestrationConfig())

	req := textRequest("gpt-4o", "search")
	req.Body.Tools = []models.ToolDef{{Type: models.ToolTypeFileSearch, VectorStoreIDs: []string{storeID}}}

	sink := &eventCollector{}
	if err := orch.Stream(ctx, req, sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	checkSequence(t, sink.events)

	var lifecycle int
	for _, e := range sink.events {
		if e.Type == models.EventFunctionCallArgumentsDelta {
			t.Errorf("argument delta leaked for a native call: %+v", e)
		}
		if strings.HasPrefix(e.Type, "response.file_search.") {
			lifecycle++
		}
	}
	if lifecycle == 0 {
		t.Error("no file_search lifecycle events")
	}
	last := sink.events[len(sink.events)-1]
	if last.Type != models.EventResponseCompleted {
		t.Fatalf("last event = %+v", last)
	}
}

func TestStreamClientToolNamePastNativePrefix(t *testing.T) {
	ctx := context.Background()
	vectors, storeID := newSearchableStore(t)

	idx := 0
	up := &streamingUpstream{turns: [][]openai.ChatCompletionStreamResponse{{
		streamToolCallChunk("call_1", "file_sea", `{"q":`),
		{Choices: []openai.ChatCompletionStreamChoice{{
			Delta: openai.ChatCompletionStreamChoiceDelta{ToolCalls: []openai.ToolCall{
				{Index: &idx, Function: openai.FunctionCall{Name: "rcher", Arguments: `"x"}`}},
			}},
		}}},
		finishChunk(0, openai.FinishReasonToolCalls),
	}}}
	orch, _ := newTestOrchestrator(t, up, vectors, defaultOrchestrationConfig())

	// "file_searcher" is the client's own tool; once the name outgrows
	// the native alias the held deltas must be released in order.
	req := textRequest("gpt-4o", "search")
	req.Body.Tools = []models.ToolDef{
		{Type: models.ToolTypeFileSearch, VectorStoreIDs: []string{storeID}},
		{Type: models.ToolTypeFunction, Name: "file_searcher"},
	}

	sink := &eventCollector{}
	if err := orch.Stream(ctx, req, sink); err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	checkSequence(t, sink.events)

	var deltas []string
	for _, e := range sink.events {
		if e.Type == models.EventFunctionCallArgumentsDelta {
			deltas = append(deltas, e.Delta)
		}
	}
	if strings.Join(deltas, "") != `{"q":"x"}` {
		t.Errorf("argument deltas = %v", deltas)
	}
}
