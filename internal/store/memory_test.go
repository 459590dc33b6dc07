package store

import (
	"context"
	"errors"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

func TestMemoryStoreMerge(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	userMsg := models.NewUserMessage("hi")
	call := models.Item{Type: models.ItemTypeFunctionCall, CallID: "call_1", Name: "f", Arguments: "{}", Status: models.ItemStatusCompleted}
	output := models.Item{Type: models.ItemTypeFunctionCallOutput, CallID: "call_1", Output: "ok"}

	resp := &models.Response{ID: "resp_1", Output: []models.Item{call}}
	if err := s.StoreResponse(ctx, resp, []models.Item{userMsg}); err != nil {
		t.Fatalf("StoreResponse() error = %v", err)
	}

	// Second turn re-sends the earlier input plus the tool output; the
	// duplicate must not be stored twice.
	final := &models.Response{ID: "resp_1", Output: []models.Item{
		call,
		{Type: models.ItemTypeMessage, Role: models.RoleAssistant, Content: []models.ContentPart{
			{Type: models.ContentTypeOutputText, Text: "done"},
		}},
	}}
	if err := s.StoreResponse(ctx, final, []models.Item{userMsg, output}); err != nil {
		t.Fatalf("StoreResponse() error = %v", err)
	}

	inputs, err := s.GetInputItems(ctx, "resp_1")
	if err != nil {
		t.Fatalf("GetInputItems() error = %v", err)
	}
	if len(inputs) != 2 {
		t.Fatalf("got %d input items, want 2 (merged by equality): %+v", len(inputs), inputs)
	}
	if !models.ItemsEqual(inputs[0], userMsg) {
		t.Errorf("first-seen order broken: inputs[0] = %+v", inputs[0])
	}

	outputs, err := s.GetOutputItems(ctx, "resp_1")
	if err != nil {
		t.Fatalf("GetOutputItems() error = %v", err)
	}
	if len(outputs) != 2 {
		t.Fatalf("got %d output items, want 2: %+v", len(outputs), outputs)
	}

	got, err := s.GetResponse(ctx, "resp_1")
	if err != nil {
		t.Fatalf("GetResponse() error = %v", err)
	}
	if len(got.Output) != 2 {
		t.Errorf("latest response should win: %+v", got.Output)
	}
}

func TestMemoryStoreProjectsFunctionCalls(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	call := models.Item{Type: models.ItemTypeFunctionCall, CallID: "call_1", Name: "f", Arguments: "{}"}
	resp := &models.Response{ID: "resp_1"}
	if err := s.StoreResponse(ctx, resp, []models.Item{call}); err != nil {
		t.Fatal(err)
	}

	inputs, err := s.GetInputItems(ctx, "resp_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(inputs) != 1 || inputs[0].Role != models.RoleAssistant {
		t.Errorf("function_call inputs should carry the assistant role: %+v", inputs)
	}
}

func TestMemoryStoreNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	if _, err := s.GetResponse(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetResponse() error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetInputItems(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInputItems() error = %v, want ErrNotFound", err)
	}
	if err := s.DeleteResponse(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("DeleteResponse() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	if err := s.StoreResponse(ctx, &models.Response{ID: "resp_1"}, nil); err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteResponse(ctx, "resp_1"); err != nil {
		t.Fatalf("DeleteResponse() error = %v", err)
	}
	if _, err := s.GetResponse(ctx, "resp_1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted response still readable: %v", err)
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.StoreResponse(ctx, &models.Response{ID: id}, nil); err != nil {
			t.Fatal(err)
		}
	}

	if _, err := s.GetResponse(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("oldest entry should be evicted, got err = %v", err)
	}
	if _, err := s.GetResponse(ctx, "c"); err != nil {
		t.Errorf("newest entry missing: %v", err)
	}
}

func TestMemoryStoreCompletions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	completion := openai.ChatCompletionResponse{ID: "chatcmpl-1", Model: "gpt-4o"}
	if err := s.StoreCompletion(ctx, completion, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetCompletion(ctx, "chatcmpl-1")
	if err != nil {
		t.Fatalf("GetCompletion() error = %v", err)
	}
	if got.Model != "gpt-4o" {
		t.Errorf("Model = %q", got.Model)
	}

	if err := s.DeleteCompletion(ctx, "chatcmpl-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetCompletion(ctx, "chatcmpl-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted completion still readable: %v", err)
	}
}
