package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/internal/config"
	"github.com/openrelay-ai/openrelay/internal/files"
	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/internal/orchestrator"
	"github.com/openrelay-ai/openrelay/internal/providers"
	"github.com/openrelay-ai/openrelay/internal/store"
	"github.com/openrelay-ai/openrelay/internal/tools"
	"github.com/openrelay-ai/openrelay/internal/vectorstore"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// fakeUpstream answers chat completion calls with a fixed completion,
// buffered or as an SSE stream.
type fakeUpstream struct {
	completion openai.ChatCompletionResponse
}

func (u *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	json.NewDecoder(r.Body).Decode(&req)

	if !req.Stream {
		json.NewEncoder(w).Encode(u.completion)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)
	for _, choice := range u.completion.Choices {
		chunk := openai.ChatCompletionStreamResponse{
			ID: u.completion.ID,
			Choices: []openai.ChatCompletionStreamChoice{{
				Index: choice.Index,
				Delta: openai.ChatCompletionStreamChoiceDelta{Content: choice.Message.Content},
			}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(w, "data: %s\n\n", data)
	}
	done, _ := json.Marshal(openai.ChatCompletionStreamResponse{
		ID: u.completion.ID,
		Choices: []openai.ChatCompletionStreamChoice{{
			FinishReason: openai.FinishReasonStop,
		}},
	})
	fmt.Fprintf(w, "data: %s\n\n", done)
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// fixture is a fully wired server over an in-process upstream.
type fixture struct {
	handler http.Handler
	files   *files.Storage
	vectors *vectorstore.Service
	store   *store.MemoryStore
}

// unitEmbedder embeds every text as the same unit vector.
type unitEmbedder struct{}

func (unitEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (unitEmbedder) Dimension() int { return 2 }

func newFixture(t *testing.T, completion openai.ChatCompletionResponse) *fixture {
	t.Helper()

	upstream := httptest.NewServer(&fakeUpstream{completion: completion})
	t.Cleanup(upstream.Close)

	logger := observability.NewLogger(observability.LogConfig{Level: "error", Output: io.Discard})
	tracer, _ := observability.NewTracer(observability.TraceConfig{})

	storage, err := files.NewStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	idx, err := vectorstore.NewFileIndex(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	chunker, err := vectorstore.NewChunker(vectorstore.ChunkerConfig{})
	if err != nil {
		t.Fatal(err)
	}
	vectors := vectorstore.NewService(vectorstore.ServiceDeps{
		Repository: vectorstore.NewRepository(),
		Blobs:      storage,
		Embedder:   unitEmbedder{},
		Index:      idx,
		Chunker:    chunker,
		Logger:     logger,
		Tracer:     tracer,
	})

	mem := store.NewMemoryStore(32)
	toolSvc := tools.NewService(vectors, nil, logger, tracer, nil)
	orch := orchestrator.New(providers.NewClient(), toolSvc, mem, mem,
		config.OrchestrationConfig{
			MaxToolCalls:          25,
			MaxStreamingToolCalls: 30,
			StreamingTimeout:      10 * time.Second,
		},
		config.ModelConfig{BaseURL: upstream.URL}, logger, tracer, nil)

	srv := NewServer(Deps{
		Orchestrator: orch,
		Responses:    mem,
		Files:        storage,
		Vectors:      vectors,
		Logger:       logger,
	})
	return &fixture{handler: srv.Handler(), files: storage, vectors: vectors, store: mem}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer sk-test")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func simpleCompletion(text string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		ID:     "chatcmpl-api",
		Object: "chat.completion",
		Model:  "gpt-4o",
		Choices: []openai.ChatCompletionChoice{{
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: text},
			FinishReason: openai.FinishReasonStop,
		}},
	}
}

func TestHealthz(t *testing.T) {
	f := newFixture(t, simpleCompletion("ok"))
	rec := f.do(t, http.MethodGet, "/healthz", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decodeJSON[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, simpleCompletion("ok"))
	rec := f.do(t, http.MethodGet, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestResponsesLifecycle(t *testing.T) {
	f := newFixture(t, simpleCompletion("Hello there"))

	rec := f.do(t, http.MethodPost, "/v1/responses", map[string]any{
		"model": "gpt-4o",
		"input": "Hi",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeJSON[models.Response](t, rec)
	if created.Object != "response" || created.Status != models.ResponseStatusCompleted {
		t.Errorf("created = %+v", created)
	}
	if len(created.Output) != 1 || created.Output[0].Content[0].Text != "Hello there" {
		t.Errorf("output = %+v", created.Output)
	}

	rec = f.do(t, http.MethodGet, "/v1/responses/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	got := decodeJSON[models.Response](t, rec)
	if got.ID != created.ID {
		t.Errorf("got id %q", got.ID)
	}

	rec = f.do(t, http.MethodGet, "/v1/responses/"+created.ID+"/input_items", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("input_items status = %d", rec.Code)
	}
	list := decodeJSON[struct {
		Object string        `json:"object"`
		Data   []models.Item `json:"data"`
	}](t, rec)
	if list.Object != "list" || len(list.Data) != 1 || list.Data[0].Role != models.RoleUser {
		t.Errorf("input items = %+v", list)
	}

	rec = f.do(t, http.MethodDelete, "/v1/responses/"+created.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	deleted := decodeJSON[map[string]any](t, rec)
	if deleted["object"] != "response.deleted" || deleted["deleted"] != true {
		t.Errorf("delete body = %v", deleted)
	}

	rec = f.do(t, http.MethodGet, "/v1/responses/"+created.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestCreateResponseErrors(t *testing.T) {
	f := newFixture(t, simpleCompletion("x"))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/responses", strings.NewReader("{not json"))
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/responses", map[string]any{"input": "hi"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing model status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON[errorBody](t, rec)
	if body.Error.Type != "invalid_request_error" {
		t.Errorf("error envelope = %+v", body)
	}
}

func TestResponsesStreaming(t *testing.T) {
	f := newFixture(t, simpleCompletion("streamed text"))

	rec := f.do(t, http.MethodPost, "/v1/responses", map[string]any{
		"model":  "gpt-4o",
		"input":  "Hi",
		"stream": true,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	body := rec.Body.String()
	for _, marker := range []string{
		"event: response.created\n",
		"event: response.output_text.delta\n",
		"event: response.completed\n",
		`"delta":"streamed text"`,
	} {
		if !strings.Contains(body, marker) {
			t.Errorf("stream body lacks %q:\n%s", marker, body)
		}
	}
}

func TestStreamingValidationError(t *testing.T) {
	f := newFixture(t, simpleCompletion("x"))

	rec := f.do(t, http.MethodPost, "/v1/responses", map[string]any{
		"input":  "hi",
		"stream": true,
	})
	// Validation fails before the first event, so the client still gets
	// a JSON 400 rather than a broken stream.
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeJSON[errorBody](t, rec)
	if body.Error.Message == "" {
		t.Errorf("error body = %+v", body)
	}
}

func TestChatCompletions(t *testing.T) {
	f := newFixture(t, simpleCompletion("pong"))

	rec := f.do(t, http.MethodPost, "/v1/chat/completions", openai.ChatCompletionRequest{
		Model: "gpt-4o",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "ping"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	completion := decodeJSON[openai.ChatCompletionResponse](t, rec)
	if completion.Choices[0].Message.Content != "pong" {
		t.Errorf("completion = %+v", completion)
	}

	rec = f.do(t, http.MethodPost, "/v1/chat/completions", openai.ChatCompletionRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing model status = %d", rec.Code)
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	f := newFixture(t, simpleCompletion("chunked"))

	rec := f.do(t, http.MethodPost, "/v1/chat/completions", openai.ChatCompletionRequest{
		Model:  "gpt-4o",
		Stream: true,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: "go"},
		},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"content":"chunked"`) {
		t.Errorf("stream lacks the relayed delta:\n%s", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("stream not closed with [DONE]:\n%s", body)
	}
}

func uploadFile(t *testing.T, f *fixture, purpose, filename, content string) *models.FileObject {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte(content))
	mw.WriteField("purpose", purpose)
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	file := decodeJSON[*models.FileObject](t, rec)
	return file
}

func TestFilesAPI(t *testing.T) {
	f := newFixture(t, simpleCompletion("x"))

	file := uploadFile(t, f, "assistants", "notes.txt", "some notes")
	if file.Filename != "notes.txt" || file.Purpose != "assistants" || file.Bytes != int64(len("some notes")) {
		t.Errorf("file = %+v", file)
	}
	uploadFile(t, f, "batch", "other.txt", "unrelated")

	rec := f.do(t, http.MethodGet, "/v1/files?purpose=assistants", nil)
	list := decodeJSON[struct {
		Object string               `json:"object"`
		Data   []*models.FileObject `json:"data"`
	}](t, rec)
	if len(list.Data) != 1 || list.Data[0].ID != file.ID {
		t.Errorf("filtered list = %+v", list.Data)
	}

	rec = f.do(t, http.MethodGet, "/v1/files/"+file.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/files/"+file.ID+"/content", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "some notes" {
		t.Errorf("content = %q (status %d)", rec.Body.String(), rec.Code)
	}
	if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "notes.txt") {
		t.Errorf("Content-Disposition = %q", cd)
	}

	rec = f.do(t, http.MethodDelete, "/v1/files/"+file.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/files/"+file.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestVectorStoresAPI(t *testing.T) {
	f := newFixture(t, simpleCompletion("x"))
	file := uploadFile(t, f, "assistants", "guide.txt", "the service listens on port 8080")

	rec := f.do(t, http.MethodPost, "/v1/vector_stores", map[string]any{"name": "docs"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	vs := decodeJSON[models.VectorStore](t, rec)
	if vs.Object != "vector_store" || vs.Name != "docs" {
		t.Errorf("store = %+v", vs)
	}

	rec = f.do(t, http.MethodPost, "/v1/vector_stores/"+vs.ID+"/files", map[string]any{
		"file_id":    file.ID,
		"attributes": map[string]any{"team": "platform"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("attach status = %d: %s", rec.Code, rec.Body.String())
	}
	f.vectors.WaitForIndexing()

	rec = f.do(t, http.MethodGet, "/v1/vector_stores/"+vs.ID+"/files/"+file.ID, nil)
	attached := decodeJSON[models.VectorStoreFile](t, rec)
	if attached.Status != models.VectorStoreFileStatusCompleted {
		t.Fatalf("attachment = %+v", attached)
	}

	rec = f.do(t, http.MethodPost, "/v1/vector_stores/"+vs.ID+"/search", map[string]any{
		"query": "which port",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d: %s", rec.Code, rec.Body.String())
	}
	page := decodeJSON[struct {
		Object      string                      `json:"object"`
		SearchQuery string                      `json:"search_query"`
		Data        []models.VectorSearchResult `json:"data"`
	}](t, rec)
	if page.Object != "vector_store.search_results.page" || page.SearchQuery != "which port" {
		t.Errorf("page = %+v", page)
	}
	if len(page.Data) != 1 || page.Data[0].FileID != file.ID {
		t.Fatalf("results = %+v", page.Data)
	}
	if page.Data[0].Attributes["team"] != "platform" {
		t.Errorf("attributes = %+v", page.Data[0].Attributes)
	}

	rec = f.do(t, http.MethodPost, "/v1/vector_stores/"+vs.ID+"/search", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d", rec.Code)
	}

	newName := "manuals"
	rec = f.do(t, http.MethodPost, "/v1/vector_stores/"+vs.ID, map[string]any{"name": newName})
	if got := decodeJSON[models.VectorStore](t, rec); got.Name != newName {
		t.Errorf("modified store = %+v", got)
	}

	rec = f.do(t, http.MethodDelete, "/v1/vector_stores/"+vs.ID+"/files/"+file.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("detach status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/v1/vector_stores/"+vs.ID+"/files", nil)
	filesPage := decodeJSON[struct {
		Data []*models.VectorStoreFile `json:"data"`
	}](t, rec)
	if len(filesPage.Data) != 0 {
		t.Errorf("files after detach = %+v", filesPage.Data)
	}

	rec = f.do(t, http.MethodDelete, "/v1/vector_stores/"+vs.ID, nil)
	deleted := decodeJSON[map[string]any](t, rec)
	if deleted["object"] != "vector_store.deleted" || deleted["deleted"] != true {
		t.Errorf("delete body = %v", deleted)
	}
	rec = f.do(t, http.MethodGet, "/v1/vector_stores/"+vs.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d", rec.Code)
	}
}

func TestVectorStoreNotFound(t *testing.T) {
	f := newFixture(t, simpleCompletion("x"))

	rec := f.do(t, http.MethodGet, "/v1/vector_stores/vs_missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/vector_stores/vs_missing/files", map[string]any{"file_id": "file-1"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("attach status = %d", rec.Code)
	}
}
