package api

import (
	"encoding/json"
	"net/http"

	openai "github.com/sashabaranov/go-openai"

	"github.com/openrelay-ai/openrelay/internal/orchestrator"
)

// handleChatCompletions serves POST /v1/chat/completions, buffered or
// as a chunk relay.
func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var body openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req := orchestrator.CompletionRequest{
		Credential: bearerToken(r),
		Provider:   r.Header.Get(providerHeader),
		Body:       body,
	}

	if body.Stream {
		s.streamChatCompletion(w, r, req)
		return
	}

	completion, err := s.orchestrator.RunCompletion(r.Context(), req)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, completion)
}

// streamChatCompletion relays upstream chunks in the OpenAI "data:"
// framing, closed with a [DONE] sentinel.
func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, req orchestrator.CompletionRequest) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	wrote := false
	err := s.orchestrator.StreamCompletion(r.Context(), req, func(chunk openai.ChatCompletionStreamResponse) error {
		data, err := json.Marshal(chunk)
		if err != nil {
			return err
		}
		if _, err := w.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
			return err
		}
		wrote = true
		flusher.Flush()
		return nil
	})
	if err != nil {
		if !wrote {
			w.Header().Set("Content-Type", "application/json")
			s.jsonError(w, http.StatusBadRequest, err.Error())
		}
		return
	}

	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
