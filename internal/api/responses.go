package api

import (
	"encoding/json"
	"net/http"

	"github.com/openrelay-ai/openrelay/internal/orchestrator"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

const providerHeader = "x-model-provider"

// handleCreateResponse serves POST /v1/responses, buffered or SSE.
func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	var body models.ResponseRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	req := orchestrator.Request{
		Credential: bearerToken(r),
		Provider:   r.Header.Get(providerHeader),
		Body:       &body,
	}

	if body.Stream {
		s.streamResponse(w, r, req)
		return
	}

	resp, err := s.orchestrator.Run(r.Context(), req)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// streamResponse runs the orchestration over an SSE channel.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.jsonError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	emitter := &sseEmitter{w: w, flusher: flusher}
	if err := s.orchestrator.Stream(r.Context(), req, emitter); err != nil {
		// Validation failed before the first event; the headers are not
		// sent yet only when nothing was emitted.
		if !emitter.wrote {
			w.Header().Set("Content-Type", "application/json")
			s.jsonError(w, http.StatusBadRequest, err.Error())
		}
	}
}

// sseEmitter writes canonical events in "event:/data:" framing.
type sseEmitter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func (e *sseEmitter) Emit(event models.StreamEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := e.w.Write([]byte("event: " + event.Type + "\ndata: " + string(data) + "\n\n")); err != nil {
		return err
	}
	e.wrote = true
	e.flusher.Flush()
	return nil
}

// handleGetResponse serves GET /v1/responses/{id}.
func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	resp, err := s.responses.GetResponse(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleDeleteResponse serves DELETE /v1/responses/{id}.
func (s *Server) handleDeleteResponse(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.responses.DeleteResponse(r.Context(), id); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"object":  "response.deleted",
		"deleted": true,
	})
}

// handleInputItems serves GET /v1/responses/{id}/input_items.
func (s *Server) handleInputItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.responses.GetInputItems(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	if items == nil {
		items = []models.Item{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   items,
	})
}
