package api

import (
	"errors"
	"net/http"

	"github.com/openrelay-ai/openrelay/internal/files"
	"github.com/openrelay-ai/openrelay/internal/orchestrator"
	"github.com/openrelay-ai/openrelay/internal/store"
	"github.com/openrelay-ai/openrelay/internal/vectorstore"
)

// errorBody is the JSON error envelope, shaped like the OpenAI API's.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}

// jsonError writes an error envelope with the given status.
func (s *Server) jsonError(w http.ResponseWriter, status int, message string) {
	kind := "invalid_request_error"
	if status >= 500 {
		kind = "server_error"
	}
	s.writeJSON(w, status, errorBody{Error: errorDetail{Message: message, Type: kind}})
}

// mapError translates domain errors onto HTTP statuses: not-found is
// 404, tool-limit breaches are 400, anything else is 500.
func (s *Server) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, files.ErrNotFound),
		errors.Is(err, vectorstore.ErrNotFound):
		s.jsonError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrTooManyToolCalls),
		errors.Is(err, orchestrator.ErrInvalidRequest):
		s.jsonError(w, http.StatusBadRequest, err.Error())
	default:
		s.jsonError(w, http.StatusInternalServerError, err.Error())
	}
}
