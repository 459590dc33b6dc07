package api

import (
	"encoding/json"
	"net/http"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

type createVectorStoreRequest struct {
	Name         string               `json:"name"`
	ExpiresAfter *models.ExpiresAfter `json:"expires_after,omitempty"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
}

type modifyVectorStoreRequest struct {
	Name         *string              `json:"name,omitempty"`
	ExpiresAfter *models.ExpiresAfter `json:"expires_after,omitempty"`
	Metadata     map[string]string    `json:"metadata,omitempty"`
}

type attachVectorFileRequest struct {
	FileID           string                   `json:"file_id"`
	Attributes       map[string]any           `json:"attributes,omitempty"`
	ChunkingStrategy *models.ChunkingStrategy `json:"chunking_strategy,omitempty"`
}

// handleCreateVectorStore serves POST /v1/vector_stores.
func (s *Server) handleCreateVectorStore(w http.ResponseWriter, r *http.Request) {
	var body createVectorStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	vs, err := s.vectors.CreateStore(r.Context(), body.Name, body.ExpiresAfter, body.Metadata)
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, vs)
}

// handleListVectorStores serves GET /v1/vector_stores.
func (s *Server) handleListVectorStores(w http.ResponseWriter, r *http.Request) {
	stores, err := s.vectors.ListStores(r.Context())
	if err != nil {
		s.mapError(w, err)
		return
	}
	if stores == nil {
		stores = []*models.VectorStore{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   stores,
	})
}

// handleGetVectorStore serves GET /v1/vector_stores/{id}.
func (s *Server) handleGetVectorStore(w http.ResponseWriter, r *http.Request) {
	vs, err := s.vectors.GetStore(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vs)
}

// handleModifyVectorStore serves POST /v1/vector_stores/{id}.
func (s *Server) handleModifyVectorStore(w http.ResponseWriter, r *http.Request) {
	var body modifyVectorStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	vs, err := s.vectors.ModifyStore(r.Context(), r.PathValue("id"), body.Name, body.ExpiresAfter, body.Metadata)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, vs)
}

// handleDeleteVectorStore serves DELETE /v1/vector_stores/{id}.
func (s *Server) handleDeleteVectorStore(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.vectors.DeleteStore(r.Context(), id); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"object":  "vector_store.deleted",
		"deleted": true,
	})
}

// handleVectorSearch serves POST /v1/vector_stores/{id}/search.
func (s *Server) handleVectorSearch(w http.ResponseWriter, r *http.Request) {
	var body models.VectorSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.Query == "" {
		s.jsonError(w, http.StatusBadRequest, "query is required")
		return
	}
	results, err := s.vectors.Search(r.Context(), r.PathValue("id"), body)
	if err != nil {
		s.mapError(w, err)
		return
	}
	if results == nil {
		results = []models.VectorSearchResult{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"object":       "vector_store.search_results.page",
		"search_query": body.Query,
		"data":         results,
	})
}

// handleAttachVectorFile serves POST /v1/vector_stores/{id}/files.
func (s *Server) handleAttachVectorFile(w http.ResponseWriter, r *http.Request) {
	var body attachVectorFileRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if body.FileID == "" {
		s.jsonError(w, http.StatusBadRequest, "file_id is required")
		return
	}
	file, err := s.vectors.AttachFile(r.Context(), r.PathValue("id"), body.FileID,
		body.Attributes, body.ChunkingStrategy)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, file)
}

// handleListVectorFiles serves GET /v1/vector_stores/{id}/files.
func (s *Server) handleListVectorFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.vectors.ListFiles(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	if list == nil {
		list = []*models.VectorStoreFile{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   list,
	})
}

// handleGetVectorFile serves GET /v1/vector_stores/{id}/files/{file_id}.
func (s *Server) handleGetVectorFile(w http.ResponseWriter, r *http.Request) {
	file, err := s.vectors.GetFile(r.Context(), r.PathValue("id"), r.PathValue("file_id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, file)
}

// handleDeleteVectorFile serves DELETE /v1/vector_stores/{id}/files/{file_id}.
func (s *Server) handleDeleteVectorFile(w http.ResponseWriter, r *http.Request) {
	fileID := r.PathValue("file_id")
	if err := s.vectors.DeleteFile(r.Context(), r.PathValue("id"), fileID); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":      fileID,
		"object":  "vector_store.file.deleted",
		"deleted": true,
	})
}
