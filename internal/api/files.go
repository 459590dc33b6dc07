package api

import (
	"io"
	"net/http"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// 512 MiB cap per upload.
const maxUploadBytes = 512 << 20

// handleUploadFile serves POST /v1/files as a multipart upload with a
// "file" part and a "purpose" field.
func (s *Server) handleUploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid multipart body: "+err.Error())
		return
	}

	part, header, err := r.FormFile("file")
	if err != nil {
		s.jsonError(w, http.StatusBadRequest, "missing file part")
		return
	}
	defer part.Close()

	purpose := r.FormValue("purpose")
	obj, err := s.files.Save(r.Context(), purpose, header.Filename, part)
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, obj)
}

// handleListFiles serves GET /v1/files, optionally filtered by
// ?purpose=.
func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	list, err := s.files.List(r.Context(), r.URL.Query().Get("purpose"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	if list == nil {
		list = []*models.FileObject{}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"object": "list",
		"data":   list,
	})
}

// handleGetFile serves GET /v1/files/{id}.
func (s *Server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	obj, err := s.files.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, obj)
}

// handleDeleteFile serves DELETE /v1/files/{id}.
func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.files.Delete(r.Context(), id); err != nil {
		s.mapError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":      id,
		"object":  "file",
		"deleted": true,
	})
}

// handleFileContent serves GET /v1/files/{id}/content as the raw blob.
func (s *Server) handleFileContent(w http.ResponseWriter, r *http.Request) {
	rc, obj, err := s.files.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		s.mapError(w, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+obj.Filename+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Debug(r.Context(), "stream file content failed", "file_id", obj.ID, "error", err)
	}
}
