// Package files stores uploaded blobs on the local filesystem.
//
// Layout: {rootDir}/{purpose}/{fileId} with a sibling
// {fileId}.metadata JSON sidecar carrying at least the original filename.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// ErrNotFound is returned for unknown file ids.
var ErrNotFound = errors.New("file not found")

const metadataSuffix = ".metadata"

// metadata is the sidecar document.
type metadata struct {
	Filename  string `json:"filename"`
	Purpose   string `json:"purpose"`
	Bytes     int64  `json:"bytes"`
	CreatedAt int64  `json:"created_at"`
}

// Storage is a purpose-scoped local blob store.
type Storage struct {
	rootDir string
	mu      sync.RWMutex
}

// NewStorage creates the root directory if needed.
func NewStorage(rootDir string) (*Storage, error) {
	if err := os.MkdirAll(rootDir, 0o755); err != nil {
		return nil, fmt.Errorf("create root dir: %w", err)
	}
	return &Storage{rootDir: rootDir}, nil
}

// Save writes a blob and its sidecar, returning the file record.
func (s *Storage) Save(_ context.Context, purpose, filename string, r io.Reader) (*models.FileObject, error) {
	if purpose == "" {
		purpose = "assistants"
	}
	id := "file-" + strings.ReplaceAll(uuid.NewString(), "-", "")

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.rootDir, purpose)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create purpose dir: %w", err)
	}

	path := filepath.Join(dir, id)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create blob: %w", err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write blob: %w", err)
	}

	meta := metadata{
		Filename:  filename,
		Purpose:   purpose,
		Bytes:     n,
		CreatedAt: time.Now().Unix(),
	}
	data, err := json.Marshal(meta)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+metadataSuffix, data, 0o644); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("write metadata: %w", err)
	}

	return fileObject(id, meta), nil
}

// Get returns the file record for id.
func (s *Storage) Get(_ context.Context, id string) (*models.FileObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, meta, err := s.locate(id)
	if err != nil {
		return nil, err
	}
	return fileObject(id, meta), nil
}

// Open returns a reader over the blob. The caller closes it.
func (s *Storage) Open(_ context.Context, id string) (io.ReadCloser, *models.FileObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	path, meta, err := s.locate(id)
	if err != nil {
		return nil, nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open blob: %w", err)
	}
	return f, fileObject(id, meta), nil
}

// ReadAll returns the blob contents.
func (s *Storage) ReadAll(ctx context.Context, id string) ([]byte, error) {
	r, _, err := s.Open(ctx, id)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// Exists reports whether a blob for id is present.
func (s *Storage) Exists(_ context.Context, id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, _, err := s.locate(id)
	return err == nil
}

// List returns all file records, optionally filtered by purpose.
func (s *Storage) List(_ context.Context, purpose string) ([]*models.FileObject, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return nil, fmt.Errorf("read root dir: %w", err)
	}

	var out []*models.FileObject
	for _, dir := range entries {
		if !dir.IsDir() || (purpose != "" && dir.Name() != purpose) {
			continue
		}
		sidecars, err := filepath.Glob(filepath.Join(s.rootDir, dir.Name(), "*"+metadataSuffix))
		if err != nil {
			continue
		}
		for _, sidecar := range sidecars {
			id := strings.TrimSuffix(filepath.Base(sidecar), metadataSuffix)
			meta, err := readMetadata(sidecar)
			if err != nil {
				continue
			}
			out = append(out, fileObject(id, meta))
		}
	}
	return out, nil
}

// Delete removes the blob and its sidecar.
func (s *Storage) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, _, err := s.locate(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove blob: %w", err)
	}
	if err := os.Remove(path + metadataSuffix); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove metadata: %w", err)
	}
	return nil
}

// locate finds the blob path for id by scanning purpose directories.
func (s *Storage) locate(id string) (string, metadata, error) {
	if id == "" || strings.ContainsAny(id, "/\\") {
		return "", metadata{}, ErrNotFound
	}
	entries, err := os.ReadDir(s.rootDir)
	if err != nil {
		return "", metadata{}, ErrNotFound
	}
	for _, dir := range entries {
		if !dir.IsDir() {
			continue
		}
		path := filepath.Join(s.rootDir, dir.Name(), id)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		meta, err := readMetadata(path + metadataSuffix)
		if err != nil {
			meta = metadata{Filename: id, Purpose: dir.Name()}
		}
		return path, meta, nil
	}
	return "", metadata{}, ErrNotFound
}

func readMetadata(path string) (metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return metadata{}, err
	}
	var meta metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return metadata{}, err
	}
	return meta, nil
}

func fileObject(id string, meta metadata) *models.FileObject {
	return &models.FileObject{
		ID:        id,
		Object:    "file",
		Bytes:     meta.Bytes,
		CreatedAt: meta.CreatedAt,
		Filename:  meta.Filename,
		Purpose:   meta.Purpose,
	}
}
