package vectorstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// ErrNotFound is returned for unknown vector stores or files.
var ErrNotFound = errors.New("vector store not found")

// Repository holds vector store and attachment records. The indexes hold
// the chunks; this holds the bookkeeping around them.
type Repository struct {
	mu     sync.RWMutex
	stores map[string]*models.VectorStore
	files  map[string]map[string]*models.VectorStoreFile // store id -> file id -> record
}

// NewRepository builds an empty repository.
func NewRepository() *Repository {
	return &Repository{
		stores: make(map[string]*models.VectorStore),
		files:  make(map[string]map[string]*models.VectorStoreFile),
	}
}

// CreateStore registers a new vector store.
func (r *Repository) CreateStore(_ context.Context, name string, expiresAfter *models.ExpiresAfter, metadata map[string]string) (*models.VectorStore, error) {
	now := time.Now().Unix()
	vs := &models.VectorStore{
		ID:           "vs_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Object:       "vector_store",
		Name:         name,
		CreatedAt:    now,
		LastActiveAt: now,
		Status:       models.VectorStoreStatusInProgress,
		ExpiresAfter: expiresAfter,
		Metadata:     metadata,
	}
	if expiresAfter != nil {
		vs.ExpiresAt = now + int64(expiresAfter.Days)*86400
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stores[vs.ID] = vs
	r.files[vs.ID] = make(map[string]*models.VectorStoreFile)
	clone := *vs
	return &clone, nil
}

// GetStore fetches a store by id.
func (r *Repository) GetStore(_ context.Context, id string) (*models.VectorStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vs, ok := r.stores[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *vs
	return &clone, nil
}

// ListStores returns all stores, newest first.
func (r *Repository) ListStores(_ context.Context) ([]*models.VectorStore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*models.VectorStore, 0, len(r.stores))
	for _, vs := range r.stores {
		clone := *vs
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt > out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// UpdateStore applies fn to the store record under the lock.
func (r *Repository) UpdateStore(_ context.Context, id string, fn func(*models.VectorStore)) (*models.VectorStore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs, ok := r.stores[id]
	if !ok {
		return nil, ErrNotFound
	}
	fn(vs)
	if vs.ExpiresAfter != nil {
		vs.ExpiresAt = vs.LastActiveAt + int64(vs.ExpiresAfter.Days)*86400
	} else {
		vs.ExpiresAt = 0
	}
	clone := *vs
	return &clone, nil
}

// Touch refreshes last_active_at, sliding the expiration window.
func (r *Repository) Touch(ctx context.Context, id string) {
	r.UpdateStore(ctx, id, func(vs *models.VectorStore) {
		vs.LastActiveAt = time.Now().Unix()
	})
}

// DeleteStore removes the store and its file records.
func (r *Repository) DeleteStore(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stores[id]; !ok {
		return ErrNotFound
	}
	delete(r.stores, id)
	delete(r.files, id)
	return nil
}

// AddFile registers a file attachment in in_progress state and bumps the
// store counters.
func (r *Repository) AddFile(_ context.Context, storeID string, file *models.VectorStoreFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs, ok := r.stores[storeID]
	if !ok {
		return ErrNotFound
	}
	if _, exists := r.files[storeID][file.ID]; !exists {
		vs.FileCounts.Total++
		vs.FileCounts.InProgress++
	}
	clone := *file
	r.files[storeID][file.ID] = &clone
	vs.LastActiveAt = time.Now().Unix()
	refreshStatus(vs)
	return nil
}

// GetFile fetches one attachment record.
func (r *Repository) GetFile(_ context.Context, storeID, fileID string) (*models.VectorStoreFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	file, ok := r.files[storeID][fileID]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *file
	return &clone, nil
}

// ListFiles returns the attachments of a store, oldest first.
func (r *Repository) ListFiles(_ context.Context, storeID string) ([]*models.VectorStoreFile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	byID, ok := r.files[storeID]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]*models.VectorStoreFile, 0, len(byID))
	for _, file := range byID {
		clone := *file
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// SetFileStatus moves an attachment between indexing states, adjusting
// the store counters and usage.
func (r *Repository) SetFileStatus(_ context.Context, storeID, fileID string, status models.VectorStoreFileStatus, usageBytes int64, lastError *models.FileError) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs, ok := r.stores[storeID]
	if !ok {
		return ErrNotFound
	}
	file, ok := r.files[storeID][fileID]
	if !ok {
		return ErrNotFound
	}

	decrCount(&vs.FileCounts, file.Status)
	incrCount(&vs.FileCounts, status)
	vs.UsageBytes += usageBytes - file.UsageBytes

	file.Status = status
	file.UsageBytes = usageBytes
	file.LastError = lastError
	vs.LastActiveAt = time.Now().Unix()
	refreshStatus(vs)
	return nil
}

// RemoveFile deletes an attachment record and rolls back its counters.
func (r *Repository) RemoveFile(_ context.Context, storeID, fileID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	vs, ok := r.stores[storeID]
	if !ok {
		return ErrNotFound
	}
	file, ok := r.files[storeID][fileID]
	if !ok {
		return ErrNotFound
	}
	decrCount(&vs.FileCounts, file.Status)
	vs.FileCounts.Total--
	vs.UsageBytes -= file.UsageBytes
	delete(r.files[storeID], fileID)
	vs.LastActiveAt = time.Now().Unix()
	refreshStatus(vs)
	return nil
}

// refreshStatus derives the store status from its file counts: the
// store is in_progress while any file is, completed otherwise. Expired
// stores stay expired.
func refreshStatus(vs *models.VectorStore) {
	if vs.Status == models.VectorStoreStatusExpired {
		return
	}
	if vs.FileCounts.InProgress > 0 {
		vs.Status = models.VectorStoreStatusInProgress
	} else {
		vs.Status = models.VectorStoreStatusCompleted
	}
}

func incrCount(c *models.FileCounts, status models.VectorStoreFileStatus) {
	switch status {
	case models.VectorStoreFileStatusInProgress:
		c.InProgress++
	case models.VectorStoreFileStatusCompleted:
		c.Completed++
	case models.VectorStoreFileStatusFailed:
		c.Failed++
	case models.VectorStoreFileStatusCancelled:
		c.Cancelled++
	}
}

func decrCount(c *models.FileCounts, status models.VectorStoreFileStatus) {
	switch status {
	case models.VectorStoreFileStatusInProgress:
		c.InProgress--
	case models.VectorStoreFileStatusCompleted:
		c.Completed--
	case models.VectorStoreFileStatusFailed:
		c.Failed--
	case models.VectorStoreFileStatusCancelled:
		c.Cancelled--
	}
}
