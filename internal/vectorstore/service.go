package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// Service is the vector store facade the API and the search tools call.
type Service struct {
	repo     *Repository
	blobs    BlobReader
	index    Index
	lexical  *LexicalIndex
	searcher *Searcher
	indexer  *Indexer
	logger   *observability.Logger
	metrics  *observability.Metrics
	tracer   *observability.Tracer
}

// ServiceDeps wires a Service. Lexical, Metrics and Reranker may be nil.
type ServiceDeps struct {
	Repository *Repository
	Blobs      BlobReader
	Embedder   Embedder
	Index      Index
	Lexical    *LexicalIndex
	Reranker   Reranker
	Chunker    *Chunker
	Logger     *observability.Logger
	Metrics    *observability.Metrics
	Tracer     *observability.Tracer
	MinScore   float64
}

// NewService assembles the retrieval stack.
func NewService(deps ServiceDeps) *Service {
	return &Service{
		repo:     deps.Repository,
		blobs:    deps.Blobs,
		index:    deps.Index,
		lexical:  deps.Lexical,
		searcher: NewSearcher(deps.Embedder, deps.Index, deps.Lexical, deps.Reranker, deps.MinScore),
		indexer: NewIndexer(deps.Repository, deps.Blobs, deps.Chunker, deps.Embedder,
			deps.Index, deps.Lexical, deps.Logger, deps.Metrics),
		logger:  deps.Logger,
		metrics: deps.Metrics,
		tracer:  deps.Tracer,
	}
}

// CreateStore makes a new, empty vector store.
func (s *Service) CreateStore(ctx context.Context, name string, expiresAfter *models.ExpiresAfter, metadata map[string]string) (*models.VectorStore, error) {
	if expiresAfter != nil {
		if expiresAfter.Anchor != "last_active_at" {
			return nil, fmt.Errorf("expires_after.anchor must be last_active_at")
		}
		if expiresAfter.Days <= 0 {
			return nil, fmt.Errorf("expires_after.days must be positive")
		}
	}
	vs, err := s.repo.CreateStore(ctx, name, expiresAfter, metadata)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "vector store created", "vector_store_id", vs.ID, "name", name)
	return vs, nil
}

// GetStore fetches one store.
func (s *Service) GetStore(ctx context.Context, id string) (*models.VectorStore, error) {
	return s.repo.GetStore(ctx, id)
}

// ListStores returns all stores, newest first.
func (s *Service) ListStores(ctx context.Context) ([]*models.VectorStore, error) {
	return s.repo.ListStores(ctx)
}

// ModifyStore updates name, expiration policy and metadata. Nil leaves a
// field untouched; passing a policy with Days 0 clears it.
func (s *Service) ModifyStore(ctx context.Context, id string, name *string, expiresAfter *models.ExpiresAfter, metadata map[string]string) (*models.VectorStore, error) {
	if expiresAfter != nil && expiresAfter.Days > 0 && expiresAfter.Anchor != "last_active_at" {
		return nil, fmt.Errorf("expires_after.anchor must be last_active_at")
	}
	return s.repo.UpdateStore(ctx, id, func(vs *models.VectorStore) {
		if name != nil {
			vs.Name = *name
		}
		if expiresAfter != nil {
			if expiresAfter.Days > 0 {
				vs.ExpiresAfter = expiresAfter
			} else {
				vs.ExpiresAfter = nil
			}
		}
		if metadata != nil {
			vs.Metadata = metadata
		}
		vs.LastActiveAt = time.Now().Unix()
	})
}

// DeleteStore removes the store, its attachments and all indexed data.
func (s *Service) DeleteStore(ctx context.Context, id string) error {
	if err := s.repo.DeleteStore(ctx, id); err != nil {
		return err
	}
	if err := s.index.DeleteStore(ctx, id); err != nil {
		s.logger.Warn(ctx, "drop index failed", "vector_store_id", id, "error", err)
	}
	if s.lexical != nil {
		if err := s.lexical.DeleteStore(ctx, id); err != nil {
			s.logger.Warn(ctx, "drop lexical index failed", "vector_store_id", id, "error", err)
		}
	}
	s.logger.Info(ctx, "vector store deleted", "vector_store_id", id)
	return nil
}

// AttachFile registers an uploaded file with a store and schedules
// indexing. The returned record is in_progress; polling GetFile shows
// the outcome.
func (s *Service) AttachFile(ctx context.Context, storeID, fileID string, attributes map[string]any, strategy *models.ChunkingStrategy) (*models.VectorStoreFile, error) {
	vs, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if vs.Status == models.VectorStoreStatusExpired {
		return nil, fmt.Errorf("vector store %s is expired", storeID)
	}

	blob, err := s.blobs.Get(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("file %s: %w", fileID, err)
	}

	attrs := make(map[string]any, len(attributes)+1)
	for k, v := range attributes {
		attrs[k] = v
	}
	attrs["filename"] = blob.Filename

	file := &models.VectorStoreFile{
		ID:               fileID,
		Object:           "vector_store.file",
		VectorStoreID:    storeID,
		CreatedAt:        time.Now().Unix(),
		Status:           models.VectorStoreFileStatusInProgress,
		Attributes:       attrs,
		ChunkingStrategy: strategy,
	}
	if err := s.repo.AddFile(ctx, storeID, file); err != nil {
		return nil, err
	}

	s.indexer.IndexAsync(storeID, *file)
	return file, nil
}

// GetFile fetches one attachment record.
func (s *Service) GetFile(ctx context.Context, storeID, fileID string) (*models.VectorStoreFile, error) {
	return s.repo.GetFile(ctx, storeID, fileID)
}

// ListFiles returns the attachments of a store.
func (s *Service) ListFiles(ctx context.Context, storeID string) ([]*models.VectorStoreFile, error) {
	return s.repo.ListFiles(ctx, storeID)
}

// DeleteFile detaches a file and removes its chunks from the indexes.
// The underlying blob is untouched.
func (s *Service) DeleteFile(ctx context.Context, storeID, fileID string) error {
	if err := s.repo.RemoveFile(ctx, storeID, fileID); err != nil {
		return err
	}
	if err := s.index.DeleteFile(ctx, storeID, fileID); err != nil {
		s.logger.Warn(ctx, "drop file index failed",
			"vector_store_id", storeID, "file_id", fileID, "error", err)
	}
	if s.lexical != nil {
		if err := s.lexical.DeleteFile(ctx, storeID, fileID); err != nil {
			s.logger.Warn(ctx, "drop file text failed",
				"vector_store_id", storeID, "file_id", fileID, "error", err)
		}
	}
	return nil
}

// Search runs hybrid retrieval against one store, refreshing its
// activity clock.
func (s *Service) Search(ctx context.Context, storeID string, req models.VectorSearchRequest) ([]models.VectorSearchResult, error) {
	vs, err := s.repo.GetStore(ctx, storeID)
	if err != nil {
		return nil, err
	}
	if vs.Status == models.VectorStoreStatusExpired {
		return nil, fmt.Errorf("vector store %s is expired", storeID)
	}
	s.dropMissingBlobs(ctx, storeID)

	ctx, span := s.tracer.StartVectorSearch(ctx, storeID)
	defer span.End()

	start := time.Now()
	results, err := s.searcher.Search(ctx, storeID, req)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	fileIDs := make([]string, len(results))
	scores := make([]float64, len(results))
	for i, r := range results {
		fileIDs[i] = r.FileID
		scores[i] = r.Score
	}
	observability.RecordSearchResults(span, fileIDs, nil, scores)
	if s.metrics != nil {
		s.metrics.RecordSearch(storeID, time.Since(start), len(results))
	}

	s.repo.Touch(ctx, storeID)
	return results, nil
}

// dropMissingBlobs detaches files whose underlying blob has been
// deleted, keeping the index consistent with storage. Runs before every
// search and during the sweep.
func (s *Service) dropMissingBlobs(ctx context.Context, storeID string) {
	attached, err := s.repo.ListFiles(ctx, storeID)
	if err != nil {
		return
	}
	for _, file := range attached {
		if _, err := s.blobs.Get(ctx, file.ID); err == nil {
			continue
		}
		s.logger.Info(ctx, "detaching file with missing blob",
			"vector_store_id", storeID, "file_id", file.ID)
		s.DeleteFile(ctx, storeID, file.ID)
	}
}

// WaitForIndexing blocks until pending indexing work completes. Tests
// and shutdown use it.
func (s *Service) WaitForIndexing() { s.indexer.Wait() }
