package vectorstore

import (
	"context"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/openrelay-ai/openrelay/internal/observability"
	"github.com/openrelay-ai/openrelay/pkg/models"
)

// embedBatchSize bounds one embeddings request.
const embedBatchSize = 64

// BlobReader hands the indexer raw file content.
type BlobReader interface {
	ReadAll(ctx context.Context, id string) ([]byte, error)
	Get(ctx context.Context, id string) (*models.FileObject, error)
}

// Indexer runs the chunk-embed-index pipeline for attached files in the
// background and records the outcome on the attachment.
type Indexer struct {
	repo    *Repository
	blobs   BlobReader
	chunker *Chunker
	embed   Embedder
	index   Index
	lexical *LexicalIndex
	logger  *observability.Logger
	metrics *observability.Metrics

	wg sync.WaitGroup
}

// NewIndexer wires the pipeline. lexical and metrics may be nil.
func NewIndexer(repo *Repository, blobs BlobReader, chunker *Chunker, embed Embedder, index Index, lexical *LexicalIndex, logger *observability.Logger, metrics *observability.Metrics) *Indexer {
	return &Indexer{
		repo:    repo,
		blobs:   blobs,
		chunker: chunker,
		embed:   embed,
		index:   index,
		lexical: lexical,
		logger:  logger,
		metrics: metrics,
	}
}

// IndexAsync schedules indexing of one attachment and returns
// immediately; the attachment stays in_progress until the pipeline
// finishes.
func (ix *Indexer) IndexAsync(storeID string, file models.VectorStoreFile) {
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		ix.indexFile(ctx, storeID, file)
	}()
}

// Wait blocks until all scheduled indexing work has finished.
func (ix *Indexer) Wait() { ix.wg.Wait() }

func (ix *Indexer) indexFile(ctx context.Context, storeID string, file models.VectorStoreFile) {
	start := time.Now()
	err := ix.runPipeline(ctx, storeID, file)
	if err != nil {
		ix.logger.Error(ctx, "file indexing failed",
			"vector_store_id", storeID, "file_id", file.ID, "error", err)
		ix.repo.SetFileStatus(ctx, storeID, file.ID,
			models.VectorStoreFileStatusFailed, 0,
			&models.FileError{Code: "server_error", Message: err.Error()})
		if ix.metrics != nil {
			ix.metrics.RecordIndexedFile("failed")
		}
		return
	}
	ix.logger.Info(ctx, "file indexed",
		"vector_store_id", storeID, "file_id", file.ID,
		"duration_ms", time.Since(start).Milliseconds())
	if ix.metrics != nil {
		ix.metrics.RecordIndexedFile("completed")
	}
}

func (ix *Indexer) runPipeline(ctx context.Context, storeID string, file models.VectorStoreFile) error {
	data, err := ix.blobs.ReadAll(ctx, file.ID)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}
	if !utf8.Valid(data) {
		return fmt.Errorf("file %s is not valid utf-8 text", file.ID)
	}

	chunks := ix.chunker.Chunk(storeID, file.ID, string(data), file.ChunkingStrategy)
	if len(chunks) == 0 {
		return fmt.Errorf("file %s produced no chunks", file.ID)
	}

	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]
		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}
		vectors, err := ix.embed.Embed(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed chunks: %w", err)
		}
		for i := range batch {
			batch[i].Embedding = vectors[i]
		}
	}

	attributes := make(map[string]any, len(file.Attributes))
	for k, v := range file.Attributes {
		attributes[k] = v
	}
	total := len(chunks)
	attributes["total_chunks"] = total

	if err := ix.index.AddFile(ctx, storeID, file.ID, chunks, attributes); err != nil {
		return fmt.Errorf("index chunks: %w", err)
	}
	if ix.lexical != nil {
		if err := ix.lexical.AddFile(ctx, storeID, file.ID, chunks); err != nil {
			return fmt.Errorf("index chunk text: %w", err)
		}
	}

	return ix.repo.SetFileStatus(ctx, storeID, file.ID,
		models.VectorStoreFileStatusCompleted, int64(len(data)), nil)
}
