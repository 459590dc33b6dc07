package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// Hit is one index match before fusion.
type Hit struct {
	Chunk      models.Chunk
	Score      float64
	Filename   string
	Attributes map[string]any
}

// Index stores chunk embeddings and answers nearest-neighbour queries.
type Index interface {
	// AddFile indexes the chunks of one file together with its
	// search-visible attributes. Replaces any previous index entry for
	// the file.
	AddFile(ctx context.Context, storeID, fileID string, chunks []models.Chunk, attributes map[string]any) error

	// Query returns up to limit chunks nearest to embedding, best first,
	// restricted to chunks whose attributes satisfy filter.
	Query(ctx context.Context, storeID string, embedding []float32, limit int, minScore float64, filter *models.Filter) ([]Hit, error)

	// DeleteFile removes one file's chunks.
	DeleteFile(ctx context.Context, storeID, fileID string) error

	// DeleteStore removes everything indexed for a store.
	DeleteStore(ctx context.Context, storeID string) error
}

// fileDocument is the on-disk format of one indexed file:
// {rootDir}/embeddings/{storeId}/{fileId}.json.
type fileDocument struct {
	FileID     string         `json:"file_id"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Chunks     []models.Chunk `json:"chunks"`
}

// FileIndex is the default index: one JSON document per indexed file,
// brute-force cosine similarity at query time. Good enough for the
// single-node deployment; the pgvector index takes over at scale.
type FileIndex struct {
	rootDir string
	mu      sync.RWMutex
}

// NewFileIndex creates the embeddings directory under rootDir.
func NewFileIndex(rootDir string) (*FileIndex, error) {
	dir := filepath.Join(rootDir, "embeddings")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create embeddings dir: %w", err)
	}
	return &FileIndex{rootDir: dir}, nil
}

func (x *FileIndex) path(storeID, fileID string) string {
	return filepath.Join(x.rootDir, storeID, fileID+".json")
}

func (x *FileIndex) AddFile(_ context.Context, storeID, fileID string, chunks []models.Chunk, attributes map[string]any) error {
	if err := sanitizeID(storeID); err != nil {
		return err
	}
	if err := sanitizeID(fileID); err != nil {
		return err
	}
	doc := fileDocument{FileID: fileID, Attributes: attributes, Chunks: chunks}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal index document: %w", err)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := os.MkdirAll(filepath.Join(x.rootDir, storeID), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := os.WriteFile(x.path(storeID, fileID), data, 0o644); err != nil {
		return fmt.Errorf("write index document: %w", err)
	}
	return nil
}

func (x *FileIndex) Query(_ context.Context, storeID string, embedding []float32, limit int, minScore float64, filter *models.Filter) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	docs, err := filepath.Glob(filepath.Join(x.rootDir, storeID, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("list index documents: %w", err)
	}

	var hits []Hit
	for _, path := range docs {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc fileDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			continue
		}
		if !matchFilter(doc.Attributes, filter) {
			continue
		}
		filename, _ := doc.Attributes["filename"].(string)
		for _, chunk := range doc.Chunks {
			score := cosineSimilarity(embedding, chunk.Embedding)
			if score < minScore {
				continue
			}
			hits = append(hits, Hit{
				Chunk:      chunk,
				Score:      score,
				Filename:   filename,
				Attributes: doc.Attributes,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (x *FileIndex) DeleteFile(_ context.Context, storeID, fileID string) error {
	if err := sanitizeID(storeID); err != nil {
		return err
	}
	if err := sanitizeID(fileID); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := os.Remove(x.path(storeID, fileID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove index document: %w", err)
	}
	return nil
}

func (x *FileIndex) DeleteStore(_ context.Context, storeID string) error {
	if err := sanitizeID(storeID); err != nil {
		return err
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := os.RemoveAll(filepath.Join(x.rootDir, storeID)); err != nil {
		return fmt.Errorf("remove store dir: %w", err)
	}
	return nil
}

// matchFilter evaluates the filter AST against file attributes. A nil
// filter matches everything; unknown node types match nothing.
func matchFilter(attributes map[string]any, filter *models.Filter) bool {
	if filter == nil {
		return true
	}
	switch filter.Type {
	case models.FilterTypeEq:
		return attributeEquals(attributes[filter.Key], filter.Value)
	case models.FilterTypeAnd:
		for i := range filter.Filters {
			if !matchFilter(attributes, &filter.Filters[i]) {
				return false
			}
		}
		return true
	case models.FilterTypeOr:
		for i := range filter.Filters {
			if matchFilter(attributes, &filter.Filters[i]) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// attributeEquals compares loosely: JSON decoding yields float64 for all
// numbers, so numeric values compare by value rather than type.
func attributeEquals(have, want any) bool {
	if have == nil {
		return false
	}
	if hf, ok := toFloat(have); ok {
		if wf, ok := toFloat(want); ok {
			return hf == wf
		}
		return false
	}
	return fmt.Sprintf("%v", have) == fmt.Sprintf("%v", want)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0
// when either is empty or lengths differ.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// sanitizeID rejects ids that could escape the index directory.
func sanitizeID(id string) error {
	if id == "" || strings.ContainsAny(id, "/\\") || strings.Contains(id, "..") {
		return fmt.Errorf("invalid id %q", id)
	}
	return nil
}
