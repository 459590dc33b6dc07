package models

// VectorStoreStatus is the lifecycle state of a vector store.
type VectorStoreStatus string

const (
	VectorStoreStatusInProgress VectorStoreStatus = "in_progress"
	VectorStoreStatusCompleted  VectorStoreStatus = "completed"
	VectorStoreStatusExpired    VectorStoreStatus = "expired"
)

// VectorStore is a named collection of indexed files and their chunk
// embeddings.
type VectorStore struct {
	ID           string            `json:"id"`
	Object       string            `json:"object"`
	Name         string            `json:"name"`
	CreatedAt    int64             `json:"created_at"`
	LastActiveAt int64             `json:"last_active_at"`
	UsageBytes   int64             `json:"usage_bytes"`
	FileCounts   FileCounts        `json:"file_counts"`
	Status       VectorStoreStatus `json:"status"`
	ExpiresAfter *ExpiresAfter     `json:"expires_after,omitempty"`
	ExpiresAt    int64             `json:"expires_at,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// FileCounts aggregates file statuses within a store.
type FileCounts struct {
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	Total      int `json:"total"`
}

// ExpiresAfter is the expiration policy anchored to last activity.
// expires_at = last_active_at + Days*86400.
type ExpiresAfter struct {
	Anchor string `json:"anchor"`
	Days   int    `json:"days"`
}

// VectorStoreFileStatus is the indexing state of one file in a store.
type VectorStoreFileStatus string

const (
	VectorStoreFileStatusInProgress VectorStoreFileStatus = "in_progress"
	VectorStoreFileStatusCompleted  VectorStoreFileStatus = "completed"
	VectorStoreFileStatusFailed     VectorStoreFileStatus = "failed"
	VectorStoreFileStatusCancelled  VectorStoreFileStatus = "cancelled"
)

// VectorStoreFile tracks one file attached to a vector store. The ID is
// the file ID; Attributes always include "filename".
type VectorStoreFile struct {
	ID               string                `json:"id"`
	Object           string                `json:"object"`
	VectorStoreID    string                `json:"vector_store_id"`
	CreatedAt        int64                 `json:"created_at"`
	Status           VectorStoreFileStatus `json:"status"`
	UsageBytes       int64                 `json:"usage_bytes"`
	Attributes       map[string]any        `json:"attributes,omitempty"`
	ChunkingStrategy *ChunkingStrategy     `json:"chunking_strategy,omitempty"`
	LastError        *FileError            `json:"last_error,omitempty"`
}

// FileError records why indexing failed.
type FileError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChunkingStrategy governs text-to-chunk splitting for a file.
type ChunkingStrategy struct {
	Type   string                  `json:"type"`
	Static *StaticChunkingStrategy `json:"static,omitempty"`
}

// StaticChunkingStrategy is the fixed-window strategy.
type StaticChunkingStrategy struct {
	MaxChunkSizeTokens int `json:"max_chunk_size_tokens"`
	ChunkOverlapTokens int `json:"chunk_overlap_tokens"`
}

// Chunk is the unit of indexing and retrieval. (FileID, ChunkIndex) is
// unique within a store; ChunkID is globally unique; len(Embedding) equals
// the configured vector dimension.
type Chunk struct {
	ChunkID       string    `json:"chunk_id"`
	FileID        string    `json:"file_id"`
	VectorStoreID string    `json:"vector_store_id"`
	ChunkIndex    int       `json:"chunk_index"`
	Text          string    `json:"text"`
	Embedding     []float32 `json:"embedding"`
}

// Filter comparison and compound types for vector search.
const (
	FilterTypeEq  = "eq"
	FilterTypeAnd = "and"
	FilterTypeOr  = "or"
)

// Filter is the structured filter AST accepted by vector-store search:
// equality leaves combined with and/or nodes.
type Filter struct {
	Type    string   `json:"type"`
	Key     string   `json:"key,omitempty"`
	Value   any      `json:"value,omitempty"`
	Filters []Filter `json:"filters,omitempty"`
}

// VectorSearchRequest is the body of POST /v1/vector_stores/{id}/search.
type VectorSearchRequest struct {
	Query          string          `json:"query"`
	MaxNumResults  int             `json:"max_num_results,omitempty"`
	RankingOptions *RankingOptions `json:"ranking_options,omitempty"`
	Filters        *Filter         `json:"filters,omitempty"`
}

// VectorSearchResult is one search hit.
type VectorSearchResult struct {
	FileID     string          `json:"file_id"`
	Filename   string          `json:"filename"`
	Score      float64         `json:"score"`
	Attributes map[string]any  `json:"attributes,omitempty"`
	Content    []ResultContent `json:"content"`
}

// ResultContent is one content fragment of a search hit.
type ResultContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}
