// Package vectorstore implements the retrieval stack: vector store
// records, chunking, embedding, the vector and lexical indexes, hybrid
// search and the background sweeper.
package vectorstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// charsPerToken approximates English text; chunk sizes are specified in
// tokens but splitting operates on runes.
const charsPerToken = 4

// ChunkerConfig is the store-default chunking strategy.
type ChunkerConfig struct {
	// MaxChunkSizeTokens is the target chunk size. Default: 800.
	MaxChunkSizeTokens int

	// ChunkOverlapTokens is the overlap between consecutive chunks.
	// Default: 200.
	ChunkOverlapTokens int
}

// Chunker splits file text into fixed windows with overlap, preferring
// to break on whitespace near the window edge.
type Chunker struct {
	config ChunkerConfig
}

// NewChunker validates and builds a chunker.
func NewChunker(cfg ChunkerConfig) (*Chunker, error) {
	if cfg.MaxChunkSizeTokens <= 0 {
		cfg.MaxChunkSizeTokens = 800
	}
	if cfg.ChunkOverlapTokens < 0 {
		cfg.ChunkOverlapTokens = 0
	}
	if cfg.ChunkOverlapTokens >= cfg.MaxChunkSizeTokens {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d",
			cfg.ChunkOverlapTokens, cfg.MaxChunkSizeTokens)
	}
	return &Chunker{config: cfg}, nil
}

// Chunk splits text for one file. strategy overrides the defaults when it
// carries a static configuration. Embeddings are filled in later by the
// indexer.
func (c *Chunker) Chunk(vectorStoreID, fileID, text string, strategy *models.ChunkingStrategy) []models.Chunk {
	size := c.config.MaxChunkSizeTokens
	overlap := c.config.ChunkOverlapTokens
	if strategy != nil && strategy.Static != nil {
		if strategy.Static.MaxChunkSizeTokens > 0 {
			size = strategy.Static.MaxChunkSizeTokens
		}
		if strategy.Static.ChunkOverlapTokens >= 0 && strategy.Static.ChunkOverlapTokens < size {
			overlap = strategy.Static.ChunkOverlapTokens
		}
	}

	window := size * charsPerToken
	step := (size - overlap) * charsPerToken

	runes := []rune(text)
	var chunks []models.Chunk
	for start := 0; start < len(runes); start += step {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		} else {
			// Prefer a whitespace boundary in the last tenth of the window.
			for i := end; i > end-window/10 && i > start; i-- {
				if isSpace(runes[i-1]) {
					end = i
					break
				}
			}
		}

		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			chunks = append(chunks, models.Chunk{
				ChunkID:       uuid.NewString(),
				FileID:        fileID,
				VectorStoreID: vectorStoreID,
				ChunkIndex:    len(chunks),
				Text:          piece,
			})
		}
		if end == len(runes) {
			break
		}
	}
	return chunks
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\n' || r == '\t' || r == '\r'
}
