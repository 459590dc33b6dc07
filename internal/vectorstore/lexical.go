package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// LexicalIndex is a keyword index over chunk text backed by sqlite FTS5.
// It complements the vector index in hybrid search; filters are applied
// after the match since attributes live with the vector index.
type LexicalIndex struct {
	db *sql.DB
}

const lexicalSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS chunk_fts USING fts5(
	content,
	chunk_id UNINDEXED,
	file_id UNINDEXED,
	vector_store_id UNINDEXED,
	chunk_index UNINDEXED
);`

// NewLexicalIndex opens (creating if needed) the index database at path.
// Use ":memory:" for an ephemeral index.
func NewLexicalIndex(path string) (*LexicalIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(lexicalSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create fts schema: %w", err)
	}
	return &LexicalIndex{db: db}, nil
}

// Close releases the database handle.
func (x *LexicalIndex) Close() error { return x.db.Close() }

// AddFile replaces the indexed text of one file.
func (x *LexicalIndex) AddFile(ctx context.Context, storeID, fileID string, chunks []models.Chunk) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM chunk_fts WHERE vector_store_id = ? AND file_id = ?`,
		storeID, fileID); err != nil {
		return fmt.Errorf("clear previous text: %w", err)
	}
	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunk_fts (content, chunk_id, file_id, vector_store_id, chunk_index)
			 VALUES (?, ?, ?, ?, ?)`,
			chunk.Text, chunk.ChunkID, fileID, storeID, chunk.ChunkIndex); err != nil {
			return fmt.Errorf("index chunk text: %w", err)
		}
	}
	return tx.Commit()
}

// Query returns up to limit keyword matches ranked by bm25, best first.
func (x *LexicalIndex) Query(ctx context.Context, storeID, query string, limit int) ([]Hit, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	rows, err := x.db.QueryContext(ctx, `
		SELECT content, chunk_id, file_id, chunk_index, bm25(chunk_fts) AS rank
		FROM chunk_fts
		WHERE vector_store_id = ? AND chunk_fts MATCH ?
		ORDER BY rank
		LIMIT ?`,
		storeID, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			chunk models.Chunk
			rank  float64
		)
		if err := rows.Scan(&chunk.Text, &chunk.ChunkID, &chunk.FileID, &chunk.ChunkIndex, &rank); err != nil {
			return nil, fmt.Errorf("scan fts row: %w", err)
		}
		chunk.VectorStoreID = storeID
		// bm25 ranks are negative with better matches more negative.
		hits = append(hits, Hit{Chunk: chunk, Score: -rank})
	}
	return hits, rows.Err()
}

// DeleteFile removes one file's text.
func (x *LexicalIndex) DeleteFile(ctx context.Context, storeID, fileID string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM chunk_fts WHERE vector_store_id = ? AND file_id = ?`,
		storeID, fileID)
	if err != nil {
		return fmt.Errorf("delete file text: %w", err)
	}
	return nil
}

// DeleteStore removes everything indexed for a store.
func (x *LexicalIndex) DeleteStore(ctx context.Context, storeID string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM chunk_fts WHERE vector_store_id = ?`, storeID)
	if err != nil {
		return fmt.Errorf("delete store text: %w", err)
	}
	return nil
}

// ftsQuery turns free text into a safe FTS5 OR-query of quoted terms.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+strings.ReplaceAll(f, `"`, `""`)+`"`)
	}
	return strings.Join(terms, " OR ")
}
