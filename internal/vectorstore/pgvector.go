package vectorstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/lib/pq"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

// PGIndex stores chunk embeddings in PostgreSQL with the pgvector
// extension. Similarity uses the cosine distance operator; filters are
// pushed down as jsonb predicates.
type PGIndex struct {
	db        *sql.DB
	dimension int
}

// PGConfig configures the pgvector index.
type PGConfig struct {
	DSN string

	// DB lets tests inject a handle; DSN is ignored when set.
	DB *sql.DB

	// Dimension of stored embeddings. Default: 1536.
	Dimension int

	// RunMigrations creates the extension and schema on startup.
	RunMigrations bool
}

// NewPGIndex connects and optionally migrates.
func NewPGIndex(cfg PGConfig) (*PGIndex, error) {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 1536
	}
	db := cfg.DB
	if db == nil {
		var err error
		db, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
	}
	x := &PGIndex{db: db, dimension: cfg.Dimension}
	if cfg.RunMigrations {
		if err := x.migrate(context.Background()); err != nil {
			db.Close()
			return nil, err
		}
	}
	return x, nil
}

func (x *PGIndex) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS vs_chunks (
			chunk_id        TEXT PRIMARY KEY,
			vector_store_id TEXT NOT NULL,
			file_id         TEXT NOT NULL,
			chunk_index     INT NOT NULL,
			content         TEXT NOT NULL,
			attributes      JSONB NOT NULL DEFAULT '{}',
			embedding       vector(%d) NOT NULL
		)`, x.dimension),
		`CREATE INDEX IF NOT EXISTS idx_vs_chunks_store ON vs_chunks(vector_store_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vs_chunks_file ON vs_chunks(vector_store_id, file_id)`,
	}
	for _, stmt := range stmts {
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Close releases the database handle.
func (x *PGIndex) Close() error { return x.db.Close() }

func (x *PGIndex) AddFile(ctx context.Context, storeID, fileID string, chunks []models.Chunk, attributes map[string]any) error {
	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM vs_chunks WHERE vector_store_id = $1 AND file_id = $2`,
		storeID, fileID); err != nil {
		return fmt.Errorf("clear previous chunks: %w", err)
	}

	attrs, err := json.Marshal(attributes)
	if err != nil {
		return fmt.Errorf("marshal attributes: %w", err)
	}
	for _, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vs_chunks (chunk_id, vector_store_id, file_id, chunk_index, content, attributes, embedding)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::vector)`,
			chunk.ChunkID, storeID, fileID, chunk.ChunkIndex, chunk.Text,
			string(attrs), encodeEmbedding(chunk.Embedding)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

func (x *PGIndex) Query(ctx context.Context, storeID string, embedding []float32, limit int, minScore float64, filter *models.Filter) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	where := []string{"vector_store_id = $2"}
	args := []any{encodeEmbedding(embedding), storeID}
	if clause, ok := filterSQL(filter, &args); ok {
		where = append(where, clause)
	}

	args = append(args, minScore, limit)
	query := fmt.Sprintf(`
		SELECT chunk_id, file_id, chunk_index, content, attributes,
		       1 - (embedding <=> $1::vector) AS score
		FROM vs_chunks
		WHERE %s AND 1 - (embedding <=> $1::vector) >= $%d
		ORDER BY embedding <=> $1::vector ASC
		LIMIT $%d`,
		strings.Join(where, " AND "), len(args)-1, len(args))

	rows, err := x.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query chunks: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			chunk models.Chunk
			attrs []byte
			score float64
		)
		if err := rows.Scan(&chunk.ChunkID, &chunk.FileID, &chunk.ChunkIndex,
			&chunk.Text, &attrs, &score); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunk.VectorStoreID = storeID

		hit := Hit{Chunk: chunk, Score: score}
		if len(attrs) > 0 {
			var m map[string]any
			if err := json.Unmarshal(attrs, &m); err == nil {
				hit.Attributes = m
				hit.Filename, _ = m["filename"].(string)
			}
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

func (x *PGIndex) DeleteFile(ctx context.Context, storeID, fileID string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM vs_chunks WHERE vector_store_id = $1 AND file_id = $2`,
		storeID, fileID)
	if err != nil {
		return fmt.Errorf("delete file chunks: %w", err)
	}
	return nil
}

func (x *PGIndex) DeleteStore(ctx context.Context, storeID string) error {
	_, err := x.db.ExecContext(ctx,
		`DELETE FROM vs_chunks WHERE vector_store_id = $1`, storeID)
	if err != nil {
		return fmt.Errorf("delete store chunks: %w", err)
	}
	return nil
}

// filterSQL compiles the filter AST into a jsonb predicate over the
// attributes column, appending bind values to args. Returns false for a
// nil filter.
func filterSQL(filter *models.Filter, args *[]any) (string, bool) {
	if filter == nil {
		return "", false
	}
	switch filter.Type {
	case models.FilterTypeEq:
		*args = append(*args, filter.Key, fmt.Sprintf("%v", filter.Value))
		return fmt.Sprintf("attributes->>$%d = $%d", len(*args)-1, len(*args)), true
	case models.FilterTypeAnd, models.FilterTypeOr:
		op := " AND "
		if filter.Type == models.FilterTypeOr {
			op = " OR "
		}
		var parts []string
		for i := range filter.Filters {
			if clause, ok := filterSQL(&filter.Filters[i], args); ok {
				parts = append(parts, clause)
			}
		}
		if len(parts) == 0 {
			return "", false
		}
		return "(" + strings.Join(parts, op) + ")", true
	default:
		// Unknown node types match nothing.
		return "FALSE", true
	}
}

// encodeEmbedding renders a vector literal, e.g. "[0.1,0.2]".
func encodeEmbedding(v []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(f), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}
