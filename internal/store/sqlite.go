package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"
	_ "modernc.org/sqlite"

	"github.com/openrelay-ai/openrelay/pkg/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS responses (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS response_items (
	response_id TEXT NOT NULL,
	kind        TEXT NOT NULL,
	item        TEXT NOT NULL,
	UNIQUE(response_id, kind, item)
);
CREATE INDEX IF NOT EXISTS idx_response_items ON response_items(response_id, kind);
CREATE TABLE IF NOT EXISTS completions (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	messages   TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`

// SQLiteStore is the document-backed ResponseStore and CompletionStore.
// Item-list merge relies on a uniqueness constraint over the serialized
// item, so re-stored items are ignored and rowid order preserves
// first-seen order.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite handles one writer at a time.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NewSQLiteStoreFromDB wraps an existing database handle (tests use this
// with sqlmock).
func NewSQLiteStoreFromDB(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) StoreResponse(ctx context.Context, response *models.Response, inputItems []models.Item) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("marshal response: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO responses (id, data, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data`,
		response.ID, string(data), time.Now().Unix()); err != nil {
		return fmt.Errorf("store response: %w", err)
	}

	if err := s.insertItems(ctx, tx, response.ID, "input", projectToInput(inputItems)); err != nil {
		return err
	}
	if err := s.insertItems(ctx, tx, response.ID, "output", response.Output); err != nil {
		return err
	}

	return tx.Commit()
}

func (s *SQLiteStore) insertItems(ctx context.Context, tx *sql.Tx, responseID, kind string, items []models.Item) error {
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			return fmt.Errorf("marshal item: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO response_items (response_id, kind, item) VALUES (?, ?, ?)`,
			responseID, kind, string(data)); err != nil {
			return fmt.Errorf("store %s item: %w", kind, err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetResponse(ctx context.Context, id string) (*models.Response, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM responses WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get response: %w", err)
	}
	var response models.Response
	if err := json.Unmarshal([]byte(data), &response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func (s *SQLiteStore) GetInputItems(ctx context.Context, id string) ([]models.Item, error) {
	return s.getItems(ctx, id, "input")
}

func (s *SQLiteStore) GetOutputItems(ctx context.Context, id string) ([]models.Item, error) {
	return s.getItems(ctx, id, "output")
}

func (s *SQLiteStore) getItems(ctx context.Context, id, kind string) ([]models.Item, error) {
	if _, err := s.GetResponse(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT item FROM response_items WHERE response_id = ? AND kind = ? ORDER BY rowid`,
		id, kind)
	if err != nil {
		return nil, fmt.Errorf("get %s items: %w", kind, err)
	}
	defer rows.Close()

	var items []models.Item
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		var item models.Item
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (s *SQLiteStore) DeleteResponse(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete response: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM response_items WHERE response_id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete response items: %w", err)
	}
	return nil
}

func (s *SQLiteStore) StoreCompletion(ctx context.Context, completion openai.ChatCompletionResponse, messages []openai.ChatCompletionMessage) error {
	data, err := json.Marshal(completion)
	if err != nil {
		return fmt.Errorf("marshal completion: %w", err)
	}
	msgs, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO completions (id, data, messages, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET data = excluded.data, messages = excluded.messages`,
		completion.ID, string(data), string(msgs), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("store completion: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetCompletion(ctx context.Context, id string) (openai.ChatCompletionResponse, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM completions WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return openai.ChatCompletionResponse{}, ErrNotFound
	}
	if err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("get completion: %w", err)
	}
	var completion openai.ChatCompletionResponse
	if err := json.Unmarshal([]byte(data), &completion); err != nil {
		return openai.ChatCompletionResponse{}, fmt.Errorf("decode completion: %w", err)
	}
	return completion, nil
}

func (s *SQLiteStore) DeleteCompletion(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM completions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete completion: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
