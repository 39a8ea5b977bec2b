package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MimeLyc/agentkit/internal/memory"
)

// SQLiteStore keeps memory items of one collection in a SQLite database.
// Several collections can share the same file.
type SQLiteStore struct {
	db         *sql.DB
	collection string
}

var _ memory.Store = (*SQLiteStore)(nil)

func NewSQLiteStore(path string, collection string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db, collection: collectionName(collection)}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Collection() string {
	return s.collection
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	for _, pragma := range []string{"PRAGMA journal_mode = WAL;", "PRAGMA busy_timeout = 5000;"} {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return migrate(ctx, s.db)
}

func (s *SQLiteStore) Upsert(ctx context.Context, item memory.Item) error {
	if strings.TrimSpace(item.ID) == "" {
		return fmt.Errorf("memory id is required")
	}
	metadata, err := encodeMetadata(item.Metadata)
	if err != nil {
		return err
	}
	embedding, err := encodeEmbedding(item.Embedding)
	if err != nil {
		return err
	}
	storedAt := item.StoredAt.UTC()
	if item.StoredAt.IsZero() {
		storedAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO memories (collection, id, text, metadata_json, embedding_json, stored_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
			text=excluded.text,
			metadata_json=excluded.metadata_json,
			embedding_json=excluded.embedding_json,
			stored_at=excluded.stored_at`,
		s.collection,
		item.ID,
		item.Text,
		metadata,
		embedding,
		storedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("upsert memory %s: %w", item.ID, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*memory.Item, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, text, metadata_json, embedding_json, stored_at
		 FROM memories
		 WHERE collection = ? AND id = ?`,
		s.collection,
		id,
	)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, memory.ErrNotFound
		}
		return nil, fmt.Errorf("get memory %s: %w", id, err)
	}
	return &item, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE collection = ? AND id = ?`, s.collection, id)
	if err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return memory.ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]memory.Item, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, text, metadata_json, embedding_json, stored_at
		 FROM memories
		 WHERE collection = ?
		 ORDER BY id ASC`,
		s.collection,
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	ret := make([]memory.Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteBefore removes items stored strictly before t.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM memories WHERE collection = ? AND stored_at < ?`,
		s.collection,
		t.UTC().UnixNano(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete old memories: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (memory.Item, error) {
	var item memory.Item
	var metadataJSON, embeddingJSON string
	var storedAt int64
	if err := row.Scan(&item.ID, &item.Text, &metadataJSON, &embeddingJSON, &storedAt); err != nil {
		return memory.Item{}, err
	}
	var err error
	if item.Metadata, err = decodeMetadata(metadataJSON); err != nil {
		return memory.Item{}, err
	}
	if item.Embedding, err = decodeEmbedding(embeddingJSON); err != nil {
		return memory.Item{}, err
	}
	item.StoredAt = time.Unix(0, storedAt).UTC()
	return item, nil
}
