package memory

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by stores and services when an id is unknown.
	ErrNotFound = errors.New("memory not found")
	// ErrEmptyText is returned when a record or query has no text.
	ErrEmptyText = errors.New("memory text is empty")
	// ErrInvalidEntry is returned for out of range scores and reserved keys.
	ErrInvalidEntry = errors.New("invalid memory entry")
)

// Record is one stored memory as seen by callers.
type Record struct {
	ID              string         `json:"id"`
	Text            string         `json:"text"`
	CreatedAt       time.Time      `json:"created_at"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ImportanceScore *float64       `json:"importance_score,omitempty"`
}

// QueryResult is a record ranked by similarity. Lower distance is closer.
type QueryResult struct {
	Record   Record  `json:"record"`
	Distance float64 `json:"distance"`
}

// Document is what a Service persists: text plus flat metadata.
type Document struct {
	ID       string
	Text     string
	Metadata map[string]any
}

// Match is a Document returned by a similarity query.
type Match struct {
	Document
	Distance float64
}

// Service is the vector-search backend behind a Manager.
type Service interface {
	Add(ctx context.Context, id, text string, metadata map[string]any) error
	// Query returns at most n documents ranked by ascending distance. A
	// non-empty where keeps only documents whose metadata equals every pair.
	Query(ctx context.Context, text string, n int, where map[string]any) ([]Match, error)
	Get(ctx context.Context, id string) (*Document, error)
	Delete(ctx context.Context, id string) error
	// DeleteBefore removes documents stored before t and reports how many.
	DeleteBefore(ctx context.Context, t time.Time) (int, error)
}

// Item is one row of a Store.
type Item struct {
	ID        string
	Text      string
	Metadata  map[string]any
	Embedding []float64
	StoredAt  time.Time
}

// Store persists items of one collection. Upsert replaces an existing id.
type Store interface {
	Upsert(ctx context.Context, item Item) error
	Get(ctx context.Context, id string) (*Item, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]Item, error)
	DeleteBefore(ctx context.Context, t time.Time) (int, error)
	Close() error
}

// Embedder turns texts into vectors, one per input, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}
