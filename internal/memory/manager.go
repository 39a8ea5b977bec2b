package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MimeLyc/agentkit/pkg/log"
)

// Reserved metadata keys. The manager stores the creation time and the
// importance score alongside caller metadata and strips them on read.
const (
	MetaCreatedAt  = "created_at"
	MetaImportance = "importance_score"
)

// Entry describes a memory to add. An empty ID is generated.
type Entry struct {
	ID         string
	Text       string
	Metadata   map[string]any
	Importance *float64
}

// Manager is the best-effort facade agents use. The plain methods (Add,
// Retrieve, Get, Delete) log backend failures and degrade to empty results;
// the Store/Query/Fetch variants return the error for callers that report it.
type Manager struct {
	service Service
	now     func() time.Time
	newID   func() string
}

func NewManager(service Service) *Manager {
	return &Manager{
		service: service,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// Store adds a memory and returns its id.
func (m *Manager) Store(ctx context.Context, e Entry) (string, error) {
	if strings.TrimSpace(e.Text) == "" {
		return "", ErrEmptyText
	}
	if e.Importance != nil && (*e.Importance < 0 || *e.Importance > 1) {
		return "", fmt.Errorf("%w: importance score must be between 0 and 1, got %v", ErrInvalidEntry, *e.Importance)
	}
	for key := range e.Metadata {
		if key == MetaCreatedAt || key == MetaImportance {
			return "", fmt.Errorf("%w: metadata key %q is reserved", ErrInvalidEntry, key)
		}
	}

	id := e.ID
	if id == "" {
		id = m.newID()
	}

	metadata := make(map[string]any, len(e.Metadata)+2)
	maps.Copy(metadata, e.Metadata)
	metadata[MetaCreatedAt] = m.now().UTC().Format(time.RFC3339Nano)
	if e.Importance != nil {
		metadata[MetaImportance] = *e.Importance
	}

	if err := m.service.Add(ctx, id, e.Text, metadata); err != nil {
		return "", err
	}
	return id, nil
}

// Add is Store that returns "" on failure.
func (m *Manager) Add(ctx context.Context, e Entry) string {
	id, err := m.Store(ctx, e)
	if err != nil {
		log.Warn("Failed to add memory: %v", err)
		return ""
	}
	log.Debug("Added memory %s", id)
	return id
}

// Query returns up to n memories closest to text.
func (m *Manager) Query(ctx context.Context, text string, n int, where map[string]any) ([]QueryResult, error) {
	matches, err := m.service.Query(ctx, text, n, where)
	if err != nil {
		return nil, err
	}
	results := make([]QueryResult, 0, len(matches))
	for _, match := range matches {
		results = append(results, QueryResult{
			Record:   toRecord(match.Document),
			Distance: match.Distance,
		})
	}
	return results, nil
}

// Retrieve is Query that returns an empty slice on failure.
func (m *Manager) Retrieve(ctx context.Context, text string, n int, where map[string]any) []QueryResult {
	results, err := m.Query(ctx, text, n, where)
	if err != nil {
		log.Warn("Failed to retrieve memories: %v", err)
		return []QueryResult{}
	}
	return results
}

// Fetch returns one memory by id, or ErrNotFound.
func (m *Manager) Fetch(ctx context.Context, id string) (*Record, error) {
	doc, err := m.service.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, ErrNotFound
	}
	record := toRecord(*doc)
	return &record, nil
}

// Get is Fetch that returns nil when the memory is missing or unreadable.
func (m *Manager) Get(ctx context.Context, id string) *Record {
	record, err := m.Fetch(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("Failed to get memory %s: %v", id, err)
		}
		return nil
	}
	return record
}

// Remove deletes one memory by id, or returns ErrNotFound.
func (m *Manager) Remove(ctx context.Context, id string) error {
	return m.service.Delete(ctx, id)
}

// Delete is Remove that reports whether the memory was removed.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	if err := m.Remove(ctx, id); err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Warn("Failed to delete memory %s: %v", id, err)
		}
		return false
	}
	log.Debug("Deleted memory %s", id)
	return true
}

// Prune deletes memories older than maxAge.
func (m *Manager) Prune(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, fmt.Errorf("max age must be positive, got %s", maxAge)
	}
	return m.service.DeleteBefore(ctx, m.now().Add(-maxAge))
}

func toRecord(doc Document) Record {
	record := Record{ID: doc.ID, Text: doc.Text}

	metadata := maps.Clone(doc.Metadata)
	if raw, ok := metadata[MetaCreatedAt]; ok {
		record.CreatedAt = parseCreatedAt(raw)
		delete(metadata, MetaCreatedAt)
	}
	if raw, ok := metadata[MetaImportance]; ok {
		if score, ok := toFloat(raw); ok {
			record.ImportanceScore = &score
		}
		delete(metadata, MetaImportance)
	}
	if len(metadata) > 0 {
		record.Metadata = metadata
	}
	return record
}

func parseCreatedAt(raw any) time.Time {
	s, ok := raw.(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
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
	}
	return 0, false
}
