package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
)

// VectorService implements Service on top of an Embedder and a Store.
// Queries scan the whole collection, which suits the small per-user
// collections a chatbot accumulates.
type VectorService struct {
	embedder Embedder
	store    Store
	now      func() time.Time
}

func NewVectorService(embedder Embedder, store Store) *VectorService {
	return &VectorService{
		embedder: embedder,
		store:    store,
		now:      time.Now,
	}
}

func (s *VectorService) Add(ctx context.Context, id, text string, metadata map[string]any) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if id == "" {
		return fmt.Errorf("memory id is required")
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed memory %s: %w", id, err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embed memory %s: got %d vectors", id, len(vectors))
	}

	item := Item{
		ID:        id,
		Text:      text,
		Metadata:  maps.Clone(metadata),
		Embedding: vectors[0],
		StoredAt:  s.now().UTC(),
	}
	if err := s.store.Upsert(ctx, item); err != nil {
		return fmt.Errorf("store memory %s: %w", id, err)
	}
	return nil
}

func (s *VectorService) Query(ctx context.Context, text string, n int, where map[string]any) ([]Match, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	if n < 1 {
		return nil, fmt.Errorf("n_results must be at least 1, got %d", n)
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embed query: got %d vectors", len(vectors))
	}
	query := vectors[0]

	items, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}

	matches := make([]Match, 0, len(items))
	for _, item := range items {
		if !matchesWhere(item.Metadata, where) {
			continue
		}
		distance, ok := CosineDistance(query, item.Embedding)
		if !ok {
			continue
		}
		matches = append(matches, Match{
			Document: Document{ID: item.ID, Text: item.Text, Metadata: item.Metadata},
			Distance: distance,
		})
	}

	slices.SortStableFunc(matches, func(a, b Match) int {
		switch {
		case a.Distance < b.Distance:
			return -1
		case a.Distance > b.Distance:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	if len(matches) > n {
		matches = matches[:n]
	}
	return matches, nil
}

func (s *VectorService) Get(ctx context.Context, id string) (*Document, error) {
	item, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Document{ID: item.ID, Text: item.Text, Metadata: item.Metadata}, nil
}

func (s *VectorService) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *VectorService) DeleteBefore(ctx context.Context, t time.Time) (int, error) {
	return s.store.DeleteBefore(ctx, t)
}

// CosineDistance returns 1 - cosine similarity. ok is false when the
// vectors differ in length or either has zero magnitude.
func CosineDistance(a, b []float64) (float64, bool) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, false
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0, false
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb)), true
}

// matchesWhere compares values by their JSON encoding so that 1 and 1.0
// match after a round trip through a store.
func matchesWhere(metadata, where map[string]any) bool {
	for key, want := range where {
		got, ok := metadata[key]
		if !ok {
			return false
		}
		gotJSON, err1 := json.Marshal(got)
		wantJSON, err2 := json.Marshal(want)
		if err1 != nil || err2 != nil || !bytes.Equal(gotJSON, wantJSON) {
			return false
		}
	}
	return true
}
