package memory

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"
)

// InMemoryStore is a Store that keeps items in a map. Nothing survives a
// restart; use it for tests and throwaway sessions.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{items: make(map[string]Item)}
}

func (s *InMemoryStore) Upsert(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneItem(item)
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneItem(item)
	return &out, nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *InMemoryStore) List(_ context.Context) ([]Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := make([]Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, cloneItem(item))
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}

func (s *InMemoryStore) DeleteBefore(_ context.Context, t time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, item := range s.items {
		if item.StoredAt.Before(t) {
			delete(s.items, id)
			deleted++
		}
	}
	return deleted, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}

func cloneItem(item Item) Item {
	item.Metadata = maps.Clone(item.Metadata)
	item.Embedding = slices.Clone(item.Embedding)
	return item
}
