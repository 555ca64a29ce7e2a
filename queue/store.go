package queue

import (
	"sort"
	"sync"
	"time"

	"x-keeper/models"
)

// Store persists queue items. database.QueueDB is the production implementation.
type Store interface {
	Put(item models.QueueItem) (bool, error)
	Get(source models.QueueSource, key string) (models.QueueItem, bool, error)
	List(source models.QueueSource) ([]models.QueueItem, error)
	Update(item models.QueueItem) error
	Delete(source models.QueueSource, key string) (bool, error)
	Clear(source models.QueueSource) (int, error)
	ResetProcessing() (int, error)
}

type storeKey struct {
	source models.QueueSource
	key    string
}

// MemoryStore is a Store kept in memory.
type MemoryStore struct {
	mu    sync.Mutex
	items map[storeKey]models.QueueItem
	order map[storeKey]int
	seq   int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[storeKey]models.QueueItem), order: make(map[storeKey]int)}
}

func (s *MemoryStore) Put(item models.QueueItem) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{item.Source, item.Key}
	if _, ok := s.items[k]; ok {
		return false, nil
	}
	if item.State == "" {
		item.State = models.StateQueued
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	s.seq++
	s.items[k] = item
	s.order[k] = s.seq
	return true, nil
}

func (s *MemoryStore) Get(source models.QueueSource, key string) (models.QueueItem, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[storeKey{source, key}]
	return item, ok, nil
}

func (s *MemoryStore) List(source models.QueueSource) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []storeKey
	for k := range s.items {
		if k.source == source {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return s.order[keys[i]] < s.order[keys[j]] })

	items := make([]models.QueueItem, 0, len(keys))
	for _, k := range keys {
		items = append(items, s.items[k])
	}
	return items, nil
}

func (s *MemoryStore) Update(item models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{item.Source, item.Key}
	existing, ok := s.items[k]
	if !ok {
		return nil
	}
	item.CreatedAt = existing.CreatedAt
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}
	s.items[k] = item
	return nil
}

func (s *MemoryStore) Delete(source models.QueueSource, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := storeKey{source, key}
	if _, ok := s.items[k]; !ok {
		return false, nil
	}
	delete(s.items, k)
	delete(s.order, k)
	return true, nil
}

func (s *MemoryStore) Clear(source models.QueueSource) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.items {
		if k.source == source {
			delete(s.items, k)
			delete(s.order, k)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ResetProcessing() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k, item := range s.items {
		if item.State == models.StateProcessing {
			item.State = models.StateQueued
			s.items[k] = item
			n++
		}
	}
	return n, nil
}
