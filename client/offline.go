package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"x-keeper/models"
	"x-keeper/utils"
)

// ErrOffline means the server did not report itself online.
var ErrOffline = errors.New("server offline")

// Submitter is the server side of a flush.
type Submitter interface {
	Health(ctx context.Context) (bool, error)
	Submit(ctx context.Context, urls []string) (SubmitResult, error)
}

// OfflineQueue parks submissions while the server is unreachable. It persists
// to a JSON array of URLs.
type OfflineQueue struct {
	mu    sync.Mutex
	path  string
	items []string
}

// OpenOfflineQueue loads path, which may not exist yet. An empty path keeps the queue in memory.
func OpenOfflineQueue(path string) (*OfflineQueue, error) {
	q := &OfflineQueue{path: path}
	if path == "" {
		return q, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return q, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Path: path, Err: err}
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &q.items); err != nil {
			return nil, &models.PersistenceError{Path: path, Err: fmt.Errorf("failed to parse offline queue: %w", err)}
		}
	}
	return q, nil
}

// Add parks urls, skipping ones already parked.
func (q *OfflineQueue) Add(urls ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	seen := make(map[string]bool, len(q.items))
	for _, u := range q.items {
		seen[u] = true
	}
	changed := false
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		q.items = append(q.items, u)
		changed = true
	}
	if !changed {
		return nil
	}
	return q.persist()
}

func (q *OfflineQueue) Items() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.items...)
}

func (q *OfflineQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Flush submits everything parked once the server is online. Items are cleared
// only after the server answered the submission; replaying them is harmless.
func (q *OfflineQueue) Flush(ctx context.Context, s Submitter) (SubmitResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return SubmitResult{}, nil
	}
	online, err := s.Health(ctx)
	if err != nil || !online {
		return SubmitResult{}, errors.Join(ErrOffline, err)
	}
	batch := append([]string(nil), q.items...)
	result, err := s.Submit(ctx, batch)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("failed to flush offline queue: %w", err)
	}

	q.items = nil
	if err := q.persist(); err != nil {
		return result, err
	}
	return result, nil
}

func (q *OfflineQueue) persist() error {
	if q.path == "" {
		return nil
	}
	items := q.items
	if items == nil {
		items = []string{}
	}
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return err
	}
	if err := utils.WriteFileAtomic(q.path, data, 0644); err != nil {
		return &models.PersistenceError{Path: q.path, Err: err}
	}
	return nil
}
