package client

import (
	"sort"
	"sync"

	"x-keeper/models"
)

// SyncState holds the ids and URLs this client queued but has not yet seen in a server snapshot.
type SyncState struct {
	mu   sync.Mutex
	ids  map[string]struct{}
	urls map[string]struct{}
}

func NewSyncState() *SyncState {
	return &SyncState{ids: make(map[string]struct{}), urls: make(map[string]struct{})}
}

func (s *SyncState) MarkID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids[id] = struct{}{}
}

func (s *SyncState) MarkURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls[url] = struct{}{}
}

// Unmark drops a marker without confirmation, e.g. for a URL the server refused.
func (s *SyncState) Unmark(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, key)
	delete(s.urls, key)
}

// IsPending reports whether key is still waiting for confirmation.
func (s *SyncState) IsPending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, id := s.ids[key]
	_, url := s.urls[key]
	return id || url
}

// Pending returns the unconfirmed ids and URLs, sorted.
func (s *SyncState) Pending() (ids, urls []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.ids), sortedKeys(s.urls)
}

// Reconcile removes every marker present in snapshot and returns how many were confirmed.
func (s *SyncState) Reconcile(snapshot models.Snapshot) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed := 0
	for _, id := range snapshot.IDs {
		if _, ok := s.ids[id]; ok {
			delete(s.ids, id)
			confirmed++
		}
	}
	for _, url := range snapshot.URLs {
		if _, ok := s.urls[url]; ok {
			delete(s.urls, url)
			confirmed++
		}
	}
	return confirmed
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
