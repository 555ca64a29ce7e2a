package database

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"x-keeper/models"
	"x-keeper/utils"
)

const (
	// IDsFileName holds the fetched post identifiers.
	IDsFileName = "_downloaded_ids.json"
	// URLsFileName holds the fetched direct URLs (artwork and image hosts).
	URLsFileName = "_downloaded_urls.json"
)

// Ledger is the deduplication store shared by every intake path.
type Ledger interface {
	Contains(id string) bool
	ContainsURL(url string) bool
	Add(ids []string) (int, error)
	AddURLs(urls []string) (int, error)
	IDs() []string
	URLs() []string
	Count() int
	CountURLs() int
	Export() ([]byte, error)
	Import(doc []byte) (int, error)
	Generation() uint64
	Close() error
}

// jsonSet is one logical set backed by a flat JSON array document.
// An empty path keeps the set in memory only.
type jsonSet struct {
	path    string
	members map[string]struct{}
	dirty   bool
}

func newJSONSet(path string) *jsonSet {
	return &jsonSet{path: path, members: make(map[string]struct{})}
}

func (s *jsonSet) readDisk() ([]string, error) {
	if s.path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &models.PersistenceError{Path: s.path, Err: err}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	values, err := ParseInterchange(data)
	if err != nil {
		return nil, &models.PersistenceError{Path: s.path, Err: err}
	}
	return values, nil
}

// merge reloads the document, folds in values and rewrites it when anything is
// new in memory or on disk. It returns how many values were new.
func (s *jsonSet) merge(values []string) (int, error) {
	onDisk, err := s.readDisk()
	if err != nil {
		// Keep the in-memory view moving; the next successful write flushes it.
		added := s.insert(values)
		if added > 0 {
			s.dirty = true
		}
		return added, err
	}
	diskSet := make(map[string]struct{}, len(onDisk))
	for _, v := range onDisk {
		diskSet[v] = struct{}{}
	}
	s.insert(onDisk)

	added := s.insert(values)
	if added > 0 {
		s.dirty = true
	}
	if !s.dirty && len(diskSet) == len(s.members) {
		return added, nil
	}
	if err := s.write(); err != nil {
		return added, err
	}
	return added, nil
}

func (s *jsonSet) insert(values []string) int {
	added := 0
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := s.members[v]; ok {
			continue
		}
		s.members[v] = struct{}{}
		added++
	}
	return added
}

func (s *jsonSet) write() error {
	if s.path == "" {
		s.dirty = false
		return nil
	}
	data, err := json.MarshalIndent(s.sorted(), "", "  ")
	if err != nil {
		return &models.PersistenceError{Path: s.path, Err: err}
	}
	if err := utils.WriteFileAtomic(s.path, data, 0644); err != nil {
		s.dirty = true
		return &models.PersistenceError{Path: s.path, Err: err}
	}
	s.dirty = false
	return nil
}

func (s *jsonSet) sorted() []string {
	out := make([]string, 0, len(s.members))
	for v := range s.members {
		out = append(out, v)
	}
	sortIdentifiers(out)
	return out
}

// sortIdentifiers orders numeric ids numerically and everything else lexically after them.
func sortIdentifiers(values []string) {
	sort.Slice(values, func(i, j int) bool {
		a, b := values[i], values[j]
		an, bn := isDigits(a), isDigits(b)
		switch {
		case an && bn:
			if len(a) != len(b) {
				return len(a) < len(b)
			}
			return a < b
		case an != bn:
			return an
		default:
			return a < b
		}
	})
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// FileLedger keeps the id and URL sets as JSON documents in one directory.
type FileLedger struct {
	mutex      sync.Mutex
	ids        *jsonSet
	urls       *jsonSet
	generation uint64
}

// OpenLedger loads the ledger documents from dir, creating the directory if needed.
// A document that exists but cannot be parsed is an error: overwriting it would lose history.
func OpenLedger(dir string) (*FileLedger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}
	l := &FileLedger{
		ids:  newJSONSet(filepath.Join(dir, IDsFileName)),
		urls: newJSONSet(filepath.Join(dir, URLsFileName)),
	}
	for _, set := range []*jsonSet{l.ids, l.urls} {
		values, err := set.readDisk()
		if err != nil {
			return nil, err
		}
		set.insert(values)
	}
	return l, nil
}

// NewMemoryLedger returns a ledger that never touches the filesystem.
func NewMemoryLedger(ids ...string) *FileLedger {
	l := &FileLedger{ids: newJSONSet(""), urls: newJSONSet("")}
	l.ids.insert(ids)
	return l
}

func (l *FileLedger) Contains(id string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	_, ok := l.ids.members[strings.TrimSpace(id)]
	return ok
}

func (l *FileLedger) ContainsURL(url string) bool {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	_, ok := l.urls.members[strings.TrimSpace(url)]
	return ok
}

// Add registers post ids and returns how many were new.
func (l *FileLedger) Add(ids []string) (int, error) {
	return l.mutate(l.ids, ids)
}

// AddURLs registers direct URLs and returns how many were new.
func (l *FileLedger) AddURLs(urls []string) (int, error) {
	return l.mutate(l.urls, urls)
}

func (l *FileLedger) mutate(set *jsonSet, values []string) (int, error) {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	before := len(set.members)
	added, err := set.merge(values)
	if len(set.members) != before {
		l.generation++
	}
	return added, err
}

func (l *FileLedger) IDs() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.ids.sorted()
}

func (l *FileLedger) URLs() []string {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.urls.sorted()
}

func (l *FileLedger) Count() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.ids.members)
}

func (l *FileLedger) CountURLs() int {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return len(l.urls.members)
}

// Generation increases whenever either set gains members, including entries
// picked up from another writer's document.
func (l *FileLedger) Generation() uint64 {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	return l.generation
}

// Export returns the id set as a flat JSON array.
func (l *FileLedger) Export() ([]byte, error) {
	ids := l.IDs()
	data, err := json.Marshal(ids)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal ledger: %w", err)
	}
	return data, nil
}

// Import merges an interchange document into the id set. Existing entries are
// never removed; the return value is the number of ids that were new.
func (l *FileLedger) Import(doc []byte) (int, error) {
	ids, err := ParseInterchange(doc)
	if err != nil {
		return 0, &models.ValidationError{Input: "import document", Reason: err.Error()}
	}
	return l.Add(ids)
}

// Close flushes any merge that a previous failed write left in memory.
func (l *FileLedger) Close() error {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	var errs []error
	for _, set := range []*jsonSet{l.ids, l.urls} {
		if !set.dirty {
			continue
		}
		if _, err := set.merge(nil); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ParseInterchange accepts a flat JSON array of string or numeric ids, or an
// object wrapping that array under "ids".
func ParseInterchange(doc []byte) ([]string, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(doc, &raw); err != nil {
		var wrapped struct {
			IDs []json.RawMessage `json:"ids"`
		}
		if werr := json.Unmarshal(doc, &wrapped); werr != nil || wrapped.IDs == nil {
			return nil, fmt.Errorf("expected a JSON array of ids: %w", err)
		}
		raw = wrapped.IDs
	}

	ids := make([]string, 0, len(raw))
	for i, item := range raw {
		var s string
		if err := json.Unmarshal(item, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				ids = append(ids, s)
			}
			continue
		}
		var n json.Number
		if err := json.Unmarshal(item, &n); err != nil {
			return nil, fmt.Errorf("entry %d is neither a string nor a number", i)
		}
		ids = append(ids, n.String())
	}
	return ids, nil
}
