package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/phuslu/log"

	"x-keeper/models"
)

// Handler processes one queue item. A nil error retires the item.
type Handler func(ctx context.Context, item models.QueueItem) error

// DrainStats reports what one drain pass did.
type DrainStats struct {
	Processed int
	Succeeded int
	Failed    int
	Skipped   bool // another pass of the same source was still running
}

// Manager owns the retry and direct queues and their shared lifecycle.
type Manager struct {
	store    Store
	mu       sync.Mutex
	handlers map[models.QueueSource]Handler
	draining map[models.QueueSource]*sync.Mutex
	claimed  map[storeKey]bool
}

// NewManager creates a manager over store.
func NewManager(store Store) *Manager {
	return &Manager{
		store:    store,
		handlers: make(map[models.QueueSource]Handler),
		draining: make(map[models.QueueSource]*sync.Mutex),
		claimed:  make(map[storeKey]bool),
	}
}

// RegisterHandler sets the handler that drains source.
func (m *Manager) RegisterHandler(source models.QueueSource, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[source] = handler
	log.Debug().Str("source", string(source)).Msg("queue handler registered")
}

// Recover returns items left in processing by a previous run to queued.
func (m *Manager) Recover() (int, error) {
	n, err := m.store.ResetProcessing()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int("items", n).Msg("re-queued items interrupted by a restart")
	}
	return n, nil
}

// Enqueue adds an item unless one with the same source and key exists.
func (m *Manager) Enqueue(source models.QueueSource, key string, payload []string) (bool, error) {
	created, err := m.store.Put(models.QueueItem{Source: source, Key: key, Payload: payload, State: models.StateQueued})
	if err != nil {
		return false, &models.PersistenceError{Path: "queue_items", Err: err}
	}
	if created {
		log.Info().Str("source", string(source)).Str("key", key).Msg("queued")
	}
	return created, nil
}

// List returns the items of source, oldest first.
func (m *Manager) List(source models.QueueSource) ([]models.QueueItem, error) {
	return m.store.List(source)
}

// Count returns the number of items of source.
func (m *Manager) Count(source models.QueueSource) (int, error) {
	items, err := m.store.List(source)
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// Remove deletes one item and reports whether it existed.
func (m *Manager) Remove(source models.QueueSource, key string) (bool, error) {
	return m.store.Delete(source, key)
}

// Clear deletes every item of source.
func (m *Manager) Clear(source models.QueueSource) (int, error) {
	n, err := m.store.Clear(source)
	if err == nil && n > 0 {
		log.Info().Str("source", string(source)).Int("items", n).Msg("queue cleared")
	}
	return n, err
}

// Claim marks source/key as being processed. The returned release func must be called
// when processing ends. ok is false when someone else holds the claim.
func (m *Manager) Claim(source models.QueueSource, key string) (release func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := storeKey{source, key}
	if m.claimed[k] {
		return nil, false
	}
	m.claimed[k] = true
	return func() {
		m.mu.Lock()
		delete(m.claimed, k)
		m.mu.Unlock()
	}, true
}

func (m *Manager) drainLock(source models.QueueSource) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.draining[source]
	if !ok {
		lock = &sync.Mutex{}
		m.draining[source] = lock
	}
	return lock
}

// Drain processes every due item of source sequentially with its registered handler.
// A pass that overlaps a running pass of the same source is skipped.
func (m *Manager) Drain(ctx context.Context, source models.QueueSource) (DrainStats, error) {
	var stats DrainStats

	lock := m.drainLock(source)
	if !lock.TryLock() {
		stats.Skipped = true
		log.Debug().Str("source", string(source)).Msg("previous drain still running, skipping")
		return stats, nil
	}
	defer lock.Unlock()

	m.mu.Lock()
	handler, ok := m.handlers[source]
	m.mu.Unlock()
	if !ok {
		return stats, fmt.Errorf("no handler registered for queue source %s", source)
	}

	items, err := m.store.List(source)
	if err != nil {
		return stats, fmt.Errorf("failed to list %s queue: %w", source, err)
	}

	for _, item := range items {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		if !item.Due() {
			continue
		}
		release, ok := m.Claim(source, item.Key)
		if !ok {
			continue
		}
		// The listing is stale once earlier items have run: an item removed or
		// cleared since then must not reach the handler.
		current, exists, err := m.store.Get(source, item.Key)
		if err != nil || !exists {
			release()
			if err != nil {
				log.Error().Err(err).Str("key", item.Key).Msg("failed to reload queue item")
			} else {
				log.Debug().Str("source", string(source)).Str("key", item.Key).Msg("item removed before its turn, skipping")
			}
			continue
		}
		stats.Processed++
		if m.processItem(ctx, handler, current) {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		release()
	}

	if stats.Processed > 0 {
		log.Info().Str("source", string(source)).Int("processed", stats.Processed).
			Int("succeeded", stats.Succeeded).Int("failed", stats.Failed).Msg("queue drained")
	}
	return stats, nil
}

func (m *Manager) processItem(ctx context.Context, handler Handler, item models.QueueItem) bool {
	item.State = models.StateProcessing
	item.UpdatedAt = time.Now()
	if err := m.store.Update(item); err != nil {
		log.Error().Err(err).Str("key", item.Key).Msg("failed to mark item processing")
		return false
	}

	if err := safeHandle(ctx, handler, item); err != nil {
		item.State = models.StateFailed
		item.Attempts++
		item.LastError = err.Error()
		item.UpdatedAt = time.Now()
		if uerr := m.store.Update(item); uerr != nil {
			log.Error().Err(uerr).Str("key", item.Key).Msg("failed to record item failure")
		}
		log.Warn().Str("source", string(item.Source)).Str("key", item.Key).Int("attempts", item.Attempts).
			Err(err).Msg("queue item failed, will retry")
		return false
	}

	if _, err := m.store.Delete(item.Source, item.Key); err != nil {
		log.Error().Err(err).Str("key", item.Key).Msg("failed to retire finished item")
	}
	return true
}

// safeHandle turns a handler panic into an error so one bad item cannot stop the poll loop.
func safeHandle(ctx context.Context, handler Handler, item models.QueueItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := strings.TrimSpace(string(debug.Stack()))
			log.Error().Str("key", item.Key).Str("stack", stack).Msgf("queue handler panicked: %v", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, item)
}
