package broadcaster

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"

	"x-keeper/models"
)

// subscriberBuffer is how many snapshots a slow subscriber may lag behind before it is dropped.
const subscriberBuffer = 4

// Source is the ledger view the broadcaster watches.
type Source interface {
	IDs() []string
	URLs() []string
	Count() int
	CountURLs() int
	Generation() uint64
}

// Broadcaster detects ledger changes by comparing cached counts and generation
// and pushes full snapshots to subscribers.
type Broadcaster struct {
	source Source

	mu          sync.Mutex
	idCount     int
	urlCount    int
	generation  uint64
	subscribers map[int]chan models.Snapshot
	nextID      int
	closed      bool
}

// New creates a broadcaster primed with the source's current state.
func New(source Source) *Broadcaster {
	return &Broadcaster{
		source:      source,
		idCount:     source.Count(),
		urlCount:    source.CountURLs(),
		generation:  source.Generation(),
		subscribers: make(map[int]chan models.Snapshot),
	}
}

func (b *Broadcaster) SnapshotIDs() []string {
	return b.source.IDs()
}

func (b *Broadcaster) SnapshotURLs() []string {
	return b.source.URLs()
}

// Snapshot reads the full ledger state.
func (b *Broadcaster) Snapshot() models.Snapshot {
	gen := b.source.Generation()
	ids := b.source.IDs()
	urls := b.source.URLs()
	return models.Snapshot{
		IDs:        ids,
		URLs:       urls,
		IDCount:    len(ids),
		URLCount:   len(urls),
		Generation: gen,
	}
}

// Check compares the cached counts with the live ones. On a change it takes a
// snapshot, fans it out and reports true.
func (b *Broadcaster) Check() bool {
	idCount, urlCount, gen := b.source.Count(), b.source.CountURLs(), b.source.Generation()

	b.mu.Lock()
	defer b.mu.Unlock()

	if idCount == b.idCount && urlCount == b.urlCount && gen == b.generation {
		return false
	}
	snapshot := b.Snapshot()
	b.idCount, b.urlCount, b.generation = snapshot.IDCount, snapshot.URLCount, snapshot.Generation

	for id, ch := range b.subscribers {
		select {
		case ch <- snapshot:
		default:
			log.Warn().Int("subscriber", id).Msg("subscriber is not keeping up, dropping it")
			close(ch)
			delete(b.subscribers, id)
		}
	}
	log.Debug().Int("ids", snapshot.IDCount).Int("urls", snapshot.URLCount).
		Int("subscribers", len(b.subscribers)).Msg("ledger changed, snapshot broadcast")
	return true
}

// Subscribe registers a subscriber. The current snapshot is delivered first.
// The channel is closed by cancel or when the subscriber falls behind. Once Run
// has stopped, the returned channel is already closed.
func (b *Broadcaster) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	ch <- b.Snapshot()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if existing, ok := b.subscribers[id]; ok {
				close(existing)
				delete(b.subscribers, id)
			}
		})
	}
	return ch, cancel
}

// Subscribers returns the number of live subscribers.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// Run calls Check every interval until ctx is done, then closes every subscriber.
func (b *Broadcaster) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case <-ticker.C:
			b.Check()
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subscribers {
		close(ch)
		delete(b.subscribers, id)
	}
}
