package grpc

import (
	"context"
	"time"

	"github.com/phuslu/log"

	"x-keeper/models"
)

const maxBackoff = 60 * time.Second

// Reconciler consumes pushed snapshots; client.SyncState implements it.
type Reconciler interface {
	Reconcile(snapshot models.Snapshot) int
}

// WatchClient keeps a Watch stream open and feeds every snapshot to a Reconciler,
// reconnecting with exponential backoff.
type WatchClient struct {
	client         *Client
	state          Reconciler
	reconnectCount int
	maxReconnects  int // -1 retries forever
	baseBackoff    time.Duration
}

// NewWatchClient creates a watch client that retries forever.
func NewWatchClient(client *Client, state Reconciler) *WatchClient {
	return &WatchClient{client: client, state: state, maxReconnects: -1, baseBackoff: time.Second}
}

// Run blocks until ctx is cancelled or the reconnect budget is spent.
func (w *WatchClient) Run(ctx context.Context) error {
	for {
		err := w.client.Watch(ctx, func(snapshot models.Snapshot) {
			// A delivered snapshot means the connection is healthy again.
			w.reconnectCount = 0
			if confirmed := w.state.Reconcile(snapshot); confirmed > 0 {
				log.Info().Int("confirmed", confirmed).Msg("queued entries confirmed by server")
			}
		})
		if ctx.Err() != nil {
			return ctx.Err()
		}

		w.reconnectCount++
		if w.maxReconnects > 0 && w.reconnectCount > w.maxReconnects {
			log.Error().Err(err).Int("attempts", w.reconnectCount-1).Msg("watch reconnect budget spent")
			return err
		}

		backoff := w.baseBackoff << uint(w.reconnectCount-1)
		if backoff > maxBackoff || backoff <= 0 {
			backoff = maxBackoff
		}
		log.Warn().Err(err).Int("attempt", w.reconnectCount).Dur("backoff", backoff).Msg("watch stream ended, reconnecting")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
