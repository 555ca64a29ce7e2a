package client

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/phuslu/log"

	"x-keeper/classifier"
	"x-keeper/models"
)

const reasonAlreadyDownloaded = "already downloaded"

// Agent is the client half of the sync protocol: it marks submissions as
// pending, parks them while offline and reconciles against server snapshots.
type Agent struct {
	client  *Client
	state   *SyncState
	offline *OfflineQueue

	mu       sync.Mutex
	synced   bool
	idCount  int
	urlCount int
}

func NewAgent(client *Client, state *SyncState, offline *OfflineQueue) *Agent {
	return &Agent{client: client, state: state, offline: offline}
}

func (a *Agent) State() *SyncState {
	return a.state
}

// Submit marks urls as pending and sends them. When the server cannot be
// reached the urls are parked in the offline queue and parked is true.
func (a *Agent) Submit(ctx context.Context, urls []string) (result SubmitResult, parked bool, err error) {
	for _, raw := range urls {
		a.mark(raw)
	}

	result, err = a.client.Submit(ctx, urls)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) || errors.Is(err, ErrUnauthorized) || ctx.Err() != nil {
			return result, false, err
		}
		log.Warn().Err(err).Int("urls", len(urls)).Msg("server unreachable, parking submission")
		if perr := a.offline.Add(urls...); perr != nil {
			return result, false, perr
		}
		return result, true, nil
	}
	a.settle(result)
	return result, false, nil
}

// mark records raw as pending. Collections fan out into post ids the client
// cannot know yet, so no snapshot could ever confirm them and they stay unmarked.
func (a *Agent) mark(raw string) {
	target := classifier.Classify(raw)
	switch target.Kind {
	case classifier.PostStatusRef:
		a.state.MarkID(target.PostID)
	case classifier.ArtworkRef, classifier.GenericImageHostRef:
		a.state.MarkURL(target.URL)
	}
}

// settle drops markers for refused urls. Already downloaded ones will never
// change the server counts, so they are confirmed here.
func (a *Agent) settle(result SubmitResult) {
	for _, r := range result.Rejected {
		target := classifier.Classify(r.URL)
		if target.Kind == classifier.PostStatusRef {
			a.state.Unmark(target.PostID)
		} else {
			a.state.Unmark(target.URL)
		}
		if r.Reason != reasonAlreadyDownloaded {
			log.Debug().Str("url", r.URL).Str("reason", r.Reason).Msg("submission refused")
		}
	}
}

// Sync flushes the offline queue and reconciles pending markers. Full snapshots
// are fetched only when a count changed since the previous sync.
func (a *Agent) Sync(ctx context.Context) (int, error) {
	online, err := a.client.Health(ctx)
	if err != nil || !online {
		return 0, errors.Join(ErrOffline, err)
	}

	if a.offline.Len() > 0 {
		result, err := a.offline.Flush(ctx, a.client)
		if err != nil {
			return 0, err
		}
		a.settle(result)
		log.Info().Int("accepted", len(result.Accepted)).Msg("offline queue flushed")
	}

	idCount, err := a.client.IDCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch id count: %w", err)
	}
	urlCount, err := a.client.URLCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch url count: %w", err)
	}

	a.mu.Lock()
	unchanged := a.synced && idCount == a.idCount && urlCount == a.urlCount
	a.mu.Unlock()
	if unchanged {
		return 0, nil
	}

	ids, err := a.client.IDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch ids: %w", err)
	}
	urls, err := a.client.URLs(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch urls: %w", err)
	}
	confirmed := a.state.Reconcile(models.Snapshot{IDs: ids, URLs: urls, IDCount: len(ids), URLCount: len(urls)})

	a.mu.Lock()
	a.synced, a.idCount, a.urlCount = true, len(ids), len(urls)
	a.mu.Unlock()
	return confirmed, nil
}
