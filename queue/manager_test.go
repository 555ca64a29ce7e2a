package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-keeper/database"
	"x-keeper/models"
)

func TestManager_EnqueueIsIdempotent(t *testing.T) {
	m := NewManager(NewMemoryStore())

	created, err := m.Enqueue(models.SourceDirect, "https://x.com/a/status/1", []string{"https://x.com/a/status/1"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = m.Enqueue(models.SourceDirect, "https://x.com/a/status/1", []string{"https://x.com/a/status/1"})
	require.NoError(t, err)
	assert.False(t, created)

	n, err := m.Count(models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestManager_DrainRetiresSuccessAndKeepsFailure(t *testing.T) {
	m := NewManager(NewMemoryStore())
	m.RegisterHandler(models.SourceRetry, func(_ context.Context, item models.QueueItem) error {
		if item.Key == "bad" {
			return errors.New("still broken")
		}
		return nil
	})
	for _, key := range []string{"good", "bad"} {
		_, err := m.Enqueue(models.SourceRetry, key, []string{key})
		require.NoError(t, err)
	}

	stats, err := m.Drain(context.Background(), models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, DrainStats{Processed: 2, Succeeded: 1, Failed: 1}, stats)

	items, err := m.List(models.SourceRetry)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bad", items[0].Key)
	assert.Equal(t, models.StateFailed, items[0].State)
	assert.Equal(t, 1, items[0].Attempts)
	assert.Equal(t, "still broken", items[0].LastError)

	// Failed items stay due and are retried without bound.
	_, err = m.Drain(context.Background(), models.SourceRetry)
	require.NoError(t, err)
	items, err = m.List(models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 2, items[0].Attempts)
}

func TestManager_PanicDoesNotStopPolling(t *testing.T) {
	m := NewManager(NewMemoryStore())
	var calls atomic.Int32
	m.RegisterHandler(models.SourceDirect, func(_ context.Context, item models.QueueItem) error {
		calls.Add(1)
		if item.Key == "explode" {
			panic("malformed tool output")
		}
		return nil
	})
	_, err := m.Enqueue(models.SourceDirect, "explode", nil)
	require.NoError(t, err)
	_, err = m.Enqueue(models.SourceDirect, "after", nil)
	require.NoError(t, err)

	stats, err := m.Drain(context.Background(), models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.Succeeded)

	// The next tick still runs and retries the failed item.
	stats, err = m.Drain(context.Background(), models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, int32(3), calls.Load())

	item, ok, err := m.store.Get(models.SourceDirect, "explode")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, item.LastError, "handler panic")
}

func TestManager_OverlappingDrainIsSkipped(t *testing.T) {
	m := NewManager(NewMemoryStore())
	started := make(chan struct{})
	unblock := make(chan struct{})
	m.RegisterHandler(models.SourceDirect, func(context.Context, models.QueueItem) error {
		close(started)
		<-unblock
		return nil
	})
	_, err := m.Enqueue(models.SourceDirect, "slow", nil)
	require.NoError(t, err)

	done := make(chan DrainStats)
	go func() {
		stats, _ := m.Drain(context.Background(), models.SourceDirect)
		done <- stats
	}()
	<-started

	stats, err := m.Drain(context.Background(), models.SourceDirect)
	require.NoError(t, err)
	assert.True(t, stats.Skipped)

	close(unblock)
	select {
	case first := <-done:
		assert.Equal(t, 1, first.Succeeded)
	case <-time.After(2 * time.Second):
		t.Fatal("first drain did not finish")
	}
}

func TestManager_ClaimedItemIsSkipped(t *testing.T) {
	m := NewManager(NewMemoryStore())
	m.RegisterHandler(models.SourceRetry, func(context.Context, models.QueueItem) error { return nil })
	_, err := m.Enqueue(models.SourceRetry, "c:m", nil)
	require.NoError(t, err)

	release, ok := m.Claim(models.SourceRetry, "c:m")
	require.True(t, ok)
	_, ok = m.Claim(models.SourceRetry, "c:m")
	assert.False(t, ok)

	stats, err := m.Drain(context.Background(), models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Processed)

	release()
	stats, err = m.Drain(context.Background(), models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
}

func TestManager_DrainWithoutHandler(t *testing.T) {
	m := NewManager(NewMemoryStore())
	_, err := m.Drain(context.Background(), models.SourceDirect)
	assert.Error(t, err)
}

func TestManager_RemoveAndClear(t *testing.T) {
	m := NewManager(NewMemoryStore())
	for _, key := range []string{"a", "b", "c"} {
		_, err := m.Enqueue(models.SourceDirect, key, nil)
		require.NoError(t, err)
	}

	removed, err := m.Remove(models.SourceDirect, "b")
	require.NoError(t, err)
	assert.True(t, removed)

	items, err := m.List(models.SourceDirect)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "a", items[0].Key)
	assert.Equal(t, "c", items[1].Key)

	n, err := m.Clear(models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestManager_RecoverWithSQLiteStore(t *testing.T) {
	db, err := database.InitDB(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer db.Close()
	store := database.NewQueueDB(db)

	_, err = store.Put(models.QueueItem{Source: models.SourceDirect, Key: "interrupted", State: models.StateProcessing})
	require.NoError(t, err)

	m := NewManager(store)
	n, err := m.Recover()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var handled []string
	m.RegisterHandler(models.SourceDirect, func(_ context.Context, item models.QueueItem) error {
		handled = append(handled, item.Key)
		return nil
	})
	stats, err := m.Drain(context.Background(), models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Equal(t, []string{"interrupted"}, handled)

	count, err := m.Count(models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestManager_RemovedItemIsNotProcessed(t *testing.T) {
	db, err := database.InitDB(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	defer db.Close()

	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": database.NewQueueDB(db),
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			m := NewManager(store)
			var handled []string
			m.RegisterHandler(models.SourceDirect, func(_ context.Context, item models.QueueItem) error {
				handled = append(handled, item.Key)
				if item.Key == "a" {
					removed, err := m.Remove(models.SourceDirect, "b")
					require.NoError(t, err)
					assert.True(t, removed)
				}
				return nil
			})
			for _, key := range []string{"a", "b", "c"} {
				_, err := m.Enqueue(models.SourceDirect, key, []string{key})
				require.NoError(t, err)
			}

			stats, err := m.Drain(context.Background(), models.SourceDirect)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "c"}, handled)
			assert.Equal(t, 2, stats.Processed)

			count, err := m.Count(models.SourceDirect)
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestManager_ClearedQueueStopsPass(t *testing.T) {
	m := NewManager(NewMemoryStore())
	var handled []string
	m.RegisterHandler(models.SourceDirect, func(_ context.Context, item models.QueueItem) error {
		handled = append(handled, item.Key)
		_, err := m.Clear(models.SourceDirect)
		return err
	})
	for _, key := range []string{"a", "b", "c"} {
		_, err := m.Enqueue(models.SourceDirect, key, nil)
		require.NoError(t, err)
	}

	stats, err := m.Drain(context.Background(), models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, handled)
	assert.Equal(t, 1, stats.Processed)
}
