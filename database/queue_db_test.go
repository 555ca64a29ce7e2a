package database

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-keeper/models"
)

// setupTestDB creates a test database and returns cleanup function
func setupTestDB(t *testing.T) (*sql.DB, func()) {
	db, err := InitDB(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db, func() { db.Close() }
}

func TestQueueDB_PutIsIdempotent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewQueueDB(db)

	item := models.QueueItem{Source: models.SourceDirect, Key: "https://x.com/a/status/1", Payload: []string{"https://x.com/a/status/1"}}
	created, err := store.Put(item)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = store.Put(item)
	require.NoError(t, err)
	assert.False(t, created)

	// Same key under another source is a distinct item.
	item.Source = models.SourceRetry
	created, err = store.Put(item)
	require.NoError(t, err)
	assert.True(t, created)

	items, err := store.List(models.SourceDirect)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.StateQueued, items[0].State)
	assert.Equal(t, []string{"https://x.com/a/status/1"}, items[0].Payload)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestQueueDB_UpdateAndGet(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewQueueDB(db)

	_, err := store.Put(models.QueueItem{Source: models.SourceRetry, Key: "c:m", Payload: []string{"u"}})
	require.NoError(t, err)

	item, ok, err := store.Get(models.SourceRetry, "c:m")
	require.NoError(t, err)
	require.True(t, ok)

	item.State = models.StateFailed
	item.Attempts = 2
	item.LastError = "boom"
	item.UpdatedAt = time.Now().Add(time.Minute)
	require.NoError(t, store.Update(item))

	got, ok, err := store.Get(models.SourceRetry, "c:m")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.StateFailed, got.State)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "boom", got.LastError)

	_, ok, err = store.Get(models.SourceRetry, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueueDB_DeleteAndClear(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewQueueDB(db)

	for _, key := range []string{"a", "b", "c"} {
		_, err := store.Put(models.QueueItem{Source: models.SourceDirect, Key: key})
		require.NoError(t, err)
	}
	_, err := store.Put(models.QueueItem{Source: models.SourceRetry, Key: "r"})
	require.NoError(t, err)

	deleted, err := store.Delete(models.SourceDirect, "a")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = store.Delete(models.SourceDirect, "a")
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err := store.Clear(models.SourceDirect)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	retry, err := store.List(models.SourceRetry)
	require.NoError(t, err)
	assert.Len(t, retry, 1)
}

func TestQueueDB_ResetProcessing(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	store := NewQueueDB(db)

	_, err := store.Put(models.QueueItem{Source: models.SourceDirect, Key: "stuck", State: models.StateProcessing})
	require.NoError(t, err)
	_, err = store.Put(models.QueueItem{Source: models.SourceDirect, Key: "fine"})
	require.NoError(t, err)

	n, err := store.ResetProcessing()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, _, err := store.Get(models.SourceDirect, "stuck")
	require.NoError(t, err)
	assert.Equal(t, models.StateQueued, item.State)
}
