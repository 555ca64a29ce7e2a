package database

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"x-keeper/models"
)

// QueueDB persists queue items in the queue_items table.
type QueueDB struct {
	db *sql.DB
}

// NewQueueDB wraps an initialized database handle.
func NewQueueDB(db *sql.DB) *QueueDB {
	return &QueueDB{db: db}
}

// Put inserts item unless an item with the same source and key exists.
// It reports whether a row was created.
func (q *QueueDB) Put(item models.QueueItem) (bool, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return false, fmt.Errorf("failed to marshal payload: %w", err)
	}
	if item.State == "" {
		item.State = models.StateQueued
	}
	now := time.Now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}

	res, err := q.db.Exec(`
    INSERT OR IGNORE INTO queue_items (source, key, payload, state, attempts, last_error, created_at, updated_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(item.Source), item.Key, string(payload), string(item.State), item.Attempts, item.LastError,
		item.CreatedAt.UnixMilli(), item.UpdatedAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("failed to insert queue item %s/%s: %w", item.Source, item.Key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Get returns the item for source and key.
func (q *QueueDB) Get(source models.QueueSource, key string) (models.QueueItem, bool, error) {
	row := q.db.QueryRow(`
    SELECT source, key, payload, state, attempts, last_error, created_at, updated_at
    FROM queue_items WHERE source = ? AND key = ?`, string(source), key)
	item, err := scanQueueItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.QueueItem{}, false, nil
	}
	if err != nil {
		return models.QueueItem{}, false, err
	}
	return item, true, nil
}

// List returns every item of source, oldest first.
func (q *QueueDB) List(source models.QueueSource) ([]models.QueueItem, error) {
	rows, err := q.db.Query(`
    SELECT source, key, payload, state, attempts, last_error, created_at, updated_at
    FROM queue_items WHERE source = ? ORDER BY created_at, key`, string(source))
	if err != nil {
		return nil, fmt.Errorf("failed to query queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Update overwrites the mutable fields of an existing item.
func (q *QueueDB) Update(item models.QueueItem) error {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now()
	}
	_, err = q.db.Exec(`
    UPDATE queue_items SET payload = ?, state = ?, attempts = ?, last_error = ?, updated_at = ?
    WHERE source = ? AND key = ?`,
		string(payload), string(item.State), item.Attempts, item.LastError, item.UpdatedAt.UnixMilli(),
		string(item.Source), item.Key)
	if err != nil {
		return fmt.Errorf("failed to update queue item %s/%s: %w", item.Source, item.Key, err)
	}
	return nil
}

// Delete removes one item and reports whether it existed.
func (q *QueueDB) Delete(source models.QueueSource, key string) (bool, error) {
	res, err := q.db.Exec(`DELETE FROM queue_items WHERE source = ? AND key = ?`, string(source), key)
	if err != nil {
		return false, fmt.Errorf("failed to delete queue item %s/%s: %w", source, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}

// Clear removes every item of source and returns how many were removed.
func (q *QueueDB) Clear(source models.QueueSource) (int, error) {
	res, err := q.db.Exec(`DELETE FROM queue_items WHERE source = ?`, string(source))
	if err != nil {
		return 0, fmt.Errorf("failed to clear %s queue: %w", source, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

// ResetProcessing returns items stranded in processing by a crash to queued.
func (q *QueueDB) ResetProcessing() (int, error) {
	res, err := q.db.Exec(`UPDATE queue_items SET state = ?, updated_at = ? WHERE state = ?`,
		string(models.StateQueued), time.Now().UnixMilli(), string(models.StateProcessing))
	if err != nil {
		return 0, fmt.Errorf("failed to reset processing items: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (models.QueueItem, error) {
	var (
		item                 models.QueueItem
		source, state        string
		payload              string
		createdAt, updatedAt int64
	)
	if err := row.Scan(&source, &item.Key, &payload, &state, &item.Attempts, &item.LastError, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return item, err
		}
		return item, fmt.Errorf("failed to scan queue item: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
		return item, fmt.Errorf("failed to decode payload of %s/%s: %w", source, item.Key, err)
	}
	item.Source = models.QueueSource(source)
	item.State = models.QueueState(state)
	item.CreatedAt = time.UnixMilli(createdAt)
	item.UpdatedAt = time.UnixMilli(updatedAt)
	return item, nil
}
