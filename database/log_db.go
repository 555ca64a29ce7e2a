package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"x-keeper/models"
)

// MaxLogEntries bounds the processing log; older rows are pruned on append.
const MaxLogEntries = 500

// LogDB stores the recent processing log in the process_log table.
type LogDB struct {
	db  *sql.DB
	max int
}

// NewLogDB wraps an initialized database handle.
func NewLogDB(db *sql.DB) *LogDB {
	return &LogDB{db: db, max: MaxLogEntries}
}

// Append writes entry, filling in id and timestamp when missing, and prunes the table.
func (l *LogDB) Append(entry models.LogEntry) (models.LogEntry, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	urls, err := json.Marshal(entry.URLs)
	if err != nil {
		return entry, fmt.Errorf("failed to marshal log urls: %w", err)
	}

	tx, err := l.db.Begin()
	if err != nil {
		return entry, fmt.Errorf("failed to begin log transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`
    INSERT INTO process_log (id, source, key, urls, status, file_count, error, created_at)
    VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Source), entry.Key, string(urls), entry.Status, entry.FileCount, entry.Error,
		entry.Timestamp.UnixMilli()); err != nil {
		return entry, fmt.Errorf("failed to insert log entry: %w", err)
	}
	if _, err := tx.Exec(`
    DELETE FROM process_log WHERE seq NOT IN (SELECT seq FROM process_log ORDER BY seq DESC LIMIT ?)`, l.max); err != nil {
		return entry, fmt.Errorf("failed to prune log: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return entry, fmt.Errorf("failed to commit log entry: %w", err)
	}
	return entry, nil
}

// Recent returns up to limit entries, newest first. A non-positive limit returns all of them.
func (l *LogDB) Recent(limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = l.max
	}
	rows, err := l.db.Query(`
    SELECT id, source, key, urls, status, file_count, error, created_at
    FROM process_log ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

// Failures returns keys whose latest entry is a failure, newest first.
func (l *LogDB) Failures(limit int) ([]models.LogEntry, error) {
	if limit <= 0 {
		limit = l.max
	}
	rows, err := l.db.Query(`
    SELECT p.id, p.source, p.key, p.urls, p.status, p.file_count, p.error, p.created_at
    FROM process_log p
    JOIN (SELECT source, key, MAX(seq) AS seq FROM process_log GROUP BY source, key) latest
      ON latest.seq = p.seq
    WHERE p.status = ?
    ORDER BY p.seq DESC LIMIT ?`, models.LogStatusFailure, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()
	return scanLogEntries(rows)
}

func scanLogEntries(rows *sql.Rows) ([]models.LogEntry, error) {
	var entries []models.LogEntry
	for rows.Next() {
		var (
			e         models.LogEntry
			source    string
			urls      string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &source, &e.Key, &urls, &e.Status, &e.FileCount, &e.Error, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if err := json.Unmarshal([]byte(urls), &e.URLs); err != nil {
			return nil, fmt.Errorf("failed to decode log urls of %s: %w", e.ID, err)
		}
		e.Source = models.QueueSource(source)
		e.Timestamp = time.UnixMilli(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
