package models

import "time"

const (
	LogStatusSuccess = "success"
	LogStatusFailure = "failure"
)

// LogEntry is one row of the recent processing log.
type LogEntry struct {
	ID        string      `json:"id"`
	Source    QueueSource `json:"source"`
	Key       string      `json:"key"`
	URLs      []string    `json:"urls"`
	Status    string      `json:"status"`
	FileCount int         `json:"fileCount"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Snapshot is a full point-in-time read of the ledger.
type Snapshot struct {
	IDs        []string `json:"ids"`
	URLs       []string `json:"urls"`
	IDCount    int      `json:"idCount"`
	URLCount   int      `json:"urlCount"`
	Generation uint64   `json:"generation"`
}
