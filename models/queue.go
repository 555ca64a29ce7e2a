package models

import "time"

// QueueSource tags which intake path created a queue item.
type QueueSource string

const (
	// SourceRetry items are failed chat submissions keyed by "<channelID>:<messageID>".
	SourceRetry QueueSource = "retry"
	// SourceDirect items come from the submission endpoint and are keyed by URL.
	SourceDirect QueueSource = "direct"
)

// QueueState is the lifecycle state of a queue item.
type QueueState string

const (
	StateQueued     QueueState = "queued"
	StateProcessing QueueState = "processing"
	StateSucceeded  QueueState = "succeeded"
	StateFailed     QueueState = "failed"
)

// QueueItem is one unit of pending work.
type QueueItem struct {
	Source    QueueSource `json:"source"`
	Key       string      `json:"key"`
	Payload   []string    `json:"payload"`
	State     QueueState  `json:"state"`
	Attempts  int         `json:"attempts"`
	LastError string      `json:"lastError,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// Due reports whether the item should be picked up by the next drain tick.
func (i QueueItem) Due() bool {
	return i.State == StateQueued || i.State == StateFailed
}
