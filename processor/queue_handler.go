package processor

import (
	"context"

	"x-keeper/models"
)

// LogWriter records processing outcomes.
type LogWriter interface {
	Append(entry models.LogEntry) (models.LogEntry, error)
}

// QueueHandler drains direct queue items through p. Each run is logged, and
// notify (may be nil) is called after a success so clients hear about it early.
func QueueHandler(p *Processor, logs LogWriter, notify func()) func(ctx context.Context, item models.QueueItem) error {
	return func(ctx context.Context, item models.QueueItem) error {
		urls := item.Payload
		if len(urls) == 0 {
			urls = []string{item.Key}
		}
		outcome := p.Process(ctx, urls)

		entry := models.LogEntry{Source: item.Source, Key: item.Key, URLs: urls}
		err := outcome.Err()
		if err != nil {
			entry.Status = models.LogStatusFailure
			entry.Error = err.Error()
		} else {
			entry.Status = models.LogStatusSuccess
			entry.FileCount = len(outcome.Files)
		}
		if _, lerr := logs.Append(entry); lerr != nil {
			return lerr
		}
		if err == nil && notify != nil {
			notify()
		}
		return err
	}
}
