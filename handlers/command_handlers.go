package handlers

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"github.com/phuslu/log"

	"x-keeper/models"
)

const (
	defaultFailureLimit = 10
	maxFailureLimit     = 25
	maxErrorLength      = 160
)

// HandlePing handles the logic for the /ping command.
func HandlePing(s Responder, i *discordgo.InteractionCreate) {
	respond(s, i, "Pong!")
}

func (c *Commands) statsReply() string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Downloaded posts:** %s\n", humanize.Comma(int64(c.ledger.Count())))
	fmt.Fprintf(&b, "**Downloaded URLs:** %s\n", humanize.Comma(int64(c.ledger.CountURLs())))
	for _, source := range []models.QueueSource{models.SourceRetry, models.SourceDirect} {
		n, err := c.queue.Count(source)
		if err != nil {
			log.Error().Err(err).Str("source", string(source)).Msg("failed to count queue")
			fmt.Fprintf(&b, "**%s queue:** unavailable\n", source)
			continue
		}
		fmt.Fprintf(&b, "**%s queue:** %d\n", source, n)
	}
	fmt.Fprintf(&b, "**Up since:** %s", humanize.Time(c.started))
	return b.String()
}

func (c *Commands) failuresReply(limit int) string {
	limit = max(1, min(limit, maxFailureLimit))
	entries, err := c.failures.Failures(limit)
	if err != nil {
		log.Error().Err(err).Msg("failed to read failures")
		return "❌ Could not read the processing log."
	}
	if len(entries) == 0 {
		return "✅ No failing messages."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%d failing:**\n", len(entries))
	for _, e := range entries {
		reason := e.Error
		if len(reason) > maxErrorLength {
			reason = reason[:maxErrorLength-3] + "..."
		}
		fmt.Fprintf(&b, "• `%s` %s: %s\n", e.Key, humanize.Time(e.Timestamp), reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (c *Commands) retryReply(channelID, messageID string) string {
	if channelID == "" || messageID == "" {
		return "Error: message_id and channel_id are required."
	}
	created, err := c.retry.Enqueue(channelID, messageID, nil)
	if err != nil {
		log.Error().Err(err).Str("channel", channelID).Str("message", messageID).Msg("failed to queue retry")
		return "❌ Could not queue the message."
	}
	if !created {
		return fmt.Sprintf("Message `%s` is already queued.", messageID)
	}
	return fmt.Sprintf("✅ Message `%s` queued for the next retry pass.", messageID)
}
