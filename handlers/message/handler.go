package message

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"x-keeper/models"
	"x-keeper/processor"
)

const (
	EmojiPending = "⏳"
	EmojiSuccess = "✅"
	EmojiFailure = "❌"
)

// Session is the part of *discordgo.Session the chat handler uses.
type Session interface {
	MessageReactionAdd(channelID, messageID, emojiID string, options ...discordgo.RequestOption) error
	MessageReactionRemove(channelID, messageID, emojiID, userID string, options ...discordgo.RequestOption) error
	ChannelMessage(channelID, messageID string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Processor runs one submission through the download pipeline.
type Processor interface {
	Process(ctx context.Context, urls []string) processor.Outcome
}

// LogWriter records processing outcomes.
type LogWriter interface {
	Append(entry models.LogEntry) (models.LogEntry, error)
}

// RetryQueue is where failed messages wait for the next drain.
type RetryQueue interface {
	Enqueue(source models.QueueSource, key string, payload []string) (bool, error)
	Remove(source models.QueueSource, key string) (bool, error)
}
