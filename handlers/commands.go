package handlers

import (
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"

	"x-keeper/models"
	"x-keeper/utils"
)

// Responder answers interactions; *discordgo.Session implements it.
type Responder interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
}

// LedgerStats reports the ledger sizes.
type LedgerStats interface {
	Count() int
	CountURLs() int
}

// QueueStats reports queue sizes.
type QueueStats interface {
	Count(source models.QueueSource) (int, error)
}

// FailureLog lists keys whose latest attempt failed.
type FailureLog interface {
	Failures(limit int) ([]models.LogEntry, error)
}

// RetryEnqueuer queues one chat message for the retry drain.
type RetryEnqueuer interface {
	Enqueue(channelID, messageID string, urls []string) (bool, error)
}

// Commands serves the slash commands.
type Commands struct {
	ledger   LedgerStats
	queue    QueueStats
	failures FailureLog
	retry    RetryEnqueuer
	auth     *utils.Auth
	channels []string
	started  time.Time
}

func NewCommands(ledger LedgerStats, queue QueueStats, failures FailureLog, retry RetryEnqueuer, auth *utils.Auth, channels []string) *Commands {
	return &Commands{
		ledger:   ledger,
		queue:    queue,
		failures: failures,
		retry:    retry,
		auth:     auth,
		channels: channels,
		started:  time.Now(),
	}
}

var commandPermissions = map[string]string{
	"ping":     utils.LevelGuest,
	"stats":    utils.LevelGuest,
	"failures": utils.LevelGuest,
	"retry":    utils.LevelAdmin,
}

// Dispatch performs permission checks and then hands the interaction to its handler.
func (c *Commands) Dispatch(s Responder, i *discordgo.InteractionCreate) {
	commandName := i.ApplicationCommandData().Name

	if requiredLevel, ok := commandPermissions[commandName]; ok {
		if !c.auth.CheckPermission(i, requiredLevel) {
			respondEphemeral(s, i, "🚫 You do not have permission to run this command.")
			return
		}
	}

	switch commandName {
	case "ping":
		HandlePing(s, i)
	case "stats":
		respond(s, i, c.statsReply())
	case "failures":
		respondEphemeral(s, i, c.failuresReply(optionInt(i, "limit", defaultFailureLimit)))
	case "retry":
		respondEphemeral(s, i, c.retryReply(optionString(i, "channel_id"), optionString(i, "message_id")))
	default:
		respondEphemeral(s, i, "🚫 Internal error: unknown command.")
	}
}

func respond(s Responder, i *discordgo.InteractionCreate, content string) {
	sendResponse(s, i, &discordgo.InteractionResponseData{Content: content})
}

func respondEphemeral(s Responder, i *discordgo.InteractionCreate, content string) {
	sendResponse(s, i, &discordgo.InteractionResponseData{Content: content, Flags: discordgo.MessageFlagsEphemeral})
}

func sendResponse(s Responder, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		log.Error().Err(err).Str("command", i.ApplicationCommandData().Name).Msg("failed to respond to interaction")
	}
}

func optionString(i *discordgo.InteractionCreate, name string) string {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionString {
			return opt.StringValue()
		}
	}
	return ""
}

func optionInt(i *discordgo.InteractionCreate, name string, fallback int) int {
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Name == name && opt.Type == discordgo.ApplicationCommandOptionInteger {
			return int(opt.IntValue())
		}
	}
	return fallback
}
