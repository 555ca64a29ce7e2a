package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"

	"x-keeper/command"
)

// Bot owns the Discord gateway session.
type Bot struct {
	Session  *discordgo.Session
	Commands []command.Command
}

// NewBot creates a Bot for token. The session is not opened yet.
func NewBot(token string) (*Bot, error) {
	if token == "" {
		return nil, fmt.Errorf("no bot token provided")
	}

	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}

	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessageReactions | discordgo.IntentsMessageContent

	return &Bot{Session: dg}, nil
}

// RegisterCommands sets the commands published on Start. Later calls replace earlier ones.
func (b *Bot) RegisterCommands(commands []command.Command) {
	b.Commands = commands
}

// Start adds the handlers, opens the gateway and publishes the slash commands.
// A bulk overwrite also retires commands left over from earlier releases.
func (b *Bot) Start(registerHandlers func(*Bot)) error {
	registerHandlers(b)

	if err := b.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection: %w", err)
	}

	appID := b.Session.State.User.ID
	created, err := b.Session.ApplicationCommandBulkOverwrite(appID, "", command.Definitions(b.Commands))
	if err != nil {
		log.Error().Err(err).Msg("cannot publish slash commands")
	}

	log.Info().Int("commands", len(created)).Str("user", b.Session.State.User.Username).Msg("bot is now running")
	return nil
}

// Stop gracefully closes the bot's session.
func (b *Bot) Stop() {
	if b.Session != nil {
		if err := b.Session.Close(); err != nil {
			log.Warn().Err(err).Msg("error closing Discord session")
		}
	}
	log.Info().Msg("bot stopped gracefully")
}
