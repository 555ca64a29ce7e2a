package handlers

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"

	"x-keeper/bot"
	"x-keeper/handlers/message"
)

// Register returns the hook that adds all event handlers to the bot.
func Register(ctx context.Context, commands *Commands, chat *message.ChatHandler) func(*bot.Bot) {
	return func(b *bot.Bot) {
		b.Session.AddHandler(InteractionCreate(commands))
		b.Session.AddHandler(MessageCreate(ctx, chat))

		// Add a ready handler to log when the bot is connected.
		b.Session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
			log.Info().Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("logged in")
		})
	}
}
