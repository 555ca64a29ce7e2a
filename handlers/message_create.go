package handlers

import (
	"context"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"

	"x-keeper/handlers/message"
)

// MessageCreate will be called every time a new message is created on any channel that the authenticated bot has access to.
func MessageCreate(ctx context.Context, chat *message.ChatHandler) func(s *discordgo.Session, m *discordgo.MessageCreate) {
	return func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// Ignore all messages created by the bot itself
		if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
			return
		}
		if err := chat.HandleMessage(ctx, m.Message); err != nil {
			log.Debug().Err(err).Str("message", m.ID).Msg("message queued for retry")
		}
	}
}
