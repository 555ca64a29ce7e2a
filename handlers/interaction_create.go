package handlers

import (
	"github.com/bwmarrin/discordgo"
)

// InteractionCreate handles slash command interactions.
func InteractionCreate(c *Commands) func(s *discordgo.Session, i *discordgo.InteractionCreate) {
	return func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		switch i.Type {
		case discordgo.InteractionApplicationCommand:
			c.Dispatch(s, i)
		case discordgo.InteractionApplicationCommandAutocomplete:
			c.HandleAutocomplete(s, i)
		}
	}
}
