package handlers

import (
	"strings"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"
)

// maxChoices is the most autocomplete choices Discord accepts.
const maxChoices = 25

// HandleAutocomplete handles all autocomplete interactions.
func (c *Commands) HandleAutocomplete(s Responder, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case "retry":
		for _, opt := range data.Options {
			if opt.Name == "channel_id" && opt.Focused {
				c.handleChannelAutocomplete(s, i, opt.StringValue())
			}
		}
	}
}

func (c *Commands) handleChannelAutocomplete(s Responder, i *discordgo.InteractionCreate, typed string) {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(c.channels))
	for _, id := range c.channels {
		name := channelName(s, id)
		if typed != "" && !strings.Contains(id, typed) && !strings.Contains(strings.ToLower(name), strings.ToLower(typed)) {
			continue
		}
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: id})
		if len(choices) == maxChoices {
			break
		}
	}

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{
			Choices: choices,
		},
	})
	if err != nil {
		log.Error().Err(err).Msg("failed to respond to autocomplete interaction")
	}
}

// channelName prefers the cached channel name over the raw id.
func channelName(s Responder, id string) string {
	if ds, ok := s.(*discordgo.Session); ok && ds.State != nil {
		if ch, err := ds.State.Channel(id); err == nil && ch.Name != "" {
			return "#" + ch.Name
		}
	}
	return id
}
