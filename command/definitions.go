package command

import "github.com/bwmarrin/discordgo"

// PingCommand defines the structure for the /ping command.
type PingCommand struct{}

// Definition returns the application command definition.
func (c *PingCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "ping",
		Description: "Responds with Pong!",
	}
}

// StatsCommand defines the structure for the /stats command.
type StatsCommand struct{}

func (c *StatsCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "stats",
		Description: "Show ledger and queue sizes",
	}
}

// FailuresCommand defines the structure for the /failures command.
type FailuresCommand struct{}

func (c *FailuresCommand) Definition() *discordgo.ApplicationCommand {
	minValue := 1.0
	return &discordgo.ApplicationCommand{
		Name:        "failures",
		Description: "List messages whose latest download failed",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "limit",
				Description: "How many entries to show (default 10)",
				Type:        discordgo.ApplicationCommandOptionInteger,
				Required:    false,
				MinValue:    &minValue,
				MaxValue:    25,
			},
		},
	}
}

// RetryCommand defines the structure for the /retry command.
type RetryCommand struct{}

func (c *RetryCommand) Definition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "retry",
		Description: "Queue one message for another download attempt",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Name:        "message_id",
				Description: "The message to retry",
				Type:        discordgo.ApplicationCommandOptionString,
				Required:    true,
			},
			{
				Name:         "channel_id",
				Description:  "The channel the message was posted in",
				Type:         discordgo.ApplicationCommandOptionString,
				Required:     true,
				Autocomplete: true,
			},
		},
	}
}
