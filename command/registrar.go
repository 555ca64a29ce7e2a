package command

import "github.com/bwmarrin/discordgo"

// Command is an interface for application commands.
type Command interface {
	Definition() *discordgo.ApplicationCommand
}

// AllCommands is every slash command x-keeper serves.
var AllCommands = []Command{
	&PingCommand{},
	&StatsCommand{},
	&FailuresCommand{},
	&RetryCommand{},
}

// Definitions returns the application command payloads for commands, in order.
func Definitions(commands []Command) []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(commands))
	for _, cmd := range commands {
		defs = append(defs, cmd.Definition())
	}
	return defs
}
