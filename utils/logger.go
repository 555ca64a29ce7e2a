package utils

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"
)

const (
	ColorInfo  = 0x00ff00 // Green
	ColorWarn  = 0xffff00 // Yellow
	ColorError = 0xff0000 // Red
)

// EmbedSender posts embeds; *discordgo.Session implements it.
type EmbedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

var (
	mu        sync.RWMutex
	session   EmbedSender
	channelID string
)

// InitConsole configures the process logger. Unknown levels fall back to info.
func InitConsole(level string) {
	log.DefaultLogger = log.Logger{
		Level:      log.ParseLevel(strings.ToLower(strings.TrimSpace(level))),
		TimeFormat: "15:04:05",
		Writer: &log.ConsoleWriter{
			Writer:      os.Stderr,
			ColorOutput: true,
		},
	}
}

// InitLogger makes Info, Warn and Error also post to the admin channel.
func InitLogger(s EmbedSender, adminChannelID string) {
	mu.Lock()
	defer mu.Unlock()
	session = s
	channelID = adminChannelID
	if channelID == "" {
		log.Warn().Msg("bot.adminChannelId is not set, admin channel logging disabled")
	}
}

// Log writes a console line and, when configured, an embed to the admin channel.
func Log(level, module, operation, details string) {
	entry := log.Info()
	switch level {
	case "WARN":
		entry = log.Warn()
	case "ERROR":
		entry = log.Error()
	}
	entry.Str("module", module).Str("operation", operation).Msg(details)

	mu.RLock()
	s, target := session, channelID
	mu.RUnlock()
	if s == nil || target == "" {
		return
	}

	var color int
	switch level {
	case "WARN":
		color = ColorWarn
	case "ERROR":
		color = ColorError
	default:
		color = ColorInfo
	}

	embed := &discordgo.MessageEmbed{
		Title:     fmt.Sprintf("Log Level: %s", level),
		Color:     color,
		Timestamp: time.Now().Format(time.RFC3339),
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Module", Value: module, Inline: true},
			{Name: "Operation", Value: operation, Inline: true},
			{Name: "Details", Value: truncate(details, 1024)},
		},
	}
	if _, err := s.ChannelMessageSendEmbed(target, embed); err != nil {
		log.Error().Err(err).Msg("failed to send log embed")
	}
}

// truncate limits s to n bytes; embed field values are capped by Discord.
func truncate(s string, n int) string {
	if s == "" {
		return "-"
	}
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func Info(module, operation, details string) {
	Log("INFO", module, operation, details)
}

func Warn(module, operation, details string) {
	Log("WARN", module, operation, details)
}

func Error(module, operation, details string) {
	Log("ERROR", module, operation, details)
}
