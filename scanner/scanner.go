package scanner

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"

	"x-keeper/handlers/message"
)

// pageSize is the most messages one history request may return.
const pageSize = 100

// History reads channel history; *discordgo.Session implements it.
type History interface {
	ChannelMessages(channelID string, limit int, beforeID, afterID, aroundID string, options ...discordgo.RequestOption) ([]*discordgo.Message, error)
}

// MessageHandler is what a scanned message is handed to.
type MessageHandler interface {
	URLs(msg *discordgo.Message) []string
	HandleMessage(ctx context.Context, msg *discordgo.Message) error
}

// Scanner re-processes recent channel messages that do not carry our success reaction yet.
type Scanner struct {
	history  History
	handler  MessageHandler
	channels []string
	limit    int
	mu       sync.Mutex
}

// New creates a scanner reading up to limit messages per channel.
func New(history History, handler MessageHandler, channels []string, limit int) *Scanner {
	if limit <= 0 {
		limit = pageSize
	}
	return &Scanner{history: history, handler: handler, channels: channels, limit: limit}
}

// Stats summarises one scan.
type Stats struct {
	Scanned   int
	Processed int
	Failed    int
}

// Scan walks every configured channel. Overlapping scans are skipped.
func (s *Scanner) Scan(ctx context.Context) Stats {
	var stats Stats
	if !s.mu.TryLock() {
		log.Debug().Msg("previous scan still running, skipping")
		return stats
	}
	defer s.mu.Unlock()

	if len(s.channels) == 0 {
		// Live intake watches every channel then, but history can only be read per channel.
		log.Warn().Msg("bot.channelIds is empty, backlog scan has nothing to read")
		return stats
	}
	log.Info().Strs("channels", s.channels).Int("limit", s.limit).Msg("starting backlog scan")
	for _, channelID := range s.channels {
		if ctx.Err() != nil {
			break
		}
		s.scanChannel(ctx, channelID, &stats)
	}
	log.Info().Int("scanned", stats.Scanned).Int("processed", stats.Processed).Int("failed", stats.Failed).Msg("backlog scan finished")
	return stats
}

func (s *Scanner) scanChannel(ctx context.Context, channelID string, stats *Stats) {
	var pending []*discordgo.Message
	before := ""
	for fetched := 0; fetched < s.limit; {
		batch, err := s.history.ChannelMessages(channelID, min(pageSize, s.limit-fetched), before, "", "")
		if err != nil {
			log.Error().Err(err).Str("channel", channelID).Msg("failed to read channel history")
			break
		}
		if len(batch) == 0 {
			break
		}
		fetched += len(batch)
		stats.Scanned += len(batch)
		for _, msg := range batch {
			if !hasOwnReaction(msg, message.EmojiSuccess) && len(s.handler.URLs(msg)) > 0 {
				pending = append(pending, msg)
			}
		}
		// History comes newest first; the last entry is the oldest.
		before = batch[len(batch)-1].ID
		if len(batch) < pageSize {
			break
		}
	}

	// Oldest first, in posting order.
	for i := len(pending) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			return
		}
		stats.Processed++
		if err := s.handler.HandleMessage(ctx, pending[i]); err != nil {
			stats.Failed++
		}
	}
}

func hasOwnReaction(msg *discordgo.Message, emoji string) bool {
	for _, r := range msg.Reactions {
		if r != nil && r.Me && r.Emoji != nil && r.Emoji.Name == emoji {
			return true
		}
	}
	return false
}
