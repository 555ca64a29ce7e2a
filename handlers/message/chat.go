package message

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/phuslu/log"

	"x-keeper/classifier"
	"x-keeper/models"
	"x-keeper/utils"
)

// duplicateWindow is how long a message id is remembered to drop re-delivered create events.
const duplicateWindow = 30 * time.Second

// ChatHandler turns chat messages carrying supported URLs into downloads and
// reports the outcome as reactions on the message.
type ChatHandler struct {
	session   Session
	processor Processor
	logs      LogWriter
	queue     RetryQueue
	channels  map[string]bool

	recentMu    sync.Mutex
	recent      map[string]time.Time
	lastCleanup time.Time
}

// NewChatHandler creates a handler. An empty channelIDs list watches every channel.
func NewChatHandler(session Session, p Processor, logs LogWriter, queue RetryQueue, channelIDs []string) *ChatHandler {
	channels := make(map[string]bool, len(channelIDs))
	for _, id := range channelIDs {
		channels[id] = true
	}
	return &ChatHandler{
		session:   session,
		processor: p,
		logs:      logs,
		queue:     queue,
		channels:  channels,
		recent:    make(map[string]time.Time),
	}
}

// RetryKey is the retry queue key of a message.
func RetryKey(channelID, messageID string) string {
	return channelID + ":" + messageID
}

// ParseRetryKey splits a key built by RetryKey.
func ParseRetryKey(key string) (channelID, messageID string, err error) {
	channelID, messageID, ok := strings.Cut(key, ":")
	if !ok || channelID == "" || messageID == "" {
		return "", "", fmt.Errorf("malformed retry key %q", key)
	}
	return channelID, messageID, nil
}

// Watches reports whether messages of channelID are processed.
func (h *ChatHandler) Watches(channelID string) bool {
	return len(h.channels) == 0 || h.channels[channelID]
}

// URLs returns the supported URLs of msg, or nil when the message is not ours to handle.
func (h *ChatHandler) URLs(msg *discordgo.Message) []string {
	if msg == nil || msg.Author == nil || msg.Author.Bot || !h.Watches(msg.ChannelID) {
		return nil
	}
	return classifier.URLs(classifier.FindAll(msg.Content))
}

// HandleMessage processes a newly posted message. Failures land in the retry queue.
func (h *ChatHandler) HandleMessage(ctx context.Context, msg *discordgo.Message) error {
	urls := h.URLs(msg)
	if len(urls) == 0 || h.seenRecently(msg.ID) {
		return nil
	}
	return h.process(ctx, msg.ChannelID, msg.ID, urls, true)
}

// HandleRetry is the retry queue handler. A message that no longer exists retires its item.
func (h *ChatHandler) HandleRetry(ctx context.Context, item models.QueueItem) error {
	channelID, messageID, err := ParseRetryKey(item.Key)
	if err != nil {
		log.Warn().Err(err).Msg("dropping retry item")
		return nil
	}

	msg, err := h.session.ChannelMessage(channelID, messageID)
	if err != nil {
		if isUnknownMessage(err) {
			log.Info().Str("key", item.Key).Msg("message was deleted, retiring retry item")
			return nil
		}
		return fmt.Errorf("failed to fetch message %s: %w", item.Key, err)
	}

	urls := classifier.URLs(classifier.FindAll(msg.Content))
	if len(urls) == 0 {
		// Edited since it failed and nothing is left to fetch.
		urls = item.Payload
	}
	if len(urls) == 0 {
		return nil
	}
	return h.process(ctx, channelID, messageID, urls, false)
}

// Enqueue puts a message on the retry queue without processing it now.
func (h *ChatHandler) Enqueue(channelID, messageID string, urls []string) (bool, error) {
	return h.queue.Enqueue(models.SourceRetry, RetryKey(channelID, messageID), urls)
}

// process runs urls and reacts on the message. With ownQueue set the handler also
// maintains the retry item itself; queue-driven runs leave that to the drain.
func (h *ChatHandler) process(ctx context.Context, channelID, messageID string, urls []string, ownQueue bool) error {
	key := RetryKey(channelID, messageID)
	h.react(channelID, messageID, EmojiPending)

	outcome := h.processor.Process(ctx, urls)
	h.unreact(channelID, messageID, EmojiPending)

	entry := models.LogEntry{Source: models.SourceRetry, Key: key, URLs: urls}
	if err := outcome.Err(); err != nil {
		h.react(channelID, messageID, EmojiFailure)
		entry.Status = models.LogStatusFailure
		entry.Error = err.Error()
		h.appendLog(entry)
		if ownQueue {
			if _, qerr := h.queue.Enqueue(models.SourceRetry, key, urls); qerr != nil {
				utils.Error("chat", "enqueue retry", fmt.Sprintf("%s: %v", key, qerr))
			}
		}
		utils.Warn("chat", "download failed", fmt.Sprintf("%s: %v", key, err))
		return err
	}

	h.unreact(channelID, messageID, EmojiFailure)
	h.react(channelID, messageID, EmojiSuccess)
	entry.Status = models.LogStatusSuccess
	entry.FileCount = len(outcome.Files)
	h.appendLog(entry)
	if ownQueue {
		if _, err := h.queue.Remove(models.SourceRetry, key); err != nil {
			log.Error().Err(err).Str("key", key).Msg("failed to remove retry item")
		}
	}
	log.Info().Str("key", key).Int("files", len(outcome.Files)).Int("rejected", len(outcome.Rejected)).Msg("message processed")
	return nil
}

func (h *ChatHandler) appendLog(entry models.LogEntry) {
	if _, err := h.logs.Append(entry); err != nil {
		log.Error().Err(err).Str("key", entry.Key).Msg("failed to write processing log")
	}
}

func (h *ChatHandler) react(channelID, messageID, emoji string) {
	if err := h.session.MessageReactionAdd(channelID, messageID, emoji); err != nil {
		log.Warn().Err(err).Str("message", messageID).Str("emoji", emoji).Msg("failed to add reaction")
	}
}

func (h *ChatHandler) unreact(channelID, messageID, emoji string) {
	if err := h.session.MessageReactionRemove(channelID, messageID, emoji, "@me"); err != nil {
		log.Debug().Err(err).Str("message", messageID).Str("emoji", emoji).Msg("failed to remove reaction")
	}
}

// seenRecently reports whether id was handled within duplicateWindow and records it otherwise.
func (h *ChatHandler) seenRecently(id string) bool {
	h.recentMu.Lock()
	defer h.recentMu.Unlock()

	now := time.Now()
	if now.Sub(h.lastCleanup) > duplicateWindow {
		for k, at := range h.recent {
			if now.Sub(at) > duplicateWindow {
				delete(h.recent, k)
			}
		}
		h.lastCleanup = now
	}
	if at, ok := h.recent[id]; ok && now.Sub(at) < duplicateWindow {
		log.Debug().Str("message", id).Msg("skipping duplicate message create event")
		return true
	}
	h.recent[id] = now
	return false
}

func isUnknownMessage(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil && restErr.Message.Code == discordgo.ErrCodeUnknownMessage {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusNotFound
}
