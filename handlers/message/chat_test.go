package message

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-keeper/models"
	"x-keeper/processor"
	"x-keeper/queue"
)

type reaction struct {
	op, messageID, emoji string
}

type fakeSession struct {
	mu        sync.Mutex
	reactions []reaction
	messages  map[string]*discordgo.Message
	fetchErr  error
}

func (f *fakeSession) MessageReactionAdd(_, messageID, emoji string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction{"add", messageID, emoji})
	return nil
}

func (f *fakeSession) MessageReactionRemove(_, messageID, emoji, _ string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction{"remove", messageID, emoji})
	return nil
}

func (f *fakeSession) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	msg, ok := f.messages[RetryKey(channelID, messageID)]
	if !ok {
		return nil, &discordgo.RESTError{
			Response: &http.Response{StatusCode: http.StatusNotFound},
			Message:  &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownMessage, Message: "Unknown Message"},
		}
	}
	return msg, nil
}

func (f *fakeSession) added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.reactions {
		if r.op == "add" {
			out = append(out, r.emoji)
		}
	}
	return out
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls [][]string
	fail  bool
}

func (f *fakeProcessor) Process(_ context.Context, urls []string) processor.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, urls)
	out := processor.Outcome{URLs: urls}
	if f.fail {
		out.Errors = []models.DownloadError{{URL: urls[0], Reason: "tool exited with status 4"}}
		return out
	}
	out.Files = []models.SavedFile{{Path: "/tmp/a-1-01.jpg", PostID: "1"}}
	return out
}

type memLogs struct {
	entries []models.LogEntry
}

func (m *memLogs) Append(e models.LogEntry) (models.LogEntry, error) {
	m.entries = append(m.entries, e)
	return e, nil
}

func newHandler(t *testing.T, proc *fakeProcessor, channels ...string) (*ChatHandler, *fakeSession, *memLogs, *queue.Manager) {
	t.Helper()
	session := &fakeSession{messages: make(map[string]*discordgo.Message)}
	logs := &memLogs{}
	q := queue.NewManager(queue.NewMemoryStore())
	return NewChatHandler(session, proc, logs, q, channels), session, logs, q
}

func chatMessage(channelID, id, content string) *discordgo.Message {
	return &discordgo.Message{ID: id, ChannelID: channelID, Content: content, Author: &discordgo.User{ID: "u1"}}
}

func TestHandleMessageSuccess(t *testing.T) {
	proc := &fakeProcessor{}
	h, session, logs, q := newHandler(t, proc, "c1")

	err := h.HandleMessage(context.Background(), chatMessage("c1", "m1", "look https://x.com/alice/status/1?s=20 and https://example.com"))
	require.NoError(t, err)

	require.Len(t, proc.calls, 1)
	assert.Equal(t, []string{"https://x.com/alice/status/1"}, proc.calls[0])
	assert.Equal(t, []string{EmojiPending, EmojiSuccess}, session.added())

	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.LogStatusSuccess, logs.entries[0].Status)
	assert.Equal(t, 1, logs.entries[0].FileCount)
	assert.Equal(t, "c1:m1", logs.entries[0].Key)

	n, err := q.Count(models.SourceRetry)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestHandleMessageIgnored(t *testing.T) {
	proc := &fakeProcessor{}
	h, session, _, _ := newHandler(t, proc, "c1")
	ctx := context.Background()

	require.NoError(t, h.HandleMessage(ctx, chatMessage("c2", "m1", "https://x.com/alice/status/1")))
	require.NoError(t, h.HandleMessage(ctx, chatMessage("c1", "m2", "no links here")))
	bot := chatMessage("c1", "m3", "https://x.com/alice/status/1")
	bot.Author.Bot = true
	require.NoError(t, h.HandleMessage(ctx, bot))

	assert.Empty(t, proc.calls)
	assert.Empty(t, session.added())
}

func TestHandleMessageDuplicateEvent(t *testing.T) {
	proc := &fakeProcessor{}
	h, _, _, _ := newHandler(t, proc)
	msg := chatMessage("c1", "m1", "https://x.com/alice/status/1")

	require.NoError(t, h.HandleMessage(context.Background(), msg))
	require.NoError(t, h.HandleMessage(context.Background(), msg))
	assert.Len(t, proc.calls, 1)
}

func TestHandleMessageFailureQueuesRetry(t *testing.T) {
	proc := &fakeProcessor{fail: true}
	h, session, logs, q := newHandler(t, proc)

	err := h.HandleMessage(context.Background(), chatMessage("c1", "m1", "https://x.com/alice/status/1"))
	require.Error(t, err)

	assert.Equal(t, []string{EmojiPending, EmojiFailure}, session.added())
	require.Len(t, logs.entries, 1)
	assert.Equal(t, models.LogStatusFailure, logs.entries[0].Status)
	assert.Contains(t, logs.entries[0].Error, "status 4")

	items, err := q.List(models.SourceRetry)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "c1:m1", items[0].Key)
	assert.Equal(t, []string{"https://x.com/alice/status/1"}, items[0].Payload)
}

func TestRetryDrain(t *testing.T) {
	proc := &fakeProcessor{fail: true}
	h, session, _, q := newHandler(t, proc)
	q.RegisterHandler(models.SourceRetry, h.HandleRetry)
	ctx := context.Background()

	msg := chatMessage("c1", "m1", "https://x.com/alice/status/1")
	session.messages["c1:m1"] = msg
	require.Error(t, h.HandleMessage(ctx, msg))

	stats, err := q.Drain(ctx, models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	items, err := q.List(models.SourceRetry)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 1, items[0].Attempts)

	proc.fail = false
	stats, err = q.Drain(ctx, models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	n, err := q.Count(models.SourceRetry)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Equal(t, EmojiSuccess, session.added()[len(session.added())-1])
}

func TestRetryDeletedMessageRetires(t *testing.T) {
	proc := &fakeProcessor{}
	h, _, _, q := newHandler(t, proc)
	q.RegisterHandler(models.SourceRetry, h.HandleRetry)

	_, err := h.Enqueue("c1", "gone", []string{"https://x.com/alice/status/1"})
	require.NoError(t, err)

	stats, err := q.Drain(context.Background(), models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Succeeded)
	assert.Empty(t, proc.calls)
}

func TestRetryFetchFailureKeepsItem(t *testing.T) {
	proc := &fakeProcessor{}
	h, session, _, q := newHandler(t, proc)
	session.fetchErr = errors.New("gateway unavailable")
	q.RegisterHandler(models.SourceRetry, h.HandleRetry)

	_, err := h.Enqueue("c1", "m1", []string{"https://x.com/alice/status/1"})
	require.NoError(t, err)

	stats, err := q.Drain(context.Background(), models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	n, err := q.Count(models.SourceRetry)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestParseRetryKey(t *testing.T) {
	ch, id, err := ParseRetryKey("123:456")
	require.NoError(t, err)
	assert.Equal(t, "123", ch)
	assert.Equal(t, "456", id)

	_, _, err = ParseRetryKey("nope")
	assert.Error(t, err)
}
