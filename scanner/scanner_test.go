package scanner

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"

	"x-keeper/handlers/message"
)

type fakeHistory struct {
	messages map[string][]*discordgo.Message // newest first
	requests []int
}

func (f *fakeHistory) ChannelMessages(channelID string, limit int, beforeID, _, _ string, _ ...discordgo.RequestOption) ([]*discordgo.Message, error) {
	f.requests = append(f.requests, limit)
	all, ok := f.messages[channelID]
	if !ok {
		return nil, errors.New("missing access")
	}
	start := 0
	if beforeID != "" {
		for i, m := range all {
			if m.ID == beforeID {
				start = i + 1
			}
		}
	}
	end := min(start+limit, len(all))
	return all[start:end], nil
}

type recordingHandler struct {
	handled []string
}

func (r *recordingHandler) URLs(msg *discordgo.Message) []string {
	if msg.Content == "" {
		return nil
	}
	return []string{msg.Content}
}

func (r *recordingHandler) HandleMessage(_ context.Context, msg *discordgo.Message) error {
	r.handled = append(r.handled, msg.ID)
	if msg.Content == "fail" {
		return errors.New("boom")
	}
	return nil
}

func history(n int) []*discordgo.Message {
	msgs := make([]*discordgo.Message, 0, n)
	for i := n; i >= 1; i-- {
		msgs = append(msgs, &discordgo.Message{ID: fmt.Sprint(i), Content: "https://x.com/a/status/" + fmt.Sprint(i)})
	}
	return msgs
}

func TestScanSkipsConfirmedAndRunsOldestFirst(t *testing.T) {
	msgs := []*discordgo.Message{
		{ID: "4", Content: "fail"},
		{ID: "3", Content: ""},
		{ID: "2", Content: "https://x.com/a/status/2", Reactions: []*discordgo.MessageReactions{
			{Me: true, Emoji: &discordgo.Emoji{Name: message.EmojiSuccess}},
		}},
		{ID: "1", Content: "https://x.com/a/status/1", Reactions: []*discordgo.MessageReactions{
			{Me: false, Emoji: &discordgo.Emoji{Name: message.EmojiSuccess}},
		}},
	}
	h := &recordingHandler{}
	s := New(&fakeHistory{messages: map[string][]*discordgo.Message{"c1": msgs}}, h, []string{"c1"}, 50)

	stats := s.Scan(context.Background())
	assert.Equal(t, []string{"1", "4"}, h.handled)
	assert.Equal(t, Stats{Scanned: 4, Processed: 2, Failed: 1}, stats)
}

func TestScanPaginatesUpToLimit(t *testing.T) {
	hist := &fakeHistory{messages: map[string][]*discordgo.Message{"c1": history(250)}}
	h := &recordingHandler{}
	s := New(hist, h, []string{"c1"}, 150)

	stats := s.Scan(context.Background())
	assert.Equal(t, []int{100, 50}, hist.requests)
	assert.Equal(t, 150, stats.Scanned)
	assert.Equal(t, "101", h.handled[0])
	assert.Equal(t, "250", h.handled[len(h.handled)-1])
}

func TestScanContinuesAfterChannelError(t *testing.T) {
	hist := &fakeHistory{messages: map[string][]*discordgo.Message{"c2": history(2)}}
	h := &recordingHandler{}
	s := New(hist, h, []string{"c1", "c2"}, 10)

	stats := s.Scan(context.Background())
	assert.Equal(t, 2, stats.Processed)
	assert.Equal(t, []string{"1", "2"}, h.handled)
}

func TestScanWithoutChannels(t *testing.T) {
	hist := &fakeHistory{messages: map[string][]*discordgo.Message{"c1": history(3)}}
	s := New(hist, &recordingHandler{}, nil, 10)

	stats := s.Scan(context.Background())
	assert.Equal(t, Stats{}, stats)
	assert.Empty(t, hist.requests)
}
