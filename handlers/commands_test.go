package handlers

import (
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-keeper/database"
	"x-keeper/models"
	"x-keeper/queue"
	"x-keeper/utils"
)

type fakeResponder struct {
	responses []*discordgo.InteractionResponse
}

func (f *fakeResponder) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	f.responses = append(f.responses, resp)
	return nil
}

func (f *fakeResponder) last(t *testing.T) *discordgo.InteractionResponse {
	t.Helper()
	require.NotEmpty(t, f.responses)
	return f.responses[len(f.responses)-1]
}

type fakeFailures struct {
	entries []models.LogEntry
	err     error
}

func (f fakeFailures) Failures(limit int) ([]models.LogEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.entries) {
		return f.entries[:limit], nil
	}
	return f.entries, nil
}

type fakeRetry struct {
	keys []string
}

func (f *fakeRetry) Enqueue(channelID, messageID string, _ []string) (bool, error) {
	key := channelID + ":" + messageID
	for _, k := range f.keys {
		if k == key {
			return false, nil
		}
	}
	f.keys = append(f.keys, key)
	return true, nil
}

func newCommands(t *testing.T, failures FailureLog) (*Commands, *fakeRetry, *queue.Manager) {
	t.Helper()
	ledger := database.NewMemoryLedger("1", "2", "3")
	q := queue.NewManager(queue.NewMemoryStore())
	retry := &fakeRetry{}
	auth := utils.NewAuth(models.CommandsConfig{Auth: models.AuthConfig{
		Developers:  []string{"dev"},
		AdminsRoles: []string{"admin-role"},
	}})
	return NewCommands(ledger, q, failures, retry, auth, []string{"111", "222"}), retry, q
}

func interaction(name, userID string, roles []string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		Type:   discordgo.InteractionApplicationCommand,
		Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		Data:   discordgo.ApplicationCommandInteractionData{Name: name, Options: options},
	}}
}

func stringOption(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{Name: name, Type: discordgo.ApplicationCommandOptionString, Value: value}
}

func TestPing(t *testing.T) {
	c, _, _ := newCommands(t, fakeFailures{})
	r := &fakeResponder{}

	c.Dispatch(r, interaction("ping", "someone", nil))
	assert.Equal(t, "Pong!", r.last(t).Data.Content)
}

func TestStats(t *testing.T) {
	c, _, q := newCommands(t, fakeFailures{})
	_, err := q.Enqueue(models.SourceDirect, "https://i.imgur.com/a.png", nil)
	require.NoError(t, err)
	r := &fakeResponder{}

	c.Dispatch(r, interaction("stats", "someone", nil))
	content := r.last(t).Data.Content
	assert.Contains(t, content, "**Downloaded posts:** 3")
	assert.Contains(t, content, "**retry queue:** 0")
	assert.Contains(t, content, "**direct queue:** 1")
}

func TestFailures(t *testing.T) {
	entries := []models.LogEntry{
		{Key: "c1:m1", Status: models.LogStatusFailure, Error: "tool exited with status 4", Timestamp: time.Now().Add(-time.Hour)},
		{Key: "c1:m2", Status: models.LogStatusFailure, Error: "timeout", Timestamp: time.Now().Add(-2 * time.Hour)},
	}
	c, _, _ := newCommands(t, fakeFailures{entries: entries})
	r := &fakeResponder{}

	c.Dispatch(r, interaction("failures", "someone", nil,
		&discordgo.ApplicationCommandInteractionDataOption{Name: "limit", Type: discordgo.ApplicationCommandOptionInteger, Value: float64(1)}))
	resp := r.last(t)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, resp.Data.Flags)
	assert.Contains(t, resp.Data.Content, "`c1:m1` 1 hour ago: tool exited with status 4")
	assert.NotContains(t, resp.Data.Content, "c1:m2")

	empty, _, _ := newCommands(t, fakeFailures{})
	empty.Dispatch(r, interaction("failures", "someone", nil))
	assert.Equal(t, "✅ No failing messages.", r.last(t).Data.Content)

	broken, _, _ := newCommands(t, fakeFailures{err: errors.New("disk")})
	broken.Dispatch(r, interaction("failures", "someone", nil))
	assert.Contains(t, r.last(t).Data.Content, "Could not read")
}

func TestRetryPermissions(t *testing.T) {
	c, retry, _ := newCommands(t, fakeFailures{})
	r := &fakeResponder{}
	opts := []*discordgo.ApplicationCommandInteractionDataOption{stringOption("message_id", "m1"), stringOption("channel_id", "111")}

	c.Dispatch(r, interaction("retry", "someone", nil, opts...))
	assert.Contains(t, r.last(t).Data.Content, "permission")
	assert.Empty(t, retry.keys)

	c.Dispatch(r, interaction("retry", "someone", []string{"admin-role"}, opts...))
	assert.Contains(t, r.last(t).Data.Content, "queued for the next retry pass")
	assert.Equal(t, []string{"111:m1"}, retry.keys)

	c.Dispatch(r, interaction("retry", "dev", nil, opts...))
	assert.Contains(t, r.last(t).Data.Content, "already queued")
}

func TestChannelAutocomplete(t *testing.T) {
	c, _, _ := newCommands(t, fakeFailures{})
	r := &fakeResponder{}
	i := interaction("retry", "someone", nil, &discordgo.ApplicationCommandInteractionDataOption{
		Name: "channel_id", Type: discordgo.ApplicationCommandOptionString, Value: "22", Focused: true,
	})
	i.Type = discordgo.InteractionApplicationCommandAutocomplete

	c.HandleAutocomplete(r, i)
	resp := r.last(t)
	assert.Equal(t, discordgo.InteractionApplicationCommandAutocompleteResult, resp.Type)
	require.Len(t, resp.Data.Choices, 1)
	assert.Equal(t, "222", resp.Data.Choices[0].Value)
}

func TestUnknownCommand(t *testing.T) {
	c, _, _ := newCommands(t, fakeFailures{})
	r := &fakeResponder{}
	c.Dispatch(r, interaction("nope", "someone", nil))
	assert.Contains(t, r.last(t).Data.Content, "unknown command")
}
