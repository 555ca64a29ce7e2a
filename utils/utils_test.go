package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"x-keeper/models"
)

type fakeSender struct {
	channel string
	embeds  []*discordgo.MessageEmbed
}

func (f *fakeSender) ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.embeds = append(f.embeds, embed)
	return &discordgo.Message{}, nil
}

func TestLogPostsEmbed(t *testing.T) {
	sender := &fakeSender{}
	InitLogger(sender, "admin")
	t.Cleanup(func() { InitLogger(nil, "") })

	Warn("scanner", "scan", strings.Repeat("x", 2000))
	Error("queue", "drain", "")

	require.Len(t, sender.embeds, 2)
	assert.Equal(t, "admin", sender.channel)

	warn := sender.embeds[0]
	assert.Equal(t, ColorWarn, warn.Color)
	assert.Equal(t, "scanner", warn.Fields[0].Value)
	assert.Len(t, warn.Fields[2].Value, 1024)
	assert.True(t, strings.HasSuffix(warn.Fields[2].Value, "..."))

	assert.Equal(t, ColorError, sender.embeds[1].Color)
	assert.Equal(t, "-", sender.embeds[1].Fields[2].Value)
}

func TestLogWithoutChannel(t *testing.T) {
	sender := &fakeSender{}
	InitLogger(sender, "")
	t.Cleanup(func() { InitLogger(nil, "") })

	Info("main", "startup", "online")
	assert.Empty(t, sender.embeds)
}

func TestCheckPermission(t *testing.T) {
	auth := NewAuth(models.CommandsConfig{Auth: models.AuthConfig{
		Developers:  []string{"dev"},
		AdminsRoles: []string{"role-admin"},
		Guest:       []string{"guest"},
	}})
	interaction := func(userID string, roles ...string) *discordgo.InteractionCreate {
		return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
			Member: &discordgo.Member{User: &discordgo.User{ID: userID}, Roles: roles},
		}}
	}

	assert.True(t, auth.CheckPermission(interaction("dev"), LevelDeveloper))
	assert.False(t, auth.CheckPermission(interaction("someone", "role-admin"), LevelDeveloper))

	assert.True(t, auth.CheckPermission(interaction("someone", "role-admin"), LevelAdmin))
	assert.True(t, auth.CheckPermission(interaction("dev"), LevelAdmin))
	assert.False(t, auth.CheckPermission(interaction("guest"), LevelAdmin))

	assert.True(t, auth.CheckPermission(interaction("guest"), LevelGuest))
	assert.False(t, auth.CheckPermission(interaction("stranger"), LevelGuest))
	assert.False(t, auth.CheckPermission(interaction("dev"), "unknown"))

	dm := &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{User: &discordgo.User{ID: "dev"}}}
	assert.True(t, auth.CheckPermission(dm, LevelAdmin))
	assert.False(t, auth.CheckPermission(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{}}, LevelGuest))
}

func TestGuestOpenToEveryone(t *testing.T) {
	open := NewAuth(models.CommandsConfig{})
	assert.True(t, open.CheckPermission(&discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		User: &discordgo.User{ID: "anyone"},
	}}, LevelGuest))

	wildcard := NewAuth(models.CommandsConfig{Auth: models.AuthConfig{Guest: []string{"0"}}})
	assert.True(t, wildcard.IsGuest("anyone"))
}

func TestWriteFileAtomic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "doc.json")

	require.NoError(t, WriteFileAtomic(path, []byte(`["1"]`), 0644))
	require.NoError(t, WriteFileAtomic(path, []byte(`["1","2"]`), 0644))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, `["1","2"]`, string(data))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}
