package utils

import (
	"slices"

	"github.com/bwmarrin/discordgo"

	"x-keeper/models"
)

const (
	LevelDeveloper = "developer"
	LevelAdmin     = "admin"
	LevelGuest     = "guest"
)

// Auth provides methods for authorization checks.
type Auth struct {
	config models.CommandsConfig
}

func NewAuth(config models.CommandsConfig) *Auth {
	return &Auth{config: config}
}

func (a *Auth) IsDeveloper(userID string) bool {
	return slices.Contains(a.config.Auth.Developers, userID)
}

// IsAdmin checks if a member has an admin role.
func (a *Auth) IsAdmin(member *discordgo.Member) bool {
	if member == nil {
		return false
	}
	for _, roleID := range member.Roles {
		if slices.Contains(a.config.Auth.AdminsRoles, roleID) {
			return true
		}
	}
	return false
}

// IsGuest checks if a user is a guest. A "0" entry opens guest commands to everyone.
func (a *Auth) IsGuest(userID string) bool {
	for _, guestID := range a.config.Auth.Guest {
		if guestID == "0" || guestID == userID {
			return true
		}
	}
	return false
}

// CheckPermission checks if the interaction's user has the required level.
// Interactions outside a guild carry User instead of Member.
func (a *Auth) CheckPermission(i *discordgo.InteractionCreate, requiredLevel string) bool {
	member := i.Member
	user := i.User
	if member != nil && member.User != nil {
		user = member.User
	}
	if user == nil {
		return false
	}

	switch requiredLevel {
	case LevelDeveloper:
		return a.IsDeveloper(user.ID)
	case LevelAdmin:
		return a.IsDeveloper(user.ID) || a.IsAdmin(member)
	case LevelGuest:
		return len(a.config.Auth.Guest) == 0 || a.IsGuest(user.ID) || a.IsDeveloper(user.ID) || a.IsAdmin(member)
	default:
		return false
	}
}
