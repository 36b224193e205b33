package discord

import (
	"slices"

	"github.com/bwmarrin/discordgo"
)

// PermissionChecker validates that a Discord member holds the control role
// before a slash command may steer the bot.
type PermissionChecker struct {
	roleID string
}

// NewPermissionChecker creates a PermissionChecker for the given role ID.
func NewPermissionChecker(roleID string) *PermissionChecker {
	return &PermissionChecker{roleID: roleID}
}

// Allowed checks whether the interaction author has the configured role.
// If roleID is empty, every guild member is allowed.
// Returns false if the interaction has no Member (e.g., DM channel interactions).
func (p *PermissionChecker) Allowed(i *discordgo.InteractionCreate) bool {
	if i.Member == nil {
		return false
	}
	if p.roleID == "" {
		return true
	}
	return slices.Contains(i.Member.Roles, p.roleID)
}
