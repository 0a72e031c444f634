package discordbot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
)

// discordRoleService implements grant.RoleService on top of the session,
// preferring gateway state and falling back to REST.
type discordRoleService struct {
	session *discordgo.Session
}

func (r *discordRoleService) RoleExists(guildID, roleID string) bool {
	if role, err := r.session.State.Role(guildID, roleID); err == nil && role != nil {
		return true
	}

	roles, err := r.session.GuildRoles(guildID)
	if err != nil {
		return false
	}
	for _, role := range roles {
		if role.ID == roleID {
			return true
		}
	}
	return false
}

func (r *discordRoleService) MemberHasRole(guildID, userID, roleID string) (bool, error) {
	member, err := r.session.State.Member(guildID, userID)
	if err != nil || member == nil {
		member, err = r.session.GuildMember(guildID, userID)
		if err != nil {
			return false, fmt.Errorf("failed to fetch member: %w", err)
		}
	}

	for _, id := range member.Roles {
		if id == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (r *discordRoleService) GrantRole(guildID, userID, roleID string) error {
	return r.session.GuildMemberRoleAdd(guildID, userID, roleID)
}
