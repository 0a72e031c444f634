package discordbot

import (
	"github.com/bwmarrin/discordgo"
)

var adminOnly = int64(discordgo.PermissionAdministrator)

// commands is the full slash-command surface. Everything except /bonus is
// admin-gated by default member permissions; /bonus additionally accepts
// holders of an authorized role and checks that itself.
var commands = []*discordgo.ApplicationCommand{
	{
		Name:                     "setup",
		Description:              "Post/Update the eligibility buttons and set the role.",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Channel for the eligibility buttons.",
				Required:    true,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "Role to grant to eligible users.",
				Required:    true,
			},
		},
	},
	{
		Name:                     "reloadlist",
		Description:              "Reload eligible users and images from the sheet.",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "history",
		Description:              "Show role assignment history (paginated).",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "extractinfo",
		Description:              "Show current setup info and recent history.",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "reset_history",
		Description:              "⚠️ Reset the role assignment history for this server.",
		DefaultMemberPermissions: &adminOnly,
	},
	{
		Name:                     "add_bonus_role",
		Description:              "Add a role allowed to use the /bonus command.",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "Role to add for /bonus command permission.",
				Required:    true,
			},
		},
	},
	{
		Name:                     "remove_bonus_role",
		Description:              "Remove a role from the /bonus command permission list.",
		DefaultMemberPermissions: &adminOnly,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionRole,
				Name:        "role",
				Description: "Role to remove from /bonus command permission.",
				Required:    true,
			},
		},
	},
	{
		Name:        "bonus",
		Description: "Post a temporary button for users to claim a bonus.",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionChannel,
				Name:        "channel",
				Description: "Channel for the bonus button.",
				Required:    true,
				ChannelTypes: []discordgo.ChannelType{
					discordgo.ChannelTypeGuildText,
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "duration",
				Description: "Button lifetime (e.g., '10s', '10m', '1h').",
				Required:    true,
			},
		},
	},
}

type commandHandler func(b *Bot, s *discordgo.Session, i *discordgo.InteractionCreate) error

var commandHandlers = map[string]commandHandler{
	"setup":             (*Bot).handleSetup,
	"reloadlist":        (*Bot).handleReloadList,
	"history":           (*Bot).handleHistory,
	"extractinfo":       (*Bot).handleExtractInfo,
	"reset_history":     (*Bot).handleResetHistory,
	"add_bonus_role":    (*Bot).handleAddBonusRole,
	"remove_bonus_role": (*Bot).handleRemoveBonusRole,
	"bonus":             (*Bot).handleBonus,
}
