package discordbot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/guild-gatekeeper/internal/claim"
	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"go.uber.org/zap"
)

const serverOnlyNotice = "This command can only be used in a server."

// handleSetup (re)binds the guild to a channel/role/message triple. If a
// prior prompt exists in the same channel it is edited in place; otherwise a
// new prompt is posted and its reference recorded.
func (b *Bot) handleSetup(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" || i.Member == nil {
		return respondEphemeral(s, i, serverOnlyNotice)
	}

	opts := optionMap(i)
	channel := opts["channel"].ChannelValue(s)
	role := opts["role"].RoleValue(s, i.GuildID)
	if channel == nil || role == nil {
		return respondEphemeral(s, i, "❌ Invalid channel or role.")
	}

	if notice, ok := b.checkSetupPermissions(s, i.GuildID, channel.ID, role); !ok {
		return respondEphemeral(s, i, notice)
	}

	if err := deferEphemeral(s, i); err != nil {
		return err
	}

	embed := eligibilityEmbed()
	components := persistentButtons()

	cfg, _ := b.cache.GuildConfig(i.GuildID)
	messageID := ""
	operation := "created"

	if cfg.MessageID != "" && cfg.ChannelID == channel.ID {
		edited, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			Channel:    channel.ID,
			ID:         cfg.MessageID,
			Embeds:     &[]*discordgo.MessageEmbed{embed},
			Components: &components,
		})
		switch {
		case err == nil:
			messageID = edited.ID
			operation = "updated"
			logger.Info("Updated existing eligibility prompt",
				zap.String("guild_id", i.GuildID),
				zap.String("message_id", messageID))
		case isUnknownMessage(err):
			logger.Warn("Old eligibility prompt not found, posting a new one",
				zap.String("guild_id", i.GuildID),
				zap.String("message_id", cfg.MessageID))
		case isMissingPermissions(err):
			return followup(s, i, fmt.Sprintf("Failed to update: I lack permission to edit the existing message in <#%s>. Please check my permissions or delete the old message manually.", channel.ID))
		default:
			return followup(s, i, fmt.Sprintf("❌ An error occurred while trying to update the message: %v", err))
		}
	}

	if messageID == "" {
		msg, err := s.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
			Embeds:     []*discordgo.MessageEmbed{embed},
			Components: components,
		})
		if err != nil {
			logger.Error("Failed to post eligibility prompt",
				zap.String("guild_id", i.GuildID),
				zap.String("channel_id", channel.ID),
				zap.Error(err))
			return followup(s, i, fmt.Sprintf("❌ I cannot post messages in <#%s>.", channel.ID))
		}
		messageID = msg.ID
		logger.Info("Posted new eligibility prompt",
			zap.String("guild_id", i.GuildID),
			zap.String("message_id", messageID))
	}

	cfg.ServerName = b.guildName(s, i.GuildID)
	cfg.ChannelID = channel.ID
	cfg.RoleID = role.ID
	cfg.MessageID = messageID
	if err := b.cache.SetGuildConfig(context.Background(), i.GuildID, cfg); err != nil {
		logger.Error("Failed to save guild config", zap.String("guild_id", i.GuildID), zap.Error(err))
		return followup(s, i, "❌ Setup message is live, but saving the configuration failed. Please retry.")
	}

	jumpLink := fmt.Sprintf("https://discord.com/channels/%s/%s/%s", i.GuildID, channel.ID, messageID)
	return followup(s, i, fmt.Sprintf(
		"✅ Setup **%s** complete! Buttons are live in <#%s> (<%s>). Eligible users will receive <@&%s>.",
		operation, channel.ID, jumpLink, role.ID))
}

// checkSetupPermissions runs the preflight: Manage Roles, role hierarchy and
// channel permissions. Returns a user-facing notice when something is off.
func (b *Bot) checkSetupPermissions(s *discordgo.Session, guildID, channelID string, role *discordgo.Role) (string, bool) {
	perms, err := s.UserChannelPermissions(s.State.User.ID, channelID)
	if err != nil {
		return "❌ Could not determine my permissions in that channel.", false
	}

	if perms&discordgo.PermissionManageRoles == 0 {
		return "I need the 'Manage Roles' permission.", false
	}

	const needed = discordgo.PermissionSendMessages |
		discordgo.PermissionEmbedLinks |
		discordgo.PermissionReadMessageHistory |
		discordgo.PermissionManageMessages
	if perms&needed != needed {
		return fmt.Sprintf("I need permissions to 'Send Messages', 'Embed Links', 'Read Message History', and 'Manage Messages' in <#%s>.", channelID), false
	}

	if top, ok := b.botTopRolePosition(s, guildID); ok && top <= role.Position {
		return fmt.Sprintf("My highest role isn't high enough to manage the '%s' role. Please move my role higher.", role.Name), false
	}

	return "", true
}

func (b *Bot) botTopRolePosition(s *discordgo.Session, guildID string) (int, bool) {
	member, err := s.State.Member(guildID, s.State.User.ID)
	if err != nil || member == nil {
		member, err = s.GuildMember(guildID, s.State.User.ID)
		if err != nil {
			return 0, false
		}
	}
	roles, err := s.GuildRoles(guildID)
	if err != nil {
		return 0, false
	}

	held := make(map[string]struct{}, len(member.Roles))
	for _, id := range member.Roles {
		held[id] = struct{}{}
	}

	top := 0
	found := false
	for _, role := range roles {
		if _, ok := held[role.ID]; ok && (!found || role.Position > top) {
			top = role.Position
			found = true
		}
	}
	return top, found
}

func (b *Bot) guildName(s *discordgo.Session, guildID string) string {
	if g, err := s.State.Guild(guildID); err == nil && g != nil {
		return g.Name
	}
	if g, err := s.Guild(guildID); err == nil {
		return g.Name
	}
	return ""
}

// handleReloadList rebuilds the roster and asset map from the store.
func (b *Bot) handleReloadList(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if err := deferEphemeral(s, i); err != nil {
		return err
	}

	if err := b.cache.LoadRoster(context.Background()); err != nil {
		logger.Error("Roster reload failed", zap.Error(err))
		return followup(s, i, fmt.Sprintf("❌ Error reloading list: %v", err))
	}

	uids, assets := b.cache.RosterCounts()
	return followup(s, i, fmt.Sprintf("Reloaded from '%s'. UIDs: %d, Images: %d.", datacache.RosterTable, uids, assets))
}

// handleHistory opens a paginated view over a fresh history snapshot.
func (b *Bot) handleHistory(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" {
		return respondEphemeral(s, i, serverOnlyNotice)
	}
	if err := deferEphemeral(s, i); err != nil {
		return err
	}

	if err := b.cache.LoadHistory(context.Background()); err != nil {
		logger.Error("History reload failed", zap.Error(err))
		return followup(s, i, fmt.Sprintf("❌ Error fetching history: %v", err))
	}

	records := b.cache.HistoryDescending(i.GuildID)
	if len(records) == 0 {
		return followup(s, i, "No history found.")
	}

	cursorID, cur, err := b.pagers.Open(records)
	if err != nil {
		return err
	}

	_, err = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{
		Embeds:     []*discordgo.MessageEmbed{historyEmbed(cur)},
		Components: historyNavRow(cursorID, cur, false),
		Flags:      discordgo.MessageFlagsEphemeral,
	})
	return err
}

// handleExtractInfo reports the guild's configuration and recent grants.
func (b *Bot) handleExtractInfo(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" {
		return respondEphemeral(s, i, serverOnlyNotice)
	}
	if err := deferEphemeral(s, i); err != nil {
		return err
	}

	ctx := context.Background()
	if err := b.cache.LoadGuildConfigs(ctx); err != nil {
		return followup(s, i, fmt.Sprintf("❌ Error extracting info: %v", err))
	}
	if err := b.cache.LoadHistory(ctx); err != nil {
		return followup(s, i, fmt.Sprintf("❌ Error extracting info: %v", err))
	}

	cfg, ok := b.cache.GuildConfig(i.GuildID)
	if !ok {
		return followup(s, i, "No setup info found.")
	}

	report := buildInfoReport(b.guildName(s, i.GuildID), i.GuildID, cfg, b.cache.HistoryDescending(i.GuildID))
	if len(report) > 2000 {
		report = report[:2000]
	}
	return followup(s, i, report)
}

func buildInfoReport(guildName, guildID string, cfg datacache.GuildConfig, records []datacache.GrantRecord) string {
	var sb strings.Builder

	channelStr := "Invalid/Not set"
	if cfg.ChannelID != "" {
		channelStr = fmt.Sprintf("<#%s>", cfg.ChannelID)
	}
	roleStr := "Invalid/Not set"
	if cfg.RoleID != "" {
		roleStr = fmt.Sprintf("<@&%s>", cfg.RoleID)
	}
	msgLink := "N/A"
	if cfg.ChannelID != "" && cfg.MessageID != "" {
		msgLink = fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, cfg.ChannelID, cfg.MessageID)
	}
	bonusStr := "None set"
	if len(cfg.BonusRoleIDs) > 0 {
		mentions := make([]string, 0, len(cfg.BonusRoleIDs))
		for _, id := range cfg.BonusRoleIDs {
			mentions = append(mentions, fmt.Sprintf("<@&%s>", id))
		}
		bonusStr = strings.Join(mentions, ", ")
	}

	fmt.Fprintf(&sb, "**⚙️ Config for %s**\n", guildName)
	fmt.Fprintf(&sb, "- Buttons Channel: %s (`%s`)\n", channelStr, cfg.ChannelID)
	fmt.Fprintf(&sb, "- Eligibility Role: %s (`%s`)\n", roleStr, cfg.RoleID)
	fmt.Fprintf(&sb, "- Buttons Message: %s (`%s`)\n", msgLink, cfg.MessageID)
	fmt.Fprintf(&sb, "- Bonus Command Roles: %s\n", bonusStr)

	fmt.Fprintf(&sb, "\n**📜 Recent Role Grants (last 10)** (Total: %d)\n", len(records))
	if len(records) == 0 {
		sb.WriteString("- No recent assignments.\n")
	} else {
		if len(records) > 10 {
			records = records[:10]
		}
		for n, rec := range records {
			fmt.Fprintf(&sb, "%d. <@%s> (`%s`) - %s\n", n+1, rec.UID, rec.Username, formatRecordTime(rec))
		}
	}

	return sb.String()
}

// handleResetHistory wipes the guild's grant history in memory and in the
// backing store.
func (b *Bot) handleResetHistory(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" {
		return respondEphemeral(s, i, serverOnlyNotice)
	}
	if err := deferEphemeral(s, i); err != nil {
		return err
	}

	removed, err := b.cache.ResetHistory(context.Background(), i.GuildID)
	if err != nil {
		logger.Error("History reset failed", zap.String("guild_id", i.GuildID), zap.Error(err))
		return followup(s, i, "History in memory was cleared, but an error occurred while updating the backing store. Please check the logs.")
	}

	return followup(s, i, fmt.Sprintf(
		"Role assignment history for **%s** has been reset. %d entries removed from the store.",
		b.guildName(s, i.GuildID), removed))
}

// handleAddBonusRole adds a role to the set allowed to launch /bonus.
func (b *Bot) handleAddBonusRole(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" {
		return respondEphemeral(s, i, serverOnlyNotice)
	}
	role := optionMap(i)["role"].RoleValue(s, i.GuildID)
	if role == nil {
		return respondEphemeral(s, i, "❌ Invalid role.")
	}

	added, err := b.cache.AddAuthorizedRole(context.Background(), i.GuildID, role.ID, b.guildName(s, i.GuildID))
	if err != nil {
		logger.Error("Failed to save config after adding bonus role",
			zap.String("guild_id", i.GuildID),
			zap.String("role_id", role.ID),
			zap.Error(err))
		return respondEphemeral(s, i, fmt.Sprintf("❌ Failed to save setting: %v", err))
	}
	if !added {
		return respondEphemeral(s, i, fmt.Sprintf("ℹ️ Role <@&%s> is already in the list.", role.ID))
	}

	logger.Info("Bonus role added", zap.String("guild_id", i.GuildID), zap.String("role_id", role.ID))
	return respondEphemeral(s, i, fmt.Sprintf("✅ Role <@&%s> **added** to the list of roles allowed to use `/bonus`.", role.ID))
}

// handleRemoveBonusRole removes a role from the /bonus allow list.
func (b *Bot) handleRemoveBonusRole(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" {
		return respondEphemeral(s, i, serverOnlyNotice)
	}
	role := optionMap(i)["role"].RoleValue(s, i.GuildID)
	if role == nil {
		return respondEphemeral(s, i, "❌ Invalid role.")
	}

	removed, err := b.cache.RemoveAuthorizedRole(context.Background(), i.GuildID, role.ID, b.guildName(s, i.GuildID))
	if err != nil {
		logger.Error("Failed to save config after removing bonus role",
			zap.String("guild_id", i.GuildID),
			zap.String("role_id", role.ID),
			zap.Error(err))
		return respondEphemeral(s, i, fmt.Sprintf("❌ Failed to save setting: %v", err))
	}
	if !removed {
		return respondEphemeral(s, i, fmt.Sprintf("ℹ️ Role <@&%s> was not found in the allowed list.", role.ID))
	}

	logger.Info("Bonus role removed", zap.String("guild_id", i.GuildID), zap.String("role_id", role.ID))
	return respondEphemeral(s, i, fmt.Sprintf("✅ Role <@&%s> **removed** from the list of roles allowed to use `/bonus`.", role.ID))
}

// handleBonus posts a time-boxed single-use claim button.
func (b *Bot) handleBonus(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" || i.Member == nil {
		return respondEphemeral(s, i, "Server member only.")
	}

	cfg, _ := b.cache.GuildConfig(i.GuildID)
	isAdmin := i.Member.Permissions&discordgo.PermissionAdministrator != 0
	if !claim.CanLaunch(isAdmin, i.Member.Roles, cfg.BonusRoleIDs) {
		rolesStr := "the designated roles"
		if len(cfg.BonusRoleIDs) > 0 {
			mentions := make([]string, 0, len(cfg.BonusRoleIDs))
			for _, id := range cfg.BonusRoleIDs {
				mentions = append(mentions, fmt.Sprintf("<@&%s>", id))
			}
			rolesStr = strings.Join(mentions, ", ")
		}
		return respondEphemeral(s, i, fmt.Sprintf("❌ You need Admin perms or one of the following roles: %s.", rolesStr))
	}

	opts := optionMap(i)
	channel := opts["channel"].ChannelValue(s)
	durationText := opts["duration"].StringValue()

	ttl, err := claim.ParseDuration(durationText)
	if errors.Is(err, claim.ErrInvalidDuration) {
		return respondEphemeral(s, i, fmt.Sprintf("❌ Invalid duration: %q. Use a number plus s, m, h or d (e.g. '10m').", durationText))
	}
	if err != nil {
		return err
	}

	if channel == nil {
		return respondEphemeral(s, i, "❌ Invalid channel.")
	}
	perms, err := s.UserChannelPermissions(s.State.User.ID, channel.ID)
	if err != nil || perms&(discordgo.PermissionSendMessages|discordgo.PermissionManageMessages) !=
		discordgo.PermissionSendMessages|discordgo.PermissionManageMessages {
		return respondEphemeral(s, i, fmt.Sprintf("❌ I need 'Send Messages' and 'Manage Messages' in <#%s>.", channel.ID))
	}

	window, err := b.windows.Open(i.GuildID, ttl)
	if err != nil {
		return err
	}

	msg, err := s.ChannelMessageSendComplex(channel.ID, &discordgo.MessageSend{
		Content:    fmt.Sprintf("⏳ **Bonus Claim!** Press within **%s**!", durationText),
		Components: claimButtonRow(window.ID, false, false),
	})
	if err != nil {
		logger.Error("Failed to post claim prompt",
			zap.String("guild_id", i.GuildID),
			zap.String("channel_id", channel.ID),
			zap.Error(err))
		return respondEphemeral(s, i, fmt.Sprintf("❌ Could not post the bonus button in <#%s>.", channel.ID))
	}
	b.windows.BindMessage(window.ID, channel.ID, msg.ID)

	logger.Info("Claim prompt posted",
		zap.String("guild_id", i.GuildID),
		zap.String("window_id", window.ID),
		zap.String("duration", durationText))

	return respondEphemeral(s, i, fmt.Sprintf("✅ Bonus button posted to <#%s> for %s.", channel.ID, durationText))
}

// onClaimExpired disables and later removes an expired claim prompt.
func (b *Bot) onClaimExpired(w claim.Window) {
	if w.ChannelID == "" || w.MessageID == "" {
		logger.Warn("Claim window expired without a bound message", zap.String("window_id", w.ID))
		return
	}

	s := b.session
	if !w.Claimed {
		content := "Bonus claim period ended."
		if msg, err := s.ChannelMessage(w.ChannelID, w.MessageID); err == nil && msg.Content != "" {
			content = fmt.Sprintf("~~%s~~\n%s", msg.Content, content)
		}
		components := claimButtonRow(w.ID, true, false)
		if _, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			Channel:    w.ChannelID,
			ID:         w.MessageID,
			Content:    &content,
			Components: &components,
		}); err != nil && !isUnknownMessage(err) {
			logger.Error("Failed to disable expired claim prompt",
				zap.String("window_id", w.ID),
				zap.Error(err))
		}
	}

	time.AfterFunc(claimCleanupDelay, func() {
		if err := s.ChannelMessageDelete(w.ChannelID, w.MessageID); err != nil && !isUnknownMessage(err) {
			logger.Warn("Could not delete claim prompt",
				zap.String("window_id", w.ID),
				zap.Error(err))
		}
	})
}
