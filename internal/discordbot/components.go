package discordbot

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/guild-gatekeeper/internal/claim"
	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
	"github.com/nantokaworks/guild-gatekeeper/internal/grant"
	"github.com/nantokaworks/guild-gatekeeper/internal/pager"
	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"go.uber.org/zap"
)

// Persistent custom IDs. These are baked into live messages, so changing
// them orphans every prompt posted before the change.
const (
	eligibilityButtonID = "check_eligibility_button_v2"
	assetButtonID       = "check_your_c_button_v2"

	historyPrevPrefix = "history_prev:"
	historyNextPrefix = "history_next:"
	bonusClaimPrefix  = "bonus_claim:"
)

// handleComponent routes a button press by its custom id.
func (b *Bot) handleComponent(s *discordgo.Session, i *discordgo.InteractionCreate, customID string) error {
	switch {
	case customID == eligibilityButtonID:
		return b.handleEligibilityPress(s, i)
	case customID == assetButtonID:
		return b.handleAssetPress(s, i)
	case strings.HasPrefix(customID, historyPrevPrefix):
		return b.handleHistoryNav(s, i, strings.TrimPrefix(customID, historyPrevPrefix), false)
	case strings.HasPrefix(customID, historyNextPrefix):
		return b.handleHistoryNav(s, i, strings.TrimPrefix(customID, historyNextPrefix), true)
	case strings.HasPrefix(customID, bonusClaimPrefix):
		return b.handleClaimPress(s, i, strings.TrimPrefix(customID, bonusClaimPrefix))
	default:
		logger.Warn("Unknown component id", zap.String("custom_id", customID))
		return nil
	}
}

// handleEligibilityPress runs the grant workflow for the pressing member and
// answers with the outcome.
func (b *Bot) handleEligibilityPress(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		return respondEphemeral(s, i, "Cannot perform this action here.")
	}
	userID := i.Member.User.ID

	result, err := b.grants.Run(i.GuildID, userID, i.Member.User.Username)
	switch {
	case errors.Is(err, grant.ErrNotEligible):
		return respondEphemeral(s, i, fmt.Sprintf("Sorry, you are not eligible (UID: %s).", userID))
	case errors.Is(err, grant.ErrGuildNotConfigured):
		return respondEphemeral(s, i, "Bot setup needed. Contact admin.")
	case errors.Is(err, grant.ErrConfigInvalid):
		return respondEphemeral(s, i, "Config error: Role not found.")
	case err != nil:
		logger.Error("Grant workflow failed",
			zap.String("guild_id", i.GuildID),
			zap.String("uid", userID),
			zap.Error(err))
		return respondEphemeral(s, i, "Error: Could not grant role (permissions?).")
	}

	if result.AlreadyGranted {
		return respondEphemeral(s, i, fmt.Sprintf("You already have the <@&%s> role.", result.RoleID))
	}

	if result.AssetURL != "" {
		embed := &discordgo.MessageEmbed{
			Title:       "Eligibility Confirmed & Your C Image",
			Description: fmt.Sprintf("Role <@&%s> granted!", result.RoleID),
			Color:       embedColor,
			Image:       &discordgo.MessageEmbedImage{URL: result.AssetURL},
			Footer:      &discordgo.MessageEmbedFooter{Text: "UID: " + userID},
		}
		return respondEphemeralEmbed(s, i, embed)
	}

	return respondEphemeral(s, i, fmt.Sprintf("You are **eligible** (UID: %s). Role <@&%s> granted!", userID, result.RoleID))
}

// handleAssetPress shows the member's image without touching roles.
func (b *Bot) handleAssetPress(s *discordgo.Session, i *discordgo.InteractionCreate) error {
	var userID string
	switch {
	case i.Member != nil && i.Member.User != nil:
		userID = i.Member.User.ID
	case i.User != nil:
		userID = i.User.ID
	default:
		return respondEphemeral(s, i, "Cannot perform this action here.")
	}

	if !b.cache.Eligible(userID) {
		return respondEphemeral(s, i, fmt.Sprintf("Your UID (%s) not found.", userID))
	}
	url, ok := b.cache.AssetURL(userID)
	if !ok {
		return respondEphemeral(s, i, "Your UID is registered, but no image URL found.")
	}

	return respondEphemeralEmbed(s, i, &discordgo.MessageEmbed{
		Title:       "Your C Image",
		Description: "Here is your C image.",
		Color:       embedColor,
		Image:       &discordgo.MessageEmbedImage{URL: url},
		Footer:      &discordgo.MessageEmbedFooter{Text: "UID: " + userID},
	})
}

// handleHistoryNav moves a history view one page and redraws it. An expired
// cursor redraws with the buttons disabled so the stale view stops inviting
// presses.
func (b *Bot) handleHistoryNav(s *discordgo.Session, i *discordgo.InteractionCreate, cursorID string, forward bool) error {
	cur, ok := b.pagers.Get(cursorID)
	if !ok {
		embeds := i.Message.Embeds
		return updateMessage(s, i, embeds, historyNavRow(cursorID, nil, true))
	}

	if forward {
		cur.Next()
	} else {
		cur.Prev()
	}

	return updateMessage(s, i,
		[]*discordgo.MessageEmbed{historyEmbed(cur)},
		historyNavRow(cursorID, cur, false))
}

// handleClaimPress attempts the single claim on a bonus window.
func (b *Bot) handleClaimPress(s *discordgo.Session, i *discordgo.InteractionCreate, windowID string) error {
	var user *discordgo.User
	switch {
	case i.Member != nil && i.Member.User != nil:
		user = i.Member.User
	case i.User != nil:
		user = i.User
	default:
		return respondEphemeral(s, i, "Cannot perform this action here.")
	}

	w, err := b.windows.Claim(windowID)
	switch {
	case errors.Is(err, claim.ErrAlreadyClaimed):
		return respondEphemeral(s, i, "❌ This bonus has already been claimed.")
	case errors.Is(err, claim.ErrWindowClosed):
		return respondEphemeral(s, i, "❌ The claim period for this bonus has ended.")
	case err != nil:
		return err
	}

	b.cache.LogClaim(w.GuildID, user.Username, user.ID, time.Now().UTC())
	logger.Info("Bonus claimed",
		zap.String("window_id", w.ID),
		zap.String("guild_id", w.GuildID),
		zap.String("uid", user.ID))

	if err := respondEphemeral(s, i, "✅ Bonus claimed and logged!"); err != nil {
		logger.Warn("Failed to confirm claim to user", zap.Error(err))
	}

	if w.ChannelID != "" && w.MessageID != "" {
		components := claimButtonRow(w.ID, true, true)
		if _, err := s.ChannelMessageEditComplex(&discordgo.MessageEdit{
			Channel:    w.ChannelID,
			ID:         w.MessageID,
			Components: &components,
		}); err != nil && !isUnknownMessage(err) {
			logger.Warn("Could not disable claimed button",
				zap.String("window_id", w.ID),
				zap.Error(err))
		}
	}
	return nil
}

// eligibilityEmbed is the body of the persistent prompt posted by setup.
func eligibilityEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "Check Eligibility & C Image",
		Description: "Click the buttons below:\n" +
			"1. **Check Eligibility**: Grants the designated role if you are on the list and shows your C image.\n" +
			"2. **Check Your C**: Shows your C image without granting the role.",
		Color: embedColor,
	}
}

// persistentButtons builds the two always-on buttons of the prompt.
func persistentButtons() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Check Eligibility",
					Style:    discordgo.PrimaryButton,
					CustomID: eligibilityButtonID,
				},
				discordgo.Button{
					Label:    "Check Your C",
					Style:    discordgo.SecondaryButton,
					CustomID: assetButtonID,
				},
			},
		},
	}
}

// historyEmbed renders the cursor's current page.
func historyEmbed(cur *pager.Cursor) *discordgo.MessageEmbed {
	lines := []string{"Role assignment history (most recent first).", ""}

	page := cur.Page()
	if len(page) == 0 {
		lines = append(lines, "No assignments found.")
	} else {
		start := cur.PageIndex() * pager.PageSize
		for n, rec := range page {
			lines = append(lines, fmt.Sprintf("%d. <@%s> (`%s`) - %s",
				start+n+1, rec.UID, rec.Username, formatRecordTime(rec)))
		}
	}

	return &discordgo.MessageEmbed{
		Title:       "Role Assignment History",
		Description: strings.Join(lines, "\n"),
		Color:       embedColor,
		Footer: &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("Page %d/%d (Total %d)", cur.PageIndex()+1, cur.TotalPages(), cur.Count()),
		},
	}
}

// historyNavRow builds the pager buttons. With disableAll (expired view) both
// buttons go inert; otherwise each edge button disables at its boundary.
func historyNavRow(cursorID string, cur *pager.Cursor, disableAll bool) []discordgo.MessageComponent {
	prevDisabled, nextDisabled := true, true
	if !disableAll && cur != nil {
		prevDisabled = cur.PageIndex() == 0
		nextDisabled = cur.PageIndex() >= cur.TotalPages()-1
	}

	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "◀ Prev",
					Style:    discordgo.SecondaryButton,
					CustomID: historyPrevPrefix + cursorID,
					Disabled: prevDisabled,
				},
				discordgo.Button{
					Label:    "Next ▶",
					Style:    discordgo.SecondaryButton,
					CustomID: historyNextPrefix + cursorID,
					Disabled: nextDisabled,
				},
			},
		},
	}
}

// claimButtonRow builds the bonus claim button for a window.
func claimButtonRow(windowID string, disabled, claimed bool) []discordgo.MessageComponent {
	label := "Claim Bonus"
	if claimed {
		label = "Claimed"
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    label,
					Style:    discordgo.SuccessButton,
					CustomID: bonusClaimPrefix + windowID,
					Disabled: disabled,
				},
			},
		},
	}
}

func formatRecordTime(rec datacache.GrantRecord) string {
	if rec.GrantedAt.IsZero() {
		return "Unknown"
	}
	return rec.GrantedAt.UTC().Format("2006-01-02 15:04:05 UTC")
}
