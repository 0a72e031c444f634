package discordbot

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nantokaworks/guild-gatekeeper/internal/claim"
	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
	"github.com/nantokaworks/guild-gatekeeper/internal/grant"
	"github.com/nantokaworks/guild-gatekeeper/internal/pager"
	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"go.uber.org/zap"
)

const (
	// embedColor is used on every embed the bot posts.
	embedColor = 0x836EF9

	// pagerIdleTimeout is how long a history view stays interactive.
	pagerIdleTimeout = 180 * time.Second

	// claimCleanupDelay is how long an expired claim prompt stays visible
	// before it is deleted from the channel.
	claimCleanupDelay = 30 * time.Second
)

// Bot wires the Discord session to the cache and the workflows.
type Bot struct {
	session *discordgo.Session
	cache   *datacache.Cache
	grants  *grant.Workflow
	windows *claim.Manager
	pagers  *pager.Manager

	registered []*discordgo.ApplicationCommand
}

// New creates the bot but does not open the gateway connection.
func New(token string, cache *datacache.Cache) (*Bot, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

	b := &Bot{
		session: session,
		cache:   cache,
		pagers:  pager.NewManager(pagerIdleTimeout),
	}
	b.grants = &grant.Workflow{
		Cache: cache,
		Roles: &discordRoleService{session: session},
	}
	b.windows = claim.NewManager(b.onClaimExpired)

	session.AddHandler(b.onReady)
	session.AddHandler(b.onInteraction)
	session.AddHandler(b.onGuildRemove)

	return b, nil
}

// Start opens the gateway connection and registers the slash commands.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord session: %w", err)
	}

	registered, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, "", commands)
	if err != nil {
		return fmt.Errorf("failed to register slash commands: %w", err)
	}
	b.registered = registered
	logger.Info("Slash commands registered", zap.Int("count", len(registered)))

	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() {
	if err := b.session.Close(); err != nil {
		logger.Warn("Error closing Discord session", zap.Error(err))
	}
}

func (b *Bot) onReady(s *discordgo.Session, r *discordgo.Ready) {
	logger.Info("Bot logged in",
		zap.String("username", r.User.Username),
		zap.String("user_id", r.User.ID),
		zap.Int("guilds", len(r.Guilds)))
}

// onGuildRemove drops the departed guild's configuration and history from
// the working set.
func (b *Bot) onGuildRemove(s *discordgo.Session, g *discordgo.GuildDelete) {
	if g.Unavailable {
		// Outage, not a removal.
		return
	}

	logger.Info("Removed from guild", zap.String("guild_id", g.ID))
	if err := b.cache.DropGuild(context.Background(), g.ID); err != nil {
		logger.Error("Failed to persist config after guild removal",
			zap.String("guild_id", g.ID),
			zap.Error(err))
	}
}

// onInteraction routes slash commands and component presses. A handler error
// that was not already answered produces a generic ephemeral notice.
func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	var err error
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		name := i.ApplicationCommandData().Name
		handler, ok := commandHandlers[name]
		if !ok {
			logger.Warn("Unknown command", zap.String("command", name))
			return
		}
		err = handler(b, s, i)
		if err != nil {
			logger.Error("Command failed", zap.String("command", name), zap.Error(err))
		}
	case discordgo.InteractionMessageComponent:
		customID := i.MessageComponentData().CustomID
		err = b.handleComponent(s, i, customID)
		if err != nil {
			logger.Error("Component interaction failed",
				zap.String("custom_id", customID),
				zap.Error(err))
		}
	default:
		return
	}

	if err != nil {
		// Best effort; the interaction may already be answered.
		_ = respondEphemeral(s, i, "❌ An unexpected error occurred. Please contact admin.")
	}
}
