package grant

import (
	"errors"
	"fmt"
	"time"

	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"go.uber.org/zap"
)

var (
	// ErrNotEligible means the acting member is not on the roster.
	ErrNotEligible = errors.New("member not eligible")

	// ErrGuildNotConfigured means setup has never run for the guild.
	ErrGuildNotConfigured = errors.New("guild not configured")

	// ErrConfigInvalid means the configured role no longer resolves in the
	// guild (deleted out of band, or the stored id is garbage).
	ErrConfigInvalid = errors.New("configured role invalid")
)

// RoleService is the platform boundary the workflow needs: resolve a role,
// read membership, apply the grant. Implemented by the Discord shell and by
// test fakes.
type RoleService interface {
	RoleExists(guildID, roleID string) bool
	MemberHasRole(guildID, userID, roleID string) (bool, error)
	GrantRole(guildID, userID, roleID string) error
}

// Result is the terminal outcome of a successful (or already-granted) run.
type Result struct {
	RoleID         string
	AlreadyGranted bool
	AssetURL       string
}

// Workflow validates eligibility, resolves the configured role, applies the
// grant idempotently and schedules the durable history write.
type Workflow struct {
	Cache *datacache.Cache
	Roles RoleService
}

// Run executes the grant workflow for one member. Validation failures return
// one of the sentinel errors above; a failed grant call returns the wrapped
// platform error and appends no history. The history write is scheduled in
// the background and never affects the returned result.
func (w *Workflow) Run(guildID, userID, username string) (*Result, error) {
	if !w.Cache.Eligible(userID) {
		return nil, ErrNotEligible
	}

	cfg, ok := w.Cache.GuildConfig(guildID)
	if !ok || cfg.RoleID == "" {
		return nil, ErrGuildNotConfigured
	}

	if !w.Roles.RoleExists(guildID, cfg.RoleID) {
		return nil, ErrConfigInvalid
	}

	has, err := w.Roles.MemberHasRole(guildID, userID, cfg.RoleID)
	if err != nil {
		return nil, fmt.Errorf("failed to read member roles: %w", err)
	}

	result := &Result{RoleID: cfg.RoleID}
	if url, ok := w.Cache.AssetURL(userID); ok {
		result.AssetURL = url
	}

	if has {
		// No duplicate grant, no duplicate history row.
		result.AlreadyGranted = true
		return result, nil
	}

	if err := w.Roles.GrantRole(guildID, userID, cfg.RoleID); err != nil {
		return nil, fmt.Errorf("failed to grant role: %w", err)
	}

	logger.Info("Role granted",
		zap.String("guild_id", guildID),
		zap.String("uid", userID),
		zap.String("role_id", cfg.RoleID))

	w.Cache.AppendGrant(guildID, datacache.GrantRecord{
		UID:       userID,
		Username:  username,
		GrantedAt: time.Now().UTC(),
	})

	return result, nil
}
