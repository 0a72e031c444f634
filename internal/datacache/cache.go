package datacache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"github.com/nantokaworks/guild-gatekeeper/internal/tablestore"
	"go.uber.org/zap"
)

// GuildConfig is one guild's parsed configuration row. ChannelID, RoleID and
// MessageID are either all set by setup or all empty.
type GuildConfig struct {
	ServerName   string
	ChannelID    string
	RoleID       string
	MessageID    string
	BonusRoleIDs []string
}

// GrantRecord is one immutable grant-history entry.
type GrantRecord struct {
	UID       string
	Username  string
	GrantedAt time.Time
}

// Cache owns the in-memory working set and mediates every read and write
// against the backing store. Reads are served from memory; loads replace a
// collection wholesale; writes mutate memory first and persist under a
// per-table lock so two overwrites of the same table never interleave.
type Cache struct {
	store tablestore.Store

	mu      sync.RWMutex
	roster  map[string]struct{}
	assets  map[string]string
	configs map[string]GuildConfig
	history map[string][]GrantRecord

	tableLocks map[string]*sync.Mutex
	writes     sync.WaitGroup
}

// New creates an empty cache over the given store. Nothing is loaded until
// LoadAll or the individual loaders run.
func New(store tablestore.Store) *Cache {
	locks := map[string]*sync.Mutex{}
	for _, name := range []string{RosterTable, GuildConfigTable, HistoryTable, ClaimLedgerTable} {
		locks[name] = &sync.Mutex{}
	}
	return &Cache{
		store:      store,
		roster:     map[string]struct{}{},
		assets:     map[string]string{},
		configs:    map[string]GuildConfig{},
		history:    map[string][]GrantRecord{},
		tableLocks: locks,
	}
}

// LoadAll loads every collection from the backing store.
func (c *Cache) LoadAll(ctx context.Context) error {
	if err := c.LoadRoster(ctx); err != nil {
		return err
	}
	if err := c.LoadGuildConfigs(ctx); err != nil {
		return err
	}
	return c.LoadHistory(ctx)
}

// loadTable reads all rows of a table, creating it on first access.
func (c *Cache) loadTable(ctx context.Context, name string, rowHint, colHint int) ([]tablestore.Row, error) {
	rows, err := c.store.GetTable(ctx, name)
	if errors.Is(err, tablestore.ErrTableNotFound) {
		logger.Info("Table not found, creating", zap.String("table", name))
		if err := c.store.CreateTable(ctx, name, rowHint, colHint); err != nil {
			return nil, fmt.Errorf("failed to create table %q: %w", name, err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load table %q: %w", name, err)
	}
	return rows, nil
}

// LoadRoster rebuilds the eligibility roster and asset map wholesale.
func (c *Cache) LoadRoster(ctx context.Context) error {
	rows, err := c.loadTable(ctx, RosterTable, 1000, 3)
	if err != nil {
		return err
	}

	roster := map[string]struct{}{}
	assets := map[string]string{}
	for _, row := range rows {
		uid := unmarkUID(trim(row["UID"]))
		if uid == "" {
			continue
		}
		roster[uid] = struct{}{}
		if img := trim(row["IMGURL"]); img != "" {
			assets[uid] = img
		}
	}

	c.mu.Lock()
	c.roster, c.assets = roster, assets
	c.mu.Unlock()

	logger.Info("Roster loaded",
		zap.Int("uids", len(roster)),
		zap.Int("assets", len(assets)))
	return nil
}

// LoadGuildConfigs rebuilds the per-guild configuration wholesale.
func (c *Cache) LoadGuildConfigs(ctx context.Context) error {
	rows, err := c.loadTable(ctx, GuildConfigTable, 100, 6)
	if err != nil {
		return err
	}

	configs := map[string]GuildConfig{}
	for _, row := range rows {
		guildID := trim(row["guild_id"])
		if guildID == "" {
			continue
		}
		configs[guildID] = GuildConfig{
			ServerName:   row["server_name"],
			ChannelID:    trim(row["channel_id"]),
			RoleID:       trim(row["role_id"]),
			MessageID:    trim(row["message_id"]),
			BonusRoleIDs: parseRoleIDs(row["bonus_role_ids"]),
		}
	}

	c.mu.Lock()
	c.configs = configs
	c.mu.Unlock()

	logger.Info("Guild configs loaded", zap.Int("guilds", len(configs)))
	return nil
}

// LoadHistory rebuilds the grant history wholesale.
func (c *Cache) LoadHistory(ctx context.Context) error {
	rows, err := c.loadTable(ctx, HistoryTable, 1000, 4)
	if err != nil {
		return err
	}

	history := map[string][]GrantRecord{}
	for _, row := range rows {
		guildID := trim(row["guild_id"])
		if guildID == "" {
			continue
		}
		rec := GrantRecord{
			UID:      unmarkUID(trim(row["uid"])),
			Username: trim(row["username"]),
		}
		if t, ok := parseGrantTime(row["time"]); ok {
			rec.GrantedAt = t
		} else if row["time"] != "" {
			logger.Warn("Unparseable grant time kept as zero",
				zap.String("guild_id", guildID),
				zap.String("time", row["time"]))
		}
		history[guildID] = append(history[guildID], rec)
	}

	c.mu.Lock()
	c.history = history
	c.mu.Unlock()

	logger.Info("Grant history loaded", zap.Int("guilds", len(history)))
	return nil
}

// Eligible reports whether uid is on the roster.
func (c *Cache) Eligible(uid string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.roster[uid]
	return ok
}

// AssetURL returns the display asset for uid, if any.
func (c *Cache) AssetURL(uid string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	url, ok := c.assets[uid]
	return url, ok
}

// RosterCounts returns the roster and asset map sizes.
func (c *Cache) RosterCounts() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.roster), len(c.assets)
}

// GuildConfig returns a copy of the guild's configuration.
func (c *Cache) GuildConfig(guildID string) (GuildConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cfg, ok := c.configs[guildID]
	if !ok {
		return GuildConfig{}, false
	}
	cfg.BonusRoleIDs = append([]string(nil), cfg.BonusRoleIDs...)
	return cfg, true
}

// History returns a copy of the guild's grant records in load order.
func (c *Cache) History(guildID string) []GrantRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]GrantRecord(nil), c.history[guildID]...)
}

// HistoryDescending returns the guild's grant records, most recent first.
func (c *Cache) HistoryDescending(guildID string) []GrantRecord {
	records := c.History(guildID)
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].GrantedAt.After(records[j].GrantedAt)
	})
	return records
}

// SetGuildConfig replaces the guild's configuration in memory and persists
// the whole config table.
func (c *Cache) SetGuildConfig(ctx context.Context, guildID string, cfg GuildConfig) error {
	c.mu.Lock()
	cfg.BonusRoleIDs = append([]string(nil), cfg.BonusRoleIDs...)
	c.configs[guildID] = cfg
	c.mu.Unlock()

	return c.SaveGuildConfigs(ctx)
}

// DropGuild removes a guild's configuration and in-memory history, used when
// the bot leaves a guild. The config table is persisted only if something
// was removed from it.
func (c *Cache) DropGuild(ctx context.Context, guildID string) error {
	c.mu.Lock()
	_, hadConfig := c.configs[guildID]
	delete(c.configs, guildID)
	delete(c.history, guildID)
	c.mu.Unlock()

	if !hadConfig {
		return nil
	}
	return c.SaveGuildConfigs(ctx)
}

// AddAuthorizedRole inserts roleID into the guild's authorized-role set and
// persists the config table. Returns false without persisting when the role
// is already present.
func (c *Cache) AddAuthorizedRole(ctx context.Context, guildID, roleID, serverName string) (bool, error) {
	c.mu.Lock()
	cfg := c.configs[guildID]
	for _, id := range cfg.BonusRoleIDs {
		if id == roleID {
			c.mu.Unlock()
			return false, nil
		}
	}
	cfg.BonusRoleIDs = append(append([]string(nil), cfg.BonusRoleIDs...), roleID)
	if serverName != "" {
		cfg.ServerName = serverName
	}
	c.configs[guildID] = cfg
	c.mu.Unlock()

	return true, c.SaveGuildConfigs(ctx)
}

// RemoveAuthorizedRole removes roleID from the guild's authorized-role set
// and persists the config table. Returns false without persisting when the
// role was not present.
func (c *Cache) RemoveAuthorizedRole(ctx context.Context, guildID, roleID, serverName string) (bool, error) {
	c.mu.Lock()
	cfg, ok := c.configs[guildID]
	if !ok {
		c.mu.Unlock()
		return false, nil
	}
	kept := cfg.BonusRoleIDs[:0:0]
	removed := false
	for _, id := range cfg.BonusRoleIDs {
		if id == roleID {
			removed = true
			continue
		}
		kept = append(kept, id)
	}
	if !removed {
		c.mu.Unlock()
		return false, nil
	}
	cfg.BonusRoleIDs = kept
	if serverName != "" {
		cfg.ServerName = serverName
	}
	c.configs[guildID] = cfg
	c.mu.Unlock()

	return true, c.SaveGuildConfigs(ctx)
}

// AppendGrant records a grant in memory and schedules a durable write of the
// history table. The caller's success path never waits on the store.
func (c *Cache) AppendGrant(guildID string, rec GrantRecord) {
	c.mu.Lock()
	c.history[guildID] = append(c.history[guildID], rec)
	c.mu.Unlock()

	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		if err := c.SaveHistory(context.Background()); err != nil {
			logger.Error("Background history save failed",
				zap.String("guild_id", guildID),
				zap.String("uid", rec.UID),
				zap.Error(err))
		}
	}()
}

// LogClaim schedules a durable append to the claim ledger. At-most-one-claim
// is guaranteed by the claim window's flag, not by this ledger.
func (c *Cache) LogClaim(guildID, username, uid string, ts time.Time) {
	c.writes.Add(1)
	go func() {
		defer c.writes.Done()
		if err := c.appendClaimLedger(context.Background(), guildID, username, uid, ts); err != nil {
			logger.Error("Background claim log failed",
				zap.String("guild_id", guildID),
				zap.String("uid", uid),
				zap.Error(err))
		}
	}()
}

func (c *Cache) appendClaimLedger(ctx context.Context, guildID, username, uid string, ts time.Time) error {
	lock := c.tableLocks[ClaimLedgerTable]
	lock.Lock()
	defer lock.Unlock()

	row := tablestore.Row{
		"guild_id":  guildID,
		"username":  username,
		"uid":       markUID(uid),
		"timestamp": formatGrantTime(ts),
	}

	err := c.store.AppendRow(ctx, ClaimLedgerTable, claimLedgerHeader, row)
	if errors.Is(err, tablestore.ErrTableNotFound) {
		if err := c.store.CreateTable(ctx, ClaimLedgerTable, 1000, 4); err != nil {
			return fmt.Errorf("failed to create claim ledger: %w", err)
		}
		err = c.store.AppendRow(ctx, ClaimLedgerTable, claimLedgerHeader, row)
	}
	if err != nil {
		return fmt.Errorf("failed to append claim log: %w", err)
	}
	return nil
}

// SaveGuildConfigs overwrites the config table from the current memory state.
func (c *Cache) SaveGuildConfigs(ctx context.Context) error {
	lock := c.tableLocks[GuildConfigTable]
	lock.Lock()
	defer lock.Unlock()

	// Snapshot after taking the table lock so this payload reflects any
	// writer that just finished.
	c.mu.RLock()
	rows := make([]tablestore.Row, 0, len(c.configs))
	for guildID, cfg := range c.configs {
		rows = append(rows, tablestore.Row{
			"guild_id":       guildID,
			"server_name":    cfg.ServerName,
			"channel_id":     cfg.ChannelID,
			"role_id":        cfg.RoleID,
			"message_id":     cfg.MessageID,
			"bonus_role_ids": joinRoleIDs(cfg.BonusRoleIDs),
		})
	}
	c.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i]["guild_id"] < rows[j]["guild_id"] })

	if err := c.overwriteTable(ctx, GuildConfigTable, guildConfigHeader, rows, 100, 6); err != nil {
		return err
	}
	logger.Debug("Guild config table saved", zap.Int("guilds", len(rows)))
	return nil
}

// SaveHistory overwrites the history table from the current memory state.
func (c *Cache) SaveHistory(ctx context.Context) error {
	lock := c.tableLocks[HistoryTable]
	lock.Lock()
	defer lock.Unlock()

	c.mu.RLock()
	guildIDs := make([]string, 0, len(c.history))
	for guildID := range c.history {
		guildIDs = append(guildIDs, guildID)
	}
	sort.Strings(guildIDs)

	var rows []tablestore.Row
	for _, guildID := range guildIDs {
		for _, rec := range c.history[guildID] {
			rows = append(rows, tablestore.Row{
				"guild_id": guildID,
				"uid":      markUID(rec.UID),
				"username": rec.Username,
				"time":     formatGrantTime(rec.GrantedAt),
			})
		}
	}
	c.mu.RUnlock()

	if err := c.overwriteTable(ctx, HistoryTable, historyHeader, rows, 1000, 4); err != nil {
		return err
	}
	logger.Debug("History table saved", zap.Int("records", len(rows)))
	return nil
}

// ResetHistory clears the guild's history in memory and removes its rows
// from the history table, keeping other guilds' rows intact. Returns the
// number of rows removed from the store.
func (c *Cache) ResetHistory(ctx context.Context, guildID string) (int, error) {
	c.mu.Lock()
	delete(c.history, guildID)
	c.mu.Unlock()

	lock := c.tableLocks[HistoryTable]
	lock.Lock()
	defer lock.Unlock()

	rows, err := c.store.GetTable(ctx, HistoryTable)
	if errors.Is(err, tablestore.ErrTableNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read history table: %w", err)
	}

	kept := rows[:0:0]
	removed := 0
	for _, row := range rows {
		if trim(row["guild_id"]) == guildID {
			removed++
			continue
		}
		kept = append(kept, row)
	}

	if err := c.store.OverwriteTable(ctx, HistoryTable, historyHeader, kept); err != nil {
		return 0, fmt.Errorf("failed to rewrite history table: %w", err)
	}

	logger.Info("History reset",
		zap.String("guild_id", guildID),
		zap.Int("removed", removed))
	return removed, nil
}

// overwriteTable writes a full table, creating it once if missing. The
// caller must hold the table lock.
func (c *Cache) overwriteTable(ctx context.Context, name string, header []string, rows []tablestore.Row, rowHint, colHint int) error {
	err := c.store.OverwriteTable(ctx, name, header, rows)
	if errors.Is(err, tablestore.ErrTableNotFound) {
		if err := c.store.CreateTable(ctx, name, rowHint, colHint); err != nil {
			return fmt.Errorf("failed to create table %q: %w", name, err)
		}
		err = c.store.OverwriteTable(ctx, name, header, rows)
	}
	if err != nil {
		return fmt.Errorf("failed to save table %q: %w", name, err)
	}
	return nil
}

// Flush waits for all scheduled background writes to finish. Used on
// shutdown; writes are never cancelled once scheduled.
func (c *Cache) Flush() {
	c.writes.Wait()
}
