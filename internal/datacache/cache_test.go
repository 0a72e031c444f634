package datacache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nantokaworks/guild-gatekeeper/internal/tablestore"
)

func newTestCache(t *testing.T) (*Cache, *tablestore.SQLiteStore) {
	t.Helper()
	store, err := tablestore.NewSQLiteStore(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func seedRoster(t *testing.T, store *tablestore.SQLiteStore, rows []tablestore.Row) {
	t.Helper()
	if err := store.OverwriteTable(context.Background(), RosterTable, rosterHeader, rows); err != nil {
		t.Fatalf("failed to seed roster: %v", err)
	}
}

func TestLoadRosterStripsMarkerAndSkipsBlank(t *testing.T) {
	cache, store := newTestCache(t)
	seedRoster(t, store, []tablestore.Row{
		{"UID": "'111111111111111111", "IMGURL": "https://example.com/a.png"},
		{"UID": " 222222222222222222 ", "IMGURL": ""},
		{"UID": "", "IMGURL": "https://example.com/orphan.png"},
	})

	if err := cache.LoadRoster(context.Background()); err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if !cache.Eligible("111111111111111111") {
		t.Fatalf("marked uid should be eligible after unmarking")
	}
	if !cache.Eligible("222222222222222222") {
		t.Fatalf("padded uid should be eligible after trimming")
	}
	uids, assets := cache.RosterCounts()
	if uids != 2 || assets != 1 {
		t.Fatalf("counts: got=(%d,%d) want=(2,1)", uids, assets)
	}

	url, ok := cache.AssetURL("111111111111111111")
	if !ok || url != "https://example.com/a.png" {
		t.Fatalf("asset url: got=(%q,%v)", url, ok)
	}
	if _, ok := cache.AssetURL("222222222222222222"); ok {
		t.Fatalf("uid without image must have no asset url")
	}
}

func TestLoadRosterCreatesMissingTable(t *testing.T) {
	cache, store := newTestCache(t)

	if err := cache.LoadRoster(context.Background()); err != nil {
		t.Fatalf("load of missing table failed: %v", err)
	}

	// The table must now exist and be empty.
	rows, err := store.GetTable(context.Background(), RosterTable)
	if err != nil {
		t.Fatalf("roster table was not created: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("row count: got=%d want=0", len(rows))
	}
}

func TestGuildConfigRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	cfg := GuildConfig{
		ServerName:   "Test Guild",
		ChannelID:    "100000000000000001",
		RoleID:       "100000000000000002",
		MessageID:    "100000000000000003",
		BonusRoleIDs: []string{"100000000000000004"},
	}
	if err := cache.SetGuildConfig(ctx, "g1", cfg); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	// Reload from the store; the round trip must preserve everything.
	if err := cache.LoadGuildConfigs(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}

	got, ok := cache.GuildConfig("g1")
	if !ok {
		t.Fatalf("config lost on reload")
	}
	if got.ChannelID != cfg.ChannelID || got.RoleID != cfg.RoleID || got.MessageID != cfg.MessageID {
		t.Fatalf("config mismatch: got=%+v want=%+v", got, cfg)
	}
	if len(got.BonusRoleIDs) != 1 || got.BonusRoleIDs[0] != "100000000000000004" {
		t.Fatalf("bonus roles mismatch: %v", got.BonusRoleIDs)
	}
}

func TestAuthorizedRolesAddRemoveIdempotent(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	roleID := "200000000000000001"

	added, err := cache.AddAuthorizedRole(ctx, "g1", roleID, "Test")
	if err != nil || !added {
		t.Fatalf("first add: got=(%v,%v) want=(true,nil)", added, err)
	}

	added, err = cache.AddAuthorizedRole(ctx, "g1", roleID, "Test")
	if err != nil || added {
		t.Fatalf("duplicate add: got=(%v,%v) want=(false,nil)", added, err)
	}

	cfg, _ := cache.GuildConfig("g1")
	if len(cfg.BonusRoleIDs) != 1 {
		t.Fatalf("role count after duplicate add: got=%d want=1", len(cfg.BonusRoleIDs))
	}

	removed, err := cache.RemoveAuthorizedRole(ctx, "g1", roleID, "Test")
	if err != nil || !removed {
		t.Fatalf("remove: got=(%v,%v) want=(true,nil)", removed, err)
	}

	removed, err = cache.RemoveAuthorizedRole(ctx, "g1", roleID, "Test")
	if err != nil || removed {
		t.Fatalf("second remove: got=(%v,%v) want=(false,nil)", removed, err)
	}
}

func TestAppendGrantPersistsWithMarkedUID(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	granted := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.AppendGrant("g1", GrantRecord{UID: "333333333333333333", Username: "tester", GrantedAt: granted})
	cache.Flush()

	rows, err := store.GetTable(ctx, HistoryTable)
	if err != nil {
		t.Fatalf("history table missing: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("row count: got=%d want=1", len(rows))
	}
	if rows[0]["uid"] != "'333333333333333333" {
		t.Fatalf("stored uid not marked: %q", rows[0]["uid"])
	}

	// Reload and confirm the marker comes back off.
	if err := cache.LoadHistory(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	records := cache.History("g1")
	if len(records) != 1 || records[0].UID != "333333333333333333" {
		t.Fatalf("reloaded history wrong: %+v", records)
	}
	if !records[0].GrantedAt.Equal(granted) {
		t.Fatalf("grant time: got=%v want=%v", records[0].GrantedAt, granted)
	}
}

func TestHistoryDescendingOrdersByTime(t *testing.T) {
	cache, _ := newTestCache(t)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	cache.AppendGrant("g1", GrantRecord{UID: "1", Username: "a", GrantedAt: base})
	cache.AppendGrant("g1", GrantRecord{UID: "2", Username: "b", GrantedAt: base.Add(time.Hour)})
	cache.AppendGrant("g1", GrantRecord{UID: "3", Username: "c", GrantedAt: base.Add(30 * time.Minute)})
	cache.Flush()

	records := cache.HistoryDescending("g1")
	if len(records) != 3 {
		t.Fatalf("record count: got=%d want=3", len(records))
	}
	if records[0].UID != "2" || records[1].UID != "3" || records[2].UID != "1" {
		t.Fatalf("wrong order: %+v", records)
	}
}

func TestResetHistoryKeepsOtherGuilds(t *testing.T) {
	cache, store := newTestCache(t)
	ctx := context.Background()

	now := time.Now().UTC()
	cache.AppendGrant("g1", GrantRecord{UID: "1", Username: "a", GrantedAt: now})
	cache.AppendGrant("g1", GrantRecord{UID: "2", Username: "b", GrantedAt: now})
	cache.AppendGrant("g2", GrantRecord{UID: "3", Username: "c", GrantedAt: now})
	cache.Flush()

	removed, err := cache.ResetHistory(ctx, "g1")
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if removed != 2 {
		t.Fatalf("removed: got=%d want=2", removed)
	}

	if got := cache.History("g1"); len(got) != 0 {
		t.Fatalf("g1 history not cleared: %+v", got)
	}
	if got := cache.History("g2"); len(got) != 1 {
		t.Fatalf("g2 history lost: %+v", got)
	}

	rows, err := store.GetTable(ctx, HistoryTable)
	if err != nil {
		t.Fatalf("history table read failed: %v", err)
	}
	if len(rows) != 1 || trim(rows[0]["guild_id"]) != "g2" {
		t.Fatalf("store rows after reset: %+v", rows)
	}
}

func TestDropGuildRemovesConfigAndHistory(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.SetGuildConfig(ctx, "g1", GuildConfig{RoleID: "100000000000000002"}); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	cache.AppendGrant("g1", GrantRecord{UID: "1", Username: "a", GrantedAt: time.Now().UTC()})
	cache.Flush()

	if err := cache.DropGuild(ctx, "g1"); err != nil {
		t.Fatalf("drop failed: %v", err)
	}

	if _, ok := cache.GuildConfig("g1"); ok {
		t.Fatalf("config survived drop")
	}
	if got := cache.History("g1"); len(got) != 0 {
		t.Fatalf("history survived drop: %+v", got)
	}

	if err := cache.LoadGuildConfigs(ctx); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if _, ok := cache.GuildConfig("g1"); ok {
		t.Fatalf("config survived drop in store")
	}
}

func TestParseRoleIDsAcceptsArbitrarySeparators(t *testing.T) {
	got := parseRoleIDs("100000000000000001, 100000000000000002;100000000000000003 junk")
	if len(got) != 3 {
		t.Fatalf("id count: got=%d want=3", len(got))
	}
	if got := parseRoleIDs("no ids here"); len(got) != 0 {
		t.Fatalf("expected no ids, got %v", got)
	}
}

func TestMarkUID(t *testing.T) {
	if got := markUID("123456789"); got != "'123456789" {
		t.Fatalf("numeric uid: got=%q", got)
	}
	if got := markUID("'123456789"); got != "'123456789" {
		t.Fatalf("already marked uid: got=%q", got)
	}
	if got := markUID("abc123"); got != "abc123" {
		t.Fatalf("non-numeric uid: got=%q", got)
	}
}
