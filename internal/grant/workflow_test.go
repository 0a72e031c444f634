package grant

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
	"github.com/nantokaworks/guild-gatekeeper/internal/tablestore"
)

// memStore is an in-memory tablestore.Store for workflow tests. Locked
// because the cache persists history from background goroutines.
type memStore struct {
	mu     sync.Mutex
	tables map[string][]tablestore.Row
}

func newMemStore() *memStore {
	return &memStore{tables: map[string][]tablestore.Row{}}
}

func (m *memStore) GetTable(_ context.Context, name string) ([]tablestore.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.tables[name]
	if !ok {
		return nil, tablestore.ErrTableNotFound
	}
	return rows, nil
}

func (m *memStore) CreateTable(_ context.Context, name string, _, _ int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[name]; !ok {
		m.tables[name] = nil
	}
	return nil
}

func (m *memStore) OverwriteTable(_ context.Context, name string, _ []string, rows []tablestore.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = append([]tablestore.Row(nil), rows...)
	return nil
}

func (m *memStore) AppendRow(_ context.Context, name string, _ []string, row tablestore.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[name] = append(m.tables[name], row)
	return nil
}

// fakeRoles is a scriptable RoleService.
type fakeRoles struct {
	roles      map[string]bool
	membership map[string]bool
	grantErr   error
	grants     int
}

func (f *fakeRoles) RoleExists(_, roleID string) bool { return f.roles[roleID] }

func (f *fakeRoles) MemberHasRole(_, userID, roleID string) (bool, error) {
	return f.membership[userID+"/"+roleID], nil
}

func (f *fakeRoles) GrantRole(_, userID, roleID string) error {
	if f.grantErr != nil {
		return f.grantErr
	}
	f.grants++
	f.membership[userID+"/"+roleID] = true
	return nil
}

func newTestWorkflow(t *testing.T, roles *fakeRoles) *Workflow {
	t.Helper()
	store := newMemStore()
	store.tables[datacache.RosterTable] = []tablestore.Row{
		{"UID": "111", "IMGURL": "https://example.com/111.png"},
		{"UID": "222", "IMGURL": ""},
	}

	cache := datacache.New(store)
	if err := cache.LoadAll(context.Background()); err != nil {
		t.Fatalf("cache load failed: %v", err)
	}
	return &Workflow{Cache: cache, Roles: roles}
}

func configureGuild(t *testing.T, w *Workflow, guildID, roleID string) {
	t.Helper()
	err := w.Cache.SetGuildConfig(context.Background(), guildID, datacache.GuildConfig{RoleID: roleID})
	if err != nil {
		t.Fatalf("set config failed: %v", err)
	}
}

func TestRunRejectsIneligibleMember(t *testing.T) {
	roles := &fakeRoles{roles: map[string]bool{}, membership: map[string]bool{}}
	w := newTestWorkflow(t, roles)
	configureGuild(t, w, "g1", "r1")

	_, err := w.Run("g1", "999", "stranger")
	if !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected ErrNotEligible, got %v", err)
	}
	if roles.grants != 0 {
		t.Fatalf("grant count: got=%d want=0", roles.grants)
	}
}

func TestRunRejectsUnconfiguredGuild(t *testing.T) {
	roles := &fakeRoles{roles: map[string]bool{}, membership: map[string]bool{}}
	w := newTestWorkflow(t, roles)

	_, err := w.Run("g1", "111", "member")
	if !errors.Is(err, ErrGuildNotConfigured) {
		t.Fatalf("expected ErrGuildNotConfigured, got %v", err)
	}

	w.Cache.Flush()
	if got := w.Cache.History("g1"); len(got) != 0 {
		t.Fatalf("history must stay empty on validation failure: %+v", got)
	}
}

func TestRunRejectsVanishedRole(t *testing.T) {
	roles := &fakeRoles{roles: map[string]bool{}, membership: map[string]bool{}}
	w := newTestWorkflow(t, roles)
	configureGuild(t, w, "g1", "r1")

	_, err := w.Run("g1", "111", "member")
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestRunGrantsOnceAndRecordsHistory(t *testing.T) {
	roles := &fakeRoles{roles: map[string]bool{"r1": true}, membership: map[string]bool{}}
	w := newTestWorkflow(t, roles)
	configureGuild(t, w, "g1", "r1")

	result, err := w.Run("g1", "111", "member")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.AlreadyGranted {
		t.Fatalf("first run must not report AlreadyGranted")
	}
	if result.RoleID != "r1" {
		t.Fatalf("role id: got=%q want=%q", result.RoleID, "r1")
	}
	if result.AssetURL != "https://example.com/111.png" {
		t.Fatalf("asset url: got=%q", result.AssetURL)
	}

	// Second press short-circuits without a second grant or history row.
	result, err = w.Run("g1", "111", "member")
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if !result.AlreadyGranted {
		t.Fatalf("second run must report AlreadyGranted")
	}
	if roles.grants != 1 {
		t.Fatalf("grant count: got=%d want=1", roles.grants)
	}

	w.Cache.Flush()
	if got := w.Cache.History("g1"); len(got) != 1 {
		t.Fatalf("history length: got=%d want=1", len(got))
	}
}

func TestRunGrantFailureLeavesNoHistory(t *testing.T) {
	roles := &fakeRoles{
		roles:      map[string]bool{"r1": true},
		membership: map[string]bool{},
		grantErr:   errors.New("missing permissions"),
	}
	w := newTestWorkflow(t, roles)
	configureGuild(t, w, "g1", "r1")

	_, err := w.Run("g1", "111", "member")
	if err == nil {
		t.Fatalf("expected grant failure to surface")
	}

	w.Cache.Flush()
	if got := w.Cache.History("g1"); len(got) != 0 {
		t.Fatalf("history must stay empty after failed grant: %+v", got)
	}
}

func TestRunEligibleWithoutAsset(t *testing.T) {
	roles := &fakeRoles{roles: map[string]bool{"r1": true}, membership: map[string]bool{}}
	w := newTestWorkflow(t, roles)
	configureGuild(t, w, "g1", "r1")

	result, err := w.Run("g1", "222", "member")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.AssetURL != "" {
		t.Fatalf("asset url must be empty: %q", result.AssetURL)
	}
}
