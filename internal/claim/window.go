package claim

import (
	"errors"
	"fmt"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nantokaworks/guild-gatekeeper/internal/shared/logger"
	"go.uber.org/zap"
)

var (
	// ErrInvalidDuration means the duration text did not parse.
	ErrInvalidDuration = errors.New("invalid duration")

	// ErrUnauthorized means the invoking principal may not launch a claim.
	ErrUnauthorized = errors.New("not authorized to launch claim")

	// ErrAlreadyClaimed means this window's single claim is spent.
	ErrAlreadyClaimed = errors.New("bonus already claimed")

	// ErrWindowClosed means the window expired or never existed. Windows are
	// not reconstructed after a restart, so an unknown id lands here too.
	ErrWindowClosed = errors.New("claim window closed")
)

// Window is one posted claim control. It lives only in process memory.
type Window struct {
	ID        string
	GuildID   string
	ChannelID string
	MessageID string
	Deadline  time.Time
	Claimed   bool
}

// Manager tracks open claim windows and expires them on a wall-clock
// deadline. onExpire runs outside the manager lock with a snapshot of the
// window so the shell can disable and clean up the posted control.
type Manager struct {
	mu       sync.Mutex
	windows  map[string]*Window
	onExpire func(Window)
}

// NewManager creates a window manager. onExpire may be nil.
func NewManager(onExpire func(Window)) *Manager {
	return &Manager{
		windows:  map[string]*Window{},
		onExpire: onExpire,
	}
}

// Open creates a window with the given lifetime and schedules its expiry.
func (m *Manager) Open(guildID string, ttl time.Duration) (Window, error) {
	id, err := gonanoid.New()
	if err != nil {
		return Window{}, fmt.Errorf("failed to generate window id: %w", err)
	}

	w := &Window{
		ID:       id,
		GuildID:  guildID,
		Deadline: time.Now().Add(ttl),
	}

	m.mu.Lock()
	m.windows[id] = w
	m.mu.Unlock()

	time.AfterFunc(ttl, func() {
		m.expire(id)
	})

	logger.Info("Claim window opened",
		zap.String("window_id", id),
		zap.String("guild_id", guildID),
		zap.Duration("ttl", ttl))

	return *w, nil
}

// BindMessage records the posted control's message reference.
func (m *Manager) BindMessage(id, channelID, messageID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.windows[id]; ok {
		w.ChannelID = channelID
		w.MessageID = messageID
	}
}

// Claim attempts the single successful claim transition. The claimed flag is
// set before the caller schedules any durable write, so a second press is
// rejected regardless of store latency.
func (m *Manager) Claim(id string) (Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[id]
	if !ok {
		return Window{}, ErrWindowClosed
	}
	if time.Now().After(w.Deadline) {
		// Timer has not fired yet but the deadline passed.
		return *w, ErrWindowClosed
	}
	if w.Claimed {
		return *w, ErrAlreadyClaimed
	}

	w.Claimed = true
	return *w, nil
}

func (m *Manager) expire(id string) {
	m.mu.Lock()
	w, ok := m.windows[id]
	if ok {
		delete(m.windows, id)
	}
	m.mu.Unlock()

	if !ok {
		return
	}

	logger.Info("Claim window expired",
		zap.String("window_id", id),
		zap.String("guild_id", w.GuildID),
		zap.Bool("claimed", w.Claimed))

	if m.onExpire != nil {
		m.onExpire(*w)
	}
}

// CanLaunch reports whether a principal may launch a claim window: an
// administrator always may, otherwise one held role must be in the guild's
// authorized set.
func CanLaunch(isAdmin bool, memberRoleIDs, authorizedRoleIDs []string) bool {
	if isAdmin {
		return true
	}
	authorized := make(map[string]struct{}, len(authorizedRoleIDs))
	for _, id := range authorizedRoleIDs {
		authorized[id] = struct{}{}
	}
	for _, id := range memberRoleIDs {
		if _, ok := authorized[id]; ok {
			return true
		}
	}
	return false
}
