package datacache

import (
	"regexp"
	"strings"
	"time"
)

// Logical table names in the backing store.
const (
	RosterTable      = "UID_List"
	GuildConfigTable = "guild_config"
	HistoryTable     = "granted_history"
	ClaimLedgerTable = "Bonus_Log"
)

var (
	rosterHeader      = []string{"UID", "IMGURL"}
	guildConfigHeader = []string{"guild_id", "server_name", "channel_id", "role_id", "message_id", "bonus_role_ids"}
	historyHeader     = []string{"guild_id", "uid", "username", "time"}
	claimLedgerHeader = []string{"guild_id", "username", "uid", "timestamp"}
)

// grantTimeLayout is the human-readable form written to the store.
const grantTimeLayout = "2006-01-02 15:04:05 UTC"

// Role IDs pasted into the config sheet arrive with arbitrary separators;
// anything that looks like a snowflake is accepted.
var roleIDPattern = regexp.MustCompile(`\d{17,20}`)

func trim(s string) string {
	return strings.TrimSpace(s)
}

func parseRoleIDs(raw string) []string {
	ids := roleIDPattern.FindAllString(raw, -1)
	if ids == nil {
		return []string{}
	}
	return ids
}

func joinRoleIDs(ids []string) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			parts = append(parts, id)
		}
	}
	return strings.Join(parts, ",")
}

// markUID prefixes purely numeric identifiers with an apostrophe so the
// backing store does not coerce them to numbers and mangle the digits.
func markUID(uid string) string {
	if isDigits(uid) && !strings.HasPrefix(uid, "'") {
		return "'" + uid
	}
	return uid
}

func unmarkUID(uid string) string {
	return strings.TrimPrefix(uid, "'")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func formatGrantTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(grantTimeLayout)
}

// parseGrantTime accepts the store layout and ISO 8601 variants found in
// older rows.
func parseGrantTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{grantTimeLayout, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
