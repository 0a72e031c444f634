package claim

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Accepted grammar: magnitude plus one unit, e.g. "10s", "30m", "2h", "1d".
var durationPattern = regexp.MustCompile(`^(\d+)\s*([smhd])$`)

var unitMultipliers = map[string]time.Duration{
	"s": time.Second,
	"m": time.Minute,
	"h": time.Hour,
	"d": 24 * time.Hour,
}

// ParseDuration converts a claim-window duration string into a duration.
// Unparseable or non-positive input returns ErrInvalidDuration; there is no
// silent default.
func ParseDuration(text string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.ToLower(strings.TrimSpace(text)))
	if m == nil {
		return 0, ErrInvalidDuration
	}

	n, err := strconv.Atoi(m[1])
	if err != nil || n <= 0 {
		return 0, ErrInvalidDuration
	}

	return time.Duration(n) * unitMultipliers[m[2]], nil
}
