package claim

import (
	"errors"
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"10s", 10 * time.Second},
		{"10m", 10 * time.Minute},
		{"1h", time.Hour},
		{"2d", 48 * time.Hour},
		{" 5 m ", 5 * time.Minute},
		{"10M", 10 * time.Minute},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if err != nil {
			t.Fatalf("ParseDuration(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("ParseDuration(%q): got=%v want=%v", tc.in, got, tc.want)
		}
	}
}

func TestParseDurationRejectsGarbage(t *testing.T) {
	for _, in := range []string{"", "abc", "10", "m", "10w", "-5m", "0s"} {
		if _, err := ParseDuration(in); !errors.Is(err, ErrInvalidDuration) {
			t.Fatalf("ParseDuration(%q): expected ErrInvalidDuration, got %v", in, err)
		}
	}
}
