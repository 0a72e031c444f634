package claim

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestClaimSucceedsExactlyOnce(t *testing.T) {
	m := NewManager(nil)
	w, err := m.Open("g1", time.Hour)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	const presses = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, rejections := 0, 0

	for n := 0; n < presses; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Claim(w.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyClaimed):
				rejections++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("successes: got=%d want=1", successes)
	}
	if rejections != presses-1 {
		t.Fatalf("rejections: got=%d want=%d", rejections, presses-1)
	}
}

func TestClaimAfterDeadlineRejected(t *testing.T) {
	expired := make(chan Window, 1)
	m := NewManager(func(w Window) { expired <- w })

	w, err := m.Open("g1", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	select {
	case got := <-expired:
		if got.Claimed {
			t.Fatalf("unclaimed window reported as claimed")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expiry callback never fired")
	}

	if _, err := m.Claim(w.ID); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestClaimUnknownWindowRejected(t *testing.T) {
	m := NewManager(nil)
	if _, err := m.Claim("never-existed"); !errors.Is(err, ErrWindowClosed) {
		t.Fatalf("expected ErrWindowClosed, got %v", err)
	}
}

func TestExpiryCarriesClaimedFlag(t *testing.T) {
	expired := make(chan Window, 1)
	m := NewManager(func(w Window) { expired <- w })

	w, err := m.Open("g1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if _, err := m.Claim(w.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	select {
	case got := <-expired:
		if !got.Claimed {
			t.Fatalf("claimed window reported as unclaimed on expiry")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expiry callback never fired")
	}
}

func TestBindMessageSurvivesToExpiry(t *testing.T) {
	expired := make(chan Window, 1)
	m := NewManager(func(w Window) { expired <- w })

	w, err := m.Open("g1", 20*time.Millisecond)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	m.BindMessage(w.ID, "c1", "m1")

	select {
	case got := <-expired:
		if got.ChannelID != "c1" || got.MessageID != "m1" {
			t.Fatalf("message reference lost: %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expiry callback never fired")
	}
}

func TestCanLaunch(t *testing.T) {
	if !CanLaunch(true, nil, nil) {
		t.Fatalf("admin must always be allowed")
	}
	if CanLaunch(false, []string{"r1"}, nil) {
		t.Fatalf("no authorized roles configured must deny non-admins")
	}
	if !CanLaunch(false, []string{"r1", "r2"}, []string{"r2"}) {
		t.Fatalf("holder of an authorized role must be allowed")
	}
	if CanLaunch(false, []string{"r1"}, []string{"r2"}) {
		t.Fatalf("holder of no authorized role must be denied")
	}
}
