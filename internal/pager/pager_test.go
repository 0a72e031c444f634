package pager

import (
	"fmt"
	"testing"
	"time"

	"github.com/nantokaworks/guild-gatekeeper/internal/datacache"
)

func makeRecords(n int) []datacache.GrantRecord {
	records := make([]datacache.GrantRecord, n)
	for i := range records {
		records[i] = datacache.GrantRecord{
			UID:      fmt.Sprintf("uid-%d", i),
			Username: fmt.Sprintf("user-%d", i),
		}
	}
	return records
}

func TestCursorPaging(t *testing.T) {
	cur := NewCursor(makeRecords(25))

	if got := cur.Count(); got != 25 {
		t.Fatalf("count: got=%d want=25", got)
	}
	if got := cur.TotalPages(); got != 3 {
		t.Fatalf("total pages: got=%d want=3", got)
	}

	page := cur.Page()
	if len(page) != PageSize || page[0].UID != "uid-0" {
		t.Fatalf("first page wrong: len=%d first=%q", len(page), page[0].UID)
	}

	if !cur.Next() {
		t.Fatalf("Next from page 0 must move")
	}
	if !cur.Next() {
		t.Fatalf("Next from page 1 must move")
	}

	// Last page holds the remainder.
	page = cur.Page()
	if len(page) != 5 || page[0].UID != "uid-20" {
		t.Fatalf("last page wrong: len=%d first=%q", len(page), page[0].UID)
	}

	if cur.Next() {
		t.Fatalf("Next past the last page must clamp")
	}
	if got := cur.PageIndex(); got != 2 {
		t.Fatalf("page index after clamp: got=%d want=2", got)
	}
}

func TestCursorPrevClampsAtZero(t *testing.T) {
	cur := NewCursor(makeRecords(5))

	if cur.Prev() {
		t.Fatalf("Prev on page 0 must clamp")
	}
	if got := cur.PageIndex(); got != 0 {
		t.Fatalf("page index: got=%d want=0", got)
	}
}

func TestCursorEmptySnapshot(t *testing.T) {
	cur := NewCursor(nil)

	if got := cur.TotalPages(); got != 1 {
		t.Fatalf("total pages of empty snapshot: got=%d want=1", got)
	}
	if got := cur.Page(); got != nil {
		t.Fatalf("page of empty snapshot: got=%v want=nil", got)
	}
	if cur.Next() || cur.Prev() {
		t.Fatalf("navigation on empty snapshot must clamp")
	}
}

func TestManagerDropsIdleCursor(t *testing.T) {
	m := NewManager(20 * time.Millisecond)

	id, _, err := m.Open(makeRecords(3))
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}

	if _, ok := m.Get(id); !ok {
		t.Fatalf("cursor must be live right after open")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := m.Get(id); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("cursor never expired")
		}
		time.Sleep(30 * time.Millisecond)
	}
}

func TestCursorSnapshotIsolation(t *testing.T) {
	records := makeRecords(3)
	cur := NewCursor(records)

	// Mutating the caller's slice must not reach the cursor.
	records[0].UID = "mutated"

	page := cur.Page()
	if page[0].UID != "uid-0" {
		t.Fatalf("snapshot not isolated: got=%q", page[0].UID)
	}
}
