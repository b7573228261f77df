package core

import (
	"testing"
	"time"
)

func record(label string) ItemExecutionRecord {
	now := time.Now()
	return ItemExecutionRecord{Label: label, StartedAt: now, FinishedAt: now}
}

// TestExecutionHistory_RecentNewestFirst verifies ordering
// Given: A history with three records
// When: Recent is called
// Then: Records come back newest first
func TestExecutionHistory_RecentNewestFirst(t *testing.T) {
	h := newExecutionHistory(10)

	h.Add(record("a"))
	h.Add(record("b"))
	h.Add(record("c"))

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(got))
	}
	for i, want := range []string{"c", "b", "a"} {
		if got[i].Label != want {
			t.Errorf("Recent[%d].Label = %q, want %q", i, got[i].Label, want)
		}
	}
}

// TestExecutionHistory_RingOverwrite verifies capacity behavior
// Given: A history with capacity 3
// When: Five records are added
// Then: Only the newest three remain
func TestExecutionHistory_RingOverwrite(t *testing.T) {
	h := newExecutionHistory(3)

	for _, label := range []string{"a", "b", "c", "d", "e"} {
		h.Add(record(label))
	}

	got := h.Recent(0)
	if len(got) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(got))
	}
	for i, want := range []string{"e", "d", "c"} {
		if got[i].Label != want {
			t.Errorf("Recent[%d].Label = %q, want %q", i, got[i].Label, want)
		}
	}

	last, ok := h.Last()
	if !ok || last.Label != "e" {
		t.Errorf("Last() = %q,%v, want e,true", last.Label, ok)
	}
}

// TestExecutionHistory_Empty verifies the empty case
func TestExecutionHistory_Empty(t *testing.T) {
	h := newExecutionHistory(5)

	if got := h.Recent(3); got != nil {
		t.Errorf("Recent on empty history = %v, want nil", got)
	}
	if _, ok := h.Last(); ok {
		t.Error("Last on empty history reported a record")
	}
}

// TestExecutionHistory_LimitClamping verifies limit handling
func TestExecutionHistory_LimitClamping(t *testing.T) {
	h := newExecutionHistory(10)
	h.Add(record("a"))
	h.Add(record("b"))

	if got := h.Recent(1); len(got) != 1 || got[0].Label != "b" {
		t.Errorf("Recent(1) = %v, want single record b", got)
	}
	if got := h.Recent(99); len(got) != 2 {
		t.Errorf("len(Recent(99)) = %d, want 2", len(got))
	}
}
