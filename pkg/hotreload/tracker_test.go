package hotreload

import (
	"testing"
	"time"
)

func TestTrackerTouchReportsNoPreviousOnFirstSight(t *testing.T) {
	tr := NewTracker(10)
	_, had := tr.Touch("plugin-a", time.Unix(100, 0))
	if had {
		t.Fatalf("expected no previous mtime on first Touch")
	}
	if tr.Len() != 1 {
		t.Fatalf("expected Len() == 1, got %d", tr.Len())
	}
}

func TestTrackerTouchReportsPreviousOnRepeat(t *testing.T) {
	tr := NewTracker(10)
	first := time.Unix(100, 0)
	second := time.Unix(200, 0)

	tr.Touch("plugin-a", first)
	prev, had := tr.Touch("plugin-a", second)
	if !had {
		t.Fatalf("expected a previous mtime to be reported")
	}
	if !prev.Equal(first) {
		t.Fatalf("expected previous mtime %v, got %v", first, prev)
	}
	if tr.Len() != 1 {
		t.Fatalf("expected a repeat Touch not to grow Len(), got %d", tr.Len())
	}
}

func TestTrackerChanged(t *testing.T) {
	tr := NewTracker(10)
	if !tr.Changed("never-seen", time.Now()) {
		t.Fatalf("expected Changed to be true for a component never touched")
	}

	t0 := time.Unix(100, 0)
	tr.Touch("plugin-a", t0)

	if tr.Changed("plugin-a", t0) {
		t.Fatalf("expected Changed false for an identical mtime")
	}
	if tr.Changed("plugin-a", t0.Add(-time.Second)) {
		t.Fatalf("expected Changed false for an older mtime")
	}
	if !tr.Changed("plugin-a", t0.Add(time.Second)) {
		t.Fatalf("expected Changed true for a newer mtime")
	}
}

// TestTrackerEvictsLeastRecentlyTouched verifies the LRU eviction
// order: once at capacity, the next new component evicts the one
// least recently touched, not necessarily the first inserted.
func TestTrackerEvictsLeastRecentlyTouched(t *testing.T) {
	tr := NewTracker(2)

	tr.Touch("a", time.Unix(1, 0))
	tr.Touch("b", time.Unix(2, 0))

	// Re-touching "a" makes "b" the least recently used.
	tr.Touch("a", time.Unix(3, 0))

	// Inserting "c" should evict "b", not "a".
	tr.Touch("c", time.Unix(4, 0))

	if tr.Len() != 2 {
		t.Fatalf("expected Len() == 2 after eviction, got %d", tr.Len())
	}
	if !tr.Changed("b", time.Unix(5, 0)) {
		t.Fatalf("expected 'b' to have been evicted (Changed reports true for unknown components)")
	}
	if tr.Changed("a", time.Unix(3, 0)) {
		t.Fatalf("expected 'a' to still be tracked with its latest mtime")
	}
	if tr.Changed("c", time.Unix(4, 0)) {
		t.Fatalf("expected 'c' to be tracked with its inserted mtime")
	}
}

func TestHistoryRecordCapsAndReturnsOldestFirst(t *testing.T) {
	h := NewHistory(3)

	for i := 0; i < 5; i++ {
		h.Record(Entry{ComponentID: "plugin-a", Path: "x.so", Success: i%2 == 0})
	}

	entries := h.For("plugin-a")
	if len(entries) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(entries))
	}
	// Entries 0..4 recorded; capped to the last 3 (indices 2,3,4).
	if entries[0].Success != true || entries[1].Success != false || entries[2].Success != true {
		t.Fatalf("unexpected entries after capping: %+v", entries)
	}
}

func TestHistoryForUnknownComponentIsEmpty(t *testing.T) {
	h := NewHistory(10)
	if entries := h.For("missing"); len(entries) != 0 {
		t.Fatalf("expected no entries for an unknown component, got %v", entries)
	}
}
