package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/loquat/loquat/pkg/pipeline"
)

func TestGetUnknownChannelErrors(t *testing.T) {
	m := New()
	_, err := m.Get(pipeline.ChannelType{Kind: pipeline.ChannelKindChannel, ID: "general"})
	if err == nil {
		t.Fatalf("expected ErrUnknownChannel")
	}
}

func TestGetOrCreateAutoCreatesByDefault(t *testing.T) {
	m := New()
	key := pipeline.ChannelType{Kind: pipeline.ChannelKindChannel, ID: "general"}

	ch, err := m.GetOrCreate(key)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if ch.Key != key {
		t.Fatalf("expected channel keyed %v, got %v", key, ch.Key)
	}
	if m.Count() != 1 {
		t.Fatalf("expected 1 live channel, got %d", m.Count())
	}

	again, err := m.Get(key)
	if err != nil {
		t.Fatalf("Get after creation: %v", err)
	}
	if again != ch {
		t.Fatalf("expected Get to return the same Channel instance")
	}
}

func TestGetOrCreateDisabledAutoCreate(t *testing.T) {
	m := New(WithAutoCreate(false))
	_, err := m.GetOrCreate(pipeline.ChannelType{Kind: pipeline.ChannelKindGroup, ID: "standup"})
	if err == nil {
		t.Fatalf("expected ErrUnknownChannel when auto-creation is disabled")
	}
}

// TestGetOrCreateCollapsesConcurrentCreation exercises the "at most one
// Channel exists for a given key" invariant: many goroutines racing
// GetOrCreate for the same key must all observe the identical instance.
func TestGetOrCreateCollapsesConcurrentCreation(t *testing.T) {
	m := New()
	key := pipeline.ChannelType{Kind: pipeline.ChannelKindChannel, ID: "race"}

	const n = 200
	results := make([]*Channel, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			ch, err := m.GetOrCreate(key)
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = ch
		}()
	}
	wg.Wait()

	first := results[0]
	for i, ch := range results {
		if ch != first {
			t.Fatalf("goroutine %d observed a different Channel instance; singleflight did not collapse creation", i)
		}
	}
	if m.Count() != 1 {
		t.Fatalf("expected exactly 1 live channel after the race, got %d", m.Count())
	}
}

func TestScratchHandleReadWrite(t *testing.T) {
	m := New()
	ch, err := m.GetOrCreate(pipeline.ChannelType{Kind: pipeline.ChannelKindPrivate, ID: "alice"})
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	handle := ch.Scratch()
	if _, ok := handle.Get("missing"); ok {
		t.Fatalf("expected no value for an unset key")
	}
	handle.Set("count", 1)
	v, ok := handle.Get("count")
	if !ok || v.(int) != 1 {
		t.Fatalf("expected stored value 1, got %v (ok=%v)", v, ok)
	}
}

// TestSweepEvictsOnlyIdleChannels verifies that idle-eviction respects
// LastAccess: a channel touched after creation survives a sweep whose
// cutoff would otherwise have dropped it.
func TestSweepEvictsOnlyIdleChannels(t *testing.T) {
	clock := time.Now()
	m := New(
		WithIdleTTL(time.Minute),
		WithEvictionInterval(time.Hour),
		WithClock(func() time.Time { return clock }),
	)

	stale := pipeline.ChannelType{Kind: pipeline.ChannelKindChannel, ID: "stale"}
	fresh := pipeline.ChannelType{Kind: pipeline.ChannelKindChannel, ID: "fresh"}

	if _, err := m.GetOrCreate(stale); err != nil {
		t.Fatalf("GetOrCreate(stale): %v", err)
	}
	if _, err := m.GetOrCreate(fresh); err != nil {
		t.Fatalf("GetOrCreate(fresh): %v", err)
	}

	// Advance the clock past idleTTL, then touch "fresh" so it survives.
	clock = clock.Add(2 * time.Minute)
	if _, err := m.Get(fresh); err != nil {
		t.Fatalf("Get(fresh): %v", err)
	}

	m.sweep()

	if _, err := m.Get(stale); err == nil {
		t.Fatalf("expected the idle channel to be evicted")
	}
	if _, err := m.Get(fresh); err != nil {
		t.Fatalf("expected the recently touched channel to survive, got %v", err)
	}
}
