// Package hotreload implements the mtime-polled, retried,
// history-recorded reinitialization loop shared by the Plugin and
// Adapter managers.
package hotreload

import (
	"container/list"
	"sync"
	"time"
)

// DefaultTrackerCapacity is the default bound on how many components
// the mtime tracker remembers before evicting the least-recently
// touched entry.
const DefaultTrackerCapacity = 1000

type trackerEntry struct {
	componentID string
	mtime       time.Time
}

// Tracker is an LRU-bounded map from component ID to the last mtime
// observed for it. Touch both records a new mtime and marks the
// component as most-recently-used; once the tracker holds Capacity
// entries, the next Touch for a new component evicts the
// least-recently-touched one.
type Tracker struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently touched
	index    map[string]*list.Element
}

func NewTracker(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = DefaultTrackerCapacity
	}
	return &Tracker{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Touch records mtime for componentID and returns the previously
// observed mtime and whether one existed.
func (t *Tracker) Touch(componentID string, mtime time.Time) (previous time.Time, hadPrevious bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.index[componentID]; ok {
		entry := el.Value.(*trackerEntry)
		previous, hadPrevious = entry.mtime, true
		entry.mtime = mtime
		t.order.MoveToFront(el)
		return previous, hadPrevious
	}

	if t.order.Len() >= t.capacity {
		t.evictOldest()
	}

	el := t.order.PushFront(&trackerEntry{componentID: componentID, mtime: mtime})
	t.index[componentID] = el
	return time.Time{}, false
}

func (t *Tracker) evictOldest() {
	oldest := t.order.Back()
	if oldest == nil {
		return
	}
	entry := oldest.Value.(*trackerEntry)
	delete(t.index, entry.componentID)
	t.order.Remove(oldest)
}

// Changed reports whether mtime is newer than the last one recorded
// for componentID (or true if componentID has never been touched).
func (t *Tracker) Changed(componentID string, mtime time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.index[componentID]
	if !ok {
		return true
	}
	return mtime.After(el.Value.(*trackerEntry).mtime)
}

// Len reports how many components the tracker currently holds.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.order.Len()
}
