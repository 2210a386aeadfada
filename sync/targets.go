package sync

import (
	"sort"
	gosync "sync"

	"github.com/maruel/natural"
)

// TargetSet is the ordered set of directory ids swept by the batch
// scheduler. Iteration order is insertion order.
type TargetSet struct {
	mu    gosync.RWMutex
	set   map[string]struct{}
	order []string
}

// NewTargetSet creates a set holding ids (duplicates collapse).
func NewTargetSet(ids ...string) *TargetSet {
	t := &TargetSet{set: make(map[string]struct{})}
	t.Add(ids...)
	return t
}

// Add inserts ids and returns the ones that were not already present.
func (t *TargetSet) Add(ids ...string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var added []string
	for _, id := range ids {
		if _, ok := t.set[id]; ok {
			continue
		}
		t.set[id] = struct{}{}
		t.order = append(t.order, id)
		added = append(added, id)
	}
	return added
}

// Remove deletes ids and returns the ones that were present.
func (t *TargetSet) Remove(ids ...string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []string
	for _, id := range ids {
		if _, ok := t.set[id]; !ok {
			continue
		}
		delete(t.set, id)
		removed = append(removed, id)
	}
	if len(removed) == 0 {
		return nil
	}
	kept := t.order[:0]
	for _, id := range t.order {
		if _, ok := t.set[id]; ok {
			kept = append(kept, id)
		}
	}
	t.order = kept
	return removed
}

// Contains reports whether id is a target.
func (t *TargetSet) Contains(id string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.set[id]
	return ok
}

// Snapshot returns the ids in iteration order.
func (t *TargetSet) Snapshot() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Sorted returns the ids in natural order ("2" before "10"), for display.
func (t *TargetSet) Sorted() []string {
	ids := t.Snapshot()
	sort.Sort(natural.StringSlice(ids))
	return ids
}

// Len returns the number of targets.
func (t *TargetSet) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
