// Package selection tracks which rendered blocks a clinician wants to keep.
package selection

import (
	"sort"
	"sync"
)

// Set is a set of block ids.
type Set map[string]struct{}

// NewSet builds a set from ids.
func NewSet(ids ...string) Set {
	s := make(Set, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Contains reports whether id is in the set.
func (s Set) Contains(id string) bool {
	_, ok := s[id]
	return ok
}

// Sorted returns the ids in lexical order, for stable serialization.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Tracker holds the selection for one payload. Blocks default to selected so
// a clinician never loses content by omission. Ids that were not rendered
// from the current payload can never enter the selection.
type Tracker struct {
	mu       sync.RWMutex
	known    []string
	knownSet Set
	selected Set
}

// NewTracker returns a tracker for the given rendered block ids with every
// block selected.
func NewTracker(ids []string) *Tracker {
	t := &Tracker{
		known:    append([]string(nil), ids...),
		knownSet: NewSet(ids...),
	}
	t.selected = NewSet(ids...)
	return t
}

// Restore returns a tracker for ids whose selection is taken from saved,
// ignoring any saved id that is not among ids.
func Restore(ids []string, saved []string) *Tracker {
	t := NewTracker(ids)
	t.selected = make(Set, len(saved))
	for _, id := range saved {
		if t.knownSet.Contains(id) {
			t.selected[id] = struct{}{}
		}
	}
	return t
}

// Toggle marks id as included or excluded. It reports false and changes
// nothing when id is not a block of the current payload.
func (t *Tracker) Toggle(id string, included bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.knownSet.Contains(id) {
		return false
	}
	if included {
		t.selected[id] = struct{}{}
	} else {
		delete(t.selected, id)
	}
	return true
}

// SelectAll selects every id in ids that belongs to the current payload.
func (t *Tracker) SelectAll(ids []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, id := range ids {
		if t.knownSet.Contains(id) {
			t.selected[id] = struct{}{}
		}
	}
}

// DeselectAll clears the selection.
func (t *Tracker) DeselectAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.selected = Set{}
}

// Current returns a copy of the selection.
func (t *Tracker) Current() Set {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(Set, len(t.selected))
	for id := range t.selected {
		out[id] = struct{}{}
	}
	return out
}

// Ordered returns the selected ids in render order.
func (t *Tracker) Ordered() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.selected))
	for _, id := range t.known {
		if t.selected.Contains(id) {
			out = append(out, id)
		}
	}
	return out
}

// Known returns the block ids of the current payload in render order.
func (t *Tracker) Known() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return append([]string(nil), t.known...)
}

// Len returns the number of selected blocks.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return len(t.selected)
}
