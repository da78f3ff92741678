// Package index tracks the metadata of cached blobs and their total size.
//
// The Index is the single source of truth for how many bytes the cache
// occupies. Every mutation adjusts the running total by exactly the size
// delta it introduces, under one mutex, so the total always equals the sum
// of entry sizes once a call returns.
package index

import (
	"cmp"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/meigma/diskcache/internal/cacheerr"
)

// Entry is the metadata for one stored blob.
type Entry struct {
	ID         string    // file identifier, see keycodec
	Key        string    // caller key; empty for entries loaded from disk
	Size       int64     // bytes on disk
	LastAccess time.Time // recency stamp, strictly increasing across calls
}

// Index maps file identifiers to entries. It is safe for concurrent use.
type Index struct {
	mu      sync.Mutex
	entries map[string]*Entry
	total   int64
	last    time.Time
	now     func() time.Time
}

// New creates an empty index stamping entries with now.
// A nil now uses time.Now.
func New(now func() time.Time) *Index {
	if now == nil {
		now = time.Now
	}
	return &Index{
		entries: make(map[string]*Entry),
		now:     now,
	}
}

// Load adds scanned entries, keeping their LastAccess as found on disk.
// Entries already present are replaced.
func (x *Index) Load(entries []Entry) {
	x.mu.Lock()
	defer x.mu.Unlock()

	for i := range entries {
		e := entries[i]
		if old, ok := x.entries[e.ID]; ok {
			x.total -= old.Size
		}
		x.entries[e.ID] = &e
		x.total += e.Size
		if e.LastAccess.After(x.last) {
			x.last = e.LastAccess
		}
	}
}

// Lookup returns the entry for id.
func (x *Index) Lookup(id string) (Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Upsert inserts or replaces the entry for id and stamps it as just used.
// It returns the stored entry and the change in total size.
func (x *Index) Upsert(id, key string, size int64) (Entry, int64) {
	x.mu.Lock()
	defer x.mu.Unlock()

	delta := size
	e, ok := x.entries[id]
	if ok {
		delta -= e.Size
	} else {
		e = &Entry{ID: id}
		x.entries[id] = e
	}
	if key != "" {
		e.Key = key
	}
	e.Size = size
	e.LastAccess = x.stampLocked()
	x.total += delta
	return *e, delta
}

// Remove deletes the entry for id and returns it.
func (x *Index) Remove(id string) (Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return Entry{}, false
	}
	x.removeLocked(e)
	return *e, true
}

// RemoveIf deletes the entry for id only if it was last accessed at stamp.
// It reports false if the entry is absent or was used since.
func (x *Index) RemoveIf(id string, stamp time.Time) (Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok || !e.LastAccess.Equal(stamp) {
		return Entry{}, false
	}
	x.removeLocked(e)
	return *e, true
}

// Touch marks id as just used without changing its size.
// The key is recorded if the entry does not know it yet.
func (x *Index) Touch(id, key string) (Entry, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()

	e, ok := x.entries[id]
	if !ok {
		return Entry{}, false
	}
	if e.Key == "" {
		e.Key = key
	}
	e.LastAccess = x.stampLocked()
	return *e, true
}

// Snapshot returns all entries ordered least recently used first.
// Entries with equal stamps are ordered by ID.
func (x *Index) Snapshot() []Entry {
	x.mu.Lock()
	out := make([]Entry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, *e)
	}
	x.mu.Unlock()

	slices.SortFunc(out, func(a, b Entry) int {
		if c := a.LastAccess.Compare(b.LastAccess); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// TotalSize returns the sum of all entry sizes.
func (x *Index) TotalSize() int64 {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.total
}

// Len returns the number of entries.
func (x *Index) Len() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.entries)
}

// Verify recomputes the total from the entries and compares it with the
// running total.
func (x *Index) Verify() error {
	x.mu.Lock()
	defer x.mu.Unlock()

	var sum int64
	for id, e := range x.entries {
		if e.Size < 0 {
			return fmt.Errorf("%w: entry %s has negative size %d", cacheerr.ErrIndexCorruption, id, e.Size)
		}
		if e.ID != id {
			return fmt.Errorf("%w: entry %s stored under %s", cacheerr.ErrIndexCorruption, e.ID, id)
		}
		sum += e.Size
	}
	if sum != x.total {
		return fmt.Errorf("%w: total %d, entries sum to %d", cacheerr.ErrIndexCorruption, x.total, sum)
	}
	return nil
}

func (x *Index) removeLocked(e *Entry) {
	delete(x.entries, e.ID)
	x.total -= e.Size
}

// stampLocked returns a stamp strictly after every stamp handed out so far.
func (x *Index) stampLocked() time.Time {
	t := x.now()
	if !t.After(x.last) {
		t = x.last.Add(time.Nanosecond)
	}
	x.last = t
	return t
}
