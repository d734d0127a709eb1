package monitor

import "sync"

type entry struct {
	bytes  int64
	pinned bool
}

// Tracker keeps a registry of live tensors. Pinned entries belong to the
// model weights currently held by the client and survive Cleanup.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]entry
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]entry),
	}
}

func (t *Tracker) Track(id string, bytes int64, pinned bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.entries[id] = entry{bytes: bytes, pinned: pinned}
}

// Release drops id and reports whether it was tracked.
func (t *Tracker) Release(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.entries[id]; !ok {
		return false
	}
	delete(t.entries, id)

	return true
}

func (t *Tracker) Pinned(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.entries[id].pinned
}

func (t *Tracker) Counts() (count, pinned int, bytes int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.entries {
		count++
		bytes += e.bytes
		if e.pinned {
			pinned++
		}
	}

	return count, pinned, bytes
}

func (t *Tracker) releaseUnpinned() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	released := 0
	for id, e := range t.entries {
		if e.pinned {
			continue
		}
		delete(t.entries, id)
		released++
	}

	return released
}
