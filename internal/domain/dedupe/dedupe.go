// Package dedupe tracks identifiers that have already been seen: response
// slots during validation and submission ids at intake.
package dedupe

import (
	"context"
	"sync"
)

// Checker answers membership queries without recording.
type Checker interface {
	Seen(ctx context.Context, id string) bool
}

// Deduper records seen ids so each is processed at most once.
type Deduper interface {
	Checker

	// SeenAndRecord atomically checks whether id was seen and records it if
	// not. It returns true when id was already present.
	SeenAndRecord(ctx context.Context, id string) bool

	// Unrecord forgets id so a failed submission can be retried.
	Unrecord(ctx context.Context, id string)

	Size() int64
}

// inMemoryDeduper keeps ids in a map. In bounded mode a ring of insertion
// order evicts the oldest id once maxSize is reached; unbounded mode never
// evicts and is the only mode safe for duplicate-response detection.
type inMemoryDeduper struct {
	mu      sync.RWMutex
	seen    map[string]int // id -> ring slot, -1 in unbounded mode
	ring    []string
	next    int
	maxSize int
}

// NewInMemoryDeduper creates a deduper. Without options it is unbounded.
func NewInMemoryDeduper(opts ...Option) Deduper {
	d := &inMemoryDeduper{}
	for _, opt := range opts {
		opt(d)
	}
	d.seen = make(map[string]int)
	if d.maxSize > 0 {
		d.ring = make([]string, 0, d.maxSize)
	}
	return d
}

func (d *inMemoryDeduper) Seen(_ context.Context, id string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[id]
	return ok
}

func (d *inMemoryDeduper) SeenAndRecord(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return true
	}
	if d.maxSize <= 0 {
		d.seen[id] = -1
		return false
	}

	if len(d.ring) < d.maxSize {
		d.ring = append(d.ring, id)
		d.seen[id] = len(d.ring) - 1
		return false
	}

	// Ring is full: overwrite the oldest slot.
	slot := d.next
	if old := d.ring[slot]; d.isLive(old, slot) {
		delete(d.seen, old)
	}
	d.ring[slot] = id
	d.seen[id] = slot
	d.next = (slot + 1) % d.maxSize
	return false
}

// isLive reports whether slot still owns old; an unrecorded or re-recorded
// id no longer does.
func (d *inMemoryDeduper) isLive(old string, slot int) bool {
	s, ok := d.seen[old]
	return ok && s == slot
}

func (d *inMemoryDeduper) Unrecord(_ context.Context, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// The ring slot stays in place so eviction order is preserved.
	delete(d.seen, id)
}

func (d *inMemoryDeduper) Size() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return int64(len(d.seen))
}
