package engine

import (
	"sync/atomic"

	"github.com/deckvoice/deckvoice/internal/domain"
)

// publishedSnapshot pairs a snapshot with the activation generation that
// produced it.
type publishedSnapshot struct {
	snap domain.PositionSnapshot
	gen  uint64
}

// StateCache is the single-slot, swap-on-write store for the current position.
// The current worker loop is the only writer; any goroutine may read. A
// published snapshot is never mutated, so readers cannot observe a
// half-updated value and never block the writer or each other.
type StateCache struct {
	ptr atomic.Pointer[publishedSnapshot]
}

func NewStateCache() *StateCache {
	c := &StateCache{}
	c.ptr.Store(&publishedSnapshot{})
	return c
}

// Snapshot returns the latest published snapshot by value.
func (c *StateCache) Snapshot() domain.PositionSnapshot {
	return c.ptr.Load().snap
}

// publish replaces the snapshot as one indivisible swap and reports whether
// the write was accepted. A write from a superseded generation is rejected:
// a worker abandoned at the deactivation deadline may wake from its stuck
// automation call long after a new activation owns the cache, and its result
// must never become visible.
func (c *StateCache) publish(s domain.PositionSnapshot, gen uint64) bool {
	next := &publishedSnapshot{snap: s, gen: gen}
	for {
		cur := c.ptr.Load()
		if cur.gen > gen {
			return false
		}
		if c.ptr.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Reset restores the empty "no document" snapshot and advances the cache to
// gen, cutting off writers of earlier generations.
func (c *StateCache) Reset(gen uint64) {
	c.ptr.Store(&publishedSnapshot{gen: gen})
}
