package idpool

import (
	"fmt"
	"sync/atomic"
)

// doubleFreeGuard is a debug-only, lock-free bitmap tracking which IDs in
// [base, base+nIDs) have been freed and not re-allocated since. IDs that
// reach a cache straight from the bump counter are never marked, so a free
// of an ID that was never allocated is not reported. It exists solely to detect
// the double-free case a bare range check cannot catch; the contract to
// callers remains "do not double-free" regardless of whether detection
// is enabled.
type doubleFreeGuard struct {
	base    uint32
	bits    []atomic.Uint64
	handler func(uid, id uint32)
}

func newDoubleFreeGuard(base, nIDs uint32, handler func(uid, id uint32)) *doubleFreeGuard {
	if handler == nil {
		handler = func(uid, id uint32) {
			panic(fmt.Sprintf("idpool: double free of id %d by uid %d", id, uid))
		}
	}

	words := (nIDs + 63) / 64

	return &doubleFreeGuard{
		base:    base,
		bits:    make([]atomic.Uint64, words),
		handler: handler,
	}
}

// markFreed sets the "resident" bit for id. It returns false (and invokes
// the configured handler) if the bit was already set, i.e. id was freed
// without an intervening Alloc.
func (g *doubleFreeGuard) markFreed(uid, id uint32) bool {
	word, bit := g.locate(id)

	for {
		old := g.bits[word].Load()
		if old&bit != 0 {
			g.handler(uid, id)
			return false
		}

		if g.bits[word].CompareAndSwap(old, old|bit) {
			return true
		}
	}
}

// markAllocated clears the "resident" bit for id, as seen by Alloc.
func (g *doubleFreeGuard) markAllocated(id uint32) {
	word, bit := g.locate(id)

	for {
		old := g.bits[word].Load()
		if g.bits[word].CompareAndSwap(old, old&^bit) {
			return
		}
	}
}

func (g *doubleFreeGuard) locate(id uint32) (word int, bit uint64) {
	idx := id - g.base
	return int(idx / 64), 1 << (idx % 64)
}
