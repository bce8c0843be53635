// Package idpool implements a dense 32-bit ID allocator and recycler on
// top of package ring. Per-user-thread caches absorb most traffic
// without contention; a mutex-guarded overflow free-list and monotonic
// bump counter back the caches when they empty or overflow; a
// best-effort cross-cache steal protocol avoids deadlock while reducing
// starvation. All operations are non-blocking except the rare refill and
// overflow paths, which briefly hold one mutex.
package idpool

import (
	"sync"
	"sync/atomic"

	"github.com/orizon-lang/ringpool/internal/poolerr"
)

// IdPool hands out and recycles IDs from the half-open range
// [base, base+nIDs). The zero value is not usable; construct one with
// New.
type IdPool struct {
	base, nIDs uint32

	mu      sync.Mutex // guards nextID and freeIDs
	nextID  uint32
	freeIDs []uint32 // FIFO: push-back, pop-front

	caches []*cache

	cursor atomic.Uint32 // steal rotation offset, not correctness-relevant
	shadow *doubleFreeGuard
}

// Option configures optional IdPool behavior at construction time.
type Option func(*IdPool)

// WithDoubleFreeDetection enables a debug-only shadow bitmap that detects
// a free of an ID that was already freed and not re-allocated since.
// It is disabled by default because it adds a CAS per Alloc/Free on the
// hot path. handler is invoked synchronously with the offending (uid,
// id) pair; if handler is nil, a detected double-free panics.
func WithDoubleFreeDetection(handler func(uid, id uint32)) Option {
	return func(p *IdPool) {
		p.shadow = newDoubleFreeGuard(p.base, p.nIDs, handler)
	}
}

// New creates a pool managing nbUser independent caches over the ID range
// [base, base+nIDs). nbUser must be at least 1 and base+nIDs must not
// overflow a 32-bit ID space.
func New(nbUser, base, nIDs uint32, opts ...Option) (*IdPool, error) {
	if nbUser == 0 {
		return nil, poolerr.InvalidUserCount(nbUser)
	}

	if nIDs == 0 {
		return nil, poolerr.EmptyRange()
	}

	if base+nIDs < base {
		return nil, poolerr.RangeOverflow(base, nIDs)
	}

	p := &IdPool{
		base:   base,
		nIDs:   nIDs,
		nextID: base,
		caches: make([]*cache, nbUser),
	}

	for i := range p.caches {
		p.caches[i] = newCache()
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

// Alloc returns an ID owned by no one else, or (0, false) if the pool was
// observed exhausted. uid selects the calling thread's cache via
// uid % nbUser; any identifier the caller consistently uses per thread is
// suitable.
func (p *IdPool) Alloc(uid uint32) (uint32, bool) {
	idx := uid % uint32(len(p.caches))
	c := p.caches[idx]

	var id uint32
	if c.ring.TryDequeue(&id) {
		p.markAllocated(uid, id)
		return id, true
	}

	p.refill(c)

	if c.ring.TryDequeue(&id) {
		p.markAllocated(uid, id)
		return id, true
	}

	if id, ok := p.steal(idx); ok {
		p.markAllocated(uid, id)
		return id, true
	}

	return 0, false
}

// refill drains the overflow free-list and bumps the monotonic counter
// into c, under the pool lock. The free-list is drained first: it reuses
// recently freed IDs and keeps the bump pointer conservative.
func (p *IdPool) refill(c *cache) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.freeIDs) > 0 {
		id := p.freeIDs[0]
		if !c.ring.TryEnqueue(id) {
			break
		}

		p.freeIDs = p.freeIDs[1:]
	}

	for p.nextID < p.base+p.nIDs {
		if !c.ring.TryEnqueue(p.nextID) {
			break
		}

		p.nextID++
	}
}

// steal attempts to pop one ID from each other cache in turn, starting
// from a rotating offset so repeated exhaustion doesn't hot-spot the same
// neighbor. Correctness never depends on the order; fairness across
// caches is not guaranteed.
func (p *IdPool) steal(skip uint32) (uint32, bool) {
	n := uint32(len(p.caches))
	if n <= 1 {
		return 0, false
	}

	start := p.cursor.Add(1) % n

	var id uint32

	for i := uint32(0); i < n; i++ {
		j := (start + i) % n
		if j == skip {
			continue
		}

		if p.caches[j].ring.TryDequeue(&id) {
			return id, true
		}
	}

	return 0, false
}

// Free returns id to the calling thread's cache. IDs outside
// [base, base+nIDs) are silently ignored, defending against stale or
// malformed input; the caller contract remains that every freed ID was
// previously returned by Alloc from this same pool.
func (p *IdPool) Free(uid, id uint32) {
	if id < p.base || id >= p.base+p.nIDs {
		return
	}

	if p.shadow != nil && !p.shadow.markFreed(uid, id) {
		return // double-free detected and reported; do not re-enqueue
	}

	idx := uid % uint32(len(p.caches))
	c := p.caches[idx]

	if c.ring.TryEnqueue(id) {
		return
	}

	p.spillToFreeList(c, id)
}

// spillToFreeList drains c entirely into a temporary buffer, appends id,
// and splices the whole batch into the overflow free-list under the pool
// lock. This only runs when c is observed full on the fast path.
func (p *IdPool) spillToFreeList(c *cache, id uint32) {
	batch := make([]uint32, 0, cacheCapacity+1)

	var drained uint32
	for c.ring.TryDequeue(&drained) {
		batch = append(batch, drained)
	}

	batch = append(batch, id)

	p.mu.Lock()
	p.freeIDs = append(p.freeIDs, batch...)
	p.mu.Unlock()
}

func (p *IdPool) markAllocated(uid, id uint32) {
	if p.shadow != nil {
		p.shadow.markAllocated(id)
	}
}

// Stats is a point-in-time, racy-by-design snapshot of pool occupancy,
// intended for the metrics package. It never participates in the
// alloc/free correctness path.
type Stats struct {
	Base, NIDs  uint32
	NextID      uint32
	FreeListLen int
	CacheLen    []int
}

// Stats returns a snapshot of the pool's current occupancy.
func (p *IdPool) Stats() Stats {
	p.mu.Lock()
	next := p.nextID
	freeLen := len(p.freeIDs)
	p.mu.Unlock()

	cacheLen := make([]int, len(p.caches))
	for i, c := range p.caches {
		cacheLen[i] = c.ring.Len()
	}

	return Stats{
		Base:        p.base,
		NIDs:        p.nIDs,
		NextID:      next,
		FreeListLen: freeLen,
		CacheLen:    cacheLen,
	}
}
