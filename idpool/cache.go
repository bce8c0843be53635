package idpool

import "github.com/orizon-lang/ringpool/ring"

// cacheCapacity is CACHE_CAP: the fixed capacity of every per-user-thread
// cache ring. It must be a power of two; 32 matches the source this
// subsystem is modeled on.
const cacheCapacity = 32

// cache is a per-user-thread front end to the pool: exactly a Ring of
// capacity cacheCapacity, with its slot storage colocated in the struct
// for cache-line locality. It exposes no operations beyond the
// underlying Ring — only the owning user thread pushes into it, but any
// thread (including stealers) may pop from it, so the Ring underneath
// must be MPMC rather than SPSC.
type cache struct {
	storage [cacheCapacity]ring.RingSlot
	ring    *ring.Ring
}

func newCache() *cache {
	c := &cache{}

	r, err := ring.NewRing(c.storage[:])
	if err != nil {
		// cacheCapacity is a compile-time constant power of two >= 4;
		// construction cannot fail.
		panic(err)
	}

	c.ring = r

	return c
}
