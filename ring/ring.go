// Package ring implements a bounded lock-free multi-producer
// multi-consumer queue of fixed-size 32-bit slots, following Dmitry
// Vyukov's sequence-number-per-slot design. Every operation is
// non-blocking: enqueue and dequeue fail fast when the ring is full or
// empty rather than spinning or blocking. The ring never allocates —
// all slot storage is supplied by the caller at construction time and
// must outlive the Ring.
package ring

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/orizon-lang/ringpool/internal/poolerr"
)

// minCapacity is the smallest ring capacity NewRing accepts.
const minCapacity = 4

// RingSlot holds one element of a Ring: a monotonic sequence number (the
// slot's epoch) and its payload. The zero value is not ready for use —
// slots must be seeded by NewRing.
type RingSlot struct {
	seq  atomic.Uint32
	data uint32
}

// Ring is a bounded lock-free MPMC queue. The zero value is not usable;
// construct one with NewRing over caller-owned storage.
type Ring struct {
	_     cpu.CacheLinePad
	head  atomic.Uint32
	_     cpu.CacheLinePad
	tail  atomic.Uint32
	_     cpu.CacheLinePad
	mask  uint32
	nodes []RingSlot
}

// NewRing initializes a Ring over nodes, which must have a power-of-two
// length of at least 4. The storage is caller-owned and must outlive the
// returned Ring; NewRing never allocates the backing array itself.
func NewRing(nodes []RingSlot) (*Ring, error) {
	capacity := len(nodes)
	if capacity < minCapacity || capacity&(capacity-1) != 0 {
		return nil, poolerr.InvalidCapacity(capacity)
	}

	for i := range nodes {
		nodes[i].seq.Store(uint32(i))
	}

	return &Ring{mask: uint32(capacity - 1), nodes: nodes}, nil
}

// TryEnqueue pushes data into the ring. It returns false iff the ring was
// full at some linearization point during the call; it never blocks.
func (r *Ring) TryEnqueue(data uint32) bool {
	pos := r.head.Load()

	for {
		slot := &r.nodes[pos&r.mask]

		seq := slot.seq.Load()

		diff := int32(seq - pos)
		switch {
		case diff == 0:
			if r.head.CompareAndSwap(pos, pos+1) {
				slot.data = data
				slot.seq.Store(pos + 1)

				return true
			}
			// CAS failed: another producer raced us for this slot. Retry
			// with whatever head currently holds.
			pos = r.head.Load()
		case diff < 0:
			return false // full
		default:
			pos = r.head.Load() // another producer already won this slot
		}
	}
}

// TryDequeue pops one element into out. It returns false iff the ring was
// empty at some linearization point during the call; it never blocks.
func (r *Ring) TryDequeue(out *uint32) bool {
	pos := r.tail.Load()

	for {
		slot := &r.nodes[pos&r.mask]

		seq := slot.seq.Load()

		diff := int32(seq - (pos + 1))
		switch {
		case diff == 0:
			if r.tail.CompareAndSwap(pos, pos+1) {
				*out = slot.data
				slot.seq.Store(pos + r.mask + 1)

				return true
			}
			pos = r.tail.Load()
		case diff < 0:
			return false // empty
		default:
			pos = r.tail.Load()
		}
	}
}

// Len returns an approximate, racy-by-design snapshot of the number of
// enqueued-but-not-yet-dequeued elements. It never participates in the
// enqueue/dequeue correctness path and is intended for metrics sampling
// only.
func (r *Ring) Len() int {
	head := r.head.Load()
	tail := r.tail.Load()

	diff := int32(head - tail)
	if diff < 0 {
		return 0
	}

	return int(diff)
}

// Cap returns the ring's fixed capacity.
func (r *Ring) Cap() int {
	return int(r.mask) + 1
}
