package idpool

import (
	"context"
	"sync"
	"testing"

	"golang.org/x/sync/errgroup"
)

func TestNew_InvalidArguments(t *testing.T) {
	if _, err := New(0, 0, 10); err == nil {
		t.Fatal("expected error for nbUser=0")
	}

	if _, err := New(1, 0, 0); err == nil {
		t.Fatal("expected error for nIDs=0")
	}

	if _, err := New(1, ^uint32(0)-1, 10); err == nil {
		t.Fatal("expected error for range overflow")
	}
}

func TestIdPool_Simple(t *testing.T) {
	p, err := New(2, 100, 3)
	if err != nil {
		t.Fatal(err)
	}

	want := func(uid uint32, id uint32, ok bool) {
		t.Helper()

		got, gotOK := p.Alloc(uid)
		if gotOK != ok || (ok && got != id) {
			t.Fatalf("Alloc(%d) = (%d, %v), want (%d, %v)", uid, got, gotOK, id, ok)
		}
	}

	want(0, 100, true)
	want(0, 101, true)
	want(1, 102, true)
	want(0, 0, false)

	p.Free(0, 101)
	want(0, 101, true)
}

func TestIdPool_Steal(t *testing.T) {
	p, err := New(2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	id, ok := p.Alloc(0)
	if !ok || id != 0 {
		t.Fatalf("Alloc(0) = (%d, %v), want (0, true)", id, ok)
	}

	p.Free(0, 0) // now resident in cache 0

	id, ok = p.Alloc(1)
	if !ok || id != 0 {
		t.Fatalf("Alloc(1) via steal = (%d, %v), want (0, true)", id, ok)
	}
}

func TestIdPool_OverflowSpill(t *testing.T) {
	const extra = 10

	p, err := New(1, 0, cacheCapacity+extra)
	if err != nil {
		t.Fatal(err)
	}

	held := make([]uint32, 0, cacheCapacity+extra)

	for i := 0; i < cacheCapacity+extra; i++ {
		id, ok := p.Alloc(0)
		if !ok {
			t.Fatalf("Alloc failed at i=%d", i)
		}

		held = append(held, id)
	}

	if _, ok := p.Alloc(0); ok {
		t.Fatal("expected pool to be exhausted")
	}

	for _, id := range held {
		p.Free(0, id)
	}

	seen := make(map[uint32]int, len(held))

	for i := 0; i < cacheCapacity+extra; i++ {
		id, ok := p.Alloc(0)
		if !ok {
			t.Fatalf("Alloc failed re-allocating at i=%d", i)
		}

		seen[id]++
	}

	for _, id := range held {
		if seen[id] != 1 {
			t.Fatalf("id %d re-allocated %d times, want exactly 1", id, seen[id])
		}
	}
}

func TestIdPool_OutOfRangeFreeIgnored(t *testing.T) {
	p, err := New(1, 100, 5)
	if err != nil {
		t.Fatal(err)
	}

	p.Free(0, 99)
	p.Free(0, 105)
	p.Free(0, 0)

	for i := 0; i < 5; i++ {
		if _, ok := p.Alloc(0); !ok {
			t.Fatalf("Alloc failed at i=%d despite range being untouched", i)
		}
	}
}

func TestIdPool_DoubleFreeDetection(t *testing.T) {
	var reported []uint32

	var mu sync.Mutex

	p, err := New(1, 0, 4, WithDoubleFreeDetection(func(uid, id uint32) {
		mu.Lock()
		reported = append(reported, id)
		mu.Unlock()
	}))
	if err != nil {
		t.Fatal(err)
	}

	id, ok := p.Alloc(0)
	if !ok {
		t.Fatal("alloc failed")
	}

	p.Free(0, id)
	p.Free(0, id) // double free

	if len(reported) != 1 || reported[0] != id {
		t.Fatalf("reported = %v, want [%d]", reported, id)
	}
}

// TestIdPool_ConcurrentUniquenessAndConservation exercises uniqueness,
// range and conservation invariants under concurrent allocate/free churn
// from many goroutines, using errgroup to fan the workers out and surface
// the first failure.
func TestIdPool_ConcurrentUniquenessAndConservation(t *testing.T) {
	const (
		nbUser  = 8
		nIDs    = 500
		workers = 16
		rounds  = 2000
	)

	p, err := New(nbUser, 1000, nIDs)
	if err != nil {
		t.Fatal(err)
	}

	var held sync.Map // id -> uid that holds it, for uniqueness checking

	g, _ := errgroup.WithContext(context.Background())

	for w := 0; w < workers; w++ {
		uid := uint32(w)

		g.Go(func() error {
			var local []uint32

			for r := 0; r < rounds; r++ {
				if len(local) < 4 {
					if id, ok := p.Alloc(uid); ok {
						if id < 1000 || id >= 1000+nIDs {
							return errOutOfRange(id)
						}

						if _, dup := held.LoadOrStore(id, uid); dup {
							return errDuplicate(id)
						}

						local = append(local, id)
					} else {
						return errExhausted(uid)
					}
				} else {
					id := local[0]
					local = local[1:]
					held.Delete(id)
					p.Free(uid, id)
				}
			}

			for _, id := range local {
				held.Delete(id)
				p.Free(uid, id)
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

type errOutOfRange uint32

func (e errOutOfRange) Error() string { return "id out of range" }

type errDuplicate uint32

func (e errDuplicate) Error() string { return "duplicate id held concurrently" }

type errExhausted uint32

func (e errExhausted) Error() string { return "pool reported exhausted with fewer than nIDs ids held" }
