// Package clock provides a coarse, allocation-free timestamp source for
// periodic sampling (metrics snapshots). It is
// never consulted on the Ring or IdPool hot path, which stays
// non-blocking and free of syscalls.
package clock

import (
	"time"

	"github.com/agilira/go-timecache"
)

// Coarse caches time.Now() at a fixed resolution so frequent callers
// (e.g. a metrics scrape loop) avoid a syscall per sample.
type Coarse struct {
	tc *timecache.TimeCache
}

// NewCoarse starts a cached clock updated roughly every resolution.
func NewCoarse(resolution time.Duration) *Coarse {
	return &Coarse{tc: timecache.NewWithResolution(resolution)}
}

// Now returns the most recently cached time.
func (c *Coarse) Now() time.Time {
	return c.tc.CachedTime()
}

// Stop releases the background refresh goroutine.
func (c *Coarse) Stop() {
	c.tc.Stop()
}
