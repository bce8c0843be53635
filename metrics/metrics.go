// Package metrics exposes Ring and IdPool activity as Prometheus
// collectors. It samples the introspection accessors (Ring.Len/Cap,
// IdPool.Stats) on a periodic ticker rather than instrumenting the
// hot path directly, so enabling metrics never adds a CAS or allocation
// to TryEnqueue/TryDequeue/Alloc/Free. Metric names keep bounded
// cardinality: no per-ID or per-uid labels, only per-pool/per-cache
// indices, mirroring the DoS-conscious labeling the pack's own
// observability server uses.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orizon-lang/ringpool/idpool"
	"github.com/orizon-lang/ringpool/internal/clock"
)

// PoolCollector periodically samples an *idpool.IdPool and publishes its
// occupancy as gauges.
type PoolCollector struct {
	pool  *idpool.IdPool
	clock *clock.Coarse
	stop  chan struct{}

	freeListLen prometheus.Gauge
	nextID      prometheus.Gauge
	cacheLen    *prometheus.GaugeVec
}

// NewPoolCollector registers gauges for pool under name and starts
// sampling it every interval until Stop is called.
func NewPoolCollector(name string, pool *idpool.IdPool, interval time.Duration) *PoolCollector {
	c := &PoolCollector{
		pool:  pool,
		clock: clock.NewCoarse(interval),
		stop:  make(chan struct{}),

		freeListLen: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_idpool_free_list_len",
			Help: "Number of IDs currently resident in the overflow free-list.",
			ConstLabels: prometheus.Labels{
				"pool": name,
			},
		}),
		nextID: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_idpool_next_id",
			Help: "Current value of the monotonic bump-allocation counter.",
			ConstLabels: prometheus.Labels{
				"pool": name,
			},
		}),
		cacheLen: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ringpool_idpool_cache_len",
			Help: "Approximate occupancy of each per-user-thread cache ring.",
			ConstLabels: prometheus.Labels{
				"pool": name,
			},
		}, []string{"cache"}), // bounded: one series per cache index, fixed at construction
	}

	go c.run(interval)

	return c
}

func (c *PoolCollector) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *PoolCollector) sample() {
	stats := c.pool.Stats()

	c.freeListLen.Set(float64(stats.FreeListLen))
	c.nextID.Set(float64(stats.NextID))

	for i, n := range stats.CacheLen {
		c.cacheLen.WithLabelValues(strconv.Itoa(i)).Set(float64(n))
	}
}

// Stop halts periodic sampling and the underlying coarse clock.
func (c *PoolCollector) Stop() {
	close(c.stop)
	c.clock.Stop()
}
