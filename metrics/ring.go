package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/orizon-lang/ringpool/ring"
)

// RingCollector periodically samples a standalone *ring.Ring (one not
// owned by an IdPool cache) and publishes its occupancy as a gauge.
type RingCollector struct {
	r    *ring.Ring
	stop chan struct{}

	occupancy prometheus.Gauge
}

// NewRingCollector registers a gauge for r under name and starts sampling
// it every interval until Stop is called.
func NewRingCollector(name string, r *ring.Ring, interval time.Duration) *RingCollector {
	c := &RingCollector{
		r:    r,
		stop: make(chan struct{}),
		occupancy: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "ringpool_ring_occupancy",
			Help: "Approximate number of enqueued-but-undequeued elements.",
			ConstLabels: prometheus.Labels{
				"ring": name,
			},
		}),
	}

	go c.run(interval)

	return c
}

func (c *RingCollector) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.occupancy.Set(float64(c.r.Len()))
		}
	}
}

// Stop halts periodic sampling.
func (c *RingCollector) Stop() {
	close(c.stop)
}
