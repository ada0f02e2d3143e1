// Package metrics exposes range lock events as Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Victor-Danilov/parallel-computing/v1/rangelock"
)

// Collector is a rangelock.Observer that records lock activity.
type Collector struct {
	Grants   prometheus.Counter
	Blocks   prometheus.Counter
	Releases prometheus.Counter
	Rejects  prometheus.Counter
	Cancels  prometheus.Counter
	// Waiters reports the number of requests currently suspended.
	Waiters prometheus.Gauge
	// HeldIndices reports the number of indices currently held.
	HeldIndices prometheus.Gauge
	WaitSeconds prometheus.Histogram
}

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// NewCollector creates a Collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		Grants: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangelock_grants_total",
			Help: "Total number of ranges granted",
		}),
		Blocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangelock_blocks_total",
			Help: "Total number of lock requests that had to wait",
		}),
		Releases: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangelock_releases_total",
			Help: "Total number of ranges released",
		}),
		Rejects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangelock_invalid_ranges_total",
			Help: "Total number of requests rejected for a malformed range",
		}),
		Cancels: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rangelock_cancels_total",
			Help: "Total number of waiting requests abandoned by their context",
		}),
		Waiters: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rangelock_waiters",
			Help: "Current number of suspended lock requests",
		}),
		HeldIndices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rangelock_held_indices",
			Help: "Current number of held indices",
		}),
		WaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "rangelock_wait_seconds",
			Help:    "Time between a lock request and its grant",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(c.Grants, c.Blocks, c.Releases, c.Rejects, c.Cancels, c.Waiters, c.HeldIndices, c.WaitSeconds)
	return c
}

// Observe implements rangelock.Observer.
func (c *Collector) Observe(e rangelock.Event) {
	switch e.Kind {
	case rangelock.EventGrant:
		c.Grants.Inc()
		c.WaitSeconds.Observe(e.Waited.Seconds())
	case rangelock.EventBlock:
		c.Blocks.Inc()
	case rangelock.EventRelease:
		c.Releases.Inc()
	case rangelock.EventReject:
		c.Rejects.Inc()
		return
	case rangelock.EventCancel:
		c.Cancels.Inc()
	}
	c.Waiters.Set(float64(e.Waiters))
	c.HeldIndices.Set(float64(e.Held))
}
