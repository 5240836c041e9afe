// Package metrics exposes per-cycle counters and gauges on a private
// prometheus registry and renders them to a node_exporter
// textfile-collector artifact at the end of each run.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Collector struct {
	registry *prometheus.Registry

	eligibleDomains  prometheus.Gauge
	candidateDomains prometheus.Gauge
	quarantineSize   prometheus.Gauge
	promotedTotal    prometheus.Counter
	evictedTotal     prometheus.Counter
	cycleDuration    prometheus.Gauge
	lastRunTimestamp prometheus.Gauge
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	c := &Collector{
		registry: registry,
		eligibleDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoblocker_eligible_domains",
			Help: "Domains passing traffic thresholds and suppression filter this cycle",
		}),
		candidateDomains: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoblocker_candidate_domains",
			Help: "Domains classified suspicious this cycle",
		}),
		quarantineSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoblocker_quarantine_size",
			Help: "Quarantined domains after the cycle completed",
		}),
		promotedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoblocker_promoted_total",
			Help: "Domains promoted to the blacklist",
		}),
		evictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "autoblocker_evicted_total",
			Help: "Quarantine records removed by staleness eviction",
		}),
		cycleDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoblocker_cycle_duration_seconds",
			Help: "Wall-clock duration of the last cycle",
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autoblocker_last_run_timestamp_seconds",
			Help: "Unix time of the last completed cycle",
		}),
	}

	registry.MustRegister(
		c.eligibleDomains,
		c.candidateDomains,
		c.quarantineSize,
		c.promotedTotal,
		c.evictedTotal,
		c.cycleDuration,
		c.lastRunTimestamp,
	)
	return c
}

func (c *Collector) RecordCycle(eligible, candidates, quarantineSize, promoted, evicted int, durationSeconds float64, finishedAt int64) {
	c.eligibleDomains.Set(float64(eligible))
	c.candidateDomains.Set(float64(candidates))
	c.quarantineSize.Set(float64(quarantineSize))
	c.promotedTotal.Add(float64(promoted))
	c.evictedTotal.Add(float64(evicted))
	c.cycleDuration.Set(durationSeconds)
	c.lastRunTimestamp.Set(float64(finishedAt))
}
