package cdr

import "github.com/prometheus/client_golang/prometheus"

// Collector exposes engine-internal gauges/counters as a
// prometheus.Collector. The engine supplies the small accessors and the
// Collector just renders them; nothing is sampled outside Collect.
type Collector struct {
	eng *Engine

	activeChains   *prometheus.Desc
	activeBridges  *prometheus.Desc
	pendingBatch   *prometheus.Desc
	recordsEmitted *prometheus.Desc
	backendCount   *prometheus.Desc
}

// NewCollector builds a Collector over eng. Registered by the caller
// (cmd/cdrengine) with a prometheus.Registry.
func NewCollector(eng *Engine) *Collector {
	return &Collector{
		eng: eng,
		activeChains: prometheus.NewDesc(
			"cdr_active_chains", "Number of channel chains currently indexed.", nil, nil),
		activeBridges: prometheus.NewDesc(
			"cdr_active_bridges", "Number of bridges with at least one occupant.", nil, nil),
		pendingBatch: prometheus.NewDesc(
			"cdr_pending_batch_records", "Number of externalized records waiting in the batch queue.", nil, nil),
		recordsEmitted: prometheus.NewDesc(
			"cdr_records_emitted_total", "Total externalized records handed to the dispatcher.", nil, nil),
		backendCount: prometheus.NewDesc(
			"cdr_backends_registered", "Number of backends currently registered.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeChains
	ch <- c.activeBridges
	ch <- c.pendingBatch
	ch <- c.recordsEmitted
	ch <- c.backendCount
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.activeChains, prometheus.GaugeValue, float64(len(c.eng.channels.snapshotNames())))
	ch <- prometheus.MustNewConstMetric(c.activeBridges, prometheus.GaugeValue, float64(c.eng.bridges.count()))
	ch <- prometheus.MustNewConstMetric(c.pendingBatch, prometheus.GaugeValue, float64(c.eng.dispatcher.pendingLen()))
	ch <- prometheus.MustNewConstMetric(c.recordsEmitted, prometheus.CounterValue, float64(c.eng.recordsEmitted.Load()))
	ch <- prometheus.MustNewConstMetric(c.backendCount, prometheus.GaugeValue, float64(len(c.eng.backends.list())))
}
