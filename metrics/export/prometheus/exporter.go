package prometheus

import (
	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/MrEthical07/authcore/internal/metrics"
)

// Source is what the collector reads on every scrape. *authcore.Engine satisfies it.
type Source interface {
	MetricsSnapshot() metrics.Snapshot
	AuditDropped() uint64
}

// Collector exposes engine counters and the validation latency histogram as constant
// metrics built from one snapshot per scrape.
type Collector struct {
	source     Source
	counters   []*prom.Desc
	histograms []*prom.Desc
	dropped    *prom.Desc
}

var _ prom.Collector = (*Collector)(nil)

// NewCollector builds a collector for source. Register it with a prometheus.Registerer
// of your choice; nothing is registered globally.
func NewCollector(source Source) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]*prom.Desc, len(metrics.CounterDefs)),
		histograms: make([]*prom.Desc, len(metrics.HistogramDefs)),
		dropped: prom.NewDesc(
			"authcore_audit_dropped_total",
			"Audit events dropped due to dispatcher backpressure.",
			nil, nil,
		),
	}
	for i, def := range metrics.CounterDefs {
		c.counters[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range metrics.HistogramDefs {
		c.histograms[i] = prom.NewDesc(def.Name, def.Help, nil, nil)
	}
	return c
}

func (c *Collector) Describe(ch chan<- *prom.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- prom.Metric) {
	if c == nil || c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for i, def := range metrics.CounterDefs {
		ch <- prom.MustNewConstMetric(c.counters[i], prom.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range metrics.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := metrics.CumulativeBuckets(metrics.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(metrics.HistogramBounds))
		for j, le := range metrics.HistogramBounds {
			buckets[le] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		// Sums are not tracked by the core histogram.
		ch <- prom.MustNewConstHistogram(c.histograms[i], count, 0, buckets)
	}

	ch <- prom.MustNewConstMetric(c.dropped, prom.CounterValue, float64(c.source.AuditDropped()))
}
