package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/metrics/export/internaldefs"
)

type metricsSource interface {
	MetricsSnapshot() onboard.MetricsSnapshot
	AuditDropped() uint64
}

// Collector exposes the engine's in-process metrics as Prometheus const
// metrics, read from a fresh snapshot on every scrape.
type Collector struct {
	source       metricsSource
	counters     []*prometheus.Desc
	histograms   []*prometheus.Desc
	auditDropped *prometheus.Desc
	bounds       []float64
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector that reads from engine.
func NewCollector(engine *onboard.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

// NewCollectorFromSource creates a collector over any snapshot source.
func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:     source,
		counters:   make([]*prometheus.Desc, 0, len(internaldefs.CounterDefs)),
		histograms: make([]*prometheus.Desc, 0, len(internaldefs.HistogramDefs)),
		auditDropped: prometheus.NewDesc(
			"onboard_audit_dropped_total",
			"Dropped audit events due to dispatcher backpressure.",
			nil, nil,
		),
		bounds: internaldefs.HistogramBounds,
	}
	for _, def := range internaldefs.CounterDefs {
		c.counters = append(c.counters, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	for _, def := range internaldefs.HistogramDefs {
		c.histograms = append(c.histograms, prometheus.NewDesc(def.Name, def.Help, nil, nil))
	}
	return c
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range c.counters {
		ch <- d
	}
	for _, d := range c.histograms {
		ch <- d
	}
	ch <- c.auditDropped
}

// Collect implements prometheus.Collector. Nothing is emitted while the
// engine's metrics are disabled.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()
	dropped := c.source.AuditDropped()
	if len(snapshot.Counters) == 0 && len(snapshot.Histograms) == 0 && dropped == 0 {
		return
	}

	for i, def := range internaldefs.CounterDefs {
		ch <- prometheus.MustNewConstMetric(c.counters[i], prometheus.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(c.bounds))
		for j, le := range c.bounds {
			buckets[le] = cumulative[j]
		}
		count := cumulative[len(cumulative)-1]
		// Snapshots carry bucket counts only, so the sum is always zero.
		ch <- prometheus.MustNewConstHistogram(c.histograms[i], count, 0, buckets)
	}

	ch <- prometheus.MustNewConstMetric(c.auditDropped, prometheus.CounterValue, float64(dropped))
}

// Handler returns a /metrics handler backed by a private registry holding
// only this collector.
func (c *Collector) Handler() (http.Handler, error) {
	reg := prometheus.NewRegistry()
	if err := reg.Register(c); err != nil {
		return nil, err
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}
