package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/wastehub/onboard"
	"github.com/wastehub/onboard/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter and ErrNilSource reject incomplete construction.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() onboard.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         onboard.MetricID
	instrument metric.Int64ObservableCounter
}

// observedHistogram flattens one latency histogram into a cumulative
// gauge per bucket plus a count gauge.
type observedHistogram struct {
	id      onboard.MetricID
	buckets [internaldefs.BucketCount]metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter publishes engine metrics through OTel observable instruments.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histograms   []observedHistogram
	auditDropped metric.Int64ObservableCounter
	observables  []metric.Observable
}

// NewExporter registers instruments on meter that read from engine.
func NewExporter(meter metric.Meter, engine *onboard.Engine) (*Exporter, error) {
	return NewExporterFromSource(meter, engine)
}

// NewExporterFromSource is [NewExporter] over any snapshot source.
func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	for _, def := range internaldefs.CounterDefs {
		ins, err := e.counter(meter, def.Name, def.Help)
		if err != nil {
			return nil, err
		}
		e.counters = append(e.counters, observedCounter{id: def.ID, instrument: ins})
	}
	for _, def := range internaldefs.HistogramDefs {
		h, err := e.histogram(meter, def)
		if err != nil {
			return nil, err
		}
		e.histograms = append(e.histograms, h)
	}

	dropped, err := e.counter(meter, "onboard_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.")
	if err != nil {
		return nil, err
	}
	e.auditDropped = dropped

	registration, err := meter.RegisterCallback(e.observe, e.observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *Exporter) counter(meter metric.Meter, name, help string) (metric.Int64ObservableCounter, error) {
	ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return nil, fmt.Errorf("create observable counter %s: %w", name, err)
	}
	e.observables = append(e.observables, ins)
	return ins, nil
}

func (e *Exporter) gauge(meter metric.Meter, name, help string) (metric.Int64ObservableGauge, error) {
	ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		return nil, fmt.Errorf("create observable gauge %s: %w", name, err)
	}
	e.observables = append(e.observables, ins)
	return ins, nil
}

func (e *Exporter) histogram(meter metric.Meter, def internaldefs.HistogramDef) (observedHistogram, error) {
	h := observedHistogram{id: def.ID}
	for i, suffix := range internaldefs.HistogramBoundSuffix {
		ins, err := e.gauge(meter, def.Name+"_bucket_le_"+suffix, "Cumulative histogram bucket count.")
		if err != nil {
			return h, err
		}
		h.buckets[i] = ins
	}
	count, err := e.gauge(meter, def.Name+"_count", "Histogram total sample count.")
	if err != nil {
		return h, err
	}
	h.count = count
	return h, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		o.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}
	for _, h := range e.histograms {
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(snapshot.Histograms[h.id]))
		for i, v := range cumulative {
			o.ObserveInt64(h.buckets[i], int64(v))
		}
		o.ObserveInt64(h.count, int64(cumulative[len(cumulative)-1]))
	}
	o.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
