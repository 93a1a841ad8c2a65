package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/metric"

	"github.com/cermont-atg/authcore"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

const namespace = "authcore_"

// metricsSource is the engine subset the exporter reads. Satisfied by
// [*authcore.Engine].
type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type observedCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

type observedHistogram struct {
	id      authcore.MetricID
	buckets []metric.Int64ObservableGauge
	count   metric.Int64ObservableGauge
}

// Exporter bridges the engine's in-process metrics into an OpenTelemetry
// meter as observable instruments. Values are read from a snapshot at
// collection time, so the hot path never touches OTel.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	counters     []observedCounter
	histogram    observedHistogram
	auditDropped metric.Int64ObservableCounter
}

// NewExporter registers every engine metric on meter.
func NewExporter(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{source: source}

	var observables []metric.Observable

	for _, id := range authcore.MetricIDs() {
		if id == authcore.MetricVerifyLatency {
			continue
		}
		name := namespace + authcore.MetricName(id)
		ins, err := meter.Int64ObservableCounter(name)
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: id, instrument: ins})
		observables = append(observables, ins)
	}

	histName := namespace + authcore.MetricName(authcore.MetricVerifyLatency)
	exporter.histogram.id = authcore.MetricVerifyLatency
	for _, bound := range authcore.HistogramBucketBoundsMs {
		name := histName + "_bucket_le_" + strconv.FormatInt(bound, 10)
		ins, err := meter.Int64ObservableGauge(name, metric.WithDescription("Cumulative histogram bucket count."))
		if err != nil {
			return nil, fmt.Errorf("create histogram bucket gauge %s: %w", name, err)
		}
		exporter.histogram.buckets = append(exporter.histogram.buckets, ins)
		observables = append(observables, ins)
	}
	countIns, err := meter.Int64ObservableGauge(histName+"_count", metric.WithDescription("Histogram total sample count."))
	if err != nil {
		return nil, fmt.Errorf("create histogram count gauge: %w", err)
	}
	exporter.histogram.count = countIns
	observables = append(observables, countIns)

	auditDropped, err := meter.Int64ObservableCounter(
		namespace+"audit_dropped_total",
		metric.WithDescription("Dropped audit events due to dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(exporter.collect, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	exporter.registration = registration

	return exporter, nil
}

func (e *Exporter) collect(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()

	for _, c := range e.counters {
		observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
	}

	raw := snapshot.Histograms[e.histogram.id]
	var cumulative int64
	for i, ins := range e.histogram.buckets {
		if i < len(raw) {
			cumulative += int64(raw[i])
		}
		observer.ObserveInt64(ins, cumulative)
	}
	// the open-ended bucket only contributes to the total count
	if n := len(e.histogram.buckets); n < len(raw) {
		cumulative += int64(raw[n])
	}
	observer.ObserveInt64(e.histogram.count, cumulative)

	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))

	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
