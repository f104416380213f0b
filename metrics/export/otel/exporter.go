package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/authgate"
	"github.com/MrEthical07/authgate/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// MetricsSource is satisfied by *authgate.Client.
type MetricsSource interface {
	MetricsSnapshot() authgate.MetricsSnapshot
	AuditDropped() uint64
	Stats() authgate.Stats
}

// reading is everything one collection cycle observes, read once per callback.
type reading struct {
	counters   map[authgate.MetricID]uint64
	histograms map[authgate.MetricID][8]uint64
	stats      authgate.Stats
	dropped    uint64
}

type observation struct {
	instrument metric.Int64Observable
	value      func(*reading) int64
}

// OTelExporter publishes client metrics as observable instruments on a caller-supplied meter.
type OTelExporter struct {
	source       MetricsSource
	registration metric.Registration
	observations []observation
}

// NewOTelExporter registers instruments for client on meter.
func NewOTelExporter(meter metric.Meter, client *authgate.Client) (*OTelExporter, error) {
	if client == nil {
		return nil, ErrNilSource
	}
	return NewOTelExporterFromSource(meter, client)
}

// NewOTelExporterFromSource registers one observable counter per authgate counter, one gauge
// per histogram bucket plus a count gauge, and one gauge per live-state value. A single
// callback reads source for all of them.
func NewOTelExporterFromSource(meter metric.Meter, source MetricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}

	for _, def := range internaldefs.CounterDefs {
		id := def.ID
		if err := e.counter(meter, def.Name, def.Help, func(r *reading) int64 { return int64(r.counters[id]) }); err != nil {
			return nil, err
		}
	}

	for _, def := range internaldefs.HistogramDefs {
		id := def.ID
		for i, suffix := range internaldefs.HistogramBoundSuffix {
			bucket := i
			name := def.Name + "_bucket_le_" + suffix
			if err := e.gauge(meter, name, "Cumulative histogram bucket count.", func(r *reading) int64 {
				return int64(r.histograms[id][bucket])
			}); err != nil {
				return nil, err
			}
		}
		if err := e.gauge(meter, def.Name+"_count", "Histogram total sample count.", func(r *reading) int64 {
			h := r.histograms[id]
			return int64(h[len(h)-1])
		}); err != nil {
			return nil, err
		}
	}

	for _, def := range internaldefs.GaugeDefs {
		value := def.Value
		if err := e.gauge(meter, def.Name, def.Help, func(r *reading) int64 { return value(r.stats) }); err != nil {
			return nil, err
		}
	}

	if err := e.counter(meter, "authgate_audit_dropped_total", "Dropped audit events due to dispatcher backpressure.",
		func(r *reading) int64 { return int64(r.dropped) }); err != nil {
		return nil, err
	}

	observables := make([]metric.Observable, 0, len(e.observations))
	for _, o := range e.observations {
		observables = append(observables, o.instrument)
	}
	registration, err := meter.RegisterCallback(e.collect, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) counter(meter metric.Meter, name, help string, value func(*reading) int64) error {
	ins, err := meter.Int64ObservableCounter(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("create observable counter %s: %w", name, err)
	}
	e.observations = append(e.observations, observation{instrument: ins, value: value})
	return nil
}

func (e *OTelExporter) gauge(meter metric.Meter, name, help string, value func(*reading) int64) error {
	ins, err := meter.Int64ObservableGauge(name, metric.WithDescription(help))
	if err != nil {
		return fmt.Errorf("create observable gauge %s: %w", name, err)
	}
	e.observations = append(e.observations, observation{instrument: ins, value: value})
	return nil
}

func (e *OTelExporter) collect(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	r := &reading{
		counters:   snapshot.Counters,
		histograms: make(map[authgate.MetricID][8]uint64, len(snapshot.Histograms)),
		stats:      e.source.Stats(),
		dropped:    e.source.AuditDropped(),
	}
	for id, raw := range snapshot.Histograms {
		r.histograms[id] = internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	}

	for _, o := range e.observations {
		observer.ObserveInt64(o.instrument, o.value(r))
	}
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
