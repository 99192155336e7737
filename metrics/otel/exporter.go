package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credflow"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() credflow.MetricsSnapshot
}

// Exporter observes engine counters on every collection. Close unregisters
// the callback.
type Exporter struct {
	source       metricsSource
	registration metric.Registration
	flows        metric.Int64ObservableCounter
	dropped      metric.Int64ObservableCounter
}

// NewExporter registers instruments for engine on meter.
func NewExporter(meter metric.Meter, engine *credflow.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(meter, engine)
}

func NewExporterFromSource(meter metric.Meter, source metricsSource) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{source: source}

	flows, err := meter.Int64ObservableCounter(
		"credflow_flow_total",
		metric.WithDescription("Auth flow invocations by outcome."),
	)
	if err != nil {
		return nil, fmt.Errorf("create flow counter: %w", err)
	}
	exporter.flows = flows

	dropped, err := meter.Int64ObservableCounter(
		"credflow_outbox_dropped_total",
		metric.WithDescription("Notifications and audit events dropped because the outbox was full."),
	)
	if err != nil {
		return nil, fmt.Errorf("create outbox dropped counter: %w", err)
	}
	exporter.dropped = dropped

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, stat := range snapshot.Flows {
			observer.ObserveInt64(exporter.flows, int64(stat.Count), metric.WithAttributes(
				attribute.String("flow", stat.Flow),
				attribute.String("outcome", stat.Outcome),
			))
		}
		observer.ObserveInt64(exporter.dropped, int64(snapshot.NotificationsDropped),
			metric.WithAttributes(attribute.String("outbox", "notify")))
		observer.ObserveInt64(exporter.dropped, int64(snapshot.AuditDropped),
			metric.WithAttributes(attribute.String("outbox", "audit")))
		return nil
	}, flows, dropped)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
