package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hostwarden"

// Metrics holds all hostwarden metric instruments.
type Metrics struct {
	AccessDenials         metric.Int64Counter
	InvalidationsSent     metric.Int64Counter
	InvalidationsReceived metric.Int64Counter
	CacheEvictions        metric.Int64Counter
	Transitions           metric.Int64Counter
	AgentCalls            metric.Int64Counter
	AgentUnreachable      metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.AccessDenials, err = meter.Int64Counter("hostwarden.access.denials",
		metric.WithDescription("Number of denied access checks"))
	if err != nil {
		return nil, err
	}

	m.InvalidationsSent, err = meter.Int64Counter("hostwarden.invalidations.sent",
		metric.WithDescription("Number of invalidation messages published"))
	if err != nil {
		return nil, err
	}

	m.InvalidationsReceived, err = meter.Int64Counter("hostwarden.invalidations.received",
		metric.WithDescription("Number of invalidation messages applied from peers"))
	if err != nil {
		return nil, err
	}

	m.CacheEvictions, err = meter.Int64Counter("hostwarden.cache.evictions",
		metric.WithDescription("Number of derived-state cache entries evicted"))
	if err != nil {
		return nil, err
	}

	m.Transitions, err = meter.Int64Counter("hostwarden.lifecycle.transitions",
		metric.WithDescription("Number of completed lifecycle transitions"))
	if err != nil {
		return nil, err
	}

	m.AgentCalls, err = meter.Int64Counter("hostwarden.agent.calls",
		metric.WithDescription("Number of node agent invocations"))
	if err != nil {
		return nil, err
	}

	m.AgentUnreachable, err = meter.Int64Counter("hostwarden.agent.unreachable",
		metric.WithDescription("Number of node agent invocations that found the host unreachable"))
	if err != nil {
		return nil, err
	}

	return m, nil
}

// RecordTransition increments the transition counter with kind and op
// attributes.
func (m *Metrics) RecordTransition(kind, op string) {
	m.Transitions.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("op", op),
		))
}
