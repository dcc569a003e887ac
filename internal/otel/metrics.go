package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all wrangler metric instruments.
type Metrics struct {
	SpawnDuration      metric.Float64Histogram
	CompleteDuration   metric.Float64Histogram
	SpawnsTotal        metric.Int64Counter
	CompletionsTotal   metric.Int64Counter
	CompletionFailures metric.Int64Counter
	ReconcileSwept     metric.Int64Counter
	LockTimeouts       metric.Int64Counter
	ActiveAgents       metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SpawnDuration, err = meter.Float64Histogram("wrangler.spawn.duration",
		metric.WithDescription("Agent spawn duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.CompleteDuration, err = meter.Float64Histogram("wrangler.complete.duration",
		metric.WithDescription("Completion pipeline duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.SpawnsTotal, err = meter.Int64Counter("wrangler.spawns",
		metric.WithDescription("Total agents spawned"),
	)
	if err != nil {
		return nil, err
	}

	m.CompletionsTotal, err = meter.Int64Counter("wrangler.completions",
		metric.WithDescription("Total successful completions"),
	)
	if err != nil {
		return nil, err
	}

	m.CompletionFailures, err = meter.Int64Counter("wrangler.completion.failures",
		metric.WithDescription("Completion pipeline failures by stage"),
	)
	if err != nil {
		return nil, err
	}

	m.ReconcileSwept, err = meter.Int64Counter("wrangler.reconcile.swept",
		metric.WithDescription("Records swept to completed by reconcile"),
	)
	if err != nil {
		return nil, err
	}

	m.LockTimeouts, err = meter.Int64Counter("wrangler.registry.lock_timeouts",
		metric.WithDescription("Registry lock acquisition timeouts"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveAgents, err = meter.Int64UpDownCounter("wrangler.agents.active",
		metric.WithDescription("Number of currently active agents"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
