package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all heartbeat-master metrics instruments.
type Metrics struct {
	CycleDuration       metric.Float64Histogram
	HandlerDuration     metric.Float64Histogram
	HandlerErrors       metric.Int64Counter
	DelegationDuration  metric.Float64Histogram
	DelegationErrors    metric.Int64Counter
	ActiveFailovers     metric.Int64UpDownCounter
	CurationActionsTotal metric.Int64Counter
	ReplayRejects       metric.Int64Counter
	RateLimitRejects    metric.Int64Counter
	TokensConsumed      metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.CycleDuration, err = meter.Float64Histogram("heartbeatmaster.cycle.duration",
		metric.WithDescription("Cycle Runner tick wall-clock duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerDuration, err = meter.Float64Histogram("heartbeatmaster.handler.duration",
		metric.WithDescription("Task handler execution duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.HandlerErrors, err = meter.Int64Counter("heartbeatmaster.handler.errors",
		metric.WithDescription("Task handler error count"),
	)
	if err != nil {
		return nil, err
	}

	m.DelegationDuration, err = meter.Float64Histogram("heartbeatmaster.delegation.duration",
		metric.WithDescription("Time from delegate_task call to acknowledged delivery"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.DelegationErrors, err = meter.Int64Counter("heartbeatmaster.delegation.errors",
		metric.WithDescription("Delegation delivery failures"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveFailovers, err = meter.Int64UpDownCounter("heartbeatmaster.failover.active",
		metric.WithDescription("Number of currently active failover promotions"),
	)
	if err != nil {
		return nil, err
	}

	m.CurationActionsTotal, err = meter.Int64Counter("heartbeatmaster.curation.actions",
		metric.WithDescription("MVS curation actions taken, by type"),
	)
	if err != nil {
		return nil, err
	}

	m.ReplayRejects, err = meter.Int64Counter("heartbeatmaster.gateway.replay_rejects",
		metric.WithDescription("Inbound agent messages rejected as replayed nonces"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("heartbeatmaster.gateway.ratelimit_rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.TokensConsumed, err = meter.Int64Counter("heartbeatmaster.cycle.tokens",
		metric.WithDescription("Cumulative handler token budget consumed per cycle"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
