package onboard

import (
	"context"
	"time"
)

// pinger is implemented by session stores with a network backend.
type pinger interface {
	Ping(ctx context.Context) (time.Duration, error)
}

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	// StoreAvailable is true for stores without a backend.
	StoreAvailable bool
	StoreLatency   time.Duration
	AuditDropped   uint64
}

// Health pings the session store backend when it has one. The identity
// provider is not probed.
func (e *Engine) Health(ctx context.Context) HealthStatus {
	if e == nil || e.store == nil {
		return HealthStatus{}
	}

	status := HealthStatus{StoreAvailable: true, AuditDropped: e.AuditDropped()}
	p, ok := e.store.(pinger)
	if !ok {
		return status
	}
	latency, err := p.Ping(ctx)
	if err != nil {
		e.metricInc(MetricStoreUnavailable)
		status.StoreAvailable = false
		return status
	}
	status.StoreLatency = latency
	return status
}
