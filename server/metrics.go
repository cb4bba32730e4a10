package server

import (
	"sync"
	"sync/atomic"
	"time"
)

// RouteMetrics is what one route label has handled so far.
type RouteMetrics struct {
	Count        uint64        `json:"count"`
	Errors       uint64        `json:"errors"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
}

// MeanLatency is zero for a route with no finished requests.
func (r RouteMetrics) MeanLatency() time.Duration {
	if r.Count == 0 {
		return 0
	}
	return r.TotalLatency / time.Duration(r.Count)
}

func (r *RouteMetrics) observe(latency time.Duration, failed bool) {
	r.Count++
	r.TotalLatency += latency
	r.MaxLatency = max(r.MaxLatency, latency)
	if failed {
		r.Errors++
	}
}

// MetricsSnapshot is a detached copy of Metrics, safe to read and encode.
type MetricsSnapshot struct {
	TotalRequests uint64                  `json:"total_requests"`
	TotalErrors   uint64                  `json:"total_errors"`
	InFlight      int64                   `json:"in_flight"`
	ByRoute       map[string]RouteMetrics `json:"by_route"`
}

// Metrics counts dispatched requests per route label. A request counts as
// an error when its response status is 5xx.
type Metrics struct {
	started  atomic.Uint64
	inFlight atomic.Int64

	mu     sync.Mutex
	routes map[string]*RouteMetrics
}

func NewMetrics() *Metrics {
	return &Metrics{routes: make(map[string]*RouteMetrics)}
}

func (m *Metrics) StartRequest(route string) {
	m.started.Add(1)
	m.inFlight.Add(1)
}

func (m *Metrics) EndRequest(route string, latency time.Duration, status StatusCode) {
	m.inFlight.Add(-1)

	m.mu.Lock()
	rm, ok := m.routes[route]
	if !ok {
		rm = new(RouteMetrics)
		m.routes[route] = rm
	}
	rm.observe(latency, status >= StatusInternalServerError)
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalRequests: m.started.Load(),
		InFlight:      m.inFlight.Load(),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ByRoute = make(map[string]RouteMetrics, len(m.routes))
	for route, rm := range m.routes {
		snap.ByRoute[route] = *rm
		snap.TotalErrors += rm.Errors
	}
	return snap
}
