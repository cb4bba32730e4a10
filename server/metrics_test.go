package server

import (
	"encoding/json"
	"testing"
	"time"
)

func TestMetricsStartEndSnapshot(t *testing.T) {
	m := NewMetrics()

	m.StartRequest("/foo")
	m.StartRequest("/foo")
	m.StartRequest("/bar")

	m.EndRequest("/foo", 10*time.Millisecond, StatusOK)
	m.EndRequest("/foo", 20*time.Millisecond, StatusServiceUnavailable)
	m.EndRequest("/bar", 5*time.Millisecond, StatusNotFound)

	snap := m.Snapshot()

	if snap.TotalRequests != 3 {
		t.Fatalf("TotalRequests = %d, want 3", snap.TotalRequests)
	}
	if snap.TotalErrors != 1 {
		t.Fatalf("TotalErrors = %d, want 1", snap.TotalErrors)
	}
	if snap.InFlight != 0 {
		t.Fatalf("InFlight = %d, want 0", snap.InFlight)
	}

	foo, ok := snap.ByRoute["/foo"]
	if !ok || foo.Count != 2 || foo.Errors != 1 || foo.TotalLatency != 30*time.Millisecond {
		t.Fatalf("foo stats = %#v, want Count=2 Errors=1 TotalLatency=30ms", foo)
	}
	if foo.MaxLatency != 20*time.Millisecond || foo.MeanLatency() != 15*time.Millisecond {
		t.Fatalf("foo max %v mean %v", foo.MaxLatency, foo.MeanLatency())
	}
	if bar := snap.ByRoute["/bar"]; bar.Errors != 0 {
		t.Fatalf("404 counted as an error: %#v", bar)
	}

	// The snapshot is detached from the live counters.
	m.StartRequest("/foo")
	m.EndRequest("/foo", time.Millisecond, StatusOK)
	if snap.InFlight != 0 || snap.ByRoute["/foo"].Count != 2 {
		t.Fatalf("snapshot changed after later requests")
	}
}

func TestMetricsInFlight(t *testing.T) {
	m := NewMetrics()
	m.StartRequest("/slow")
	if got := m.Snapshot().InFlight; got != 1 {
		t.Fatalf("InFlight = %d, want 1", got)
	}
	if _, ok := m.Snapshot().ByRoute["/slow"]; ok {
		t.Fatalf("unfinished request should not have route stats yet")
	}
	m.EndRequest("/slow", time.Millisecond, StatusOK)
	if got := m.Snapshot().InFlight; got != 0 {
		t.Fatalf("InFlight = %d, want 0", got)
	}
}

func TestMeanLatencyEmptyRoute(t *testing.T) {
	if d := (RouteMetrics{}).MeanLatency(); d != 0 {
		t.Fatalf("MeanLatency = %v, want 0", d)
	}
}

func TestMetricsSnapshotJSON(t *testing.T) {
	m := NewMetrics()
	m.StartRequest("/x")
	m.EndRequest("/x", 2*time.Millisecond, StatusInternalServerError)

	data, err := json.Marshal(m.Snapshot())
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got struct {
		TotalRequests uint64 `json:"total_requests"`
		TotalErrors   uint64 `json:"total_errors"`
		ByRoute       map[string]struct {
			Count      uint64 `json:"count"`
			MaxLatency int64  `json:"max_latency_ns"`
		} `json:"by_route"`
	}
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.TotalRequests != 1 || got.TotalErrors != 1 {
		t.Fatalf("totals = %d/%d in %s", got.TotalRequests, got.TotalErrors, data)
	}
	if r := got.ByRoute["/x"]; r.Count != 1 || r.MaxLatency != int64(2*time.Millisecond) {
		t.Fatalf("by_route[/x] = %#v in %s", r, data)
	}
}
