package observability

import (
	"sync"
	"time"
)

// MetricsClient records operational counters and durations. The
// in-memory implementation is enough for tests and for the /metrics
// debug endpoint; a push-based client can replace it behind the same
// interface.
type MetricsClient interface {
	IncrementCounter(name string, value float64)
	RecordDuration(name string, d time.Duration)
	Snapshot() map[string]float64
}

// InMemoryMetrics is a concurrency-safe MetricsClient backed by maps.
type InMemoryMetrics struct {
	mu       sync.Mutex
	counters map[string]float64
	// durations keeps a running total in seconds plus a sample count
	totals map[string]float64
	counts map[string]float64
}

// NewMetricsClient creates an in-memory metrics client.
func NewMetricsClient() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: make(map[string]float64),
		totals:   make(map[string]float64),
		counts:   make(map[string]float64),
	}
}

func (m *InMemoryMetrics) IncrementCounter(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += value
}

func (m *InMemoryMetrics) RecordDuration(name string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals[name] += d.Seconds()
	m.counts[name]++
}

// Snapshot returns counters plus mean durations keyed by name.
func (m *InMemoryMetrics) Snapshot() map[string]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]float64, len(m.counters)+len(m.totals))
	for k, v := range m.counters {
		out[k] = v
	}
	for k, total := range m.totals {
		if m.counts[k] > 0 {
			out[k+"_mean_seconds"] = total / m.counts[k]
		}
	}
	return out
}

// NoopMetrics discards all measurements.
type NoopMetrics struct{}

func NewNoopMetrics() MetricsClient { return &NoopMetrics{} }

func (NoopMetrics) IncrementCounter(name string, value float64)  {}
func (NoopMetrics) RecordDuration(name string, d time.Duration)  {}
func (NoopMetrics) Snapshot() map[string]float64                 { return nil }
