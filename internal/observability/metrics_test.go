package observability

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInMemoryMetrics(t *testing.T) {
	m := NewMetricsClient()

	m.IncrementCounter("jobs", 1)
	m.IncrementCounter("jobs", 2)
	m.RecordDuration("latency", time.Second)
	m.RecordDuration("latency", 3*time.Second)

	snap := m.Snapshot()
	assert.Equal(t, 3.0, snap["jobs"])
	assert.InDelta(t, 2.0, snap["latency_mean_seconds"], 1e-9)
}

func TestInMemoryMetricsConcurrent(t *testing.T) {
	m := NewMetricsClient()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.IncrementCounter("hits", 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, m.Snapshot()["hits"])
}
