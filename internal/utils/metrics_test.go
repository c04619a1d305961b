package utils

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestMetricsCollectorConcurrentCounters(t *testing.T) {
	m := NewMetricsCollector()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.IncrementCounter("hits")
			m.AddCounter("bytes", 10)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(20), m.GetCounterValue("hits"))
	assert.Equal(t, int64(200), m.GetCounterValue("bytes"))
	assert.Zero(t, m.GetCounterValue("missing"))
}

func TestMetricsCollectorSnapshot(t *testing.T) {
	m := NewMetricsCollector()
	m.RecordDispatch("evaluate", "", 30*time.Millisecond)
	m.RecordDispatch("evaluate", "unauthorized", 10*time.Millisecond)
	m.RecordAPIRequest(503, 5*time.Millisecond)

	want := map[string]interface{}{
		"counters": map[string]int64{
			"dispatch_total":               2,
			"dispatch_evaluate":            2,
			"dispatch_errors_unauthorized": 1,
			"api_requests_total":           1,
			"api_responses_5xx":            1,
		},
		"histograms": map[string]map[string]int64{
			"dispatch_time_ms":     {"count": 2, "sum": 40, "min": 10, "max": 30},
			"api_response_time_ms": {"count": 1, "sum": 5, "min": 5, "max": 5},
		},
	}
	if diff := cmp.Diff(want, m.GetMetrics()); diff != "" {
		t.Errorf("指标快照不一致 (-want +got):\n%s", diff)
	}
}
