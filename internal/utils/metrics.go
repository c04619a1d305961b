// internal/utils/metrics.go
package utils

import (
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsCollector 进程内计数器与耗时统计
type MetricsCollector struct {
	counters   map[string]*int64
	histograms map[string]*Histogram

	mu sync.RWMutex
}

// Histogram 只记录 count、sum、min、max
type Histogram struct {
	count int64
	sum   int64
	min   int64
	max   int64
	mu    sync.Mutex
}

// NewMetricsCollector 创建空的收集器
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		counters:   make(map[string]*int64),
		histograms: make(map[string]*Histogram),
	}
}

// IncrementCounter 计数器加一
func (m *MetricsCollector) IncrementCounter(name string) {
	m.AddCounter(name, 1)
}

// AddCounter 计数器加 value
func (m *MetricsCollector) AddCounter(name string, value int64) {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		// 加写锁后再检查一次
		if counter, exists = m.counters[name]; !exists {
			counter = new(int64)
			m.counters[name] = counter
		}
		m.mu.Unlock()
	}

	atomic.AddInt64(counter, value)
}

// GetCounterValue 返回计数器当前值，不存在时为0
func (m *MetricsCollector) GetCounterValue(name string) int64 {
	m.mu.RLock()
	counter, exists := m.counters[name]
	m.mu.RUnlock()

	if !exists {
		return 0
	}
	return atomic.LoadInt64(counter)
}

// RecordDuration 以毫秒记录一次耗时
func (m *MetricsCollector) RecordDuration(name string, d time.Duration) {
	m.RecordHistogram(name, d.Milliseconds())
}

// RecordHistogram 记录一个样本
func (m *MetricsCollector) RecordHistogram(name string, value int64) {
	m.mu.RLock()
	histogram, exists := m.histograms[name]
	m.mu.RUnlock()

	if !exists {
		m.mu.Lock()
		if histogram, exists = m.histograms[name]; !exists {
			histogram = &Histogram{min: value, max: value}
			m.histograms[name] = histogram
		}
		m.mu.Unlock()
	}

	histogram.mu.Lock()
	defer histogram.mu.Unlock()

	histogram.count++
	histogram.sum += value
	if value < histogram.min {
		histogram.min = value
	}
	if value > histogram.max {
		histogram.max = value
	}
}

// GetMetrics 返回所有指标的快照
func (m *MetricsCollector) GetMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counters := make(map[string]int64, len(m.counters))
	for name, counter := range m.counters {
		counters[name] = atomic.LoadInt64(counter)
	}

	histograms := make(map[string]map[string]int64, len(m.histograms))
	for name, h := range m.histograms {
		h.mu.Lock()
		histograms[name] = map[string]int64{
			"count": h.count,
			"sum":   h.sum,
			"min":   h.min,
			"max":   h.max,
		}
		h.mu.Unlock()
	}

	return map[string]interface{}{
		"counters":   counters,
		"histograms": histograms,
	}
}

// RecordAPIRequest 记录一次HTTP请求
func (m *MetricsCollector) RecordAPIRequest(status int, duration time.Duration) {
	m.IncrementCounter("api_requests_total")
	m.IncrementCounter("api_responses_" + strconv.Itoa(status/100) + "xx")
	m.RecordDuration("api_response_time_ms", duration)
}

// RecordDispatch 记录一次单行分发，errorType 为空表示成功
func (m *MetricsCollector) RecordDispatch(action, errorType string, duration time.Duration) {
	m.IncrementCounter("dispatch_total")
	m.IncrementCounter("dispatch_" + action)
	if errorType != "" {
		m.IncrementCounter("dispatch_errors_" + errorType)
	}
	m.RecordDuration("dispatch_time_ms", duration)
}
