package service

import (
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/assert-lsp/internal/core"
)

// MetricsCollector collects per-adapter invocation metrics.
type MetricsCollector struct {
	adapters   map[string]*AdapterMetrics
	superseded int
	startTime  time.Time
	mu         sync.RWMutex
}

// AdapterMetrics holds adapter-level metrics.
type AdapterMetrics struct {
	Name          string                   `json:"name"`
	Invocations   int                      `json:"invocations"`
	Completed     int                      `json:"completed"`
	Failed        int                      `json:"failed"`
	TimedOut      int                      `json:"timed_out"`
	Cancelled     int                      `json:"cancelled"`
	Skipped       int                      `json:"skipped"`
	Failures      map[core.FailureKind]int `json:"failures,omitempty"`
	Diagnostics   int                      `json:"diagnostics"`
	TotalDuration time.Duration            `json:"total_duration"`
	AvgDuration   time.Duration            `json:"avg_duration"`
	LastDuration  time.Duration            `json:"last_duration"`
	LastFinished  time.Time                `json:"last_finished,omitempty"`
}

// Summary holds totals across adapters.
type Summary struct {
	Uptime      time.Duration `json:"uptime"`
	Invocations int           `json:"invocations"`
	Failures    int           `json:"failures"`
	Superseded  int           `json:"superseded"`
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		adapters:  make(map[string]*AdapterMetrics),
		startTime: time.Now(),
	}
}

// RecordInvocation records a finished invocation.
func (m *MetricsCollector) RecordInvocation(inv *core.Invocation, diagnostics int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	am := m.adapter(inv.Adapter)
	duration := inv.Duration()

	am.Invocations++
	am.TotalDuration += duration
	am.AvgDuration = am.TotalDuration / time.Duration(am.Invocations)
	am.LastDuration = duration
	am.LastFinished = inv.FinishedAt

	switch inv.State {
	case core.InvocationCompleted:
		am.Completed++
		am.Diagnostics += diagnostics
	case core.InvocationTimedOut:
		am.TimedOut++
	case core.InvocationCancelled:
		am.Cancelled++
	default:
		am.Failed++
	}
	if inv.Failure != core.FailureNone && inv.Failure != core.FailureCancelled {
		if am.Failures == nil {
			am.Failures = make(map[core.FailureKind]int)
		}
		am.Failures[inv.Failure]++
	}
}

// RecordSkipped records an invocation suppressed by backoff.
func (m *MetricsCollector) RecordSkipped(adapter string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapter(adapter).Skipped++
}

// RecordSuperseded records a result dropped because a newer one was issued.
func (m *MetricsCollector) RecordSuperseded() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.superseded++
}

// GetAdapterMetrics returns metrics for one adapter.
func (m *MetricsCollector) GetAdapterMetrics(name string) (*AdapterMetrics, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	am, ok := m.adapters[name]
	if !ok {
		return nil, false
	}
	return copyAdapterMetrics(am), true
}

// GetAllAdapterMetrics returns metrics for all adapters, sorted by name.
func (m *MetricsCollector) GetAllAdapterMetrics() []*AdapterMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*AdapterMetrics, 0, len(m.adapters))
	for _, am := range m.adapters {
		result = append(result, copyAdapterMetrics(am))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// GetSummary returns totals across adapters.
func (m *MetricsCollector) GetSummary() Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s := Summary{
		Uptime:     time.Since(m.startTime),
		Superseded: m.superseded,
	}
	for _, am := range m.adapters {
		s.Invocations += am.Invocations
		s.Failures += am.Failed + am.TimedOut
	}
	return s
}

// Forget drops an adapter's metrics.
func (m *MetricsCollector) Forget(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.adapters, name)
}

// Reset clears all metrics.
func (m *MetricsCollector) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.adapters = make(map[string]*AdapterMetrics)
	m.superseded = 0
	m.startTime = time.Now()
}

func (m *MetricsCollector) adapter(name string) *AdapterMetrics {
	am, ok := m.adapters[name]
	if !ok {
		am = &AdapterMetrics{Name: name}
		m.adapters[name] = am
	}
	return am
}

func copyAdapterMetrics(am *AdapterMetrics) *AdapterMetrics {
	out := *am
	if am.Failures != nil {
		out.Failures = make(map[core.FailureKind]int, len(am.Failures))
		for k, v := range am.Failures {
			out.Failures[k] = v
		}
	}
	return &out
}
