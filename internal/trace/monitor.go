package trace

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DefaultThresholds are the per-stage duration budgets used for bottleneck
// detection.
func DefaultThresholds() map[string]time.Duration {
	return map[string]time.Duration{
		"document_download":     10 * time.Second,
		"document_chunking":     5 * time.Second,
		"vector_store_creation": 15 * time.Second,
		"answer_generation":     20 * time.Second,
		"total_request":         30 * time.Second,
	}
}

// Monitor tracks in-flight requests and keeps a bounded ring of completed
// traces for aggregate statistics.
type Monitor struct {
	mu         sync.Mutex
	active     map[string]*RequestTrace
	completed  []*RequestTrace
	history    int
	thresholds map[string]time.Duration
}

func NewMonitor(history int, thresholds map[string]time.Duration) *Monitor {
	if thresholds == nil {
		thresholds = DefaultThresholds()
	}
	return &Monitor{
		active:     make(map[string]*RequestTrace),
		history:    history,
		thresholds: thresholds,
	}
}

// StartRequest opens a trace for one request.
func (m *Monitor) StartRequest(id string, metadata map[string]interface{}) *RequestTrace {
	t := &RequestTrace{
		ID:       id,
		Start:    time.Now(),
		Metadata: metadata,
	}
	m.mu.Lock()
	m.active[id] = t
	m.mu.Unlock()
	return t
}

// FinishRequest finalizes the trace, moves it into history and logs a summary
// including any detected bottlenecks.
func (m *Monitor) FinishRequest(t *RequestTrace) {
	t.finalize()

	m.mu.Lock()
	delete(m.active, t.ID)
	m.completed = append(m.completed, t)
	if len(m.completed) > m.history {
		m.completed = m.completed[len(m.completed)-m.history:]
	}
	m.mu.Unlock()

	findings := t.Bottlenecks(m.thresholds)
	attrs := []any{
		"request_id", t.ID,
		"duration", t.Duration,
		"operations", len(t.Operations),
	}
	if len(findings) > 0 {
		names := make([]string, len(findings))
		for i, f := range findings {
			names[i] = f.Kind + ":" + f.Operation
		}
		attrs = append(attrs, "bottlenecks", names)
		slog.Warn("request completed with bottlenecks", attrs...)
		return
	}
	slog.Info("request completed", attrs...)
}

// OperationStats aggregates one operation name across the history.
type OperationStats struct {
	Count      int           `json:"count"`
	Failures   int           `json:"failures"`
	Avg        time.Duration `json:"avg_ns"`
	Min        time.Duration `json:"min_ns"`
	Max        time.Duration `json:"max_ns"`
	P50        time.Duration `json:"p50_ns"`
	P95        time.Duration `json:"p95_ns"`
	Violations int           `json:"threshold_violations"`
}

// Stats is the aggregate view served by the stats endpoint.
type Stats struct {
	TotalRequests  int                       `json:"total_requests"`
	ActiveRequests int                       `json:"active_requests"`
	AvgDuration    time.Duration             `json:"avg_duration_ns"`
	MinDuration    time.Duration             `json:"min_duration_ns"`
	MaxDuration    time.Duration             `json:"max_duration_ns"`
	Operations     map[string]OperationStats `json:"operations"`
	Trend          string                    `json:"trend"`
}

// Snapshot computes aggregate statistics over the completed history.
func (m *Monitor) Snapshot() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		TotalRequests:  len(m.completed),
		ActiveRequests: len(m.active),
		Operations:     make(map[string]OperationStats),
		Trend:          "stable",
	}
	if len(m.completed) == 0 {
		return s
	}

	var total time.Duration
	s.MinDuration = m.completed[0].Duration
	for _, t := range m.completed {
		total += t.Duration
		if t.Duration < s.MinDuration {
			s.MinDuration = t.Duration
		}
		if t.Duration > s.MaxDuration {
			s.MaxDuration = t.Duration
		}
	}
	s.AvgDuration = total / time.Duration(len(m.completed))

	durations := make(map[string][]time.Duration)
	for _, t := range m.completed {
		for _, op := range t.Operations {
			st := s.Operations[op.Name]
			st.Count++
			if !op.Success {
				st.Failures++
			}
			if limit, ok := m.thresholds[op.Name]; ok && op.Duration > limit {
				st.Violations++
			}
			if st.Count == 1 || op.Duration < st.Min {
				st.Min = op.Duration
			}
			if op.Duration > st.Max {
				st.Max = op.Duration
			}
			s.Operations[op.Name] = st
			durations[op.Name] = append(durations[op.Name], op.Duration)
		}
	}

	for name, ds := range durations {
		sort.Slice(ds, func(i, j int) bool { return ds[i] < ds[j] })
		var sum time.Duration
		for _, d := range ds {
			sum += d
		}
		st := s.Operations[name]
		st.Avg = sum / time.Duration(len(ds))
		st.P50 = percentile(ds, 0.50)
		st.P95 = percentile(ds, 0.95)
		s.Operations[name] = st
	}

	s.Trend = m.trend()
	return s
}

// trend compares the recent half of the history against the older half.
func (m *Monitor) trend() string {
	n := len(m.completed)
	if n < 4 {
		return "stable"
	}
	half := n / 2
	var older, recent time.Duration
	for _, t := range m.completed[:half] {
		older += t.Duration
	}
	for _, t := range m.completed[half:] {
		recent += t.Duration
	}
	olderAvg := older / time.Duration(half)
	recentAvg := recent / time.Duration(n-half)

	switch {
	case recentAvg > olderAvg+olderAvg/5:
		return "degrading"
	case olderAvg > recentAvg+recentAvg/5:
		return "improving"
	default:
		return "stable"
	}
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
