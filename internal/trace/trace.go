// Package trace records per-request operation timings and keeps a bounded
// history for aggregate reporting and bottleneck analysis.
package trace

import (
	"runtime"
	"sync"
	"time"
)

// Operation is one timed stage inside a request.
type Operation struct {
	Name      string                 `json:"name"`
	Start     time.Time              `json:"start"`
	End       time.Time              `json:"end"`
	Duration  time.Duration          `json:"duration_ns"`
	Success   bool                   `json:"success"`
	Err       string                 `json:"error,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	HeapStart uint64                 `json:"heap_start_bytes"`
	HeapEnd   uint64                 `json:"heap_end_bytes"`

	trace *RequestTrace
}

// Finish closes the operation with its outcome. It is safe to call once per
// operation.
func (o *Operation) Finish(err error) {
	o.End = time.Now()
	o.Duration = o.End.Sub(o.Start)
	o.Success = err == nil
	if err != nil {
		o.Err = err.Error()
	}
	o.HeapEnd = heapAlloc()

	if o.trace != nil {
		o.trace.mu.Lock()
		o.trace.Operations = append(o.trace.Operations, *o)
		o.trace.mu.Unlock()
	}
}

// RequestTrace accumulates the operations of one request.
type RequestTrace struct {
	ID         string                 `json:"id"`
	Start      time.Time              `json:"start"`
	End        time.Time              `json:"end"`
	Duration   time.Duration          `json:"duration_ns"`
	Operations []Operation            `json:"operations"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`

	mu sync.Mutex
}

// StartOperation opens a timed stage. The returned Operation is appended to
// the trace when Finish is called.
func (t *RequestTrace) StartOperation(name string, metadata map[string]interface{}) *Operation {
	return &Operation{
		Name:      name,
		Start:     time.Now(),
		Metadata:  metadata,
		HeapStart: heapAlloc(),
		trace:     t,
	}
}

func (t *RequestTrace) finalize() {
	t.End = time.Now()
	t.Duration = t.End.Sub(t.Start)
}

// Bottleneck describes one finding from trace analysis.
type Bottleneck struct {
	Kind      string        `json:"kind"`
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration_ns"`
	Detail    string        `json:"detail"`
}

// memoryGrowthLimit flags operations whose heap delta suggests the document or
// its chunks are being held longer than necessary.
const memoryGrowthLimit = 100 * 1024 * 1024

// Bottlenecks inspects a finished trace against per-operation thresholds.
func (t *RequestTrace) Bottlenecks(thresholds map[string]time.Duration) []Bottleneck {
	t.mu.Lock()
	defer t.mu.Unlock()

	var findings []Bottleneck

	var slowest *Operation
	for i := range t.Operations {
		op := &t.Operations[i]
		if slowest == nil || op.Duration > slowest.Duration {
			slowest = op
		}

		if limit, ok := thresholds[op.Name]; ok && op.Duration > limit {
			findings = append(findings, Bottleneck{
				Kind:      "threshold_exceeded",
				Operation: op.Name,
				Duration:  op.Duration,
				Detail:    "exceeded budget by " + (op.Duration - limit).String(),
			})
		}

		if op.HeapEnd > op.HeapStart && op.HeapEnd-op.HeapStart > memoryGrowthLimit {
			findings = append(findings, Bottleneck{
				Kind:      "memory_growth",
				Operation: op.Name,
				Duration:  op.Duration,
				Detail:    "heap grew beyond the per-operation allowance",
			})
		}
	}

	if slowest != nil && t.Duration > 0 {
		percent := float64(slowest.Duration) / float64(t.Duration) * 100
		if percent >= 50 {
			findings = append(findings, Bottleneck{
				Kind:      "dominant_operation",
				Operation: slowest.Name,
				Duration:  slowest.Duration,
				Detail:    "single operation dominates the request",
			})
		}
	}

	if limit, ok := thresholds["total_request"]; ok && t.Duration > limit {
		findings = append(findings, Bottleneck{
			Kind:      "threshold_exceeded",
			Operation: "total_request",
			Duration:  t.Duration,
			Detail:    "exceeded budget by " + (t.Duration - limit).String(),
		})
	}

	return findings
}

func heapAlloc() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapAlloc
}
