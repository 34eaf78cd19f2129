package monitor

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// RunStats tracks engine health during a backtest: throughput counters plus
// a latency histogram for remote inference round trips.
type RunStats struct {
	barsProcessed    uint64
	ordersFilled     uint64
	signalsGenerated uint64
	errorsCount      uint64

	InferenceLatency *LatencyHistogram

	startedAt time.Time
}

// NewRunStats creates a stats instance anchored at now.
func NewRunStats() *RunStats {
	return &RunStats{
		InferenceLatency: NewLatencyHistogram(1000),
		startedAt:        time.Now(),
	}
}

func (s *RunStats) BarProcessed()    { atomic.AddUint64(&s.barsProcessed, 1) }
func (s *RunStats) OrderFilled()     { atomic.AddUint64(&s.ordersFilled, 1) }
func (s *RunStats) SignalGenerated() { atomic.AddUint64(&s.signalsGenerated, 1) }
func (s *RunStats) Error()           { atomic.AddUint64(&s.errorsCount, 1) }

// Snapshot is the read-only health view exposed to the presentation layer.
type Snapshot struct {
	BarsProcessed    uint64       `json:"bars_processed"`
	OrdersFilled     uint64       `json:"orders_filled"`
	SignalsGenerated uint64       `json:"signals_generated"`
	Errors           uint64       `json:"errors"`
	Uptime           string       `json:"uptime"`
	InferenceLatency LatencyStats `json:"inference_latency_ms"`
}

// GetSnapshot captures current counters and latency stats.
func (s *RunStats) GetSnapshot() Snapshot {
	return Snapshot{
		BarsProcessed:    atomic.LoadUint64(&s.barsProcessed),
		OrdersFilled:     atomic.LoadUint64(&s.ordersFilled),
		SignalsGenerated: atomic.LoadUint64(&s.signalsGenerated),
		Errors:           atomic.LoadUint64(&s.errorsCount),
		Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
		InferenceLatency: s.InferenceLatency.Stats(),
	}
}

// LatencyHistogram tracks latency samples over a sliding window.
type LatencyHistogram struct {
	mu      sync.Mutex
	samples []float64
	maxSize int
}

// LatencyStats summarizes a histogram.
type LatencyStats struct {
	Count int     `json:"count"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
}

// NewLatencyHistogram creates a sliding window histogram.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{samples: make([]float64, 0, size), maxSize: size}
}

// Record adds a latency sample in milliseconds.
func (h *LatencyHistogram) Record(latencyMs float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.samples) >= h.maxSize {
		h.samples = h.samples[1:]
	}
	h.samples = append(h.samples, latencyMs)
}

// RecordDuration converts a duration to ms and records it.
func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d.Nanoseconds()) / 1e6)
}

// Stats returns min, max, avg, p50 and p95 over the window.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	n := len(h.samples)
	if n == 0 {
		return LatencyStats{}
	}
	sorted := make([]float64, n)
	copy(sorted, h.samples)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return LatencyStats{
		Count: n,
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   sorted[n/2],
		P95:   sorted[int(float64(n)*0.95)],
	}
}
