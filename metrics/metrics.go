// Package metrics provides the counters, gauges and latency histograms the
// decoder and the RPC server report. Counter and Gauge are lock free;
// Histogram guards its buckets with a mutex.
package metrics

import (
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ---------------------------------------------------------------------------
// Counter
// ---------------------------------------------------------------------------

// Counter is a monotonically increasing count.
type Counter struct {
	name  string
	value atomic.Int64
}

// NewCounter returns a counter named name.
func NewCounter(name string) *Counter { return &Counter{name: name} }

// Inc adds one.
func (c *Counter) Inc() { c.value.Add(1) }

// Add adds n. Non-positive values are ignored.
func (c *Counter) Add(n int64) {
	if n > 0 {
		c.value.Add(n)
	}
}

// Value returns the current count.
func (c *Counter) Value() int64 { return c.value.Load() }

// Name returns the metric name.
func (c *Counter) Name() string { return c.name }

// ---------------------------------------------------------------------------
// Gauge
// ---------------------------------------------------------------------------

// Gauge is a value that moves both ways, such as a queue depth.
type Gauge struct {
	name  string
	value atomic.Int64
}

// NewGauge returns a gauge named name.
func NewGauge(name string) *Gauge { return &Gauge{name: name} }

// Set replaces the value.
func (g *Gauge) Set(v int64) { g.value.Store(v) }

// Inc adds one.
func (g *Gauge) Inc() { g.value.Add(1) }

// Dec subtracts one.
func (g *Gauge) Dec() { g.value.Add(-1) }

// Value returns the current value.
func (g *Gauge) Value() int64 { return g.value.Load() }

// Name returns the metric name.
func (g *Gauge) Name() string { return g.name }

// ---------------------------------------------------------------------------
// Histogram
// ---------------------------------------------------------------------------

// DefaultBuckets are upper bounds in milliseconds suited to decode and
// request latencies.
var DefaultBuckets = []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// Histogram counts observations into cumulative buckets and tracks their
// sum, minimum and maximum.
type Histogram struct {
	name    string
	mu      sync.Mutex
	bounds  []float64
	buckets []int64
	count   int64
	sum     float64
	min     float64
	max     float64
}

// NewHistogram returns a histogram with DefaultBuckets.
func NewHistogram(name string) *Histogram {
	return NewHistogramWithBuckets(name, DefaultBuckets)
}

// NewHistogramWithBuckets returns a histogram with the given upper bounds.
// The bounds are copied and sorted.
func NewHistogramWithBuckets(name string, bounds []float64) *Histogram {
	b := append([]float64(nil), bounds...)
	sort.Float64s(b)
	return &Histogram{
		name:    name,
		bounds:  b,
		buckets: make([]int64, len(b)),
		min:     math.MaxFloat64,
		max:     -math.MaxFloat64,
	}
}

// Observe records v.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	h.sum += v
	h.min = math.Min(h.min, v)
	h.max = math.Max(h.max, v)
	if i := sort.SearchFloat64s(h.bounds, v); i < len(h.buckets) {
		h.buckets[i]++
	}
}

// Bucket is one cumulative histogram bucket.
type Bucket struct {
	UpperBound float64
	Count      int64
}

// HistogramSnapshot is a consistent copy of a histogram.
type HistogramSnapshot struct {
	Count    int64
	Sum      float64
	Min, Max float64
	Buckets  []Bucket
}

// Mean returns the average observation, or 0 without observations.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return s.Sum / float64(s.Count)
}

// Snapshot copies the histogram. Min and Max are 0 without observations.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HistogramSnapshot{Count: h.count, Sum: h.sum, Buckets: make([]Bucket, len(h.bounds))}
	if h.count > 0 {
		s.Min, s.Max = h.min, h.max
	}
	var cum int64
	for i, ub := range h.bounds {
		cum += h.buckets[i]
		s.Buckets[i] = Bucket{UpperBound: ub, Count: cum}
	}
	return s
}

// Count returns the number of observations.
func (h *Histogram) Count() int64 { return h.Snapshot().Count }

// Name returns the metric name.
func (h *Histogram) Name() string { return h.name }

// ---------------------------------------------------------------------------
// Timer
// ---------------------------------------------------------------------------

// Timer records elapsed wall time into a histogram in milliseconds.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a timer for h. A nil h records nothing.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records and returns the elapsed time.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(float64(d.Microseconds()) / 1000)
	}
	return d
}
