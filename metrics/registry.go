package metrics

import "sync"

// Registry holds metrics by name with get-or-create semantics, so callers
// never check for nil.
type Registry struct {
	mu         sync.RWMutex
	counters   map[string]*Counter
	gauges     map[string]*Gauge
	histograms map[string]*Histogram
}

// DefaultRegistry holds the metrics declared in standard.go.
var DefaultRegistry = NewRegistry()

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		counters:   make(map[string]*Counter),
		gauges:     make(map[string]*Gauge),
		histograms: make(map[string]*Histogram),
	}
}

// getOrCreate looks name up under the read lock and creates it under the
// write lock when missing.
func getOrCreate[M any](mu *sync.RWMutex, m map[string]*M, name string, create func(string) *M) *M {
	mu.RLock()
	v, ok := m[name]
	mu.RUnlock()
	if ok {
		return v
	}
	mu.Lock()
	defer mu.Unlock()
	if v, ok = m[name]; ok {
		return v
	}
	v = create(name)
	m[name] = v
	return v
}

// Counter returns the counter named name.
func (r *Registry) Counter(name string) *Counter {
	return getOrCreate(&r.mu, r.counters, name, NewCounter)
}

// Gauge returns the gauge named name.
func (r *Registry) Gauge(name string) *Gauge {
	return getOrCreate(&r.mu, r.gauges, name, NewGauge)
}

// Histogram returns the histogram named name.
func (r *Registry) Histogram(name string) *Histogram {
	return getOrCreate(&r.mu, r.histograms, name, NewHistogram)
}

// Snapshot returns the current values keyed by name: int64 for counters
// and gauges, HistogramSnapshot for histograms.
func (r *Registry) Snapshot() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	snap := make(map[string]interface{}, len(r.counters)+len(r.gauges)+len(r.histograms))
	for name, c := range r.counters {
		snap[name] = c.Value()
	}
	for name, g := range r.gauges {
		snap[name] = g.Value()
	}
	for name, h := range r.histograms {
		snap[name] = h.Snapshot()
	}
	return snap
}
