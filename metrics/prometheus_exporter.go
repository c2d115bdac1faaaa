package metrics

import (
	"fmt"
	"io"
	"math"
	"net/http"
	"runtime"
	"sort"
	"strings"
	"time"
)

// PrometheusConfig configures the text exposition.
type PrometheusConfig struct {
	// Namespace prefixes every metric name ("soltrace" gives
	// "soltrace_rpc_requests").
	Namespace string
	// EnableRuntime adds Go runtime gauges.
	EnableRuntime bool
}

// DefaultPrometheusConfig returns the configuration used by the server.
func DefaultPrometheusConfig() PrometheusConfig {
	return PrometheusConfig{Namespace: "soltrace", EnableRuntime: true}
}

// PrometheusExporter renders a Registry in the Prometheus text format.
type PrometheusExporter struct {
	config   PrometheusConfig
	registry *Registry
}

// NewPrometheusExporter returns an exporter reading from registry.
func NewPrometheusExporter(registry *Registry, config PrometheusConfig) *PrometheusExporter {
	return &PrometheusExporter{config: config, registry: registry}
}

// Handler serves the exposition on GET and HEAD.
func (pe *PrometheusExporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		pe.WriteTo(w)
	})
}

// WriteTo writes the exposition to w.
func (pe *PrometheusExporter) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	pe.writeRegistry(&b)
	if pe.config.EnableRuntime {
		pe.writeRuntime(&b)
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func (pe *PrometheusExporter) writeRegistry(b *strings.Builder) {
	pe.registry.mu.RLock()
	defer pe.registry.mu.RUnlock()

	for _, name := range sortedKeys(pe.registry.counters) {
		prom := pe.promName(name)
		writeHeader(b, prom, "counter", name)
		fmt.Fprintf(b, "%s %d\n", prom, pe.registry.counters[name].Value())
	}
	for _, name := range sortedKeys(pe.registry.gauges) {
		prom := pe.promName(name)
		writeHeader(b, prom, "gauge", name)
		fmt.Fprintf(b, "%s %d\n", prom, pe.registry.gauges[name].Value())
	}
	for _, name := range sortedKeys(pe.registry.histograms) {
		s := pe.registry.histograms[name].Snapshot()
		prom := pe.promName(name)
		writeHeader(b, prom, "histogram", name)
		for _, bk := range s.Buckets {
			fmt.Fprintf(b, "%s_bucket{le=%q} %d\n", prom, formatFloat(bk.UpperBound), bk.Count)
		}
		fmt.Fprintf(b, "%s_bucket{le=\"+Inf\"} %d\n", prom, s.Count)
		fmt.Fprintf(b, "%s_sum %s\n", prom, formatFloat(s.Sum))
		fmt.Fprintf(b, "%s_count %d\n", prom, s.Count)
	}
}

func (pe *PrometheusExporter) writeRuntime(b *strings.Builder) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	gauge := func(name, help string, v float64) {
		prom := pe.promName(name)
		writeHeader(b, prom, "gauge", help)
		fmt.Fprintf(b, "%s %s\n", prom, formatFloat(v))
	}
	gauge("go.goroutines", "Number of goroutines", float64(runtime.NumGoroutine()))
	gauge("go.memstats.heap_alloc_bytes", "Bytes of allocated heap objects", float64(m.HeapAlloc))
	gauge("go.memstats.sys_bytes", "Bytes obtained from the OS", float64(m.Sys))
	gauge("go.gc.cycles", "Completed GC cycles", float64(m.NumGC))
	gauge("process.start_time_seconds", "Process start time in seconds since epoch", float64(processStartTime.Unix()))
}

// promName maps a dotted metric name to a Prometheus name.
func (pe *PrometheusExporter) promName(name string) string {
	s := strings.NewReplacer(".", "_", "-", "_").Replace(name)
	if pe.config.Namespace != "" {
		return pe.config.Namespace + "_" + s
	}
	return s
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "+Inf"
	case math.IsInf(v, -1):
		return "-Inf"
	case math.IsNaN(v):
		return "NaN"
	}
	return fmt.Sprintf("%g", v)
}

func writeHeader(b *strings.Builder, name, typ, help string) {
	fmt.Fprintf(b, "# HELP %s %s\n# TYPE %s %s\n", name, help, name, typ)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var processStartTime = time.Now()
