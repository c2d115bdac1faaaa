package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Primitives
// ---------------------------------------------------------------------------

func TestCounter_IncAndAdd(t *testing.T) {
	c := NewCounter("decode.requests")
	c.Inc()
	c.Add(9)
	c.Add(-5)
	c.Add(0)
	if c.Value() != 10 {
		t.Fatalf("value = %d, want 10", c.Value())
	}
	if c.Name() != "decode.requests" {
		t.Fatalf("name = %q", c.Name())
	}
}

func TestGauge_SetIncDec(t *testing.T) {
	g := NewGauge("decode.queue_depth")
	g.Set(3)
	g.Inc()
	g.Dec()
	g.Dec()
	if g.Value() != 2 {
		t.Fatalf("value = %d, want 2", g.Value())
	}
}

func TestHistogram_Snapshot(t *testing.T) {
	h := NewHistogramWithBuckets("latency", []float64{10, 1, 5})
	if s := h.Snapshot(); s.Count != 0 || s.Min != 0 || s.Max != 0 || s.Mean() != 0 {
		t.Fatalf("empty snapshot = %+v", s)
	}
	for _, v := range []float64{0.5, 1, 3, 7, 50} {
		h.Observe(v)
	}
	s := h.Snapshot()
	if s.Count != 5 || s.Sum != 61.5 || s.Min != 0.5 || s.Max != 50 {
		t.Fatalf("snapshot = %+v", s)
	}
	want := []Bucket{{1, 2}, {5, 3}, {10, 4}}
	if len(s.Buckets) != len(want) {
		t.Fatalf("buckets = %v, want %v", s.Buckets, want)
	}
	for i := range want {
		if s.Buckets[i] != want[i] {
			t.Fatalf("bucket %d = %v, want %v", i, s.Buckets[i], want[i])
		}
	}
	if s.Mean() != 12.3 {
		t.Fatalf("mean = %v, want 12.3", s.Mean())
	}
}

func TestTimer_Stop(t *testing.T) {
	h := NewHistogram("decode.latency_ms")
	timer := NewTimer(h)
	time.Sleep(2 * time.Millisecond)
	if d := timer.Stop(); d < 2*time.Millisecond {
		t.Fatalf("duration = %v, want >= 2ms", d)
	}
	if s := h.Snapshot(); s.Count != 1 || s.Min < 2 {
		t.Fatalf("snapshot = %+v", s)
	}
	if d := NewTimer(nil).Stop(); d < 0 {
		t.Fatalf("nil histogram duration = %v", d)
	}
}

func TestConcurrency(t *testing.T) {
	r := NewRegistry()
	const goroutines, iterations = 50, 200

	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iterations; j++ {
				r.Counter("c").Inc()
				r.Gauge("g").Inc()
				r.Gauge("g").Dec()
				r.Histogram("h").Observe(float64(j))
			}
		}()
	}
	wg.Wait()

	want := int64(goroutines * iterations)
	if got := r.Counter("c").Value(); got != want {
		t.Fatalf("counter = %d, want %d", got, want)
	}
	if got := r.Gauge("g").Value(); got != 0 {
		t.Fatalf("gauge = %d, want 0", got)
	}
	if got := r.Histogram("h").Count(); got != want {
		t.Fatalf("histogram count = %d, want %d", got, want)
	}
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestRegistry_GetOrCreate(t *testing.T) {
	r := NewRegistry()
	if r.Counter("a") != r.Counter("a") || r.Gauge("a") != r.Gauge("a") || r.Histogram("a") != r.Histogram("a") {
		t.Fatal("second lookup returned a different instance")
	}
}

func TestRegistry_Snapshot(t *testing.T) {
	r := NewRegistry()
	r.Counter("c").Add(5)
	r.Gauge("g").Set(42)
	r.Histogram("h").Observe(10)

	snap := r.Snapshot()
	if v := snap["c"].(int64); v != 5 {
		t.Fatalf("c = %d, want 5", v)
	}
	if v := snap["g"].(int64); v != 42 {
		t.Fatalf("g = %d, want 42", v)
	}
	if v := snap["h"].(HistogramSnapshot); v.Count != 1 || v.Sum != 10 {
		t.Fatalf("h = %+v", v)
	}
}

func TestStandardMetrics(t *testing.T) {
	before := EntryCounter("REVERT_ERROR").Value()
	EntryCounter("REVERT_ERROR").Inc()
	if got := DefaultRegistry.Counter("stacktrace.entry.REVERT_ERROR").Value(); got != before+1 {
		t.Fatalf("entry counter = %d, want %d", got, before+1)
	}
	for _, c := range []*Counter{RPCRequests, RPCErrors, DecodeRequests, DecodeFailures} {
		if !strings.Contains(c.Name(), ".") {
			t.Fatalf("metric %q is not dotted", c.Name())
		}
	}
}

// ---------------------------------------------------------------------------
// Prometheus exposition
// ---------------------------------------------------------------------------

func TestPrometheusExporter(t *testing.T) {
	r := NewRegistry()
	r.Counter("rpc.requests").Add(3)
	r.Gauge("decode.queue_depth").Set(2)
	r.Histogram("decode.latency_ms").Observe(0.7)

	pe := NewPrometheusExporter(r, PrometheusConfig{Namespace: "soltrace"})
	rec := httptest.NewRecorder()
	pe.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		"# TYPE soltrace_rpc_requests counter\nsoltrace_rpc_requests 3\n",
		"soltrace_decode_queue_depth 2\n",
		"# TYPE soltrace_decode_latency_ms histogram\n",
		`soltrace_decode_latency_ms_bucket{le="0.5"} 0`,
		`soltrace_decode_latency_ms_bucket{le="1"} 1`,
		`soltrace_decode_latency_ms_bucket{le="+Inf"} 1`,
		"soltrace_decode_latency_ms_count 1\n",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("exposition missing %q:\n%s", want, body)
		}
	}
	if strings.Contains(body, "go_goroutines") {
		t.Fatal("runtime metrics written while disabled")
	}

	rec = httptest.NewRecorder()
	pe.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/metrics", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST status = %d, want 405", rec.Code)
	}
}

func TestPrometheusExporter_Runtime(t *testing.T) {
	pe := NewPrometheusExporter(NewRegistry(), DefaultPrometheusConfig())
	var b strings.Builder
	if _, err := pe.WriteTo(&b); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	if !strings.Contains(b.String(), "soltrace_go_goroutines ") {
		t.Fatalf("runtime metrics missing:\n%s", b.String())
	}
}
