package metrics

// Process-wide metrics. All live in DefaultRegistry.

var (
	// ---- RPC ----

	// RPCRequests counts JSON-RPC requests.
	RPCRequests = DefaultRegistry.Counter("rpc.requests")
	// RPCErrors counts JSON-RPC requests answered with an error.
	RPCErrors = DefaultRegistry.Counter("rpc.errors")
	// RPCLatency records request latency in milliseconds.
	RPCLatency = DefaultRegistry.Histogram("rpc.latency_ms")

	// ---- Decoder ----

	// DecodeRequests counts traces submitted for decoding.
	DecodeRequests = DefaultRegistry.Counter("decode.requests")
	// DecodeFailures counts traces rejected as invalid or timed out.
	DecodeFailures = DefaultRegistry.Counter("decode.failures")
	// DecodeLatency records decode time in milliseconds.
	DecodeLatency = DefaultRegistry.Histogram("decode.latency_ms")
	// DecodeQueueDepth tracks decodes waiting for a worker.
	DecodeQueueDepth = DefaultRegistry.Gauge("decode.queue_depth")
)

// EntryCounter returns the counter of stack traces ending in the failure
// named kind, such as "REVERT_ERROR".
func EntryCounter(kind string) *Counter {
	return DefaultRegistry.Counter("stacktrace.entry." + kind)
}
