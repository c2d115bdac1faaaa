package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/eth2030/soltrace/log"
	"github.com/eth2030/soltrace/metrics"
	"github.com/eth2030/soltrace/stacktrace"
)

// Server is a JSON-RPC HTTP server for the debug API.
type Server struct {
	cfg      Config
	registry *MethodRegistry
	pool     *Pool
	api      *DebugAPI
	log      *log.Logger
}

// NewServer builds the server and starts its worker pool. Close stops it.
func NewServer(decoder *stacktrace.Decoder, contracts stacktrace.ContractResolver, cfg Config) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		registry: NewMethodRegistry(),
		pool:     NewPool(cfg.Workers, cfg.QueueSize),
		log:      log.Default().Module("rpc"),
	}
	s.api = NewDebugAPI(decoder, contracts, s.pool, cfg.MaxBatchSize)
	s.registry.AddMiddleware(MetricsMiddleware(metrics.RPCRequests, metrics.RPCErrors, metrics.RPCLatency))
	s.registry.AddMiddleware(LoggingMiddleware(s.log))
	if err := s.registry.RegisterBatch(s.api.Methods()); err != nil {
		s.pool.Close()
		return nil, err
	}
	return s, nil
}

// Registry returns the method registry, for registering extra methods.
func (s *Server) Registry() *MethodRegistry { return s.registry }

// API returns the debug API.
func (s *Server) API() *DebugAPI { return s.api }

// Close stops the worker pool.
func (s *Server) Close() { s.pool.Close() }

// ServeHTTP handles single and batch JSON-RPC requests sent by POST.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := r.Body
	if s.cfg.MaxBodySize > 0 {
		body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodySize)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, errorResponse(nil, ErrCodeInvalidRequest, "request body too large"))
			return
		}
		writeJSON(w, errorResponse(nil, ErrCodeParse, "failed to read request body"))
		return
	}

	ctx := r.Context()
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		writeJSON(w, s.handleBatch(ctx, data))
		return
	}
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		writeJSON(w, errorResponse(nil, ErrCodeParse, "invalid JSON"))
		return
	}
	writeJSON(w, s.handle(ctx, &req))
}

func (s *Server) handleBatch(ctx context.Context, data []byte) interface{} {
	var reqs []Request
	if err := json.Unmarshal(data, &reqs); err != nil {
		return errorResponse(nil, ErrCodeParse, "invalid JSON")
	}
	switch {
	case len(reqs) == 0:
		return errorResponse(nil, ErrCodeInvalidRequest, "empty batch")
	case s.cfg.MaxBatchSize > 0 && len(reqs) > s.cfg.MaxBatchSize:
		return errorResponse(nil, ErrCodeInvalidRequest, "batch too large")
	}
	out := make([]*Response, len(reqs))
	for i := range reqs {
		out[i] = s.handle(ctx, &reqs[i])
	}
	return out
}

// handle runs one request through the registry.
func (s *Server) handle(ctx context.Context, req *Request) *Response {
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, ErrCodeInvalidRequest, "invalid request")
	}
	result, err := s.registry.Call(ctx, req.Method, req.Params)
	if err != nil {
		return errorResponse(req.ID, errorCode(err), err.Error())
	}
	return &Response{JSONRPC: "2.0", Result: result, ID: req.ID}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
