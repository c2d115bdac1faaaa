package rpc

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eth2030/soltrace/log"
	"github.com/eth2030/soltrace/metrics"
)

// MetricsMiddleware counts calls and errors and records call latency.
func MetricsMiddleware(requests, errs *metrics.Counter, latency *metrics.Histogram) Middleware {
	return func(ctx context.Context, method string, params []json.RawMessage, next MethodHandler) (interface{}, error) {
		requests.Inc()
		timer := metrics.NewTimer(latency)
		res, err := next(ctx, params)
		timer.Stop()
		if err != nil {
			errs.Inc()
		}
		return res, err
	}
}

// LoggingMiddleware logs every call at debug level and failed calls with
// their JSON-RPC code.
func LoggingMiddleware(logger *log.Logger) Middleware {
	return func(ctx context.Context, method string, params []json.RawMessage, next MethodHandler) (interface{}, error) {
		start := time.Now()
		res, err := next(ctx, params)
		elapsed := time.Since(start)
		if err != nil {
			code := errorCode(err)
			if code == ErrCodeInternal || code == ErrCodeTimeout {
				logger.Warn("RPC call failed", "method", method, "code", code, "err", err, "elapsed", elapsed)
			} else {
				logger.Debug("RPC call rejected", "method", method, "code", code, "err", err)
			}
			return res, err
		}
		logger.Debug("Served RPC call", "method", method, "params", len(params), "elapsed", elapsed)
		return res, err
	}
}
