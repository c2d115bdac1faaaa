// Package rpc serves the stack trace decoder over JSON-RPC 2.0. It exposes
// the debug_ namespace methods, runs decodes on a bounded worker pool and
// records request and decode metrics.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/eth2030/soltrace/returndata"
	"github.com/eth2030/soltrace/trace"
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// RPCError is a JSON-RPC 2.0 error.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

// Error codes.
const (
	ErrCodeParse          = -32700
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternal       = -32603

	// ErrCodeTimeout reports a decode that did not finish before the
	// request deadline.
	ErrCodeTimeout = -32000
)

// Config configures the server and its worker pool.
type Config struct {
	// Workers is the number of concurrent decodes. Zero uses one per CPU.
	Workers int
	// QueueSize is the number of decodes that may wait for a worker.
	QueueSize int
	// Timeout bounds each request. Zero disables the deadline.
	Timeout time.Duration
	// MaxBodySize is the largest accepted request body in bytes.
	MaxBodySize int64
	// MaxBatchSize is the largest accepted batch, and the largest
	// debug_solidityStackTraces argument.
	MaxBatchSize int
}

// DefaultConfig returns the server defaults.
func DefaultConfig() Config {
	return Config{
		QueueSize:    256,
		Timeout:      10 * time.Second,
		MaxBodySize:  32 << 20,
		MaxBatchSize: 100,
	}
}

// DecodedReturnData is the result of debug_decodeReturnData.
type DecodedReturnData struct {
	Kind    string        `json:"kind"`
	Reason  string        `json:"reason,omitempty"`
	Code    *hexutil.Big  `json:"code,omitempty"`
	Error   string        `json:"error,omitempty"`
	Message string        `json:"message"`
	Data    hexutil.Bytes `json:"data"`
}

func newDecodedReturnData(d returndata.Decoded) *DecodedReturnData {
	out := &DecodedReturnData{Kind: d.Kind.String(), Data: hexutil.Bytes(d.Data)}
	switch d.Kind {
	case returndata.Revert:
		out.Reason = d.Reason
		out.Message = fmt.Sprintf("reverted with reason string '%s'", d.Reason)
	case returndata.Panic:
		out.Code = (*hexutil.Big)(d.Code.ToBig())
		out.Message = returndata.PanicMessage(d.Code)
	case returndata.CustomError:
		out.Error = d.Error.Sig
		out.Message = d.Message
	case returndata.Unrecognized:
		out.Message = returndata.UnrecognizedCustomErrorMessage(d.Data)
	default:
		out.Message = "reverted without a reason"
	}
	return out
}

// errorCode maps a handler error to its JSON-RPC code.
func errorCode(err error) int {
	var rpcErr *RPCError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr.Code
	case errors.Is(err, ErrMethodNotFound):
		return ErrCodeMethodNotFound
	case errors.Is(err, ErrInvalidParams), errors.Is(err, trace.ErrInvalidTrace):
		return ErrCodeInvalidParams
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeout
	default:
		return ErrCodeInternal
	}
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		Error:   &RPCError{Code: code, Message: message},
		ID:      id,
	}
}
