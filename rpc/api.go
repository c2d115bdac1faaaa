package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/sync/errgroup"

	"github.com/eth2030/soltrace/log"
	"github.com/eth2030/soltrace/metrics"
	"github.com/eth2030/soltrace/returndata"
	"github.com/eth2030/soltrace/stacktrace"
	"github.com/eth2030/soltrace/trace"
)

// DebugAPI implements the debug_ methods on top of a decoder.
type DebugAPI struct {
	decoder   *stacktrace.Decoder
	contracts stacktrace.ContractResolver
	pool      *Pool
	maxBatch  int
	log       *log.Logger
}

// NewDebugAPI returns the API. contracts may be nil, in which case
// debug_decodeReturnData knows no custom errors.
func NewDebugAPI(decoder *stacktrace.Decoder, contracts stacktrace.ContractResolver, pool *Pool, maxBatch int) *DebugAPI {
	return &DebugAPI{
		decoder:   decoder,
		contracts: contracts,
		pool:      pool,
		maxBatch:  maxBatch,
		log:       log.Default().Module("rpc"),
	}
}

// SolidityStackTrace decodes one message trace. A successful trace yields
// an empty stack trace.
func (api *DebugAPI) SolidityStackTrace(ctx context.Context, msg *trace.MessageTrace) (stacktrace.SolidityStackTrace, error) {
	metrics.DecodeRequests.Inc()

	var (
		st  stacktrace.SolidityStackTrace
		err error
	)
	if perr := api.pool.Do(ctx, func() {
		timer := metrics.NewTimer(metrics.DecodeLatency)
		st, err = api.decoder.Decode(msg)
		timer.Stop()
	}); perr != nil {
		metrics.DecodeFailures.Inc()
		return nil, perr
	}
	if err != nil {
		metrics.DecodeFailures.Inc()
		return nil, err
	}
	if last := st.Last(); last != nil {
		metrics.EntryCounter(last.Type().String()).Inc()
		api.log.Debug("Decoded stack trace", "entries", len(st), "failure", last.Type())
	}
	return st, nil
}

// SolidityStackTraces decodes several traces concurrently. The first
// failure cancels the rest.
func (api *DebugAPI) SolidityStackTraces(ctx context.Context, msgs []*trace.MessageTrace) ([]stacktrace.SolidityStackTrace, error) {
	if api.maxBatch > 0 && len(msgs) > api.maxBatch {
		return nil, fmt.Errorf("%w: %d traces exceed the limit of %d", ErrInvalidParams, len(msgs), api.maxBatch)
	}
	out := make([]stacktrace.SolidityStackTrace, len(msgs))
	g, gctx := errgroup.WithContext(ctx)
	for i, msg := range msgs {
		g.Go(func() error {
			st, err := api.SolidityStackTrace(gctx, msg)
			if err != nil {
				return fmt.Errorf("trace %d: %w", i, err)
			}
			out[i] = st
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// DecodeReturnData classifies return data. When code is given, the custom
// errors of the contract it identifies are tried as well.
func (api *DebugAPI) DecodeReturnData(data, code []byte) *DecodedReturnData {
	return newDecodedReturnData(returndata.Decode(data, api.customErrors(code)))
}

func (api *DebugAPI) customErrors(code []byte) []abi.Error {
	if api.contracts == nil || len(code) == 0 {
		return nil
	}
	bc := api.contracts.Lookup(code, false)
	if bc == nil || bc.Contract == nil {
		return nil
	}
	return bc.Contract.CustomErrors
}

// Methods returns the JSON-RPC bindings of the API.
func (api *DebugAPI) Methods() []MethodInfo {
	return []MethodInfo{
		{
			Name:        "debug_solidityStackTrace",
			Description: "Decode a message trace into a Solidity stack trace",
			MinParams:   1,
			MaxParams:   1,
			Handler: func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
				msg := new(trace.MessageTrace)
				if err := unmarshalParam(params[0], msg); err != nil {
					return nil, err
				}
				return api.SolidityStackTrace(ctx, msg)
			},
		},
		{
			Name:        "debug_solidityStackTraces",
			Description: "Decode several message traces",
			MinParams:   1,
			MaxParams:   1,
			Handler: func(ctx context.Context, params []json.RawMessage) (interface{}, error) {
				var msgs []*trace.MessageTrace
				if err := unmarshalParam(params[0], &msgs); err != nil {
					return nil, err
				}
				return api.SolidityStackTraces(ctx, msgs)
			},
		},
		{
			Name:        "debug_decodeReturnData",
			Description: "Classify revert data, optionally against the custom errors of a contract",
			MinParams:   1,
			MaxParams:   2,
			Handler: func(_ context.Context, params []json.RawMessage) (interface{}, error) {
				var data, code hexutil.Bytes
				if err := unmarshalParam(params[0], &data); err != nil {
					return nil, err
				}
				if len(params) > 1 && string(params[1]) != "null" {
					if err := unmarshalParam(params[1], &code); err != nil {
						return nil, err
					}
				}
				return api.DecodeReturnData(data, code), nil
			},
		},
	}
}

func unmarshalParam(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidParams, err)
	}
	return nil
}
