package stacktrace

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/returndata"
)

// ErrInvalidEntry is returned when a JSON stack trace entry cannot be
// decoded.
var ErrInvalidEntry = errors.New("stacktrace: invalid entry")

// wireEntry is the JSON form of every entry variant. Quantities are hex
// encoded; type is the numeric discriminant.
type wireEntry struct {
	Type                 StackTraceEntryType            `json:"type"`
	SourceReference      *SourceReference               `json:"sourceReference,omitempty"`
	FunctionType         *compiler.ContractFunctionType `json:"functionType,omitempty"`
	Address              *common.Address                `json:"address,omitempty"`
	PC                   *hexutil.Uint64                `json:"pc,omitempty"`
	Precompile           *uint32                        `json:"precompile,omitempty"`
	Name                 string                         `json:"name,omitempty"`
	Diagnosis            string                         `json:"diagnosis,omitempty"`
	Message              json.RawMessage                `json:"message,omitempty"`
	ErrorCode            *hexutil.Big                   `json:"errorCode,omitempty"`
	Value                *hexutil.Big                   `json:"value,omitempty"`
	IsInvalidOpcodeError *bool                          `json:"isInvalidOpcodeError,omitempty"`
}

// MarshalJSON encodes the trace as an array of entry objects.
func (st SolidityStackTrace) MarshalJSON() ([]byte, error) {
	out := make([]wireEntry, len(st))
	for i, e := range st {
		w, err := toWire(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		out[i] = w
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the form produced by MarshalJSON.
func (st *SolidityStackTrace) UnmarshalJSON(data []byte) error {
	decoded, err := UnmarshalSolidityStackTrace(data)
	if err != nil {
		return err
	}
	*st = decoded
	return nil
}

// UnmarshalSolidityStackTrace decodes a JSON stack trace.
func UnmarshalSolidityStackTrace(data []byte) (SolidityStackTrace, error) {
	var raw []wireEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	st := make(SolidityStackTrace, len(raw))
	for i := range raw {
		e, err := fromWire(&raw[i])
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		st[i] = e
	}
	return st, nil
}

func bigOf(v *uint256.Int) *hexutil.Big {
	if v == nil {
		return nil
	}
	return (*hexutil.Big)(v.ToBig())
}

func u256Of(v *hexutil.Big) (*uint256.Int, error) {
	if v == nil {
		return nil, nil
	}
	out, overflow := uint256.FromBig(v.ToInt())
	if overflow || v.ToInt().Sign() < 0 {
		return nil, fmt.Errorf("%w: quantity out of range", ErrInvalidEntry)
	}
	return out, nil
}

func bytesMessage(b []byte) json.RawMessage {
	enc, _ := json.Marshal(hexutil.Bytes(b))
	return enc
}

func boolPtr(b bool) *bool { return &b }

func toWire(e StackTraceEntry) (wireEntry, error) {
	if e == nil {
		return wireEntry{}, fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	w := wireEntry{Type: e.Type(), SourceReference: e.Source()}
	switch x := e.(type) {
	case *CallstackEntry:
		ft := x.FunctionType
		w.FunctionType = &ft
	case *UnrecognizedCreateCallstackEntry:
	case *UnrecognizedContractCallstackEntry:
		w.Address = &x.Address
	case *InternalFunctionCallstackEntry:
		pc := hexutil.Uint64(x.PC)
		w.PC = &pc
	case *PrecompileError:
		w.Precompile = &x.Precompile
		w.Name, w.Diagnosis = x.Name, x.Diagnosis
	case *RevertError:
		w.Message = bytesMessage(x.Message)
		w.IsInvalidOpcodeError = boolPtr(x.IsInvalidOpcodeError)
	case *PanicError:
		w.ErrorCode = bigOf(x.ErrorCode)
	case *CustomError:
		msg, err := json.Marshal(x.Message)
		if err != nil {
			return w, err
		}
		w.Message = msg
	case *FunctionNotPayableError:
		w.Value = bigOf(x.Value)
	case *FallbackNotPayableError:
		w.Value = bigOf(x.Value)
	case *FallbackNotPayableAndNoReceiveError:
		w.Value = bigOf(x.Value)
	case *UnrecognizedCreateError:
		w.Message = bytesMessage(x.Message)
		w.IsInvalidOpcodeError = boolPtr(x.IsInvalidOpcodeError)
	case *UnrecognizedContractError:
		w.Address = &x.Address
		w.Message = bytesMessage(x.Message)
		w.IsInvalidOpcodeError = boolPtr(x.IsInvalidOpcodeError)
	case *InvalidParamsError, *UnrecognizedFunctionWithoutFallbackError,
		*MissingFallbackOrReceiveError, *ReturndataSizeError,
		*NonContractAccountCalledError, *CallFailedError, *DirectLibraryCallError,
		*OtherExecutionError, *UnmappedSolc063RevertError, *ContractTooLargeError,
		*ContractCallRunOutOfGasError:
	default:
		return w, fmt.Errorf("%w: unsupported entry %T", ErrInvalidEntry, e)
	}
	return w, nil
}

func (w *wireEntry) returnData() (returndata.ReturnData, error) {
	if len(w.Message) == 0 {
		return nil, nil
	}
	var b hexutil.Bytes
	if err := json.Unmarshal(w.Message, &b); err != nil {
		return nil, fmt.Errorf("%w: message: %v", ErrInvalidEntry, err)
	}
	return returndata.ReturnData(b), nil
}

func (w *wireEntry) invalidOpcode() bool {
	return w.IsInvalidOpcodeError != nil && *w.IsInvalidOpcodeError
}

func fromWire(w *wireEntry) (StackTraceEntry, error) {
	ref := w.SourceReference
	switch w.Type {
	case CallstackEntryType:
		e := &CallstackEntry{SourceReference: ref}
		if w.FunctionType != nil {
			e.FunctionType = *w.FunctionType
		}
		return e, nil
	case UnrecognizedCreateCallstackEntryType:
		return &UnrecognizedCreateCallstackEntry{}, nil
	case UnrecognizedContractCallstackEntryType:
		e := &UnrecognizedContractCallstackEntry{}
		if w.Address != nil {
			e.Address = *w.Address
		}
		return e, nil
	case InternalFunctionCallstackEntryType:
		e := &InternalFunctionCallstackEntry{SourceReference: ref}
		if w.PC != nil {
			e.PC = uint64(*w.PC)
		}
		return e, nil
	case PrecompileErrorType:
		e := &PrecompileError{Name: w.Name, Diagnosis: w.Diagnosis}
		if w.Precompile != nil {
			e.Precompile = *w.Precompile
		}
		return e, nil
	case RevertErrorType:
		rd, err := w.returnData()
		if err != nil {
			return nil, err
		}
		return &RevertError{Message: rd, SourceReference: ref, IsInvalidOpcodeError: w.invalidOpcode()}, nil
	case PanicErrorType:
		code, err := u256Of(w.ErrorCode)
		if err != nil {
			return nil, err
		}
		return &PanicError{ErrorCode: code, SourceReference: ref}, nil
	case CustomErrorType:
		e := &CustomError{SourceReference: ref}
		if len(w.Message) > 0 {
			if err := json.Unmarshal(w.Message, &e.Message); err != nil {
				return nil, fmt.Errorf("%w: message: %v", ErrInvalidEntry, err)
			}
		}
		return e, nil
	case FunctionNotPayableErrorType, FallbackNotPayableErrorType, FallbackNotPayableAndNoReceiveErrorType:
		v, err := u256Of(w.Value)
		if err != nil {
			return nil, err
		}
		switch w.Type {
		case FunctionNotPayableErrorType:
			return &FunctionNotPayableError{Value: v, SourceReference: ref}, nil
		case FallbackNotPayableErrorType:
			return &FallbackNotPayableError{Value: v, SourceReference: ref}, nil
		default:
			return &FallbackNotPayableAndNoReceiveError{Value: v, SourceReference: ref}, nil
		}
	case UnrecognizedCreateErrorType:
		rd, err := w.returnData()
		if err != nil {
			return nil, err
		}
		return &UnrecognizedCreateError{Message: rd, IsInvalidOpcodeError: w.invalidOpcode()}, nil
	case UnrecognizedContractErrorType:
		rd, err := w.returnData()
		if err != nil {
			return nil, err
		}
		e := &UnrecognizedContractError{Message: rd, IsInvalidOpcodeError: w.invalidOpcode()}
		if w.Address != nil {
			e.Address = *w.Address
		}
		return e, nil
	case InvalidParamsErrorType:
		return &InvalidParamsError{SourceReference: ref}, nil
	case UnrecognizedFunctionWithoutFallbackErrorType:
		return &UnrecognizedFunctionWithoutFallbackError{SourceReference: ref}, nil
	case MissingFallbackOrReceiveErrorType:
		return &MissingFallbackOrReceiveError{SourceReference: ref}, nil
	case ReturndataSizeErrorType:
		return &ReturndataSizeError{SourceReference: ref}, nil
	case NonContractAccountCalledErrorType:
		return &NonContractAccountCalledError{SourceReference: ref}, nil
	case CallFailedErrorType:
		return &CallFailedError{SourceReference: ref}, nil
	case DirectLibraryCallErrorType:
		return &DirectLibraryCallError{SourceReference: ref}, nil
	case OtherExecutionErrorType:
		return &OtherExecutionError{SourceReference: ref}, nil
	case UnmappedSolc063RevertErrorType:
		return &UnmappedSolc063RevertError{SourceReference: ref}, nil
	case ContractTooLargeErrorType:
		return &ContractTooLargeError{SourceReference: ref}, nil
	case ContractCallRunOutOfGasErrorType:
		return &ContractCallRunOutOfGasError{SourceReference: ref}, nil
	}
	return nil, fmt.Errorf("%w: unknown type %d", ErrInvalidEntry, w.Type)
}
