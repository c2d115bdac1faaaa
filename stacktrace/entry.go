// Package stacktrace turns a failed message trace into a Solidity-level
// stack trace: the chain of still-active frames followed by exactly one
// entry explaining the failure.
package stacktrace

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/returndata"
)

// StackTraceEntryType is the discriminant of a stack trace entry. The
// numeric values are a wire contract and must never be renumbered.
type StackTraceEntryType uint8

const (
	CallstackEntryType                           StackTraceEntryType = 0
	UnrecognizedCreateCallstackEntryType         StackTraceEntryType = 1
	UnrecognizedContractCallstackEntryType       StackTraceEntryType = 2
	PrecompileErrorType                          StackTraceEntryType = 3
	RevertErrorType                              StackTraceEntryType = 4
	PanicErrorType                               StackTraceEntryType = 5
	CustomErrorType                              StackTraceEntryType = 6
	FunctionNotPayableErrorType                  StackTraceEntryType = 7
	InvalidParamsErrorType                       StackTraceEntryType = 8
	FallbackNotPayableErrorType                  StackTraceEntryType = 9
	FallbackNotPayableAndNoReceiveErrorType      StackTraceEntryType = 10
	UnrecognizedFunctionWithoutFallbackErrorType StackTraceEntryType = 11
	MissingFallbackOrReceiveErrorType            StackTraceEntryType = 12
	ReturndataSizeErrorType                      StackTraceEntryType = 13
	NonContractAccountCalledErrorType            StackTraceEntryType = 14
	CallFailedErrorType                          StackTraceEntryType = 15
	DirectLibraryCallErrorType                   StackTraceEntryType = 16
	UnrecognizedCreateErrorType                  StackTraceEntryType = 17
	UnrecognizedContractErrorType                StackTraceEntryType = 18
	OtherExecutionErrorType                      StackTraceEntryType = 19
	UnmappedSolc063RevertErrorType               StackTraceEntryType = 20
	ContractTooLargeErrorType                    StackTraceEntryType = 21
	InternalFunctionCallstackEntryType           StackTraceEntryType = 22
	ContractCallRunOutOfGasErrorType             StackTraceEntryType = 23

	numEntryTypes = 24
)

var entryTypeNames = [numEntryTypes]string{
	"CALLSTACK_ENTRY",
	"UNRECOGNIZED_CREATE_CALLSTACK_ENTRY",
	"UNRECOGNIZED_CONTRACT_CALLSTACK_ENTRY",
	"PRECOMPILE_ERROR",
	"REVERT_ERROR",
	"PANIC_ERROR",
	"CUSTOM_ERROR",
	"FUNCTION_NOT_PAYABLE_ERROR",
	"INVALID_PARAMS_ERROR",
	"FALLBACK_NOT_PAYABLE_ERROR",
	"FALLBACK_NOT_PAYABLE_AND_NO_RECEIVE_ERROR",
	"UNRECOGNIZED_FUNCTION_WITHOUT_FALLBACK_ERROR",
	"MISSING_FALLBACK_OR_RECEIVE_ERROR",
	"RETURNDATA_SIZE_ERROR",
	"NONCONTRACT_ACCOUNT_CALLED_ERROR",
	"CALL_FAILED_ERROR",
	"DIRECT_LIBRARY_CALL_ERROR",
	"UNRECOGNIZED_CREATE_ERROR",
	"UNRECOGNIZED_CONTRACT_ERROR",
	"OTHER_EXECUTION_ERROR",
	"UNMAPPED_SOLC_0_6_3_REVERT_ERROR",
	"CONTRACT_TOO_LARGE_ERROR",
	"INTERNAL_FUNCTION_CALLSTACK_ENTRY",
	"CONTRACT_CALL_RUN_OUT_OF_GAS_ERROR",
}

// String returns the upper-snake-case name of the type.
func (t StackTraceEntryType) String() string {
	if t < numEntryTypes {
		return entryTypeNames[t]
	}
	return fmt.Sprintf("STACK_TRACE_ENTRY_TYPE(%d)", uint8(t))
}

// Valid reports whether t is one of the defined types.
func (t StackTraceEntryType) Valid() bool { return t < numEntryTypes }

// IsFrame reports whether entries of this type describe a still-active
// caller rather than the failure itself.
func (t StackTraceEntryType) IsFrame() bool {
	switch t {
	case CallstackEntryType, UnrecognizedCreateCallstackEntryType,
		UnrecognizedContractCallstackEntryType, InternalFunctionCallstackEntryType:
		return true
	}
	return false
}

// IsTerminal reports whether entries of this type explain a failure.
func (t StackTraceEntryType) IsTerminal() bool { return t.Valid() && !t.IsFrame() }

// Default names for frames without a declared name.
const (
	FallbackFunctionName     = "<fallback>"
	ReceiveFunctionName      = "<receive>"
	ConstructorFunctionName  = "constructor"
	UnrecognizedFunctionName = "<unrecognized-selector>"
	UnknownFunctionName      = "<unknown>"
	PrecompileFunctionName   = "<precompile>"
	UnrecognizedContractName = "<UnrecognizedContract>"
)

// Range is a byte range within a source file.
type Range struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// End returns the offset just past the range.
func (r Range) End() int { return r.Start + r.Length }

// SourceReference points at a position in a source file. Contract is nil
// for free functions and Function is nil outside any function.
type SourceReference struct {
	SourceName    string  `json:"sourceName"`
	SourceContent string  `json:"sourceContent"`
	Contract      *string `json:"contract,omitempty"`
	Function      *string `json:"function,omitempty"`
	Line          int     `json:"line"`
	Range         Range   `json:"range"`
}

// FunctionName returns the referenced function or "".
func (s *SourceReference) FunctionName() string {
	if s == nil || s.Function == nil {
		return ""
	}
	return *s.Function
}

// StackTraceEntry is one element of a SolidityStackTrace. Source returns
// nil when the entry could not be attributed to source.
type StackTraceEntry interface {
	Type() StackTraceEntryType
	Source() *SourceReference
}

// SolidityStackTrace is ordered outermost frame first; the last entry is
// the failure.
type SolidityStackTrace []StackTraceEntry

// Last returns the final entry, or nil.
func (st SolidityStackTrace) Last() StackTraceEntry {
	if len(st) == 0 {
		return nil
	}
	return st[len(st)-1]
}

// ---------------------------------------------------------------------------
// Frames
// ---------------------------------------------------------------------------

// CallstackEntry is a Solidity function frame that was still active when
// the failure happened.
type CallstackEntry struct {
	SourceReference *SourceReference
	FunctionType    compiler.ContractFunctionType
}

// Type returns CallstackEntryType.
func (*CallstackEntry) Type() StackTraceEntryType { return CallstackEntryType }

// Source returns the entry's source reference.
func (e *CallstackEntry) Source() *SourceReference { return e.SourceReference }

// UnrecognizedCreateCallstackEntry is a frame for a creation whose init code
// is unknown.
type UnrecognizedCreateCallstackEntry struct{}

// Type returns UnrecognizedCreateCallstackEntryType.
func (*UnrecognizedCreateCallstackEntry) Type() StackTraceEntryType {
	return UnrecognizedCreateCallstackEntryType
}

// Source returns nil: the entry has no source location.
func (*UnrecognizedCreateCallstackEntry) Source() *SourceReference { return nil }

// UnrecognizedContractCallstackEntry is a frame for a call into unknown code.
type UnrecognizedContractCallstackEntry struct {
	Address common.Address
}

// Type returns UnrecognizedContractCallstackEntryType.
func (*UnrecognizedContractCallstackEntry) Type() StackTraceEntryType {
	return UnrecognizedContractCallstackEntryType
}

// Source returns nil: the entry has no source location.
func (*UnrecognizedContractCallstackEntry) Source() *SourceReference { return nil }

// InternalFunctionCallstackEntry is a frame entered by a jump from code
// the compiler did not map to source. Its reference points at the contract.
type InternalFunctionCallstackEntry struct {
	PC              uint64
	SourceReference *SourceReference
}

// Type returns InternalFunctionCallstackEntryType.
func (*InternalFunctionCallstackEntry) Type() StackTraceEntryType {
	return InternalFunctionCallstackEntryType
}

// Source returns the entry's source reference.
func (e *InternalFunctionCallstackEntry) Source() *SourceReference { return e.SourceReference }

// ---------------------------------------------------------------------------
// Failures
// ---------------------------------------------------------------------------

// PrecompileError is a failed call to a precompiled contract.
type PrecompileError struct {
	Precompile uint32
	// Name and Diagnosis are filled when a precompile describer is
	// configured.
	Name      string
	Diagnosis string
}

// Type returns PrecompileErrorType.
func (*PrecompileError) Type() StackTraceEntryType { return PrecompileErrorType }

// Source returns nil: the entry has no source location.
func (*PrecompileError) Source() *SourceReference { return nil }

// RevertError is a REVERT, or an INVALID opcode when IsInvalidOpcodeError
// is set. Message holds the raw return data.
type RevertError struct {
	Message              returndata.ReturnData
	SourceReference      *SourceReference
	IsInvalidOpcodeError bool
}

// Type returns RevertErrorType.
func (*RevertError) Type() StackTraceEntryType { return RevertErrorType }

// Source returns the entry's source reference.
func (e *RevertError) Source() *SourceReference { return e.SourceReference }

// PanicError is a revert with Panic(uint256) data.
type PanicError struct {
	ErrorCode       *uint256.Int
	SourceReference *SourceReference
}

// Type returns PanicErrorType.
func (*PanicError) Type() StackTraceEntryType { return PanicErrorType }

// Source returns the entry's source reference.
func (e *PanicError) Source() *SourceReference { return e.SourceReference }

// CustomError carries the already formatted message.
type CustomError struct {
	Message         string
	SourceReference *SourceReference
}

// Type returns CustomErrorType.
func (*CustomError) Type() StackTraceEntryType { return CustomErrorType }

// Source returns the entry's source reference.
func (e *CustomError) Source() *SourceReference { return e.SourceReference }

// FunctionNotPayableError is value sent to a non-payable function or
// constructor.
type FunctionNotPayableError struct {
	Value           *uint256.Int
	SourceReference *SourceReference
}

// Type returns FunctionNotPayableErrorType.
func (*FunctionNotPayableError) Type() StackTraceEntryType { return FunctionNotPayableErrorType }

// Source returns the entry's source reference.
func (e *FunctionNotPayableError) Source() *SourceReference { return e.SourceReference }

// InvalidParamsError is calldata or constructor arguments that failed ABI
// validation.
type InvalidParamsError struct {
	SourceReference *SourceReference
}

// Type returns InvalidParamsErrorType.
func (*InvalidParamsError) Type() StackTraceEntryType { return InvalidParamsErrorType }

// Source returns the entry's source reference.
func (e *InvalidParamsError) Source() *SourceReference { return e.SourceReference }

// FallbackNotPayableError is value sent to a non-payable fallback.
type FallbackNotPayableError struct {
	Value           *uint256.Int
	SourceReference *SourceReference
}

// Type returns FallbackNotPayableErrorType.
func (*FallbackNotPayableError) Type() StackTraceEntryType { return FallbackNotPayableErrorType }

// Source returns the entry's source reference.
func (e *FallbackNotPayableError) Source() *SourceReference { return e.SourceReference }

// FallbackNotPayableAndNoReceiveError is a plain transfer to a contract
// with a non-payable fallback and no receive function.
type FallbackNotPayableAndNoReceiveError struct {
	Value           *uint256.Int
	SourceReference *SourceReference
}

// Type returns FallbackNotPayableAndNoReceiveErrorType.
func (*FallbackNotPayableAndNoReceiveError) Type() StackTraceEntryType {
	return FallbackNotPayableAndNoReceiveErrorType
}

// Source returns the entry's source reference.
func (e *FallbackNotPayableAndNoReceiveError) Source() *SourceReference { return e.SourceReference }

// UnrecognizedFunctionWithoutFallbackError is a call with an unknown
// selector to a contract without a fallback.
type UnrecognizedFunctionWithoutFallbackError struct {
	SourceReference *SourceReference
}

// Type returns UnrecognizedFunctionWithoutFallbackErrorType.
func (*UnrecognizedFunctionWithoutFallbackError) Type() StackTraceEntryType {
	return UnrecognizedFunctionWithoutFallbackErrorType
}

// Source returns the entry's source reference.
func (e *UnrecognizedFunctionWithoutFallbackError) Source() *SourceReference {
	return e.SourceReference
}

// MissingFallbackOrReceiveError is a plain transfer to a contract with
// neither fallback nor receive.
type MissingFallbackOrReceiveError struct {
	SourceReference *SourceReference
}

// Type returns MissingFallbackOrReceiveErrorType.
func (*MissingFallbackOrReceiveError) Type() StackTraceEntryType {
	return MissingFallbackOrReceiveErrorType
}

// Source returns the entry's source reference.
func (e *MissingFallbackOrReceiveError) Source() *SourceReference { return e.SourceReference }

// ReturndataSizeError is a call that returned less data than the caller
// decodes.
type ReturndataSizeError struct {
	SourceReference *SourceReference
}

// Type returns ReturndataSizeErrorType.
func (*ReturndataSizeError) Type() StackTraceEntryType { return ReturndataSizeErrorType }

// Source returns the entry's source reference.
func (e *ReturndataSizeError) Source() *SourceReference { return e.SourceReference }

// NonContractAccountCalledError is a call to an account without code.
type NonContractAccountCalledError struct {
	SourceReference *SourceReference
}

// Type returns NonContractAccountCalledErrorType.
func (*NonContractAccountCalledError) Type() StackTraceEntryType {
	return NonContractAccountCalledErrorType
}

// Source returns the entry's source reference.
func (e *NonContractAccountCalledError) Source() *SourceReference { return e.SourceReference }

// CallFailedError is a call or create that could not start.
type CallFailedError struct {
	SourceReference *SourceReference
}

// Type returns CallFailedErrorType.
func (*CallFailedError) Type() StackTraceEntryType { return CallFailedErrorType }

// Source returns the entry's source reference.
func (e *CallFailedError) Source() *SourceReference { return e.SourceReference }

// DirectLibraryCallError is a transaction sent straight to a library
// function that may modify state.
type DirectLibraryCallError struct {
	SourceReference *SourceReference
}

// Type returns DirectLibraryCallErrorType.
func (*DirectLibraryCallError) Type() StackTraceEntryType { return DirectLibraryCallErrorType }

// Source returns the entry's source reference.
func (e *DirectLibraryCallError) Source() *SourceReference { return e.SourceReference }

// UnrecognizedCreateError is a failed creation of unknown init code.
type UnrecognizedCreateError struct {
	Message              returndata.ReturnData
	IsInvalidOpcodeError bool
}

// Type returns UnrecognizedCreateErrorType.
func (*UnrecognizedCreateError) Type() StackTraceEntryType { return UnrecognizedCreateErrorType }

// Source returns nil: the entry has no source location.
func (*UnrecognizedCreateError) Source() *SourceReference { return nil }

// UnrecognizedContractError is a failed call into unknown code.
type UnrecognizedContractError struct {
	Address              common.Address
	Message              returndata.ReturnData
	IsInvalidOpcodeError bool
}

// Type returns UnrecognizedContractErrorType.
func (*UnrecognizedContractError) Type() StackTraceEntryType { return UnrecognizedContractErrorType }

// Source returns nil: the entry has no source location.
func (*UnrecognizedContractError) Source() *SourceReference { return nil }

// OtherExecutionError is a failure no other rule explains.
type OtherExecutionError struct {
	SourceReference *SourceReference
}

// Type returns OtherExecutionErrorType.
func (*OtherExecutionError) Type() StackTraceEntryType { return OtherExecutionErrorType }

// Source returns the entry's source reference.
func (e *OtherExecutionError) Source() *SourceReference { return e.SourceReference }

// UnmappedSolc063RevertError is a revert solc 0.6.x emitted without a
// source mapping.
type UnmappedSolc063RevertError struct {
	SourceReference *SourceReference
}

// Type returns UnmappedSolc063RevertErrorType.
func (*UnmappedSolc063RevertError) Type() StackTraceEntryType { return UnmappedSolc063RevertErrorType }

// Source returns the entry's source reference.
func (e *UnmappedSolc063RevertError) Source() *SourceReference { return e.SourceReference }

// ContractTooLargeError is a creation whose deployed code exceeds the
// size limit.
type ContractTooLargeError struct {
	SourceReference *SourceReference
}

// Type returns ContractTooLargeErrorType.
func (*ContractTooLargeError) Type() StackTraceEntryType { return ContractTooLargeErrorType }

// Source returns the entry's source reference.
func (e *ContractTooLargeError) Source() *SourceReference { return e.SourceReference }

// ContractCallRunOutOfGasError is a revert caused by a called contract
// running out of gas.
type ContractCallRunOutOfGasError struct {
	SourceReference *SourceReference
}

// Type returns ContractCallRunOutOfGasErrorType.
func (*ContractCallRunOutOfGasError) Type() StackTraceEntryType {
	return ContractCallRunOutOfGasErrorType
}

// Source returns the entry's source reference.
func (e *ContractCallRunOutOfGasError) Source() *SourceReference { return e.SourceReference }
