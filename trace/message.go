// Package trace defines the message trace: the tree of calls, creates and
// precompile invocations recorded while a transaction executed, together
// with the per-frame step log that interleaves program counters and child
// invocations. Traces are produced by a tracer (see Collector) and treated
// as immutable by every consumer.
package trace

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ErrInvalidTrace reports a trace that violates the structural contract a
// tracer must uphold. It signals a bug in the producer, not a decodable
// program state.
var ErrInvalidTrace = errors.New("trace: invalid message trace")

// Kind identifies what sort of invocation a MessageTrace records.
type Kind uint8

const (
	KindCall Kind = iota
	KindCreate
	KindPrecompile
)

// String returns a lowercase name for the kind.
func (k Kind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindCreate:
		return "create"
	case KindPrecompile:
		return "precompile"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// CallType distinguishes the message-call opcodes. It is only meaningful
// for KindCall traces.
type CallType uint8

const (
	Call CallType = iota
	DelegateCall
	StaticCall
	CallCode
)

// String returns the opcode-style name of the call type.
func (c CallType) String() string {
	switch c {
	case Call:
		return "CALL"
	case DelegateCall:
		return "DELEGATECALL"
	case StaticCall:
		return "STATICCALL"
	case CallCode:
		return "CALLCODE"
	default:
		return fmt.Sprintf("CALLTYPE(%d)", uint8(c))
	}
}

// ExitKind classifies how an invocation terminated.
type ExitKind uint8

const (
	ExitSuccess ExitKind = iota
	ExitRevert
	ExitOutOfGas
	ExitInvalidOpcode
	// ExitCodeSizeExceeded is a create whose deployed code exceeded the
	// maximum contract size.
	ExitCodeSizeExceeded
	// ExitOther covers every other halt (stack errors, invalid jumps,
	// static-call violations, insufficient balance, ...).
	ExitOther
)

var exitKindNames = [...]string{
	ExitSuccess:          "success",
	ExitRevert:           "revert",
	ExitOutOfGas:         "outOfGas",
	ExitInvalidOpcode:    "invalidOpcode",
	ExitCodeSizeExceeded: "codeSizeExceeded",
	ExitOther:            "other",
}

// String returns the camel-cased name used in the JSON form.
func (k ExitKind) String() string {
	if int(k) < len(exitKindNames) {
		return exitKindNames[k]
	}
	return fmt.Sprintf("exit(%d)", uint8(k))
}

// ParseExitKind is the inverse of ExitKind.String.
func ParseExitKind(s string) (ExitKind, error) {
	for i, name := range exitKindNames {
		if name == s {
			return ExitKind(i), nil
		}
	}
	return ExitOther, fmt.Errorf("%w: unknown exit kind %q", ErrInvalidTrace, s)
}

// Exit is the termination status of an invocation. Reason optionally
// carries the tracer's error text for ExitOther.
type Exit struct {
	Kind   ExitKind
	Reason string
}

// IsError reports whether the invocation failed.
func (e Exit) IsError() bool { return e.Kind != ExitSuccess }

// Step is one entry of a frame's step log: either an executed instruction
// (Message == nil) or a child invocation made at that point.
type Step struct {
	PC      uint64
	Message *MessageTrace
}

// IsEVMStep reports whether the step is an executed instruction.
func (s Step) IsEVMStep() bool { return s.Message == nil }

// MessageTrace records one call, create or precompile invocation.
type MessageTrace struct {
	Kind     Kind
	CallType CallType
	Depth    int

	// Address is the call target, or the address being created.
	Address common.Address
	// CodeAddress is the account whose code ran. It differs from Address
	// for DELEGATECALL and CALLCODE.
	CodeAddress common.Address

	// Code is the deployed code for calls and the init code for creates.
	Code     []byte
	Calldata []byte
	Value    *uint256.Int

	GasLimit uint64
	GasUsed  uint64

	// Precompile is the precompile number for KindPrecompile traces.
	Precompile uint32

	Exit       Exit
	ReturnData []byte

	// Steps is empty for precompiles and for calls to accounts without code.
	Steps []Step
}

// IsCreate reports whether the trace records a contract creation.
func (m *MessageTrace) IsCreate() bool { return m.Kind == KindCreate }

// IsPrecompile reports whether the trace records a precompile invocation.
func (m *MessageTrace) IsPrecompile() bool { return m.Kind == KindPrecompile }

// CallValue returns the transferred value, treating nil as zero.
func (m *MessageTrace) CallValue() *uint256.Int {
	if m.Value == nil {
		return new(uint256.Int)
	}
	return m.Value
}

// Children returns the child invocations in order of occurrence.
func (m *MessageTrace) Children() []*MessageTrace {
	var out []*MessageTrace
	for _, s := range m.Steps {
		if s.Message != nil {
			out = append(out, s.Message)
		}
	}
	return out
}

// NumberOfSubtraces returns how many child invocations the frame made.
func (m *MessageTrace) NumberOfSubtraces() int {
	n := 0
	for _, s := range m.Steps {
		if s.Message != nil {
			n++
		}
	}
	return n
}

// LastSubtrace returns the last child invocation, or nil.
func (m *MessageTrace) LastSubtrace() *MessageTrace {
	for i := len(m.Steps) - 1; i >= 0; i-- {
		if m.Steps[i].Message != nil {
			return m.Steps[i].Message
		}
	}
	return nil
}

// Validate checks the structural invariants of the whole tree: child depth
// is parent depth + 1, every child of an EVM frame follows an executed
// instruction, and precompiles record no steps.
func (m *MessageTrace) Validate() error {
	if m == nil {
		return fmt.Errorf("%w: nil message", ErrInvalidTrace)
	}
	return m.validate(m.Depth, "root")
}

func (m *MessageTrace) validate(depth int, path string) error {
	if m.Depth != depth {
		return fmt.Errorf("%w: %s has depth %d, want %d", ErrInvalidTrace, path, m.Depth, depth)
	}
	if m.Kind > KindPrecompile {
		return fmt.Errorf("%w: %s has unknown kind %d", ErrInvalidTrace, path, m.Kind)
	}
	if m.IsPrecompile() {
		if len(m.Steps) != 0 {
			return fmt.Errorf("%w: precompile %s records %d steps", ErrInvalidTrace, path, len(m.Steps))
		}
		return nil
	}
	child := 0
	for i, s := range m.Steps {
		if s.Message == nil {
			continue
		}
		childPath := fmt.Sprintf("%s/%d", path, child)
		if i == 0 || m.Steps[i-1].Message != nil {
			return fmt.Errorf("%w: %s is not preceded by an instruction", ErrInvalidTrace, childPath)
		}
		if err := s.Message.validate(depth+1, childPath); err != nil {
			return err
		}
		child++
	}
	return nil
}
