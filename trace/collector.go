package trace

import (
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/tracing"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/holiman/uint256"

	"github.com/eth2030/soltrace/log"
)

// CodeReader returns the deployed code of an account. tracing.StateDB
// satisfies it.
type CodeReader interface {
	GetCode(common.Address) []byte
}

// PrecompileSet reports whether an address is a precompile and, if so, its
// number.
type PrecompileSet interface {
	Number(addr common.Address) (uint32, bool)
}

// Collector builds a MessageTrace from go-ethereum tracing hooks. A single
// Collector records one transaction; Reset prepares it for the next one.
type Collector struct {
	mu          sync.Mutex
	code        CodeReader
	precompiles PrecompileSet
	stack       []*MessageTrace
	root        *MessageTrace
	log         *log.Logger
}

// NewCollector returns a collector. code may be nil, in which case the
// state passed to OnTxStart is used.
func NewCollector(code CodeReader, precompiles PrecompileSet) *Collector {
	return &Collector{
		code:        code,
		precompiles: precompiles,
		log:         log.Default().Module("trace"),
	}
}

// Hooks returns the tracing hooks that feed the collector.
func (c *Collector) Hooks() *tracing.Hooks {
	return &tracing.Hooks{
		OnTxStart: c.OnTxStart,
		OnEnter:   c.OnEnter,
		OnExit:    c.OnExit,
		OnOpcode:  c.OnOpcode,
		OnFault:   c.OnFault,
	}
}

// Reset discards any recorded trace.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stack = c.stack[:0]
	c.root = nil
}

// Result returns the root of the recorded trace, or nil when no message
// has completed yet.
func (c *Collector) Result() *MessageTrace {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// OnTxStart adopts the transaction's state as code source unless the
// collector was built with one.
func (c *Collector) OnTxStart(env *tracing.VMContext, _ *types.Transaction, _ common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stack = c.stack[:0]
	c.root = nil
	if c.code == nil && env != nil && env.StateDB != nil {
		c.code = env.StateDB
	}
}

// OnEnter opens a new frame.
func (c *Collector) OnEnter(depth int, typ byte, from, to common.Address, input []byte, gas uint64, value *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msg := &MessageTrace{
		Depth:    len(c.stack),
		Address:  to,
		Calldata: common.CopyBytes(input),
		GasLimit: gas,
	}
	if value != nil && value.Sign() > 0 {
		msg.Value, _ = uint256.FromBig(value)
	}

	switch op := vm.OpCode(typ); op {
	case vm.CREATE, vm.CREATE2:
		msg.Kind = KindCreate
		msg.Code = msg.Calldata
		msg.Calldata = nil
		msg.CodeAddress = to
	default:
		if num, ok := c.precompileNumber(to); ok {
			msg.Kind = KindPrecompile
			msg.Precompile = num
			msg.CodeAddress = to
			break
		}
		msg.Kind = KindCall
		msg.CallType, msg.Address, msg.CodeAddress = callType(op, from, to)
		if c.code != nil {
			msg.Code = common.CopyBytes(c.code.GetCode(msg.CodeAddress))
		}
	}

	if n := len(c.stack); n > 0 {
		parent := c.stack[n-1]
		parent.Steps = append(parent.Steps, Step{Message: msg})
	}
	c.stack = append(c.stack, msg)
	c.log.Debug("enter", "depth", depth, "kind", msg.Kind, "to", to)
}

// OnExit closes the innermost open frame.
func (c *Collector) OnExit(depth int, output []byte, gasUsed uint64, err error, reverted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.stack)
	if n == 0 {
		c.log.Warn("exit without matching enter", "depth", depth)
		return
	}
	msg := c.stack[n-1]
	c.stack = c.stack[:n-1]

	msg.GasUsed = gasUsed
	msg.ReturnData = common.CopyBytes(output)
	msg.Exit = ClassifyExit(err)
	if err == nil && reverted {
		msg.Exit = Exit{Kind: ExitRevert}
	}
	if n == 1 {
		c.root = msg
	}
}

// OnOpcode appends an EVM step to the innermost frame.
func (c *Collector) OnOpcode(pc uint64, _ byte, _, _ uint64, _ tracing.OpContext, _ []byte, _ int, _ error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n := len(c.stack); n > 0 {
		top := c.stack[n-1]
		top.Steps = append(top.Steps, Step{PC: pc})
	}
}

// OnFault is a no-op: the faulting instruction has already been logged by
// OnOpcode and the error reaches OnExit.
func (c *Collector) OnFault(uint64, byte, uint64, uint64, tracing.OpContext, int, error) {}

func (c *Collector) precompileNumber(addr common.Address) (uint32, bool) {
	if c.precompiles == nil {
		return 0, false
	}
	return c.precompiles.Number(addr)
}

// callType maps a call opcode to the call type together with the storage
// context address and the code address.
func callType(op vm.OpCode, from, to common.Address) (CallType, common.Address, common.Address) {
	switch op {
	case vm.DELEGATECALL:
		return DelegateCall, from, to
	case vm.CALLCODE:
		return CallCode, from, to
	case vm.STATICCALL:
		return StaticCall, to, to
	default:
		return Call, to, to
	}
}

// ClassifyExit maps a go-ethereum execution error to an Exit.
func ClassifyExit(err error) Exit {
	if err == nil {
		return Exit{Kind: ExitSuccess}
	}
	var invalid *vm.ErrInvalidOpCode
	switch {
	case errors.Is(err, vm.ErrExecutionReverted):
		return Exit{Kind: ExitRevert}
	case errors.Is(err, vm.ErrOutOfGas),
		errors.Is(err, vm.ErrCodeStoreOutOfGas),
		errors.Is(err, vm.ErrGasUintOverflow):
		return Exit{Kind: ExitOutOfGas, Reason: err.Error()}
	case errors.As(err, &invalid):
		return Exit{Kind: ExitInvalidOpcode, Reason: err.Error()}
	case errors.Is(err, vm.ErrMaxCodeSizeExceeded):
		return Exit{Kind: ExitCodeSizeExceeded, Reason: err.Error()}
	default:
		return Exit{Kind: ExitOther, Reason: err.Error()}
	}
}
