package stacktrace

import (
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/trace"
)

// frame is a message whose code was identified, paired with that code.
type frame struct {
	msg *trace.MessageTrace
	bc  *compiler.Bytecode
}

func (f *frame) contract() *compiler.Contract { return f.bc.Contract }

func (f *frame) isCall() bool { return !f.msg.IsCreate() }

// calledFunction returns the function selected by the calldata, or nil.
func (f *frame) calledFunction() *compiler.ContractFunction {
	if !f.isCall() || f.contract() == nil {
		return nil
	}
	return f.contract().FunctionFromSelector(f.msg.Calldata)
}

// instruction returns the decoded instruction at pc. Program counters the
// source map does not cover yield an unmapped instruction read from the
// raw code.
func (f *frame) instruction(pc uint64) *compiler.Instruction {
	if inst, ok := f.bc.Instruction(pc); ok {
		return inst
	}
	op := vm.STOP
	if pc < uint64(len(f.msg.Code)) {
		op = vm.OpCode(f.msg.Code[pc])
	}
	return &compiler.Instruction{PC: pc, Opcode: op}
}

// stepInstruction returns the instruction executed by step i, or false
// when the step is a sub-message or out of range.
func (f *frame) stepInstruction(i int) (*compiler.Instruction, bool) {
	if i < 0 || i >= len(f.msg.Steps) {
		return nil, false
	}
	s := f.msg.Steps[i]
	if !s.IsEVMStep() {
		return nil, false
	}
	return f.instruction(s.PC), true
}

// lastInstruction returns the instruction of the final step, or false
// when the message ends with a sub-message or has no steps.
func (f *frame) lastInstruction() (*compiler.Instruction, bool) {
	return f.stepInstruction(len(f.msg.Steps) - 1)
}

// ---------------------------------------------------------------------------
// Source references
// ---------------------------------------------------------------------------

func strPtr(s string) *string { return &s }

func newReference(loc *compiler.SourceLocation, contract, function *string) *SourceReference {
	if loc == nil || loc.File == nil {
		return nil
	}
	return &SourceReference{
		SourceName:    loc.File.SourceName,
		SourceContent: loc.File.Content,
		Contract:      contract,
		Function:      function,
		Line:          loc.StartLine(),
		Range:         Range{Start: loc.Offset, Length: loc.Length},
	}
}

func contractName(bc *compiler.Bytecode) *string {
	if bc.Contract == nil {
		return nil
	}
	return strPtr(bc.Contract.Name)
}

// displayName substitutes the published names of unnamed entry points.
func displayName(fn *compiler.ContractFunction) string {
	switch fn.Type {
	case compiler.Constructor:
		return ConstructorFunctionName
	case compiler.Fallback:
		return FallbackFunctionName
	case compiler.Receive:
		return ReceiveFunctionName
	}
	if fn.Name == "" {
		return UnknownFunctionName
	}
	return fn.Name
}

// locationReference maps a location inside a function to a reference
// naming the executing contract. It returns nil outside any function.
func locationReference(bc *compiler.Bytecode, loc *compiler.SourceLocation) *SourceReference {
	if loc == nil || loc.File == nil {
		return nil
	}
	fn := loc.ContainingFunction()
	if fn == nil {
		return nil
	}
	var contract *string
	if fn.Type != compiler.FreeFunction {
		contract = contractName(bc)
	}
	return newReference(loc, contract, strPtr(displayName(fn)))
}

func functionStartReference(bc *compiler.Bytecode, fn *compiler.ContractFunction) *SourceReference {
	if fn == nil {
		return nil
	}
	return newReference(fn.Location, contractName(bc), strPtr(displayName(fn)))
}

func contractStartReference(bc *compiler.Bytecode) *SourceReference {
	if bc.Contract == nil {
		return nil
	}
	return newReference(bc.Contract.Location, contractName(bc), nil)
}

// constructorStartReference points at the constructor, or at the whole
// contract when it declares none.
func constructorStartReference(bc *compiler.Bytecode) *SourceReference {
	c := bc.Contract
	if c == nil {
		return nil
	}
	loc := c.Location
	if c.Constructor != nil && c.Constructor.Location != nil {
		loc = c.Constructor.Location
	}
	return newReference(loc, contractName(bc), strPtr(ConstructorFunctionName))
}

func fallbackStartReference(bc *compiler.Bytecode) *SourceReference {
	if bc.Contract == nil || bc.Contract.Fallback == nil {
		return nil
	}
	return newReference(bc.Contract.Fallback.Location, contractName(bc), strPtr(FallbackFunctionName))
}

func receiveStartReference(bc *compiler.Bytecode) *SourceReference {
	if bc.Contract == nil || bc.Contract.Receive == nil {
		return nil
	}
	return newReference(bc.Contract.Receive.Location, contractName(bc), strPtr(ReceiveFunctionName))
}

// lastMappedReference walks back from the final step to the latest
// instruction inside a function. It stops at the first sub-message.
func lastMappedReference(f *frame) *SourceReference {
	for i := len(f.msg.Steps) - 1; i >= 0; i-- {
		inst, ok := f.stepInstruction(i)
		if !ok {
			return nil
		}
		if inst.Location == nil {
			continue
		}
		if ref := locationReference(f.bc, inst.Location); ref != nil {
			return ref
		}
	}
	return nil
}

// lastMappedStep returns the index of the latest step whose instruction has
// a location, or -1. Sub-messages stop the search.
func lastMappedStep(f *frame) int {
	for i := len(f.msg.Steps) - 1; i >= 0; i-- {
		inst, ok := f.stepInstruction(i)
		if !ok {
			return -1
		}
		if inst.Location != nil {
			return i
		}
	}
	return -1
}

// callstackEntry builds the frame for a call site. Jumps out of unmapped
// compiler-generated code yield an internal function entry.
func callstackEntry(bc *compiler.Bytecode, inst *compiler.Instruction) StackTraceEntry {
	if inst.Location == nil {
		var ref *SourceReference
		if bc.Contract != nil {
			ref = newReference(bc.Contract.Location, contractName(bc), nil)
		}
		return &InternalFunctionCallstackEntry{PC: inst.PC, SourceReference: ref}
	}
	if fn := inst.Location.ContainingFunction(); fn != nil {
		return &CallstackEntry{
			SourceReference: locationReference(bc, inst.Location),
			FunctionType:    fn.Type,
		}
	}
	return &CallstackEntry{
		SourceReference: newReference(inst.Location, contractName(bc), nil),
		FunctionType:    compiler.Function,
	}
}

// Resolve maps a program counter of bc to a source reference and the type
// of the enclosing function. Mapped instructions outside any function
// resolve to a contract-level reference of type Function. ok is false when
// pc is not a mapped instruction.
func Resolve(bc *compiler.Bytecode, pc uint64) (ref *SourceReference, typ compiler.ContractFunctionType, ok bool) {
	if bc == nil {
		return nil, 0, false
	}
	inst, found := bc.Instruction(pc)
	if !found || inst.Location == nil || inst.Location.File == nil {
		return nil, 0, false
	}
	entry, isEntry := callstackEntry(bc, inst).(*CallstackEntry)
	if !isEntry || entry.SourceReference == nil {
		return nil, 0, false
	}
	return entry.SourceReference, entry.FunctionType, true
}
