package stacktrace

import (
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/soltrace/compiler"
)

// Since 0.6.9 solc maps small internal helpers inline, so some failures
// surface as an empty revert whose real cause is only visible in the
// opcodes executed just before it.
var firstSolcVersionWithMappedSmallInternalFunctions = compiler.Version{Major: 0, Minor: 6, Patch: 9}

func mayRequireAdjustments(st SolidityStackTrace, f *frame) bool {
	r, ok := st.Last().(*RevertError)
	if !ok {
		return false
	}
	return !r.IsInvalidOpcodeError && r.Message.IsEmpty() &&
		f.bc.CompilerVersion.AtLeast(firstSolcVersionWithMappedSmallInternalFunctions)
}

// adjustStackTrace replaces the final empty revert with the failure the
// opcode pattern reveals, keeping its source reference.
func adjustStackTrace(st SolidityStackTrace, f *frame) SolidityStackTrace {
	head := st[:len(st)-1]
	ref := st.Last().Source()
	switch {
	case isNonContractAccountCalled(f):
		return extend(head, &NonContractAccountCalledError{SourceReference: ref})
	case !f.isCall() && isConstructorInvalidParams(f):
		return extend(head, &InvalidParamsError{SourceReference: ref})
	case f.isCall() && isCallInvalidParams(f):
		return extend(head, &InvalidParamsError{SourceReference: ref})
	}
	return st
}

func isNonContractAccountCalled(f *frame) bool {
	return matchOpcodes(f, -9, vm.EXTCODESIZE, vm.ISZERO, vm.DUP1, vm.ISZERO)
}

func isConstructorInvalidParams(f *frame) bool {
	return matchOpcodes(f, -20, vm.CODESIZE) &&
		matchOpcodes(f, -15, vm.CODECOPY) &&
		matchOpcodes(f, -7, vm.LT, vm.ISZERO)
}

func isCallInvalidParams(f *frame) bool {
	return matchOpcodes(f, -11, vm.CALLDATASIZE) &&
		matchOpcodes(f, -7, vm.LT, vm.ISZERO)
}

// matchOpcodes reports whether the steps starting at first, counted back
// from the end of the trace, executed ops in order.
func matchOpcodes(f *frame, first int, ops ...vm.OpCode) bool {
	base := len(f.msg.Steps) + first
	for i, op := range ops {
		inst, ok := f.stepInstruction(base + i)
		if !ok || inst.Opcode != op {
			return false
		}
	}
	return true
}
