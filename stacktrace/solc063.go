package stacktrace

import (
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/soltrace/compiler"
)

// solc063Workaround attributes the REVERT instructions that solc 0.6.3 and
// later 0.6.x releases emit without a source mapping. Disabling it in
// Config removes every use.
type solc063Workaround struct{}

// applies reports whether the frame ends in a REVERT of an affected
// compiler.
func (*solc063Workaround) applies(f *frame) bool {
	v := f.bc.CompilerVersion
	if !v.AtLeast(compiler.FirstSolcVersionWithUnmappedReverts) || v.Major != 0 || v.Minor != 6 {
		return false
	}
	last, ok := f.lastInstruction()
	return ok && last.Opcode == vm.REVERT
}

// withinFunction guesses the revert location from the mapped instructions
// around the REVERT. The entry it returns may lack a reference.
func (*solc063Workaround) withinFunction(f *frame) *UnmappedSolc063RevertError {
	var prev *compiler.Instruction
	if idx := lastMappedStep(f); idx >= 0 {
		prev, _ = f.stepInstruction(idx)
	}
	lastPC := f.msg.Steps[len(f.msg.Steps)-1].PC

	if next, ok := f.bc.Instruction(lastPC + 1); ok {
		var prevLoc *compiler.SourceLocation
		var prevFunc, nextFunc *compiler.ContractFunction
		if prev != nil && prev.Location != nil {
			prevLoc = prev.Location
			prevFunc = prevLoc.ContainingFunction()
		}
		if next.Location != nil {
			nextFunc = next.Location.ContainingFunction()
		}
		// Most likely a require: the exact line is known.
		if prevFunc != nil && next.Location != nil && prevLoc.Equal(next.Location) {
			return unmappedRevertAt(f, next)
		}
		var e *UnmappedSolc063RevertError
		switch {
		case prevFunc != nil:
			e = unmappedRevertAt(f, prev)
		case nextFunc != nil:
			e = unmappedRevertAt(f, next)
		default:
			return nil
		}
		correctLineNumber(e.SourceReference)
		return e
	}

	// Constructors stop emitting code after an unconditional revert.
	if !f.isCall() && prev != nil {
		e := unmappedRevertAt(f, prev)
		if e.SourceReference != nil {
			correctLineNumber(e.SourceReference)
			return e
		}
		c := f.contract()
		ref := newReference(c.Location, contractName(f.bc), strPtr(ConstructorFunctionName))
		if ref != nil && c.Constructor != nil && c.Constructor.Location != nil {
			ref.Line = c.Constructor.Location.StartLine()
		}
		e.SourceReference = ref
		return e
	}

	// The REVERT is the last instruction of the runtime code.
	e := &UnmappedSolc063RevertError{}
	if prev != nil {
		e = unmappedRevertAt(f, prev)
		correctLineNumber(e.SourceReference)
	}
	return e
}

// beforeFunction handles reverts before any function was entered, which
// are attributed to the fallback or receive function.
func (w *solc063Workaround) beforeFunction(f *frame) *UnmappedSolc063RevertError {
	e := w.withinFunction(f)
	if e != nil && e.SourceReference != nil {
		return e
	}
	c := f.contract()
	var ref *SourceReference
	switch {
	case c.Receive != nil && len(f.msg.Calldata) == 0:
		ref = receiveStartReference(f.bc)
	case c.Fallback != nil:
		ref = fallbackStartReference(f.bc)
	default:
		return e
	}
	correctLineNumber(ref)
	return &UnmappedSolc063RevertError{SourceReference: ref}
}

func unmappedRevertAt(f *frame, inst *compiler.Instruction) *UnmappedSolc063RevertError {
	return &UnmappedSolc063RevertError{SourceReference: locationReference(f.bc, inst.Location)}
}

// correctLineNumber moves a reference that does not sit on a require or
// revert to the next non-blank line.
func correctLineNumber(ref *SourceReference) {
	if ref == nil {
		return
	}
	lines := strings.Split(ref.SourceContent, "\n")
	if ref.Line < 1 || ref.Line > len(lines) {
		return
	}
	cur := lines[ref.Line-1]
	if strings.Contains(cur, "require") || strings.Contains(cur, "revert") {
		return
	}
	for i, l := range lines[ref.Line:] {
		if strings.TrimSpace(l) != "" {
			ref.Line += i + 1
			return
		}
	}
}
