package stacktrace

import (
	"bytes"

	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/returndata"
	"github.com/eth2030/soltrace/trace"
)

// preRule decides a failure from the message alone. It returns nil when
// it does not apply.
type preRule struct {
	name  string
	apply func(d *Decoder, f *frame) SolidityStackTrace
}

// postRule decides a failure after the steps have been replayed.
type postRule struct {
	name  string
	apply func(d *Decoder, f *frame, w *walk) SolidityStackTrace
}

// Rules are evaluated in order; the first match wins.
var (
	callRules = []preRule{
		{"functionNotPayable", (*Decoder).functionNotPayable},
		{"missingFunctionAndFallback", (*Decoder).missingFunctionAndFallback},
		{"fallbackNotPayable", (*Decoder).fallbackNotPayable},
		{"directLibraryCall", (*Decoder).directLibraryCall},
	}
	createRules = []preRule{
		{"contractTooLarge", (*Decoder).contractTooLarge},
		{"constructorNotPayable", (*Decoder).constructorNotPayable},
		{"constructorInvalidParams", (*Decoder).constructorInvalidParams},
	}
	postRules = []postRule{
		{"lastSubmessage", (*Decoder).checkLastSubmessage},
		{"failedLastCall", (*Decoder).checkFailedLastCall},
		{"lastInstruction", (*Decoder).checkLastInstruction},
		{"nonContractCalled", (*Decoder).checkNonContractCalled},
		{"solc063UnmappedRevert", (*Decoder).checkSolc063UnmappedRevert},
	}
)

// ---------------------------------------------------------------------------
// Pre-execution rules
// ---------------------------------------------------------------------------

func (d *Decoder) functionNotPayable(f *frame) SolidityStackTrace {
	fn := f.calledFunction()
	if fn == nil || len(f.msg.ReturnData) > 0 || f.msg.CallValue().IsZero() {
		return nil
	}
	// Libraries have no payable check.
	if f.contract().Kind == compiler.KindLibrary || fn.Payable {
		return nil
	}
	return SolidityStackTrace{&FunctionNotPayableError{
		Value:           f.msg.CallValue().Clone(),
		SourceReference: functionStartReference(f.bc, fn),
	}}
}

func (d *Decoder) missingFunctionAndFallback(f *frame) SolidityStackTrace {
	if len(f.msg.ReturnData) > 0 || f.calledFunction() != nil {
		return nil
	}
	c := f.contract()
	if len(f.msg.Calldata) == 0 && c.Receive != nil {
		return nil
	}
	if c.Fallback != nil {
		return nil
	}
	ref := contractStartReference(f.bc)
	if emptyCalldataAndNoReceive(f) {
		return SolidityStackTrace{&MissingFallbackOrReceiveError{SourceReference: ref}}
	}
	return SolidityStackTrace{&UnrecognizedFunctionWithoutFallbackError{SourceReference: ref}}
}

func (d *Decoder) fallbackNotPayable(f *frame) SolidityStackTrace {
	if f.calledFunction() != nil || len(f.msg.ReturnData) > 0 || f.msg.CallValue().IsZero() {
		return nil
	}
	c := f.contract()
	// The receive function handles plain transfers.
	if len(f.msg.Calldata) == 0 && c.Receive != nil {
		return nil
	}
	if c.Fallback == nil || c.Fallback.Payable {
		return nil
	}
	value := f.msg.CallValue().Clone()
	ref := fallbackStartReference(f.bc)
	if emptyCalldataAndNoReceive(f) {
		return SolidityStackTrace{&FallbackNotPayableAndNoReceiveError{Value: value, SourceReference: ref}}
	}
	return SolidityStackTrace{&FallbackNotPayableError{Value: value, SourceReference: ref}}
}

// directLibraryCall matches a transaction sent straight to a library
// function that may modify state.
func (d *Decoder) directLibraryCall(f *frame) SolidityStackTrace {
	if f.msg.Depth != 0 || f.contract().Kind != compiler.KindLibrary {
		return nil
	}
	fn := f.calledFunction()
	if fn != nil && fn.IsReadOnly() {
		return nil
	}
	ref := contractStartReference(f.bc)
	if fn != nil {
		ref = functionStartReference(f.bc, fn)
	}
	return SolidityStackTrace{&DirectLibraryCallError{SourceReference: ref}}
}

// emptyCalldataAndNoReceive only holds for compilers that know receive
// functions.
func emptyCalldataAndNoReceive(f *frame) bool {
	if !f.bc.CompilerVersion.AtLeast(compiler.FirstSolcVersionReceiveFunction) {
		return false
	}
	return len(f.msg.Calldata) == 0 && f.contract().Receive == nil
}

func (d *Decoder) contractTooLarge(f *frame) SolidityStackTrace {
	if !d.isContractTooLarge(f.msg) {
		return nil
	}
	return SolidityStackTrace{&ContractTooLargeError{SourceReference: constructorStartReference(f.bc)}}
}

func (d *Decoder) constructorNotPayable(f *frame) SolidityStackTrace {
	ctor := f.contract().Constructor
	if ctor == nil || len(f.msg.ReturnData) > 0 || f.msg.CallValue().IsZero() || ctor.Payable {
		return nil
	}
	return SolidityStackTrace{&FunctionNotPayableError{
		Value:           f.msg.CallValue().Clone(),
		SourceReference: constructorStartReference(f.bc),
	}}
}

// constructorInvalidParams recognizes the argument validation solc emits
// since 0.5.9: an unmapped REVERT after reading the deployment code size,
// with every mapped instruction attributed to the contract or constructor.
func (d *Decoder) constructorInvalidParams(f *frame) SolidityStackTrace {
	c := f.contract()
	ctor := c.Constructor
	if ctor == nil || len(f.msg.ReturnData) > 0 {
		return nil
	}
	if !f.bc.CompilerVersion.AtLeast(compiler.FirstSolcVersionCreateParamsValidation) {
		return nil
	}
	last, ok := f.lastInstruction()
	if !ok || last.Opcode != vm.REVERT || last.Location != nil {
		return nil
	}
	readCodeSize := false
	for i := range f.msg.Steps {
		inst, ok := f.stepInstruction(i)
		if !ok {
			return nil
		}
		if inst.Location != nil && !c.Location.Equal(inst.Location) && !ctor.Location.Equal(inst.Location) {
			return nil
		}
		if inst.Opcode == vm.CODESIZE {
			readCodeSize = true
		}
	}
	if !readCodeSize {
		return nil
	}
	return SolidityStackTrace{&InvalidParamsError{SourceReference: constructorStartReference(f.bc)}}
}

// ---------------------------------------------------------------------------
// Post-execution rules
// ---------------------------------------------------------------------------

// checkLastSubmessage explains failures caused by the last child message:
// propagated child errors, a child running out of gas, and return data
// shorter than the caller expects.
func (d *Decoder) checkLastSubmessage(f *frame, w *walk) SolidityStackTrace {
	last := w.last
	if last == nil {
		return nil
	}
	callInst, ok := f.stepInstruction(last.stepIndex - 1)
	if !ok {
		return nil
	}
	callFrame := callstackEntry(f.bc, callInst)

	if last.msg.Exit.IsError() {
		if !d.isSubtraceErrorPropagated(f, last.stepIndex) && !d.isProxyErrorPropagated(f, last.stepIndex) {
			return nil
		}
		st := extend(w.stacktrace, callFrame)
		st = append(st, last.stacktrace...)
		if d.isContractCallRunOutOfGas(f, last.stepIndex) {
			n := len(st) - 1
			st[n] = &ContractCallRunOutOfGasError{SourceReference: st[n].Source()}
		}
		return d.fixInitialModifier(f, st)
	}
	if d.failsRightAfterCall(f, last.stepIndex) {
		st := extend(w.stacktrace, &ReturndataSizeError{SourceReference: callFrame.Source()})
		return d.fixInitialModifier(f, st)
	}
	return nil
}

// checkFailedLastCall matches a call or create that could not start, such
// as one lacking balance, after which nothing else was executed.
func (d *Decoder) checkFailedLastCall(f *frame, w *walk) SolidityStackTrace {
	steps := f.msg.Steps
	for i := len(steps) - 2; i >= 0; i-- {
		inst, ok := f.stepInstruction(i)
		if !ok {
			return nil
		}
		if !isCallOrCreate(inst.Opcode) || !steps[i+1].IsEVMStep() || inst.Location == nil {
			continue
		}
		if isLastLocation(f, i+1, inst.Location) {
			st := extend(w.stacktrace, &CallFailedError{SourceReference: locationReference(f.bc, inst.Location)})
			return d.fixInitialModifier(f, st)
		}
	}
	return nil
}

func (d *Decoder) checkLastInstruction(f *frame, w *walk) SolidityStackTrace {
	last, ok := f.lastInstruction()
	if !ok {
		return nil
	}
	if st := d.checkRevertOrInvalidOpcode(f, w, last); st != nil {
		return st
	}
	if !f.isCall() || w.jumpedIntoFunction {
		return nil
	}

	c := f.contract()
	if failedInside(c.Fallback, last) || failedInside(c.Receive, last) {
		return SolidityStackTrace{revertAt(f, last)}
	}
	// Optimized code may fail inside a function without jumping into it.
	if last.Location != nil {
		if fn := last.Location.ContainingFunction(); fn != nil {
			return SolidityStackTrace{&RevertError{
				Message:              returndata.ReturnData(f.msg.ReturnData),
				SourceReference:      functionStartReference(f.bc, fn),
				IsInvalidOpcodeError: last.Opcode == vm.INVALID,
			}}
		}
	}
	if fn := f.calledFunction(); fn != nil && !fn.IsValidCalldata(f.msg.Calldata[4:]) {
		return SolidityStackTrace{&InvalidParamsError{SourceReference: functionStartReference(f.bc, fn)}}
	}
	if d.solc063 != nil && d.solc063.applies(f) {
		if e := d.solc063.beforeFunction(f); e != nil {
			return SolidityStackTrace{e}
		}
	}
	return SolidityStackTrace{&OtherExecutionError{SourceReference: contractStartReference(f.bc)}}
}

func (d *Decoder) checkRevertOrInvalidOpcode(f *frame, w *walk, last *compiler.Instruction) SolidityStackTrace {
	if last.Opcode != vm.REVERT && last.Opcode != vm.INVALID {
		return nil
	}
	rd := returndata.ReturnData(f.msg.ReturnData)
	st := extend(w.stacktrace)
	inFunction := last.Location != nil && (!f.isCall() || w.jumpedIntoFunction)

	// A failure in a modifier is attributed to the function it wraps.
	if inFunction {
		if fn := last.Location.ContainingFunction(); fn != nil && fn.Type == compiler.Modifier {
			if entry := d.entryBeforeFailureInModifier(f, w); entry != nil {
				st = append(st, entry)
			}
		}
	}

	decoded := returndata.Decode(rd, f.contract().CustomErrors)
	if s := d.checkCustomError(f, st, last, decoded); s != nil {
		return s
	}
	if s := d.checkPanic(f, st, last, decoded); s != nil {
		return s
	}

	if inFunction {
		switch {
		case last.Location.ContainingFunction() != nil:
			st = append(st, revertAt(f, last))
		case f.isCall():
			called := f.calledFunction()
			if called == nil {
				return nil
			}
			st = append(st, &RevertError{
				Message:              rd,
				SourceReference:      functionStartReference(f.bc, called),
				IsInvalidOpcodeError: last.Opcode == vm.INVALID,
			})
		default:
			st = append(st, &RevertError{
				Message:              rd,
				SourceReference:      constructorStartReference(f.bc),
				IsInvalidOpcodeError: last.Opcode == vm.INVALID,
			})
		}
		return d.fixInitialModifier(f, st)
	}

	// Unmapped revert with data: use the best reference available.
	if last.Location == nil && !rd.IsEmpty() {
		ref := lastMappedReference(f)
		if ref == nil {
			ref = contractStartReference(f.bc)
		}
		st = append(st, &RevertError{
			Message:              rd,
			SourceReference:      ref,
			IsInvalidOpcodeError: last.Opcode == vm.INVALID,
		})
		return d.fixInitialModifier(f, st)
	}
	return nil
}

// checkCustomError turns any data other than Error(string) and Panic into
// a custom error entry, formatted when the contract declares it.
func (d *Decoder) checkCustomError(f *frame, st SolidityStackTrace, last *compiler.Instruction, decoded returndata.Decoded) SolidityStackTrace {
	rd := decoded.Data
	if rd.IsEmpty() || rd.IsErrorReturnData() || decoded.Kind == returndata.Panic {
		return nil
	}
	msg := returndata.UnrecognizedCustomErrorMessage(rd)
	if decoded.Kind == returndata.CustomError {
		msg = decoded.Message
	}
	st = append(st, &CustomError{Message: msg, SourceReference: locationReference(f.bc, last.Location)})
	return d.fixInitialModifier(f, st)
}

func (d *Decoder) checkPanic(f *frame, st SolidityStackTrace, last *compiler.Instruction, decoded returndata.Decoded) SolidityStackTrace {
	if decoded.Kind != returndata.Panic {
		return nil
	}
	// The compiler jumps to an internal helper to build the panic data.
	if n := len(st); n > 0 && st[n-1].Type() == InternalFunctionCallstackEntryType {
		st = st[:n-1]
	}
	// The frame of the call through a zero-initialized function pointer
	// duplicates the panic.
	if code := decoded.Code; code.IsUint64() && code.Uint64() == returndata.PanicUninitializedFunc && len(st) > 0 {
		st = st[:len(st)-1]
	}
	st = extend(st, &PanicError{ErrorCode: decoded.Code, SourceReference: locationReference(f.bc, last.Location)})
	return d.fixInitialModifier(f, st)
}

// checkNonContractCalled matches the EXTCODESIZE/ISZERO check solc emits
// before calling an account.
func (d *Decoder) checkNonContractCalled(f *frame, w *walk) SolidityStackTrace {
	idx := lastMappedStep(f)
	if idx <= 0 {
		return nil
	}
	inst, _ := f.stepInstruction(idx)
	if inst.Opcode != vm.ISZERO {
		return nil
	}
	prev, ok := f.stepInstruction(idx - 1)
	if !ok || prev.Opcode != vm.EXTCODESIZE {
		return nil
	}
	return extend(w.stacktrace, &NonContractAccountCalledError{SourceReference: lastMappedReference(f)})
}

func (d *Decoder) checkSolc063UnmappedRevert(f *frame, w *walk) SolidityStackTrace {
	if d.solc063 == nil || !d.solc063.applies(f) {
		return nil
	}
	if e := d.solc063.withinFunction(f); e != nil {
		return extend(w.stacktrace, e)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (d *Decoder) isSubtraceErrorPropagated(f *frame, idx int) bool {
	call := f.msg.Steps[idx].Message
	if !bytes.Equal(f.msg.ReturnData, call.ReturnData) {
		return false
	}
	if f.msg.Exit.Kind == trace.ExitOutOfGas && call.Exit.Kind == trace.ExitOutOfGas {
		return true
	}
	if len(f.msg.ReturnData) > 0 {
		return true
	}
	return d.failsRightAfterCall(f, idx)
}

// isProxyErrorPropagated matches a proxy forwarding the revert of its
// implementation through inline assembly.
func (d *Decoder) isProxyErrorPropagated(f *frame, idx int) bool {
	if !f.isCall() {
		return false
	}
	callInst, ok := f.stepInstruction(idx - 1)
	if !ok || callInst.Opcode != vm.DELEGATECALL {
		return false
	}
	sub := f.msg.Steps[idx].Message
	if sub == nil || sub.IsPrecompile() {
		return false
	}
	impl := d.lookup(sub)
	if impl == nil || impl.Contract.Kind == compiler.KindLibrary {
		return false
	}
	if !bytes.Equal(f.msg.ReturnData, sub.ReturnData) {
		return false
	}
	for i := idx + 1; i < len(f.msg.Steps); i++ {
		inst, ok := f.stepInstruction(i)
		if !ok || inst.Location == nil {
			return false
		}
		if inst.JumpType == compiler.IntoFunction || inst.JumpType == compiler.OutOfFunction {
			return false
		}
	}
	last, ok := f.lastInstruction()
	return ok && last.Opcode == vm.REVERT
}

func (d *Decoder) isContractCallRunOutOfGas(f *frame, idx int) bool {
	if len(f.msg.ReturnData) > 0 || f.msg.Exit.Kind != trace.ExitRevert {
		return false
	}
	call := f.msg.Steps[idx].Message
	if call.Exit.Kind != trace.ExitOutOfGas {
		return false
	}
	if d.cfg.StipendGasLimit > 0 && call.GasLimit > d.cfg.StipendGasLimit {
		return false
	}
	return d.failsRightAfterCall(f, idx)
}

// failsRightAfterCall reports whether the frame reverted without leaving
// the source location of the call that produced child idx.
func (d *Decoder) failsRightAfterCall(f *frame, idx int) bool {
	last, ok := f.lastInstruction()
	if !ok || last.Opcode != vm.REVERT {
		return false
	}
	callInst, ok := f.stepInstruction(idx - 1)
	if !ok || callInst.Location == nil {
		return false
	}
	return isLastLocation(f, idx+1, callInst.Location)
}

// isLastLocation reports whether every mapped step from index from on is
// attributed to loc.
func isLastLocation(f *frame, from int, loc *compiler.SourceLocation) bool {
	for i := from; i < len(f.msg.Steps); i++ {
		inst, ok := f.stepInstruction(i)
		if !ok {
			return false
		}
		if inst.Location == nil {
			continue
		}
		if !loc.Equal(inst.Location) {
			return false
		}
	}
	return true
}

func isCallOrCreate(op vm.OpCode) bool {
	switch op {
	case vm.CALL, vm.CALLCODE, vm.DELEGATECALL, vm.STATICCALL, vm.CREATE, vm.CREATE2:
		return true
	}
	return false
}

func failedInside(fn *compiler.ContractFunction, inst *compiler.Instruction) bool {
	return fn != nil && fn.Location != nil && inst.Location != nil &&
		inst.Opcode == vm.REVERT && fn.Location.Contains(inst.Location)
}

func revertAt(f *frame, inst *compiler.Instruction) *RevertError {
	return &RevertError{
		Message:              returndata.ReturnData(f.msg.ReturnData),
		SourceReference:      locationReference(f.bc, inst.Location),
		IsInvalidOpcodeError: inst.Opcode == vm.INVALID,
	}
}

// entryBeforeFailureInModifier returns the frame of the function a failing
// modifier belongs to.
func (d *Decoder) entryBeforeFailureInModifier(f *frame, w *walk) StackTraceEntry {
	if n := len(w.jumpdests); n > 0 {
		return callstackEntry(f.bc, w.jumpdests[n-1])
	}
	if f.isCall() {
		return nil
	}
	return &CallstackEntry{SourceReference: constructorStartReference(f.bc), FunctionType: compiler.Constructor}
}

// fixInitialModifier prepends the entry point when the outermost frame is a
// modifier, since modifiers run before the function body is entered.
func (d *Decoder) fixInitialModifier(f *frame, st SolidityStackTrace) SolidityStackTrace {
	if len(st) == 0 {
		return st
	}
	first, ok := st[0].(*CallstackEntry)
	if !ok || first.FunctionType != compiler.Modifier {
		return st
	}
	return append(SolidityStackTrace{entryBeforeInitialModifier(f)}, st...)
}

func entryBeforeInitialModifier(f *frame) StackTraceEntry {
	if !f.isCall() {
		return &CallstackEntry{SourceReference: constructorStartReference(f.bc), FunctionType: compiler.Constructor}
	}
	if fn := f.calledFunction(); fn != nil {
		return &CallstackEntry{SourceReference: functionStartReference(f.bc, fn), FunctionType: compiler.Function}
	}
	return &CallstackEntry{SourceReference: fallbackStartReference(f.bc), FunctionType: compiler.Fallback}
}

// filterRedundantFrames drops frames whose source range contains the next
// entry's, keeping constructors and recursive calls.
func filterRedundantFrames(st SolidityStackTrace) SolidityStackTrace {
	out := make(SolidityStackTrace, 0, len(st))
	for i, e := range st {
		if keepFrame(st, i) {
			out = append(out, e)
		}
	}
	return out
}

func keepFrame(st SolidityStackTrace, i int) bool {
	if i+1 == len(st) {
		return true
	}
	cur, next := st[i].Source(), st[i+1].Source()
	if cur == nil || next == nil {
		return true
	}
	// Some compilers emit a call frame that repeats the location of a
	// return data size failure two entries later.
	if st[i].Type() == CallstackEntryType && i+2 < len(st) && st[i+2].Type() == ReturndataSizeErrorType {
		if after := st[i+2].Source(); after != nil && sameSpot(cur, after) {
			return false
		}
	}
	// Constructors span the whole contract.
	if cur.FunctionName() == ConstructorFunctionName && next.FunctionName() != ConstructorFunctionName {
		return true
	}
	// Recursive call.
	if i > 0 && st[i].Type() == st[i+1].Type() && sameSpot(cur, next) {
		return true
	}
	if cur.SourceName != next.SourceName {
		return true
	}
	if cur.Range.Start <= next.Range.Start && cur.Range.End() >= next.Range.End() {
		return false
	}
	return true
}

func sameSpot(a, b *SourceReference) bool {
	return a.Range == b.Range && a.Line == b.Line
}
