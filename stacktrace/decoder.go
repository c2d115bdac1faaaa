package stacktrace

import (
	"bytes"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/params"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/log"
	"github.com/eth2030/soltrace/returndata"
	"github.com/eth2030/soltrace/trace"
)

// ContractResolver identifies the compiled bytecode that ran a message.
// compiler.ContractsIdentifier implements it.
type ContractResolver interface {
	Lookup(code []byte, isCreate bool) *compiler.Bytecode
}

// Decoder turns failed message traces into Solidity stack traces. It keeps
// no per-trace state and is safe for concurrent use.
type Decoder struct {
	contracts ContractResolver
	cfg       Config
	solc063   *solc063Workaround
	log       *log.Logger
}

// NewDecoder returns a decoder resolving code through contracts. A nil
// resolver treats every contract as unrecognized.
func NewDecoder(contracts ContractResolver, cfg Config) *Decoder {
	if cfg.MaxCodeSize == 0 {
		cfg.MaxCodeSize = params.MaxCodeSize
	}
	d := &Decoder{
		contracts: contracts,
		cfg:       cfg,
		log:       log.Default().Module("stacktrace"),
	}
	if cfg.EnableSolc063Workaround {
		d.solc063 = new(solc063Workaround)
	}
	return d
}

// Decode explains why root failed. A successful root yields an empty
// trace. Otherwise the result is non-empty, ends with exactly one failure
// entry and every preceding entry is a frame. Structurally invalid traces
// return an error wrapping trace.ErrInvalidTrace.
func (d *Decoder) Decode(root *trace.MessageTrace) (SolidityStackTrace, error) {
	if err := root.Validate(); err != nil {
		return nil, err
	}
	if !root.Exit.IsError() {
		return SolidityStackTrace{}, nil
	}
	return d.normalize(d.stackTrace(root)), nil
}

// normalize enforces the shape of a failure trace.
func (d *Decoder) normalize(st SolidityStackTrace) SolidityStackTrace {
	out := make(SolidityStackTrace, 0, len(st)+1)
	for i, e := range st {
		if e == nil {
			continue
		}
		if i < len(st)-1 && !e.Type().IsFrame() {
			d.log.Warn("Dropping misplaced failure entry", "type", e.Type(), "index", i)
			continue
		}
		out = append(out, e)
	}
	if last := out.Last(); last == nil || !last.Type().IsTerminal() {
		out = append(out, &OtherExecutionError{})
	}
	return out
}

func (d *Decoder) lookup(msg *trace.MessageTrace) *compiler.Bytecode {
	if d.contracts == nil || msg.IsPrecompile() || len(msg.Code) == 0 {
		return nil
	}
	bc := d.contracts.Lookup(msg.Code, msg.IsCreate())
	if bc == nil || bc.Contract == nil {
		return nil
	}
	return bc
}

// stackTrace dispatches on the kind of message. It returns nil for
// successful messages.
func (d *Decoder) stackTrace(msg *trace.MessageTrace) SolidityStackTrace {
	if !msg.Exit.IsError() {
		return nil
	}
	if msg.IsPrecompile() {
		return d.precompileTrace(msg)
	}
	bc := d.lookup(msg)
	if bc == nil {
		return d.unrecognizedTrace(msg)
	}
	f := &frame{msg: msg, bc: bc}

	rules := callRules
	if msg.IsCreate() {
		rules = createRules
	}
	for _, r := range rules {
		if st := r.apply(d, f); st != nil {
			d.log.Debug("Matched pre-execution rule", "rule", r.name, "code", bc)
			return st
		}
	}
	return d.traceExecution(f)
}

func (d *Decoder) precompileTrace(msg *trace.MessageTrace) SolidityStackTrace {
	e := &PrecompileError{Precompile: msg.Precompile}
	if d.cfg.Precompiles != nil {
		e.Name = d.cfg.Precompiles.Name(msg.Precompile)
		e.Diagnosis = d.cfg.Precompiles.Diagnose(msg.Precompile, msg.Calldata)
	}
	return SolidityStackTrace{e}
}

func (d *Decoder) unrecognizedTrace(msg *trace.MessageTrace) SolidityStackTrace {
	// Most contracts revert with the data of a failed call, so identical
	// return data is taken as propagation.
	if sub := msg.LastSubtrace(); sub != nil && sub.Exit.IsError() && bytes.Equal(msg.ReturnData, sub.ReturnData) {
		var head StackTraceEntry
		if msg.IsCreate() {
			head = &UnrecognizedCreateCallstackEntry{}
		} else {
			head = &UnrecognizedContractCallstackEntry{Address: msg.CodeAddress}
		}
		return append(SolidityStackTrace{head}, d.stackTrace(sub)...)
	}
	if d.isContractTooLarge(msg) {
		return SolidityStackTrace{&ContractTooLargeError{}}
	}
	if !msg.IsCreate() && len(msg.Code) == 0 {
		return SolidityStackTrace{&NonContractAccountCalledError{}}
	}
	invalid := msg.Exit.Kind == trace.ExitInvalidOpcode
	if msg.IsCreate() {
		return SolidityStackTrace{&UnrecognizedCreateError{
			Message:              returndata.ReturnData(msg.ReturnData),
			IsInvalidOpcodeError: invalid,
		}}
	}
	return SolidityStackTrace{&UnrecognizedContractError{
		Address:              msg.CodeAddress,
		Message:              returndata.ReturnData(msg.ReturnData),
		IsInvalidOpcodeError: invalid,
	}}
}

// isContractTooLarge reports a creation rejected for the size of the code
// it returned.
func (d *Decoder) isContractTooLarge(msg *trace.MessageTrace) bool {
	if !msg.IsCreate() {
		return false
	}
	switch msg.Exit.Kind {
	case trace.ExitCodeSizeExceeded:
		return true
	case trace.ExitOther:
		return uint64(len(msg.ReturnData)) > d.cfg.MaxCodeSize
	}
	return false
}

// ---------------------------------------------------------------------------
// Execution walk
// ---------------------------------------------------------------------------

// submessage is the last child of a frame together with its own trace.
type submessage struct {
	msg        *trace.MessageTrace
	stepIndex  int
	stacktrace SolidityStackTrace
}

// walk is the state left by replaying a frame's steps.
type walk struct {
	stacktrace         SolidityStackTrace
	jumpdests          []*compiler.Instruction
	jumpedIntoFunction bool
	last               *submessage
}

func (d *Decoder) traceExecution(f *frame) SolidityStackTrace {
	w := d.replay(f)
	st := d.inferAfterExecution(f, w)
	st = filterRedundantFrames(st)
	if d.cfg.EnableHeuristics && mayRequireAdjustments(st, f) {
		st = adjustStackTrace(st, f)
	}
	return st
}

// replay tracks internal calls: a jump into a function landing on a
// JUMPDEST opens a frame, a jump out of a function closes one. Only the
// last child message is decoded since earlier ones did not end execution.
func (d *Decoder) replay(f *frame) *walk {
	w := new(walk)
	steps := f.msg.Steps
	total := f.msg.NumberOfSubtraces()
	seen := 0
	for i, step := range steps {
		if !step.IsEVMStep() {
			seen++
			if seen < total {
				continue
			}
			w.last = &submessage{
				msg:        step.Message,
				stepIndex:  i,
				stacktrace: d.stackTrace(step.Message),
			}
			continue
		}
		inst := f.instruction(step.PC)
		switch inst.JumpType {
		case compiler.IntoFunction:
			next, ok := f.stepInstruction(i + 1)
			if !ok || next.Opcode != vm.JUMPDEST {
				continue
			}
			w.stacktrace = append(w.stacktrace, callstackEntry(f.bc, inst))
			if next.Location != nil {
				w.jumpedIntoFunction = true
			}
			w.jumpdests = append(w.jumpdests, next)
		case compiler.OutOfFunction:
			if n := len(w.stacktrace); n > 0 {
				w.stacktrace = w.stacktrace[:n-1]
			}
			if n := len(w.jumpdests); n > 0 {
				w.jumpdests = w.jumpdests[:n-1]
			}
		}
	}
	return w
}

func (d *Decoder) inferAfterExecution(f *frame, w *walk) SolidityStackTrace {
	for _, r := range postRules {
		if st := r.apply(d, f, w); st != nil {
			d.log.Debug("Matched post-execution rule", "rule", r.name, "code", f.bc)
			return st
		}
	}
	return extend(w.stacktrace, &OtherExecutionError{SourceReference: lastMappedReference(f)})
}

// extend returns a copy of st with entries appended.
func extend(st SolidityStackTrace, entries ...StackTraceEntry) SolidityStackTrace {
	out := make(SolidityStackTrace, 0, len(st)+len(entries))
	out = append(out, st...)
	return append(out, entries...)
}
