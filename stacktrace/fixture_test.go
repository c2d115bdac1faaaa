package stacktrace

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/trace"
)

// fixture assembles a contract model and hand-written bytecode whose
// instructions carry explicit source locations.
type fixture struct {
	t        *testing.T
	file     *compiler.SourceFile
	contract *compiler.Contract
	version  compiler.Version
	insts    []compiler.Instruction
	code     []byte
}

func newFixture(t *testing.T, sourceName, source, name string, kind compiler.ContractKind) *fixture {
	t.Helper()
	fx := &fixture{
		t:       t,
		file:    compiler.NewSourceFile(sourceName, source),
		version: compiler.Version{Major: 0, Minor: 8, Patch: 20},
	}
	header := "contract " + name
	if kind == compiler.KindLibrary {
		header = "library " + name
	}
	start := strings.Index(source, header)
	if start < 0 {
		t.Fatalf("%q not in source", header)
	}
	end := strings.LastIndex(source, "}") + 1
	loc := &compiler.SourceLocation{File: fx.file, Offset: start, Length: end - start}
	fx.contract = compiler.NewContract(name, kind, loc)
	fx.file.Contracts = append(fx.file.Contracts, fx.contract)
	return fx
}

// loc returns the location of the first occurrence of needle.
func (fx *fixture) loc(needle string) *compiler.SourceLocation {
	fx.t.Helper()
	i := strings.Index(fx.file.Content, needle)
	if i < 0 {
		fx.t.Fatalf("%q not in source", needle)
	}
	return &compiler.SourceLocation{File: fx.file, Offset: i, Length: len(needle)}
}

// function declares a function spanning decl. sig is the canonical
// signature for externally callable functions and the bare name otherwise.
func (fx *fixture) function(sig string, typ compiler.ContractFunctionType, decl string) *compiler.ContractFunction {
	fx.t.Helper()
	name := sig
	if i := strings.IndexByte(sig, '('); i >= 0 {
		name = sig[:i]
	}
	fn := &compiler.ContractFunction{
		Name:       name,
		Type:       typ,
		Location:   fx.loc(decl),
		Visibility: compiler.External,
	}
	if strings.Contains(sig, "(") {
		fn.Selector = crypto.Keccak256([]byte(sig))[:4]
	}
	if typ == compiler.Modifier {
		fn.Visibility = compiler.Internal
	}
	fx.file.AddFunction(fn)
	fx.contract.AddFunction(fn)
	return fn
}

func (fx *fixture) op(op vm.OpCode, loc *compiler.SourceLocation) uint64 {
	return fx.jump(op, loc, compiler.NotJump)
}

func (fx *fixture) jump(op vm.OpCode, loc *compiler.SourceLocation, jt compiler.JumpType) uint64 {
	pc := uint64(len(fx.code))
	fx.code = append(fx.code, byte(op))
	if jt == compiler.NotJump && (op == vm.JUMP || op == vm.JUMPI) {
		jt = compiler.InternalJump
	}
	fx.insts = append(fx.insts, compiler.Instruction{PC: pc, Opcode: op, JumpType: jt, Location: loc})
	return pc
}

// bytecode freezes the instructions emitted so far and starts a new code
// object. The contract name and tag are appended as trailing data so every
// fixture has distinct code.
func (fx *fixture) bytecode(deploy bool, tag string) *compiler.Bytecode {
	code := append(append([]byte{}, fx.code...), []byte(fx.contract.Name+tag)...)
	bc := compiler.NewBytecode(fx.contract, deploy, code, fx.insts, fx.version)
	fx.code, fx.insts = nil, nil
	return bc
}

// resolver identifies bytecode by exact code.
type resolver map[string]*compiler.Bytecode

func newResolver(codes ...*compiler.Bytecode) resolver {
	r := make(resolver)
	for _, bc := range codes {
		r[string(bc.NormalizedCode)] = bc
	}
	return r
}

func (r resolver) Lookup(code []byte, _ bool) *compiler.Bytecode { return r[string(code)] }

// steps builds a step list from program counters and child messages.
func steps(items ...interface{}) []trace.Step {
	out := make([]trace.Step, len(items))
	for i, it := range items {
		switch x := it.(type) {
		case uint64:
			out[i] = trace.Step{PC: x}
		case *trace.MessageTrace:
			out[i] = trace.Step{Message: x}
		default:
			panic("steps: unsupported item")
		}
	}
	return out
}

func addressOf(name string) common.Address {
	return common.BytesToAddress([]byte(name))
}

func callMessage(bc *compiler.Bytecode, depth int, calldata []byte, exit trace.ExitKind, rd []byte, st []trace.Step) *trace.MessageTrace {
	addr := addressOf(bc.Contract.Name)
	return &trace.MessageTrace{
		Kind:        trace.KindCall,
		CallType:    trace.Call,
		Depth:       depth,
		Address:     addr,
		CodeAddress: addr,
		Code:        bc.NormalizedCode,
		Calldata:    calldata,
		GasLimit:    100000,
		Exit:        trace.Exit{Kind: exit},
		ReturnData:  rd,
		Steps:       st,
	}
}

func createMessage(bc *compiler.Bytecode, exit trace.ExitKind, rd []byte, st []trace.Step) *trace.MessageTrace {
	return &trace.MessageTrace{
		Kind:       trace.KindCreate,
		Address:    addressOf(bc.Contract.Name),
		Code:       bc.NormalizedCode,
		GasLimit:   100000,
		Exit:       trace.Exit{Kind: exit},
		ReturnData: rd,
		Steps:      st,
	}
}

func uint256Args(t *testing.T) abi.Arguments {
	t.Helper()
	ty, err := abi.NewType("uint256", "", nil)
	if err != nil {
		t.Fatalf("NewType: %v", err)
	}
	return abi.Arguments{{Name: "amount", Type: ty}}
}

// decode runs the decoder twice, checks the result is stable and well
// formed, and returns it.
func decode(t *testing.T, cfg Config, root *trace.MessageTrace, codes ...*compiler.Bytecode) SolidityStackTrace {
	t.Helper()
	d := NewDecoder(newResolver(codes...), cfg)
	st, err := d.Decode(root)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	checkShape(t, st)
	again, err := d.Decode(root)
	if err != nil || !reflect.DeepEqual(st, again) {
		t.Fatalf("second Decode differs: %v", err)
	}
	return st
}

func checkShape(t *testing.T, st SolidityStackTrace) {
	t.Helper()
	if len(st) == 0 {
		t.Fatal("empty stack trace for a failed message")
	}
	for i, e := range st {
		if i == len(st)-1 {
			if !e.Type().IsTerminal() {
				t.Fatalf("last entry %v is not a failure", e.Type())
			}
		} else if !e.Type().IsFrame() {
			t.Fatalf("entry %d (%v) is not a frame", i, e.Type())
		}
	}
}

func wantTypes(t *testing.T, st SolidityStackTrace, want ...StackTraceEntryType) {
	t.Helper()
	got := make([]StackTraceEntryType, len(st))
	for i, e := range st {
		got[i] = e.Type()
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("types = %v, want %v", got, want)
	}
}

func wantSource(t *testing.T, ref *SourceReference, function string, line int) {
	t.Helper()
	if ref == nil {
		t.Fatal("missing source reference")
	}
	if got := ref.FunctionName(); got != function {
		t.Fatalf("function = %q, want %q", got, function)
	}
	if ref.Line != line {
		t.Fatalf("line = %d, want %d", ref.Line, line)
	}
}

// ---------------------------------------------------------------------------
// Contracts
// ---------------------------------------------------------------------------

const calleeSource = `pragma solidity ^0.8.0;

contract Callee {
    uint256 count;

    function boom() external {
        count += 1;
        revert("boom");
    }
}
`

type callee struct {
	bc   *compiler.Bytecode
	boom *compiler.ContractFunction

	dispatch, enter, entry, sstore, revert uint64
}

func newCallee(t *testing.T) *callee {
	fx := newFixture(t, "contracts/Callee.sol", calleeSource, "Callee", compiler.KindContract)
	c := &callee{}
	c.boom = fx.function("boom()", compiler.Function, "function boom() external {\n        count += 1;\n        revert(\"boom\");\n    }")
	c.dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	c.enter = fx.jump(vm.JUMP, c.boom.Location, compiler.IntoFunction)
	c.entry = fx.op(vm.JUMPDEST, c.boom.Location)
	c.sstore = fx.op(vm.SSTORE, fx.loc("count += 1"))
	c.revert = fx.op(vm.REVERT, fx.loc(`revert("boom")`))
	c.bc = fx.bytecode(false, "")
	return c
}

func callerSource(name string) string {
	return "pragma solidity ^0.8.0;\n\ncontract " + name + " {\n" +
		"    function forward() external {\n" +
		"        target.run();\n" +
		"    }\n" +
		"}\n"
}

type caller struct {
	bc      *compiler.Bytecode
	forward *compiler.ContractFunction

	dispatch, enter, entry, extcodesize, iszero, call, revert, bareRevert uint64
}

func newCaller(t *testing.T, name string) *caller {
	fx := newFixture(t, "contracts/"+name+".sol", callerSource(name), name, compiler.KindContract)
	c := &caller{}
	c.forward = fx.function("forward()", compiler.Function, "function forward() external {\n        target.run();\n    }")
	site := fx.loc("target.run()")
	c.dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	c.enter = fx.jump(vm.JUMP, c.forward.Location, compiler.IntoFunction)
	c.entry = fx.op(vm.JUMPDEST, c.forward.Location)
	c.extcodesize = fx.op(vm.EXTCODESIZE, site)
	c.iszero = fx.op(vm.ISZERO, site)
	c.call = fx.op(vm.CALL, site)
	c.revert = fx.op(vm.REVERT, site)
	c.bareRevert = fx.op(vm.REVERT, nil)
	c.bc = fx.bytecode(false, "")
	return c
}

const vaultSource = `pragma solidity ^0.8.0;

contract Vault {
    address owner;

    error Insufficient(uint256 have);

    constructor() {
        owner = msg.sender;
    }

    modifier onlyOwner() {
        require(msg.sender == owner, "not owner");
        _;
    }

    function deposit(uint256 amount) external {
        require(amount > 0);
    }

    function withdraw() external onlyOwner {
        revert Insufficient(0);
    }

    fallback() external {
    }
}
`

type vault struct {
	runtime, deploy *compiler.Bytecode

	deposit, withdraw, fallback, ctor *compiler.ContractFunction
	insufficient                      abi.Error

	// runtime
	dispatch, bareRevert uint64

	enterDeposit, depositEntry, calldatasize, pop, lt, iszero, requireRevert uint64

	enterWithdraw, withdrawEntry, modifierRevert, customRevert uint64

	// deployment
	ctorEntry, codesize, ctorBody, ctorRevert, argsRevert, ret uint64
}

func newVault(t *testing.T) *vault {
	fx := newFixture(t, "contracts/Vault.sol", vaultSource, "Vault", compiler.KindContract)
	v := &vault{}
	v.ctor = fx.function("constructor", compiler.Constructor, "constructor() {\n        owner = msg.sender;\n    }")
	fx.function("onlyOwner", compiler.Modifier, "modifier onlyOwner() {\n        require(msg.sender == owner, \"not owner\");\n        _;\n    }")
	v.deposit = fx.function("deposit(uint256)", compiler.Function, "function deposit(uint256 amount) external {\n        require(amount > 0);\n    }")
	v.deposit.Inputs = uint256Args(t)
	v.withdraw = fx.function("withdraw()", compiler.Function, "function withdraw() external onlyOwner {\n        revert Insufficient(0);\n    }")
	v.fallback = fx.function("fallback", compiler.Fallback, "fallback() external {\n    }")

	ty, _ := abi.NewType("uint256", "", nil)
	v.insufficient = abi.NewError("Insufficient", abi.Arguments{{Name: "have", Type: ty}})
	fx.contract.CustomErrors = []abi.Error{v.insufficient}

	v.dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	v.bareRevert = fx.op(vm.REVERT, nil)
	v.enterDeposit = fx.jump(vm.JUMP, v.deposit.Location, compiler.IntoFunction)
	v.depositEntry = fx.op(vm.JUMPDEST, v.deposit.Location)
	v.calldatasize = fx.op(vm.CALLDATASIZE, v.deposit.Location)
	v.pop = fx.op(vm.POP, v.deposit.Location)
	v.lt = fx.op(vm.LT, v.deposit.Location)
	v.iszero = fx.op(vm.ISZERO, v.deposit.Location)
	v.requireRevert = fx.op(vm.REVERT, fx.loc("require(amount > 0)"))
	v.enterWithdraw = fx.jump(vm.JUMP, v.withdraw.Location, compiler.IntoFunction)
	v.withdrawEntry = fx.op(vm.JUMPDEST, v.withdraw.Location)
	v.modifierRevert = fx.op(vm.REVERT, fx.loc(`require(msg.sender == owner, "not owner")`))
	v.customRevert = fx.op(vm.REVERT, fx.loc("revert Insufficient(0)"))
	v.runtime = fx.bytecode(false, "")

	v.ctorEntry = fx.op(vm.JUMPDEST, fx.contract.Location)
	v.codesize = fx.op(vm.CODESIZE, fx.contract.Location)
	v.ctorBody = fx.op(vm.SSTORE, fx.loc("owner = msg.sender"))
	v.ctorRevert = fx.op(vm.REVERT, fx.loc("owner = msg.sender"))
	v.argsRevert = fx.op(vm.REVERT, nil)
	v.ret = fx.op(vm.RETURN, fx.contract.Location)
	v.deploy = fx.bytecode(true, "/deploy")
	return v
}

const routerSource = `pragma solidity ^0.8.0;

contract Router {
    error Unsupported(uint256 route);

    function route(uint256 id) external {
        _dispatch(id);
    }
}
`

// router reverts with a custom error from an internal function the source
// map does not cover.
type router struct {
	bc          *compiler.Bytecode
	route       *compiler.ContractFunction
	unsupported abi.Error

	dispatch, enter, entry, helper, helperEntry, revert uint64
}

func newRouter(t *testing.T) *router {
	fx := newFixture(t, "contracts/Router.sol", routerSource, "Router", compiler.KindContract)
	r := &router{}
	r.route = fx.function("route(uint256)", compiler.Function, "function route(uint256 id) external {\n        _dispatch(id);\n    }")
	r.unsupported = abi.NewError("Unsupported", uint256Args(t))
	fx.contract.CustomErrors = []abi.Error{r.unsupported}
	r.dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	r.enter = fx.jump(vm.JUMP, r.route.Location, compiler.IntoFunction)
	r.entry = fx.op(vm.JUMPDEST, r.route.Location)
	r.helper = fx.jump(vm.JUMP, nil, compiler.IntoFunction)
	r.helperEntry = fx.op(vm.JUMPDEST, nil)
	r.revert = fx.op(vm.REVERT, nil)
	r.bc = fx.bytecode(false, "")
	return r
}

const pointerSource = `pragma solidity ^0.8.0;

contract Pointer {
    function() internal handler;

    function run() external {
        handler();
    }
}
`

// pointer calls through a function pointer and panics in an unmapped
// helper.
type pointer struct {
	bc  *compiler.Bytecode
	run *compiler.ContractFunction

	dispatch, enter, entry, call, callEntry, helper, helperEntry, revert uint64
}

func newPointer(t *testing.T) *pointer {
	fx := newFixture(t, "contracts/Pointer.sol", pointerSource, "Pointer", compiler.KindContract)
	p := &pointer{}
	p.run = fx.function("run()", compiler.Function, "function run() external {\n        handler();\n    }")
	p.dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	p.enter = fx.jump(vm.JUMP, p.run.Location, compiler.IntoFunction)
	p.entry = fx.op(vm.JUMPDEST, p.run.Location)
	p.call = fx.jump(vm.JUMP, fx.loc("handler();"), compiler.IntoFunction)
	p.callEntry = fx.op(vm.JUMPDEST, nil)
	p.helper = fx.jump(vm.JUMP, nil, compiler.IntoFunction)
	p.helperEntry = fx.op(vm.JUMPDEST, nil)
	p.revert = fx.op(vm.REVERT, nil)
	p.bc = fx.bytecode(false, "")
	return p
}

const proxySource = `pragma solidity ^0.8.0;

contract Proxy {
    fallback() external {
        assembly {
            let ok := delegatecall(gas(), sload(0), 0, calldatasize(), 0, 0)
            returndatacopy(0, 0, returndatasize())
            if iszero(ok) { revert(0, returndatasize()) }
        }
    }
}
`

// proxy forwards its calldata from the fallback and reverts with whatever
// the target returned.
type proxy struct {
	bc       *compiler.Bytecode
	fallback *compiler.ContractFunction

	dispatch, call, copyData, revert uint64
}

func newProxy(t *testing.T, call vm.OpCode) *proxy {
	fx := newFixture(t, "contracts/Proxy.sol", proxySource, "Proxy", compiler.KindContract)
	start := strings.Index(proxySource, "fallback()")
	end := strings.LastIndex(proxySource, "    }\n}") + len("    }")
	p := &proxy{}
	p.fallback = fx.function("fallback", compiler.Fallback, proxySource[start:end])
	p.dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	p.call = fx.op(call, fx.loc("delegatecall(gas(), sload(0), 0, calldatasize(), 0, 0)"))
	p.copyData = fx.op(vm.RETURNDATACOPY, fx.loc("returndatacopy(0, 0, returndatasize())"))
	p.revert = fx.op(vm.REVERT, fx.loc("revert(0, returndatasize())"))
	p.bc = fx.bytecode(false, call.String())
	return p
}

const guardSource = `pragma solidity ^0.8.0;

contract Guard {
    function check() external {
    }
}
`

// newGuard returns a contract that fails with op at an unmapped pc right
// after dispatch.
func newGuard(t *testing.T, op vm.OpCode) (bc *compiler.Bytecode, check *compiler.ContractFunction, dispatch, fail uint64) {
	fx := newFixture(t, "contracts/Guard.sol", guardSource, "Guard", compiler.KindContract)
	check = fx.function("check()", compiler.Function, "function check() external {\n    }")
	dispatch = fx.op(vm.JUMPDEST, fx.contract.Location)
	fail = fx.op(op, nil)
	return fx.bytecode(false, op.String()), check, dispatch, fail
}
