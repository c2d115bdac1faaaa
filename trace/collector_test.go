package trace

import (
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/vm"
)

type codeMap map[common.Address][]byte

func (m codeMap) GetCode(addr common.Address) []byte { return m[addr] }

type precompileMap map[common.Address]uint32

func (m precompileMap) Number(addr common.Address) (uint32, bool) {
	n, ok := m[addr]
	return n, ok
}

var (
	eoa    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	alpha  = common.HexToAddress("0x2000000000000000000000000000000000000002")
	beta   = common.HexToAddress("0x3000000000000000000000000000000000000003")
	sha256 = common.BytesToAddress([]byte{2})
)

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

func TestCollector_CallTree(t *testing.T) {
	code := codeMap{alpha: {0x60, 0x00}, beta: {0xfe}}
	c := NewCollector(code, precompileMap{sha256: 2})
	h := c.Hooks()

	h.OnEnter(0, byte(vm.CALL), eoa, alpha, []byte{1, 2, 3, 4}, 100000, big.NewInt(5))
	h.OnOpcode(0, byte(vm.PUSH1), 0, 0, nil, nil, 1, nil)
	h.OnOpcode(2, byte(vm.STATICCALL), 0, 0, nil, nil, 1, nil)
	h.OnEnter(1, byte(vm.STATICCALL), alpha, sha256, []byte("x"), 3000, nil)
	h.OnExit(1, make([]byte, 32), 72, nil, false)
	h.OnOpcode(3, byte(vm.DELEGATECALL), 0, 0, nil, nil, 1, nil)
	h.OnEnter(1, byte(vm.DELEGATECALL), alpha, beta, nil, 3000, big.NewInt(5))
	h.OnOpcode(0, byte(vm.INVALID), 0, 0, nil, nil, 2, nil)
	h.OnExit(1, nil, 3000, &vm.ErrInvalidOpCode{}, true)
	h.OnOpcode(4, byte(vm.REVERT), 0, 0, nil, nil, 1, nil)
	h.OnExit(0, []byte{0xaa}, 50000, vm.ErrExecutionReverted, true)

	root := c.Result()
	if root == nil {
		t.Fatal("no root recorded")
	}
	if err := root.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if root.Kind != KindCall || root.Exit.Kind != ExitRevert || root.Value.Uint64() != 5 {
		t.Fatalf("root = kind %v exit %v value %v", root.Kind, root.Exit.Kind, root.Value)
	}
	if len(root.Steps) != 6 || root.NumberOfSubtraces() != 2 {
		t.Fatalf("root steps = %d subtraces = %d, want 6 and 2", len(root.Steps), root.NumberOfSubtraces())
	}

	kids := root.Children()
	pre := kids[0]
	if pre.Kind != KindPrecompile || pre.Precompile != 2 || len(pre.Steps) != 0 {
		t.Fatalf("precompile child = %+v", pre)
	}
	del := kids[1]
	if del.CallType != DelegateCall || del.Address != alpha || del.CodeAddress != beta {
		t.Fatalf("delegate child addressing = %v %s %s", del.CallType, del.Address, del.CodeAddress)
	}
	if len(del.Code) != 1 || del.Code[0] != 0xfe {
		t.Fatalf("delegate child code = %x, want fe", del.Code)
	}
	if del.Exit.Kind != ExitInvalidOpcode {
		t.Fatalf("delegate exit = %v, want invalidOpcode", del.Exit.Kind)
	}
}

func TestCollector_Create(t *testing.T) {
	c := NewCollector(codeMap{}, nil)
	h := c.Hooks()
	initCode := []byte{0x60, 0x80, 0x60, 0x40}

	h.OnEnter(0, byte(vm.CREATE2), eoa, alpha, initCode, 100000, nil)
	h.OnOpcode(0, byte(vm.PUSH1), 0, 0, nil, nil, 1, nil)
	h.OnExit(0, nil, 100000, vm.ErrMaxCodeSizeExceeded, true)

	root := c.Result()
	if !root.IsCreate() || string(root.Code) != string(initCode) || len(root.Calldata) != 0 {
		t.Fatalf("create root = %+v", root)
	}
	if root.Exit.Kind != ExitCodeSizeExceeded {
		t.Fatalf("exit = %v, want codeSizeExceeded", root.Exit.Kind)
	}

	c.Reset()
	if c.Result() != nil {
		t.Fatal("Reset kept the previous root")
	}
}

func TestCollector_UnbalancedExit(t *testing.T) {
	c := NewCollector(nil, nil)
	c.OnExit(0, nil, 0, nil, false)
	if c.Result() != nil {
		t.Fatal("unbalanced exit produced a root")
	}
}

func TestClassifyExit(t *testing.T) {
	tests := []struct {
		err  error
		want ExitKind
	}{
		{nil, ExitSuccess},
		{vm.ErrExecutionReverted, ExitRevert},
		{vm.ErrOutOfGas, ExitOutOfGas},
		{vm.ErrCodeStoreOutOfGas, ExitOutOfGas},
		{vm.ErrGasUintOverflow, ExitOutOfGas},
		{&vm.ErrInvalidOpCode{}, ExitInvalidOpcode},
		{vm.ErrMaxCodeSizeExceeded, ExitCodeSizeExceeded},
		{vm.ErrInvalidJump, ExitOther},
		{fmt.Errorf("wrapped: %w", vm.ErrOutOfGas), ExitOutOfGas},
		{errors.New("something else"), ExitOther},
	}
	for _, tt := range tests {
		if got := ClassifyExit(tt.err).Kind; got != tt.want {
			t.Errorf("ClassifyExit(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
