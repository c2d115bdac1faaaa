package compiler

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/core/vm"
	"github.com/ethereum/go-ethereum/crypto"
)

const vaultSource = `pragma solidity ^0.8.0;

contract Vault {
    uint256 public total;

    error Insufficient(uint256 have, uint256 want);

    function deposit(uint256 amount) external {
        total += amount;
    }

    receive() external payable {}
}
`

const vaultABI = `[
 {"type":"function","name":"deposit","inputs":[{"name":"amount","type":"uint256"}],"outputs":[],"stateMutability":"nonpayable"},
 {"type":"function","name":"total","inputs":[],"outputs":[{"name":"","type":"uint256"}],"stateMutability":"view"},
 {"type":"error","name":"Insufficient","inputs":[{"name":"have","type":"uint256"},{"name":"want","type":"uint256"}]},
 {"type":"receive","stateMutability":"payable"}
]`

// span returns "offset:length" of the first occurrence of needle.
func span(t *testing.T, needle string) (int, int) {
	t.Helper()
	i := strings.Index(vaultSource, needle)
	if i < 0 {
		t.Fatalf("%q not in source", needle)
	}
	return i, len(needle)
}

func selectorHex(sig string) string {
	return hex.EncodeToString(crypto.Keccak256([]byte(sig))[:4])
}

func vaultBuildInfo(t *testing.T) string {
	t.Helper()
	cOff, cLen := span(t, vaultSource[strings.Index(vaultSource, "contract Vault"):strings.LastIndex(vaultSource, "}")+1])
	tOff, tLen := span(t, "uint256 public total;")
	dOff, dLen := span(t, "function deposit(uint256 amount) external {\n        total += amount;\n    }")
	rOff, rLen := span(t, "receive() external payable {}")

	ast := fmt.Sprintf(`{"nodeType":"SourceUnit","id":20,"src":"0:%d:0","nodes":[
 {"nodeType":"PragmaDirective","id":1,"src":"0:23:0"},
 {"nodeType":"ContractDefinition","id":19,"name":"Vault","contractKind":"contract","src":"%d:%d:0","linearizedBaseContracts":[19],"nodes":[
  {"nodeType":"VariableDeclaration","id":3,"name":"total","stateVariable":true,"visibility":"public","functionSelector":"%s","src":"%d:%d:0"},
  {"nodeType":"ErrorDefinition","id":5,"name":"Insufficient","src":"0:0:0"},
  {"nodeType":"FunctionDefinition","id":10,"name":"deposit","kind":"function","visibility":"external","stateMutability":"nonpayable","functionSelector":"%s","src":"%d:%d:0"},
  {"nodeType":"FunctionDefinition","id":12,"name":"","kind":"receive","visibility":"external","stateMutability":"payable","src":"%d:%d:0"}
 ]}
]}`, len(vaultSource), cOff, cLen, selectorHex("total()"), tOff, tLen, selectorHex("deposit(uint256)"), dOff, dLen, rOff, rLen)

	placeholder := "__$" + strings.Repeat("ab", 17) + "$__"
	return fmt.Sprintf(`{
 "solcVersion": "0.8.20+commit.a1b79de6",
 "input": {"sources": {"contracts/Vault.sol": {"content": %q}}},
 "output": {
  "sources": {"contracts/Vault.sol": {"id": 0, "ast": %s}},
  "contracts": {"contracts/Vault.sol": {"Vault": {
   "abi": %s,
   "evm": {
    "bytecode": {"object": "73%s50", "sourceMap": "%d:%d:0:-;", "linkReferences": {"contracts/Vault.sol": {"MathLib": [{"start": 1, "length": 20}]}}},
    "deployedBytecode": {"object": "6080604052600080fd", "sourceMap": "%d:%d:0:-;;;%d:%d:0:-;;", "immutableReferences": {}}
   }
  }}}
 }
}`, vaultSource, ast, vaultABI, placeholder, cOff, cLen, cOff, cLen, dOff, dLen)
}

func TestBuildInfo_Bytecodes(t *testing.T) {
	bi, err := ReadBuildInfo(strings.NewReader(vaultBuildInfo(t)))
	if err != nil {
		t.Fatalf("ReadBuildInfo: %v", err)
	}
	codes, err := bi.Bytecodes()
	if err != nil {
		t.Fatalf("Bytecodes: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("got %d bytecodes, want 2", len(codes))
	}
	creation, runtime := codes[0], codes[1]
	if !creation.IsDeployment || runtime.IsDeployment {
		t.Fatal("creation/runtime order wrong")
	}
	if creation.CompilerVersion != (Version{0, 8, 20}) {
		t.Fatalf("version = %v, want 0.8.20", creation.CompilerVersion)
	}
	if len(creation.NormalizedCode) != 22 || creation.NormalizedCode[5] != 0 {
		t.Fatalf("creation code = %x", creation.NormalizedCode)
	}
	if len(creation.LibraryOffsets) != 1 || creation.LibraryOffsets[0] != (Range{Start: 1, Length: 20}) {
		t.Fatalf("library offsets = %v", creation.LibraryOffsets)
	}

	if got := len(runtime.Instructions()); got != 6 {
		t.Fatalf("runtime instructions = %d, want 6", got)
	}
	inst, ok := runtime.Instruction(8)
	if !ok || inst.Opcode != vm.REVERT {
		t.Fatalf("Instruction(8) = %+v, %v", inst, ok)
	}
	if _, ok := runtime.Instruction(1); ok {
		t.Fatal("push data reported as instruction")
	}
	fn := inst.Location.ContainingFunction()
	if fn == nil || fn.Name != "deposit" {
		t.Fatalf("revert attributed to %v, want deposit", fn)
	}
	if line := inst.Location.StartLine(); line != 8 {
		t.Fatalf("deposit starts on line %d, want 8", line)
	}

	c := runtime.Contract
	if c.Name != "Vault" || c.Kind != KindContract {
		t.Fatalf("contract = %s kind %d", c.Name, c.Kind)
	}
	sel, _ := hex.DecodeString(selectorHex("deposit(uint256)"))
	dep := c.FunctionFromSelector(sel)
	if dep == nil || dep.Payable || len(dep.Inputs) != 1 || dep.Type != Function {
		t.Fatalf("deposit = %+v", dep)
	}
	sel, _ = hex.DecodeString(selectorHex("total()"))
	if g := c.FunctionFromSelector(sel); g == nil || g.Type != Getter {
		t.Fatalf("total getter = %+v", g)
	}
	if c.Receive == nil || !c.Receive.Payable {
		t.Fatal("receive missing or not payable")
	}
	if c.Fallback != nil || c.Constructor != nil {
		t.Fatal("unexpected fallback or constructor")
	}
	if len(c.CustomErrors) != 1 || c.CustomErrors[0].Name != "Insufficient" {
		t.Fatalf("custom errors = %v", c.CustomErrors)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "vault.json"), []byte(vaultBuildInfo(t)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}
	codes, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(codes) != 2 {
		t.Fatalf("LoadDir returned %d bytecodes, want 2", len(codes))
	}

	ci := NewContractsIdentifier()
	for _, b := range codes {
		ci.Add(b)
	}
	if got := ci.Lookup(codes[1].NormalizedCode, false); got != codes[1] {
		t.Fatal("runtime bytecode not identified")
	}
}

func TestReadBuildInfo_Invalid(t *testing.T) {
	if _, err := ReadBuildInfo(strings.NewReader("{")); !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("err = %v, want ErrInvalidArtifact", err)
	}
	bi, err := ReadBuildInfo(strings.NewReader(`{"solcVersion":"latest"}`))
	if err != nil {
		t.Fatalf("ReadBuildInfo: %v", err)
	}
	if _, err := bi.Bytecodes(); !errors.Is(err, ErrInvalidArtifact) {
		t.Fatalf("Bytecodes err = %v, want ErrInvalidArtifact", err)
	}
}

func TestDecodeObject_InvalidHex(t *testing.T) {
	if _, err := decodeObject("zz", nil); !errors.Is(err, ErrInvalidBytecode) {
		t.Fatalf("err = %v, want ErrInvalidBytecode", err)
	}
}
