package compiler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/vm"

	"github.com/eth2030/soltrace/log"
)

// BuildInfo is a solc standard-JSON compilation: the input sources, the
// compiler version and the compiler output with ASTs and EVM code.
type BuildInfo struct {
	SolcVersion string `json:"solcVersion"`
	Input       struct {
		Sources map[string]struct {
			Content string `json:"content"`
		} `json:"sources"`
	} `json:"input"`
	Output struct {
		Sources map[string]struct {
			ID  int     `json:"id"`
			AST astNode `json:"ast"`
		} `json:"sources"`
		Contracts map[string]map[string]contractOutput `json:"contracts"`
	} `json:"output"`
}

type contractOutput struct {
	ABI json.RawMessage `json:"abi"`
	EVM struct {
		Bytecode         codeOutput `json:"bytecode"`
		DeployedBytecode codeOutput `json:"deployedBytecode"`
	} `json:"evm"`
}

type codeOutput struct {
	Object              string                        `json:"object"`
	SourceMap           string                        `json:"sourceMap"`
	LinkReferences      map[string]map[string][]Range `json:"linkReferences"`
	ImmutableReferences map[string][]Range            `json:"immutableReferences"`
}

// astNode is the subset of the solc AST the model is built from.
type astNode struct {
	NodeType         string    `json:"nodeType"`
	ID               int       `json:"id"`
	Src              string    `json:"src"`
	Name             string    `json:"name"`
	Nodes            []astNode `json:"nodes"`
	ContractKind     string    `json:"contractKind"`
	Kind             string    `json:"kind"`
	Visibility       string    `json:"visibility"`
	StateMutability  string    `json:"stateMutability"`
	FunctionSelector string    `json:"functionSelector"`
	StateVariable    bool      `json:"stateVariable"`
	LinearizedBases  []int     `json:"linearizedBaseContracts"`
}

// ReadBuildInfo decodes a build info document.
func ReadBuildInfo(r io.Reader) (*BuildInfo, error) {
	var bi BuildInfo
	if err := json.NewDecoder(r).Decode(&bi); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}
	return &bi, nil
}

// LoadDir reads every *.json build info in dir and returns the bytecodes of
// all of them.
func LoadDir(dir string) ([]*Bytecode, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	var all []*Bytecode
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return nil, err
		}
		bi, err := ReadBuildInfo(f)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		codes, err := bi.Bytecodes()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		all = append(all, codes...)
	}
	return all, nil
}

// Bytecodes builds the contract model and returns the creation and runtime
// bytecode of every contract with code.
func (bi *BuildInfo) Bytecodes() ([]*Bytecode, error) {
	version, err := ParseVersion(bi.SolcVersion)
	if err != nil {
		return nil, err
	}
	logger := log.Default().Module("compiler")

	b := &modelBuilder{
		files:     make(map[int]*SourceFile),
		contracts: make(map[int]*Contract),
		byName:    make(map[string]*Contract),
	}
	names := make([]string, 0, len(bi.Output.Sources))
	for name := range bi.Output.Sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		src := bi.Output.Sources[name]
		b.files[src.ID] = NewSourceFile(name, bi.Input.Sources[name].Content)
	}
	for _, name := range names {
		src := bi.Output.Sources[name]
		b.walkSourceUnit(b.files[src.ID], &src.AST)
	}
	b.linkInheritance()

	var out []*Bytecode
	for _, source := range sortedKeys(bi.Output.Contracts) {
		byContract := bi.Output.Contracts[source]
		for _, name := range sortedKeys(byContract) {
			co := byContract[name]
			contract := b.byName[source+":"+name]
			if contract == nil {
				logger.Debug("contract without AST definition", "source", source, "contract", name)
				continue
			}
			if err := applyABI(contract, co.ABI); err != nil {
				return nil, fmt.Errorf("%s:%s: %w", source, name, err)
			}
			if co.EVM.Bytecode.Object == "" {
				continue
			}
			creation, err := b.bytecode(contract, true, &co.EVM.Bytecode, version)
			if err != nil {
				return nil, fmt.Errorf("%s:%s creation: %w", source, name, err)
			}
			runtime, err := b.bytecode(contract, false, &co.EVM.DeployedBytecode, version)
			if err != nil {
				return nil, fmt.Errorf("%s:%s runtime: %w", source, name, err)
			}
			out = append(out, creation, runtime)
		}
	}
	return out, nil
}

type modelBuilder struct {
	files     map[int]*SourceFile
	contracts map[int]*Contract
	byName    map[string]*Contract
	bases     map[*Contract][]int
}

func (b *modelBuilder) location(src string) *SourceLocation {
	parts := strings.Split(src, ":")
	if len(parts) != 3 {
		return nil
	}
	offset, err1 := strconv.Atoi(parts[0])
	length, err2 := strconv.Atoi(parts[1])
	id, err3 := strconv.Atoi(parts[2])
	if err1 != nil || err2 != nil || err3 != nil {
		return nil
	}
	f, ok := b.files[id]
	if !ok {
		return nil
	}
	return &SourceLocation{File: f, Offset: offset, Length: length}
}

func (b *modelBuilder) walkSourceUnit(file *SourceFile, unit *astNode) {
	for i := range unit.Nodes {
		n := &unit.Nodes[i]
		switch n.NodeType {
		case "ContractDefinition":
			b.walkContract(file, n)
		case "FunctionDefinition":
			fn := &ContractFunction{
				Name:            n.Name,
				Type:            FreeFunction,
				Location:        b.location(n.Src),
				Visibility:      Internal,
				StateMutability: n.StateMutability,
			}
			file.AddFunction(fn)
		}
	}
}

func (b *modelBuilder) walkContract(file *SourceFile, n *astNode) {
	kind := KindContract
	if n.ContractKind == "library" {
		kind = KindLibrary
	}
	c := NewContract(n.Name, kind, b.location(n.Src))
	file.Contracts = append(file.Contracts, c)
	b.contracts[n.ID] = c
	b.byName[file.SourceName+":"+n.Name] = c
	if b.bases == nil {
		b.bases = make(map[*Contract][]int)
	}
	b.bases[c] = n.LinearizedBases

	for i := range n.Nodes {
		child := &n.Nodes[i]
		var fn *ContractFunction
		switch child.NodeType {
		case "FunctionDefinition":
			fn = &ContractFunction{
				Name:            child.Name,
				Type:            functionKind(child.Kind, kind),
				Visibility:      parseVisibility(child.Visibility),
				StateMutability: child.StateMutability,
				Payable:         child.StateMutability == "payable",
			}
		case "ModifierDefinition":
			fn = &ContractFunction{Name: child.Name, Type: Modifier, Visibility: Internal}
		case "VariableDeclaration":
			if !child.StateVariable || child.Visibility != "public" {
				continue
			}
			fn = &ContractFunction{Name: child.Name, Type: Getter, Visibility: Public, StateMutability: "view"}
		default:
			continue
		}
		fn.Location = b.location(child.Src)
		if child.FunctionSelector != "" {
			if sel, err := hexutil.Decode("0x" + child.FunctionSelector); err == nil && len(sel) == 4 {
				fn.Selector = sel
			}
		}
		c.AddFunction(fn)
		file.AddFunction(fn)
	}
}

func functionKind(kind string, contract ContractKind) ContractFunctionType {
	switch kind {
	case "constructor":
		return Constructor
	case "fallback":
		return Fallback
	case "receive":
		return Receive
	case "freeFunction":
		return FreeFunction
	}
	if contract == KindLibrary {
		return Library
	}
	return Function
}

// linkInheritance applies the linearized base contracts, most derived
// first, so overrides win.
func (b *modelBuilder) linkInheritance() {
	for c, ids := range b.bases {
		for _, id := range ids {
			if base, ok := b.contracts[id]; ok && base != c {
				c.Inherit(base)
			}
		}
	}
}

// applyABI fills in parameter types, payability and custom errors from the
// contract's ABI.
func applyABI(c *Contract, raw json.RawMessage) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("%w: abi: %v", ErrInvalidArtifact, err)
	}
	for _, name := range sortedKeys(parsed.Methods) {
		m := parsed.Methods[name]
		fn := c.FunctionFromSelector(m.ID)
		if fn == nil || fn.Inputs != nil {
			continue
		}
		fn.Inputs = append(abi.Arguments{}, m.Inputs...)
		fn.Payable = m.IsPayable()
		fn.StateMutability = m.StateMutability
	}
	if c.Constructor != nil && c.Constructor.Inputs == nil {
		c.Constructor.Inputs = append(abi.Arguments{}, parsed.Constructor.Inputs...)
		c.Constructor.Payable = parsed.Constructor.IsPayable()
	}
	if c.Fallback != nil && parsed.HasFallback() {
		c.Fallback.Payable = parsed.Fallback.IsPayable()
	}
	if c.Receive != nil && parsed.HasReceive() {
		c.Receive.Payable = true
	}
	c.CustomErrors = c.CustomErrors[:0]
	for _, name := range sortedKeys(parsed.Errors) {
		c.CustomErrors = append(c.CustomErrors, parsed.Errors[name])
	}
	return nil
}

func (b *modelBuilder) bytecode(c *Contract, deployment bool, out *codeOutput, version Version) (*Bytecode, error) {
	var libs []Range
	for _, file := range sortedKeys(out.LinkReferences) {
		for _, lib := range sortedKeys(out.LinkReferences[file]) {
			libs = append(libs, out.LinkReferences[file][lib]...)
		}
	}
	var immutables []Range
	for _, id := range sortedKeys(out.ImmutableReferences) {
		immutables = append(immutables, out.ImmutableReferences[id]...)
	}

	code, err := decodeObject(out.Object, libs)
	if err != nil {
		return nil, err
	}
	zeroRanges(code, immutables)
	if !deployment && c.Kind == KindLibrary {
		code = NormalizeLibraryRuntimeCode(code)
	}

	entries, err := DecodeSourceMap(out.SourceMap)
	if err != nil {
		return nil, err
	}
	bc := NewBytecode(c, deployment, code, DecodeInstructions(code, entries, b.files), version)
	bc.LibraryOffsets = libs
	bc.ImmutableReferences = immutables
	return bc, nil
}

// decodeObject decodes an unlinked hex object, replacing library
// placeholders with zero addresses.
func decodeObject(object string, libs []Range) ([]byte, error) {
	hex := []byte(strings.TrimPrefix(object, "0x"))
	for _, r := range libs {
		for i := 2 * r.Start; i < 2*(r.Start+r.Length) && i < len(hex); i++ {
			hex[i] = '0'
		}
	}
	code, err := hexutil.Decode("0x" + string(hex))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBytecode, err)
	}
	return code, nil
}

func zeroRanges(code []byte, ranges []Range) {
	for _, r := range ranges {
		for i := r.Start; i < r.Start+r.Length && i < len(code); i++ {
			if i >= 0 {
				code[i] = 0
			}
		}
	}
}

// NormalizeLibraryRuntimeCode zeroes the address a library's runtime code
// embeds at deployment (a leading PUSH20) and returns a copy.
func NormalizeLibraryRuntimeCode(code []byte) []byte {
	out := append([]byte(nil), code...)
	if len(out) > 0 && vm.OpCode(out[0]) == vm.PUSH20 {
		zeroRanges(out, []Range{{Start: 1, Length: 20}})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
