// Package compiler models compiled Solidity contracts: source files and
// locations, contracts and their functions, decoded bytecode with per
// instruction source mappings, and the index that identifies observed
// bytecode.
package compiler

import (
	"errors"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/vm"
)

var (
	ErrInvalidSourceMap = errors.New("compiler: invalid source map")
	ErrInvalidBytecode  = errors.New("compiler: invalid bytecode")
	ErrInvalidArtifact  = errors.New("compiler: invalid artifact")
	ErrUnknownFunction  = errors.New("compiler: unknown function")
)

// ---------------------------------------------------------------------------
// Sources
// ---------------------------------------------------------------------------

// SourceFile is one compiled source unit. Functions holds every function,
// modifier and free function declared in the file.
type SourceFile struct {
	SourceName string
	Content    string

	Contracts []*Contract
	Functions []*ContractFunction

	lineStarts []int
}

// NewSourceFile returns a source file with its line index built.
func NewSourceFile(name, content string) *SourceFile {
	starts := []int{0}
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &SourceFile{SourceName: name, Content: content, lineStarts: starts}
}

// LineOf returns the 1-based line containing the byte offset. Offsets past
// the end map to the last line.
func (f *SourceFile) LineOf(offset int) int {
	return sort.Search(len(f.lineStarts), func(i int) bool { return f.lineStarts[i] > offset })
}

// AddFunction registers a declaration with the file.
func (f *SourceFile) AddFunction(fn *ContractFunction) {
	f.Functions = append(f.Functions, fn)
}

// ContainingFunction returns the smallest declaration whose location
// contains loc, or nil.
func (f *SourceFile) ContainingFunction(loc *SourceLocation) *ContractFunction {
	var best *ContractFunction
	for _, fn := range f.Functions {
		if fn.Location == nil || !fn.Location.Contains(loc) {
			continue
		}
		if best == nil || fn.Location.Length < best.Location.Length {
			best = fn
		}
	}
	return best
}

// SourceLocation is a byte range within a source file.
type SourceLocation struct {
	File   *SourceFile
	Offset int
	Length int
}

// StartLine returns the 1-based line on which the range starts.
func (l *SourceLocation) StartLine() int { return l.File.LineOf(l.Offset) }

// Contains reports whether other lies within l.
func (l *SourceLocation) Contains(other *SourceLocation) bool {
	if other == nil || l.File != other.File {
		return false
	}
	return other.Offset >= l.Offset && other.Offset+other.Length <= l.Offset+l.Length
}

// Equal reports whether both locations cover the same range of the same file.
func (l *SourceLocation) Equal(other *SourceLocation) bool {
	if l == nil || other == nil {
		return l == other
	}
	return l.File == other.File && l.Offset == other.Offset && l.Length == other.Length
}

// ContainingFunction returns the declaration enclosing the location.
func (l *SourceLocation) ContainingFunction() *ContractFunction {
	return l.File.ContainingFunction(l)
}

// ---------------------------------------------------------------------------
// Contracts and functions
// ---------------------------------------------------------------------------

// ContractFunctionType classifies a declaration.
type ContractFunctionType uint8

const (
	Constructor ContractFunctionType = iota
	Function
	Fallback
	Receive
	Getter
	Modifier
	FreeFunction
	// Library is an externally callable function declared in a library.
	Library
)

var functionTypeNames = [...]string{
	Constructor:  "constructor",
	Function:     "function",
	Fallback:     "fallback",
	Receive:      "receive",
	Getter:       "getter",
	Modifier:     "modifier",
	FreeFunction: "freeFunction",
	Library:      "library",
}

func (t ContractFunctionType) String() string {
	if int(t) < len(functionTypeNames) {
		return functionTypeNames[t]
	}
	return "unknown"
}

// MarshalText encodes the type by name.
func (t ContractFunctionType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText decodes a name produced by MarshalText.
func (t *ContractFunctionType) UnmarshalText(b []byte) error {
	for i, name := range functionTypeNames {
		if name == string(b) {
			*t = ContractFunctionType(i)
			return nil
		}
	}
	return ErrUnknownFunction
}

// ContractKind distinguishes regular contracts from libraries.
type ContractKind uint8

const (
	KindContract ContractKind = iota
	KindLibrary
)

// Visibility of a declaration.
type Visibility uint8

const (
	Public Visibility = iota
	External
	Internal
	Private
)

func parseVisibility(s string) Visibility {
	switch s {
	case "external":
		return External
	case "internal":
		return Internal
	case "private":
		return Private
	default:
		return Public
	}
}

// ContractFunction is a function, modifier, constructor, getter or free
// function. Contract is nil for free functions.
type ContractFunction struct {
	Name            string
	Type            ContractFunctionType
	Location        *SourceLocation
	Contract        *Contract
	Visibility      Visibility
	Payable         bool
	StateMutability string
	Selector        []byte

	// Inputs is nil when the parameter types are unknown.
	Inputs abi.Arguments
}

// IsValidCalldata reports whether data (without the selector) decodes
// against the function's parameter types. Unknown types accept anything.
func (f *ContractFunction) IsValidCalldata(data []byte) bool {
	if f.Inputs == nil {
		return true
	}
	_, err := f.Inputs.Unpack(data)
	return err == nil
}

// IsReadOnly reports whether the function is declared view or pure.
func (f *ContractFunction) IsReadOnly() bool {
	return f.StateMutability == "view" || f.StateMutability == "pure"
}

// Contract is a compiled contract or library.
type Contract struct {
	Name     string
	Kind     ContractKind
	Location *SourceLocation

	Functions    []*ContractFunction
	CustomErrors []abi.Error

	Constructor *ContractFunction
	Fallback    *ContractFunction
	Receive     *ContractFunction

	bySelector map[string]*ContractFunction
}

// NewContract returns an empty contract.
func NewContract(name string, kind ContractKind, loc *SourceLocation) *Contract {
	return &Contract{Name: name, Kind: kind, Location: loc, bySelector: make(map[string]*ContractFunction)}
}

// AddFunction registers a declaration local to the contract.
func (c *Contract) AddFunction(fn *ContractFunction) {
	fn.Contract = c
	c.Functions = append(c.Functions, fn)
	switch fn.Type {
	case Constructor:
		c.Constructor = fn
	case Fallback:
		c.Fallback = fn
	case Receive:
		c.Receive = fn
	case Function, Getter, Library:
		if len(fn.Selector) == 4 && (fn.Visibility == Public || fn.Visibility == External) {
			c.bySelector[string(fn.Selector)] = fn
		}
	}
}

// Inherit copies the externally reachable entry points of a base contract
// that the contract does not declare itself.
func (c *Contract) Inherit(base *Contract) {
	for sel, fn := range base.bySelector {
		if _, ok := c.bySelector[sel]; !ok {
			c.bySelector[sel] = fn
		}
	}
	if c.Fallback == nil {
		c.Fallback = base.Fallback
	}
	if c.Receive == nil {
		c.Receive = base.Receive
	}
}

// FunctionFromSelector returns the public function with the given 4-byte
// selector, or nil.
func (c *Contract) FunctionFromSelector(sel []byte) *ContractFunction {
	if len(sel) < 4 {
		return nil
	}
	return c.bySelector[string(sel[:4])]
}

// ---------------------------------------------------------------------------
// Bytecode
// ---------------------------------------------------------------------------

// JumpType is the source-map jump annotation of an instruction.
type JumpType uint8

const (
	NotJump JumpType = iota
	IntoFunction
	OutOfFunction
	// InternalJump is a JUMP or JUMPI without a function annotation.
	InternalJump
)

func (j JumpType) String() string {
	switch j {
	case IntoFunction:
		return "i"
	case OutOfFunction:
		return "o"
	case InternalJump:
		return "internal"
	default:
		return "-"
	}
}

// Instruction is a decoded opcode paired with its source mapping. Location
// is nil for instructions the compiler did not attribute to source.
type Instruction struct {
	PC       uint64
	Opcode   vm.OpCode
	JumpType JumpType
	PushData []byte
	Location *SourceLocation
}

// Range is a byte range within bytecode.
type Range struct {
	Start  int `json:"start"`
	Length int `json:"length"`
}

// Bytecode is one compiled code object (creation or runtime) of a contract.
type Bytecode struct {
	Contract        *Contract
	IsDeployment    bool
	NormalizedCode  []byte
	CompilerVersion Version

	LibraryOffsets      []Range
	ImmutableReferences []Range

	instructions []Instruction
	byPC         map[uint64]int
}

// NewBytecode indexes the decoded instructions by program counter.
func NewBytecode(contract *Contract, deployment bool, code []byte, instructions []Instruction, version Version) *Bytecode {
	b := &Bytecode{
		Contract:        contract,
		IsDeployment:    deployment,
		NormalizedCode:  code,
		CompilerVersion: version,
		instructions:    instructions,
		byPC:            make(map[uint64]int, len(instructions)),
	}
	for i, inst := range instructions {
		b.byPC[inst.PC] = i
	}
	return b
}

// Instructions returns the decoded instructions in code order.
func (b *Bytecode) Instructions() []Instruction { return b.instructions }

// Instruction returns the instruction at pc.
func (b *Bytecode) Instruction(pc uint64) (*Instruction, bool) {
	i, ok := b.byPC[pc]
	if !ok {
		return nil, false
	}
	return &b.instructions[i], true
}

// String names the bytecode for logs.
func (b *Bytecode) String() string {
	var sb strings.Builder
	if b.Contract != nil {
		sb.WriteString(b.Contract.Name)
	} else {
		sb.WriteString("<anonymous>")
	}
	if b.IsDeployment {
		sb.WriteString(" (deployment)")
	} else {
		sb.WriteString(" (runtime)")
	}
	return sb.String()
}
