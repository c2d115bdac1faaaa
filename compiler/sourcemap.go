package compiler

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/core/vm"
)

// SourceMapEntry is one decoded element of a solc source map. File is -1
// for compiler-generated code without a source.
type SourceMapEntry struct {
	Offset        int
	Length        int
	File          int
	Jump          JumpType
	ModifierDepth int
}

// DecodeSourceMap expands solc's compressed "s:l:f:j:m;..." format. Empty
// entries and empty fields repeat the previous value.
func DecodeSourceMap(sourceMap string) ([]SourceMapEntry, error) {
	if sourceMap == "" {
		return nil, nil
	}
	items := strings.Split(sourceMap, ";")
	out := make([]SourceMapEntry, 0, len(items))
	prev := SourceMapEntry{File: -1}
	for i, item := range items {
		cur := prev
		fields := strings.Split(item, ":")
		if len(fields) > 5 {
			return nil, fmt.Errorf("%w: entry %d has %d fields", ErrInvalidSourceMap, i, len(fields))
		}
		for j, field := range fields {
			if field == "" {
				continue
			}
			if j == 3 {
				jt, err := parseJump(field)
				if err != nil {
					return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidSourceMap, i, err)
				}
				cur.Jump = jt
				continue
			}
			n, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("%w: entry %d field %d: %v", ErrInvalidSourceMap, i, j, err)
			}
			switch j {
			case 0:
				cur.Offset = n
			case 1:
				cur.Length = n
			case 2:
				cur.File = n
			case 4:
				cur.ModifierDepth = n
			}
		}
		out = append(out, cur)
		prev = cur
	}
	return out, nil
}

func parseJump(s string) (JumpType, error) {
	switch s {
	case "i":
		return IntoFunction, nil
	case "o":
		return OutOfFunction, nil
	case "-":
		return NotJump, nil
	default:
		return NotJump, fmt.Errorf("unknown jump type %q", s)
	}
}

// pushSize returns the number of immediate bytes of op.
func pushSize(op vm.OpCode) int {
	if op >= vm.PUSH1 && op <= vm.PUSH32 {
		return int(op-vm.PUSH1) + 1
	}
	return 0
}

// DecodeInstructions walks code and pairs each instruction with its source
// map entry. Decoding stops when either runs out, so trailing metadata is
// never decoded as instructions. files maps solc source ids to files.
func DecodeInstructions(code []byte, entries []SourceMapEntry, files map[int]*SourceFile) []Instruction {
	out := make([]Instruction, 0, len(entries))
	pc := 0
	for i := 0; pc < len(code) && i < len(entries); i++ {
		op := vm.OpCode(code[pc])
		inst := Instruction{PC: uint64(pc), Opcode: op, JumpType: entries[i].Jump}
		if inst.JumpType == NotJump && (op == vm.JUMP || op == vm.JUMPI) {
			inst.JumpType = InternalJump
		}
		if n := pushSize(op); n > 0 {
			end := pc + 1 + n
			if end > len(code) {
				end = len(code)
			}
			inst.PushData = code[pc+1 : end]
			pc += n
		}
		e := entries[i]
		if f, ok := files[e.File]; ok && e.File >= 0 {
			inst.Location = &SourceLocation{File: f, Offset: e.Offset, Length: e.Length}
		}
		out = append(out, inst)
		pc++
	}
	return out
}
