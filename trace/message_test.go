package trace

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

func callAt(depth int, steps ...Step) *MessageTrace {
	return &MessageTrace{Kind: KindCall, Depth: depth, Steps: steps}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

func TestMessageTrace_Children(t *testing.T) {
	a := callAt(1)
	b := callAt(1)
	root := callAt(0, Step{PC: 0}, Step{Message: a}, Step{PC: 5}, Step{Message: b}, Step{PC: 9})

	if n := root.NumberOfSubtraces(); n != 2 {
		t.Fatalf("NumberOfSubtraces = %d, want 2", n)
	}
	kids := root.Children()
	if len(kids) != 2 || kids[0] != a || kids[1] != b {
		t.Fatalf("Children = %v, want [a b]", kids)
	}
	if root.LastSubtrace() != b {
		t.Fatal("LastSubtrace is not the last child")
	}
	if callAt(0).LastSubtrace() != nil {
		t.Fatal("LastSubtrace of a leaf is not nil")
	}
}

func TestMessageTrace_CallValue(t *testing.T) {
	m := callAt(0)
	if !m.CallValue().IsZero() {
		t.Fatal("nil value should read as zero")
	}
	m.Value = uint256.NewInt(7)
	if m.CallValue().Uint64() != 7 {
		t.Fatalf("CallValue = %v, want 7", m.CallValue())
	}
}

func TestExitKind_StringRoundTrip(t *testing.T) {
	for k := ExitSuccess; k <= ExitOther; k++ {
		got, err := ParseExitKind(k.String())
		if err != nil {
			t.Fatalf("ParseExitKind(%q): %v", k.String(), err)
		}
		if got != k {
			t.Fatalf("ParseExitKind(%q) = %v, want %v", k.String(), got, k)
		}
	}
	if _, err := ParseExitKind("exploded"); !errors.Is(err, ErrInvalidTrace) {
		t.Fatalf("ParseExitKind(bogus) err = %v, want ErrInvalidTrace", err)
	}
}

// ---------------------------------------------------------------------------
// Validate
// ---------------------------------------------------------------------------

func TestValidate_OK(t *testing.T) {
	pre := &MessageTrace{Kind: KindPrecompile, Depth: 2, Precompile: 1, Address: common.BytesToAddress([]byte{1})}
	inner := callAt(1, Step{PC: 0}, Step{Message: pre})
	root := callAt(0, Step{PC: 0}, Step{PC: 2}, Step{Message: inner}, Step{PC: 3})
	if err := root.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		msg  *MessageTrace
	}{
		{"nil", nil},
		{"depth mismatch", callAt(0, Step{PC: 0}, Step{Message: callAt(2)})},
		{"child first", callAt(0, Step{Message: callAt(1)})},
		{"adjacent children", callAt(0, Step{PC: 0}, Step{Message: callAt(1)}, Step{Message: callAt(1)})},
		{"precompile with steps", &MessageTrace{Kind: KindPrecompile, Steps: []Step{{PC: 0}}}},
		{"unknown kind", &MessageTrace{Kind: Kind(9)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if !errors.Is(err, ErrInvalidTrace) {
				t.Fatalf("Validate err = %v, want ErrInvalidTrace", err)
			}
		})
	}
}
