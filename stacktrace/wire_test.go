package stacktrace

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/returndata"
)

func sampleTrace() SolidityStackTrace {
	ref := &SourceReference{
		SourceName:    "contracts/A.sol",
		SourceContent: "contract A {}",
		Contract:      strPtr("A"),
		Function:      strPtr("f"),
		Line:          1,
		Range:         Range{Start: 0, Length: 13},
	}
	return SolidityStackTrace{
		&CallstackEntry{SourceReference: ref, FunctionType: compiler.Modifier},
		&UnrecognizedContractCallstackEntry{Address: common.HexToAddress("0x1234")},
		&InternalFunctionCallstackEntry{PC: 0x2a, SourceReference: ref},
		&PanicError{ErrorCode: uint256.NewInt(0x32), SourceReference: ref},
	}
}

func TestWire_RoundTrip(t *testing.T) {
	st := sampleTrace()
	enc, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(enc), `"type":5`) || !strings.Contains(string(enc), `"functionType":"modifier"`) {
		t.Fatalf("encoding = %s", enc)
	}
	var got SolidityStackTrace
	if err := json.Unmarshal(enc, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !reflect.DeepEqual(got, st) {
		t.Fatalf("round trip = %s, want %s", mustJSON(t, got), enc)
	}
}

func TestWire_Failures(t *testing.T) {
	tests := []StackTraceEntry{
		&RevertError{Message: returndata.ReturnData(returndata.EncodeError("no")), IsInvalidOpcodeError: true},
		&CustomError{Message: "reverted with custom error 'E()'"},
		&FallbackNotPayableAndNoReceiveError{Value: uint256.NewInt(9)},
		&UnrecognizedContractError{Address: common.HexToAddress("0xbeef"), Message: returndata.ReturnData{0xde, 0xad}},
		&PrecompileError{Precompile: 10, Name: "pointEvaluation", Diagnosis: "bad length"},
		&ContractTooLargeError{},
	}
	for _, e := range tests {
		t.Run(e.Type().String(), func(t *testing.T) {
			enc, err := json.Marshal(SolidityStackTrace{e})
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			got, err := UnmarshalSolidityStackTrace(enc)
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if !reflect.DeepEqual(got, SolidityStackTrace{e}) {
				t.Fatalf("got %s, want %s", mustJSON(t, got), enc)
			}
		})
	}
}

func TestWire_InvalidEntries(t *testing.T) {
	for _, in := range []string{
		`[{"type":42}]`,
		`{"type":4}`,
		`[{"type":5,"errorCode":"0x1ffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffffff"}]`,
		`[{"type":4,"message":"nothex"}]`,
	} {
		if _, err := UnmarshalSolidityStackTrace([]byte(in)); !errors.Is(err, ErrInvalidEntry) {
			t.Errorf("%s: err = %v, want ErrInvalidEntry", in, err)
		}
	}
	if _, err := json.Marshal(SolidityStackTrace{nil}); err == nil {
		t.Fatal("nil entry encoded")
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return string(b)
}
