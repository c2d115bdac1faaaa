package returndata

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Solidity panic codes.
const (
	PanicGeneric           = 0x00
	PanicAssert            = 0x01
	PanicArithmetic        = 0x11
	PanicDivisionByZero    = 0x12
	PanicEnumConversion    = 0x21
	PanicStorageEncoding   = 0x22
	PanicPopEmptyArray     = 0x31
	PanicArrayOutOfBounds  = 0x32
	PanicResourceError     = 0x41
	PanicUninitializedFunc = 0x51
)

var panicDescriptions = map[uint64]string{
	PanicGeneric:           "Generic compiler panic",
	PanicAssert:            "Assertion error",
	PanicArithmetic:        "Arithmetic operation overflowed outside of an unchecked block",
	PanicDivisionByZero:    "Division or modulo division by zero",
	PanicEnumConversion:    "Tried to convert a value into an enum, but the value was too big or negative",
	PanicStorageEncoding:   "Incorrectly encoded storage byte array",
	PanicPopEmptyArray:     ".pop() was called on an empty array",
	PanicArrayOutOfBounds:  "Array accessed at an out-of-bounds or negative index",
	PanicResourceError:     "Too much memory was allocated, or an array was created that is too large",
	PanicUninitializedFunc: "Called a zero-initialized variable of internal function type",
}

// PanicDescription returns the catalogue text for a panic code, or "" for
// codes outside the catalogue.
func PanicDescription(code *uint256.Int) string {
	if code == nil || !code.IsUint64() {
		return ""
	}
	return panicDescriptions[code.Uint64()]
}

// PanicMessage renders "reverted with panic code 0x11 (...)".
func PanicMessage(code *uint256.Int) string {
	if code == nil {
		code = new(uint256.Int)
	}
	if desc := PanicDescription(code); desc != "" {
		return fmt.Sprintf("reverted with panic code %s (%s)", code.Hex(), desc)
	}
	return fmt.Sprintf("reverted with unknown panic code %s", code.Hex())
}
