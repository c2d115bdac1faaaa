// Package returndata classifies the bytes a failed call returned: empty,
// Error(string), Panic(uint256), a declared custom error, or opaque data.
package returndata

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"reflect"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

var (
	ErrNotErrorData = errors.New("returndata: not Error(string) data")
	ErrNotPanicData = errors.New("returndata: not Panic(uint256) data")
	ErrMalformed    = errors.New("returndata: malformed ABI encoding")
)

var (
	// ErrorSelector is the selector of Error(string).
	ErrorSelector = []byte{0x08, 0xc3, 0x79, 0xa0}
	// PanicSelector is the selector of Panic(uint256).
	PanicSelector = []byte{0x4e, 0x48, 0x7b, 0x71}
)

var (
	stringArgs  = mustArgs("string")
	uint256Args = mustArgs("uint256")
)

func mustArgs(typ string) abi.Arguments {
	t, err := abi.NewType(typ, "", nil)
	if err != nil {
		panic(err)
	}
	return abi.Arguments{{Type: t}}
}

// ReturnData is the raw output of a call.
type ReturnData []byte

// IsEmpty reports whether no data was returned.
func (r ReturnData) IsEmpty() bool { return len(r) == 0 }

// Selector returns the first four bytes, or nil when there are fewer.
func (r ReturnData) Selector() []byte {
	if len(r) < 4 {
		return nil
	}
	return r[:4]
}

// MatchesSelector reports whether the data starts with sel.
func (r ReturnData) MatchesSelector(sel []byte) bool {
	return len(sel) == 4 && len(r) >= 4 && bytes.Equal(r[:4], sel)
}

// IsErrorReturnData reports whether the data starts with Error(string)'s
// selector.
func (r ReturnData) IsErrorReturnData() bool { return r.MatchesSelector(ErrorSelector) }

// IsPanicReturnData reports whether the data starts with Panic(uint256)'s
// selector.
func (r ReturnData) IsPanicReturnData() bool { return r.MatchesSelector(PanicSelector) }

// DecodeError returns the reason of Error(string) data.
func (r ReturnData) DecodeError() (string, error) {
	if !r.IsErrorReturnData() {
		return "", ErrNotErrorData
	}
	vals, err := stringArgs.Unpack(r[4:])
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	s, ok := vals[0].(string)
	if !ok {
		return "", ErrMalformed
	}
	return s, nil
}

// DecodePanic returns the code of Panic(uint256) data.
func (r ReturnData) DecodePanic() (*uint256.Int, error) {
	if !r.IsPanicReturnData() {
		return nil, ErrNotPanicData
	}
	vals, err := uint256Args.Unpack(r[4:])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	b, ok := vals[0].(*big.Int)
	if !ok {
		return nil, ErrMalformed
	}
	code, overflow := uint256.FromBig(b)
	if overflow {
		return nil, ErrMalformed
	}
	return code, nil
}

// Kind is the classification of return data.
type Kind uint8

const (
	Empty Kind = iota
	Revert
	Panic
	CustomError
	Unrecognized
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Revert:
		return "revert"
	case Panic:
		return "panic"
	case CustomError:
		return "customError"
	default:
		return "unrecognized"
	}
}

// Decoded is the result of Decode. Only the fields of its Kind are set.
type Decoded struct {
	Kind Kind

	// Reason is the Error(string) message.
	Reason string
	// Code is the Panic(uint256) code.
	Code *uint256.Int
	// Error and Args describe a matched custom error.
	Error *abi.Error
	Args  []interface{}
	// Message is the formatted custom error.
	Message string

	Data ReturnData
}

// Decode classifies data. customErrors are the errors declared by the
// contract that returned it. Decode never fails: anything it cannot parse
// is Unrecognized.
func Decode(data []byte, customErrors []abi.Error) Decoded {
	r := ReturnData(data)
	d := Decoded{Data: r}
	switch {
	case r.IsEmpty():
		d.Kind = Empty
	case r.IsErrorReturnData():
		reason, err := r.DecodeError()
		if err != nil {
			d.Kind = Unrecognized
			break
		}
		d.Kind, d.Reason = Revert, reason
	case r.IsPanicReturnData():
		code, err := r.DecodePanic()
		if err != nil {
			d.Kind = Unrecognized
			break
		}
		d.Kind, d.Code = Panic, code
	default:
		d.Kind = Unrecognized
		sel := r.Selector()
		if sel == nil {
			break
		}
		for i := range customErrors {
			e := &customErrors[i]
			if !bytes.Equal(e.ID[:4], sel) {
				continue
			}
			args, err := e.Inputs.Unpack(r[4:])
			if err != nil {
				break
			}
			d.Kind, d.Error, d.Args = CustomError, e, args
			d.Message = CustomErrorMessage(e, args)
			break
		}
	}
	return d
}

// CustomErrorMessage renders "reverted with custom error 'Name(args)'".
func CustomErrorMessage(e *abi.Error, args []interface{}) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = FormatValue(a)
	}
	return fmt.Sprintf("reverted with custom error '%s(%s)'", e.Name, strings.Join(parts, ", "))
}

// UnrecognizedCustomErrorMessage renders data whose selector matches no
// known error.
func UnrecognizedCustomErrorMessage(data []byte) string {
	return fmt.Sprintf("reverted with an unrecognized custom error (return data: %s)", hexutil.Encode(data))
}

// FormatValue renders a decoded ABI value: integers in decimal, strings
// quoted, byte arrays and addresses in hex, arrays and tuples in brackets.
func FormatValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case *big.Int:
		return x.String()
	case string:
		return strconv.Quote(x)
	case bool:
		return strconv.FormatBool(x)
	case common.Address:
		return x.Hex()
	case []byte:
		return hexutil.Encode(x)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return hexutil.Encode(b)
		}
		return formatList(rv)
	case reflect.Slice:
		return formatList(rv)
	case reflect.Struct:
		parts := make([]string, rv.NumField())
		for i := range parts {
			parts[i] = FormatValue(rv.Field(i).Interface())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Ptr:
		if rv.IsNil() {
			return "null"
		}
		return FormatValue(rv.Elem().Interface())
	}
	return fmt.Sprint(v)
}

func formatList(rv reflect.Value) string {
	parts := make([]string, rv.Len())
	for i := range parts {
		parts[i] = FormatValue(rv.Index(i).Interface())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// EncodeError ABI-encodes Error(reason).
func EncodeError(reason string) []byte {
	packed, err := stringArgs.Pack(reason)
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, ErrorSelector...), packed...)
}

// EncodePanic ABI-encodes Panic(code).
func EncodePanic(code *uint256.Int) []byte {
	packed, err := uint256Args.Pack(code.ToBig())
	if err != nil {
		panic(err)
	}
	return append(append([]byte{}, PanicSelector...), packed...)
}
