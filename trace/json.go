package trace

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// messageJSON is the wire form of a MessageTrace.
type messageJSON struct {
	Kind        string          `json:"kind"`
	CallType    string          `json:"callType,omitempty"`
	Depth       int             `json:"depth"`
	Address     *common.Address `json:"address,omitempty"`
	CodeAddress *common.Address `json:"codeAddress,omitempty"`
	Code        hexutil.Bytes   `json:"code,omitempty"`
	Calldata    hexutil.Bytes   `json:"calldata,omitempty"`
	Value       *hexutil.Big    `json:"value,omitempty"`
	GasLimit    hexutil.Uint64  `json:"gasLimit"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	Precompile  uint32          `json:"precompile,omitempty"`
	Exit        string          `json:"exit"`
	ExitReason  string          `json:"exitReason,omitempty"`
	ReturnData  hexutil.Bytes   `json:"returnData"`
	Steps       []stepJSON      `json:"steps,omitempty"`
}

type stepJSON struct {
	PC      *hexutil.Uint64 `json:"pc,omitempty"`
	Message *MessageTrace   `json:"message,omitempty"`
}

// MarshalJSON encodes the trace with hex quantities.
func (m *MessageTrace) MarshalJSON() ([]byte, error) {
	enc := messageJSON{
		Kind:       m.Kind.String(),
		Depth:      m.Depth,
		Code:       m.Code,
		Calldata:   m.Calldata,
		GasLimit:   hexutil.Uint64(m.GasLimit),
		GasUsed:    hexutil.Uint64(m.GasUsed),
		Precompile: m.Precompile,
		Exit:       m.Exit.Kind.String(),
		ExitReason: m.Exit.Reason,
		ReturnData: m.ReturnData,
	}
	if m.Kind != KindPrecompile {
		addr := m.Address
		enc.Address = &addr
	}
	if m.Kind == KindCall {
		enc.CallType = m.CallType.String()
		if m.CodeAddress != m.Address {
			ca := m.CodeAddress
			enc.CodeAddress = &ca
		}
	}
	if m.Value != nil && !m.Value.IsZero() {
		enc.Value = (*hexutil.Big)(m.Value.ToBig())
	}
	if len(m.Steps) > 0 {
		enc.Steps = make([]stepJSON, len(m.Steps))
		for i, s := range m.Steps {
			if s.Message != nil {
				enc.Steps[i] = stepJSON{Message: s.Message}
				continue
			}
			pc := hexutil.Uint64(s.PC)
			enc.Steps[i] = stepJSON{PC: &pc}
		}
	}
	return json.Marshal(&enc)
}

// UnmarshalJSON decodes the wire form produced by MarshalJSON.
func (m *MessageTrace) UnmarshalJSON(input []byte) error {
	var dec messageJSON
	if err := json.Unmarshal(input, &dec); err != nil {
		return err
	}
	kind, err := parseKind(dec.Kind)
	if err != nil {
		return err
	}
	exit, err := ParseExitKind(dec.Exit)
	if err != nil {
		return err
	}
	*m = MessageTrace{
		Kind:       kind,
		Depth:      dec.Depth,
		Code:       dec.Code,
		Calldata:   dec.Calldata,
		GasLimit:   uint64(dec.GasLimit),
		GasUsed:    uint64(dec.GasUsed),
		Precompile: dec.Precompile,
		Exit:       Exit{Kind: exit, Reason: dec.ExitReason},
		ReturnData: dec.ReturnData,
	}
	if dec.Address != nil {
		m.Address = *dec.Address
		m.CodeAddress = *dec.Address
	}
	if dec.CodeAddress != nil {
		m.CodeAddress = *dec.CodeAddress
	}
	if kind == KindCall && dec.CallType != "" {
		if m.CallType, err = parseCallType(dec.CallType); err != nil {
			return err
		}
	}
	if dec.Value != nil {
		v, overflow := uint256.FromBig((*big.Int)(dec.Value))
		if overflow {
			return fmt.Errorf("%w: value %s overflows 256 bits", ErrInvalidTrace, dec.Value)
		}
		m.Value = v
	}
	if len(dec.Steps) > 0 {
		m.Steps = make([]Step, len(dec.Steps))
		for i, s := range dec.Steps {
			switch {
			case s.Message != nil && s.PC != nil:
				return fmt.Errorf("%w: step %d has both pc and message", ErrInvalidTrace, i)
			case s.Message != nil:
				m.Steps[i] = Step{Message: s.Message}
			case s.PC != nil:
				m.Steps[i] = Step{PC: uint64(*s.PC)}
			default:
				return fmt.Errorf("%w: step %d is empty", ErrInvalidTrace, i)
			}
		}
	}
	return nil
}

func parseKind(s string) (Kind, error) {
	for _, k := range []Kind{KindCall, KindCreate, KindPrecompile} {
		if k.String() == s {
			return k, nil
		}
	}
	return KindCall, fmt.Errorf("%w: unknown kind %q", ErrInvalidTrace, s)
}

func parseCallType(s string) (CallType, error) {
	for _, c := range []CallType{Call, DelegateCall, StaticCall, CallCode} {
		if c.String() == s {
			return c, nil
		}
	}
	return Call, fmt.Errorf("%w: unknown call type %q", ErrInvalidTrace, s)
}
