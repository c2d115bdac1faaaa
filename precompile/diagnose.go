package precompile

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/crypto/bn256"
	"github.com/ethereum/go-ethereum/crypto/kzg4844"
)

// Input sizes fixed by the precompile definitions.
const (
	bn254PairLen       = 192
	blake2FInputLen    = 213
	pointEvalInputLen  = 192
	blsG1PointLen      = 128
	blsG2PointLen      = 256
	blsScalarLen       = 32
	blsFpLen           = 64
	blsPairLen         = blsG1PointLen + blsG2PointLen
	p256VerifyInputLen = 160

	// EIP-7823 operand bound, active from Osaka.
	modExpMaxOperandLen = 1024
)

// Diagnose explains why a call to precompile number with input could have
// failed. It returns "" when the input is well formed, in which case the
// call most likely ran out of gas.
func (r *Registry) Diagnose(number uint32, input []byte) string {
	if _, ok := r.byNumber[number]; !ok {
		return "precompile is not active"
	}
	switch number {
	case ModExp:
		return r.diagnoseModExp(input)
	case BN254Add:
		return checkBN254Points(input, 128, 2)
	case BN254Mul:
		return checkBN254Points(input, 96, 1)
	case BN254Pairing:
		if len(input)%bn254PairLen != 0 {
			return fmt.Sprintf("input length %d is not a multiple of %d", len(input), bn254PairLen)
		}
		return checkBN254Pairs(input)
	case Blake2F:
		if len(input) != blake2FInputLen {
			return fmt.Sprintf("input length %d, want %d", len(input), blake2FInputLen)
		}
		if f := input[blake2FInputLen-1]; f > 1 {
			return fmt.Sprintf("final block indicator %d is not 0 or 1", f)
		}
	case PointEvaluation:
		return diagnosePointEvaluation(input)
	case BLS12G1Add:
		return checkBLSInput(input, 2*blsG1PointLen, 0, checkG1)
	case BLS12G1MSM:
		return checkBLSInput(input, 0, blsG1PointLen+blsScalarLen, checkG1)
	case BLS12G2Add:
		return checkBLSInput(input, 2*blsG2PointLen, 0, checkG2)
	case BLS12G2MSM:
		return checkBLSInput(input, 0, blsG2PointLen+blsScalarLen, checkG2)
	case BLS12Pairing:
		return checkBLSInput(input, 0, blsPairLen, nil)
	case BLS12MapFpToG1:
		return checkBLSInput(input, blsFpLen, 0, nil)
	case BLS12MapFp2ToG2:
		return checkBLSInput(input, 2*blsFpLen, 0, nil)
	case P256Verify:
		// Malformed input returns empty output rather than failing.
		if len(input) != p256VerifyInputLen {
			return fmt.Sprintf("input length %d, want %d", len(input), p256VerifyInputLen)
		}
	}
	return ""
}

func (r *Registry) diagnoseModExp(input []byte) string {
	if !r.rules.IsOsaka {
		return ""
	}
	names := [3]string{"base", "exponent", "modulus"}
	for i, name := range names {
		n := new(big.Int).SetBytes(padded(input, 32*i, 32))
		if n.Cmp(big.NewInt(modExpMaxOperandLen)) > 0 {
			return fmt.Sprintf("%s length %s exceeds %d bytes", name, n, modExpMaxOperandLen)
		}
	}
	return ""
}

// padded returns input[off:off+n], right-padded with zeros as the EVM
// does for short precompile input.
func padded(input []byte, off, n int) []byte {
	out := make([]byte, n)
	if off < len(input) {
		copy(out, input[off:])
	}
	return out
}

func checkBN254Points(input []byte, size, points int) string {
	data := padded(input, 0, size)
	for i := 0; i < points; i++ {
		if _, err := new(bn256.G1).Unmarshal(data[64*i : 64*(i+1)]); err != nil {
			return fmt.Sprintf("point %d: %v", i, err)
		}
	}
	return ""
}

func checkBN254Pairs(input []byte) string {
	for i := 0; i < len(input); i += bn254PairLen {
		if _, err := new(bn256.G1).Unmarshal(input[i : i+64]); err != nil {
			return fmt.Sprintf("pair %d: G1 point: %v", i/bn254PairLen, err)
		}
		if _, err := new(bn256.G2).Unmarshal(input[i+64 : i+bn254PairLen]); err != nil {
			return fmt.Sprintf("pair %d: G2 point: %v", i/bn254PairLen, err)
		}
	}
	return ""
}

// diagnosePointEvaluation checks the versioned hash against the commitment
// and then the KZG proof itself.
func diagnosePointEvaluation(input []byte) string {
	if len(input) != pointEvalInputLen {
		return fmt.Sprintf("input length %d, want %d", len(input), pointEvalInputLen)
	}
	var commitment kzg4844.Commitment
	copy(commitment[:], input[96:144])
	if want := kzg4844.CalcBlobHashV1(sha256.New(), &commitment); !bytes.Equal(want[:], input[:32]) {
		return "versioned hash does not match the commitment"
	}
	if err := verifyPointEvaluation(input); err != nil {
		return fmt.Sprintf("invalid KZG proof: %v", err)
	}
	return ""
}

// checkBLSInput validates an EIP-2537 input that is either exactly fixed
// bytes long or a non-empty sequence of unit-sized elements. check, when
// set, validates the point at the start of each element.
func checkBLSInput(input []byte, fixed, unit int, check func([]byte) error) string {
	switch {
	case fixed > 0 && len(input) != fixed:
		return fmt.Sprintf("input length %d, want %d", len(input), fixed)
	case unit > 0 && (len(input) == 0 || len(input)%unit != 0):
		return fmt.Sprintf("input length %d is not a positive multiple of %d", len(input), unit)
	}
	if fixed%blsFpLen == 0 && unit%blsFpLen == 0 {
		if msg := checkFieldPadding(input); msg != "" {
			return msg
		}
	}
	if check == nil {
		return ""
	}
	step := unit
	if step == 0 {
		step = fixed / 2
	}
	for i := 0; i+step <= len(input); i += step {
		if err := check(input[i:]); err != nil {
			return fmt.Sprintf("point %d: %v", i/step, err)
		}
	}
	return ""
}

// checkFieldPadding verifies that every 64-byte field element of an input
// made of field elements alone starts with sixteen zero bytes.
func checkFieldPadding(input []byte) string {
	for off := 0; off < len(input); off += blsFpLen {
		for _, b := range input[off : off+16] {
			if b != 0 {
				return fmt.Sprintf("field element at offset %d is not zero padded", off)
			}
		}
	}
	return ""
}
