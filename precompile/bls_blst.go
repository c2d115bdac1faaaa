//go:build blst

// BLS12-381 point checks backed by the supranational/blst library.
//
// Build with: go build -tags blst ./...
package precompile

import (
	"errors"

	blst "github.com/supranational/blst/bindings/go"
)

var errNotOnCurve = errors.New("point is not on the curve")

// fp strips the 16 zero bytes of an EIP-2537 field element.
func fp(b []byte) []byte { return b[16:blsFpLen] }

func isZero(b []byte) bool {
	for _, x := range b {
		if x != 0 {
			return false
		}
	}
	return true
}

// checkG1 validates the 128-byte G1 point at the start of b.
func checkG1(b []byte) error {
	if isZero(b[:blsG1PointLen]) {
		return nil
	}
	raw := make([]byte, 0, 96)
	raw = append(raw, fp(b[0:])...)
	raw = append(raw, fp(b[blsFpLen:])...)
	if new(blst.P1Affine).Deserialize(raw) == nil {
		return errNotOnCurve
	}
	return nil
}

// checkG2 validates the 256-byte G2 point at the start of b. blst orders
// the Fp2 components imaginary part first.
func checkG2(b []byte) error {
	if isZero(b[:blsG2PointLen]) {
		return nil
	}
	raw := make([]byte, 0, 192)
	raw = append(raw, fp(b[blsFpLen:])...)
	raw = append(raw, fp(b[0:])...)
	raw = append(raw, fp(b[3*blsFpLen:])...)
	raw = append(raw, fp(b[2*blsFpLen:])...)
	if new(blst.P2Affine).Deserialize(raw) == nil {
		return errNotOnCurve
	}
	return nil
}
