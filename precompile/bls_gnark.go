//go:build !blst

package precompile

import (
	"errors"

	bls12381 "github.com/consensys/gnark-crypto/ecc/bls12-381"
	"github.com/consensys/gnark-crypto/ecc/bls12-381/fp"
)

var errNotOnCurve = errors.New("point is not on the curve")

func decodeFp(e *fp.Element, b []byte) error {
	return e.SetBytesCanonical(b[16:blsFpLen])
}

// checkG1 validates the 128-byte G1 point at the start of b.
func checkG1(b []byte) error {
	var p bls12381.G1Affine
	if err := decodeFp(&p.X, b[0:]); err != nil {
		return err
	}
	if err := decodeFp(&p.Y, b[blsFpLen:]); err != nil {
		return err
	}
	if !p.IsInfinity() && !p.IsOnCurve() {
		return errNotOnCurve
	}
	return nil
}

// checkG2 validates the 256-byte G2 point at the start of b.
func checkG2(b []byte) error {
	var p bls12381.G2Affine
	for i, e := range []*fp.Element{&p.X.A0, &p.X.A1, &p.Y.A0, &p.Y.A1} {
		if err := decodeFp(e, b[i*blsFpLen:]); err != nil {
			return err
		}
	}
	if !p.IsInfinity() && !p.IsOnCurve() {
		return errNotOnCurve
	}
	return nil
}
