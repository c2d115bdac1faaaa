//go:build !goethkzg

package precompile

import "github.com/ethereum/go-ethereum/crypto/kzg4844"

// verifyPointEvaluation checks the proof of a 192-byte point evaluation
// input with the go-ethereum KZG backend.
func verifyPointEvaluation(input []byte) error {
	var (
		z          kzg4844.Point
		y          kzg4844.Claim
		commitment kzg4844.Commitment
		proof      kzg4844.Proof
	)
	copy(z[:], input[32:64])
	copy(y[:], input[64:96])
	copy(commitment[:], input[96:144])
	copy(proof[:], input[144:192])
	return kzg4844.VerifyProof(commitment, z, y, proof)
}
