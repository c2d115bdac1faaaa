//go:build goethkzg

// Point evaluation proofs checked with go-eth-kzg against the Ethereum
// ceremony setup.
//
// Build with: go build -tags goethkzg ./...
package precompile

import (
	"fmt"
	"sync"

	goethkzg "github.com/crate-crypto/go-eth-kzg"
)

var (
	kzgOnce sync.Once
	kzgCtx  *goethkzg.Context
	kzgErr  error
)

func kzgContext() (*goethkzg.Context, error) {
	kzgOnce.Do(func() {
		kzgCtx, kzgErr = goethkzg.NewContext4096Secure()
	})
	return kzgCtx, kzgErr
}

// verifyPointEvaluation checks the proof of a 192-byte point evaluation
// input: versioned hash, z, y, commitment, proof.
func verifyPointEvaluation(input []byte) error {
	ctx, err := kzgContext()
	if err != nil {
		return fmt.Errorf("kzg setup: %w", err)
	}
	var (
		z, y       goethkzg.Scalar
		commitment goethkzg.KZGCommitment
		proof      goethkzg.KZGProof
	)
	copy(z[:], input[32:64])
	copy(y[:], input[64:96])
	copy(commitment[:], input[96:144])
	copy(proof[:], input[144:192])
	return ctx.VerifyKZGProof(commitment, z, y, proof)
}
