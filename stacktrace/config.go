package stacktrace

import (
	"errors"

	"github.com/ethereum/go-ethereum/params"
)

// Config tunes the decoder.
type Config struct {
	// MaxCodeSize is the deployed-code limit used to recognize oversized
	// contract creations when the tracer did not classify the exit itself.
	MaxCodeSize uint64

	// StipendGasLimit, when non-zero, restricts the contract-call
	// out-of-gas rule to sub-calls given at most this much gas.
	StipendGasLimit uint64

	// EnableSolc063Workaround attributes the unmapped reverts emitted by
	// solc 0.6.3 and later 0.6.x releases.
	EnableSolc063Workaround bool

	// EnableHeuristics turns on the opcode-pattern adjustments for
	// empty-message reverts.
	EnableHeuristics bool

	// Precompiles, when set, names and diagnoses failed precompile calls.
	Precompiles PrecompileDescriber
}

// PrecompileDescriber describes precompiled contracts by number.
type PrecompileDescriber interface {
	Name(number uint32) string
	Diagnose(number uint32, input []byte) string
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		MaxCodeSize:             params.MaxCodeSize,
		EnableSolc063Workaround: true,
		EnableHeuristics:        true,
	}
}

// Validate checks the configuration for invalid values.
func (c Config) Validate() error {
	if c.MaxCodeSize == 0 {
		return errors.New("stacktrace: max code size must be positive")
	}
	return nil
}
