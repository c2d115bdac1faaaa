package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/eth2030/soltrace/compiler"
	"github.com/eth2030/soltrace/log"
	"github.com/eth2030/soltrace/precompile"
	"github.com/eth2030/soltrace/stacktrace"
	"github.com/eth2030/soltrace/trace"
)

// loadContracts indexes every bytecode found in the artifacts directory.
// An empty dir yields an empty index.
func loadContracts(dir string) (*compiler.ContractsIdentifier, error) {
	contracts := compiler.NewContractsIdentifier()
	if dir == "" {
		return contracts, nil
	}
	codes, err := compiler.LoadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("load artifacts: %w", err)
	}
	for _, bc := range codes {
		contracts.Add(bc)
	}
	log.Default().Module("soltrace").Info("Loaded artifacts", "dir", dir, "bytecodes", contracts.Len())
	return contracts, nil
}

// newDecoder builds the decoder for cfg over contracts.
func newDecoder(cfg *Config, contracts *compiler.ContractsIdentifier) *stacktrace.Decoder {
	dcfg := cfg.DecoderConfig()
	dcfg.Precompiles = precompile.Latest()
	return stacktrace.NewDecoder(contracts, dcfg)
}

func readTrace(path string) (*trace.MessageTrace, error) {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	msg := new(trace.MessageTrace)
	if err := json.NewDecoder(r).Decode(msg); err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	return msg, nil
}

// runDecode decodes the trace at cfg.TracePath and writes the stack trace
// as indented JSON to w.
func runDecode(cfg *Config, w io.Writer) error {
	if cfg.TracePath == "" {
		return fmt.Errorf("%w: --trace is required", ErrInvalidConfig)
	}
	contracts, err := loadContracts(cfg.Artifacts)
	if err != nil {
		return err
	}
	msg, err := readTrace(cfg.TracePath)
	if err != nil {
		return err
	}
	st, err := newDecoder(cfg, contracts).Decode(msg)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", out)
	return err
}
