package main

import (
	"flag"
	"fmt"
	"strconv"
)

// flagSet wraps flag.FlagSet to add support for uint64 flags.
type flagSet struct {
	*flag.FlagSet
}

// newCustomFlagSet creates a flagSet with ContinueOnError behavior.
func newCustomFlagSet(name string) *flagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	return &flagSet{FlagSet: fs}
}

// Uint64Var defines a uint64 flag accepting decimal or 0x-prefixed hex.
func (fs *flagSet) Uint64Var(p *uint64, name string, value uint64, usage string) {
	*p = value
	fs.FlagSet.Var(&uint64Value{p: p}, name, usage)
}

// uint64Value implements flag.Value for uint64 flags.
type uint64Value struct {
	p *uint64
}

func (v *uint64Value) String() string {
	if v.p == nil {
		return "0"
	}
	return strconv.FormatUint(*v.p, 10)
}

func (v *uint64Value) Set(s string) error {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return fmt.Errorf("invalid uint64 value %q", s)
	}
	*v.p = n
	return nil
}

// newFlagSet binds the flags of the named subcommand to cfg.
func newFlagSet(cmd string, cfg *Config) *flagSet {
	fs := newCustomFlagSet("soltrace " + cmd)
	fs.IntVar(&cfg.Verbosity, "verbosity", cfg.Verbosity, "log level 0-5 (0=silent, 5=trace)")
	fs.StringVar(&cfg.LogFormat, "log.format", cfg.LogFormat, "log format (json, text)")
	fs.StringVar(&cfg.Artifacts, "artifacts", cfg.Artifacts, "directory of solc build-info JSON files")
	fs.Uint64Var(&cfg.StipendGas, "stipend-gas", cfg.StipendGas, "largest call gas treated as a stipend (0 = no limit)")
	fs.Uint64Var(&cfg.MaxCodeSize, "max-code-size", cfg.MaxCodeSize, "deployed code size limit in bytes")
	fs.BoolVar(&cfg.Solc063, "solc063", cfg.Solc063, "attribute unmapped solc 0.6.3+ reverts")
	fs.BoolVar(&cfg.Heuristics, "heuristics", cfg.Heuristics, "apply compiler-quirk heuristics")

	switch cmd {
	case cmdDecode:
		fs.StringVar(&cfg.TracePath, "trace", cfg.TracePath, "message trace JSON file (- for stdin)")
	case cmdServe:
		fs.StringVar(&cfg.HTTPAddr, "http.addr", cfg.HTTPAddr, "HTTP listen address")
		fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "concurrent decodes (0 = one per CPU)")
		fs.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "decodes that may wait for a worker")
		fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "per-request decode timeout")
	}
	return fs
}
