package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/params"
	"github.com/joho/godotenv"

	"github.com/eth2030/soltrace/rpc"
	"github.com/eth2030/soltrace/stacktrace"
)

// envPrefix prefixes every environment variable read by the command.
const envPrefix = "SOLTRACE_"

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the resolved command configuration.
type Config struct {
	Verbosity int
	LogFormat string
	Artifacts string

	// decode
	TracePath string

	// serve
	HTTPAddr  string
	Workers   int
	QueueSize int
	Timeout   time.Duration

	StipendGas  uint64
	MaxCodeSize uint64
	Solc063     bool
	Heuristics  bool
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	rpcCfg := rpc.DefaultConfig()
	return Config{
		Verbosity:   3,
		LogFormat:   "text",
		HTTPAddr:    "127.0.0.1:8547",
		Workers:     rpcCfg.Workers,
		QueueSize:   rpcCfg.QueueSize,
		Timeout:     rpcCfg.Timeout,
		StipendGas:  params.CallStipend,
		MaxCodeSize: params.MaxCodeSize,
		Solc063:     true,
		Heuristics:  true,
	}
}

// Validate reports values the decoder or server cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Verbosity < 0 || c.Verbosity > 5:
		return fmt.Errorf("%w: verbosity %d out of range 0-5", ErrInvalidConfig, c.Verbosity)
	case c.LogFormat != "json" && c.LogFormat != "text":
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.LogFormat)
	case c.MaxCodeSize == 0:
		return fmt.Errorf("%w: max code size must be positive", ErrInvalidConfig)
	case c.Workers < 0:
		return fmt.Errorf("%w: negative worker count %d", ErrInvalidConfig, c.Workers)
	case c.QueueSize < 0:
		return fmt.Errorf("%w: negative queue size %d", ErrInvalidConfig, c.QueueSize)
	case c.Timeout < 0:
		return fmt.Errorf("%w: negative timeout %v", ErrInvalidConfig, c.Timeout)
	}
	return nil
}

// DecoderConfig returns the stack trace decoder configuration.
func (c *Config) DecoderConfig() stacktrace.Config {
	cfg := stacktrace.DefaultConfig()
	cfg.MaxCodeSize = c.MaxCodeSize
	cfg.StipendGasLimit = c.StipendGas
	cfg.EnableSolc063Workaround = c.Solc063
	cfg.EnableHeuristics = c.Heuristics
	return cfg
}

// RPCConfig returns the JSON-RPC server configuration.
func (c *Config) RPCConfig() rpc.Config {
	cfg := rpc.DefaultConfig()
	cfg.Workers = c.Workers
	cfg.QueueSize = c.QueueSize
	cfg.Timeout = c.Timeout
	return cfg
}

// readEnv merges the .env file at path (if present) with the process
// environment. Process variables win.
func readEnv(path string, lookup func(string) (string, bool)) (func(string) (string, bool), error) {
	file, err := godotenv.Read(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := file[key]
		return v, ok
	}, nil
}

// applyEnv overrides cfg with SOLTRACE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(envPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}
	var errs []error
	setInt := func(name string, p *int) {
		if v, ok := get(name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*p = n
		}
	}
	setUint64 := func(name string, p *uint64) {
		if v, ok := get(name); ok {
			n, err := strconv.ParseUint(v, 0, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*p = n
		}
	}
	setBool := func(name string, p *bool) {
		if v, ok := get(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", envPrefix, name, err))
				return
			}
			*p = b
		}
	}
	setString := func(name string, p *string) {
		if v, ok := get(name); ok {
			*p = v
		}
	}

	setInt("VERBOSITY", &cfg.Verbosity)
	setString("LOG_FORMAT", &cfg.LogFormat)
	setString("ARTIFACTS", &cfg.Artifacts)
	setString("HTTP_ADDR", &cfg.HTTPAddr)
	setInt("WORKERS", &cfg.Workers)
	setInt("QUEUE", &cfg.QueueSize)
	setUint64("STIPEND_GAS", &cfg.StipendGas)
	setUint64("MAX_CODE_SIZE", &cfg.MaxCodeSize)
	setBool("SOLC063", &cfg.Solc063)
	setBool("HEURISTICS", &cfg.Heuristics)
	if v, ok := get("TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%sTIMEOUT: %w", envPrefix, err))
		} else {
			cfg.Timeout = d
		}
	}
	return errors.Join(errs...)
}

// loadConfig resolves the configuration of cmd: defaults, then the .env
// file, then the environment, then flags.
func loadConfig(cmd string, args []string, lookup func(string) (string, bool), out io.Writer) (*Config, error) {
	cfg := DefaultConfig()

	envFile := ".env"
	if v, ok := lookup(envPrefix + "ENV_FILE"); ok && v != "" {
		envFile = v
	}
	env, err := readEnv(envFile, lookup)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(&cfg, env); err != nil {
		return nil, err
	}

	fs := newFlagSet(cmd, &cfg)
	fs.SetOutput(out)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
