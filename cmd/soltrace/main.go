// Command soltrace turns EVM message traces into Solidity stack traces.
//
// Usage:
//
//	soltrace decode --trace FILE [--artifacts DIR] [flags]
//	soltrace serve [--http.addr ADDR] [--artifacts DIR] [flags]
//	soltrace version
//
// Common flags:
//
//	--artifacts      Directory of solc build-info JSON files
//	--verbosity      Log level 0-5 (default: 3)
//	--log.format     Log format: json, text (default: text)
//	--stipend-gas    Largest call gas treated as a stipend (default: 2300)
//	--max-code-size  Deployed code size limit (default: 24576)
//
// serve flags:
//
//	--http.addr      Listen address (default: 127.0.0.1:8547)
//	--workers        Concurrent decodes (default: one per CPU)
//	--timeout        Per-request decode timeout (default: 10s)
//
// Every flag can also be set with a SOLTRACE_* environment variable or in a
// .env file, e.g. SOLTRACE_HTTP_ADDR or SOLTRACE_MAX_CODE_SIZE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/eth2030/soltrace/log"
)

// Build-time version info, overridable with ldflags:
//
//	go build -ldflags "-X main.version=v0.2.0 -X main.commit=abc1234"
var (
	version = "v0.1.0-dev"
	commit  = "unknown"
)

const (
	cmdDecode = "decode"
	cmdServe  = "serve"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run is the actual entry point, returning an exit code. It takes the CLI
// arguments without the program name so it can be tested in isolation.
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return 2
	}
	cmd := args[0]
	switch cmd {
	case "version", "-version", "--version":
		fmt.Fprintf(stdout, "soltrace %s (commit %s)\n", version, commit)
		return 0
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	case cmdDecode, cmdServe:
	default:
		fmt.Fprintf(stderr, "Error: unknown command %q\n", cmd)
		usage(stderr)
		return 2
	}

	cfg, err := loadConfig(cmd, args[1:], os.LookupEnv, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	log.SetDefault(log.NewWithFormat(stderr, log.LevelFromVerbosity(cfg.Verbosity), cfg.LogFormat))
	logger := log.Default().Module("soltrace")

	switch cmd {
	case cmdDecode:
		if err := runDecode(cfg, stdout); err != nil {
			logger.Error("Decode failed", "err", err)
			return 1
		}
	case cmdServe:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger.Info("Starting soltrace", "version", version, "addr", cfg.HTTPAddr,
			"workers", cfg.Workers, "timeout", cfg.Timeout, "artifacts", cfg.Artifacts)
		if err := runServe(ctx, cfg, nil); err != nil {
			logger.Error("Server failed", "err", err)
			return 1
		}
		logger.Info("Shutdown complete")
	}
	return 0
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: soltrace <decode|serve|version> [flags]\n")
	fmt.Fprintf(w, "Run 'soltrace <command> -h' for the flags of a command.\n")
}
