// Package main is the entry point for the Lattice compliance analytics CLI.
// Lattice maintains a store of compliance frameworks, controls, assessments,
// and threat-intelligence mappings, computes deterministic risk scores, and
// answers cross-framework coverage and gap questions.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joshsymonds/lattice/cmd/coverage"
	"github.com/joshsymonds/lattice/cmd/gaps"
	"github.com/joshsymonds/lattice/cmd/load"
	"github.com/joshsymonds/lattice/cmd/score"
	"github.com/joshsymonds/lattice/cmd/status"
	"github.com/joshsymonds/lattice/pkg/logger"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	var (
		debug       bool
		logFormat   string
		showVersion bool
	)

	globalFlags := flag.NewFlagSet("lattice", flag.ExitOnError)
	globalFlags.BoolVar(&debug, "debug", false, "Enable debug logging")
	globalFlags.StringVar(&logFormat, "log-format", "text", "Log format (text or json)")
	globalFlags.BoolVar(&showVersion, "version", false, "Show version information")

	if err := globalFlags.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		os.Exit(1)
	}

	if showVersion {
		fmt.Printf("lattice version %s (built %s)\n", version, buildTime) //nolint:forbidigo
		os.Exit(0)
	}

	logger.SetupLogger(debug, logFormat)

	args := globalFlags.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	command := args[0]
	commandArgs := args[1:]

	switch command {
	case "load":
		if err := load.Run(commandArgs); err != nil {
			logger.Error("load failed", "error", err)
			os.Exit(1)
		}
	case "score":
		if err := score.Run(commandArgs); err != nil {
			logger.Error("scoring failed", "error", err)
			os.Exit(1)
		}
	case "coverage":
		if err := coverage.Run(commandArgs); err != nil {
			logger.Error("coverage failed", "error", err)
			os.Exit(1)
		}
	case "gaps":
		if err := gaps.Run(commandArgs); err != nil {
			logger.Error("gap analysis failed", "error", err)
			os.Exit(1)
		}
	case "status":
		if err := status.Run(commandArgs); err != nil {
			logger.Error("status failed", "error", err)
			os.Exit(1)
		}
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	//nolint:forbidigo
	fmt.Println(`Lattice Compliance Analytics

Usage:
  lattice [global flags] <command> [command flags]

Commands:
  load       Load framework bundles and cross-framework mappings
  score      Calculate risk scores (single control or full batch)
  coverage   Show mapping coverage between two frameworks
  gaps       List controls with no mapping into another framework
  status     Show per-framework compliance status
  help       Show this help message

Global Flags:
  --debug         Enable debug logging
  --log-format    Log format (text or json) (default: text)
  --version       Show version information

Examples:
  lattice load --db lattice.db --bundle nist-800-53.yaml
  lattice score --control AC-1 --framework NIST-800-53
  lattice coverage --from NIST-800-53 --to ISO-27001
  lattice gaps --from NIST-800-53 --to ISO-27001

Use "lattice <command> --help" for more information about a command.`)
}
