// Command cupcake is the CLI entry point (spec.md §6). Grounded on
// cmd/helm/main.go's hand-rolled os.Args[1] subcommand switch (no CLI
// framework appears anywhere in the pack for the primary binary).
package main

import (
	"io"
	"os"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the testable entry point.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 2
	}

	switch args[1] {
	case "eval":
		return runEvalCmd(args[2:], stdout, stderr)
	case "init":
		return runInitCmd(args[2:], stdout, stderr)
	case "inspect":
		return runInspectCmd(args[2:], stdout, stderr)
	case "verify":
		return runVerifyCmd(args[2:], stdout, stderr)
	case "trust":
		if len(args) < 3 {
			printTrustUsage(stderr)
			return 2
		}
		return runTrustCmd(args[2:], stdout, stderr)
	default:
		printUsage(stderr)
		return 2
	}
}

func printUsage(stderr io.Writer) {
	io.WriteString(stderr, "Usage: cupcake <eval|init|inspect|verify|trust> [options]\n")
}

func printTrustUsage(stderr io.Writer) {
	io.WriteString(stderr, "Usage: cupcake trust <init|update|verify|list|enable|disable|reset> [options]\n")
}
