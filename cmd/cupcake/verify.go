package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/cupcake-run/cupcake/pkg/trust"
)

// runVerifyCmd implements `cupcake verify` — a convenience alias for
// `trust verify` at the top level (spec.md §6 `verify`).
func runVerifyCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyDir := fs.String("policy-dir", ".cupcake/policies", "directory of policy sources")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	store, signalSpecs, actionSpecs, err := loadTrustContext(*policyDir)
	if err != nil {
		fmt.Fprintln(stderr, "cupcake:", err)
		return 2
	}

	diffs, err := store.Verify(signalSpecs, actionSpecs)
	if err != nil {
		fmt.Fprintln(stderr, "cupcake:", err)
		return 3
	}

	return printTrustDiffs(stdout, diffs)
}

func printTrustDiffs(stdout io.Writer, diffs []trust.DiffEntry) int {
	drifted := false
	for _, d := range diffs {
		status := "ok"
		switch {
		case d.Missing:
			status = "untracked"
			drifted = true
		case d.Changed:
			status = "CHANGED"
			drifted = true
		}
		fmt.Fprintf(stdout, "  %-8s %-24s %s\n", d.Category, d.Name, status)
	}
	if drifted {
		return 3
	}
	return 0
}
