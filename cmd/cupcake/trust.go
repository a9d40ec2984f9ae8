package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/cupcake-run/cupcake/pkg/actions"
	"github.com/cupcake-run/cupcake/pkg/guidebook"
	"github.com/cupcake-run/cupcake/pkg/signals"
	"github.com/cupcake-run/cupcake/pkg/trust"
)

const (
	signalsFile = "signals.yaml"
	actionsFile = "actions.yaml"
	trustFile   = ".cupcake-trust.json"
)

// loadTrustContext builds a trust.Store bound to dir and loads whatever
// signal/action guidebooks are present alongside it, tolerating their
// absence (spec.md §4.11, `trust` subcommands operate even with an
// empty guidebook).
func loadTrustContext(dir string) (*trust.Store, map[string]signals.Spec, []actions.Spec, error) {
	bin, err := os.Executable()
	if err != nil {
		bin = "cupcake"
	}
	store := &trust.Store{
		Path:        filepath.Join(dir, trustFile),
		BinaryPath:  bin,
		ProjectPath: dir,
	}

	sigs, err := loadOptionalSignalsForCLI(filepath.Join(dir, signalsFile))
	if err != nil {
		return nil, nil, nil, err
	}
	acts, err := loadOptionalActionsForCLI(filepath.Join(dir, actionsFile))
	if err != nil {
		return nil, nil, nil, err
	}
	return store, sigs, acts, nil
}

func loadOptionalSignalsForCLI(path string) (map[string]signals.Spec, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return guidebook.LoadSignalsFile(path)
}

func loadOptionalActionsForCLI(path string) ([]actions.Spec, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return guidebook.LoadActionsFile(path)
}

// runTrustCmd implements `cupcake trust <subcommand>` (spec.md §6
// `trust {init, update, verify, list, enable, disable, reset}`).
func runTrustCmd(args []string, stdout, stderr io.Writer) int {
	sub := args[0]
	rest := args[1:]

	fs := flag.NewFlagSet("trust "+sub, flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyDir := fs.String("policy-dir", ".cupcake/policies", "directory of policy sources")
	liveDiff := fs.Bool("diff", false, "compare stored entries against live command hashes (list only)")
	if err := fs.Parse(rest); err != nil {
		return 2
	}

	store, sigs, acts, err := loadTrustContext(*policyDir)
	if err != nil {
		fmt.Fprintln(stderr, "cupcake:", err)
		return 2
	}

	switch sub {
	case "init":
		if err := store.Init(sigs, acts); err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		fmt.Fprintln(stdout, "trust manifest initialized")
		return 0

	case "update":
		if err := store.Update(sigs, acts); err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		fmt.Fprintln(stdout, "trust manifest updated")
		return 0

	case "verify":
		diffs, err := store.Verify(sigs, acts)
		if err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		return printTrustDiffs(stdout, diffs)

	case "list":
		diffs, err := store.List(*liveDiff, sigs, acts)
		if err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		return printTrustDiffs(stdout, diffs)

	case "enable":
		if err := store.Enable(); err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		fmt.Fprintln(stdout, "trust enforcement enabled")
		return 0

	case "disable":
		if err := store.Disable(); err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		fmt.Fprintln(stdout, "trust enforcement disabled")
		return 0

	case "reset":
		if err := store.Reset(); err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 3
		}
		fmt.Fprintln(stdout, "trust manifest removed")
		return 0

	default:
		printTrustUsage(stderr)
		return 2
	}
}
