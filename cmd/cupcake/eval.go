package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cupcake-run/cupcake/pkg/config"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/engine"
)

// runEvalCmd reads one harness event (stdin, or --event for a path) and
// writes the harness-encoded decision to stdout (spec.md §6 `eval`).
func runEvalCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("eval", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyDir := fs.String("policy-dir", ".cupcake/policies", "directory of policy sources")
	globalDir := fs.String("global-dir", "", "directory of global policy sources (optional)")
	harness := fs.String("harness", string(config.HarnessClaudeCode), "harness adapter name")
	opaPath := fs.String("opa-path", "opa", "path to the policy compiler binary")
	eventPath := fs.String("event", "", "path to a JSON event file (default: stdin)")
	trustEnabled := fs.Bool("trust", true, "enforce trust verification for signal/action scripts")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var raw []byte
	var err error
	if *eventPath != "" {
		raw, err = os.ReadFile(*eventPath)
	} else {
		raw, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintln(stderr, "cupcake: failed to read event:", err)
		return 2
	}

	cfg := config.Config{
		PolicyDir:       *policyDir,
		GlobalConfigDir: *globalDir,
		WasmMaxMemory:   config.MaxWasmMemory,
		OPAPath:         *opaPath,
		Harness:         config.Harness(*harness),
		TrustEnabled:    *trustEnabled,
	}

	logger := slog.New(slog.NewJSONHandler(stderr, nil))
	e, err := engine.New(context.Background(), cfg, nil, logger)
	if err != nil {
		fmt.Fprintln(stderr, "cupcake: engine initialization failed:", err)
		return 2
	}

	resp, err := e.Evaluate(context.Background(), raw)
	if err != nil {
		fmt.Fprintln(stderr, "cupcake: evaluation failed:", err)
		if k, ok := cupcakeerr.KindOf(err); ok && k == cupcakeerr.KindTrust {
			return 3
		}
		return 1
	}

	stdout.Write(resp)
	fmt.Fprintln(stdout)
	return 0
}
