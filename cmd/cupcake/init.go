package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// runInitCmd implements `cupcake init` — scaffolds a project's policy
// directory (spec.md §6 `init`).
func runInitCmd(args []string, stdout, stderr io.Writer) int {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	policyDir := filepath.Join(dir, ".cupcake", "policies")
	if err := os.MkdirAll(policyDir, 0o750); err != nil {
		fmt.Fprintf(stderr, "Error: cannot create %s: %v\n", policyDir, err)
		return 2
	}

	samplePath := filepath.Join(policyDir, "example.rego")
	if _, err := os.Stat(samplePath); os.IsNotExist(err) {
		sample := `# @cupcake:required_events = ["PreToolUse"]
# @cupcake:required_tools = ["Bash"]
package example

import rego.v1

halts contains {"rule_id": "EXAMPLE-001", "reason": "placeholder policy", "severity": "LOW"} if {
	false
}
`
		if err := os.WriteFile(samplePath, []byte(sample), 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", samplePath, err)
			return 2
		}
	}

	signalsPath := filepath.Join(policyDir, "signals.yaml")
	if _, err := os.Stat(signalsPath); os.IsNotExist(err) {
		if err := os.WriteFile(signalsPath, []byte("# signal_name:\n#   command: [\"git\", \"status\", \"--porcelain\"]\n"), 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", signalsPath, err)
			return 2
		}
	}

	actionsPath := filepath.Join(policyDir, "actions.yaml")
	if _, err := os.Stat(actionsPath); os.IsNotExist(err) {
		if err := os.WriteFile(actionsPath, []byte("# on_any_denial:\n#   command: [\"/bin/sh\", \"-c\", \"echo denied >> cupcake.log\"]\n"), 0o644); err != nil {
			fmt.Fprintf(stderr, "Error: cannot write %s: %v\n", actionsPath, err)
			return 2
		}
	}

	fmt.Fprintf(stdout, "Initialized cupcake project in %s\n", dir)
	return 0
}
