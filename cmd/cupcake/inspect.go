package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/cupcake-run/cupcake/pkg/metadata"
	"github.com/cupcake-run/cupcake/pkg/routing"
)

// runInspectCmd implements `cupcake inspect` — prints each policy's
// required events and tools, then the event kinds the routing index
// covers, without compiling or evaluating anything (spec.md §6
// `inspect`).
func runInspectCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	policyDir := fs.String("policy-dir", ".cupcake/policies", "directory of policy sources")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	entries, err := os.ReadDir(*policyDir)
	if err != nil {
		fmt.Fprintln(stderr, "cupcake: cannot read policy directory:", err)
		return 2
	}

	var mds []metadata.Metadata
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(*policyDir, entry.Name()))
		if err != nil {
			fmt.Fprintln(stderr, "cupcake:", err)
			return 2
		}
		md, err := metadata.Parse(string(src))
		if err != nil {
			fmt.Fprintf(stderr, "cupcake: %s: %v\n", entry.Name(), err)
			return 1
		}
		mds = append(mds, md)
	}
	if err := metadata.ValidateUnique(mds); err != nil {
		fmt.Fprintln(stderr, "cupcake:", err)
		return 1
	}

	sort.Slice(mds, func(i, j int) bool { return mds[i].PackageName < mds[j].PackageName })
	fmt.Fprintf(stdout, "policies (%d):\n", len(mds))
	for _, md := range mds {
		fmt.Fprintf(stdout, "  %-30s events=%v tools=%v\n", md.PackageName, md.RequiredEvents, md.RequiredTools)
	}

	idx := routing.Build(mds)
	fmt.Fprintln(stdout, "\nroutes:")
	for _, ek := range idx.EventKinds() {
		fmt.Fprintf(stdout, "  %s\n", ek)
	}

	return 0
}
