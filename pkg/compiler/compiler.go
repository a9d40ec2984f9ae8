// Package compiler implements the Compiler (spec.md §4.3, C3):
// materializing a single sandboxed bundle from a set of policy sources
// by staging them in a scratch workspace and invoking an external
// policy compiler process. Every external call is bounded by the
// caller's context; the compiler process inherits the engine's
// environment unchanged.
package compiler

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/cupcake-run/cupcake/pkg/canonicalize"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/sandbox"
)

// EntryPoint is the single fixed entry point every bundle must expose
// (spec.md §4.3, §6).
const EntryPoint = "data.cupcake.system.evaluate"

// MinCompilerVersion is the lowest external compiler version this
// engine accepts; older compilers may emit an incompatible bundle
// shape (semver row of the DOMAIN STACK table in SPEC_FULL.md).
var MinCompilerVersion = semver.MustParse("0.1.0")

// Options configures one compile invocation.
type Options struct {
	PolicyDir     string
	HelperLibDir  string
	CompilerPath  string // opa_path (spec.md §6)
	ScratchDir    string // if empty, a temp dir is created and removed
}

// Compile stages sources, invokes the external compiler, and loads the
// resulting bundle into memory. A policy failing to compile fails the
// whole load (spec.md §4.3): any error here is a CompileError.
func Compile(ctx context.Context, opts Options) (sandbox.Bundle, error) {
	scratch := opts.ScratchDir
	cleanup := func() {}
	if scratch == "" {
		dir, err := os.MkdirTemp("", "cupcake-compile-*")
		if err != nil {
			return sandbox.Bundle{}, cupcakeerr.New(cupcakeerr.KindCompile, "failed to create scratch workspace", err)
		}
		scratch = dir
		cleanup = func() { _ = os.RemoveAll(dir) }
	}
	defer cleanup()

	if err := stageSources(opts.PolicyDir, opts.HelperLibDir, scratch); err != nil {
		return sandbox.Bundle{}, cupcakeerr.New(cupcakeerr.KindCompile, "failed to stage policy sources", err)
	}

	if err := checkCompilerVersion(ctx, opts.CompilerPath); err != nil {
		return sandbox.Bundle{}, err
	}

	outPath := filepath.Join(scratch, "bundle.tar.gz")
	if err := invokeCompiler(ctx, opts.CompilerPath, scratch, outPath); err != nil {
		return sandbox.Bundle{}, cupcakeerr.New(cupcakeerr.KindCompile, "external compiler failed", err)
	}

	wasmBytes, err := extractWasm(outPath)
	if err != nil {
		return sandbox.Bundle{}, cupcakeerr.New(cupcakeerr.KindCompile, "failed to read compiled bundle archive", err)
	}

	hash := canonicalize.HashBytes(wasmBytes)

	return sandbox.Bundle{WasmBytes: wasmBytes, Hash: hash}, nil
}

// stageSources copies policy sources and the shared helper library into
// a scratch workspace, in deterministic (sorted) order so repeated
// compiles of identical sources produce byte-identical staging.
func stageSources(policyDir, helperLibDir, scratch string) error {
	dest := filepath.Join(scratch, "policies")
	if err := copyTree(policyDir, dest); err != nil {
		return err
	}
	if helperLibDir != "" {
		if err := copyTree(helperLibDir, filepath.Join(scratch, "lib")); err != nil {
			return err
		}
	}
	return nil
}

func copyTree(src, dst string) error {
	if src == "" {
		return nil
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		srcPath := filepath.Join(src, e.Name())
		dstPath := filepath.Join(dst, e.Name())
		if e.IsDir() {
			if err := copyTree(srcPath, dstPath); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(srcPath, dstPath); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// compilerPath returns the form of a path the external compiler
// accepts on this host: a forward-slash URL-style path, mitigating
// drive-letter misparsing on hosts where the compiler mishandles it
// (spec.md §4.3, §9).
func compilerPath(path string) string {
	return "file://" + filepath.ToSlash(path)
}

func checkCompilerVersion(ctx context.Context, compilerPath string) error {
	cmd := exec.CommandContext(ctx, compilerPath, "version")
	out, err := cmd.Output()
	if err != nil {
		return cupcakeerr.New(cupcakeerr.KindCompile, "failed to query compiler version", err)
	}
	v, err := semver.NewVersion(trimVersionOutput(out))
	if err != nil {
		return cupcakeerr.New(cupcakeerr.KindCompile, "unparsable compiler version", err)
	}
	if v.LessThan(MinCompilerVersion) {
		return cupcakeerr.New(cupcakeerr.KindCompile,
			fmt.Sprintf("compiler version %s is older than minimum %s", v, MinCompilerVersion), nil)
	}
	return nil
}

func trimVersionOutput(out []byte) string {
	s := string(out)
	for i, r := range s {
		if r == '\n' || r == '\r' || r == ' ' {
			return s[:i]
		}
	}
	return s
}

func invokeCompiler(ctx context.Context, compilerBin, scratch, outPath string) error {
	args := []string{
		"build",
		"-e", EntryPoint,
		"-o", filepath.Base(outPath),
		compilerPath(filepath.Join(scratch, "policies")),
	}
	cmd := exec.CommandContext(ctx, compilerBin, args...)
	cmd.Dir = scratch
	return cmd.Run()
}

// extractWasm reads the compiler's compressed tarball output and
// returns the policy.wasm member's bytes. Host code must not depend on
// internal archive layout beyond this fixed member name (spec.md §6).
func extractWasm(archivePath string) ([]byte, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil, fmt.Errorf("compiler: bundle archive has no /policy.wasm member")
		}
		if err != nil {
			return nil, err
		}
		if filepath.Base(hdr.Name) == "policy.wasm" {
			return io.ReadAll(tr)
		}
	}
}
