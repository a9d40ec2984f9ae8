// Package sandbox implements the Sandbox runtime (spec.md §4.6, C6): a
// long-lived compiled bytecode bundle plus a stateless per-call
// evaluation method, wazero-backed and deny-by-default: the memory
// ceiling is converted to wazero pages, CPU time is bounded via
// context deadline, and a successful run decodes straight into a
// model.DecisionSet.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cupcake-run/cupcake/pkg/config"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/model"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// OutputMaxBytes caps combined stdout+stderr captured from one
// evaluation.
const OutputMaxBytes = 1 << 20 // 1 MiB

// Bundle is a compiled, evaluatable policy bundle: the WASM bytes
// produced by the external compiler, wrapping the fixed entry point
// data.cupcake.system.evaluate (spec.md §4.3, §6).
type Bundle struct {
	WasmBytes []byte
	Hash      string // canonical content hash (pkg/canonicalize)
}

// Runtime hosts a single warm Bundle and evaluates it under strict
// resource ceilings. Safe for concurrent use: every call gets a fresh
// execution context (module instantiation); no state is shared between
// calls beyond the compiled module itself (spec.md §4.6, §5).
type Runtime struct {
	wz           wazero.Runtime
	compiled     wazero.CompiledModule
	memoryLimitBytes int64
	cpuTimeLimit time.Duration
}

// New validates cfg and compiles bundle into a ready-to-evaluate
// Runtime. Memory ceiling must lie in [config.MinWasmMemory,
// config.MaxWasmMemory]; invalid values are rejected here, not at call
// time (spec.md §4.6).
func New(ctx context.Context, bundle Bundle, memoryLimitBytes int64, cpuTimeLimit time.Duration) (*Runtime, error) {
	if memoryLimitBytes < config.MinWasmMemory || memoryLimitBytes > config.MaxWasmMemory {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig,
			fmt.Sprintf("wasm memory ceiling %d out of range [%d, %d]",
				memoryLimitBytes, config.MinWasmMemory, config.MaxWasmMemory), nil)
	}

	pages := uint32(memoryLimitBytes / 65536)
	if pages == 0 {
		pages = 1
	}
	rtCfg := wazero.NewRuntimeConfig().WithMemoryLimitPages(pages).WithCloseOnContextDone(true)
	wz := wazero.NewRuntimeWithConfig(ctx, rtCfg)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, wz); err != nil {
		_ = wz.Close(ctx)
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "failed to instantiate WASI", err)
	}

	compiled, err := wz.CompileModule(ctx, bundle.WasmBytes)
	if err != nil {
		_ = wz.Close(ctx)
		return nil, cupcakeerr.New(cupcakeerr.KindCompile, "bundle failed to compile", err)
	}

	return &Runtime{
		wz:               wz,
		compiled:         compiled,
		memoryLimitBytes: memoryLimitBytes,
		cpuTimeLimit:     cpuTimeLimit,
	}, nil
}

// Evaluate runs the bundle's entry point against input and decodes the
// resulting DecisionSet. A fresh execution context is created for this
// call and torn down on every exit path (spec.md §4.6). Never returns a
// bare error for a resource-ceiling violation; those are surfaced as
// typed RuntimeErrors so callers can apply the fail-closed fallback
// (spec.md §7).
func (r *Runtime) Evaluate(ctx context.Context, input map[string]any) (model.DecisionSet, error) {
	execCtx := ctx
	if r.cpuTimeLimit > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, r.cpuTimeLimit)
		defer cancel()
	}

	payload, err := json.Marshal(input)
	if err != nil {
		return model.DecisionSet{}, cupcakeerr.New(cupcakeerr.KindInput, "failed to marshal sandbox input", err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(payload)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithStartFunctions("_start").
		WithName("")
	// Deny-by-default: no WithFSConfig, no WithSysNanotime, no WithRandSource.

	mod, err := r.wz.InstantiateModule(execCtx, r.compiled, modCfg)
	if err != nil {
		if execCtx.Err() != nil {
			return model.DecisionSet{}, cupcakeerr.New(cupcakeerr.KindRuntime,
				fmt.Sprintf("sandbox evaluation exceeded time limit (%s)", r.cpuTimeLimit), execCtx.Err())
		}
		if isMemoryError(err) {
			return model.DecisionSet{}, cupcakeerr.New(cupcakeerr.KindRuntime,
				fmt.Sprintf("sandbox evaluation exceeded memory limit (%d bytes)", r.memoryLimitBytes), err)
		}
		return model.DecisionSet{}, cupcakeerr.New(cupcakeerr.KindRuntime, "sandbox instantiation failed", err)
	}
	defer func() { _ = mod.Close(execCtx) }()

	if stdout.Len()+stderr.Len() > OutputMaxBytes {
		return model.DecisionSet{}, cupcakeerr.New(cupcakeerr.KindRuntime, "sandbox output exceeded size limit", nil)
	}

	var ds model.DecisionSet
	if err := json.Unmarshal(stdout.Bytes(), &ds); err != nil {
		return model.DecisionSet{}, cupcakeerr.New(cupcakeerr.KindRuntime, "failed to decode DecisionSet from sandbox output", err)
	}
	return ds, nil
}

// Close releases the wazero runtime.
func (r *Runtime) Close(ctx context.Context) error {
	return r.wz.Close(ctx)
}

func isMemoryError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "memory") &&
		(strings.Contains(msg, "limit") || strings.Contains(msg, "grow") || strings.Contains(msg, "exceeded"))
}
