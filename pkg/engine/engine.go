// Package engine wires every component into the single public surface
// spec.md §6 describes: new(config), evaluate(event), reload(). It
// owns the one piece of engine-visible state: {uninitialized, ready,
// reloading}, achieved with an atomic.Pointer swap so in-flight
// evaluations always run against a consistent generation (spec.md §5,
// §9): validate configuration, build the new generation in full, then
// swap the pointer — a failed build never touches the live generation.
package engine

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cupcake-run/cupcake/pkg/actions"
	"github.com/cupcake-run/cupcake/pkg/adapter"
	"github.com/cupcake-run/cupcake/pkg/compiler"
	"github.com/cupcake-run/cupcake/pkg/config"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/evaluator"
	"github.com/cupcake-run/cupcake/pkg/global"
	"github.com/cupcake-run/cupcake/pkg/guidebook"
	"github.com/cupcake-run/cupcake/pkg/metadata"
	"github.com/cupcake-run/cupcake/pkg/model"
	"github.com/cupcake-run/cupcake/pkg/preprocess"
	"github.com/cupcake-run/cupcake/pkg/routing"
	"github.com/cupcake-run/cupcake/pkg/sandbox"
	"github.com/cupcake-run/cupcake/pkg/signals"
	"github.com/cupcake-run/cupcake/pkg/telemetry"
	"github.com/cupcake-run/cupcake/pkg/trust"
)

// generation is one complete, consistent snapshot of a compiled
// engine: the evaluation layer (global + project bundles) and the
// harness adapter. Reload builds a new generation and swaps the
// pointer atomically; evaluations already in flight keep using the
// generation they started with (spec.md §5).
type generation struct {
	layer   *global.Layer
	adapter adapter.Adapter
}

// Engine is the top-level entry point (spec.md §6).
type Engine struct {
	cfg       config.Config
	telemetry *telemetry.Provider
	logger    *slog.Logger

	gen      atomic.Pointer[generation]
	reloadMu sync.Mutex // serializes reload(); readers never block on it
}

const (
	signalsFile = "signals.yaml"
	actionsFile = "actions.yaml"
	trustFile   = ".cupcake-trust.json"
)

// New validates cfg and performs the first build. A ConfigError here
// fails construction outright (spec.md §7: "never raised mid-evaluation").
func New(ctx context.Context, cfg config.Config, tel *telemetry.Provider, logger *slog.Logger) (*Engine, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "invalid engine configuration", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	if tel == nil {
		tel, _ = telemetry.New(ctx, telemetry.Config{Enabled: false}, logger)
	}

	e := &Engine{cfg: cfg, telemetry: tel, logger: logger}
	if err := e.reload(ctx, true); err != nil {
		return nil, err
	}
	return e, nil
}

// Reload rebuilds the compiled bundle(s), routing index, and guidebook
// from disk and swaps them in atomically. On a CompileError, the
// previous generation remains in effect (spec.md §7).
func (e *Engine) Reload(ctx context.Context) error {
	return e.reload(ctx, false)
}

func (e *Engine) reload(ctx context.Context, firstLoad bool) error {
	e.reloadMu.Lock()
	defer e.reloadMu.Unlock()

	next, err := e.build(ctx)
	if err != nil {
		if firstLoad {
			return err
		}
		e.logger.Error("engine: reload failed, keeping previous generation", "err", err)
		return err
	}
	e.gen.Store(next)
	return nil
}

func (e *Engine) build(ctx context.Context) (*generation, error) {
	projectBundle, err := e.buildBundle(ctx, e.cfg.PolicyDir)
	if err != nil {
		return nil, err
	}

	var globalBundle *evaluator.Bundle
	if e.cfg.GlobalConfigDir != "" {
		globalBundle, err = e.buildBundle(ctx, e.cfg.GlobalConfigDir)
		if err != nil {
			return nil, err
		}
	}

	harnessAdapter, err := adapter.For(harnessName(e.cfg.Harness))
	if err != nil {
		return nil, err
	}

	return &generation{
		layer:   &global.Layer{Global: globalBundle, Project: projectBundle},
		adapter: harnessAdapter,
	}, nil
}

func (e *Engine) buildBundle(ctx context.Context, dir string) (*evaluator.Bundle, error) {
	bundle, err := compiler.Compile(ctx, compiler.Options{PolicyDir: dir, CompilerPath: e.cfg.OPAPath})
	if err != nil {
		return nil, err
	}

	sb, err := sandbox.New(ctx, bundle, e.cfg.WasmMaxMemory, e.cfg.CPUTimeLimit)
	if err != nil {
		return nil, err
	}

	mds, err := scanMetadata(dir)
	if err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "failed to scan policy metadata", err)
	}
	if err := metadata.ValidateUnique(mds); err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "duplicate policy package names", err)
	}
	idx := routing.Build(mds)

	signalDefs, err := loadOptionalSignals(filepath.Join(dir, signalsFile))
	if err != nil {
		return nil, err
	}
	actionSpecs, err := loadOptionalActions(filepath.Join(dir, actionsFile))
	if err != nil {
		return nil, err
	}

	trustStore := &trust.Store{
		Path:        filepath.Join(dir, trustFile),
		BinaryPath:  binaryPath(),
		ProjectPath: dir,
	}
	signalVerify, actionVerify, err := trustVerifiers(e.cfg.TrustEnabled, trustStore)
	if err != nil {
		return nil, err
	}

	dispatcher := actions.New(actionSpecs, actionVerify, e.logger)

	return &evaluator.Bundle{
		Sandbox:      sb,
		Routing:      idx,
		SignalDefs:   signalDefs,
		SignalVerify: signalVerify,
		Actions:      dispatcher,
		Preprocess:   preprocess.Options{ScriptInspectionEnabled: e.cfg.DebugFiles, Logger: e.logger},
		Logger:       e.logger,
	}, nil
}

// trustVerifiers builds the signal/action verifiers for one bundle.
// Trust off or no manifest yet both mean "unverified": nil verifiers.
// A tampered manifest is not "unverified" — it fails the build outright
// rather than silently running the bundle as if trust were off
// (spec.md §4.11, §7).
func trustVerifiers(trustEnabled bool, store *trust.Store) (signals.Verifier, actions.Verifier, error) {
	if !trustEnabled {
		return nil, nil, nil
	}
	enabled, err := store.IsEnabled()
	if err != nil {
		return nil, nil, err
	}
	if !enabled {
		return nil, nil, nil
	}
	return store.VerifySignal(), store.VerifyAction(), nil
}

// Evaluate decodes a raw harness event, runs it through the evaluation
// layer, dispatches actions for the winning decision, and returns the
// harness-encoded response (spec.md §6).
func (e *Engine) Evaluate(ctx context.Context, rawEvent []byte) ([]byte, error) {
	gen := e.gen.Load()
	if gen == nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "engine not initialized", nil)
	}

	event, err := gen.adapter.Decode(rawEvent)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := e.telemetry.StartSpan(ctx, "evaluate")
	res, err := gen.layer.Evaluate(ctx, event)
	span.End()

	if err != nil {
		e.telemetry.RecordEvaluation(ctx, time.Since(start), "error", err)
		if cupcakeerr.IsFailClosed(err) {
			return gen.adapter.Encode(model.FinalDecision{Kind: model.KindDeny, Reason: "policy engine error"})
		}
		return nil, err
	}

	e.telemetry.RecordEvaluation(ctx, time.Since(start), string(res.Decision.Kind), nil)
	if res.Winner != nil {
		res.Winner.Dispatch(res.Decision)
	}
	return gen.adapter.Encode(res.Decision)
}

func harnessName(h config.Harness) adapter.Name {
	switch h {
	case config.HarnessClaudeCode:
		return adapter.ClaudeCode
	case config.HarnessCursor:
		return adapter.Cursor
	case config.HarnessOpenCode:
		return adapter.OpenCode
	case config.HarnessFactoryAI:
		return adapter.FactoryAI
	default:
		return ""
	}
}

func binaryPath() string {
	p, err := os.Executable()
	if err != nil {
		return "cupcake"
	}
	return p
}

// scanMetadata parses the @cupcake: annotation header of every .rego
// source file directly under dir (spec.md §4.2).
func scanMetadata(dir string) ([]metadata.Metadata, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []metadata.Metadata
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".rego" {
			continue
		}
		src, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		md, err := metadata.Parse(string(src))
		if err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, nil
}

func loadOptionalSignals(path string) (map[string]signals.Spec, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return guidebook.LoadSignalsFile(path)
}

func loadOptionalActions(path string) ([]actions.Spec, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return guidebook.LoadActionsFile(path)
}
