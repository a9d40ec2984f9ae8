// Package evaluator implements the Evaluator (spec.md §4.7, C7): the
// single-bundle end-to-end orchestration of clone -> preprocess ->
// route -> signals -> sandbox -> synth -> dispatch. The input event is
// cloned before enrichment so the caller's own map is never mutated,
// and action dispatch is a separate explicit step from evaluation so a
// caller orchestrating multiple bundles can pick the cross-bundle
// winner before anything fires.
package evaluator

import (
	"context"
	"log/slog"

	"github.com/cupcake-run/cupcake/pkg/actions"
	"github.com/cupcake-run/cupcake/pkg/model"
	"github.com/cupcake-run/cupcake/pkg/preprocess"
	"github.com/cupcake-run/cupcake/pkg/routing"
	"github.com/cupcake-run/cupcake/pkg/signals"
	"github.com/cupcake-run/cupcake/pkg/synth"
)

// SandboxRuntime is the subset of *sandbox.Runtime the Evaluator
// depends on; narrowed to an interface so orchestration logic can be
// tested without a compiled WASM bundle.
type SandboxRuntime interface {
	Evaluate(ctx context.Context, input map[string]any) (model.DecisionSet, error)
}

// Bundle is one compiled, routable, signal-aware policy set: the unit
// the Evaluator runs a single pass against. A Global layer (C10) holds
// two of these (global and project) and runs each independently.
type Bundle struct {
	Sandbox      SandboxRuntime
	Routing      *routing.Index
	SignalDefs   map[string]signals.Spec
	SignalVerify signals.Verifier
	Actions      *actions.Dispatcher
	Preprocess   preprocess.Options
	Logger       *slog.Logger
}

// Result is the outcome of one bundle pass: the synthesized decision
// plus the DecisionSet it was derived from, so a caller orchestrating
// multiple bundles (C10) can inspect add_context/allow_overrides
// without re-running the sandbox.
type Result struct {
	DecisionSet model.DecisionSet
	Decision    model.FinalDecision
}

// Evaluate runs steps 1-5 of spec.md §4.7 against a single bundle. It
// does not dispatch actions; callers that own the final cross-bundle
// decision call Dispatch explicitly once a FinalDecision is chosen
// (spec.md §4.10's global-precedence rule means the bundle that
// "wins" may not be the one being evaluated here).
func (b *Bundle) Evaluate(ctx context.Context, event map[string]any) (Result, error) {
	logger := b.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clone := model.Event(event).Clone()
	enriched := preprocess.Run(clone, b.Preprocess)

	eventKind := model.Event(enriched).EventKind()
	toolName := model.Event(enriched).ToolName()

	signalUnion, applicable := b.Routing.Lookup(eventKind, toolName)
	if !applicable {
		return Result{Decision: model.Allow(nil)}, nil
	}

	if len(signalUnion) > 0 {
		results := signals.Broker(ctx, signalUnion, b.SignalDefs, b.SignalVerify, logger)
		enriched["signals"] = results
	}

	ds, err := b.Sandbox.Evaluate(ctx, enriched)
	if err != nil {
		return Result{}, err
	}

	fd := synth.Synthesize(ds)
	return Result{DecisionSet: ds, Decision: fd}, nil
}

// Dispatch launches the actions configured for a chosen FinalDecision,
// fire-and-forget (spec.md §4.9). Safe to call with a nil Dispatcher.
func (b *Bundle) Dispatch(fd model.FinalDecision) {
	if b.Actions == nil {
		return
	}
	b.Actions.Dispatch(fd.RuleID, verbFor(fd.Kind))
}

func verbFor(kind model.DecisionKind) string {
	switch kind {
	case model.KindHalt:
		return "on_any_halt"
	case model.KindDeny:
		return "on_any_denial"
	case model.KindBlock:
		return "on_any_block"
	case model.KindAsk:
		return "on_any_ask"
	default:
		return "on_any_allow"
	}
}
