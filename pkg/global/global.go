// Package global implements the Global layer (spec.md §4.10, C10):
// running a global bundle and a project bundle concurrently, giving
// absolute precedence to any terminal global decision while still
// letting non-terminal global context layer onto the project's
// decision. The two-tier (global, project) fan-out mirrors the
// signal broker's errgroup-based concurrent fan-out (pkg/signals).
package global

import (
	"context"

	"github.com/cupcake-run/cupcake/pkg/evaluator"
	"github.com/cupcake-run/cupcake/pkg/model"
	"golang.org/x/sync/errgroup"
)

// Layer pairs a global and a project bundle. Project is required;
// Global is optional (no global configuration present means Project's
// decision always wins outright).
type Layer struct {
	Global  *evaluator.Bundle
	Project *evaluator.Bundle
}

// Result mirrors evaluator.Result but also reports which bundle's
// decision ultimately won, so callers can dispatch that bundle's
// actions (spec.md §4.9's "actions run with the working directory of
// their owning guidebook").
type Result struct {
	Decision model.FinalDecision
	Winner   *evaluator.Bundle
}

// Evaluate runs the global and project bundles concurrently (when both
// are present) and applies the precedence rule of spec.md §4.10.
func (l *Layer) Evaluate(ctx context.Context, event map[string]any) (Result, error) {
	if l.Global == nil {
		res, err := l.Project.Evaluate(ctx, event)
		if err != nil {
			return Result{}, err
		}
		return Result{Decision: res.Decision, Winner: l.Project}, nil
	}

	var globalRes, projectRes evaluator.Result
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		globalRes, err = l.Global.Evaluate(gctx, event)
		return err
	})
	g.Go(func() error {
		var err error
		projectRes, err = l.Project.Evaluate(gctx, event)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	if globalRes.Decision.IsTerminal() {
		return Result{Decision: globalRes.Decision, Winner: l.Global}, nil
	}

	final := combineContext(projectRes.Decision, globalRes.DecisionSet.AddContext)
	return Result{Decision: final, Winner: l.Project}, nil
}

// combineContext prepends the global bundle's add_context reasons
// (rule_id ordered) to the project decision's own context, preserving
// stable order (spec.md §4.10).
func combineContext(projectDecision model.FinalDecision, globalContext []model.Record) model.FinalDecision {
	if len(globalContext) == 0 {
		return projectDecision
	}
	sorted := model.SortedByRuleID(globalContext)
	prefix := make([]string, len(sorted))
	for i, r := range sorted {
		prefix[i] = r.Reason
	}
	projectDecision.Context = append(prefix, projectDecision.Context...)
	return projectDecision
}
