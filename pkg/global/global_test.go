package global_test

import (
	"context"
	"testing"

	"github.com/cupcake-run/cupcake/pkg/evaluator"
	"github.com/cupcake-run/cupcake/pkg/global"
	"github.com/cupcake-run/cupcake/pkg/metadata"
	"github.com/cupcake-run/cupcake/pkg/model"
	"github.com/cupcake-run/cupcake/pkg/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSandbox struct {
	decision model.DecisionSet
}

func (f *fakeSandbox) Evaluate(ctx context.Context, input map[string]any) (model.DecisionSet, error) {
	return f.decision, nil
}

func wildcardRouting() *routing.Index {
	return routing.Build([]metadata.Metadata{
		{PackageName: "p", RequiredEvents: []string{"PreToolUse"}},
	})
}

func TestGlobalHaltWinsOverProjectAllow(t *testing.T) {
	var globalDS model.DecisionSet
	globalDS.AddHalt(model.Record{RuleID: "G-HALT", Reason: "global halt"})

	l := &global.Layer{
		Global:  &evaluator.Bundle{Sandbox: &fakeSandbox{decision: globalDS}, Routing: wildcardRouting()},
		Project: &evaluator.Bundle{Sandbox: &fakeSandbox{decision: model.DecisionSet{}}, Routing: wildcardRouting()},
	}

	res, err := l.Evaluate(context.Background(), map[string]any{"hook_event_name": "PreToolUse"})
	require.NoError(t, err)
	assert.Equal(t, model.KindHalt, res.Decision.Kind)
	assert.Same(t, l.Global, res.Winner)
}

func TestGlobalNonTerminalContextMergesBeforeProject(t *testing.T) {
	var globalDS model.DecisionSet
	globalDS.AddContextRecord(model.Record{RuleID: "G-CTX", Reason: "global note"})

	var projectDS model.DecisionSet
	projectDS.AddContextRecord(model.Record{RuleID: "P-CTX", Reason: "project note"})

	l := &global.Layer{
		Global:  &evaluator.Bundle{Sandbox: &fakeSandbox{decision: globalDS}, Routing: wildcardRouting()},
		Project: &evaluator.Bundle{Sandbox: &fakeSandbox{decision: projectDS}, Routing: wildcardRouting()},
	}

	res, err := l.Evaluate(context.Background(), map[string]any{"hook_event_name": "PreToolUse"})
	require.NoError(t, err)
	assert.Equal(t, model.KindAllow, res.Decision.Kind)
	assert.Equal(t, []string{"global note", "project note"}, res.Decision.Context)
	assert.Same(t, l.Project, res.Winner)
}

func TestNoGlobalBundleProjectAlwaysWins(t *testing.T) {
	var projectDS model.DecisionSet
	projectDS.AddDenial(model.Record{RuleID: "P-DENY", Reason: "blocked"})

	l := &global.Layer{
		Project: &evaluator.Bundle{Sandbox: &fakeSandbox{decision: projectDS}, Routing: wildcardRouting()},
	}

	res, err := l.Evaluate(context.Background(), map[string]any{"hook_event_name": "PreToolUse"})
	require.NoError(t, err)
	assert.Equal(t, model.KindDeny, res.Decision.Kind)
}
