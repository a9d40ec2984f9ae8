package synth_test

import (
	"testing"

	"github.com/cupcake-run/cupcake/pkg/model"
	"github.com/cupcake-run/cupcake/pkg/synth"
	"github.com/stretchr/testify/assert"
)

func TestHaltIsUnconditional(t *testing.T) {
	var ds model.DecisionSet
	ds.AddDenial(model.Record{RuleID: "D1", Reason: "denied"})
	ds.AddAllowOverride(model.Record{RuleID: "A1", Reason: "override"})
	ds.AddHalt(model.Record{RuleID: "H1", Reason: "halted"})

	fd := synth.Synthesize(ds)
	assert.Equal(t, model.KindHalt, fd.Kind)
	assert.Equal(t, "H1", fd.RuleID)
}

func TestAllowOverrideSuppressesDenialNotHalt(t *testing.T) {
	var ds model.DecisionSet
	ds.AddDenial(model.Record{RuleID: "D1", Reason: "denied"})
	ds.AddAllowOverride(model.Record{RuleID: "A1", Reason: "override"})

	fd := synth.Synthesize(ds)
	assert.Equal(t, model.KindAllow, fd.Kind)

	ds.AddHalt(model.Record{RuleID: "H1", Reason: "halted"})
	fd = synth.Synthesize(ds)
	assert.Equal(t, model.KindHalt, fd.Kind)
}

func TestDenialWinsWithoutOverride(t *testing.T) {
	var ds model.DecisionSet
	ds.AddDenial(model.Record{RuleID: "RM-001", Reason: "rm blocked"})

	fd := synth.Synthesize(ds)
	assert.Equal(t, model.KindDeny, fd.Kind)
	assert.Equal(t, "RM-001", fd.RuleID)
}

func TestBlocksConcatenateFeedback(t *testing.T) {
	var ds model.DecisionSet
	ds.AddBlock(model.Record{RuleID: "B2", Reason: "second"})
	ds.AddBlock(model.Record{RuleID: "B1", Reason: "first"})

	fd := synth.Synthesize(ds)
	assert.Equal(t, model.KindBlock, fd.Kind)
	assert.Equal(t, "first\nsecond", fd.Feedback)
}

func TestAskPicksHighestSeverity(t *testing.T) {
	var ds model.DecisionSet
	ds.AddAsk(model.Record{RuleID: "A2", Reason: "low prio", Severity: model.SeverityLow, Question: "low?"})
	ds.AddAsk(model.Record{RuleID: "A1", Reason: "high prio", Severity: model.SeverityCritical, Question: "proceed?"})

	fd := synth.Synthesize(ds)
	assert.Equal(t, model.KindAsk, fd.Kind)
	assert.Equal(t, "A1", fd.RuleID)
	assert.Equal(t, "proceed?", fd.Question)
}

func TestDefaultAllowConcatenatesContext(t *testing.T) {
	var ds model.DecisionSet
	ds.AddContextRecord(model.Record{RuleID: "C2", Reason: "second ctx"})
	ds.AddContextRecord(model.Record{RuleID: "C1", Reason: "first ctx"})

	fd := synth.Synthesize(ds)
	assert.Equal(t, model.KindAllow, fd.Kind)
	assert.Equal(t, []string{"first ctx", "second ctx"}, fd.Context)
}

func TestSynthesisIsPure(t *testing.T) {
	var ds model.DecisionSet
	ds.AddDenial(model.Record{RuleID: "D1", Reason: "denied"})

	first := synth.Synthesize(ds)
	second := synth.Synthesize(ds)
	assert.Equal(t, first, second)
}
