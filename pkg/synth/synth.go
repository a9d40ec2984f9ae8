// Package synth implements the Synthesizer (spec.md §4.8, C8): a pure,
// strict-priority reduction of a model.DecisionSet to a single
// model.FinalDecision: a priority-ordered walk-then-reduce over the
// decision set, in the vein of borisdali-helpdesk's
// policy.Engine.explainEvaluate.
package synth

import "github.com/cupcake-run/cupcake/pkg/model"

// Synthesize applies the strict priority hierarchy of spec.md §4.8:
//  1. halts (first by rule_id) — unconditional, wins over everything.
//  2. denials (first by rule_id) — unless suppressed by a non-empty
//     allow_overrides set (the only cross-level interaction).
//  3. blocks — concatenated feedback, newline-separated, rule_id order.
//  4. asks (highest severity, tie-break lowest rule_id).
//  5. default Allow, context = ordered concatenation of add_context.
//
// Synthesize is a pure function of its input (spec.md §8 "synthesis
// purity"): identical DecisionSets produce identical FinalDecisions.
func Synthesize(ds model.DecisionSet) model.FinalDecision {
	if len(ds.Halts) > 0 {
		r := model.SortedByRuleID(ds.Halts)[0]
		return model.FinalDecision{Kind: model.KindHalt, Reason: r.Reason, RuleID: r.RuleID}
	}

	if len(ds.Denials) > 0 && len(ds.AllowOverrides) == 0 {
		r := model.SortedByRuleID(ds.Denials)[0]
		return model.FinalDecision{Kind: model.KindDeny, Reason: r.Reason, RuleID: r.RuleID}
	}

	if len(ds.Blocks) > 0 {
		return model.FinalDecision{Kind: model.KindBlock, Feedback: joinFeedback(ds.Blocks)}
	}

	if len(ds.Asks) > 0 {
		r := highestSeverity(ds.Asks)
		return model.FinalDecision{Kind: model.KindAsk, Reason: r.Reason, RuleID: r.RuleID, Question: r.Question}
	}

	return model.Allow(contextStrings(ds.AddContext))
}

func joinFeedback(blocks []model.Record) string {
	sorted := model.SortedByRuleID(blocks)
	out := ""
	for i, r := range sorted {
		if i > 0 {
			out += "\n"
		}
		out += r.Reason
	}
	return out
}

func contextStrings(records []model.Record) []string {
	sorted := model.SortedByRuleID(records)
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = r.Reason
	}
	return out
}

var severityRank = map[model.Severity]int{
	model.SeverityLow: 0, model.SeverityMedium: 1, model.SeverityHigh: 2, model.SeverityCritical: 3,
}

// highestSeverity picks the record with the highest severity, tie-break
// lowest rule_id (spec.md §4.8).
func highestSeverity(records []model.Record) model.Record {
	sorted := model.SortedByRuleID(records)
	best := sorted[0]
	for _, r := range sorted[1:] {
		if severityRank[r.Severity] > severityRank[best.Severity] {
			best = r
		}
	}
	return best
}
