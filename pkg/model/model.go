// Package model defines Cupcake's canonical data model (spec.md §3):
// events, decision records, decision sets, and the synthesized final
// decision. Events are represented as a generic key-value tree so each
// harness adapter can carry its own extras without a rigid schema.
package model

import "sort"

// Event is the canonical input tree (spec.md §3). Top-level well-known
// keys are documented below but the map may carry harness-specific
// extras; adapters are responsible for populating them.
//
// Well-known keys: hook_event_name, tool_name, tool_input, prompt,
// session_id, cwd, transcript_path.
type Event map[string]any

// Clone produces a deep-enough copy for the evaluator's mutable-clone
// discipline (spec.md §4.7, §9): nested maps are copied recursively so
// that preprocessing additions never alias the caller's original tree.
func (e Event) Clone() Event {
	return cloneValue(e).(Event)
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case Event:
		out := make(Event, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// String reads a string-valued key, returning "" if absent or of the
// wrong type.
func (e Event) String(key string) string {
	if v, ok := e[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Tree reads a nested-tree-valued key (e.g. tool_input), returning nil
// if absent or of the wrong type.
func (e Event) Tree(key string) Event {
	v, ok := e[key]
	if !ok {
		return nil
	}
	switch t := v.(type) {
	case Event:
		return t
	case map[string]any:
		return Event(t)
	default:
		return nil
	}
}

// EventKind returns the hook_event_name field, Cupcake's routing key.
func (e Event) EventKind() string { return e.String("hook_event_name") }

// ToolName returns the tool_name field, or "" if absent (e.g. prompt hooks).
func (e Event) ToolName() string { return e.String("tool_name") }

// Severity is the Decision Record severity (spec.md §3).
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var severityRank = map[Severity]int{
	SeverityLow: 0, SeverityMedium: 1, SeverityHigh: 2, SeverityCritical: 3,
}

// Record is a single Decision Record (spec.md §3).
type Record struct {
	RuleID   string   `json:"rule_id"`
	Reason   string   `json:"reason"`
	Severity Severity `json:"severity"`
	Question string   `json:"question,omitempty"` // ask only
}

func dedupKey(r Record) [2]string { return [2]string{r.RuleID, r.Reason} }

// addUnique appends r to set unless an entry with the same (rule_id,
// reason) is already present (spec.md §3 dedup rule).
func addUnique(set []Record, r Record) []Record {
	key := dedupKey(r)
	for _, existing := range set {
		if dedupKey(existing) == key {
			return set
		}
	}
	return append(set, r)
}

// DecisionSet is the bundle's single evaluation output: six
// verb-partitioned sets of Decision Records (spec.md §3).
type DecisionSet struct {
	Halts          []Record `json:"halts"`
	Denials        []Record `json:"denials"`
	Blocks         []Record `json:"blocks"`
	Asks           []Record `json:"asks"`
	AllowOverrides []Record `json:"allow_overrides"`
	AddContext     []Record `json:"add_context"`
}

// AddHalt appends a deduplicated halt record.
func (d *DecisionSet) AddHalt(r Record) { d.Halts = addUnique(d.Halts, r) }

// AddDenial appends a deduplicated denial record.
func (d *DecisionSet) AddDenial(r Record) { d.Denials = addUnique(d.Denials, r) }

// AddBlock appends a deduplicated block record.
func (d *DecisionSet) AddBlock(r Record) { d.Blocks = addUnique(d.Blocks, r) }

// AddAsk appends a deduplicated ask record.
func (d *DecisionSet) AddAsk(r Record) { d.Asks = addUnique(d.Asks, r) }

// AddAllowOverride appends a deduplicated allow_override record.
func (d *DecisionSet) AddAllowOverride(r Record) { d.AllowOverrides = addUnique(d.AllowOverrides, r) }

// AddContextRecord appends a deduplicated add_context record.
func (d *DecisionSet) AddContextRecord(r Record) { d.AddContext = addUnique(d.AddContext, r) }

// Merge folds other's records into d, preserving d's entries first and
// appending other's after; callers merge in the order they want
// preserved.
func (d *DecisionSet) Merge(other DecisionSet) {
	for _, r := range other.Halts {
		d.AddHalt(r)
	}
	for _, r := range other.Denials {
		d.AddDenial(r)
	}
	for _, r := range other.Blocks {
		d.AddBlock(r)
	}
	for _, r := range other.Asks {
		d.AddAsk(r)
	}
	for _, r := range other.AllowOverrides {
		d.AddAllowOverride(r)
	}
	for _, r := range other.AddContext {
		d.AddContextRecord(r)
	}
}

// SortedByRuleID returns a stable copy of records ordered by RuleID,
// the tie-break rule spec.md §4.8 specifies throughout.
func SortedByRuleID(records []Record) []Record {
	out := make([]Record, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool { return out[i].RuleID < out[j].RuleID })
	return out
}

// DecisionKind tags the variant of a FinalDecision (spec.md §3).
type DecisionKind string

const (
	KindHalt  DecisionKind = "halt"
	KindDeny  DecisionKind = "deny"
	KindBlock DecisionKind = "block"
	KindAsk   DecisionKind = "ask"
	KindAllow DecisionKind = "allow"
)

// FinalDecision is the tagged-variant result of synthesis (spec.md §3).
type FinalDecision struct {
	Kind     DecisionKind `json:"kind"`
	Reason   string       `json:"reason,omitempty"`
	RuleID   string       `json:"rule_id,omitempty"`
	Feedback string       `json:"feedback,omitempty"` // block only
	Question string       `json:"question,omitempty"` // ask only
	Context  []string     `json:"context,omitempty"`  // allow only
}

// IsTerminal reports whether this decision is one of Halt/Deny/Block/Ask
// — the set that, per spec.md §4.10, wins outright at the global layer.
func (f FinalDecision) IsTerminal() bool {
	switch f.Kind {
	case KindHalt, KindDeny, KindBlock, KindAsk:
		return true
	default:
		return false
	}
}

// Allow builds an Allow{context} decision.
func Allow(context []string) FinalDecision {
	if context == nil {
		context = []string{}
	}
	return FinalDecision{Kind: KindAllow, Context: context}
}
