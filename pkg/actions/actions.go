// Package actions implements the Action dispatcher (spec.md §4.9, C9):
// fire-and-forget launch of configured actions keyed off a FinalDecision
// kind and the triggering rule id. Detached actions never receive the
// caller's full environment, the same discipline the sandbox runtime
// applies to credentials.
package actions

import (
	"log/slog"
	"os"
	"os/exec"
)

// Spec is one action's command definition (spec.md §6 guidebook format).
type Spec struct {
	RuleID     string
	Verb       string // e.g. "on_any_denial"
	Command    []string
	WorkingDir string
	Env        map[string]string // caller-supplied extras, added to PATH/HOME
	OnSuccess  *Spec
	OnFailure  *Spec
}

// Verifier, when non-nil, is consulted before an action is spawned
// (spec.md §4.9, §4.11). Unverified actions are dropped with an error
// logged, never executed.
type Verifier func(spec Spec) error

// Dispatcher looks up and launches actions for a triggered decision.
type Dispatcher struct {
	byRuleID map[string][]Spec
	byVerb   map[string][]Spec
	verify   Verifier
	logger   *slog.Logger
}

// New builds a Dispatcher from the guidebook's action definitions.
func New(specs []Spec, verify Verifier, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		byRuleID: make(map[string][]Spec),
		byVerb:   make(map[string][]Spec),
		verify:   verify,
		logger:   logger,
	}
	for _, s := range specs {
		if s.RuleID != "" {
			d.byRuleID[s.RuleID] = append(d.byRuleID[s.RuleID], s)
		}
		if s.Verb != "" {
			d.byVerb[s.Verb] = append(d.byVerb[s.Verb], s)
		}
	}
	return d
}

// Dispatch launches every action configured for ruleID or verb,
// detached, without waiting for completion or letting failures delay
// the caller (spec.md §4.9).
func (d *Dispatcher) Dispatch(ruleID, verb string) {
	for _, s := range d.byRuleID[ruleID] {
		d.launch(s)
	}
	for _, s := range d.byVerb[verb] {
		d.launch(s)
	}
}

func (d *Dispatcher) launch(s Spec) {
	if d.verify != nil {
		if err := d.verify(s); err != nil {
			d.logger.Error("actions: dropped unverified action", "rule_id", s.RuleID, "err", err)
			return
		}
	}
	if len(s.Command) == 0 {
		return
	}

	cmd := exec.Command(s.Command[0], s.Command[1:]...)
	cmd.Dir = s.WorkingDir
	cmd.Env = filteredEnv(s.Env)

	go func() {
		err := cmd.Run()
		next := s.OnSuccess
		if err != nil {
			d.logger.Warn("actions: action failed", "rule_id", s.RuleID, "err", err)
			next = s.OnFailure
		}
		if next != nil {
			d.launch(*next)
		}
	}()
}

// filteredEnv builds the explicit environment allowlist an action
// subprocess runs with: PATH and HOME from the engine's own
// environment, plus whatever extras the action's guidebook entry
// declared (spec.md §4.9). Nothing else of the engine's environment
// reaches a detached action.
func filteredEnv(extras map[string]string) []string {
	env := []string{"PATH=" + os.Getenv("PATH")}
	if home := os.Getenv("HOME"); home != "" {
		env = append(env, "HOME="+home)
	}
	for k, v := range extras {
		env = append(env, k+"="+v)
	}
	return env
}
