// Package guidebook loads the signal/action definitions the engine
// wires into pkg/signals and pkg/actions (spec.md §6's guidebook
// formats). Grounded on borisdali-helpdesk's internal/policy.LoadFile/
// Load pattern: os.ExpandEnv over the raw YAML before parsing, then
// structural validation.
package guidebook

import (
	"fmt"
	"os"

	"github.com/cupcake-run/cupcake/pkg/actions"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/signals"
	"gopkg.in/yaml.v3"
)

// rawCommand accepts either a YAML string or a YAML sequence for the
// `command` field (spec.md §6: "command: string or array").
type rawCommand struct {
	parts []string
}

func (c *rawCommand) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		c.parts = []string{"/bin/sh", "-c", s}
		return nil
	case yaml.SequenceNode:
		var parts []string
		if err := node.Decode(&parts); err != nil {
			return err
		}
		c.parts = parts
		return nil
	default:
		return fmt.Errorf("guidebook: command must be a string or a list of strings")
	}
}

type rawActionSpec struct {
	Command        rawCommand        `yaml:"command"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
	WorkingDir     string            `yaml:"working_directory"`
	Env            map[string]string `yaml:"env"`
	OnSuccess      *rawActionSpec    `yaml:"on_success"`
	OnFailure      *rawActionSpec    `yaml:"on_failure"`
}

// LoadSignalsFile reads and parses a signal-definitions YAML file.
func LoadSignalsFile(path string) (map[string]signals.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "failed to read signal definitions", err)
	}
	return LoadSignals(data)
}

// LoadSignals parses signal-definitions YAML, expanding environment
// variables first (borisdali-helpdesk's os.ExpandEnv-before-parse
// idiom).
func LoadSignals(data []byte) (map[string]signals.Spec, error) {
	expanded := os.ExpandEnv(string(data))

	var raw map[string]rawActionSpec
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "failed to parse signal definitions YAML", err)
	}

	out := make(map[string]signals.Spec, len(raw))
	for name, spec := range raw {
		if len(spec.Command.parts) == 0 {
			return nil, cupcakeerr.New(cupcakeerr.KindConfig, fmt.Sprintf("signal %q: command is required", name), nil)
		}
		out[name] = signals.Spec{
			Name:           name,
			Command:        spec.Command.parts,
			TimeoutSeconds: spec.TimeoutSeconds,
			WorkingDir:     spec.WorkingDir,
		}
	}
	return out, nil
}

// LoadActionsFile reads and parses an action-definitions YAML file.
func LoadActionsFile(path string) ([]actions.Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "failed to read action definitions", err)
	}
	return LoadActions(data)
}

// LoadActions parses action-definitions YAML, expanding environment
// variables first.
func LoadActions(data []byte) ([]actions.Spec, error) {
	expanded := os.ExpandEnv(string(data))

	var raw map[string]rawActionSpec
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, "failed to parse action definitions YAML", err)
	}

	out := make([]actions.Spec, 0, len(raw))
	for key, spec := range raw {
		if len(spec.Command.parts) == 0 {
			return nil, cupcakeerr.New(cupcakeerr.KindConfig, fmt.Sprintf("action %q: command is required", key), nil)
		}
		out = append(out, toActionSpec(key, spec))
	}
	return out, nil
}

func toActionSpec(key string, raw rawActionSpec) actions.Spec {
	s := actions.Spec{Command: raw.Command.parts, WorkingDir: raw.WorkingDir, Env: raw.Env}
	if isVerb(key) {
		s.Verb = key
	} else {
		s.RuleID = key
	}
	if raw.OnSuccess != nil {
		next := toActionSpec(key+"/on_success", *raw.OnSuccess)
		s.OnSuccess = &next
	}
	if raw.OnFailure != nil {
		next := toActionSpec(key+"/on_failure", *raw.OnFailure)
		s.OnFailure = &next
	}
	return s
}

// isVerb recognizes the verb-wildcard key shape (spec.md §4.9's
// "on_any_denial" style), distinguishing it from a rule_id.
func isVerb(key string) bool {
	return len(key) > 3 && key[:3] == "on_"
}
