// Package adapter implements the Harness adapter (spec.md §4.12, C12):
// translation between a native harness event/response JSON shape and
// the engine's canonical Event/FinalDecision types. The supported set
// is closed and enumerable: a name -> constructor map built once at
// package init, the same shape used elsewhere in this module for
// other closed name -> implementation registries.
package adapter

import (
	"encoding/json"
	"fmt"

	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/model"
)

// Name enumerates the closed set of supported harnesses (spec.md §6).
type Name string

const (
	ClaudeCode Name = "claude_code"
	Cursor     Name = "cursor"
	OpenCode   Name = "opencode"
	FactoryAI  Name = "factory_ai"
)

// Adapter translates between one harness's native JSON shape and the
// engine's canonical types.
type Adapter interface {
	// Decode parses raw harness event bytes into the canonical event
	// map (spec.md §3).
	Decode(raw []byte) (map[string]any, error)
	// Encode renders a FinalDecision into the harness's native response
	// envelope (spec.md §6's mapping table).
	Encode(fd model.FinalDecision) ([]byte, error)
}

var registry = map[Name]Adapter{
	ClaudeCode: claudeCodeAdapter{},
	Cursor:     cursorAdapter{},
	OpenCode:   openCodeAdapter{},
	FactoryAI:  factoryAIAdapter{},
}

// For looks up the Adapter for a harness name. Unknown names are a
// ConfigError (spec.md §7): the engine refuses to start against an
// unsupported harness rather than guess.
func For(name Name) (Adapter, error) {
	a, ok := registry[name]
	if !ok {
		return nil, cupcakeerr.New(cupcakeerr.KindConfig, fmt.Sprintf("unsupported harness %q", name), nil)
	}
	return a, nil
}

// decodeGeneric unmarshals raw JSON into a canonical event map, common
// to every harness since all four encode the input as a flat JSON
// object (spec.md §3).
func decodeGeneric(raw []byte) (map[string]any, error) {
	var e map[string]any
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, cupcakeerr.New(cupcakeerr.KindInput, "event does not parse as JSON", err)
	}
	return e, nil
}

// --- Claude Code ---

type claudeCodeAdapter struct{}

func (claudeCodeAdapter) Decode(raw []byte) (map[string]any, error) { return decodeGeneric(raw) }

func (claudeCodeAdapter) Encode(fd model.FinalDecision) ([]byte, error) {
	switch fd.Kind {
	case model.KindHalt, model.KindDeny:
		return json.Marshal(map[string]any{
			"hookSpecificOutput": map[string]any{
				"permissionDecision":       "deny",
				"permissionDecisionReason": fd.Reason,
			},
		})
	case model.KindBlock:
		return json.Marshal(map[string]any{
			"hookSpecificOutput": map[string]any{
				"permissionDecision":       "deny",
				"permissionDecisionReason": fd.Feedback,
			},
		})
	case model.KindAsk:
		return json.Marshal(map[string]any{
			"hookSpecificOutput": map[string]any{
				"permissionDecision":       "ask",
				"permissionDecisionReason": fd.Question,
			},
		})
	default:
		return json.Marshal(map[string]any{
			"hookSpecificOutput": map[string]any{
				"permissionDecision": "allow",
				"additionalContext":  fd.Context,
			},
		})
	}
}

// --- Cursor ---

type cursorAdapter struct{}

func (cursorAdapter) Decode(raw []byte) (map[string]any, error) { return decodeGeneric(raw) }

func (cursorAdapter) Encode(fd model.FinalDecision) ([]byte, error) {
	switch fd.Kind {
	case model.KindHalt, model.KindDeny:
		return json.Marshal(map[string]any{
			"permission":    "deny",
			"user_message":  fd.Reason,
			"agent_message": fd.Reason,
		})
	case model.KindBlock:
		return json.Marshal(map[string]any{
			"permission":    "deny",
			"user_message":  fd.Feedback,
			"agent_message": fd.Feedback,
		})
	case model.KindAsk:
		return json.Marshal(map[string]any{
			"permission":    "ask",
			"user_message":  fd.Question,
			"agent_message": fd.Question,
		})
	default:
		return json.Marshal(map[string]any{
			"permission":    "allow",
			"agent_message": "",
			"context":       fd.Context,
		})
	}
}

// --- OpenCode ---

type openCodeAdapter struct{}

func (openCodeAdapter) Decode(raw []byte) (map[string]any, error) { return decodeGeneric(raw) }

// Encode converts Ask to Deny with a merged reason, per spec.md §6:
// OpenCode's envelope has no interactive-ask concept.
func (openCodeAdapter) Encode(fd model.FinalDecision) ([]byte, error) {
	switch fd.Kind {
	case model.KindHalt, model.KindDeny:
		return json.Marshal(map[string]any{"decision": "deny", "reason": fd.Reason})
	case model.KindBlock:
		return json.Marshal(map[string]any{"decision": "deny", "reason": fd.Feedback})
	case model.KindAsk:
		return json.Marshal(map[string]any{
			"decision": "deny",
			"reason":   mergeAskReason(fd.Reason, fd.Question),
		})
	default:
		return json.Marshal(map[string]any{"decision": "allow", "context": fd.Context})
	}
}

func mergeAskReason(reason, question string) string {
	if reason == "" {
		return question
	}
	return reason + ": " + question
}

// --- Factory AI ---

type factoryAIAdapter struct{}

// Decode reads Factory AI's camelCase `hookEventName` and normalizes it
// to the canonical snake_case `hook_event_name` key every other
// component expects (spec.md §3, §6).
func (factoryAIAdapter) Decode(raw []byte) (map[string]any, error) {
	e, err := decodeGeneric(raw)
	if err != nil {
		return nil, err
	}
	if v, ok := e["hookEventName"]; ok {
		e["hook_event_name"] = v
		delete(e, "hookEventName")
	}
	return e, nil
}

// Encode mirrors Claude Code's envelope, with optional updatedInput
// support left for the caller to attach (spec.md §6).
func (factoryAIAdapter) Encode(fd model.FinalDecision) ([]byte, error) {
	return claudeCodeAdapter{}.Encode(fd)
}
