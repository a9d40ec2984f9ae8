// Package preprocess implements the Preprocessor (spec.md §4.1, C1):
// adversarial-input normalization of an Event. Every derived field is
// additive; original fields are never mutated or removed, and running
// the pass twice must be a no-op on top of its own output (idempotence,
// spec.md §8).
package preprocess

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures the optional, opt-in parts of preprocessing.
type Options struct {
	// ScriptInspectionEnabled turns on reading script bodies referenced
	// by a recognized invocation pattern (spec.md §4.1).
	ScriptInspectionEnabled bool
	// MaxScriptBytes caps executed_script_content size.
	MaxScriptBytes int64
	Logger         *slog.Logger
}

const defaultMaxScriptBytes = 256 * 1024

// Run produces a preprocessed event from e without mutating e (spec.md
// §4.1). Every step silently omits its derived field on failure —
// preprocessing never fails the evaluation (spec.md §4.1, §7).
func Run(e map[string]any, opts Options) map[string]any {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxScriptBytes <= 0 {
		opts.MaxScriptBytes = defaultMaxScriptBytes
	}

	out := deepClone(e)

	if toolInput, ok := asTree(out["tool_input"]); ok {
		normalizeCommand(toolInput, opts)
		canonicalizePath(toolInput, opts)
		if opts.ScriptInspectionEnabled {
			inspectScript(toolInput, opts)
		}
		out["tool_input"] = toolInput
	}

	return out
}

func deepClone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepClone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepClone(val)
		}
		return out
	default:
		return v
	}
}

func asTree(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// normalizeCommand implements the whitespace-normalization rule of
// spec.md §4.1: tokens and quoted regions, collapse runs of whitespace
// outside quotes to a single space, preserve quoted byte content
// exactly, only replace the field if the result differs.
func normalizeCommand(toolInput map[string]any, opts Options) {
	cmd, ok := toolInput["command"].(string)
	if !ok {
		return
	}
	normalized := NormalizeWhitespace(cmd)
	if normalized != cmd {
		toolInput["command"] = normalized
		opts.Logger.Debug("preprocess: normalized field", "field", "tool_input.command")
	}
}

// NormalizeWhitespace collapses runs of unquoted whitespace (including
// tabs and newlines) to a single space and trims the ends, while leaving
// the byte content of single- or double-quoted regions untouched.
func NormalizeWhitespace(s string) string {
	var b strings.Builder
	var quote rune
	lastWasSpace := false
	wroteAny := false

	for _, r := range s {
		if quote != 0 {
			b.WriteRune(r)
			if r == quote {
				quote = 0
			}
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
			b.WriteRune(r)
			lastWasSpace = false
			wroteAny = true
		case ' ', '\t', '\n', '\r':
			if wroteAny && !lastWasSpace {
				b.WriteByte(' ')
				lastWasSpace = true
			}
		default:
			b.WriteRune(r)
			lastWasSpace = false
			wroteAny = true
		}
	}

	return strings.TrimRight(b.String(), " ")
}

// canonicalizePath implements spec.md §4.1's path-canonicalization rule.
func canonicalizePath(toolInput map[string]any, opts Options) {
	raw, ok := toolInput["file_path"].(string)
	if !ok || raw == "" {
		return
	}
	toolInput["original_file_path"] = raw

	resolved, isSymlink, err := resolveCanonicalPath(raw)
	if err != nil {
		opts.Logger.Debug("preprocess: path resolution failed", "err", err)
		return
	}
	toolInput["resolved_file_path"] = resolved
	if isSymlink {
		toolInput["is_symlink"] = true
	}
}

// resolveCanonicalPath resolves symlinks and ".." segments. If the final
// component does not exist but the parent does, the parent is resolved
// and the leaf appended verbatim (spec.md §4.1), enabling checks against
// not-yet-created files.
func resolveCanonicalPath(raw string) (resolved string, isSymlink bool, err error) {
	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", false, err
	}

	if real, err := filepath.EvalSymlinks(abs); err == nil {
		isSymlink = real != abs
		return real, isSymlink, nil
	}

	// Final component may not exist yet; resolve the parent instead.
	parent := filepath.Dir(abs)
	leaf := filepath.Base(abs)
	if _, statErr := os.Stat(parent); statErr != nil {
		return "", false, statErr
	}
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		return "", false, err
	}
	return filepath.Join(realParent, leaf), false, nil
}

// recognizedScriptExtensions are extensions treated as direct-execution
// scripts by inspectScript.
var recognizedScriptExtensions = map[string]bool{
	".sh": true, ".bash": true, ".zsh": true, ".py": true,
	".rb": true, ".js": true, ".ts": true, ".pl": true,
}

var shellInterpreters = map[string]bool{"bash": true, "sh": true, "zsh": true}
var langInterpreters = map[string]bool{
	"python": true, "python3": true, "node": true, "ruby": true, "perl": true,
}

// inspectScript implements spec.md §4.1's opt-in script-inspection rule.
func inspectScript(toolInput map[string]any, opts Options) {
	cmd, ok := toolInput["command"].(string)
	if !ok {
		return
	}
	tokens := splitUnquoted(cmd)
	if len(tokens) == 0 {
		return
	}

	scriptPath, ok := findScriptPath(tokens)
	if !ok {
		return
	}

	toolInput["script_inspection_performed"] = true
	toolInput["executed_script_path"] = scriptPath

	resolved, _, err := resolveCanonicalPath(scriptPath)
	if err != nil {
		resolved = scriptPath
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return
	}

	data, err := readCapped(resolved, opts.MaxScriptBytes)
	if err != nil {
		opts.Logger.Debug("preprocess: script read failed", "err", err)
		return
	}
	toolInput["executed_script_content"] = string(data)
}

// findScriptPath detects direct execution, shell-interpreter, or
// language-interpreter invocation patterns (spec.md §4.1). The -c flag
// suppresses inspection for shell interpreters.
func findScriptPath(tokens []string) (string, bool) {
	first := tokens[0]
	base := filepath.Base(first)

	if recognizedScriptExtensions[filepath.Ext(base)] {
		return first, true
	}

	if shellInterpreters[base] {
		for _, t := range tokens[1:] {
			if t == "-c" {
				return "", false
			}
		}
		for _, t := range tokens[1:] {
			if !strings.HasPrefix(t, "-") {
				return t, true
			}
		}
		return "", false
	}

	if langInterpreters[base] {
		for _, t := range tokens[1:] {
			if !strings.HasPrefix(t, "-") {
				return t, true
			}
		}
	}

	return "", false
}

func splitUnquoted(s string) []string {
	normalized := NormalizeWhitespace(s)
	var tokens []string
	var cur strings.Builder
	var quote rune
	for _, r := range normalized {
		if quote != 0 {
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
			continue
		}
		switch r {
		case '\'', '"':
			quote = r
		case ' ':
			if cur.Len() > 0 {
				tokens = append(tokens, cur.String())
				cur.Reset()
			}
		default:
			cur.WriteRune(r)
		}
	}
	if cur.Len() > 0 {
		tokens = append(tokens, cur.String())
	}
	return tokens
}

func readCapped(path string, max int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, max))
	if err != nil {
		return nil, err
	}
	return data, nil
}
