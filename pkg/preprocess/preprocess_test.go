package preprocess_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cupcake-run/cupcake/pkg/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeWhitespace(t *testing.T) {
	cases := map[string]string{
		"rm  -rf   /":          "rm -rf /",
		"echo 'a   b'  c":       "echo 'a   b' c",
		"echo \"x\ty\"\nz":      "echo \"x\ty\" z",
		"already normal":        "already normal",
		"  leading and trail  ": "leading and trail",
	}
	for in, want := range cases {
		assert.Equal(t, want, preprocess.NormalizeWhitespace(in), "input=%q", in)
	}
}

func TestRunNormalizesCommandAdditively(t *testing.T) {
	e := map[string]any{
		"hook_event_name": "PreToolUse",
		"tool_name":       "Bash",
		"tool_input":      map[string]any{"command": "rm  -rf   /"},
	}
	out := preprocess.Run(e, preprocess.Options{})

	ti := out["tool_input"].(map[string]any)
	assert.Equal(t, "rm -rf /", ti["command"])

	// original untouched
	origTI := e["tool_input"].(map[string]any)
	assert.Equal(t, "rm  -rf   /", origTI["command"])
}

func TestRunIsIdempotent(t *testing.T) {
	e := map[string]any{
		"tool_input": map[string]any{"command": "echo  'a   b'   c"},
	}
	once := preprocess.Run(e, preprocess.Options{})
	twice := preprocess.Run(once, preprocess.Options{})
	assert.Equal(t, once, twice)
}

func TestRunCanonicalizesSymlinkPath(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "real.txt")
	require.NoError(t, os.WriteFile(target, []byte("x"), 0o644))
	link := filepath.Join(dir, "innocent")
	require.NoError(t, os.Symlink(target, link))

	e := map[string]any{
		"tool_input": map[string]any{"file_path": link},
	}
	out := preprocess.Run(e, preprocess.Options{})
	ti := out["tool_input"].(map[string]any)

	resolvedTarget, err := filepath.EvalSymlinks(target)
	require.NoError(t, err)
	assert.Equal(t, resolvedTarget, ti["resolved_file_path"])
	assert.Equal(t, true, ti["is_symlink"])
	assert.Equal(t, link, ti["original_file_path"])
}

func TestRunCanonicalizesNotYetExistingLeaf(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "not-created-yet.txt")

	e := map[string]any{"tool_input": map[string]any{"file_path": path}}
	out := preprocess.Run(e, preprocess.Options{})
	ti := out["tool_input"].(map[string]any)

	require.Contains(t, ti, "resolved_file_path")
	assert.Equal(t, filepath.Base(path), filepath.Base(ti["resolved_file_path"].(string)))
}

func TestRunScriptInspectionDirectExecution(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "deploy.sh")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho hi\n"), 0o755))

	e := map[string]any{"tool_input": map[string]any{"command": script}}
	out := preprocess.Run(e, preprocess.Options{ScriptInspectionEnabled: true})
	ti := out["tool_input"].(map[string]any)

	assert.Equal(t, true, ti["script_inspection_performed"])
	assert.Contains(t, ti["executed_script_content"], "echo hi")
}

func TestRunScriptInspectionSkipsShellDashC(t *testing.T) {
	e := map[string]any{"tool_input": map[string]any{"command": "bash -c \"echo hi\""}}
	out := preprocess.Run(e, preprocess.Options{ScriptInspectionEnabled: true})
	ti := out["tool_input"].(map[string]any)

	assert.NotContains(t, ti, "executed_script_content")
}

func TestRunOmitsDerivedFieldsWhenDisabledOrAbsent(t *testing.T) {
	e := map[string]any{"tool_input": map[string]any{}}
	out := preprocess.Run(e, preprocess.Options{})
	ti := out["tool_input"].(map[string]any)
	assert.NotContains(t, ti, "resolved_file_path")
	assert.NotContains(t, ti, "executed_script_content")
}
