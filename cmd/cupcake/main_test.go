package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestRunWithNoArgsPrintsUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"cupcake"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected usage message on stderr")
	}
}

func TestRunUnknownSubcommandIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"cupcake", "bogus"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunTrustWithNoSubcommandIsUsageError(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Run([]string{"cupcake", "trust"}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2", code)
	}
}

func TestRunInitScaffoldsPolicyDir(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	code := Run([]string{"cupcake", "init", dir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("exit code = %d, want 0, stderr=%s", code, stderr.String())
	}
	if _, err := os.Stat(filepath.Join(dir, ".cupcake", "policies", "example.rego")); err != nil {
		t.Fatalf("expected sample policy to be written: %v", err)
	}
}

func TestRunTrustInitThenVerifyRoundTrips(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	if code := Run([]string{"cupcake", "init", dir}, &stdout, &stderr); code != 0 {
		t.Fatalf("init failed: %s", stderr.String())
	}

	policyDir := filepath.Join(dir, ".cupcake", "policies")
	stdout.Reset()
	stderr.Reset()
	code := Run([]string{"cupcake", "trust", "init", "--policy-dir", policyDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("trust init failed (%d): %s", code, stderr.String())
	}

	stdout.Reset()
	stderr.Reset()
	code = Run([]string{"cupcake", "trust", "verify", "--policy-dir", policyDir}, &stdout, &stderr)
	if code != 0 {
		t.Fatalf("trust verify failed (%d): %s", code, stderr.String())
	}
}

func TestRunEvalMissingPolicyDirIsConfigError(t *testing.T) {
	dir := t.TempDir()
	var stdout, stderr bytes.Buffer
	eventPath := filepath.Join(dir, "event.json")
	if err := os.WriteFile(eventPath, []byte(`{"hook_event_name":"PreToolUse","tool_name":"Bash"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	code := Run([]string{"cupcake", "eval", "--policy-dir", filepath.Join(dir, "missing"), "--event", eventPath}, &stdout, &stderr)
	if code != 2 {
		t.Fatalf("exit code = %d, want 2, stderr=%s", code, stderr.String())
	}
}
