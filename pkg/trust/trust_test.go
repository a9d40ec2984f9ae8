package trust_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cupcake-run/cupcake/pkg/actions"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/signals"
	"github.com/cupcake-run/cupcake/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *trust.Store {
	t.Helper()
	dir := t.TempDir()
	return &trust.Store{
		Path:        filepath.Join(dir, "trust.json"),
		BinaryPath:  "/usr/local/bin/cupcake",
		ProjectPath: dir,
	}
}

func TestLoadMissingManifestIsNotInitialized(t *testing.T) {
	s := newStore(t)
	_, err := s.Load()
	require.Error(t, err)
	k, ok := cupcakeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cupcakeerr.KindTrust, k)
}

func TestInitThenLoadRoundTrips(t *testing.T) {
	s := newStore(t)
	sigs := map[string]signals.Spec{"git_status": {Command: []string{"git", "status"}}}
	require.NoError(t, s.Init(sigs, nil))

	m, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, trust.ModeEnabled, m.Mode)
	assert.Contains(t, m.Scripts[trust.CategorySignals], "git_status")
}

func TestTamperedManifestFailsClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Init(map[string]signals.Spec{"x": {Command: []string{"echo", "hi"}}}, nil))

	raw, err := os.ReadFile(s.Path)
	require.NoError(t, err)
	tampered := append([]byte{}, raw...)
	// flip a byte inside the JSON body (before the trailing hmac line)
	tampered[10] ^= 0xFF
	require.NoError(t, os.WriteFile(s.Path, tampered, 0o600))

	_, err = s.Load()
	require.Error(t, err)
	var e *cupcakeerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, cupcakeerr.TrustTampered, e.SubKind)
}

func TestVerifySignalDetectsModifiedScript(t *testing.T) {
	dir := t.TempDir()
	scriptPath := filepath.Join(dir, "check.sh")
	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho ok\n"), 0o755))

	s := newStore(t)
	sigs := map[string]signals.Spec{"check": {Name: "check", Command: []string{scriptPath}}}
	require.NoError(t, s.Init(sigs, nil))

	verify := s.VerifySignal()
	require.NoError(t, verify(sigs["check"]))

	require.NoError(t, os.WriteFile(scriptPath, []byte("#!/bin/sh\necho tampered\n"), 0o755))
	err := verify(sigs["check"])
	require.Error(t, err)
	var e *cupcakeerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, cupcakeerr.TrustScriptModified, e.SubKind)
}

func TestVerifyActionMissingEntryRefused(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Init(nil, nil))

	verify := s.VerifyAction()
	err := verify(actions.Spec{RuleID: "RM-001", Command: []string{"echo", "blocked"}})
	require.Error(t, err)
	var e *cupcakeerr.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, cupcakeerr.TrustScriptNotFound, e.SubKind)
}

func TestDisableSuspendsVerification(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Init(nil, nil))
	require.NoError(t, s.Disable())

	verify := s.VerifyAction()
	err := verify(actions.Spec{RuleID: "ANYTHING", Command: []string{"echo", "ok"}})
	assert.NoError(t, err, "disabled trust must never block execution")
}

func TestResetRemovesManifest(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Init(nil, nil))
	require.NoError(t, s.Reset())

	_, err := os.Stat(s.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestListWithLiveDiffReportsChange(t *testing.T) {
	s := newStore(t)
	sigs := map[string]signals.Spec{"a": {Command: []string{"echo", "one"}}}
	require.NoError(t, s.Init(sigs, nil))

	sigs["a"] = signals.Spec{Command: []string{"echo", "two"}}
	diffs, err := s.List(true, sigs, nil)
	require.NoError(t, err)
	require.Len(t, diffs, 1)
	assert.True(t, diffs[0].Changed)
}
