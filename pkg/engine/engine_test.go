package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cupcake-run/cupcake/pkg/config"
	"github.com/cupcake-run/cupcake/pkg/cupcakeerr"
	"github.com/cupcake-run/cupcake/pkg/trust"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarnessNameMapping(t *testing.T) {
	assert.Equal(t, "claude_code", string(harnessName(config.HarnessClaudeCode)))
	assert.Equal(t, "cursor", string(harnessName(config.HarnessCursor)))
	assert.Equal(t, "opencode", string(harnessName(config.HarnessOpenCode)))
	assert.Equal(t, "factory_ai", string(harnessName(config.HarnessFactoryAI)))
	assert.Equal(t, "", string(harnessName(config.Harness("bogus"))))
}

func TestScanMetadataReadsAnnotatedRegoFiles(t *testing.T) {
	dir := t.TempDir()
	src := `# @cupcake:required_events = ["PreToolUse"]
# @cupcake:required_tools = ["Bash"]
package rm_guard
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rm_guard.rego"), []byte(src), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a policy"), 0o644))

	mds, err := scanMetadata(dir)
	require.NoError(t, err)
	require.Len(t, mds, 1)
	assert.Equal(t, "rm_guard", mds[0].PackageName)
}

func TestScanMetadataMissingDirReturnsEmpty(t *testing.T) {
	mds, err := scanMetadata(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, mds)
}

func TestLoadOptionalSignalsMissingFileReturnsNil(t *testing.T) {
	sigs, err := loadOptionalSignals(filepath.Join(t.TempDir(), "signals.yaml"))
	require.NoError(t, err)
	assert.Nil(t, sigs)
}

func TestLoadOptionalActionsMissingFileReturnsNil(t *testing.T) {
	acts, err := loadOptionalActions(filepath.Join(t.TempDir(), "actions.yaml"))
	require.NoError(t, err)
	assert.Nil(t, acts)
}

func TestEvaluateBeforeInitializationErrors(t *testing.T) {
	e := &Engine{}
	_, err := e.Evaluate(context.Background(), []byte(`{}`))
	assert.Error(t, err)
}

func TestTrustVerifiersOffOrUninitializedReturnNilVerifiers(t *testing.T) {
	store := &trust.Store{Path: filepath.Join(t.TempDir(), trustFile), BinaryPath: "cupcake", ProjectPath: t.TempDir()}

	sv, av, err := trustVerifiers(false, store)
	require.NoError(t, err)
	assert.Nil(t, sv)
	assert.Nil(t, av)

	sv, av, err = trustVerifiers(true, store)
	require.NoError(t, err)
	assert.Nil(t, sv)
	assert.Nil(t, av)
}

func TestTrustVerifiersDisabledModeReturnsNilVerifiers(t *testing.T) {
	dir := t.TempDir()
	store := &trust.Store{Path: filepath.Join(dir, trustFile), BinaryPath: "cupcake", ProjectPath: dir}
	require.NoError(t, store.Init(nil, nil))
	require.NoError(t, store.Disable())

	sv, av, err := trustVerifiers(true, store)
	require.NoError(t, err)
	assert.Nil(t, sv)
	assert.Nil(t, av)
}

func TestTrustVerifiersEnabledModeReturnsVerifiers(t *testing.T) {
	dir := t.TempDir()
	store := &trust.Store{Path: filepath.Join(dir, trustFile), BinaryPath: "cupcake", ProjectPath: dir}
	require.NoError(t, store.Init(nil, nil))

	sv, av, err := trustVerifiers(true, store)
	require.NoError(t, err)
	assert.NotNil(t, sv)
	assert.NotNil(t, av)
}

// TestTrustVerifiersTamperedManifestFailsBuild guards the exact wiring
// gap a tampered manifest must not fall through: building a bundle's
// verifiers must fail outright, never silently wire nil verifiers as
// if trust were off (spec.md §4.11, §7).
func TestTrustVerifiersTamperedManifestFailsBuild(t *testing.T) {
	dir := t.TempDir()
	store := &trust.Store{Path: filepath.Join(dir, trustFile), BinaryPath: "cupcake", ProjectPath: dir}
	require.NoError(t, store.Init(nil, nil))

	raw, err := os.ReadFile(store.Path)
	require.NoError(t, err)
	raw[len(raw)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(store.Path, raw, 0o644))

	sv, av, err := trustVerifiers(true, store)
	require.Error(t, err)
	assert.Nil(t, sv)
	assert.Nil(t, av)

	kind, ok := cupcakeerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, cupcakeerr.KindTrust, kind)
	assert.True(t, cupcakeerr.IsFailClosed(err))
}
