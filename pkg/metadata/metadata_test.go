package metadata_test

import (
	"testing"

	"github.com/cupcake-run/cupcake/pkg/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleSource = `# @cupcake:required_events=["PreToolUse"]
# @cupcake:required_tools=["Bash"]
# @cupcake:required_signals=["test_status"]
package cupcake.policies.rm_guard

deny[msg] { ... }
`

func TestParseExtractsAnnotations(t *testing.T) {
	md, err := metadata.Parse(sampleSource)
	require.NoError(t, err)

	assert.Equal(t, "cupcake.policies.rm_guard", md.PackageName)
	assert.Equal(t, []string{"PreToolUse"}, md.RequiredEvents)
	assert.Equal(t, []string{"Bash"}, md.RequiredTools)
	assert.Equal(t, []string{"test_status"}, md.RequiredSignals)
}

func TestParseRejectsMissingRequiredEvents(t *testing.T) {
	_, err := metadata.Parse("package cupcake.policies.no_events\n")
	require.Error(t, err)
}

func TestParseRejectsMissingPackage(t *testing.T) {
	_, err := metadata.Parse("# @cupcake:required_events=[\"PreToolUse\"]\n")
	require.Error(t, err)
}

func TestValidateUniqueRejectsDuplicates(t *testing.T) {
	a := metadata.Metadata{PackageName: "cupcake.policies.a"}
	b := metadata.Metadata{PackageName: "cupcake.policies.a"}
	err := metadata.ValidateUnique([]metadata.Metadata{a, b})
	require.Error(t, err)
}
