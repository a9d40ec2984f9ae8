package routing_test

import (
	"testing"

	"github.com/cupcake-run/cupcake/pkg/metadata"
	"github.com/cupcake-run/cupcake/pkg/routing"
	"github.com/stretchr/testify/assert"
)

func sample() []metadata.Metadata {
	return []metadata.Metadata{
		{
			PackageName:     "cupcake.policies.rm_guard",
			RequiredEvents:  []string{"PreToolUse"},
			RequiredTools:   []string{"Bash"},
			RequiredSignals: []string{"test_status"},
		},
		{
			PackageName:    "cupcake.policies.prompt_guard",
			RequiredEvents: []string{"UserPromptSubmit"},
		},
	}
}

func TestLookupToolScoped(t *testing.T) {
	idx := routing.Build(sample())

	signals, applicable := idx.Lookup("PreToolUse", "Bash")
	assert.True(t, applicable)
	assert.Equal(t, []string{"test_status"}, signals)

	_, applicable = idx.Lookup("PreToolUse", "Write")
	assert.False(t, applicable)
}

func TestLookupWildcard(t *testing.T) {
	idx := routing.Build(sample())
	_, applicable := idx.Lookup("UserPromptSubmit", "")
	assert.True(t, applicable)
}

func TestLookupUnknownEventKind(t *testing.T) {
	idx := routing.Build(sample())
	signals, applicable := idx.Lookup("SessionEnd", "")
	assert.False(t, applicable)
	assert.Empty(t, signals)
}

func TestRoutingCompletenessProperty(t *testing.T) {
	md := sample()
	idx := routing.Build(md)
	for _, m := range md {
		for _, ek := range m.RequiredEvents {
			kinds := idx.EventKinds()
			assert.Contains(t, kinds, ek)
		}
	}
}
