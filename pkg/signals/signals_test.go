package signals_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cupcake-run/cupcake/pkg/signals"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBrokerParsesJSONOutput(t *testing.T) {
	defs := map[string]signals.Spec{
		"test_status": {
			Name:    "test_status",
			Command: []string{"/bin/sh", "-c", `echo '{"passing": false}'`},
		},
	}
	results := signals.Broker(context.Background(), []string{"test_status"}, defs, nil, nil)
	require.Contains(t, results, "test_status")
	m, ok := results["test_status"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, m["passing"])
}

func TestBrokerFallsBackToString(t *testing.T) {
	defs := map[string]signals.Spec{
		"echo_signal": {Name: "echo_signal", Command: []string{"/bin/echo", "plain text"}},
	}
	results := signals.Broker(context.Background(), []string{"echo_signal"}, defs, nil, nil)
	assert.Equal(t, "plain text", results["echo_signal"])
}

func TestBrokerOmitsFailedSignal(t *testing.T) {
	defs := map[string]signals.Spec{
		"boom": {Name: "boom", Command: []string{"/bin/false"}},
	}
	results := signals.Broker(context.Background(), []string{"boom"}, defs, nil, nil)
	assert.NotContains(t, results, "boom")
}

func TestBrokerOmitsMissingDefinition(t *testing.T) {
	results := signals.Broker(context.Background(), []string{"undefined"}, map[string]signals.Spec{}, nil, nil)
	assert.Empty(t, results)
}

func TestBrokerOmitsOnTimeout(t *testing.T) {
	defs := map[string]signals.Spec{
		"slow": {Name: "slow", Command: []string{"/bin/sleep", "2"}, TimeoutSeconds: 1},
	}
	start := time.Now()
	results := signals.Broker(context.Background(), []string{"slow"}, defs, nil, nil)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.NotContains(t, results, "slow")
}

func TestBrokerTrustGating(t *testing.T) {
	defs := map[string]signals.Spec{
		"untrusted": {Name: "untrusted", Command: []string{"/bin/echo", "hi"}},
	}
	verify := func(spec signals.Spec) error { return errors.New("not trusted") }
	results := signals.Broker(context.Background(), []string{"untrusted"}, defs, verify, nil)
	assert.NotContains(t, results, "untrusted")
}
