package breaker

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutePassThroughWhenDisabled(t *testing.T) {
	m := NewManager(Config{Enabled: false})
	got, err := Execute(m, CapabilityRPC, func() (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, "disabled", m.State(CapabilityRPC))
}

func TestExecutePropagatesErrorsAndTripsOnConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RPC.ConsecutiveFailures = 2
	cfg.RPC.MinRequests = 0
	cfg.RPC.FailureRatio = 0
	m := NewManager(cfg)

	boom := errors.New("boom")
	for i := 0; i < 2; i++ {
		_, err := Execute(m, CapabilityRPC, func() (int, error) { return 0, boom })
		require.Error(t, err)
	}

	assert.Equal(t, "open", m.State(CapabilityRPC))

	_, err := Execute(m, CapabilityRPC, func() (int, error) { return 1, nil })
	require.Error(t, err)
}

func TestExecuteUnconfiguredCapabilityPassesThrough(t *testing.T) {
	m := NewManager(Config{Enabled: true})
	got, err := Execute(m, Capability("unknown"), func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}
