package usagelimit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/policy"
)

func TestDisabledAlwaysAllows(t *testing.T) {
	l := Disabled{}
	for i := 0; i < 5; i++ {
		allowed, err := l.Increment(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestInMemoryAllowsUnderLimitAndBlocksOverIt(t *testing.T) {
	l := NewInMemory(policy.UsageLimitConfig{Enabled: true, MaxTransactions: 2})

	allowed, err := l.Increment(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Increment(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Increment(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestInMemoryCountsPerWalletIndependently(t *testing.T) {
	l := NewInMemory(policy.UsageLimitConfig{Enabled: true, MaxTransactions: 1})

	allowed, err := l.Increment(context.Background(), "wallet-a")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = l.Increment(context.Background(), "wallet-b")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInMemoryDisabledNeverBlocks(t *testing.T) {
	l := NewInMemory(policy.UsageLimitConfig{Enabled: false, MaxTransactions: 1})
	for i := 0; i < 3; i++ {
		allowed, err := l.Increment(context.Background(), "wallet-1")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestInMemoryFallbackIfUnavailable(t *testing.T) {
	l := NewInMemory(policy.UsageLimitConfig{Enabled: true, MaxTransactions: 1, FallbackIfUnavailable: true})
	l.SetBackendError(errors.New("backend down"))

	allowed, err := l.Increment(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestInMemoryFallbackIfUnavailableFailsClosed(t *testing.T) {
	l := NewInMemory(policy.UsageLimitConfig{Enabled: true, MaxTransactions: 1, FallbackIfUnavailable: false})
	l.SetBackendError(errors.New("backend down"))

	allowed, err := l.Increment(context.Background(), "wallet-1")
	require.NoError(t, err)
	assert.False(t, allowed)
}
