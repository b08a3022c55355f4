// Package usagelimit implements the optional shared distributed counter
// of spec.md §5 "Shared resources": a per-wallet transaction counter that
// engine.Service increments before handing a transaction to the signer
// orchestrator, with a configurable fallback when the backend is unavailable.
package usagelimit

import (
	"context"
	"sync"

	"github.com/solrelay/paymaster/internal/policy"
)

// Limiter is the capability interface engine.Service depends on.
type Limiter interface {
	// Increment records one more signed transaction for wallet and
	// reports whether the wallet remains under its limit.
	Increment(ctx context.Context, wallet string) (allowed bool, err error)
}

// Disabled is a no-op Limiter used when kora.usage_limit.enabled is false.
type Disabled struct{}

func (Disabled) Increment(ctx context.Context, wallet string) (bool, error) { return true, nil }

// InMemory is a process-local counter, suitable for a single-instance
// deployment or tests; a production deployment would back this with the
// shared cache named by kora.usage_limit.cache_url instead.
type InMemory struct {
	cfg policy.UsageLimitConfig

	mu     sync.Mutex
	counts map[string]uint64

	// backendErr, when set, simulates the configured backend being
	// unreachable so FallbackIfUnavailable can be exercised by tests.
	backendErr error
}

// NewInMemory builds an InMemory limiter from policy configuration.
func NewInMemory(cfg policy.UsageLimitConfig) *InMemory {
	return &InMemory{cfg: cfg, counts: make(map[string]uint64)}
}

// SetBackendError forces subsequent Increment calls to hit the
// fallback-if-unavailable path, for tests that exercise backend outages.
func (l *InMemory) SetBackendError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backendErr = err
}

func (l *InMemory) Increment(ctx context.Context, wallet string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.backendErr != nil {
		return l.cfg.FallbackIfUnavailable, nil
	}

	l.counts[wallet]++
	if !l.cfg.Enabled {
		return true, nil
	}
	return l.counts[wallet] <= l.cfg.MaxTransactions, nil
}
