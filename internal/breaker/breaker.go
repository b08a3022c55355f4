// Package breaker provides per-capability circuit breaking for the core's
// suspension points (chain RPC, price oracle, account cache), isolating a
// failing external dependency from the others rather than letting one
// outage cascade into every request.
package breaker

import (
	"time"

	"github.com/sony/gobreaker"
)

// Capability identifies an external dependency the core suspends on.
type Capability string

const (
	CapabilityRPC    Capability = "chain_rpc"
	CapabilityOracle Capability = "price_oracle"
	CapabilityCache  Capability = "account_cache"
)

// Settings configures a single breaker.
type Settings struct {
	MaxRequests         uint32
	Interval            time.Duration
	Timeout             time.Duration
	ConsecutiveFailures uint32
	FailureRatio        float64
	MinRequests         uint32
}

// Config configures a breaker per capability.
type Config struct {
	Enabled bool
	RPC     Settings
	Oracle  Settings
	Cache   Settings
}

// DefaultConfig mirrors the pack's sensible defaults: five consecutive
// failures, or a 50% failure rate over at least ten requests, trips the
// breaker for thirty seconds.
func DefaultConfig() Config {
	defaults := Settings{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 5,
		FailureRatio:        0.5,
		MinRequests:         10,
	}
	return Config{
		Enabled: true,
		RPC:     defaults,
		Oracle:  defaults,
		Cache:   defaults,
	}
}

// Manager owns one gobreaker.CircuitBreaker per capability, providing
// bulkhead isolation between the core's external dependencies.
type Manager struct {
	breakers map[Capability]*gobreaker.CircuitBreaker
	enabled  bool
}

// NewManager builds a Manager from Config. If cfg.Enabled is false every
// capability passes through uninstrumented.
func NewManager(cfg Config) *Manager {
	m := &Manager{breakers: make(map[Capability]*gobreaker.CircuitBreaker), enabled: cfg.Enabled}
	if !cfg.Enabled {
		return m
	}
	m.breakers[CapabilityRPC] = gobreaker.NewCircuitBreaker(toSettings(string(CapabilityRPC), cfg.RPC))
	m.breakers[CapabilityOracle] = gobreaker.NewCircuitBreaker(toSettings(string(CapabilityOracle), cfg.Oracle))
	m.breakers[CapabilityCache] = gobreaker.NewCircuitBreaker(toSettings(string(CapabilityCache), cfg.Cache))
	return m
}

// Execute runs fn through the named capability's breaker, or directly if
// breaking is disabled or the capability is unregistered.
func Execute[T any](m *Manager, cap Capability, fn func() (T, error)) (T, error) {
	if m == nil || !m.enabled {
		return fn()
	}
	b, ok := m.breakers[cap]
	if !ok {
		return fn()
	}
	result, err := b.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		var zero T
		return zero, err
	}
	return result.(T), nil
}

// State reports the current breaker state for a capability, or "disabled".
func (m *Manager) State(cap Capability) string {
	if m == nil || !m.enabled {
		return "disabled"
	}
	b, ok := m.breakers[cap]
	if !ok {
		return "not_configured"
	}
	return b.State().String()
}

func toSettings(name string, cfg Settings) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if cfg.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= cfg.ConsecutiveFailures {
				return true
			}
			if cfg.FailureRatio > 0 && cfg.MinRequests > 0 && counts.Requests >= cfg.MinRequests {
				rate := float64(counts.TotalFailures) / float64(counts.Requests)
				if rate >= cfg.FailureRatio {
					return true
				}
			}
			return false
		},
	}
}
