// Package rpcutil provides retry helpers shared by every capability the
// core suspends on: chain RPC, the price oracle, and the account cache.
package rpcutil

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/logger"
)

// RetryConfig defines retry behavior for a suspending operation.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
}

// DefaultRetryConfig returns the pack's sensible defaults: up to three
// retries after the first attempt, with 100ms/200ms/400ms exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}
}

// OracleRetryConfig is the retry policy for price-oracle lookups: up to
// three retries after the first attempt, with a one-second base delay that
// doubles per retry (1s/2s/4s).
func OracleRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: 1 * time.Second}
}

// WithRetry wraps an operation with the default retry policy.
func WithRetry[T any](ctx context.Context, operation func() (T, error)) (T, error) {
	return WithRetryCustom(ctx, DefaultRetryConfig(), operation)
}

// WithRetryCustom wraps an operation with a caller-supplied retry policy.
// Retries only on transient-looking errors; context cancellation always
// aborts immediately.
func WithRetryCustom[T any](ctx context.Context, cfg RetryConfig, operation func() (T, error)) (T, error) {
	var result T
	var err error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		result, err = operation()
		if err == nil {
			return result, nil
		}

		if ctx.Err() != nil {
			return result, err
		}

		if !isRetryableError(err) {
			return result, err
		}

		if attempt == cfg.MaxRetries {
			break
		}

		delay := cfg.BaseDelay * time.Duration(uint(1)<<uint(attempt))
		log := logger.FromContext(ctx)
		log.Warn().
			Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", cfg.MaxRetries+1).
			Dur("retry_delay", delay).
			Msg("rpcutil.operation_retry")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return result, ctx.Err()
		case <-timer.C:
		}
	}

	return result, err
}

// isRetryableError classifies an operation's failure. A wrapped
// *apperrors.Error already carries the core's own transient/permanent
// classification (IsRetryable), so that takes precedence; operations here
// run underneath the apperrors boundary, though, and most hand back a
// raw transport error (resty, the RPC client) instead, so those fall
// through to a string-matching heuristic over the usual transient
// conditions.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return appErr.IsRetryable()
	}

	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") ||
		strings.Contains(msg, "network") {
		return true
	}

	if strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "429") ||
		strings.Contains(msg, "throttle") {
		return true
	}

	if strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "504") ||
		strings.Contains(msg, "internal server error") ||
		strings.Contains(msg, "bad gateway") ||
		strings.Contains(msg, "service unavailable") ||
		strings.Contains(msg, "gateway timeout") {
		return true
	}

	return false
}
