// Package oracle treats the price oracle as spec.md §2 describes it: an
// external `price(mint) → decimal` function with retries, batched where
// the backend allows it. Three concrete providers are offered, one per
// `validation.price_source` value; this package does not pick one from the
// policy.
package oracle

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/breaker"
	"github.com/solrelay/paymaster/internal/rpcutil"
)

// Provider resolves native-currency-per-whole-token prices for a batch of
// mints in one round trip where the backend supports it.
type Provider interface {
	GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error)
}

// WithResilience wraps a Provider with the standard oracle retry policy
// and circuit breaker, matching the layering spec.md §4 notes for every
// other suspension point.
func WithResilience(p Provider, br *breaker.Manager) Provider {
	return &resilientProvider{inner: p, breaker: br}
}

type resilientProvider struct {
	inner   Provider
	breaker *breaker.Manager
}

func (r *resilientProvider) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	result, err := rpcutil.WithRetryCustom(ctx, rpcutil.OracleRetryConfig(), func() (map[string]decimal.Decimal, error) {
		return breaker.Execute(r.breaker, breaker.CapabilityOracle, func() (map[string]decimal.Decimal, error) {
			return r.inner.GetPrices(ctx, mints)
		})
	})
	if err != nil {
		return nil, apperrors.OracleError(err, "price retrieval exhausted retries for %d mint(s)", len(mints))
	}
	return result, nil
}

// GetPrice is a convenience wrapper for single-mint lookups.
func GetPrice(ctx context.Context, p Provider, mint string) (decimal.Decimal, error) {
	prices, err := p.GetPrices(ctx, []string{mint})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[mint]
	if !ok {
		return decimal.Zero, apperrors.OracleError(fmt.Errorf("mint %s absent from oracle response", mint), "no price returned for mint %s", mint)
	}
	return price, nil
}
