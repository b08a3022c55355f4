package oracle

import (
	"context"

	"github.com/shopspring/decimal"
)

// MockProvider returns a fixed price map, used for the Mock price source
// and for tests that don't want a network dependency.
type MockProvider struct {
	Prices map[string]decimal.Decimal
}

// NewMockProvider builds a MockProvider from a mint-to-price map.
func NewMockProvider(prices map[string]decimal.Decimal) *MockProvider {
	return &MockProvider{Prices: prices}
}

// GetPrices returns whatever of the requested mints are present in the
// fixed map; missing mints are simply omitted, matching a real
// provider's behavior for an unknown asset.
func (m *MockProvider) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(mints))
	for _, mint := range mints {
		if price, ok := m.Prices[mint]; ok {
			out[mint] = price
		}
	}
	return out, nil
}
