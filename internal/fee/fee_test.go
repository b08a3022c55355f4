package fee

import (
	"context"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/cacheutil"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/oracle"
	"github.com/solrelay/paymaster/internal/policy"
)

func mintAccountBytes(decimals uint8, supply uint64) []byte {
	data := make([]byte, 82)
	for i := 0; i < 8; i++ {
		data[4+i] = byte(supply >> (8 * i))
	}
	data[36] = decimals
	return data
}

func newTestCalculator(t *testing.T, mint string, decimals uint8, price decimal.Decimal) *Calculator {
	t.Helper()
	cache := cacheutil.NewStubCache(map[string]cacheutil.Entry{
		mint: {Data: mintAccountBytes(decimals, 1_000_000)},
	})
	prov := oracle.NewMockProvider(map[string]decimal.Decimal{mint: price})
	return &Calculator{
		Cache:  cache,
		Oracle: prov,
		Fetch: func(ctx context.Context, address solana.PublicKey) ([]byte, error) {
			t.Fatalf("unexpected live fetch for %s", address)
			return nil, nil
		},
	}
}

func TestLamportsToTokenUnitsConvertsAtGivenPrice(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	// price: 1 SOL per whole token (arbitrary price=1, decimals=6), so 1 SOL = 1_000_000 base units
	c := newTestCalculator(t, mint, 6, decimal.NewFromInt(1))

	units, err := c.LamportsToTokenUnits(context.Background(), 1_000_000_000, mint) // 1 SOL
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), units) // 1 whole token at price 1, decimals 6
}

func TestLamportsToTokenUnitsRoundsUp(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	c := newTestCalculator(t, mint, 0, decimal.NewFromInt(1))

	// 1 lamport / 1e9 native-per-whole rounds up to 1 unit instead of truncating to 0.
	units, err := c.LamportsToTokenUnits(context.Background(), 1, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), units)
}

func TestLamportsToTokenUnitsRejectsNonPositivePrice(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	c := newTestCalculator(t, mint, 6, decimal.Zero)

	_, err := c.LamportsToTokenUnits(context.Background(), 1_000, mint)
	assert.Error(t, err)
}

func TestLamportsToTokenUnitsZeroLamportsIsZeroUnits(t *testing.T) {
	mint := solana.NewWallet().PublicKey().String()
	c := newTestCalculator(t, mint, 6, decimal.NewFromInt(2))

	units, err := c.LamportsToTokenUnits(context.Background(), 0, mint)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), units)
}

func TestCalculateFreeModelReturnsZeroBreakdown(t *testing.T) {
	c := &Calculator{}
	c.Policy.Validation.Price.Kind = policy.PriceModelFree

	r := &envelope.ResolvedTransaction{Tx: &solana.Transaction{}}
	b, err := c.Calculate(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, Breakdown{}, b)
}

func TestCheckedSumOverflows(t *testing.T) {
	_, ok := checkedSum(^uint64(0), 1)
	assert.False(t, ok)
}

func TestSaturatingSubFloorsAtZero(t *testing.T) {
	assert.Equal(t, uint64(0), saturatingSub(5, 10))
	assert.Equal(t, uint64(5), saturatingSub(10, 5))
}
