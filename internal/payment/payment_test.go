package payment

import (
	"context"
	"io"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/cacheutil"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/oracle"
	"github.com/solrelay/paymaster/internal/policy"
	"github.com/solrelay/paymaster/internal/tokenstate"
)

const transferCheckedDisc = 12

func mintBytes(decimals uint8) []byte {
	data := make([]byte, 82)
	data[36] = decimals
	return data
}

func tokenAccountBytes(mint, owner solana.PublicKey, amount uint64) []byte {
	data := make([]byte, 165)
	copy(data[0:32], mint[:])
	copy(data[32:64], owner[:])
	for i := 0; i < 8; i++ {
		data[64+i] = byte(amount >> (8 * i))
	}
	return data
}

func transferCheckedInstData(amount uint64, decimals byte) []byte {
	data := []byte{transferCheckedDisc}
	for i := 0; i < 8; i++ {
		data = append(data, byte(amount>>(8*i)))
	}
	return append(data, decimals)
}

func newVerifyFixture(t *testing.T, relayer, mint, source, destination solana.PublicKey, amount uint64) (*Verifier, *envelope.ResolvedTransaction) {
	t.Helper()

	cache := cacheutil.NewStubCache(map[string]cacheutil.Entry{
		mint.String():        {Data: mintBytes(6)},
		destination.String(): {Data: tokenAccountBytes(mint, relayer, 0)},
		source.String():      {Data: tokenAccountBytes(mint, solana.NewWallet().PublicKey(), amount)},
	})
	prov := oracle.NewMockProvider(map[string]decimal.Decimal{mint.String(): decimal.NewFromInt(1)})

	p := policy.Policy{}
	p.Validation.AllowedSplPaidTokens.All = true

	v := &Verifier{
		Policy: p,
		Cache:  cache,
		Oracle: prov,
		Logger: zerolog.New(io.Discard),
		Fetch: func(ctx context.Context, address solana.PublicKey) ([]byte, error) {
			t.Fatalf("unexpected live fetch for %s", address)
			return nil, nil
		},
	}

	r := &envelope.ResolvedTransaction{
		Tx:             &solana.Transaction{},
		AllAccountKeys: []solana.PublicKey{source, mint, destination, relayer, tokenstate.ClassicProgramID},
		AllInstructions: []envelope.Instruction{
			{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 2, 3}, Data: transferCheckedInstData(amount, 6)},
		},
	}
	return v, r
}

func TestVerifyAcceptsSufficientPayment(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	source := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()

	v, r := newVerifyFixture(t, relayer, mint, source, destination, 1_000_000)

	ok, err := v.Verify(context.Background(), r, 1_000_000_000, relayer.String())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyRejectsInsufficientPayment(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	source := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()

	v, r := newVerifyFixture(t, relayer, mint, source, destination, 1_000_000)

	ok, err := v.Verify(context.Background(), r, 2_000_000_000, relayer.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestVerifyIgnoresPaymentToWrongDestinationOwner(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	notTheRelayer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	source := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()

	v, r := newVerifyFixture(t, relayer, mint, source, destination, 1_000_000)

	ok, err := v.Verify(context.Background(), r, 1, notTheRelayer.String())
	require.NoError(t, err)
	assert.False(t, ok)
}

// TestVerifyRejectsSoleUnsupportedPaidToken covers spec.md §7's
// UnsupportedToken rule: when the only transfer destined for the
// expected payment wallet is in a mint outside the paid-token
// allowlist, Verify must surface that error rather than silently
// reporting insufficient payment.
func TestVerifyRejectsSoleUnsupportedPaidToken(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	source := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()

	v, r := newVerifyFixture(t, relayer, mint, source, destination, 1_000_000)
	v.Policy.Validation.AllowedSplPaidTokens.All = false

	ok, err := v.Verify(context.Background(), r, 1, relayer.String())
	require.Error(t, err)
	assert.False(t, ok)
	appErr, isAppErr := apperrors.As(err)
	require.True(t, isAppErr)
	assert.Equal(t, apperrors.KindUnsupportedToken, appErr.Kind)
}

// TestVerifySkipsUnsupportedPaidTokenAmongSeveral covers the other half
// of the same rule: with more than one candidate transfer, an
// unsupported mint among them is logged and skipped rather than
// rejected outright, since another payment transfer may still cover
// the fee on its own.
func TestVerifySkipsUnsupportedPaidTokenAmongSeveral(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	destination := solana.NewWallet().PublicKey()
	unsupportedMint := solana.NewWallet().PublicKey()
	unsupportedSource := solana.NewWallet().PublicKey()
	supportedMint := solana.NewWallet().PublicKey()
	supportedSource := solana.NewWallet().PublicKey()
	program := tokenstate.ClassicProgramID

	cache := cacheutil.NewStubCache(map[string]cacheutil.Entry{
		unsupportedMint.String():   {Data: mintBytes(6)},
		supportedMint.String():     {Data: mintBytes(6)},
		destination.String():      {Data: tokenAccountBytes(unsupportedMint, relayer, 0)},
		unsupportedSource.String(): {Data: tokenAccountBytes(unsupportedMint, solana.NewWallet().PublicKey(), 1_000_000)},
		supportedSource.String():   {Data: tokenAccountBytes(supportedMint, solana.NewWallet().PublicKey(), 1_000_000)},
	})
	prov := oracle.NewMockProvider(map[string]decimal.Decimal{
		unsupportedMint.String(): decimal.NewFromInt(1),
		supportedMint.String():   decimal.NewFromInt(1),
	})

	p := policy.Policy{}
	p.Validation.AllowedSplPaidTokens.All = false
	p.Validation.AllowedSplPaidTokens.Tokens = []string{supportedMint.String()}

	v := &Verifier{
		Policy: p,
		Cache:  cache,
		Oracle: prov,
		Logger: zerolog.New(io.Discard),
		Fetch: func(ctx context.Context, address solana.PublicKey) ([]byte, error) {
			t.Fatalf("unexpected live fetch for %s", address)
			return nil, nil
		},
	}

	r := &envelope.ResolvedTransaction{
		Tx: &solana.Transaction{},
		AllAccountKeys: []solana.PublicKey{
			unsupportedSource, unsupportedMint, destination, relayer, program,
			supportedSource, supportedMint,
		},
		AllInstructions: []envelope.Instruction{
			{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 2, 3}, Data: transferCheckedInstData(1_000_000, 6)},
			{ProgramIDIndex: 4, Accounts: []uint16{5, 6, 2, 3}, Data: transferCheckedInstData(1_000_000, 6)},
		},
	}

	ok, err := v.Verify(context.Background(), r, 1_000_000_000, relayer.String())
	require.NoError(t, err)
	assert.True(t, ok)
}
