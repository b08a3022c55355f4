package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePolicy = `
validation:
  max_allowed_lamports: 1000000000
  max_signatures: 10
  allowed_programs:
    - "11111111111111111111111111111111"
    - "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
  allowed_tokens:
    - "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
  allowed_spl_paid_tokens: All
  disallowed_accounts: []
  price_source: Mock
  fee_payer_policy:
    system:
      allow_transfer: true
      nonce:
        allow_advance: true
    spl_token:
      allow_transfer: true
  price:
    Fixed:
      amount: 5000
      token: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
      strict: true
  token_2022:
    blocked_mint_extensions: ["TransferFeeConfig"]
kora:
  rate_limit: 100
  payment_address: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
  auth:
    max_timestamp_age: 30s
  cache:
    enabled: true
    default_ttl: 5m
`

func TestLoadBytesDecodesFullShape(t *testing.T) {
	p, err := LoadBytes([]byte(samplePolicy))
	require.NoError(t, err)

	assert.Equal(t, uint64(1000000000), p.Validation.MaxAllowedLamports)
	assert.True(t, p.Validation.AllowedSplPaidTokens.All)
	assert.True(t, p.Validation.AllowedSplPaidTokens.HasToken("anything"))
	assert.Equal(t, PriceSourceMock, p.Validation.PriceSource)
	assert.True(t, p.Validation.FeePayerPolicy.System.AllowTransfer)
	assert.True(t, p.Validation.FeePayerPolicy.System.Nonce.AllowAdvance)
	assert.False(t, p.Validation.FeePayerPolicy.System.AllowAssign)

	assert.Equal(t, PriceModelFixed, p.Validation.Price.Kind)
	assert.Equal(t, uint64(5000), p.Validation.Price.FixedAmount)
	assert.True(t, p.Validation.Price.Strict)
	assert.True(t, p.Validation.IsPaymentRequired())

	assert.Equal(t, 30*time.Second, p.Relayer.Auth.MaxTimestampAge.Duration)
	assert.Equal(t, 5*time.Minute, p.Relayer.Cache.DefaultTTL.Duration)
	assert.Equal(t, "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", p.Relayer.PaymentAddress)
}

func TestPaymentDestinationOwnerFallsBackToRelayerPubkey(t *testing.T) {
	p := Policy{}
	assert.Equal(t, "relayer-pubkey", p.PaymentDestinationOwner("relayer-pubkey"))

	p.Relayer.PaymentAddress = "explicit-address"
	assert.Equal(t, "explicit-address", p.PaymentDestinationOwner("relayer-pubkey"))
}

func TestLoadBytesRejectsMalformedPubkey(t *testing.T) {
	bad := `
validation:
  max_signatures: 1
  price_source: Mock
  allowed_programs:
    - "not-a-valid-pubkey"
  price: Free
`
	_, err := LoadBytes([]byte(bad))
	require.Error(t, err)
}

func TestLoadBytesRejectsZeroMaxSignatures(t *testing.T) {
	bad := `
validation:
  max_signatures: 0
  price_source: Mock
  price: Free
`
	_, err := LoadBytes([]byte(bad))
	require.Error(t, err)
}

func TestFreePriceModelScalar(t *testing.T) {
	doc := `
validation:
  max_signatures: 5
  price_source: Jupiter
  price: Free
`
	p, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	assert.Equal(t, PriceModelFree, p.Validation.Price.Kind)
	assert.False(t, p.Validation.IsPaymentRequired())
}

func TestAllowedSplPaidTokensExplicitList(t *testing.T) {
	doc := `
validation:
  max_signatures: 5
  price_source: Jupiter
  allowed_spl_paid_tokens:
    - "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
  price: Free
`
	p, err := LoadBytes([]byte(doc))
	require.NoError(t, err)
	assert.False(t, p.Validation.AllowedSplPaidTokens.All)
	assert.True(t, p.Validation.AllowedSplPaidTokens.HasToken("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"))
	assert.False(t, p.Validation.AllowedSplPaidTokens.HasToken("other"))
}
