package tokenstate

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVariantForRecognizesBothPrograms(t *testing.T) {
	v, err := VariantFor(ClassicProgramID)
	require.NoError(t, err)
	assert.Equal(t, TokenClassic, v)

	v, err = VariantFor(Token2022ProgramID)
	require.NoError(t, err)
	assert.Equal(t, Token2022, v)
}

func TestVariantForRejectsUnknownProgram(t *testing.T) {
	_, err := VariantFor(solana.SystemProgramID)
	require.Error(t, err)
}

func TestDecodeMintClassicReadsDecimalsAndSupply(t *testing.T) {
	data := make([]byte, baseMintLen)
	binary.LittleEndian.PutUint64(data[4:12], 1_000_000)
	data[36] = 6

	mint, err := DecodeMint(data, TokenClassic)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), mint.Supply)
	assert.Equal(t, uint8(6), mint.Decimals)
	assert.Nil(t, mint.TransferFee)
}

func TestDecodeMintTooShortErrors(t *testing.T) {
	_, err := DecodeMint(make([]byte, 10), TokenClassic)
	require.Error(t, err)
}

func TestResolveBlockedSetAndAnyBlocked(t *testing.T) {
	set, err := ResolveBlockedSet([]string{"TransferFeeConfig", "NonTransferable"})
	require.NoError(t, err)

	present := map[ExtensionType]struct{}{ExtensionTransferFeeConfig: {}}
	ext, blocked := AnyBlocked(present, set)
	assert.True(t, blocked)
	assert.Equal(t, ExtensionTransferFeeConfig, ext)

	_, err = ResolveBlockedSet([]string{"NotARealExtension"})
	require.Error(t, err)
}

func TestTransferFeeConfigCalculateFeeSelectsTierByEpoch(t *testing.T) {
	cfg := TransferFeeConfig{
		OlderTier: TransferFeeTier{Epoch: 0, TransferFeeBasisPoints: 100, MaximumFee: 500},
		NewerTier: TransferFeeTier{Epoch: 10, TransferFeeBasisPoints: 200, MaximumFee: 1000},
	}

	fee, err := cfg.CalculateFee(10_000, 5)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), fee) // 1% of 10,000

	fee, err = cfg.CalculateFee(10_000, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(200), fee) // 2% of 10,000

	fee, err = cfg.CalculateFee(1_000_000, 10)
	require.NoError(t, err)
	assert.Equal(t, uint64(1000), fee) // capped at maximum_fee
}
