package instruction

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/tokenstate"
)

func leBytes(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func transferCheckedData(amount uint64, decimals byte) []byte {
	data := append([]byte{tdiscTransferChecked}, leBytes(amount)...)
	return append(data, decimals)
}

func TestParseTokenInstructionsParsesTransferChecked(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{source, mint, dest, owner, tokenstate.ClassicProgramID}

	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 2, 3}, Data: transferCheckedData(5_000, 6)},
	})

	parsed, err := ParseTokenInstructions(r)
	require.NoError(t, err)

	transfers := parsed[TokenTransfer]
	require.Len(t, transfers, 1)
	tr := transfers[0]
	assert.Equal(t, uint64(5_000), tr.Amount)
	assert.True(t, tr.Source.Equals(source))
	assert.True(t, tr.Destination.Equals(dest))
	assert.True(t, tr.Mint.Equals(mint))
	assert.True(t, tr.HasMint)
	assert.False(t, tr.Is2022)
}

func TestParseTokenInstructionsTaggedIs2022(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	mint := solana.NewWallet().PublicKey()
	dest := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{source, mint, dest, owner, tokenstate.Token2022ProgramID}

	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 4, Accounts: []uint16{0, 1, 2, 3}, Data: transferCheckedData(1, 0)},
	})

	parsed, err := ParseTokenInstructions(r)
	require.NoError(t, err)
	require.Len(t, parsed[TokenTransfer], 1)
	assert.True(t, parsed[TokenTransfer][0].Is2022)
}

func TestParseTokenInstructionsIgnoresUnrecognizedProgram(t *testing.T) {
	other := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{other}
	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 0, Accounts: []uint16{}, Data: transferCheckedData(1, 0)},
	})
	parsed, err := ParseTokenInstructions(r)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseTokenInstructionsRevoke(t *testing.T) {
	source := solana.NewWallet().PublicKey()
	owner := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{source, owner, tokenstate.ClassicProgramID}

	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: []byte{tdiscRevoke}},
	})

	parsed, err := ParseTokenInstructions(r)
	require.NoError(t, err)
	require.Len(t, parsed[TokenRevoke], 1)
	assert.True(t, parsed[TokenRevoke][0].Owner.Equals(owner))
	assert.True(t, parsed[TokenRevoke][0].Authority.Equals(owner))
}

func TestParseTokenInstructionsRejectsShortData(t *testing.T) {
	keys := []solana.PublicKey{tokenstate.ClassicProgramID}
	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 0, Accounts: []uint16{}, Data: []byte{}},
	})
	_, err := ParseTokenInstructions(r)
	assert.Error(t, err)
}

func TestTokenKindStringCoversAllKinds(t *testing.T) {
	for k := TokenTransfer; k <= TokenThawAccount; k++ {
		assert.NotEqual(t, "Token Unknown", k.String())
	}
	assert.Equal(t, "Token Unknown", TokenKind(999).String())
}
