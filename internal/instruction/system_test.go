package instruction

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/envelope"
)

func transferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], discTransfer)
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func newResolved(keys []solana.PublicKey, insts []envelope.Instruction) *envelope.ResolvedTransaction {
	return &envelope.ResolvedTransaction{
		Tx:              &solana.Transaction{},
		AllAccountKeys:  keys,
		AllInstructions: insts,
	}
}

func TestParseSystemInstructionsParsesTransfer(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{sender, receiver, SystemProgramID}

	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(1_000_000)},
	})

	parsed, err := ParseSystemInstructions(r)
	require.NoError(t, err)

	transfers := parsed[SystemTransfer]
	require.Len(t, transfers, 1)
	assert.Equal(t, uint64(1_000_000), transfers[0].Lamports)
	assert.True(t, transfers[0].Sender.Equals(sender))
	assert.True(t, transfers[0].Receiver.Equals(receiver))
}

func TestParseSystemInstructionsIgnoresOtherPrograms(t *testing.T) {
	other := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{other}

	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 0, Accounts: []uint16{}, Data: transferData(1)},
	})

	parsed, err := ParseSystemInstructions(r)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseSystemInstructionsIsIdempotentViaCache(t *testing.T) {
	sender := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()
	keys := []solana.PublicKey{sender, receiver, SystemProgramID}

	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: transferData(42)},
	})

	first, err := ParseSystemInstructions(r)
	require.NoError(t, err)
	second, err := ParseSystemInstructions(r)
	require.NoError(t, err)
	assert.Same(t, &first[SystemTransfer][0], &second[SystemTransfer][0])
}

func TestParseSystemInstructionsRejectsShortData(t *testing.T) {
	keys := []solana.PublicKey{SystemProgramID}
	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 0, Accounts: []uint16{}, Data: []byte{1, 2}},
	})
	_, err := ParseSystemInstructions(r)
	assert.Error(t, err)
}

func TestParseSystemInstructionsSkipsStubInstructions(t *testing.T) {
	keys := []solana.PublicKey{SystemProgramID}
	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 0, Accounts: []uint16{}, Data: transferData(5), Stub: true},
	})
	parsed, err := ParseSystemInstructions(r)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestParseSystemInstructionsUpgradeNonceAccountNotParsed(t *testing.T) {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, discUpgradeNonceAccount)
	keys := []solana.PublicKey{SystemProgramID}
	r := newResolved(keys, []envelope.Instruction{
		{ProgramIDIndex: 0, Accounts: []uint16{}, Data: data},
	})
	parsed, err := ParseSystemInstructions(r)
	require.NoError(t, err)
	assert.Empty(t, parsed)
}

func TestSystemKindStringCoversAllKinds(t *testing.T) {
	for k := SystemTransfer; k <= SystemAuthorizeNonce; k++ {
		assert.NotEqual(t, "System Unknown", k.String())
	}
	assert.Equal(t, "System Unknown", SystemKind(999).String())
}
