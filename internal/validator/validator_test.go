package validator

import (
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/policy"
)

func systemTransferData(lamports uint64) []byte {
	data := make([]byte, 12)
	binary.LittleEndian.PutUint32(data[0:4], 2) // system transfer discriminant
	binary.LittleEndian.PutUint64(data[4:12], lamports)
	return data
}

func resolvedWithOneTransfer(sender, receiver, systemProgram solana.PublicKey, sigCount int) *envelope.ResolvedTransaction {
	return &envelope.ResolvedTransaction{
		Tx:             &solana.Transaction{Signatures: make([]solana.Signature, sigCount)},
		AllAccountKeys: []solana.PublicKey{sender, receiver, systemProgram},
		AllInstructions: []envelope.Instruction{
			{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: systemTransferData(1_000)},
		},
	}
}

func basePolicy(relayer, systemProgram solana.PublicKey) policy.Policy {
	p := policy.Policy{}
	p.Validation.MaxSignatures = 5
	p.Validation.MaxAllowedLamports = 1_000_000
	p.Validation.AllowedPrograms = []string{systemProgram.String()}
	return p
}

func TestValidatePassesForAllowedTransfer(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	p := basePolicy(relayer, solana.SystemProgramID)
	p.Validation.FeePayerPolicy.System.AllowTransfer = false // relayer isn't the sender, should still pass

	r := resolvedWithOneTransfer(receiver, relayer, solana.SystemProgramID, 1)
	v := New(p, relayer)

	err := v.Validate(r, 0)
	require.NoError(t, err)
}

func TestValidateRejectsDisallowedProgram(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()

	p := policy.Policy{}
	p.Validation.MaxSignatures = 5
	p.Validation.AllowedPrograms = []string{other.String()}

	r := resolvedWithOneTransfer(relayer, other, solana.SystemProgramID, 1)
	v := New(p, relayer)

	err := v.Validate(r, 0)
	assert.Error(t, err)
}

func TestValidateRejectsOutflowOverCeiling(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	p := basePolicy(relayer, solana.SystemProgramID)
	p.Validation.MaxAllowedLamports = 100

	r := resolvedWithOneTransfer(relayer, receiver, solana.SystemProgramID, 1)
	v := New(p, relayer)

	err := v.Validate(r, 1_000)
	assert.Error(t, err)
}

func TestValidateRejectsTooManySignatures(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	p := basePolicy(relayer, solana.SystemProgramID)
	p.Validation.MaxSignatures = 1

	r := resolvedWithOneTransfer(relayer, receiver, solana.SystemProgramID, 2)
	v := New(p, relayer)

	err := v.Validate(r, 0)
	assert.Error(t, err)
}

func TestValidateRejectsDenylistedAccount(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	p := basePolicy(relayer, solana.SystemProgramID)
	p.Validation.DisallowedAccounts = []string{receiver.String()}

	r := resolvedWithOneTransfer(relayer, receiver, solana.SystemProgramID, 1)
	v := New(p, relayer)

	err := v.Validate(r, 0)
	assert.Error(t, err)
}

func TestValidateRejectsFeePayerAsDisallowedTransferSender(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	receiver := solana.NewWallet().PublicKey()

	p := basePolicy(relayer, solana.SystemProgramID)
	p.Validation.FeePayerPolicy.System.AllowTransfer = false

	r := resolvedWithOneTransfer(relayer, receiver, solana.SystemProgramID, 1)
	v := New(p, relayer)

	err := v.Validate(r, 0)
	assert.Error(t, err)
}

func TestValidateRejectsEmptyTransaction(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	p := basePolicy(relayer, solana.SystemProgramID)
	r := &envelope.ResolvedTransaction{Tx: &solana.Transaction{Signatures: make([]solana.Signature, 1)}}
	v := New(p, relayer)

	err := v.Validate(r, 0)
	assert.Error(t, err)
}

func TestValidateLamportFee(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	p := policy.Policy{}
	p.Validation.MaxAllowedLamports = 100
	v := New(p, relayer)

	require.NoError(t, v.ValidateLamportFee(100))
	assert.Error(t, v.ValidateLamportFee(101))
}

func TestValidateStrictPricing(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	p := policy.Policy{}
	p.Validation.Price.Strict = true
	p.Validation.Price.FixedAmount = 1_000
	v := New(p, relayer)

	require.NoError(t, v.ValidateStrictPricing(1_000))
	assert.Error(t, v.ValidateStrictPricing(1_001))

	p.Validation.Price.Strict = false
	v = New(p, relayer)
	assert.NoError(t, v.ValidateStrictPricing(999_999))
}
