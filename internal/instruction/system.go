// Package instruction implements the instruction parser (4.D): one
// linear pass over a resolved transaction's instructions, dispatched by
// program id into typed system and SPL-token variants with principals
// extracted strictly by positional index, per spec.md §6.
package instruction

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/envelope"
)

// SystemKind discriminates the parsed-system sum type of spec.md §3.
// Seed variants fold into their non-seed counterpart; UpgradeNonceAccount
// has no authority to police and is intentionally not parsed.
type SystemKind int

const (
	SystemTransfer SystemKind = iota
	SystemCreateAccount
	SystemWithdrawNonce
	SystemAssign
	SystemAllocate
	SystemInitializeNonce
	SystemAdvanceNonce
	SystemAuthorizeNonce
)

// String names a kind for validator error messages ("fee payer cannot be
// used for <Kind>").
func (k SystemKind) String() string {
	switch k {
	case SystemTransfer:
		return "System Transfer"
	case SystemCreateAccount:
		return "System CreateAccount"
	case SystemWithdrawNonce:
		return "System WithdrawNonce"
	case SystemAssign:
		return "System Assign"
	case SystemAllocate:
		return "System Allocate"
	case SystemInitializeNonce:
		return "System InitializeNonce"
	case SystemAdvanceNonce:
		return "System AdvanceNonce"
	case SystemAuthorizeNonce:
		return "System AuthorizeNonce"
	default:
		return "System Unknown"
	}
}

// System program instruction discriminants (little-endian u32 at data[0:4]).
const (
	discCreateAccount         uint32 = 0
	discAssign                uint32 = 1
	discTransfer              uint32 = 2
	discCreateAccountWithSeed uint32 = 3
	discAdvanceNonceAccount   uint32 = 4
	discWithdrawNonceAccount  uint32 = 5
	discInitializeNonceAccount uint32 = 6
	discAuthorizeNonceAccount uint32 = 7
	discAllocate              uint32 = 8
	discAllocateWithSeed      uint32 = 9
	discAssignWithSeed        uint32 = 10
	discTransferWithSeed      uint32 = 11
	discUpgradeNonceAccount   uint32 = 12
)

// SystemInstruction is the parsed-system sum type. The field holding the
// principal the fee-payer-usage policy (spec.md §6) polices depends on the
// Kind: Sender for Transfer, Payer for CreateAccount, Account for Allocate,
// and Authority for Assign and the nonce kinds; the validator switches on
// Kind to pick it.
type SystemInstruction struct {
	Kind       SystemKind
	Lamports   uint64
	Sender     solana.PublicKey
	Receiver   solana.PublicKey
	Payer      solana.PublicKey
	NonceAccount solana.PublicKey
	Recipient  solana.PublicKey
	Authority  solana.PublicKey
	Account    solana.PublicKey
}

// SystemProgramID is the native system program.
var SystemProgramID = solana.SystemProgramID

// ParseSystemInstructions returns the resolved transaction's parsed
// system instructions, grouped by kind, populating the lazy cache on
// first call (idempotent: a second call returns the byte-identical map).
func ParseSystemInstructions(r *envelope.ResolvedTransaction) (map[SystemKind][]SystemInstruction, error) {
	if cached := r.SystemParseCache(); cached != nil {
		return cached.(map[SystemKind][]SystemInstruction), nil
	}

	out := make(map[SystemKind][]SystemInstruction)
	for _, inst := range r.AllInstructions {
		if inst.Stub {
			continue
		}
		programID := r.AllAccountKeys[inst.ProgramIDIndex]
		if !programID.Equals(SystemProgramID) {
			continue
		}
		parsed, ok, err := parseSystemInstruction(r.AllAccountKeys, inst)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[parsed.Kind] = append(out[parsed.Kind], parsed)
	}

	r.SetSystemParseCache(out)
	return out, nil
}

func parseSystemInstruction(keys []solana.PublicKey, inst envelope.Instruction) (SystemInstruction, bool, error) {
	if len(inst.Data) < 4 {
		return SystemInstruction{}, false, apperrors.InvalidTransaction("system instruction data too short to hold a discriminant")
	}
	disc := binary.LittleEndian.Uint32(inst.Data[0:4])

	acc := func(idx int) (solana.PublicKey, error) {
		if idx >= len(inst.Accounts) {
			return solana.PublicKey{}, apperrors.InvalidTransaction("system instruction (discriminant %d) expects an account at index %d", disc, idx)
		}
		keyIdx := inst.Accounts[idx]
		if int(keyIdx) >= len(keys) {
			return solana.PublicKey{}, apperrors.InvalidTransaction("system instruction account index %d out of bounds", keyIdx)
		}
		return keys[keyIdx], nil
	}

	switch disc {
	case discTransfer:
		if len(inst.Data) < 12 {
			return SystemInstruction{}, false, apperrors.InvalidTransaction("System Transfer data too short")
		}
		sender, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		receiver, err := acc(1)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		lamports := binary.LittleEndian.Uint64(inst.Data[4:12])
		return SystemInstruction{Kind: SystemTransfer, Lamports: lamports, Sender: sender, Receiver: receiver}, true, nil

	case discTransferWithSeed:
		if len(inst.Data) < 12 {
			return SystemInstruction{}, false, apperrors.InvalidTransaction("System TransferWithSeed data too short")
		}
		sender, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		receiver, err := acc(2)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		lamports := binary.LittleEndian.Uint64(inst.Data[4:12])
		return SystemInstruction{Kind: SystemTransfer, Lamports: lamports, Sender: sender, Receiver: receiver}, true, nil

	case discCreateAccount, discCreateAccountWithSeed:
		payer, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		lamports, err := lamportsFromCreateAccountData(disc, inst.Data)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		return SystemInstruction{Kind: SystemCreateAccount, Lamports: lamports, Payer: payer}, true, nil

	case discWithdrawNonceAccount:
		if len(inst.Data) < 12 {
			return SystemInstruction{}, false, apperrors.InvalidTransaction("System WithdrawNonce data too short")
		}
		nonceAccount, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		recipient, err := acc(1)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		authority, err := acc(2)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		lamports := binary.LittleEndian.Uint64(inst.Data[4:12])
		return SystemInstruction{Kind: SystemWithdrawNonce, Lamports: lamports, NonceAccount: nonceAccount, Recipient: recipient, Authority: authority}, true, nil

	case discAssign, discAssignWithSeed:
		authority, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		return SystemInstruction{Kind: SystemAssign, Authority: authority}, true, nil

	case discAllocate, discAllocateWithSeed:
		account, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		return SystemInstruction{Kind: SystemAllocate, Account: account}, true, nil

	case discInitializeNonceAccount:
		nonceAccount, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		if len(inst.Data) < 4+32 {
			return SystemInstruction{}, false, apperrors.InvalidTransaction("System InitializeNonce data too short")
		}
		authority, err := solana.PublicKeyFromBytes(inst.Data[4 : 4+32])
		if err != nil {
			return SystemInstruction{}, false, apperrors.InvalidTransaction("System InitializeNonce: decode authority from data: %v", err)
		}
		return SystemInstruction{Kind: SystemInitializeNonce, NonceAccount: nonceAccount, Authority: authority}, true, nil

	case discAdvanceNonceAccount:
		nonceAccount, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		authority, err := acc(2)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		return SystemInstruction{Kind: SystemAdvanceNonce, NonceAccount: nonceAccount, Authority: authority}, true, nil

	case discAuthorizeNonceAccount:
		nonceAccount, err := acc(0)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		authority, err := acc(1)
		if err != nil {
			return SystemInstruction{}, false, err
		}
		return SystemInstruction{Kind: SystemAuthorizeNonce, NonceAccount: nonceAccount, Authority: authority}, true, nil

	case discUpgradeNonceAccount:
		// No authority parameter to police; intentionally not parsed (spec.md §3).
		return SystemInstruction{}, false, nil

	default:
		return SystemInstruction{}, false, nil
	}
}

func lamportsFromCreateAccountData(disc uint32, data []byte) (uint64, error) {
	if disc == discCreateAccount {
		if len(data) < 12 {
			return 0, apperrors.InvalidTransaction("System CreateAccount data too short")
		}
		return binary.LittleEndian.Uint64(data[4:12]), nil
	}
	// CreateAccountWithSeed: disc(4) + base(32) + seed(4-len-prefixed string) + lamports(8) + space(8) + owner(32)
	if len(data) < 4+32+4 {
		return 0, apperrors.InvalidTransaction("System CreateAccountWithSeed data too short")
	}
	seedLen := binary.LittleEndian.Uint32(data[36:40])
	lamportsOffset := 40 + int(seedLen)
	if len(data) < lamportsOffset+8 {
		return 0, apperrors.InvalidTransaction("System CreateAccountWithSeed data too short for seed length %d", seedLen)
	}
	return binary.LittleEndian.Uint64(data[lamportsOffset : lamportsOffset+8]), nil
}
