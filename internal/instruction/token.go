package instruction

import (
	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/tokenstate"
)

// TokenKind discriminates the parsed-token sum type of spec.md §3. Both
// the classic and token-2022 programs share this identifier set; the
// Is2022 flag on TokenInstruction distinguishes which program produced it.
type TokenKind int

const (
	TokenTransfer TokenKind = iota
	TokenBurn
	TokenCloseAccount
	TokenApprove
	TokenRevoke
	TokenSetAuthority
	TokenMintTo
	TokenInitializeMint
	TokenInitializeAccount
	TokenInitializeMultisig
	TokenFreezeAccount
	TokenThawAccount
)

func (k TokenKind) String() string {
	switch k {
	case TokenTransfer:
		return "Token Transfer"
	case TokenBurn:
		return "Token Burn"
	case TokenCloseAccount:
		return "Token CloseAccount"
	case TokenApprove:
		return "Token Approve"
	case TokenRevoke:
		return "Token Revoke"
	case TokenSetAuthority:
		return "Token SetAuthority"
	case TokenMintTo:
		return "Token MintTo"
	case TokenInitializeMint:
		return "Token InitializeMint"
	case TokenInitializeAccount:
		return "Token InitializeAccount"
	case TokenInitializeMultisig:
		return "Token InitializeMultisig"
	case TokenFreezeAccount:
		return "Token FreezeAccount"
	case TokenThawAccount:
		return "Token ThawAccount"
	default:
		return "Token Unknown"
	}
}

// SPL token program instruction discriminants (u8 at data[0]), shared by
// the classic and token-2022 programs for every kind this core parses.
const (
	tdiscInitializeMint      byte = 0
	tdiscInitializeAccount   byte = 1
	tdiscInitializeMultisig  byte = 2
	tdiscTransfer            byte = 3
	tdiscApprove             byte = 4
	tdiscRevoke              byte = 5
	tdiscSetAuthority        byte = 6
	tdiscMintTo              byte = 7
	tdiscBurn                byte = 8
	tdiscCloseAccount        byte = 9
	tdiscFreezeAccount       byte = 10
	tdiscThawAccount         byte = 11
	tdiscTransferChecked     byte = 12
	tdiscApproveChecked      byte = 13
	tdiscMintToChecked       byte = 14
	tdiscBurnChecked         byte = 15
	tdiscInitializeAccount2  byte = 16
	tdiscSyncNative          byte = 17
	tdiscInitializeAccount3  byte = 18
	tdiscInitializeMultisig2 byte = 19
	tdiscInitializeMint2     byte = 20
)

// TokenInstruction is the parsed-token sum type. Authority carries the
// fee-payer-sensitive principal for every Kind except InitializeMultisig
// (owner, authority, or current-authority per spec.md §6), whose
// co-signers are listed in MultisigSigners instead; Source/Destination/
// Amount/Mint are populated for Transfer specifically, as the fee and
// payment components key off them directly.
type TokenInstruction struct {
	Kind        TokenKind
	Is2022      bool
	Amount      uint64
	Source      solana.PublicKey
	Destination solana.PublicKey
	Owner       solana.PublicKey
	Authority   solana.PublicKey
	Delegate    solana.PublicKey
	Account     solana.PublicKey
	Mint        solana.PublicKey
	HasMint     bool
	MultisigSigners []solana.PublicKey
}

// ParseTokenInstructions returns the resolved transaction's parsed token
// instructions, grouped by kind, across both program variants,
// populating the lazy cache on first call.
func ParseTokenInstructions(r *envelope.ResolvedTransaction) (map[TokenKind][]TokenInstruction, error) {
	if cached := r.TokenParseCache(); cached != nil {
		return cached.(map[TokenKind][]TokenInstruction), nil
	}

	out := make(map[TokenKind][]TokenInstruction)
	for _, inst := range r.AllInstructions {
		if inst.Stub {
			continue
		}
		programID := r.AllAccountKeys[inst.ProgramIDIndex]
		variant, err := tokenstate.VariantFor(programID)
		if err != nil {
			continue // not a recognized token program; no parsed entries (spec.md §4.D)
		}
		parsed, ok, err := parseTokenInstruction(r.AllAccountKeys, inst, variant == tokenstate.Token2022)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out[parsed.Kind] = append(out[parsed.Kind], parsed)
	}

	r.SetTokenParseCache(out)
	return out, nil
}

func parseTokenInstruction(keys []solana.PublicKey, inst envelope.Instruction, is2022 bool) (TokenInstruction, bool, error) {
	if len(inst.Data) < 1 {
		return TokenInstruction{}, false, apperrors.InvalidTransaction("token instruction data too short to hold a discriminant")
	}
	disc := inst.Data[0]

	acc := func(idx int) (solana.PublicKey, error) {
		if idx >= len(inst.Accounts) {
			return solana.PublicKey{}, apperrors.InvalidTransaction("token instruction (discriminant %d) expects an account at index %d", disc, idx)
		}
		keyIdx := inst.Accounts[idx]
		if int(keyIdx) >= len(keys) {
			return solana.PublicKey{}, apperrors.InvalidTransaction("token instruction account index %d out of bounds", keyIdx)
		}
		return keys[keyIdx], nil
	}
	lastAcc := func() (solana.PublicKey, error) {
		if len(inst.Accounts) == 0 {
			return solana.PublicKey{}, apperrors.InvalidTransaction("token instruction (discriminant %d) has no accounts", disc)
		}
		return acc(len(inst.Accounts) - 1)
	}

	switch disc {
	case tdiscTransfer:
		if len(inst.Data) < 9 {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token Transfer data too short")
		}
		source, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		destination, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		owner, err := acc(2)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		amount := leUint64(inst.Data[1:9])
		return TokenInstruction{Kind: TokenTransfer, Is2022: is2022, Amount: amount, Source: source, Destination: destination, Owner: owner, Authority: owner}, true, nil

	case tdiscTransferChecked:
		if len(inst.Data) < 10 {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token TransferChecked data too short")
		}
		source, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		mint, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		destination, err := acc(2)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		owner, err := acc(3)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		amount := leUint64(inst.Data[1:9])
		return TokenInstruction{Kind: TokenTransfer, Is2022: is2022, Amount: amount, Source: source, Destination: destination, Owner: owner, Authority: owner, Mint: mint, HasMint: true}, true, nil

	case tdiscBurn, tdiscBurnChecked:
		account, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		authority, err := lastAcc()
		if err != nil {
			return TokenInstruction{}, false, err
		}
		if len(inst.Data) < 9 {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token Burn data too short")
		}
		amount := leUint64(inst.Data[1:9])
		out := TokenInstruction{Kind: TokenBurn, Is2022: is2022, Amount: amount, Account: account, Authority: authority}
		if disc == tdiscBurnChecked {
			mint, err := acc(1)
			if err != nil {
				return TokenInstruction{}, false, err
			}
			out.Mint, out.HasMint = mint, true
		}
		return out, true, nil

	case tdiscCloseAccount:
		account, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		destination, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		authority, err := acc(2)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		return TokenInstruction{Kind: TokenCloseAccount, Is2022: is2022, Account: account, Destination: destination, Authority: authority}, true, nil

	case tdiscApprove, tdiscApproveChecked:
		source, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		delegateIdx := 1
		var mint solana.PublicKey
		hasMint := false
		if disc == tdiscApproveChecked {
			mint, err = acc(1)
			if err != nil {
				return TokenInstruction{}, false, err
			}
			hasMint = true
			delegateIdx = 2
		}
		delegate, err := acc(delegateIdx)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		owner, err := lastAcc()
		if err != nil {
			return TokenInstruction{}, false, err
		}
		dataLen := 9
		if disc == tdiscApproveChecked {
			dataLen = 10
		}
		if len(inst.Data) < dataLen {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token Approve data too short")
		}
		amount := leUint64(inst.Data[1:9])
		return TokenInstruction{Kind: TokenApprove, Is2022: is2022, Amount: amount, Source: source, Delegate: delegate, Owner: owner, Authority: owner, Mint: mint, HasMint: hasMint}, true, nil

	case tdiscRevoke:
		source, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		owner, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		return TokenInstruction{Kind: TokenRevoke, Is2022: is2022, Source: source, Owner: owner, Authority: owner}, true, nil

	case tdiscSetAuthority:
		account, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		currentAuthority, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		return TokenInstruction{Kind: TokenSetAuthority, Is2022: is2022, Account: account, Authority: currentAuthority}, true, nil

	case tdiscMintTo, tdiscMintToChecked:
		mint, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		account, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		authority, err := acc(2)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		if len(inst.Data) < 9 {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token MintTo data too short")
		}
		amount := leUint64(inst.Data[1:9])
		return TokenInstruction{Kind: TokenMintTo, Is2022: is2022, Amount: amount, Mint: mint, HasMint: true, Account: account, Authority: authority}, true, nil

	case tdiscInitializeMint, tdiscInitializeMint2:
		mint, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		// data = disc(1) + decimals(1) + mint_authority(32) + freeze_authority_option(1[+32])
		if len(inst.Data) < 1+1+32 {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token InitializeMint data too short")
		}
		authority, err := solana.PublicKeyFromBytes(inst.Data[2:34])
		if err != nil {
			return TokenInstruction{}, false, apperrors.InvalidTransaction("Token InitializeMint: decode mint authority from data: %v", err)
		}
		return TokenInstruction{Kind: TokenInitializeMint, Is2022: is2022, Mint: mint, HasMint: true, Authority: authority}, true, nil

	case tdiscInitializeAccount, tdiscInitializeAccount2, tdiscInitializeAccount3:
		account, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		mint, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		var owner solana.PublicKey
		if disc == tdiscInitializeAccount {
			owner, err = acc(2)
			if err != nil {
				return TokenInstruction{}, false, err
			}
		} else {
			if len(inst.Data) < 33 {
				return TokenInstruction{}, false, apperrors.InvalidTransaction("Token InitializeAccount2/3 data too short")
			}
			owner, err = solana.PublicKeyFromBytes(inst.Data[1:33])
			if err != nil {
				return TokenInstruction{}, false, apperrors.InvalidTransaction("Token InitializeAccount2/3: decode owner from data: %v", err)
			}
		}
		return TokenInstruction{Kind: TokenInitializeAccount, Is2022: is2022, Account: account, Mint: mint, HasMint: true, Owner: owner, Authority: owner}, true, nil

	case tdiscInitializeMultisig, tdiscInitializeMultisig2:
		multisig, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		signerStart := 2 // skip rent sysvar
		if disc == tdiscInitializeMultisig2 {
			signerStart = 1
		}
		var signers []solana.PublicKey
		for i := signerStart; i < len(inst.Accounts); i++ {
			pk, err := acc(i)
			if err != nil {
				return TokenInstruction{}, false, err
			}
			signers = append(signers, pk)
		}
		return TokenInstruction{Kind: TokenInitializeMultisig, Is2022: is2022, Account: multisig, MultisigSigners: signers}, true, nil

	case tdiscFreezeAccount:
		account, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		mint, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		authority, err := acc(2)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		return TokenInstruction{Kind: TokenFreezeAccount, Is2022: is2022, Account: account, Mint: mint, HasMint: true, Authority: authority}, true, nil

	case tdiscThawAccount:
		account, err := acc(0)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		mint, err := acc(1)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		authority, err := acc(2)
		if err != nil {
			return TokenInstruction{}, false, err
		}
		return TokenInstruction{Kind: TokenThawAccount, Is2022: is2022, Account: account, Mint: mint, HasMint: true, Authority: authority}, true, nil

	case tdiscSyncNative:
		return TokenInstruction{}, false, nil

	default:
		return TokenInstruction{}, false, nil
	}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
