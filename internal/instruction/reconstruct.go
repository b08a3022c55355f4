package instruction

import (
	"encoding/binary"
	"strconv"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/tokenstate"
)

// NewReconstructor builds the envelope.ParsedReconstructor the
// inner-instruction discoverer (4.C) uses to re-serialize a simulator's
// "parsed" form inner instructions back into raw instruction bytes, for
// every kind this core parses. Anything else — or a kind this function
// can't faithfully rebuild — returns ok=false and the discoverer falls
// back to a program-id-only stub, per spec.md §4.C.
//
// Known-lossy reconstructions (spec.md design note 9): SetAuthority
// (authority-type/new-authority are dropped, discriminator-only),
// InitializeMultisig (signer list dropped), InitializeMint (authority
// round-trips but freeze-authority option is always encoded absent).
// Downstream checks only consult the program id, account indexes, and
// discriminant for inner instructions, so this is acceptable.
func NewReconstructor() envelope.ParsedReconstructor {
	return func(programID solana.PublicKey, parsedType string, info map[string]any) ([]byte, []solana.PublicKey, bool) {
		if programID.Equals(SystemProgramID) {
			return reconstructSystem(parsedType, info)
		}
		if variant, err := tokenstate.VariantFor(programID); err == nil {
			return reconstructToken(parsedType, info, variant == tokenstate.Token2022)
		}
		return nil, nil, false
	}
}

func reconstructSystem(parsedType string, info map[string]any) ([]byte, []solana.PublicKey, bool) {
	switch parsedType {
	case "transfer":
		sender, ok1 := pubkeyField(info, "source")
		receiver, ok2 := pubkeyField(info, "destination")
		lamports, ok3 := uintField(info, "lamports")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		data := make([]byte, 12)
		binary.LittleEndian.PutUint32(data[0:4], discTransfer)
		binary.LittleEndian.PutUint64(data[4:12], lamports)
		return data, []solana.PublicKey{sender, receiver}, true

	case "createAccount":
		payer, ok1 := pubkeyField(info, "source")
		newAccount, ok2 := pubkeyField(info, "newAccount")
		lamports, ok3 := uintField(info, "lamports")
		space, ok4 := uintField(info, "space")
		owner, ok5 := pubkeyField(info, "owner")
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 {
			return nil, nil, false
		}
		data := make([]byte, 4+8+8+32)
		binary.LittleEndian.PutUint32(data[0:4], discCreateAccount)
		binary.LittleEndian.PutUint64(data[4:12], lamports)
		binary.LittleEndian.PutUint64(data[12:20], space)
		copy(data[20:52], owner[:])
		return data, []solana.PublicKey{payer, newAccount}, true

	case "withdrawFromNonce":
		nonceAccount, ok1 := pubkeyField(info, "nonceAccount")
		recipient, ok2 := pubkeyField(info, "destination")
		authority, ok3 := pubkeyField(info, "nonceAuthority")
		lamports, ok4 := uintField(info, "lamports")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, nil, false
		}
		data := make([]byte, 12)
		binary.LittleEndian.PutUint32(data[0:4], discWithdrawNonceAccount)
		binary.LittleEndian.PutUint64(data[4:12], lamports)
		return data, []solana.PublicKey{nonceAccount, recipient, authority}, true

	case "assign":
		authority, ok1 := pubkeyField(info, "account")
		owner, ok2 := pubkeyField(info, "owner")
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		data := make([]byte, 4+32)
		binary.LittleEndian.PutUint32(data[0:4], discAssign)
		copy(data[4:36], owner[:])
		return data, []solana.PublicKey{authority}, true

	case "allocate":
		account, ok1 := pubkeyField(info, "account")
		space, ok2 := uintField(info, "space")
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		data := make([]byte, 12)
		binary.LittleEndian.PutUint32(data[0:4], discAllocate)
		binary.LittleEndian.PutUint64(data[4:12], space)
		return data, []solana.PublicKey{account}, true

	case "initializeNonce":
		nonceAccount, ok1 := pubkeyField(info, "nonceAccount")
		authority, ok2 := pubkeyField(info, "nonceAuthority")
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		data := make([]byte, 4+32)
		binary.LittleEndian.PutUint32(data[0:4], discInitializeNonceAccount)
		copy(data[4:36], authority[:])
		return data, []solana.PublicKey{nonceAccount}, true

	case "advanceNonce":
		nonceAccount, ok1 := pubkeyField(info, "nonceAccount")
		authority, ok2 := pubkeyField(info, "nonceAuthority")
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		data := make([]byte, 4)
		binary.LittleEndian.PutUint32(data[0:4], discAdvanceNonceAccount)
		recentBlockhashesSysvar := solana.SysVarRecentBlockHashesPubkey
		return data, []solana.PublicKey{nonceAccount, recentBlockhashesSysvar, authority}, true

	case "authorizeNonce":
		nonceAccount, ok1 := pubkeyField(info, "nonceAccount")
		authority, ok2 := pubkeyField(info, "nonceAuthority")
		newAuthority, ok3 := pubkeyField(info, "newAuthorized")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		data := make([]byte, 4+32)
		binary.LittleEndian.PutUint32(data[0:4], discAuthorizeNonceAccount)
		copy(data[4:36], newAuthority[:])
		return data, []solana.PublicKey{nonceAccount, authority}, true

	default:
		return nil, nil, false
	}
}

func reconstructToken(parsedType string, info map[string]any, is2022 bool) ([]byte, []solana.PublicKey, bool) {
	_ = is2022
	switch parsedType {
	case "transfer":
		source, ok1 := pubkeyField(info, "source")
		destination, ok2 := pubkeyField(info, "destination")
		owner, ok3 := pubkeyField(info, "authority")
		amount, ok4 := rawAmountField(info, "amount")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, nil, false
		}
		data := make([]byte, 9)
		data[0] = tdiscTransfer
		binary.LittleEndian.PutUint64(data[1:9], amount)
		return data, []solana.PublicKey{source, destination, owner}, true

	case "transferChecked":
		source, ok1 := pubkeyField(info, "source")
		mint, ok2 := pubkeyField(info, "mint")
		destination, ok3 := pubkeyField(info, "destination")
		owner, ok4 := pubkeyField(info, "authority")
		amount, ok5 := rawAmountField(info, "tokenAmount")
		decimals, ok6 := uintField(info, "decimals")
		if !ok1 || !ok2 || !ok3 || !ok4 || !ok5 || !ok6 {
			return nil, nil, false
		}
		data := make([]byte, 10)
		data[0] = tdiscTransferChecked
		binary.LittleEndian.PutUint64(data[1:9], amount)
		data[9] = byte(decimals)
		return data, []solana.PublicKey{source, mint, destination, owner}, true

	case "burn", "burnChecked":
		account, ok1 := pubkeyField(info, "account")
		authority, ok2 := pubkeyField(info, "authority")
		amount, ok3 := rawAmountField(info, "amount")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		disc := tdiscBurn
		var accounts []solana.PublicKey
		if parsedType == "burnChecked" {
			mint, ok := pubkeyField(info, "mint")
			if !ok {
				return nil, nil, false
			}
			disc = tdiscBurnChecked
			accounts = []solana.PublicKey{account, mint, authority}
		} else {
			accounts = []solana.PublicKey{account, authority}
		}
		data := make([]byte, 9)
		data[0] = disc
		binary.LittleEndian.PutUint64(data[1:9], amount)
		return data, accounts, true

	case "closeAccount":
		account, ok1 := pubkeyField(info, "account")
		destination, ok2 := pubkeyField(info, "destination")
		authority, ok3 := pubkeyField(info, "owner")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		return []byte{tdiscCloseAccount}, []solana.PublicKey{account, destination, authority}, true

	case "approve":
		source, ok1 := pubkeyField(info, "source")
		delegate, ok2 := pubkeyField(info, "delegate")
		owner, ok3 := pubkeyField(info, "owner")
		amount, ok4 := rawAmountField(info, "amount")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, nil, false
		}
		data := make([]byte, 9)
		data[0] = tdiscApprove
		binary.LittleEndian.PutUint64(data[1:9], amount)
		return data, []solana.PublicKey{source, delegate, owner}, true

	case "revoke":
		source, ok1 := pubkeyField(info, "source")
		owner, ok2 := pubkeyField(info, "owner")
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		return []byte{tdiscRevoke}, []solana.PublicKey{source, owner}, true

	case "mintTo", "mintToChecked":
		mint, ok1 := pubkeyField(info, "mint")
		account, ok2 := pubkeyField(info, "account")
		authority, ok3 := pubkeyField(info, "mintAuthority")
		amount, ok4 := rawAmountField(info, "amount")
		if !ok1 || !ok2 || !ok3 || !ok4 {
			return nil, nil, false
		}
		disc := tdiscMintTo
		if parsedType == "mintToChecked" {
			disc = tdiscMintToChecked
		}
		data := make([]byte, 9)
		data[0] = disc
		binary.LittleEndian.PutUint64(data[1:9], amount)
		return data, []solana.PublicKey{mint, account, authority}, true

	case "initializeAccount", "initializeAccount3":
		account, ok1 := pubkeyField(info, "account")
		mint, ok2 := pubkeyField(info, "mint")
		owner, ok3 := pubkeyField(info, "owner")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		data := make([]byte, 33)
		data[0] = tdiscInitializeAccount3
		copy(data[1:33], owner[:])
		return data, []solana.PublicKey{account, mint}, true

	case "freezeAccount":
		account, ok1 := pubkeyField(info, "account")
		mint, ok2 := pubkeyField(info, "mint")
		authority, ok3 := pubkeyField(info, "freezeAuthority")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		return []byte{tdiscFreezeAccount}, []solana.PublicKey{account, mint, authority}, true

	case "thawAccount":
		account, ok1 := pubkeyField(info, "account")
		mint, ok2 := pubkeyField(info, "mint")
		authority, ok3 := pubkeyField(info, "freezeAuthority")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		return []byte{tdiscThawAccount}, []solana.PublicKey{account, mint, authority}, true

	case "setAuthority":
		// Known-lossy: authority-type/new-authority are dropped, leaving a
		// discriminator-only stub (spec.md design note 9).
		account, ok1 := pubkeyField(info, "account")
		authority, ok2 := pubkeyField(info, "authority")
		if !ok1 || !ok2 {
			return nil, nil, false
		}
		return []byte{tdiscSetAuthority}, []solana.PublicKey{account, authority}, true

	case "initializeMint", "initializeMint2":
		// Known-lossy: freeze-authority option always encodes as absent.
		mint, ok1 := pubkeyField(info, "mint")
		authority, ok2 := pubkeyField(info, "mintAuthority")
		decimals, ok3 := uintField(info, "decimals")
		if !ok1 || !ok2 || !ok3 {
			return nil, nil, false
		}
		data := make([]byte, 1+1+32+1)
		data[0] = tdiscInitializeMint
		data[1] = byte(decimals)
		copy(data[2:34], authority[:])
		data[34] = 0
		return data, []solana.PublicKey{mint}, true

	case "initializeMultisig", "initializeMultisig2":
		// Known-lossy: signer list is dropped.
		multisig, ok1 := pubkeyField(info, "multisig")
		if !ok1 {
			return nil, nil, false
		}
		return []byte{tdiscInitializeMultisig2}, []solana.PublicKey{multisig}, true

	default:
		return nil, nil, false
	}
}

func pubkeyField(info map[string]any, key string) (solana.PublicKey, bool) {
	raw, ok := info[key]
	if !ok {
		return solana.PublicKey{}, false
	}
	s, ok := raw.(string)
	if !ok {
		return solana.PublicKey{}, false
	}
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, false
	}
	return pk, true
}

func uintField(info map[string]any, key string) (uint64, bool) {
	raw, ok := info[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return uint64(v), true
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// rawAmountField reads a token amount field, which Solana's jsonParsed
// RPC output sometimes nests as a tokenAmount object and sometimes
// exposes as a bare numeric string; both shapes are accepted.
func rawAmountField(info map[string]any, key string) (uint64, bool) {
	raw, ok := info[key]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case float64:
		return uint64(v), true
	case map[string]any:
		amountRaw, ok := v["amount"].(string)
		if !ok {
			return 0, false
		}
		n, err := strconv.ParseUint(amountRaw, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
