// Package validator implements the rule engine of spec.md §4.E: an
// ordered sequence of checks over a resolved transaction, returning on
// the first failure.
package validator

import (
	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/instruction"
	"github.com/solrelay/paymaster/internal/policy"
)

// Validator runs the ordered checks of §4.E against a resolved
// transaction, a relayer pubkey, and the process policy snapshot.
type Validator struct {
	Policy  policy.Policy
	Relayer solana.PublicKey
}

// New builds a Validator bound to a policy snapshot and the relayer's
// signing pubkey.
func New(p policy.Policy, relayer solana.PublicKey) *Validator {
	return &Validator{Policy: p, Relayer: relayer}
}

// Validate runs checks 1-6 of spec.md §4.E, in order, returning the
// first failure. outflow is the fee-payer outflow computed by the fee
// calculator's 4.F.3 sub-step, passed in rather than recomputed so the
// ceiling check and the fee calculator never disagree.
func (v *Validator) Validate(r *envelope.ResolvedTransaction, outflowLamports uint64) error {
	if err := v.checkNonEmpty(r); err != nil {
		return err
	}
	if err := v.checkSignatures(r); err != nil {
		return err
	}
	if err := v.checkPrograms(r); err != nil {
		return err
	}
	if outflowLamports > v.Policy.Validation.MaxAllowedLamports {
		return apperrors.InvalidTransaction("fee payer outflow %d exceeds max allowed lamports %d", outflowLamports, v.Policy.Validation.MaxAllowedLamports)
	}
	if err := v.checkDenylist(r); err != nil {
		return err
	}
	if err := v.checkFeePayerPolicy(r); err != nil {
		return err
	}
	return nil
}

// ValidateLamportFee enforces that a standalone network fee estimate
// fits under the ceiling, called post-blockhash-refresh just before
// signing per spec.md §4.E.
func (v *Validator) ValidateLamportFee(estimatedLamports uint64) error {
	if estimatedLamports > v.Policy.Validation.MaxAllowedLamports {
		return apperrors.InvalidTransaction("estimated network fee %d exceeds max allowed lamports %d", estimatedLamports, v.Policy.Validation.MaxAllowedLamports)
	}
	return nil
}

// ValidateStrictPricing applies the Fixed/strict post-check: the full
// breakdown total must not exceed the advertised fixed price.
func (v *Validator) ValidateStrictPricing(breakdownTotal uint64) error {
	if !v.Policy.Validation.Price.Strict {
		return nil
	}
	if breakdownTotal > v.Policy.Validation.Price.FixedAmount {
		return apperrors.ValidationError("strict pricing violation: computed cost %d lamports exceeds advertised fixed price %d", breakdownTotal, v.Policy.Validation.Price.FixedAmount)
	}
	return nil
}

func (v *Validator) checkNonEmpty(r *envelope.ResolvedTransaction) error {
	if len(r.AllInstructions) == 0 {
		return apperrors.InvalidTransaction("transaction has no instructions")
	}
	if len(r.AllAccountKeys) == 0 {
		return apperrors.InvalidTransaction("transaction has no account keys")
	}
	return nil
}

func (v *Validator) checkSignatures(r *envelope.ResolvedTransaction) error {
	n := uint64(len(r.Tx.Signatures))
	if n < 1 {
		return apperrors.InvalidTransaction("transaction must have at least one signature")
	}
	if n > v.Policy.Validation.MaxSignatures {
		return apperrors.InvalidTransaction("signature count %d exceeds maximum %d", n, v.Policy.Validation.MaxSignatures)
	}
	return nil
}

func (v *Validator) checkPrograms(r *envelope.ResolvedTransaction) error {
	allowed := make(map[string]struct{}, len(v.Policy.Validation.AllowedPrograms))
	for _, p := range v.Policy.Validation.AllowedPrograms {
		allowed[p] = struct{}{}
	}
	seen := make(map[string]struct{})
	for _, inst := range r.AllInstructions {
		programID := r.AllAccountKeys[inst.ProgramIDIndex]
		key := programID.String()
		if _, done := seen[key]; done {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := allowed[key]; !ok {
			return apperrors.InvalidTransaction("program %s not allowed", key)
		}
	}
	return nil
}

func (v *Validator) checkDenylist(r *envelope.ResolvedTransaction) error {
	denied := make(map[string]struct{}, len(v.Policy.Validation.DisallowedAccounts))
	for _, a := range v.Policy.Validation.DisallowedAccounts {
		denied[a] = struct{}{}
	}
	if len(denied) == 0 {
		return nil
	}
	for _, inst := range r.AllInstructions {
		programID := r.AllAccountKeys[inst.ProgramIDIndex]
		if _, ok := denied[programID.String()]; ok {
			return apperrors.InvalidTransaction("program %s is denylisted", programID)
		}
		for _, idx := range inst.Accounts {
			if int(idx) >= len(r.AllAccountKeys) {
				continue
			}
			addr := r.AllAccountKeys[idx]
			if _, ok := denied[addr.String()]; ok {
				return apperrors.InvalidTransaction("account %s is denylisted", addr)
			}
		}
	}
	return nil
}

// checkFeePayerPolicy enforces check 6: for each parsed instruction kind
// whose policy flag is false, the relayer may not appear as that kind's
// fee-payer-sensitive principal (spec.md §4.E / §6).
func (v *Validator) checkFeePayerPolicy(r *envelope.ResolvedTransaction) error {
	sysKinds, err := instruction.ParseSystemInstructions(r)
	if err != nil {
		return err
	}
	for kind, entries := range sysKinds {
		if v.systemAllowed(kind) {
			continue
		}
		for _, entry := range entries {
			if v.isSensitivePrincipal(kind, entry) {
				return apperrors.InvalidTransaction("fee payer cannot be used for '%s'", kind)
			}
		}
	}

	tokKinds, err := instruction.ParseTokenInstructions(r)
	if err != nil {
		return err
	}
	for kind, entries := range tokKinds {
		for _, entry := range entries {
			allowed := v.tokenAllowed(kind, entry.Is2022)
			if allowed {
				continue
			}
			if kind == instruction.TokenInitializeMultisig {
				for _, signer := range entry.MultisigSigners {
					if signer.Equals(v.Relayer) {
						return apperrors.InvalidTransaction("fee payer cannot be used for '%s'", kind)
					}
				}
				continue
			}
			if entry.Authority.Equals(v.Relayer) {
				return apperrors.InvalidTransaction("fee payer cannot be used for '%s'", kind)
			}
		}
	}
	return nil
}

func (v *Validator) isSensitivePrincipal(kind instruction.SystemKind, entry instruction.SystemInstruction) bool {
	switch kind {
	case instruction.SystemTransfer:
		return entry.Sender.Equals(v.Relayer)
	case instruction.SystemCreateAccount:
		return entry.Payer.Equals(v.Relayer)
	case instruction.SystemWithdrawNonce:
		return entry.Authority.Equals(v.Relayer)
	case instruction.SystemAssign, instruction.SystemInitializeNonce, instruction.SystemAdvanceNonce, instruction.SystemAuthorizeNonce:
		return entry.Authority.Equals(v.Relayer)
	case instruction.SystemAllocate:
		return entry.Account.Equals(v.Relayer)
	default:
		return false
	}
}

func (v *Validator) systemAllowed(kind instruction.SystemKind) bool {
	s := v.Policy.Validation.FeePayerPolicy.System
	switch kind {
	case instruction.SystemTransfer:
		return s.AllowTransfer
	case instruction.SystemCreateAccount:
		return s.AllowCreateAccount
	case instruction.SystemAssign:
		return s.AllowAssign
	case instruction.SystemAllocate:
		return s.AllowAllocate
	case instruction.SystemInitializeNonce:
		return s.Nonce.AllowInitialize
	case instruction.SystemAdvanceNonce:
		return s.Nonce.AllowAdvance
	case instruction.SystemWithdrawNonce:
		return s.Nonce.AllowWithdraw
	case instruction.SystemAuthorizeNonce:
		return s.Nonce.AllowAuthorize
	default:
		return false
	}
}

func (v *Validator) tokenAllowed(kind instruction.TokenKind, is2022 bool) bool {
	t := v.Policy.Validation.FeePayerPolicy.SplToken
	if is2022 {
		t = v.Policy.Validation.FeePayerPolicy.Token2022
	}
	switch kind {
	case instruction.TokenTransfer:
		return t.AllowTransfer
	case instruction.TokenBurn:
		return t.AllowBurn
	case instruction.TokenCloseAccount:
		return t.AllowCloseAccount
	case instruction.TokenApprove:
		return t.AllowApprove
	case instruction.TokenRevoke:
		return t.AllowRevoke
	case instruction.TokenSetAuthority:
		return t.AllowSetAuthority
	case instruction.TokenMintTo:
		return t.AllowMintTo
	case instruction.TokenInitializeMint:
		return t.AllowInitializeMint
	case instruction.TokenInitializeAccount:
		return t.AllowInitializeAccount
	case instruction.TokenInitializeMultisig:
		return t.AllowInitializeMultisig
	case instruction.TokenFreezeAccount:
		return t.AllowFreezeAccount
	case instruction.TokenThawAccount:
		return t.AllowThawAccount
	default:
		return false
	}
}
