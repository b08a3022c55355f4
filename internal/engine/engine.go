// Package engine wires components A-I into the Service the (out-of-scope)
// RPC transport calls: resolve the envelope, validate, price, verify
// payment, then sign and optionally broadcast, per spec.md §2's flow
// A -> (B) -> C -> D -> E -> F -> G (iff fee > 0) -> H.
package engine

import (
	"context"
	"encoding/base64"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/rs/zerolog"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/cacheutil"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/fee"
	"github.com/solrelay/paymaster/internal/instruction"
	"github.com/solrelay/paymaster/internal/payment"
	"github.com/solrelay/paymaster/internal/policy"
	"github.com/solrelay/paymaster/internal/signer"
	"github.com/solrelay/paymaster/internal/tokenstate"
	"github.com/solrelay/paymaster/internal/usagelimit"
	"github.com/solrelay/paymaster/internal/validator"
	"github.com/solrelay/paymaster/internal/walletutil"
)

// Resolver builds a ResolvedTransaction from a decoded envelope: lookup
// expansion (B) when versioned, then inner-instruction discovery (C).
type Resolver interface {
	Resolve(ctx context.Context, tx *solana.Transaction, verifySignatures bool) (*envelope.ResolvedTransaction, error)
}

// Service is the core's inbound surface (spec.md §6), implemented as
// plain Go methods rather than HTTP handlers.
type Service struct {
	Policy    policy.Policy
	Relayer   solana.PublicKey
	Resolver  Resolver
	Validator *validator.Validator
	Fee       *fee.Calculator
	Payment   *payment.Verifier
	Signer    *signer.Orchestrator
	Usage     usagelimit.Limiter
	Cache     cacheutil.Cache
	Fetch     envelope.AccountFetcher
	Logger    zerolog.Logger
}

// TransferRequest is transferTransaction's input: pure construction of an
// unsigned transfer transaction, no validation performed yet.
type TransferRequest struct {
	AmountTokenUnits uint64
	Mint             string
	SourceWallet     string
	DestWallet       string
}

// TransferResult is transferTransaction's output.
type TransferResult struct {
	UnsignedBase64 string
	MessageBase64  string
	Blockhash      string
}

// SignResult is signTransaction/signAndSendTransaction's output.
type SignResult struct {
	SignedBase64     string
	OnChainSignature string
}

// SignTransaction implements the signTransaction inbound method: resolve,
// validate, price, verify payment (iff fee > 0), sign, do not broadcast.
func (s *Service) SignTransaction(ctx context.Context, base64Tx string) (SignResult, error) {
	r, breakdown, err := s.prepare(ctx, base64Tx)
	if err != nil {
		return SignResult{}, err
	}

	if err := s.checkUsageLimit(ctx, r); err != nil {
		return SignResult{}, err
	}

	result, err := s.Signer.Sign(ctx, r)
	if err != nil {
		return SignResult{}, err
	}
	_ = breakdown

	signedBase64, err := envelope.Encode(r.Tx)
	if err != nil {
		return SignResult{}, apperrors.ValidationError("encode signed transaction: %v", err)
	}
	return SignResult{SignedBase64: signedBase64, OnChainSignature: result.Signature.String()}, nil
}

// SignAndSendTransaction implements signAndSendTransaction: same as
// SignTransaction but submits and awaits confirmation.
func (s *Service) SignAndSendTransaction(ctx context.Context, base64Tx string) (SignResult, error) {
	r, breakdown, err := s.prepare(ctx, base64Tx)
	if err != nil {
		return SignResult{}, err
	}

	if err := s.checkUsageLimit(ctx, r); err != nil {
		return SignResult{}, err
	}

	result, err := s.Signer.SignAndSend(ctx, r)
	if err != nil {
		return SignResult{}, err
	}
	_ = breakdown

	signedBase64, err := envelope.Encode(r.Tx)
	if err != nil {
		return SignResult{}, apperrors.ValidationError("encode signed transaction: %v", err)
	}
	return SignResult{SignedBase64: signedBase64, OnChainSignature: result.Signature.String()}, nil
}

// EstimateTransactionFee implements estimateTransactionFee: runs the
// fee calculator (F) but skips payment verification, signing, and
// broadcast. When feeToken is set, the lamport total is additionally
// converted into that token's units via the oracle, for display.
func (s *Service) EstimateTransactionFee(ctx context.Context, base64Tx string, feeToken *string) (fee.Breakdown, *uint64, error) {
	tx, err := envelope.Decode(base64Tx)
	if err != nil {
		return fee.Breakdown{}, nil, err
	}
	r, err := s.Resolver.Resolve(ctx, tx, false)
	if err != nil {
		return fee.Breakdown{}, nil, err
	}

	breakdown, err := s.Fee.Calculate(ctx, r)
	if err != nil {
		return fee.Breakdown{}, nil, err
	}
	if err := s.Validator.Validate(r, breakdown.FeePayerOutflow); err != nil {
		return fee.Breakdown{}, nil, err
	}

	if feeToken == nil {
		return breakdown, nil, nil
	}

	tokenUnits, err := s.lamportsToTokenUnits(ctx, breakdown.Total, *feeToken)
	if err != nil {
		return fee.Breakdown{}, nil, err
	}
	return breakdown, &tokenUnits, nil
}

func (s *Service) lamportsToTokenUnits(ctx context.Context, lamports uint64, mint string) (uint64, error) {
	return s.Fee.LamportsToTokenUnits(ctx, lamports, mint)
}

// GetSupportedTokens implements getSupportedTokens.
func (s *Service) GetSupportedTokens(ctx context.Context) []string {
	if s.Policy.Validation.AllowedSplPaidTokens.All {
		return append([]string(nil), s.Policy.Validation.AllowedTokens...)
	}
	return append([]string(nil), s.Policy.Validation.AllowedSplPaidTokens.Tokens...)
}

// GetBlockhash implements getBlockhash, a read-only passthrough to the
// signer orchestrator's chain RPC at "confirmed" commitment.
func (s *Service) GetBlockhash(ctx context.Context) (string, error) {
	hash, err := s.Signer.RPC.LatestBlockhash(ctx)
	if err != nil {
		return "", apperrors.RpcError(err, "fetch latest blockhash")
	}
	return hash.String(), nil
}

// TransferTransaction implements transferTransaction: pure construction
// of an unsigned SPL TransferChecked transaction with the relayer as fee
// payer, no validation performed. Grounded on the teacher's
// BuildGaslessTransaction: derive the source ATA, build a single
// TransferChecked instruction, and assemble with the relayer as payer.
func (s *Service) TransferTransaction(ctx context.Context, req TransferRequest) (TransferResult, error) {
	mint, err := solana.PublicKeyFromBase58(req.Mint)
	if err != nil {
		return TransferResult{}, apperrors.ValidationError("invalid mint address %s", req.Mint)
	}
	source, err := solana.PublicKeyFromBase58(req.SourceWallet)
	if err != nil {
		return TransferResult{}, apperrors.ValidationError("invalid source wallet address %s", req.SourceWallet)
	}
	dest, err := solana.PublicKeyFromBase58(req.DestWallet)
	if err != nil {
		return TransferResult{}, apperrors.ValidationError("invalid destination wallet address %s", req.DestWallet)
	}

	decimals, variant, err := s.mintDecimalsAndVariant(ctx, mint)
	if err != nil {
		return TransferResult{}, err
	}
	programID := tokenstate.ClassicProgramID
	if variant == tokenstate.Token2022 {
		programID = tokenstate.Token2022ProgramID
	}

	sourceATA, err := deriveATA(source, mint, programID)
	if err != nil {
		return TransferResult{}, err
	}
	destATA, err := deriveATA(dest, mint, programID)
	if err != nil {
		return TransferResult{}, err
	}

	blockhash, err := s.Signer.RPC.LatestBlockhash(ctx)
	if err != nil {
		return TransferResult{}, apperrors.RpcError(err, "fetch latest blockhash")
	}

	instr := token.NewTransferCheckedInstruction(
		req.AmountTokenUnits,
		decimals,
		sourceATA,
		mint,
		destATA,
		source,
		[]solana.PublicKey{},
	).Build()

	tx, err := solana.NewTransaction(
		[]solana.Instruction{instr},
		blockhash,
		solana.TransactionPayer(s.Relayer),
	)
	if err != nil {
		return TransferResult{}, apperrors.ValidationError("build transfer transaction: %v", err)
	}

	txBytes, err := tx.MarshalBinary()
	if err != nil {
		return TransferResult{}, apperrors.ValidationError("serialize transfer transaction: %v", err)
	}
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return TransferResult{}, apperrors.ValidationError("serialize transfer message: %v", err)
	}

	return TransferResult{
		UnsignedBase64: base64.StdEncoding.EncodeToString(txBytes),
		MessageBase64:  base64.StdEncoding.EncodeToString(messageBytes),
		Blockhash:      blockhash.String(),
	}, nil
}

// GetPayerSigner implements getPayerSigner.
func (s *Service) GetPayerSigner(ctx context.Context) (string, error) {
	return s.Relayer.String(), nil
}

// GetConfig implements getConfig, returning the read-only policy snapshot.
func (s *Service) GetConfig(ctx context.Context) policy.Policy {
	return s.Policy
}

// Liveness implements the liveness probe: the core itself has no
// durable state to check, so this always succeeds once a Service exists.
func (s *Service) Liveness(ctx context.Context) error {
	return nil
}

// prepare runs the shared A -> (B) -> C -> D -> E -> F -> G pipeline for
// both signing entry points.
func (s *Service) prepare(ctx context.Context, base64Tx string) (*envelope.ResolvedTransaction, fee.Breakdown, error) {
	tx, err := envelope.Decode(base64Tx)
	if err != nil {
		return nil, fee.Breakdown{}, err
	}

	r, err := s.Resolver.Resolve(ctx, tx, false)
	if err != nil {
		return nil, fee.Breakdown{}, err
	}

	breakdown, err := s.Fee.Calculate(ctx, r)
	if err != nil {
		return nil, fee.Breakdown{}, err
	}

	if err := s.Validator.Validate(r, breakdown.FeePayerOutflow); err != nil {
		return nil, fee.Breakdown{}, err
	}

	if err := s.Validator.ValidateStrictPricing(breakdown.Total); err != nil {
		return nil, fee.Breakdown{}, err
	}

	if breakdown.Total > 0 {
		destination := s.Policy.PaymentDestinationOwner(s.Relayer.String())
		ok, err := s.Payment.Verify(ctx, r, breakdown.Total, destination)
		if err != nil {
			return nil, fee.Breakdown{}, err
		}
		if !ok {
			return nil, fee.Breakdown{}, apperrors.InsufficientPayment("payment transfers to %s total less than required %d lamports", destination, breakdown.Total)
		}
	}

	estimatedFee, err := s.estimateNetworkFee(ctx, r)
	if err != nil {
		return nil, fee.Breakdown{}, err
	}
	if err := s.Validator.ValidateLamportFee(estimatedFee); err != nil {
		return nil, fee.Breakdown{}, err
	}

	return r, breakdown, nil
}

func (s *Service) mintDecimalsAndVariant(ctx context.Context, mint solana.PublicKey) (uint8, tokenstate.ProgramVariant, error) {
	entry, err := s.Cache.Get(ctx, mint.String(), false, func(ctx context.Context, addr string) (cacheutil.Entry, error) {
		data, err := s.Fetch(ctx, mint)
		if err != nil {
			return cacheutil.Entry{}, err
		}
		return cacheutil.Entry{Data: data}, nil
	})
	if err != nil {
		return 0, 0, apperrors.CacheError(err, "fetch mint %s", mint)
	}
	variant := tokenstate.TokenClassic
	if len(entry.Data) > 82 {
		variant = tokenstate.Token2022
	}
	decoded, err := tokenstate.DecodeMint(entry.Data, variant)
	if err != nil {
		return 0, 0, err
	}
	return decoded.Decimals, variant, nil
}

func deriveATA(owner, mint, programID solana.PublicKey) (solana.PublicKey, error) {
	ata, err := walletutil.AssociatedTokenAddress(owner, mint, programID)
	if err != nil {
		return solana.PublicKey{}, apperrors.ValidationError("derive associated token address for owner %s mint %s: %v", owner, mint, err)
	}
	return ata, nil
}

func (s *Service) estimateNetworkFee(ctx context.Context, r *envelope.ResolvedTransaction) (uint64, error) {
	return s.Fee.RPC.GetFeeForMessage(ctx, r.Tx)
}

func (s *Service) checkUsageLimit(ctx context.Context, r *envelope.ResolvedTransaction) error {
	if s.Usage == nil {
		return nil
	}
	wallet := s.endUserWallet(r)
	allowed, err := s.Usage.Increment(ctx, wallet)
	if err != nil {
		return apperrors.CacheError(err, "usage-limit counter unavailable")
	}
	if !allowed {
		return apperrors.InvalidTransaction("usage limit exceeded for wallet %s", wallet)
	}
	return nil
}

// endUserWallet identifies the wallet the usage-limit counter of spec.md
// §5 should be keyed by: the transaction's end user, not the relayer
// itself (every request shares the same fee payer, so keying by it would
// collapse the per-wallet counter into one service-wide cap). Prefers
// the first required signer that isn't the relayer; falls back to the
// owner of the first SPL transfer not originated by the relayer, since a
// delegated/gasless transfer may list the relayer as the only signer.
func (s *Service) endUserWallet(r *envelope.ResolvedTransaction) string {
	limit := int(r.RequiredSigners())
	if limit > len(r.AllAccountKeys) {
		limit = len(r.AllAccountKeys)
	}
	for i := 0; i < limit; i++ {
		if !r.AllAccountKeys[i].Equals(s.Relayer) {
			return r.AllAccountKeys[i].String()
		}
	}

	if tokKinds, err := instruction.ParseTokenInstructions(r); err == nil {
		for _, t := range tokKinds[instruction.TokenTransfer] {
			if !t.Owner.Equals(s.Relayer) {
				return t.Owner.String()
			}
		}
	}

	return s.Relayer.String()
}
