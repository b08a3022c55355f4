// Package tokenstate models mint and token-account state for both the
// classic SPL token program and token-2022, dispatched through a tagged
// ProgramVariant rather than a trait object (design note 9 alternative
// (b)).
package tokenstate

import (
	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// ProgramVariant tags which SPL token program owns a mint/account.
type ProgramVariant int

const (
	TokenClassic ProgramVariant = iota
	Token2022
)

// ClassicProgramID and Token2022ProgramID are the two program ids the
// core recognizes as SPL token programs.
var (
	ClassicProgramID  = solana.TokenProgramID
	Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")
)

// VariantFor maps a program id to its ProgramVariant, erroring on
// anything else.
func VariantFor(programID solana.PublicKey) (ProgramVariant, error) {
	switch {
	case programID.Equals(ClassicProgramID):
		return TokenClassic, nil
	case programID.Equals(Token2022ProgramID):
		return Token2022, nil
	default:
		return 0, apperrors.TokenOperationError(nil, "program %s is not a recognized token program", programID)
	}
}

// Mint is the decoded, variant-tagged mint account state the fee
// calculator and payment verifier consult.
type Mint struct {
	Variant    ProgramVariant
	Decimals   uint8
	Supply     uint64
	Extensions map[ExtensionType]struct{}
	TransferFee *TransferFeeConfig
}

// Account is the decoded, variant-tagged token account state.
type Account struct {
	Variant    ProgramVariant
	Mint       solana.PublicKey
	Owner      solana.PublicKey
	Amount     uint64
	Extensions map[ExtensionType]struct{}
}

// HasExtension reports whether ext is present, always false for classic
// token accounts/mints which carry no extensions.
func (m Mint) HasExtension(ext ExtensionType) bool {
	_, ok := m.Extensions[ext]
	return ok
}

func (a Account) HasExtension(ext ExtensionType) bool {
	_, ok := a.Extensions[ext]
	return ok
}

// TransferFeeTier is one epoch-scoped basis-point/maximum-fee tier of a
// token-2022 TransferFeeConfig extension.
type TransferFeeTier struct {
	Epoch             uint64
	TransferFeeBasisPoints uint16
	MaximumFee        uint64
}

// TransferFeeConfig holds the two tiers token-2022's TransferFeeConfig
// extension carries; the tier in effect switches at OlderTier/NewerTier's
// epoch boundary.
type TransferFeeConfig struct {
	OlderTier TransferFeeTier
	NewerTier TransferFeeTier
}

// CalculateFee computes the transfer-fee surcharge for amount at
// currentEpoch, selecting whichever tier is in effect and capping at
// that tier's maximum fee. The multiply happens in arbitrary precision
// before the divide by 10,000 and rounds up, per the payment surcharge's
// `ceil(amount * basis_points / 10_000)` definition.
func (c TransferFeeConfig) CalculateFee(amount uint64, currentEpoch uint64) (uint64, error) {
	tier := c.OlderTier
	if currentEpoch >= c.NewerTier.Epoch {
		tier = c.NewerTier
	}

	product := decimal.NewFromInt(int64(amount)).Mul(decimal.NewFromInt(int64(tier.TransferFeeBasisPoints)))
	feeAmount := product.Div(decimal.NewFromInt(10_000)).Ceil()

	if feeAmount.Sign() < 0 || !feeAmount.BigInt().IsUint64() {
		return 0, apperrors.ValidationError("transfer fee calculation overflow: amount=%d, basis_points=%d", amount, tier.TransferFeeBasisPoints)
	}

	fee := feeAmount.BigInt().Uint64()
	if fee > tier.MaximumFee {
		fee = tier.MaximumFee
	}
	return fee, nil
}
