package policy

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// Validate performs a standalone, load-time pass over a decoded Policy,
// mirroring the original's config_validator: obviously-invalid pubkey
// strings are rejected eagerly so a malformed policy file fails startup
// rather than every request.
func Validate(p Policy) error {
	for _, pk := range p.Validation.AllowedPrograms {
		if err := validatePubkey(pk); err != nil {
			return apperrors.Internal("validation.allowed_programs entry %q: %v", pk, err)
		}
	}
	for _, pk := range p.Validation.AllowedTokens {
		if err := validatePubkey(pk); err != nil {
			return apperrors.Internal("validation.allowed_tokens entry %q: %v", pk, err)
		}
	}
	if !p.Validation.AllowedSplPaidTokens.All {
		for _, pk := range p.Validation.AllowedSplPaidTokens.Tokens {
			if err := validatePubkey(pk); err != nil {
				return apperrors.Internal("validation.allowed_spl_paid_tokens entry %q: %v", pk, err)
			}
		}
	}
	for _, pk := range p.Validation.DisallowedAccounts {
		if err := validatePubkey(pk); err != nil {
			return apperrors.Internal("validation.disallowed_accounts entry %q: %v", pk, err)
		}
	}

	if p.Validation.MaxSignatures == 0 {
		return apperrors.Internal("validation.max_signatures must be greater than zero")
	}

	switch p.Validation.PriceSource {
	case PriceSourceJupiter, PriceSourcePyth, PriceSourceMock:
	default:
		return apperrors.Internal("validation.price_source %q is not one of Jupiter, Pyth, Mock", p.Validation.PriceSource)
	}

	switch p.Validation.Price.Kind {
	case PriceModelFree:
	case PriceModelFixed:
		if p.Validation.Price.FixedToken != "" {
			if err := validatePubkey(p.Validation.Price.FixedToken); err != nil {
				return apperrors.Internal("validation.price.Fixed.token %q: %v", p.Validation.Price.FixedToken, err)
			}
		}
	case PriceModelMargin:
		if p.Validation.Price.Margin < 0 {
			return apperrors.Internal("validation.price.Margin.margin must not be negative")
		}
	default:
		return apperrors.Internal("validation.price has unrecognized kind %q", p.Validation.Price.Kind)
	}

	if p.Relayer.PaymentAddress != "" {
		if err := validatePubkey(p.Relayer.PaymentAddress); err != nil {
			return apperrors.Internal("kora.payment_address %q: %v", p.Relayer.PaymentAddress, err)
		}
	}

	if p.Relayer.UsageLimit.Enabled && p.Relayer.UsageLimit.MaxTransactions == 0 {
		return apperrors.Internal("kora.usage_limit.max_transactions must be greater than zero when enabled")
	}

	return nil
}

func validatePubkey(s string) error {
	if s == "" {
		return fmt.Errorf("empty pubkey string")
	}
	if _, err := solana.PublicKeyFromBase58(s); err != nil {
		return fmt.Errorf("not a valid base58 pubkey: %w", err)
	}
	return nil
}
