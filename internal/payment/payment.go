// Package payment implements the payment verifier of spec.md §4.G:
// locating the transfers that pay the relayer's fee, checking token-2022
// blocked-extension policy, and summing their lamport-equivalent value
// against the computed requirement.
package payment

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/cacheutil"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/fee"
	"github.com/solrelay/paymaster/internal/instruction"
	"github.com/solrelay/paymaster/internal/oracle"
	"github.com/solrelay/paymaster/internal/policy"
	"github.com/solrelay/paymaster/internal/tokenstate"
)

// Verifier checks whether a resolved transaction's token transfers cover
// a required lamport amount paid to an expected destination wallet.
type Verifier struct {
	Policy  policy.Policy
	Cache   cacheutil.Cache
	Fetch   envelope.AccountFetcher
	Oracle  oracle.Provider
	Logger  zerolog.Logger
}

// Verify implements spec.md §4.G steps 1-6, returning whether the
// transaction's payment transfers sum to at least requiredLamports paid
// to destinationWallet.
func (v *Verifier) Verify(ctx context.Context, r *envelope.ResolvedTransaction, requiredLamports uint64, destinationWallet string) (bool, error) {
	tokKinds, err := instruction.ParseTokenInstructions(r)
	if err != nil {
		return false, err
	}
	transfers := tokKinds[instruction.TokenTransfer]

	var sum decimal.Decimal
	var candidates, unsupported int
	var lastUnsupportedMint string
	for _, t := range transfers {
		destAcct, ok, err := v.fetchAccount(ctx, t.Destination)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}

		mint, ok, err := v.resolveMint(ctx, t)
		if err != nil {
			return false, err
		}
		if !ok {
			continue
		}

		if t.Is2022 {
			if err := v.checkBlockedExtensions(ctx, mint, t.Source, t.Destination); err != nil {
				return false, err
			}
		}

		if destAcct.Owner.String() != destinationWallet {
			continue
		}
		candidates++

		if !v.Policy.Validation.AllowedSplPaidTokens.HasToken(mint.String()) {
			v.Logger.Warn().Str("mint", mint.String()).Msg("payment.unsupported_paid_token")
			unsupported++
			lastUnsupportedMint = mint.String()
			continue
		}

		lamports, err := v.convertToLamports(ctx, mint, t.Amount)
		if err != nil {
			return false, err
		}
		sum = sum.Add(lamports)
	}

	// spec.md §7: UnsupportedToken surfaces only when the payment attempt
	// in a non-allowlisted mint is the only candidate — with more than
	// one candidate, another payment transfer may still cover the fee,
	// so an unsupported one among several just gets skipped above.
	if candidates == 1 && unsupported == 1 {
		return false, apperrors.UnsupportedToken(lastUnsupportedMint)
	}

	if !sum.BigInt().IsUint64() {
		return false, apperrors.ValidationError("payment sum overflow")
	}
	return sum.BigInt().Uint64() >= requiredLamports, nil
}

func (v *Verifier) convertToLamports(ctx context.Context, mint solana.PublicKey, amount uint64) (decimal.Decimal, error) {
	data, ok, err := v.rawFetch(ctx, mint)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, apperrors.TokenOperationError(nil, "mint %s account not found", mint)
	}
	variant := tokenstate.TokenClassic
	if len(data) > 82 {
		variant = tokenstate.Token2022
	}
	decoded, err := tokenstate.DecodeMint(data, variant)
	if err != nil {
		return decimal.Zero, err
	}

	price, err := oracle.GetPrice(ctx, v.Oracle, mint.String())
	if err != nil {
		return decimal.Zero, err
	}

	return decimal.NewFromInt(int64(amount)).
		Mul(price).
		Mul(decimal.NewFromInt(fee.NativePerWhole)).
		Div(decimal.New(1, int32(decoded.Decimals))).
		Floor(), nil
}

// checkBlockedExtensions implements the blocked-extensions check: fetch
// the mint and both source+destination token accounts with a forced
// cache refresh, and reject if any blocklisted extension is present.
func (v *Verifier) checkBlockedExtensions(ctx context.Context, mint, source, destination solana.PublicKey) error {
	mintData, err := v.Cache.Get(ctx, mint.String(), true, fetcherFor(v.Fetch, mint))
	if err != nil {
		return apperrors.CacheError(err, "refresh mint %s for extension check", mint)
	}
	decodedMint, err := tokenstate.DecodeMint(mintData.Data, tokenstate.Token2022)
	if err != nil {
		return err
	}

	blockedMint, err := tokenstate.ResolveBlockedSet(v.Policy.Validation.Token2022.BlockedMintExtensions)
	if err != nil {
		return apperrors.Internal("resolve blocked mint extensions: %v", err)
	}
	if ext, bad := tokenstate.AnyBlocked(decodedMint.Extensions, blockedMint); bad {
		return apperrors.ValidationError("blocked mint extension %d found on mint %s", ext, mint)
	}

	blockedAccount, err := tokenstate.ResolveBlockedSet(v.Policy.Validation.Token2022.BlockedAccountExtensions)
	if err != nil {
		return apperrors.Internal("resolve blocked account extensions: %v", err)
	}
	for _, acctAddr := range []solana.PublicKey{source, destination} {
		acctData, err := v.Cache.Get(ctx, acctAddr.String(), true, fetcherFor(v.Fetch, acctAddr))
		if err != nil {
			return apperrors.CacheError(err, "refresh token account %s for extension check", acctAddr)
		}
		decodedAcct, err := tokenstate.DecodeAccount(acctData.Data, tokenstate.Token2022)
		if err != nil {
			return err
		}
		if ext, bad := tokenstate.AnyBlocked(decodedAcct.Extensions, blockedAccount); bad {
			return apperrors.ValidationError("blocked account extension %d found on account %s", ext, acctAddr)
		}
	}
	return nil
}

func (v *Verifier) resolveMint(ctx context.Context, t instruction.TokenInstruction) (solana.PublicKey, bool, error) {
	if t.HasMint {
		return t.Mint, true, nil
	}
	sourceData, ok, err := v.fetchAccount(ctx, t.Source)
	if err != nil || !ok {
		return solana.PublicKey{}, ok, err
	}
	variant := tokenstate.TokenClassic
	if t.Is2022 {
		variant = tokenstate.Token2022
	}
	acct, err := tokenstate.DecodeAccount(sourceData.Data, variant)
	if err != nil {
		return solana.PublicKey{}, false, err
	}
	return acct.Mint, true, nil
}

type decodedAccount struct {
	Owner solana.PublicKey
	Data  []byte
}

func (v *Verifier) fetchAccount(ctx context.Context, address solana.PublicKey) (decodedAccount, bool, error) {
	entry, err := v.Cache.Get(ctx, address.String(), false, fetcherFor(v.Fetch, address))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return decodedAccount{}, false, nil
		}
		return decodedAccount{}, false, apperrors.CacheError(err, "fetch account %s", address)
	}
	variant := tokenstate.TokenClassic
	if len(entry.Data) > 165 {
		variant = tokenstate.Token2022
	}
	acct, err := tokenstate.DecodeAccount(entry.Data, variant)
	if err != nil {
		return decodedAccount{}, false, err
	}
	return decodedAccount{Owner: acct.Owner, Data: entry.Data}, true, nil
}

// rawFetch returns an account's undecoded bytes, used for mint accounts
// whose layout differs from the token-account decoder fetchAccount uses.
func (v *Verifier) rawFetch(ctx context.Context, address solana.PublicKey) ([]byte, bool, error) {
	entry, err := v.Cache.Get(ctx, address.String(), false, fetcherFor(v.Fetch, address))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, apperrors.CacheError(err, "fetch account %s", address)
	}
	return entry.Data, true, nil
}

func fetcherFor(fetch envelope.AccountFetcher, address solana.PublicKey) cacheutil.Fetcher {
	return func(ctx context.Context, addr string) (cacheutil.Entry, error) {
		data, err := fetch(ctx, address)
		if err != nil {
			return cacheutil.Entry{}, err
		}
		return cacheutil.Entry{Data: data}, nil
	}
}
