// Package fee implements the fee calculator of spec.md §4.F: base
// network fee, extra-signature surcharge, fee-payer outflow in native
// and token terms, token-2022 transfer-fee surcharge, and pricing-model
// application.
package fee

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/shopspring/decimal"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/cacheutil"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/instruction"
	"github.com/solrelay/paymaster/internal/oracle"
	"github.com/solrelay/paymaster/internal/policy"
	"github.com/solrelay/paymaster/internal/tokenstate"
	"github.com/solrelay/paymaster/internal/walletutil"
)

// Illustrative defaults from spec.md §6's constants table; a real
// deployment may need to tune these per cluster, but the core has no
// policy field for them.
const (
	NativePerWhole              = 1_000_000_000
	OneSignatureLamports uint64 = 5_000
	PaymentSurchargeEstimate uint64 = 5_000
)

// RPC is the subset of chain RPC the calculator suspends on.
type RPC interface {
	GetFeeForMessage(ctx context.Context, tx *solana.Transaction) (uint64, error)
	CurrentEpoch(ctx context.Context) (uint64, error)
}

// Calculator computes a Breakdown for a resolved transaction under a
// policy snapshot.
type Calculator struct {
	Policy  policy.Policy
	Relayer solana.PublicKey
	RPC     RPC
	Cache   cacheutil.Cache
	Fetch   envelope.AccountFetcher
	Oracle  oracle.Provider
}

// Breakdown is the immutable fee record of spec.md §3.
type Breakdown struct {
	BaseFee                  uint64
	ExtraSignatureFee        uint64
	FeePayerOutflow          uint64
	PaymentInstructionSurcharge uint64
	TransferFeeSurcharge      uint64
	Total                    uint64
}

// Calculate computes the full breakdown and applies the configured
// pricing model, per spec.md §4.F.7.
func (c *Calculator) Calculate(ctx context.Context, r *envelope.ResolvedTransaction) (Breakdown, error) {
	model := c.Policy.Validation.Price

	if model.Kind == policy.PriceModelFree {
		return Breakdown{}, nil
	}

	if model.Kind == policy.PriceModelFixed && !model.Strict {
		lamports, err := c.fixedAmountToLamports(ctx, model)
		if err != nil {
			return Breakdown{}, err
		}
		return Breakdown{Total: lamports}, nil
	}

	full, err := c.fullBreakdown(ctx, r)
	if err != nil {
		return Breakdown{}, err
	}

	switch model.Kind {
	case policy.PriceModelFixed: // strict=true
		lamports, err := c.fixedAmountToLamports(ctx, model)
		if err != nil {
			return Breakdown{}, err
		}
		full.Total = lamports
		return full, nil

	case policy.PriceModelMargin:
		sum, ok := checkedSum(full.BaseFee, full.ExtraSignatureFee, full.FeePayerOutflow, full.PaymentInstructionSurcharge, full.TransferFeeSurcharge)
		if !ok {
			return Breakdown{}, apperrors.ValidationError("margin pricing sum overflow")
		}
		marginTotal := decimal.NewFromInt(int64(sum)).Mul(decimal.NewFromFloat(1 + model.Margin)).Ceil()
		if marginTotal.Sign() < 0 || !marginTotal.BigInt().IsUint64() {
			return Breakdown{}, apperrors.ValidationError("margin pricing overflow on sum %d with margin %f", sum, model.Margin)
		}
		full.Total = marginTotal.BigInt().Uint64()
		return full, nil

	default:
		return Breakdown{}, apperrors.ValidationError("unrecognized price model kind %q", model.Kind)
	}
}

func (c *Calculator) fullBreakdown(ctx context.Context, r *envelope.ResolvedTransaction) (Breakdown, error) {
	baseFee, err := c.RPC.GetFeeForMessage(ctx, r.Tx)
	if err != nil {
		return Breakdown{}, apperrors.RpcError(err, "fetch base network fee")
	}

	extraSig := c.extraSignatureFee(r)

	outflow, err := c.feePayerOutflow(ctx, r)
	if err != nil {
		return Breakdown{}, err
	}

	paymentSurcharge, transferFeeSurcharge, err := c.paymentSurcharges(ctx, r)
	if err != nil {
		return Breakdown{}, err
	}

	total, ok := checkedSum(baseFee, extraSig, outflow, paymentSurcharge, transferFeeSurcharge)
	if !ok {
		return Breakdown{}, apperrors.ValidationError("fee breakdown total overflow")
	}

	return Breakdown{
		BaseFee:                     baseFee,
		ExtraSignatureFee:           extraSig,
		FeePayerOutflow:             outflow,
		PaymentInstructionSurcharge: paymentSurcharge,
		TransferFeeSurcharge:        transferFeeSurcharge,
		Total:                       total,
	}, nil
}

// extraSignatureFee implements 4.F.2: one signature's worth of lamports
// if the relayer is not among the first RequiredSigners keys.
func (c *Calculator) extraSignatureFee(r *envelope.ResolvedTransaction) uint64 {
	slot := walletutil.SignerSlot(r.AllAccountKeys, r.RequiredSigners(), c.Relayer)
	if slot >= 0 {
		return 0
	}
	return OneSignatureLamports
}

// feePayerOutflow implements 4.F.3: native-unit outflow from parsed
// system instructions, plus 4.F.4's SPL outflow converted to lamports.
func (c *Calculator) feePayerOutflow(ctx context.Context, r *envelope.ResolvedTransaction) (uint64, error) {
	sysKinds, err := instruction.ParseSystemInstructions(r)
	if err != nil {
		return 0, err
	}

	var outflow, inflow uint64
	for _, entry := range sysKinds[instruction.SystemTransfer] {
		if entry.Sender.Equals(c.Relayer) {
			var ok bool
			outflow, ok = addChecked(outflow, entry.Lamports)
			if !ok {
				return 0, apperrors.ValidationError("fee-payer outflow overflow summing System Transfer")
			}
		}
		if entry.Receiver.Equals(c.Relayer) {
			var ok bool
			inflow, ok = addChecked(inflow, entry.Lamports) // saturating per spec; overflow here just caps
			if !ok {
				inflow = ^uint64(0)
			}
		}
	}
	for _, entry := range sysKinds[instruction.SystemCreateAccount] {
		if entry.Payer.Equals(c.Relayer) {
			var ok bool
			outflow, ok = addChecked(outflow, entry.Lamports)
			if !ok {
				return 0, apperrors.ValidationError("fee-payer outflow overflow summing System CreateAccount")
			}
		}
	}
	for _, entry := range sysKinds[instruction.SystemWithdrawNonce] {
		if entry.Authority.Equals(c.Relayer) {
			var ok bool
			outflow, ok = addChecked(outflow, entry.Lamports)
			if !ok {
				return 0, apperrors.ValidationError("fee-payer outflow overflow summing System WithdrawNonce")
			}
		}
		if entry.Recipient.Equals(c.Relayer) {
			var ok bool
			inflow, ok = addChecked(inflow, entry.Lamports)
			if !ok {
				inflow = ^uint64(0)
			}
		}
	}

	nativeOutflow := saturatingSub(outflow, inflow)

	splOutflow, err := c.splOutflowLamports(ctx, r)
	if err != nil {
		return 0, err
	}

	total, ok := addChecked(nativeOutflow, splOutflow)
	if !ok {
		return 0, apperrors.ValidationError("fee-payer outflow overflow combining native and SPL outflow")
	}
	return total, nil
}

// splOutflowLamports implements 4.F.4: groups parsed token transfers by
// mint, classifies each as outflow or inflow relative to the relayer,
// converts via oracle price + decimals, and returns the net lamports.
func (c *Calculator) splOutflowLamports(ctx context.Context, r *envelope.ResolvedTransaction) (uint64, error) {
	tokKinds, err := instruction.ParseTokenInstructions(r)
	if err != nil {
		return 0, err
	}
	transfers := tokKinds[instruction.TokenTransfer]
	if len(transfers) == 0 {
		return 0, nil
	}

	type classified struct {
		mint     string
		outflow  bool
		amount   uint64
	}
	var entries []classified
	mintSet := make(map[string]struct{})

	for _, t := range transfers {
		mint, ok, err := c.resolveMint(ctx, t)
		if err != nil {
			return 0, err
		}
		if !ok {
			continue
		}

		if t.Owner.Equals(c.Relayer) {
			entries = append(entries, classified{mint: mint, outflow: true, amount: t.Amount})
			mintSet[mint] = struct{}{}
			continue
		}

		destOwner, destExists, err := c.destinationOwner(ctx, t.Destination)
		if err != nil {
			return 0, err
		}
		if destExists && destOwner.Equals(c.Relayer) {
			entries = append(entries, classified{mint: mint, outflow: false, amount: t.Amount})
			mintSet[mint] = struct{}{}
			continue
		}
		if !destExists {
			if matchesDeterministicATA(c.Relayer, t.Destination, mint) {
				entries = append(entries, classified{mint: mint, outflow: false, amount: t.Amount})
				mintSet[mint] = struct{}{}
			}
			// else: not the relayer's business, skip per spec.md §4.F.4.
		}
	}
	if len(entries) == 0 {
		return 0, nil
	}

	mints := make([]string, 0, len(mintSet))
	for m := range mintSet {
		mints = append(mints, m)
	}
	prices, err := c.Oracle.GetPrices(ctx, mints)
	if err != nil {
		return 0, err
	}

	var totalOutflow, totalInflow decimal.Decimal
	for _, e := range entries {
		decimals, err := c.mintDecimals(ctx, e.mint)
		if err != nil {
			return 0, err
		}
		price, ok := prices[e.mint]
		if !ok {
			return 0, apperrors.OracleError(nil, "no price returned for mint %s", e.mint)
		}
		lamports := decimal.NewFromInt(int64(e.amount)).
			Mul(price).
			Mul(decimal.NewFromInt(NativePerWhole)).
			Div(decimal.New(1, int32(decimals))).
			Floor()
		if e.outflow {
			totalOutflow = totalOutflow.Add(lamports)
		} else {
			totalInflow = totalInflow.Add(lamports)
		}
	}

	net := totalOutflow.Sub(totalInflow)
	if net.Sign() < 0 {
		net = decimal.Zero
	}
	if !net.BigInt().IsUint64() {
		return 0, apperrors.ValidationError("SPL outflow conversion overflow")
	}
	return net.BigInt().Uint64(), nil
}

// paymentSurcharges implements 4.F.5 and 4.F.6: the estimated extra
// instruction surcharge when no payment transfer exists yet, and the
// token-2022 transfer-fee surcharge on payment transfers that have one.
func (c *Calculator) paymentSurcharges(ctx context.Context, r *envelope.ResolvedTransaction) (uint64, uint64, error) {
	tokKinds, err := instruction.ParseTokenInstructions(r)
	if err != nil {
		return 0, 0, err
	}
	transfers := tokKinds[instruction.TokenTransfer]

	destinationOwner := c.Policy.PaymentDestinationOwner(c.Relayer.String())

	currentEpoch, err := c.RPC.CurrentEpoch(ctx)
	if err != nil {
		return 0, 0, apperrors.RpcError(err, "fetch current epoch for transfer-fee surcharge")
	}

	var foundPayment bool
	var transferFeeSurcharge uint64

	for _, t := range transfers {
		owner, ok, err := c.destinationOwner(ctx, t.Destination)
		if err != nil {
			return 0, 0, err
		}
		if !ok || owner.String() != destinationOwner {
			continue
		}
		foundPayment = true

		mint, ok, err := c.resolveMint(ctx, t)
		if err != nil {
			return 0, 0, err
		}
		if !ok {
			continue
		}
		mintPk, err := solana.PublicKeyFromBase58(mint)
		if err != nil {
			continue
		}
		data, err := c.Cache.Get(ctx, mint, false, mintFetcher(c.Fetch, mintPk))
		if err != nil {
			return 0, 0, apperrors.CacheError(err, "fetch mint %s for transfer-fee surcharge", mint)
		}
		variant := tokenstate.TokenClassic
		if t.Is2022 {
			variant = tokenstate.Token2022
		}
		decoded, err := tokenstate.DecodeMint(data.Data, variant)
		if err != nil {
			return 0, 0, err
		}
		if decoded.TransferFee == nil {
			continue
		}
		surcharge, err := decoded.TransferFee.CalculateFee(t.Amount, currentEpoch)
		if err != nil {
			return 0, 0, err
		}
		var ok2 bool
		transferFeeSurcharge, ok2 = addChecked(transferFeeSurcharge, surcharge)
		if !ok2 {
			return 0, 0, apperrors.ValidationError("transfer-fee surcharge overflow")
		}
	}

	var paymentSurcharge uint64
	if c.Policy.Validation.IsPaymentRequired() && !foundPayment {
		paymentSurcharge = PaymentSurchargeEstimate
	}

	return paymentSurcharge, transferFeeSurcharge, nil
}

func (c *Calculator) fixedAmountToLamports(ctx context.Context, model policy.PriceModel) (uint64, error) {
	price, err := oracle.GetPrice(ctx, c.Oracle, model.FixedToken)
	if err != nil {
		return 0, err
	}
	decimals, err := c.mintDecimals(ctx, model.FixedToken)
	if err != nil {
		return 0, err
	}
	lamports := decimal.NewFromInt(int64(model.FixedAmount)).
		Mul(price).
		Mul(decimal.NewFromInt(NativePerWhole)).
		Div(decimal.New(1, int32(decimals))).
		Floor()
	if lamports.Sign() < 0 || !lamports.BigInt().IsUint64() {
		return 0, apperrors.ValidationError("fixed price conversion overflow for token %s", model.FixedToken)
	}
	return lamports.BigInt().Uint64(), nil
}

// resolveMint returns the transfer's mint address, fetching the source
// token account when TransferChecked didn't already carry it.
func (c *Calculator) resolveMint(ctx context.Context, t instruction.TokenInstruction) (string, bool, error) {
	if t.HasMint {
		return t.Mint.String(), true, nil
	}
	data, err := c.Cache.Get(ctx, t.Source.String(), false, accountFetcher(c.Fetch, t.Source))
	if err != nil {
		return "", false, apperrors.CacheError(err, "fetch token account %s to resolve mint", t.Source)
	}
	variant := tokenstate.TokenClassic
	if t.Is2022 {
		variant = tokenstate.Token2022
	}
	acct, err := tokenstate.DecodeAccount(data.Data, variant)
	if err != nil {
		return "", false, err
	}
	return acct.Mint.String(), true, nil
}

// LamportsToTokenUnits converts a lamport amount into the smallest units
// of mint, inverting the price+decimals conversion used throughout this
// calculator, for estimateTransactionFee's optional fee-token display.
func (c *Calculator) LamportsToTokenUnits(ctx context.Context, lamports uint64, mint string) (uint64, error) {
	price, err := oracle.GetPrice(ctx, c.Oracle, mint)
	if err != nil {
		return 0, err
	}
	if price.Sign() <= 0 {
		return 0, apperrors.OracleError(nil, "non-positive price returned for mint %s", mint)
	}
	decimals, err := c.mintDecimals(ctx, mint)
	if err != nil {
		return 0, err
	}
	units := decimal.NewFromInt(int64(lamports)).
		Mul(decimal.New(1, int32(decimals))).
		Div(price).
		Div(decimal.NewFromInt(NativePerWhole)).
		Ceil()
	if units.Sign() < 0 || !units.BigInt().IsUint64() {
		return 0, apperrors.ValidationError("fee-token conversion overflow for mint %s", mint)
	}
	return units.BigInt().Uint64(), nil
}

func (c *Calculator) mintDecimals(ctx context.Context, mint string) (uint8, error) {
	mintPk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, apperrors.TokenOperationError(err, "invalid mint address %s", mint)
	}
	data, err := c.Cache.Get(ctx, mint, false, mintFetcher(c.Fetch, mintPk))
	if err != nil {
		return 0, apperrors.CacheError(err, "fetch mint %s for decimals", mint)
	}
	decoded, err := tokenstate.DecodeMint(data.Data, mintVariantFromLen(data.Data))
	if err != nil {
		return 0, err
	}
	return decoded.Decimals, nil
}

// destinationOwner fetches a token account's owner, returning ok=false
// when the account doesn't exist (a legitimate, not-an-error outcome the
// caller uses for the deterministic-ATA shortcut).
func (c *Calculator) destinationOwner(ctx context.Context, destination solana.PublicKey) (solana.PublicKey, bool, error) {
	data, err := c.Cache.Get(ctx, destination.String(), false, accountFetcher(c.Fetch, destination))
	if err != nil {
		if apperrors.IsNotFound(err) {
			return solana.PublicKey{}, false, nil
		}
		return solana.PublicKey{}, false, apperrors.CacheError(err, "fetch destination token account %s", destination)
	}
	acct, err := tokenstate.DecodeAccount(data.Data, accountVariantFromLen(data.Data))
	if err != nil {
		return solana.PublicKey{}, false, err
	}
	return acct.Owner, true, nil
}

func matchesDeterministicATA(relayer, destination solana.PublicKey, mint string) bool {
	mintPk, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return false
	}
	for _, programID := range []solana.PublicKey{tokenstate.ClassicProgramID, tokenstate.Token2022ProgramID} {
		ata, err := walletutil.AssociatedTokenAddress(relayer, mintPk, programID)
		if err == nil && ata.Equals(destination) {
			return true
		}
	}
	return false
}

// mintVariantFromLen and accountVariantFromLen infer the program variant
// from account length when the caller has no other way to know it (a
// mint/account reached only via a destination address, not a parsed
// instruction's Is2022 flag): token-2022 accounts are always longer than
// the classic program's fixed-size layout once they carry extension data,
// and DecodeMint/DecodeAccount only consult the variant to decide
// whether to look for trailing TLV extensions at all.
func mintVariantFromLen(data []byte) tokenstate.ProgramVariant {
	if len(data) > 82 {
		return tokenstate.Token2022
	}
	return tokenstate.TokenClassic
}

func accountVariantFromLen(data []byte) tokenstate.ProgramVariant {
	if len(data) > 165 {
		return tokenstate.Token2022
	}
	return tokenstate.TokenClassic
}

func accountFetcher(fetch envelope.AccountFetcher, address solana.PublicKey) cacheutil.Fetcher {
	return func(ctx context.Context, addr string) (cacheutil.Entry, error) {
		data, err := fetch(ctx, address)
		if err != nil {
			return cacheutil.Entry{}, err
		}
		return cacheutil.Entry{Data: data}, nil
	}
}

func mintFetcher(fetch envelope.AccountFetcher, address solana.PublicKey) cacheutil.Fetcher {
	return accountFetcher(fetch, address)
}

func checkedSum(vals ...uint64) (uint64, bool) {
	var sum uint64
	for _, v := range vals {
		var ok bool
		sum, ok = addChecked(sum, v)
		if !ok {
			return 0, false
		}
	}
	return sum, true
}

func addChecked(a, b uint64) (uint64, bool) {
	sum := a + b
	if sum < a {
		return 0, false
	}
	return sum, true
}

func saturatingSub(a, b uint64) uint64 {
	if b >= a {
		return 0
	}
	return a - b
}
