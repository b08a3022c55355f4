// Package signer implements the signer orchestrator of spec.md §4.H: a
// small per-request state machine that refreshes the blockhash when
// needed, calls the signing capability, places the co-signature at the
// relayer's slot, and optionally broadcasts and awaits confirmation.
package signer

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/walletutil"
)

// State names a step of the orchestrator's state machine, exposed for
// logging/metrics only — the core does not branch on it externally.
type State string

const (
	StateReceived        State = "received"
	StateValidated       State = "validated"
	StatePriced          State = "priced"
	StatePaymentChecked  State = "payment_checked"
	StateBlockhashReady  State = "blockhash_ready"
	StateSigned          State = "signed"
	StateBroadcast       State = "broadcast"
	StateConfirmed       State = "confirmed"
)

// Capability is the opaque signing backend: given a serialized message,
// it returns the relayer's signature over it. It may serialize calls
// internally (e.g. a hardware module); the core assumes thread safety
// and adds no locking of its own (spec.md §5).
type Capability interface {
	Sign(ctx context.Context, messageBytes []byte) (solana.Signature, error)
	PublicKey() solana.PublicKey
}

// ChainRPC is the subset of RPC the orchestrator suspends on for
// blockhash refresh and (optional) broadcast.
type ChainRPC interface {
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Orchestrator drives the BlockhashReady -> Signed -> [Broadcast] steps.
type Orchestrator struct {
	Signer Capability
	RPC    ChainRPC
}

// Result is the outcome of Sign or SignAndSend.
type Result struct {
	SignedTx  *solana.Transaction
	Signature solana.Signature
	State     State
}

// Sign implements signTransaction: it does not broadcast.
func (o *Orchestrator) Sign(ctx context.Context, r *envelope.ResolvedTransaction) (Result, error) {
	if err := o.ensureBlockhash(ctx, r); err != nil {
		return Result{}, err
	}
	sig, err := o.placeCoSignature(ctx, r)
	if err != nil {
		return Result{}, err
	}
	return Result{SignedTx: r.Tx, Signature: sig, State: StateSigned}, nil
}

// SignAndSend implements signAndSendTransaction: sign, then submit and
// await confirmation.
func (o *Orchestrator) SignAndSend(ctx context.Context, r *envelope.ResolvedTransaction) (Result, error) {
	result, err := o.Sign(ctx, r)
	if err != nil {
		return Result{}, err
	}

	onChainSig, err := o.RPC.SendAndConfirm(ctx, r.Tx)
	if err != nil {
		return Result{}, apperrors.RpcError(err, "broadcast and confirm transaction")
	}
	result.Signature = onChainSig
	result.State = StateConfirmed
	return result, nil
}

// ensureBlockhash implements the BlockhashReady step: if the envelope's
// signature vector is empty, fetch the latest blockhash at "confirmed"
// commitment and write it into the message.
func (o *Orchestrator) ensureBlockhash(ctx context.Context, r *envelope.ResolvedTransaction) error {
	if len(r.Tx.Signatures) > 0 {
		return nil
	}
	hash, err := o.RPC.LatestBlockhash(ctx)
	if err != nil {
		return apperrors.RpcError(err, "fetch latest blockhash")
	}
	r.Tx.Message.RecentBlockhash = hash
	return nil
}

// placeCoSignature implements the Signed step: serialize the message,
// call the signer, and overwrite the relayer's slot in the signature
// vector with the result.
func (o *Orchestrator) placeCoSignature(ctx context.Context, r *envelope.ResolvedTransaction) (solana.Signature, error) {
	slot := walletutil.SignerSlot(r.AllAccountKeys, r.RequiredSigners(), o.Signer.PublicKey())
	if slot < 0 {
		return solana.Signature{}, apperrors.ValidationError("relayer %s is not a known signer slot on this transaction", o.Signer.PublicKey())
	}

	messageBytes, err := r.Tx.Message.MarshalBinary()
	if err != nil {
		return solana.Signature{}, apperrors.ValidationError("serialize message for signing: %v", err)
	}

	sig, err := o.Signer.Sign(ctx, messageBytes)
	if err != nil {
		return solana.Signature{}, apperrors.SigningError(err, "signer capability rejected the transaction")
	}

	for len(r.Tx.Signatures) <= slot {
		r.Tx.Signatures = append(r.Tx.Signatures, solana.Signature{})
	}
	r.Tx.Signatures[slot] = sig
	return sig, nil
}
