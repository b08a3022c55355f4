// Package chainrpc is the thin *rpc.Client adapter implementing the
// core's suspension-point interfaces (fee.RPC, signer.ChainRPC,
// envelope.Simulator, envelope.AccountFetcher), wrapping every call with
// the shared retry and circuit-breaker policies, grounded on the
// teacher's internal/httpserver/rpc_proxy.go and pkg/x402/solana/verifier.go
// usage of *rpc.Client.
package chainrpc

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/solrelay/paymaster/internal/apperrors"
	"github.com/solrelay/paymaster/internal/breaker"
	"github.com/solrelay/paymaster/internal/envelope"
	"github.com/solrelay/paymaster/internal/rpcutil"
)

// Client wraps a gagliardetto/solana-go rpc.Client with this core's
// resilience policy.
type Client struct {
	RPC      *rpc.Client
	Breakers *breaker.Manager
}

// New builds a Client against url, ungoverned by a breaker if mgr is nil.
func New(url string, mgr *breaker.Manager) *Client {
	return &Client{RPC: rpc.New(url), Breakers: mgr}
}

func (c *Client) withResilience(ctx context.Context, fn func() (any, error)) (any, error) {
	return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (any, error) {
		return rpcutil.WithRetry(ctx, fn)
	})
}

// GetAccount implements envelope.AccountFetcher (and cacheutil.Fetcher's
// underlying source): fetches raw account data at "confirmed" commitment,
// returning apperrors.ErrAccountNotFound when the account doesn't exist.
func (c *Client) GetAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	result, err := rpcutil.WithRetry(ctx, func() (*rpc.GetAccountInfoResult, error) {
		return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (*rpc.GetAccountInfoResult, error) {
			return c.RPC.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
				Commitment: rpc.CommitmentConfirmed,
				Encoding:   solana.EncodingBase64,
			})
		})
	})
	if err != nil {
		return nil, apperrors.RpcError(err, "fetch account %s", address)
	}
	if result == nil || result.Value == nil {
		return nil, apperrors.ErrAccountNotFound
	}
	return result.Value.Data.GetBinary(), nil
}

// GetFeeForMessage implements fee.RPC.
func (c *Client) GetFeeForMessage(ctx context.Context, tx *solana.Transaction) (uint64, error) {
	result, err := rpcutil.WithRetry(ctx, func() (*rpc.GetFeeForMessageResult, error) {
		return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (*rpc.GetFeeForMessageResult, error) {
			return c.RPC.GetFeeForMessage(ctx, tx.Message)
		})
	})
	if err != nil {
		return 0, apperrors.RpcError(err, "fetch fee for message")
	}
	if result == nil || result.Value == nil {
		return 0, apperrors.RpcError(nil, "node returned no fee for message")
	}
	return *result.Value, nil
}

// CurrentEpoch implements fee.RPC, used for the token-2022 transfer-fee
// tier lookup.
func (c *Client) CurrentEpoch(ctx context.Context) (uint64, error) {
	info, err := rpcutil.WithRetry(ctx, func() (*rpc.GetEpochInfoResult, error) {
		return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (*rpc.GetEpochInfoResult, error) {
			return c.RPC.GetEpochInfo(ctx, rpc.CommitmentConfirmed)
		})
	})
	if err != nil {
		return 0, apperrors.RpcError(err, "fetch current epoch")
	}
	return info.Epoch, nil
}

// LatestBlockhash implements signer.ChainRPC.
func (c *Client) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	result, err := rpcutil.WithRetry(ctx, func() (*rpc.GetLatestBlockhashResult, error) {
		return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (*rpc.GetLatestBlockhashResult, error) {
			return c.RPC.GetLatestBlockhash(ctx, rpc.CommitmentConfirmed)
		})
	})
	if err != nil {
		return solana.Hash{}, apperrors.RpcError(err, "fetch latest blockhash")
	}
	return result.Value.Blockhash, nil
}

// SendAndConfirm implements signer.ChainRPC: broadcasts and polls for
// confirmation at "confirmed" commitment, per the teacher's queue.go
// send-and-poll pattern.
func (c *Client) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := rpcutil.WithRetry(ctx, func() (solana.Signature, error) {
		return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (solana.Signature, error) {
			return c.RPC.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
				SkipPreflight:       false,
				PreflightCommitment: rpc.CommitmentConfirmed,
			})
		})
	})
	if err != nil {
		return solana.Signature{}, apperrors.RpcError(err, "broadcast transaction")
	}

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Client) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	statuses, err := rpcutil.WithRetry(ctx, func() (*rpc.GetSignatureStatusesResult, error) {
		res, err := breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (*rpc.GetSignatureStatusesResult, error) {
			return c.RPC.GetSignatureStatuses(ctx, true, sig)
		})
		if err != nil {
			return nil, err
		}
		// A missing status is a retryable RpcError, so WithRetry polls again.
		if len(res.Value) == 0 || res.Value[0] == nil {
			return nil, apperrors.RpcError(nil, "no confirmation status yet for %s", sig)
		}
		return res, nil
	})
	if err != nil {
		return apperrors.RpcError(err, "poll signature status for %s", sig)
	}
	status := statuses.Value[0]
	if status.Err != nil {
		return apperrors.InvalidTransaction("transaction %s failed on-chain: %v", sig, status.Err)
	}
	return nil
}

// Simulate implements envelope.Simulator, translating the RPC node's
// simulation response into the discoverer's form-tagged shape. The
// gagliardetto client only ever returns inner instructions in compiled
// form (index-based), never the jsonParsed/partially-decoded shapes a
// raw JSON-RPC client could request — so FormParsed/FormPartiallyDecoded
// are unreachable through this adapter today; they exist in
// envelope.RawInnerInstruction for a future client that requests
// encoding=jsonParsed directly (DESIGN.md documents this simplification).
func (c *Client) Simulate(ctx context.Context, tx *solana.Transaction, verifySignatures bool) (envelope.SimulationResult, error) {
	opts := rpc.SimulateTransactionOpts{
		SigVerify:              verifySignatures,
		ReplaceRecentBlockhash: !verifySignatures,
		Commitment:             rpc.CommitmentConfirmed,
	}
	resp, err := rpcutil.WithRetry(ctx, func() (*rpc.SimulateTransactionResponse, error) {
		return breaker.Execute(c.Breakers, breaker.CapabilityRPC, func() (*rpc.SimulateTransactionResponse, error) {
			return c.RPC.SimulateTransactionWithOpts(ctx, tx, &opts)
		})
	})
	if err != nil {
		return envelope.SimulationResult{}, apperrors.RpcError(err, "simulate transaction")
	}
	if resp == nil || resp.Value == nil {
		return envelope.SimulationResult{}, apperrors.RpcError(nil, "node returned no simulation result")
	}

	result := envelope.SimulationResult{}
	if resp.Value.Err != nil {
		result.Failed = true
		result.FailureLogs = resp.Value.Logs
		return result, nil
	}

	for _, group := range resp.Value.InnerInstructions {
		entries := make([]envelope.RawInnerInstruction, 0, len(group.Instructions))
		for _, inst := range group.Instructions {
			entries = append(entries, envelope.RawInnerInstruction{
				Form:           envelope.FormCompiled,
				ProgramIDIndex: uint16(inst.ProgramIDIndex),
				AccountIndexes: inst.Accounts,
				DataBase58:     inst.Data.String(),
			})
		}
		result.InnerGroups = append(result.InnerGroups, envelope.InnerGroup{
			OuterIndex: int(group.Index),
			Entries:    entries,
		})
	}
	return result, nil
}
