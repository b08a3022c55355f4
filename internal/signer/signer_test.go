package signer

import (
	"context"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/solrelay/paymaster/internal/envelope"
)

type fakeCapability struct {
	pub solana.PublicKey
	sig solana.Signature
	err error
}

func (f *fakeCapability) Sign(ctx context.Context, messageBytes []byte) (solana.Signature, error) {
	return f.sig, f.err
}
func (f *fakeCapability) PublicKey() solana.PublicKey { return f.pub }

type fakeChainRPC struct {
	blockhash   solana.Hash
	blockhashErr error
	sendSig     solana.Signature
	sendErr     error
}

func (f *fakeChainRPC) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return f.blockhash, f.blockhashErr
}
func (f *fakeChainRPC) SendAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return f.sendSig, f.sendErr
}

func newTestResolved(relayer solana.PublicKey, numRequiredSigners uint8) *envelope.ResolvedTransaction {
	tx := &solana.Transaction{}
	tx.Message.Header.NumRequiredSignatures = numRequiredSigners
	return &envelope.ResolvedTransaction{
		Tx:             tx,
		AllAccountKeys: []solana.PublicKey{relayer, solana.NewWallet().PublicKey()},
	}
}

func TestSignFetchesBlockhashWhenUnsigned(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	var wantHash solana.Hash
	wantHash[0] = 7
	var wantSig solana.Signature
	wantSig[0] = 9

	o := &Orchestrator{
		Signer: &fakeCapability{pub: relayer, sig: wantSig},
		RPC:    &fakeChainRPC{blockhash: wantHash},
	}
	r := newTestResolved(relayer, 1)

	result, err := o.Sign(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StateSigned, result.State)
	assert.Equal(t, wantHash, r.Tx.Message.RecentBlockhash)
	assert.Equal(t, wantSig, r.Tx.Signatures[0])
}

func TestSignSkipsBlockhashRefreshWhenAlreadySigned(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	r := newTestResolved(relayer, 1)
	r.Tx.Signatures = []solana.Signature{{}}

	o := &Orchestrator{
		Signer: &fakeCapability{pub: relayer},
		RPC:    &fakeChainRPC{},
	}

	_, err := o.Sign(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, solana.Hash{}, r.Tx.Message.RecentBlockhash)
}

func TestSignRejectsUnknownSignerSlot(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	other := solana.NewWallet().PublicKey()
	r := newTestResolved(other, 1) // relayer is not among the first required signer

	o := &Orchestrator{
		Signer: &fakeCapability{pub: relayer},
		RPC:    &fakeChainRPC{},
	}

	_, err := o.Sign(context.Background(), r)
	assert.Error(t, err)
}

func TestSignPropagatesSigningCapabilityError(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	r := newTestResolved(relayer, 1)

	o := &Orchestrator{
		Signer: &fakeCapability{pub: relayer, err: errors.New("hsm unavailable")},
		RPC:    &fakeChainRPC{},
	}

	_, err := o.Sign(context.Background(), r)
	assert.Error(t, err)
}

func TestSignAndSendBroadcastsAfterSigning(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	r := newTestResolved(relayer, 1)
	var wantOnChainSig solana.Signature
	wantOnChainSig[63] = 9

	o := &Orchestrator{
		Signer: &fakeCapability{pub: relayer},
		RPC:    &fakeChainRPC{sendSig: wantOnChainSig},
	}

	result, err := o.SignAndSend(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, StateConfirmed, result.State)
	assert.Equal(t, wantOnChainSig, result.Signature)
}

func TestSignAndSendPropagatesBroadcastError(t *testing.T) {
	relayer := solana.NewWallet().PublicKey()
	r := newTestResolved(relayer, 1)

	o := &Orchestrator{
		Signer: &fakeCapability{pub: relayer},
		RPC:    &fakeChainRPC{sendErr: errors.New("node rejected transaction")},
	}

	_, err := o.SignAndSend(context.Background(), r)
	assert.Error(t, err)
}
