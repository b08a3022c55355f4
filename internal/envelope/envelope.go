// Package envelope owns the wire decoder (4.A), the lookup-table
// resolver (4.B), and the inner-instruction discoverer (4.C): together
// they turn a base64 transaction into a fully resolved, immutable view
// with a complete account-key vector and instruction list.
package envelope

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// ErrAccountNotFound is the sentinel an AccountFetcher returns for an
// address with no on-chain account. Callers that need to distinguish
// "missing" from a transient RPC failure (e.g. the deterministic-ATA
// shortcut in fee calculation) check errors.Is(err, ErrAccountNotFound).
var ErrAccountNotFound = apperrors.ErrAccountNotFound

// AccountFetcher retrieves a single account's raw data, shared by the
// lookup-table resolver, the fee calculator, and the payment verifier.
type AccountFetcher func(ctx context.Context, address solana.PublicKey) ([]byte, error)

// Instruction is a reconstructed compiled instruction: a program index
// into the resolved account-key vector, the account indexes it touches,
// and its raw data bytes. Both outer and (discovered) inner instructions
// share this shape.
type Instruction struct {
	ProgramIDIndex uint16
	Accounts       []uint16
	Data           []byte
	// Stub marks an inner instruction from an unrecognized program that
	// could only be reconstructed as a program-id-only placeholder.
	Stub bool
}

// ResolvedTransaction is the immutable view the rest of the core
// operates on: the decoded envelope plus its fully expanded account-key
// vector (static keys followed by resolved lookup-table writable, then
// readonly, addresses) and its complete instruction list (outer
// instructions followed by discovered inner instructions, in simulator
// traversal order).
//
// Two parse caches (system-instruction, token-instruction) are filled
// lazily under a mutex rather than eagerly during construction, since a
// pure SOL transfer never needs token parsing at all (design note 9(b)).
type ResolvedTransaction struct {
	Tx              *solana.Transaction
	AllAccountKeys  []solana.PublicKey
	AllInstructions []Instruction

	mu                sync.Mutex
	systemParseCache  any
	tokenParseCache   any
}

// SetSystemParseCache stores an arbitrary parsed-system-instruction cache
// payload, guarded by the resolved transaction's own mutex. The instruction
// package owns the concrete type; envelope only provides the guard.
func (r *ResolvedTransaction) SetSystemParseCache(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.systemParseCache = v
}

// SystemParseCache returns the cached payload set by SetSystemParseCache,
// or nil if none has been set yet.
func (r *ResolvedTransaction) SystemParseCache() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.systemParseCache
}

// SetTokenParseCache stores the parsed-token-instruction cache payload.
func (r *ResolvedTransaction) SetTokenParseCache(v any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenParseCache = v
}

// TokenParseCache returns the cached token-parse payload, or nil.
func (r *ResolvedTransaction) TokenParseCache() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tokenParseCache
}

// RequiredSigners returns the number of account keys that must sign.
func (r *ResolvedTransaction) RequiredSigners() uint8 {
	return r.Tx.Message.Header.NumRequiredSignatures
}

// Decode parses a base64-encoded transaction envelope. It performs no
// semantic validation — only wire-level decoding.
func Decode(base64Tx string) (*solana.Transaction, error) {
	tx, err := solana.TransactionFromBase64(base64Tx)
	if err != nil {
		return nil, apperrors.MalformedEnvelope(err)
	}
	return tx, nil
}

// Encode serializes a transaction back to base64, used by the round-trip
// decode∘encode identity tests and by the signer orchestrator's output.
func Encode(tx *solana.Transaction) (string, error) {
	return tx.ToBase64()
}
