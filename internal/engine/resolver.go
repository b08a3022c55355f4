package engine

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/envelope"
)

// ChainResolver is the concrete Resolver wiring components A+B+C: it
// expands a versioned message's address-table lookups (4.B), decodes the
// resulting full account-key vector, discovers inner instructions via
// simulation (4.C), and assembles the immutable ResolvedTransaction the
// rest of the core operates on.
type ChainResolver struct {
	Fetch       envelope.AccountFetcher
	Simulator   envelope.Simulator
	Reconstruct envelope.ParsedReconstructor
}

// Resolve implements the Resolver interface.
func (c *ChainResolver) Resolve(ctx context.Context, tx *solana.Transaction, verifySignatures bool) (*envelope.ResolvedTransaction, error) {
	staticKeys := tx.Message.AccountKeys

	var resolvedLookups []solana.PublicKey
	if tx.Message.IsVersioned() && len(tx.Message.AddressTableLookups) > 0 {
		var err error
		resolvedLookups, err = envelope.ResolveLookups(ctx, tx.Message.AddressTableLookups, c.Fetch)
		if err != nil {
			return nil, err
		}
	}
	allKeys := envelope.BuildAccountKeys(staticKeys, resolvedLookups)

	outer := make([]envelope.Instruction, 0, len(tx.Message.Instructions))
	for _, inst := range tx.Message.Instructions {
		outer = append(outer, envelope.Instruction{
			ProgramIDIndex: uint16(inst.ProgramIDIndex),
			Accounts:       toUint16s(inst.Accounts),
			Data:           inst.Data,
		})
	}

	inner, err := envelope.Discover(ctx, c.Simulator, tx, allKeys, c.Reconstruct, verifySignatures)
	if err != nil {
		return nil, err
	}

	r := &envelope.ResolvedTransaction{
		Tx:              tx,
		AllAccountKeys:  allKeys,
		AllInstructions: append(outer, inner...),
	}
	return r, nil
}

func toUint16s(in []uint16) []uint16 {
	out := make([]uint16, len(in))
	copy(out, in)
	return out
}
