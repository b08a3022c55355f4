package envelope

import (
	"context"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// InnerForm discriminates the three wire shapes a simulator can return an
// inner instruction in.
type InnerForm int

const (
	FormCompiled InnerForm = iota
	FormParsed
	FormPartiallyDecoded
)

// RawInnerInstruction is what a Simulator hands back for one inner
// instruction, in whichever of the three forms the RPC node chose to
// encode it.
type RawInnerInstruction struct {
	Form InnerForm

	// Compiled form.
	ProgramIDIndex uint16
	AccountIndexes []uint16
	DataBase58     string

	// Parsed form.
	ProgramID     solana.PublicKey
	ParsedType    string
	ParsedInfo    map[string]any

	// PartiallyDecoded form.
	Accounts   []solana.PublicKey
	DataBase58Partial string
}

// InnerGroup is every inner instruction triggered by one outer
// instruction, keyed by that instruction's index in the outer list.
type InnerGroup struct {
	OuterIndex int
	Entries    []RawInnerInstruction
}

// SimulationResult is the subset of a transaction simulation response the
// discoverer needs.
type SimulationResult struct {
	Failed      bool
	FailureLogs []string
	InnerGroups []InnerGroup
}

// Simulator runs the transaction through the chain's simulation endpoint
// with inner-instruction reporting enabled.
type Simulator interface {
	Simulate(ctx context.Context, tx *solana.Transaction, verifySignatures bool) (SimulationResult, error)
}

// ParsedReconstructor rebuilds the raw instruction bytes for a
// known-program parsed-form inner instruction. It returns ok=false for
// any program/type it doesn't recognize, in which case the discoverer
// falls back to a program-id-only stub.
type ParsedReconstructor func(programID solana.PublicKey, parsedType string, info map[string]any) (data []byte, accounts []solana.PublicKey, ok bool)

// Discover runs a simulation and reconstructs every inner instruction
// into the same Instruction shape as the outer instructions, appended in
// the simulator's traversal order after them, per spec.md §4.C.
func Discover(ctx context.Context, sim Simulator, tx *solana.Transaction, allAccountKeys []solana.PublicKey, reconstruct ParsedReconstructor, verifySignatures bool) ([]Instruction, error) {
	result, err := sim.Simulate(ctx, tx, verifySignatures)
	if err != nil {
		return nil, apperrors.RpcError(err, "simulate transaction for inner-instruction discovery")
	}
	if result.Failed {
		return nil, apperrors.InvalidTransaction("transaction simulation failed: %v", result.FailureLogs)
	}

	indexOf := make(map[solana.PublicKey]uint16, len(allAccountKeys))
	for i, k := range allAccountKeys {
		indexOf[k] = uint16(i)
	}

	var out []Instruction
	for _, group := range result.InnerGroups {
		for _, entry := range group.Entries {
			inst, err := reconstructOne(entry, indexOf, reconstruct)
			if err != nil {
				return nil, err
			}
			out = append(out, inst)
		}
	}
	return out, nil
}

func reconstructOne(entry RawInnerInstruction, indexOf map[solana.PublicKey]uint16, reconstruct ParsedReconstructor) (Instruction, error) {
	switch entry.Form {
	case FormCompiled:
		data, err := base58.Decode(entry.DataBase58)
		if err != nil {
			return Instruction{}, apperrors.InvalidTransaction("decode compiled inner instruction payload: %v", err)
		}
		return Instruction{ProgramIDIndex: entry.ProgramIDIndex, Accounts: entry.AccountIndexes, Data: data}, nil

	case FormPartiallyDecoded:
		data, err := base58.Decode(entry.DataBase58Partial)
		if err != nil {
			return Instruction{}, apperrors.InvalidTransaction("decode partially-decoded inner instruction payload: %v", err)
		}
		programIdx, ok := indexOf[entry.ProgramID]
		if !ok {
			return Instruction{}, apperrors.InvalidTransaction("partially-decoded inner instruction references unknown program %s", entry.ProgramID)
		}
		accountIdxs := make([]uint16, 0, len(entry.Accounts))
		for _, acc := range entry.Accounts {
			idx, ok := indexOf[acc]
			if !ok {
				return Instruction{}, apperrors.InvalidTransaction("partially-decoded inner instruction references unresolved account %s", acc)
			}
			accountIdxs = append(accountIdxs, idx)
		}
		return Instruction{ProgramIDIndex: programIdx, Accounts: accountIdxs, Data: data}, nil

	case FormParsed:
		programIdx, ok := indexOf[entry.ProgramID]
		if !ok {
			return Instruction{}, apperrors.InvalidTransaction("parsed inner instruction references unknown program %s", entry.ProgramID)
		}
		if reconstruct != nil {
			if data, accounts, ok := reconstruct(entry.ProgramID, entry.ParsedType, entry.ParsedInfo); ok {
				accountIdxs := make([]uint16, 0, len(accounts))
				for _, acc := range accounts {
					idx, present := indexOf[acc]
					if !present {
						return Instruction{}, apperrors.InvalidTransaction("reconstructed parsed inner instruction references unresolved account %s", acc)
					}
					accountIdxs = append(accountIdxs, idx)
				}
				return Instruction{ProgramIDIndex: programIdx, Accounts: accountIdxs, Data: data}, nil
			}
		}
		return Instruction{ProgramIDIndex: programIdx, Accounts: nil, Data: nil, Stub: true}, nil

	default:
		return Instruction{}, apperrors.ValidationError("unrecognized inner instruction form %d", entry.Form)
	}
}
