package envelope

import (
	"context"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// lookupTableMetaSize is the fixed byte length of an address lookup
// table account's header before its address array begins: a 4-byte
// state discriminant followed by the LookupTableMeta fields
// (deactivation_slot, last_extended_slot, last_extended_slot_start_index,
// and an Option<Pubkey> authority), padded to this width by the program.
const lookupTableMetaSize = 56

// ResolveLookups expands every AddressTableLookup reference on a
// versioned message into its writable, then readonly, addresses,
// concatenated in reference order, per spec.md §4.B. Caching is
// deliberately not performed here: lookup tables can grow on chain, and
// the resolver always reads current state (design note 9, "Open question
// — cache invalidation for lookup tables").
func ResolveLookups(ctx context.Context, lookups []solana.MessageAddressTableLookup, fetch AccountFetcher) ([]solana.PublicKey, error) {
	var writable, readonly []solana.PublicKey

	for _, ref := range lookups {
		data, err := fetch(ctx, ref.AccountKey)
		if err != nil {
			return nil, apperrors.RpcError(err, "fetch lookup table %s", ref.AccountKey)
		}

		addresses, err := decodeLookupTableAddresses(data)
		if err != nil {
			return nil, apperrors.InvalidLookup("lookup table %s: %v", ref.AccountKey, err)
		}

		for _, idx := range ref.WritableIndexes {
			if int(idx) >= len(addresses) {
				return nil, apperrors.InvalidLookup("lookup table %s: writable index %d out of bounds (len %d)", ref.AccountKey, idx, len(addresses))
			}
			writable = append(writable, addresses[idx])
		}
		for _, idx := range ref.ReadonlyIndexes {
			if int(idx) >= len(addresses) {
				return nil, apperrors.InvalidLookup("lookup table %s: readonly index %d out of bounds (len %d)", ref.AccountKey, idx, len(addresses))
			}
			readonly = append(readonly, addresses[idx])
		}
	}

	return append(writable, readonly...), nil
}

// decodeLookupTableAddresses parses the address-lookup-table program's
// account layout: a fixed-size meta header followed by a flat array of
// 32-byte addresses.
func decodeLookupTableAddresses(data []byte) ([]solana.PublicKey, error) {
	if len(data) < lookupTableMetaSize {
		return nil, apperrors.InvalidLookup("account too short to be a lookup table: %d bytes", len(data))
	}
	state := binary.LittleEndian.Uint32(data[0:4])
	if state != 1 {
		return nil, apperrors.InvalidLookup("account is not an initialized lookup table (state=%d)", state)
	}

	body := data[lookupTableMetaSize:]
	if len(body)%32 != 0 {
		return nil, apperrors.InvalidLookup("lookup table address array is not a multiple of 32 bytes (%d)", len(body))
	}

	count := len(body) / 32
	addresses := make([]solana.PublicKey, count)
	for i := 0; i < count; i++ {
		pk, err := solana.PublicKeyFromBytes(body[i*32 : (i+1)*32])
		if err != nil {
			return nil, err
		}
		addresses[i] = pk
	}
	return addresses, nil
}

// BuildAccountKeys concatenates a message's static account keys with its
// resolved lookup addresses, producing the full view instruction account
// indexes are relative to.
func BuildAccountKeys(staticKeys []solana.PublicKey, resolvedLookups []solana.PublicKey) []solana.PublicKey {
	all := make([]solana.PublicKey, 0, len(staticKeys)+len(resolvedLookups))
	all = append(all, staticKeys...)
	all = append(all, resolvedLookups...)
	return all
}
