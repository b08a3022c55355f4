package tokenstate

import (
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// Base account layouts are fixed-size regardless of program variant; a
// token-2022 account/mint is only longer than these when it carries
// extension TLV data.
const (
	baseMintLen    = 82
	baseAccountLen = 165
	accountTypeLen = 1
)

// DecodeMint unpacks raw mint account bytes for either token program
// variant, parsing trailing TLV extension data when present.
func DecodeMint(data []byte, variant ProgramVariant) (Mint, error) {
	if len(data) < baseMintLen {
		return Mint{}, apperrors.TokenOperationError(nil, "mint account data too short: %d bytes", len(data))
	}

	decimals := data[36]

	mint := Mint{Variant: variant, Decimals: decimals, Supply: binary.LittleEndian.Uint64(data[4:12])}

	if variant != Token2022 || len(data) <= baseMintLen {
		return mint, nil
	}

	exts, feeConfig, err := parseExtensionTLV(data[baseMintLen+accountTypeLen:])
	if err != nil {
		return Mint{}, err
	}
	mint.Extensions = exts
	mint.TransferFee = feeConfig
	return mint, nil
}

// DecodeAccount unpacks raw token account bytes for either program
// variant.
func DecodeAccount(data []byte, variant ProgramVariant) (Account, error) {
	if len(data) < baseAccountLen {
		return Account{}, apperrors.TokenOperationError(nil, "token account data too short: %d bytes", len(data))
	}

	mint, err := solana.PublicKeyFromBytes(data[0:32])
	if err != nil {
		return Account{}, apperrors.TokenOperationError(err, "decode token account mint")
	}
	owner, err := solana.PublicKeyFromBytes(data[32:64])
	if err != nil {
		return Account{}, apperrors.TokenOperationError(err, "decode token account owner")
	}
	amount := binary.LittleEndian.Uint64(data[64:72])

	account := Account{Variant: variant, Mint: mint, Owner: owner, Amount: amount}

	if variant != Token2022 || len(data) <= baseAccountLen {
		return account, nil
	}

	exts, _, err := parseExtensionTLV(data[baseAccountLen+accountTypeLen:])
	if err != nil {
		return Account{}, err
	}
	account.Extensions = exts
	return account, nil
}

// parseExtensionTLV walks a token-2022 extension TLV stream: each entry
// is a little-endian u16 extension-type discriminant, a little-endian u16
// length, and that many bytes of extension-specific data.
func parseExtensionTLV(tlv []byte) (map[ExtensionType]struct{}, *TransferFeeConfig, error) {
	extensions := make(map[ExtensionType]struct{})
	var feeConfig *TransferFeeConfig

	offset := 0
	for offset+4 <= len(tlv) {
		extType := ExtensionType(binary.LittleEndian.Uint16(tlv[offset : offset+2]))
		length := int(binary.LittleEndian.Uint16(tlv[offset+2 : offset+4]))
		offset += 4
		if offset+length > len(tlv) {
			return nil, nil, apperrors.TokenOperationError(nil, "truncated extension TLV entry for type %d", extType)
		}

		extensions[extType] = struct{}{}
		if extType == ExtensionTransferFeeConfig {
			parsed, err := parseTransferFeeConfig(tlv[offset : offset+length])
			if err != nil {
				return nil, nil, err
			}
			feeConfig = &parsed
		}

		offset += length
	}

	return extensions, feeConfig, nil
}

// parseTransferFeeConfig unpacks the TransferFeeConfig extension's fixed
// layout: two 32-byte authority COptions (ignored here), an 8-byte
// withheld-amount, then two 18-byte TransferFee tiers (u64 epoch, u64
// maximum fee, u16 basis points, matching the program's pod layout).
func parseTransferFeeConfig(data []byte) (TransferFeeConfig, error) {
	const authoritiesAndWithheldLen = 32 + 32 + 8
	const tierLen = 8 + 2 + 8

	if len(data) < authoritiesAndWithheldLen+2*tierLen {
		return TransferFeeConfig{}, apperrors.TokenOperationError(nil, "transfer fee config extension data too short: %d bytes", len(data))
	}

	offset := authoritiesAndWithheldLen
	older := parseFeeTier(data[offset : offset+tierLen])
	offset += tierLen
	newer := parseFeeTier(data[offset : offset+tierLen])

	return TransferFeeConfig{OlderTier: older, NewerTier: newer}, nil
}

func parseFeeTier(data []byte) TransferFeeTier {
	return TransferFeeTier{
		Epoch:                  binary.LittleEndian.Uint64(data[0:8]),
		MaximumFee:             binary.LittleEndian.Uint64(data[8:16]),
		TransferFeeBasisPoints: binary.LittleEndian.Uint16(data[16:18]),
	}
}
