package tokenstate

import "fmt"

// ExtensionType is a small integer discriminant for a token-2022
// extension, resolved from its symbolic config name by ResolveBlockedSet
// rather than carried as a string through every check, mirroring
// spl_token_2022_util's ExtensionType usage.
type ExtensionType uint16

// The discriminants below follow the token-2022 program's own
// ExtensionType enumeration ordering; only the extensions this core
// reasons about (blocklist candidates, transfer-fee) are named.
const (
	ExtensionTransferFeeConfig ExtensionType = iota + 1
	ExtensionTransferFeeAmount
	ExtensionMintCloseAuthority
	ExtensionConfidentialTransferMint
	ExtensionConfidentialTransferAccount
	ExtensionDefaultAccountState
	ExtensionImmutableOwner
	ExtensionMemoTransfer
	ExtensionNonTransferable
	ExtensionNonTransferableAccount
	ExtensionInterestBearingConfig
	ExtensionCpiGuard
	ExtensionPermanentDelegate
	ExtensionTransferHook
	ExtensionTransferHookAccount
	ExtensionConfidentialMintBurn
	ExtensionPausable
	ExtensionPausableAccount
)

var extensionsByName = map[string]ExtensionType{
	"TransferFeeConfig":           ExtensionTransferFeeConfig,
	"TransferFeeAmount":           ExtensionTransferFeeAmount,
	"MintCloseAuthority":          ExtensionMintCloseAuthority,
	"ConfidentialTransferMint":    ExtensionConfidentialTransferMint,
	"ConfidentialTransferAccount": ExtensionConfidentialTransferAccount,
	"DefaultAccountState":         ExtensionDefaultAccountState,
	"ImmutableOwner":              ExtensionImmutableOwner,
	"MemoTransfer":                ExtensionMemoTransfer,
	"NonTransferable":             ExtensionNonTransferable,
	"NonTransferableAccount":      ExtensionNonTransferableAccount,
	"InterestBearingConfig":       ExtensionInterestBearingConfig,
	"CpiGuard":                    ExtensionCpiGuard,
	"PermanentDelegate":           ExtensionPermanentDelegate,
	"TransferHook":                ExtensionTransferHook,
	"TransferHookAccount":         ExtensionTransferHookAccount,
	"ConfidentialMintBurn":        ExtensionConfidentialMintBurn,
	"Pausable":                    ExtensionPausable,
	"PausableAccount":             ExtensionPausableAccount,
}

// ParseExtension resolves a policy file's symbolic extension name to its
// discriminant. ResolveBlockedSet calls it for the names listed in
// policy.Token2022Config when the payment verifier runs its blocked-extension
// check; policy loading does not call it.
func ParseExtension(name string) (ExtensionType, error) {
	ext, ok := extensionsByName[name]
	if !ok {
		return 0, fmt.Errorf("unrecognized token-2022 extension name %q", name)
	}
	return ext, nil
}

// ResolveBlockedSet converts a list of symbolic extension names into a
// discriminant set, erroring on the first unrecognized name.
func ResolveBlockedSet(names []string) (map[ExtensionType]struct{}, error) {
	out := make(map[ExtensionType]struct{}, len(names))
	for _, name := range names {
		ext, err := ParseExtension(name)
		if err != nil {
			return nil, err
		}
		out[ext] = struct{}{}
	}
	return out, nil
}

// AnyBlocked reports whether any of present is in blocked.
func AnyBlocked(present map[ExtensionType]struct{}, blocked map[ExtensionType]struct{}) (ExtensionType, bool) {
	for ext := range blocked {
		if _, ok := present[ext]; ok {
			return ext, true
		}
	}
	return 0, false
}
