// Package policy is the typed configuration the core treats as read-only
// per request: program/token allow- and denylists, fee-payer usage rules,
// the pricing model, and the token-2022 blocklists. It is loaded once at
// startup and passed by value, as a Policy, to each component for the
// lifetime of a request, per spec.md §4.I / §5.
package policy

import "time"

// Duration wraps time.Duration so the YAML/viper-decoded policy file can
// use human strings ("5m") or bare seconds.
type Duration struct {
	time.Duration
}

// PriceSource names the external oracle backend.
type PriceSource string

const (
	PriceSourceJupiter PriceSource = "Jupiter"
	PriceSourcePyth    PriceSource = "Pyth"
	PriceSourceMock    PriceSource = "Mock"
)

// SplPaidTokens is either "All" (accept any mint as payment, a warned but
// intentional open question per spec.md §9) or an explicit allowlist.
type SplPaidTokens struct {
	All    bool
	Tokens []string
}

// HasToken reports whether the given mint may be used to pay fees.
func (s SplPaidTokens) HasToken(mint string) bool {
	if s.All {
		return true
	}
	for _, t := range s.Tokens {
		if t == mint {
			return true
		}
	}
	return false
}

// NonceInstructionPolicy gates fee-payer involvement in nonce-account
// operations. UpgradeNonceAccount has no authority parameter and so has
// no flag — it can't be policed (spec.md §3).
type NonceInstructionPolicy struct {
	AllowInitialize bool `yaml:"allow_initialize"`
	AllowAdvance    bool `yaml:"allow_advance"`
	AllowWithdraw   bool `yaml:"allow_withdraw"`
	AllowAuthorize  bool `yaml:"allow_authorize"`
}

// SystemInstructionPolicy gates fee-payer involvement in System program
// instructions.
type SystemInstructionPolicy struct {
	AllowTransfer      bool                   `yaml:"allow_transfer"`
	AllowAssign        bool                   `yaml:"allow_assign"`
	AllowCreateAccount bool                   `yaml:"allow_create_account"`
	AllowAllocate      bool                   `yaml:"allow_allocate"`
	Nonce              NonceInstructionPolicy `yaml:"nonce"`
}

// TokenInstructionPolicy gates fee-payer involvement in an SPL token
// program's instructions. The same shape is used for the classic and the
// token-2022 program, per spec.md §6's shared kind set.
type TokenInstructionPolicy struct {
	AllowTransfer           bool `yaml:"allow_transfer"`
	AllowBurn               bool `yaml:"allow_burn"`
	AllowCloseAccount       bool `yaml:"allow_close_account"`
	AllowApprove            bool `yaml:"allow_approve"`
	AllowRevoke             bool `yaml:"allow_revoke"`
	AllowSetAuthority       bool `yaml:"allow_set_authority"`
	AllowMintTo             bool `yaml:"allow_mint_to"`
	AllowInitializeMint     bool `yaml:"allow_initialize_mint"`
	AllowInitializeAccount  bool `yaml:"allow_initialize_account"`
	AllowInitializeMultisig bool `yaml:"allow_initialize_multisig"`
	AllowFreezeAccount      bool `yaml:"allow_freeze_account"`
	AllowThawAccount        bool `yaml:"allow_thaw_account"`
}

// FeePayerPolicy is the full per-instruction-kind usage matrix. All flags
// default false (deny) per spec.md §6.
type FeePayerPolicy struct {
	System    SystemInstructionPolicy `yaml:"system"`
	SplToken  TokenInstructionPolicy  `yaml:"spl_token"`
	Token2022 TokenInstructionPolicy  `yaml:"token_2022"`
}

// PriceModelKind discriminates the three pricing strategies of spec.md §4.F.7.
type PriceModelKind string

const (
	PriceModelFree   PriceModelKind = "Free"
	PriceModelFixed  PriceModelKind = "Fixed"
	PriceModelMargin PriceModelKind = "Margin"
)

// PriceModel is the tagged pricing configuration.
type PriceModel struct {
	Kind PriceModelKind

	// Fixed
	FixedAmount uint64
	FixedToken  string
	Strict      bool

	// Margin
	Margin float64
}

// Token2022Config names the blocked extension sets by symbolic name. The
// names are not checked at load time; the payment verifier resolves them to
// discriminants with tokenstate.ResolveBlockedSet on each blocked-extension
// check, which fails on an unrecognized name.
type Token2022Config struct {
	BlockedMintExtensions    []string `yaml:"blocked_mint_extensions"`
	BlockedAccountExtensions []string `yaml:"blocked_account_extensions"`
}

// ValidationConfig is the validation.* namespace of the policy file.
type ValidationConfig struct {
	MaxAllowedLamports  uint64           `yaml:"max_allowed_lamports"`
	MaxSignatures       uint64           `yaml:"max_signatures"`
	AllowedPrograms     []string         `yaml:"allowed_programs"`
	AllowedTokens       []string         `yaml:"allowed_tokens"`
	AllowedSplPaidTokens SplPaidTokens   `yaml:"allowed_spl_paid_tokens"`
	DisallowedAccounts  []string         `yaml:"disallowed_accounts"`
	PriceSource         PriceSource      `yaml:"price_source"`
	FeePayerPolicy      FeePayerPolicy   `yaml:"fee_payer_policy"`
	Price               PriceModel       `yaml:"price"`
	Token2022           Token2022Config  `yaml:"token_2022"`
}

// IsPaymentRequired reports whether the pricing model charges fees at all.
func (v ValidationConfig) IsPaymentRequired() bool {
	return v.Price.Kind != PriceModelFree
}

// AuthConfig is kora.auth.*.
type AuthConfig struct {
	APIKey        string   `yaml:"api_key"`
	HMACSecret    string   `yaml:"hmac_secret"`
	MaxTimestampAge Duration `yaml:"max_timestamp_age"`
}

// CacheConfig is kora.cache.*.
type CacheConfig struct {
	URL        string   `yaml:"url"`
	Enabled    bool     `yaml:"enabled"`
	DefaultTTL Duration `yaml:"default_ttl"`
	AccountTTL Duration `yaml:"account_ttl"`
	MintTTL    Duration `yaml:"mint_ttl"`
}

// UsageLimitConfig is kora.usage_limit.*.
type UsageLimitConfig struct {
	Enabled                bool   `yaml:"enabled"`
	CacheURL                string `yaml:"cache_url"`
	MaxTransactions         uint64 `yaml:"max_transactions"`
	FallbackIfUnavailable   bool   `yaml:"fallback_if_unavailable"`
}

// RelayerConfig is the kora.* namespace: the relayer's own operational
// settings, kept distinct from validation.* policy.
type RelayerConfig struct {
	RateLimit          uint64           `yaml:"rate_limit"`
	MaxRequestBodySize uint64           `yaml:"max_request_body_size"`
	PaymentAddress     string           `yaml:"payment_address"`
	Auth               AuthConfig       `yaml:"auth"`
	Cache              CacheConfig      `yaml:"cache"`
	UsageLimit         UsageLimitConfig `yaml:"usage_limit"`
}

// Policy is the full decoded policy file.
type Policy struct {
	Validation ValidationConfig `yaml:"validation"`
	Relayer    RelayerConfig    `yaml:"kora"`
}

// PaymentDestinationOwner returns the wallet whose token-account ownership
// marks a transfer as a fee payment, applying the documented fallback:
// when kora.payment_address is absent, it's the relayer's own signing
// pubkey (spec.md design note "Payment-address fallback").
func (p Policy) PaymentDestinationOwner(relayerPubkey string) string {
	if p.Relayer.PaymentAddress != "" {
		return p.Relayer.PaymentAddress
	}
	return relayerPubkey
}
