package oracle

import (
	"context"
	"fmt"
	"math"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// PythProvider fetches prices from Pyth's Hermes price-feed API, keyed
// by each mint's stub feed ID rather than its mint address (feed IDs are
// caller-supplied since Pyth has no mint→feed directory endpoint).
type PythProvider struct {
	client   *resty.Client
	baseURL  string
	feedByMint map[string]string
}

// NewPythProvider builds a provider against Hermes, given a static
// mint-to-feed-ID map supplied by configuration.
func NewPythProvider(baseURL string, feedByMint map[string]string) *PythProvider {
	if baseURL == "" {
		baseURL = "https://hermes.pyth.network"
	}
	return &PythProvider{client: resty.New(), baseURL: baseURL, feedByMint: feedByMint}
}

type pythPriceEntry struct {
	ID    string `json:"id"`
	Price struct {
		Price    string `json:"price"`
		Expo     int    `json:"expo"`
	} `json:"price"`
}

// GetPrices resolves each requested mint's feed ID and fetches all feeds
// in a single Hermes request.
func (p *PythProvider) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	feedToMint := make(map[string]string, len(mints))
	var ids []string
	for _, mint := range mints {
		feedID, ok := p.feedByMint[mint]
		if !ok {
			return nil, apperrors.OracleError(fmt.Errorf("no pyth feed id configured for mint %s", mint), "unsupported mint for Pyth price source")
		}
		feedToMint[feedID] = mint
		ids = append(ids, feedID)
	}

	var entries []pythPriceEntry
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParamsFromValues(map[string][]string{"ids[]": ids}).
		SetResult(&entries).
		Get(p.baseURL + "/api/latest_price_feeds")
	if err != nil {
		return nil, apperrors.RpcError(err, "pyth price request failed")
	}
	if resp.IsError() {
		return nil, apperrors.RpcError(fmt.Errorf("status %d", resp.StatusCode()), "pyth price request returned an error status")
	}

	out := make(map[string]decimal.Decimal, len(mints))
	for _, entry := range entries {
		mint, ok := feedToMint[entry.ID]
		if !ok {
			continue
		}
		raw, err := decimal.NewFromString(entry.Price.Price)
		if err != nil {
			return nil, apperrors.OracleError(err, "pyth returned an unparsable price for feed %s", entry.ID)
		}
		scale := decimal.New(1, int32(math.Abs(float64(entry.Price.Expo))))
		if entry.Price.Expo < 0 {
			out[mint] = raw.Div(scale)
		} else {
			out[mint] = raw.Mul(scale)
		}
	}
	return out, nil
}
