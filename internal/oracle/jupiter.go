package oracle

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/solrelay/paymaster/internal/apperrors"
)

// wrappedSOLMint is the mint Jupiter's price API quotes everything
// against when a SOL-denominated price is requested.
const wrappedSOLMint = "So11111111111111111111111111111111111111112"

// JupiterProvider fetches prices from Jupiter's public price API.
type JupiterProvider struct {
	client  *resty.Client
	baseURL string
}

// NewJupiterProvider builds a provider against Jupiter's hosted price API.
func NewJupiterProvider(baseURL string) *JupiterProvider {
	if baseURL == "" {
		baseURL = "https://price.jup.ag/v6"
	}
	return &JupiterProvider{client: resty.New(), baseURL: baseURL}
}

type jupiterPriceResponse struct {
	Data map[string]struct {
		Price string `json:"price"`
	} `json:"data"`
}

// GetPrices fetches SOL-denominated prices for every mint in one request.
func (j *JupiterProvider) GetPrices(ctx context.Context, mints []string) (map[string]decimal.Decimal, error) {
	if len(mints) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	ids := ""
	for i, m := range mints {
		if i > 0 {
			ids += ","
		}
		ids += m
	}

	var payload jupiterPriceResponse
	resp, err := j.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{"ids": ids, "vsToken": wrappedSOLMint}).
		SetResult(&payload).
		Get(j.baseURL + "/price")
	if err != nil {
		return nil, apperrors.RpcError(err, "jupiter price request failed")
	}
	if resp.IsError() {
		return nil, apperrors.RpcError(fmt.Errorf("status %d", resp.StatusCode()), "jupiter price request returned an error status")
	}

	out := make(map[string]decimal.Decimal, len(mints))
	for _, mint := range mints {
		entry, ok := payload.Data[mint]
		if !ok {
			continue
		}
		price, err := decimal.NewFromString(entry.Price)
		if err != nil {
			return nil, apperrors.OracleError(err, "jupiter returned an unparsable price for mint %s", mint)
		}
		out[mint] = price
	}
	return out, nil
}
