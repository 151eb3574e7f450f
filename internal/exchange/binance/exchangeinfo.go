package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/datacat-io/ingest/internal/apperr"
)

// ExchangeSymbol is one entry of the /fapi/v1/exchangeInfo symbols array,
// trimmed to the fields the universe resolver needs (spec.md §4.3).
type ExchangeSymbol struct {
	Symbol       string
	BaseAsset    string
	QuoteAsset   string
	ContractType string
	Status       string
}

// IsUSDTPerpetual reports whether s is a USDT-margined perpetual contract
// that is currently trading — the filter spec.md §4.3 step 2 applies when
// deriving the universe from exchange markets.
func (s ExchangeSymbol) IsUSDTPerpetual() bool {
	return s.QuoteAsset == "USDT" &&
		strings.EqualFold(s.ContractType, "PERPETUAL") &&
		strings.EqualFold(s.Status, "TRADING")
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol       string `json:"symbol"`
		BaseAsset    string `json:"baseAsset"`
		QuoteAsset   string `json:"quoteAsset"`
		ContractType string `json:"contractType"`
		Status       string `json:"status"`
	} `json:"symbols"`
}

// FetchExchangeInfo requests /fapi/v1/exchangeInfo, the fallback the
// symbol universe resolver falls through to when no allow-list is
// configured (spec.md §4.3 step 2→3).
func (c *Client) FetchExchangeInfo(ctx context.Context) ([]ExchangeSymbol, error) {
	var resp exchangeInfoResponse
	err := retryTransient(ctx, func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, RESTBaseURL+"/fapi/v1/exchangeInfo", nil)
		if rerr != nil {
			return apperr.Wrap(apperr.KindTransient, "build exchangeInfo request", rerr)
		}
		r, rerr := c.doWeighted(ctx, req, 1)
		if rerr != nil {
			return rerr
		}
		defer r.Body.Close()
		if derr := json.NewDecoder(r.Body).Decode(&resp); derr != nil {
			return apperr.Wrap(apperr.KindParse, "decode exchangeInfo response", derr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]ExchangeSymbol, 0, len(resp.Symbols))
	for _, s := range resp.Symbols {
		out = append(out, ExchangeSymbol{
			Symbol:       s.Symbol,
			BaseAsset:    s.BaseAsset,
			QuoteAsset:   s.QuoteAsset,
			ContractType: s.ContractType,
			Status:       s.Status,
		})
	}
	return out, nil
}
