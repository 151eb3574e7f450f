package binance

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/datacat-io/ingest/internal/apperr"
	"github.com/datacat-io/ingest/internal/model"
)

const klinesMaxLimit = 1000

// FetchKlines requests /fapi/v1/klines, paginating automatically until
// [startMs, endMs] is covered, the way yitech-candles' fetchKlines does for
// spot klines — generalized here to the futures endpoint and any interval,
// with the REST pagination cap from spec.md §4.6.2 ("Cap at 100 iterations
// per (symbol, day) as a safety valve").
func (c *Client) FetchKlines(ctx context.Context, symbol string, interval model.Interval, startMs, endMs int64, source string) ([]model.Candle, error) {
	var out []model.Candle

	for iter := 0; iter < 100; iter++ {
		var batch []model.Candle
		err := retryTransient(ctx, func() error {
			b, ferr := c.fetchKlineBatch(ctx, symbol, interval, startMs, endMs, source)
			if ferr != nil {
				return ferr
			}
			batch = b
			return nil
		})
		if err != nil {
			return out, err
		}
		out = append(out, batch...)

		if len(batch) < klinesMaxLimit {
			break
		}
		startMs = batch[len(batch)-1].BucketTs + interval.Seconds()*1000
		if startMs > endMs {
			break
		}
	}
	return out, nil
}

func (c *Client) fetchKlineBatch(ctx context.Context, symbol string, interval model.Interval, startMs, endMs int64, source string) ([]model.Candle, error) {
	u, err := url.Parse(RESTBaseURL + "/fapi/v1/klines")
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse klines url", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("interval", string(interval))
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(klinesMaxLimit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, "build klines request", err)
	}

	resp, err := c.doWeighted(ctx, req, 1)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var raw [][]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, apperr.Wrap(apperr.KindParse, "decode klines response", err)
	}
	return parseKlineRows(symbol, raw, source), nil
}

// parseKlineRows converts the Binance kline wire array into model.Candle
// rows. Each row is parsed defensively (spec.md §4.6.5): a malformed row is
// dropped, not a fatal error for the whole batch.
//
// Binance kline array layout:
//
//	[0]  Open time, [1] Open, [2] High, [3] Low, [4] Close, [5] Volume,
//	[6]  Close time, [7] Quote volume, [8] Trade count,
//	[9]  Taker buy base volume, [10] Taker buy quote volume, [11] Ignore.
func parseKlineRows(symbol string, raw [][]json.RawMessage, source string) []model.Candle {
	out := make([]model.Candle, 0, len(raw))
	for _, r := range raw {
		if len(r) < 11 {
			continue
		}
		openTime, err := jsonInt64(r[0])
		if err != nil {
			continue
		}
		out = append(out, model.Candle{
			Exchange:            "binance",
			Symbol:              symbol,
			BucketTs:            openTime,
			Open:                jsonFloat(r[1]),
			High:                jsonFloat(r[2]),
			Low:                 jsonFloat(r[3]),
			Close:               jsonFloat(r[4]),
			Volume:              jsonFloat(r[5]),
			QuoteVolume:         jsonFloat(r[7]),
			TradeCount:          jsonInt64OrZero(r[8]),
			TakerBuyVolume:      jsonFloat(r[9]),
			TakerBuyQuoteVolume: jsonFloat(r[10]),
			IsClosed:            true,
			Source:              source,
		})
	}
	return out
}

func jsonInt64(raw json.RawMessage) (int64, error) {
	var v int64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, err
	}
	return strconv.ParseInt(s, 10, 64)
}

func jsonInt64OrZero(raw json.RawMessage) int64 {
	v, err := jsonInt64(raw)
	if err != nil {
		return 0
	}
	return v
}

func jsonFloat(raw json.RawMessage) float64 {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		f, _ := strconv.ParseFloat(s, 64)
		return f
	}
	var f float64
	_ = json.Unmarshal(raw, &f)
	return f
}
