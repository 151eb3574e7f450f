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

// metricsPeriod is the fixed bucket width every derivatives-metrics endpoint
// is queried at, per spec.md §4.4 ("period=5m").
const metricsPeriod = "5m"

// FetchMetricsWindow fans out across the five derivatives-metrics endpoints
// for one symbol over [startMs, endMs] and joins the results by their
// 5-minute-floored timestamp into MetricsRow values, the way
// metricscollector's per-tick loop expects (spec.md §4.4). Rows with no
// open-interest sample are dropped per the "skip if no OI data" rule —
// open interest is the anchor series every row is keyed against.
func (c *Client) FetchMetricsWindow(ctx context.Context, symbol string, startMs, endMs int64, limit int) ([]model.MetricsRow, error) {
	oi, err := c.fetchOpenInterestHist(ctx, symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	if len(oi) == 0 {
		return nil, nil
	}

	topPos, err := c.fetchTopLongShortPositionRatio(ctx, symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	topAcct, err := c.fetchTopLongShortAccountRatio(ctx, symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	globalAcct, err := c.fetchGlobalLongShortAccountRatio(ctx, symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	taker, err := c.fetchTakerLongShortRatio(ctx, symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}

	rows := make(map[int64]*model.MetricsRow, len(oi))
	for ts, v := range oi {
		val := v
		rows[ts] = &model.MetricsRow{
			Symbol:               symbol,
			CreateTime:           ts,
			SumOpenInterest:      &val.sumOI,
			SumOpenInterestValue: &val.sumOIValue,
			Source:               model.SourceAPI,
			IsClosed:             true,
		}
	}
	// Position ratio feeds the "sum" column, account ratio feeds the
	// "count" column — spec.md §4.4 names these the opposite way one might
	// guess from the endpoint names, so the mapping is spelled out here.
	for ts, v := range topPos {
		if r, ok := rows[ts]; ok {
			val := v
			r.SumToptraderLongShortRatio = &val
		}
	}
	for ts, v := range topAcct {
		if r, ok := rows[ts]; ok {
			val := v
			r.CountToptraderLongShortRatio = &val
		}
	}
	for ts, v := range globalAcct {
		if r, ok := rows[ts]; ok {
			val := v
			r.CountLongShortRatio = &val
		}
	}
	for ts, v := range taker {
		if r, ok := rows[ts]; ok {
			val := v
			r.SumTakerLongShortVolRatio = &val
		}
	}

	out := make([]model.MetricsRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	return out, nil
}

type oiSample struct {
	sumOI      float64
	sumOIValue float64
}

func (c *Client) fetchOpenInterestHist(ctx context.Context, symbol string, startMs, endMs int64, limit int) (map[int64]oiSample, error) {
	raw, err := c.getMetricsSeries(ctx, "/futures/data/openInterestHist", symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]oiSample, len(raw))
	for _, r := range raw {
		ts, ok := timestampOf(r)
		if !ok {
			continue
		}
		out[ts] = oiSample{
			sumOI:      stringField(r, "sumOpenInterest"),
			sumOIValue: stringField(r, "sumOpenInterestValue"),
		}
	}
	return out, nil
}

func (c *Client) fetchTopLongShortPositionRatio(ctx context.Context, symbol string, startMs, endMs int64, limit int) (map[int64]float64, error) {
	return c.fetchRatioSeries(ctx, "/futures/data/topLongShortPositionRatio", symbol, startMs, endMs, limit, "longShortRatio")
}

func (c *Client) fetchTopLongShortAccountRatio(ctx context.Context, symbol string, startMs, endMs int64, limit int) (map[int64]float64, error) {
	return c.fetchRatioSeries(ctx, "/futures/data/topLongShortAccountRatio", symbol, startMs, endMs, limit, "longShortRatio")
}

func (c *Client) fetchGlobalLongShortAccountRatio(ctx context.Context, symbol string, startMs, endMs int64, limit int) (map[int64]float64, error) {
	return c.fetchRatioSeries(ctx, "/futures/data/globalLongShortAccountRatio", symbol, startMs, endMs, limit, "longShortRatio")
}

func (c *Client) fetchTakerLongShortRatio(ctx context.Context, symbol string, startMs, endMs int64, limit int) (map[int64]float64, error) {
	return c.fetchRatioSeries(ctx, "/futures/data/takerlongshortRatio", symbol, startMs, endMs, limit, "buySellRatio")
}

func (c *Client) fetchRatioSeries(ctx context.Context, path, symbol string, startMs, endMs int64, limit int, field string) (map[int64]float64, error) {
	raw, err := c.getMetricsSeries(ctx, path, symbol, startMs, endMs, limit)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]float64, len(raw))
	for _, r := range raw {
		ts, ok := timestampOf(r)
		if !ok {
			continue
		}
		out[ts] = stringField(r, field)
	}
	return out, nil
}

// getMetricsSeries issues one weighted GET against a derivatives-metrics
// endpoint and returns the raw decoded objects, retrying transient failures
// per spec.md §7. One call fetches at most `limit` rows; metricscollector
// passes 1 for a realtime tick and 500 for a one-day backfill.
func (c *Client) getMetricsSeries(ctx context.Context, path, symbol string, startMs, endMs int64, limit int) ([]map[string]json.RawMessage, error) {
	u, err := url.Parse(RESTBaseURL + path)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindConfig, "parse metrics url", err)
	}
	q := u.Query()
	q.Set("symbol", symbol)
	q.Set("period", metricsPeriod)
	q.Set("startTime", strconv.FormatInt(startMs, 10))
	q.Set("endTime", strconv.FormatInt(endMs, 10))
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	var raw []map[string]json.RawMessage
	err = retryTransient(ctx, func() error {
		req, rerr := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if rerr != nil {
			return apperr.Wrap(apperr.KindTransient, "build metrics request", rerr)
		}
		resp, rerr := c.doWeighted(ctx, req, 1)
		if rerr != nil {
			return rerr
		}
		defer resp.Body.Close()
		if derr := json.NewDecoder(resp.Body).Decode(&raw); derr != nil {
			return apperr.Wrap(apperr.KindParse, "decode metrics response", derr)
		}
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	return raw, nil
}

func timestampOf(r map[string]json.RawMessage) (int64, bool) {
	raw, ok := r["timestamp"]
	if !ok {
		return 0, false
	}
	ts, err := jsonInt64(raw)
	if err != nil {
		return 0, false
	}
	return model.FloorTo5m(ts), true
}

func stringField(r map[string]json.RawMessage, key string) float64 {
	raw, ok := r[key]
	if !ok {
		return 0
	}
	return jsonFloat(raw)
}
