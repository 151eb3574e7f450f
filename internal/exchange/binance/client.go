// Package binance implements the exchange client consumed by every
// collector: REST klines + derivatives metrics + exchangeInfo, the kline
// WebSocket stream, and the historical archive downloader. Wire-format
// parsing (pagination loop, raw-JSON kline decoding) is grounded on
// yitech-candles' adapter/binance/http.go and ws.go, generalized from spot
// klines to the USDT-M futures endpoints spec.md §6.1 names.
package binance

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	"github.com/datacat-io/ingest/internal/apperr"
	"github.com/datacat-io/ingest/internal/ratelimit"
	"github.com/datacat-io/ingest/internal/telemetry"
)

const (
	RESTBaseURL    = "https://fapi.binance.com"
	ArchiveBaseURL = "https://data.binance.vision/data/futures/um"
	WSBaseURL      = "wss://fstream.binance.com/ws"
)

// Client is the rate-limited HTTP client every Binance endpoint call in
// this package routes through, per spec.md §4.1 ("every outbound HTTP
// call").
type Client struct {
	http    *http.Client
	limiter *ratelimit.Limiter
	metrics *telemetry.Counters
	log     zerolog.Logger
}

// New builds a Client. proxyURL may be empty.
func New(limiter *ratelimit.Limiter, metrics *telemetry.Counters, log zerolog.Logger, proxyURL string) (*Client, error) {
	transport := &http.Transport{}
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindConfig, "parse proxy url", err)
		}
		transport.Proxy = http.ProxyURL(u)
	}
	return &Client{
		http:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		limiter: limiter,
		metrics: metrics,
		log:     log,
	}, nil
}

// doWeighted acquires weight tokens from the rate limiter, issues the
// request, and classifies the response per spec.md §4.1/§7: 429 and 418
// are mapped to bans and returned as typed errors for the caller to
// drop-and-continue on; other non-2xx statuses are transient/parse errors.
func (c *Client) doWeighted(ctx context.Context, req *http.Request, weight int) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx, weight); err != nil {
		return nil, err
	}
	defer c.limiter.Release()

	if c.metrics != nil {
		c.metrics.IncRequests()
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.IncRequestsFailed()
		}
		return nil, apperr.Wrap(apperr.KindTransient, "http request", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return resp, nil
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, apperr.New(apperr.KindNotFound, req.URL.String())
	case http.StatusTooManyRequests:
		retryAfter := parseRetryAfterSeconds(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		if err := c.limiter.SetBan(ratelimit.BanFromRetryAfter(retryAfter)); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist ban from 429")
		}
		if c.metrics != nil {
			c.metrics.IncRequestsFailed()
		}
		return nil, apperr.New(apperr.KindRateLimited, req.URL.String())
	case 418:
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		until := ratelimit.ParseBan(string(body))
		if err := c.limiter.SetBan(until); err != nil {
			c.log.Warn().Err(err).Msg("failed to persist ban from 418")
		}
		if c.metrics != nil {
			c.metrics.IncRequestsFailed()
		}
		return nil, apperr.New(apperr.KindBanned, req.URL.String())
	default:
		resp.Body.Close()
		if c.metrics != nil {
			c.metrics.IncRequestsFailed()
		}
		return nil, apperr.New(apperr.KindTransient, fmt.Sprintf("unexpected status %s", resp.Status))
	}
}

func parseRetryAfterSeconds(h string) int {
	if h == "" {
		return 60
	}
	var secs int
	if _, err := fmt.Sscanf(h, "%d", &secs); err != nil || secs <= 0 {
		return 60
	}
	return secs
}

// retryTransient retries fn up to 3 times with exponential backoff
// 1·2^n seconds on a transient error, per spec.md §7.
func retryTransient(ctx context.Context, fn func() error) error {
	var err error
	backoff := time.Second
	for attempt := 0; attempt < 4; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if apperr.KindOf(err) != apperr.KindTransient || attempt == 3 {
			return err
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
