package binance

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/datacat-io/ingest/internal/model"
)

// KlineHandler is invoked for every kline update received on the stream.
type KlineHandler func(model.Candle)

// SubscribeKlines opens a combined-stream WebSocket connection covering
// every symbol's 1-minute kline stream and invokes handler for each
// message, reconnecting with exponential backoff on error — the same
// shape as yitech-candles' adapter/binance/ws.go connectAndRead loop,
// generalized from one symbol to the combined-stream form Binance uses for
// subscribing to hundreds of symbols at once (spec.md §4.5).
func SubscribeKlines(ctx context.Context, symbols []string, interval model.Interval, log zerolog.Logger, handler KlineHandler) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := connectAndRead(ctx, symbols, interval, handler); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Dur("backoff", backoff).Msg("binance ws disconnected, reconnecting")
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second
		if ctx.Err() != nil {
			return
		}
	}
}

func connectAndRead(ctx context.Context, symbols []string, interval model.Interval, handler KlineHandler) error {
	streams := make([]string, len(symbols))
	for i, s := range symbols {
		streams[i] = strings.ToLower(s) + "@kline_" + string(interval)
	}
	u := WSBaseURL + "/" + strings.Join(streams, "/")

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		c, ok := parseWSKline(msg)
		if !ok {
			continue
		}
		handler(c)
	}
}

// wsKlineEnvelope is the combined-stream envelope; single-stream mode
// (when len(streams) == 1) returns the inner payload directly, so both
// shapes are tolerated.
type wsKlineEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type wsKlineMsg struct {
	EventType string `json:"e"`
	Symbol    string `json:"s"`
	Kline     struct {
		OpenTime            int64  `json:"t"`
		Interval            string `json:"i"`
		Open                string `json:"o"`
		High                string `json:"h"`
		Low                 string `json:"l"`
		Close               string `json:"c"`
		Volume              string `json:"v"`
		QuoteVolume         string `json:"q"`
		TradeCount          int64  `json:"n"`
		TakerBuyVolume      string `json:"V"`
		TakerBuyQuoteVolume string `json:"Q"`
		IsClosed            bool   `json:"x"`
	} `json:"k"`
}

func parseWSKline(raw []byte) (model.Candle, bool) {
	payload := raw
	var env wsKlineEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && len(env.Data) > 0 {
		payload = env.Data
	}

	var m wsKlineMsg
	if err := json.Unmarshal(payload, &m); err != nil {
		return model.Candle{}, false
	}
	if m.EventType != "kline" {
		return model.Candle{}, false
	}
	// Only closed candles are persisted (spec.md §2, "closed-candles-only").
	if !m.Kline.IsClosed {
		return model.Candle{}, false
	}

	k := m.Kline
	parseF := parseFloatOrZero
	return model.Candle{
		Exchange:            "binance",
		Symbol:              normalizeSymbol(m.Symbol),
		BucketTs:            k.OpenTime,
		Open:                parseF(k.Open),
		High:                parseF(k.High),
		Low:                 parseF(k.Low),
		Close:               parseF(k.Close),
		Volume:              parseF(k.Volume),
		QuoteVolume:         parseF(k.QuoteVolume),
		TradeCount:          k.TradeCount,
		TakerBuyVolume:      parseF(k.TakerBuyVolume),
		TakerBuyQuoteVolume: parseF(k.TakerBuyQuoteVolume),
		IsClosed:            true,
		Source:              model.SourceWS,
	}, true
}

// normalizeSymbol upper-cases and ensures the BASEUSDT shape spec.md §4.5
// requires for row composition.
func normalizeSymbol(s string) string {
	s = strings.ToUpper(s)
	if s == "" || strings.HasSuffix(s, "USDT") {
		return s
	}
	return s + "USDT"
}

func parseFloatOrZero(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
