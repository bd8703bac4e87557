package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

// CryptoAdapter serves spot pairs from a Kraken-compatible public REST API:
// result maps keyed by pair, prices as JSON strings, timestamps in epoch
// seconds.
type CryptoAdapter struct {
	client *Client
	log    zerolog.Logger
}

// NewCryptoAdapter wires the exchange endpoint. Public endpoints allow 1 rps
// sustained.
func NewCryptoAdapter(baseURL string, log zerolog.Logger) *CryptoAdapter {
	l := log.With().Str("adapter", "crypto").Logger()
	return &CryptoAdapter{client: NewClient(baseURL, 1, 3, l), log: l}
}

func (a *CryptoAdapter) Name() string          { return "crypto" }
func (a *CryptoAdapter) Market() domain.Market { return domain.MarketCrypto }

func (a *CryptoAdapter) SupportedIntervals() []domain.Interval {
	return []domain.Interval{domain.IntervalMinute, domain.IntervalDaily, domain.IntervalWeekly}
}

var cryptoGranularity = map[domain.Interval]string{
	domain.IntervalMinute: "1",
	domain.IntervalDaily:  "1440",
	domain.IntervalWeekly: "10080",
}

// krakenEnvelope leaves result entries raw: the map holds candle lists keyed
// by pair plus a numeric "last" cursor.
type krakenEnvelope struct {
	Error  []string                   `json:"error"`
	Result map[string]json.RawMessage `json:"result"`
}

// krakenCandle is [time, open, high, low, close, vwap, volume, count] with
// prices as strings.
type krakenCandle []any

func (a *CryptoAdapter) FetchOHLCV(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	if err := supportsInterval(a, interval); err != nil {
		return nil, err
	}
	q := url.Values{"pair": {normalizePair(symbol)}, "interval": {cryptoGranularity[interval]}}
	if !rng.From.IsZero() {
		q.Set("since", strconv.FormatInt(rng.From.Unix(), 10))
	}

	var resp krakenEnvelope
	if err := a.client.GetJSON(ctx, "/0/public/OHLC", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, classifyExchangeError(resp.Error[0])
	}

	bars := make([]Bar, 0, 64)
	for key, raw := range resp.Result {
		if key == "last" {
			continue
		}
		var candles []krakenCandle
		if err := json.Unmarshal(raw, &candles); err != nil {
			return nil, domain.E(domain.KindUpstreamMalformed, "decode candle list", err)
		}
		for _, c := range candles {
			bar, err := parseCandle(c)
			if err != nil {
				return nil, domain.E(domain.KindUpstreamMalformed, "parse candle", err)
			}
			if !rng.To.IsZero() && bar.Date.After(rng.To) {
				continue
			}
			bars = append(bars, bar)
		}
	}
	if len(bars) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "no candles for "+symbol)
	}
	return Normalize(symbol, interval, bars, a.Name()), nil
}

func parseCandle(c krakenCandle) (Bar, error) {
	if len(c) < 7 {
		return Bar{}, fmt.Errorf("candle has %d fields", len(c))
	}
	ts, err := anyToFloat(c[0])
	if err != nil {
		return Bar{}, err
	}
	fields := make([]float64, 0, 5)
	for _, idx := range []int{1, 2, 3, 4, 6} { // open, high, low, close, volume
		v, err := anyToFloat(c[idx])
		if err != nil {
			return Bar{}, err
		}
		fields = append(fields, v)
	}
	return Bar{
		Date: time.Unix(int64(ts), 0).UTC(),
		Open: fields[0], High: fields[1], Low: fields[2], Close: fields[3], Volume: fields[4],
	}, nil
}

func anyToFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		return strconv.ParseFloat(t, 64)
	}
	return 0, fmt.Errorf("unexpected numeric type %T", v)
}

// normalizePair strips separators: BTC-USD and BTC/USD both map to BTCUSD.
func normalizePair(symbol string) string {
	return strings.NewReplacer("-", "", "/", "").Replace(symbol)
}

// classifyExchangeError maps the exchange's E-prefixed error strings.
func classifyExchangeError(msg string) error {
	switch {
	case strings.Contains(msg, "Rate limit"):
		return domain.Throttled(msg, 0)
	case strings.Contains(msg, "Unknown asset pair"):
		return domain.E(domain.KindUpstreamEmpty, msg)
	case strings.HasPrefix(msg, "EService"):
		return domain.E(domain.KindUpstreamTransient, msg)
	default:
		return domain.E(domain.KindUpstreamMalformed, msg)
	}
}

type krakenPairsResp struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		WSName string `json:"wsname"`
	} `json:"result"`
}

func (a *CryptoAdapter) FetchSymbols(ctx context.Context) ([]domain.SymbolInfo, error) {
	var resp krakenPairsResp
	if err := a.client.GetJSON(ctx, "/0/public/AssetPairs", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, classifyExchangeError(resp.Error[0])
	}
	out := make([]domain.SymbolInfo, 0, len(resp.Result))
	for _, p := range resp.Result {
		if p.WSName == "" {
			continue
		}
		code := strings.ReplaceAll(p.WSName, "XBT", "BTC")
		out = append(out, domain.SymbolInfo{Code: code, Market: domain.MarketCrypto})
	}
	if len(out) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "empty pair set")
	}
	return out, nil
}

// Fundamentals, corporate actions and earnings do not exist for spot pairs.

func (a *CryptoAdapter) FetchFundamentals(context.Context, string) (*domain.FundamentalSnapshot, error) {
	return nil, domain.E(domain.KindUpstreamEmpty, "crypto pairs have no fundamentals")
}

func (a *CryptoAdapter) FetchCorporateActions(context.Context, string) ([]domain.CorporateAction, error) {
	return nil, domain.E(domain.KindUpstreamEmpty, "crypto pairs have no corporate actions")
}

func (a *CryptoAdapter) FetchAnnualEarnings(context.Context, string) ([]domain.AnnualEarnings, error) {
	return nil, domain.E(domain.KindUpstreamEmpty, "crypto pairs have no earnings")
}

type krakenTickerResp struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		C []string `json:"c"` // last trade: price, lot volume
		V []string `json:"v"` // volume: today, 24h
	} `json:"result"`
}

func (a *CryptoAdapter) FetchSpot(ctx context.Context, symbols []string) ([]domain.Spot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	pairs := make([]string, len(symbols))
	for i, s := range symbols {
		pairs[i] = normalizePair(s)
	}
	var resp krakenTickerResp
	if err := a.client.GetJSON(ctx, "/0/public/Ticker", url.Values{"pair": {strings.Join(pairs, ",")}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Error) > 0 {
		return nil, classifyExchangeError(resp.Error[0])
	}

	now := time.Now().UTC()
	out := make([]domain.Spot, 0, len(resp.Result))
	for key, t := range resp.Result {
		sym, ok := matchPair(key, symbols)
		if !ok || len(t.C) == 0 {
			continue
		}
		price, err := strconv.ParseFloat(t.C[0], 64)
		if err != nil {
			continue
		}
		var vol float64
		if len(t.V) > 1 {
			vol, _ = strconv.ParseFloat(t.V[1], 64)
		}
		out = append(out, domain.Spot{Symbol: sym, Price: price, Volume: vol, Timestamp: now})
	}
	return out, nil
}

// matchPair maps an exchange result key back to the requested symbol. Keys
// carry legacy X/Z class prefixes and XBT for BTC, so matching is by base and
// quote containment after translation.
func matchPair(key string, symbols []string) (string, bool) {
	k := strings.ReplaceAll(strings.ToUpper(key), "XBT", "BTC")
	for _, sym := range symbols {
		pair := normalizePair(strings.ToUpper(sym))
		base, quote, ok := splitPair(pair)
		if !ok {
			continue
		}
		if strings.Contains(k, base) && strings.HasSuffix(k, quote) {
			return sym, true
		}
	}
	return "", false
}

func splitPair(pair string) (base, quote string, ok bool) {
	for _, q := range []string{"USDT", "USD", "BTC", "ETH"} {
		if strings.HasSuffix(pair, q) && len(pair) > len(q) {
			return pair[:len(pair)-len(q)], q, true
		}
	}
	return "", "", false
}
