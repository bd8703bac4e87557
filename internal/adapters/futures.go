package adapters

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

// FuturesAdapter serves CN commodity and index futures from a vendor API
// with dash-dated object payloads.
type FuturesAdapter struct {
	client *Client
	log    zerolog.Logger
}

// NewFuturesAdapter wires the vendor endpoint.
func NewFuturesAdapter(baseURL string, log zerolog.Logger) *FuturesAdapter {
	l := log.With().Str("adapter", "futures").Logger()
	return &FuturesAdapter{client: NewClient(baseURL, 5, 10, l), log: l}
}

func (a *FuturesAdapter) Name() string          { return "futures" }
func (a *FuturesAdapter) Market() domain.Market { return domain.MarketFutures }

func (a *FuturesAdapter) SupportedIntervals() []domain.Interval {
	return []domain.Interval{domain.IntervalMinute, domain.IntervalDaily, domain.IntervalWeekly}
}

var futuresPeriods = map[domain.Interval]string{
	domain.IntervalMinute: "1min",
	domain.IntervalDaily:  "day",
	domain.IntervalWeekly: "week",
}

type futuresBar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
	Turnover float64 `json:"turnover"`
}

type futuresKlineResp struct {
	Data []futuresBar `json:"data"`
}

func (a *FuturesAdapter) FetchOHLCV(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	if err := supportsInterval(a, interval); err != nil {
		return nil, err
	}
	q := url.Values{"symbol": {symbol}, "period": {futuresPeriods[interval]}}
	if !rng.From.IsZero() {
		q.Set("start", rng.From.Format("2006-01-02"))
	}
	if !rng.To.IsZero() {
		q.Set("end", rng.To.Format("2006-01-02"))
	}

	var resp futuresKlineResp
	if err := a.client.GetJSON(ctx, "/api/futures/kline", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "no bars for "+symbol)
	}

	bars := make([]Bar, 0, len(resp.Data))
	for _, it := range resp.Data {
		date, err := time.Parse("2006-01-02", it.Date)
		if err != nil {
			return nil, domain.E(domain.KindUpstreamMalformed, "bad date "+it.Date, err)
		}
		bars = append(bars, Bar{
			Date: date, Open: it.Open, High: it.High, Low: it.Low, Close: it.Close,
			Volume: it.Volume, Amount: it.Turnover,
		})
	}
	return Normalize(symbol, interval, bars, a.Name()), nil
}

type futuresContract struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

func (a *FuturesAdapter) FetchSymbols(ctx context.Context) ([]domain.SymbolInfo, error) {
	var resp struct {
		Data []futuresContract `json:"data"`
	}
	if err := a.client.GetJSON(ctx, "/api/futures/contracts", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "empty contract set")
	}
	out := make([]domain.SymbolInfo, 0, len(resp.Data))
	for _, it := range resp.Data {
		out = append(out, domain.SymbolInfo{
			Code: strings.ToUpper(it.Symbol), Name: it.Name, Market: domain.MarketFutures,
		})
	}
	return out, nil
}

// Contracts carry no issuer financials.

func (a *FuturesAdapter) FetchFundamentals(context.Context, string) (*domain.FundamentalSnapshot, error) {
	return nil, domain.E(domain.KindUpstreamEmpty, "futures contracts have no fundamentals")
}

func (a *FuturesAdapter) FetchCorporateActions(context.Context, string) ([]domain.CorporateAction, error) {
	return nil, domain.E(domain.KindUpstreamEmpty, "futures contracts have no corporate actions")
}

func (a *FuturesAdapter) FetchAnnualEarnings(context.Context, string) ([]domain.AnnualEarnings, error) {
	return nil, domain.E(domain.KindUpstreamEmpty, "futures contracts have no earnings")
}

type futuresQuote struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

func (a *FuturesAdapter) FetchSpot(ctx context.Context, symbols []string) ([]domain.Spot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	var resp struct {
		Data []futuresQuote `json:"data"`
	}
	if err := a.client.GetJSON(ctx, "/api/futures/quote", url.Values{"symbols": {strings.Join(symbols, ",")}}, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]domain.Spot, 0, len(resp.Data))
	for _, q := range resp.Data {
		out = append(out, domain.Spot{Symbol: q.Symbol, Price: q.Price, Volume: q.Volume, Timestamp: now})
	}
	return out, nil
}
