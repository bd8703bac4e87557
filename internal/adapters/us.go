package adapters

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

// USAdapter serves US listings from a bars API with RFC 3339 timestamps.
// Symbol listings come from the bootstrap chain, not a single endpoint.
type USAdapter struct {
	client  *Client
	sources []USListSource
	log     zerolog.Logger
}

// NewUSAdapter wires the bars endpoint plus the listing bootstrap chain.
func NewUSAdapter(baseURL string, sources []USListSource, log zerolog.Logger) *USAdapter {
	l := log.With().Str("adapter", "us").Logger()
	return &USAdapter{client: NewClient(baseURL, 10, 20, l), sources: sources, log: l}
}

func (a *USAdapter) Name() string          { return "us" }
func (a *USAdapter) Market() domain.Market { return domain.MarketUSStock }

func (a *USAdapter) SupportedIntervals() []domain.Interval {
	return []domain.Interval{
		domain.IntervalMinute,
		domain.IntervalDaily, domain.IntervalWeekly, domain.IntervalMonthly,
	}
}

var usTimeframes = map[domain.Interval]string{
	domain.IntervalMinute:  "1Min",
	domain.IntervalDaily:   "1Day",
	domain.IntervalWeekly:  "1Week",
	domain.IntervalMonthly: "1Month",
}

type usBar struct {
	Timestamp time.Time `json:"t"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    float64   `json:"v"`
}

type usBarsResp struct {
	Symbol string  `json:"symbol"`
	Bars   []usBar `json:"bars"`
}

func (a *USAdapter) FetchOHLCV(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	if err := supportsInterval(a, interval); err != nil {
		return nil, err
	}
	q := url.Values{"symbol": {symbol}, "timeframe": {usTimeframes[interval]}}
	if !rng.From.IsZero() {
		q.Set("start", rng.From.Format(time.RFC3339))
	}
	if !rng.To.IsZero() {
		q.Set("end", rng.To.Format(time.RFC3339))
	}

	var resp usBarsResp
	if err := a.client.GetJSON(ctx, "/v2/bars", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.Bars) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "no bars for "+symbol)
	}

	bars := make([]Bar, 0, len(resp.Bars))
	for _, b := range resp.Bars {
		bars = append(bars, Bar{
			Date: b.Timestamp, Open: b.Open, High: b.High, Low: b.Low,
			Close: b.Close, Volume: b.Volume,
		})
	}
	return Normalize(symbol, interval, bars, a.Name()), nil
}

// FetchSymbols runs the bootstrap chain: first source fatal, the rest
// best-effort, filtered union.
func (a *USAdapter) FetchSymbols(ctx context.Context) ([]domain.SymbolInfo, error) {
	return BootstrapUSList(ctx, a.sources, a.log)
}

type usFundamentals struct {
	Symbol        string  `json:"symbol"`
	MarketCap     float64 `json:"market_cap"`
	PERatio       float64 `json:"pe_ratio"`
	PBRatio       float64 `json:"pb_ratio"`
	DividendYield float64 `json:"dividend_yield"`
	GrossMargin   float64 `json:"gross_margin"`
	NetMargin     float64 `json:"net_margin"`
	RevenueGrowth float64 `json:"revenue_growth"`
	ProfitGrowth  float64 `json:"profit_growth"`
	CurrentRatio  float64 `json:"current_ratio"`
	DebtToEquity  float64 `json:"debt_to_equity"`
}

func (a *USAdapter) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalSnapshot, error) {
	var resp usFundamentals
	if err := a.client.GetJSON(ctx, "/v1/fundamentals", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	if resp.Symbol == "" {
		return nil, domain.E(domain.KindUpstreamEmpty, "no fundamentals for "+symbol)
	}
	return &domain.FundamentalSnapshot{
		Symbol: symbol, MarketCap: resp.MarketCap, PERatio: resp.PERatio,
		PBRatio: resp.PBRatio, DividendYield: resp.DividendYield,
		GrossMargin: resp.GrossMargin, NetMargin: resp.NetMargin,
		RevenueGrowth: resp.RevenueGrowth, ProfitGrowth: resp.ProfitGrowth,
		CurrentRatio: resp.CurrentRatio, DebtToEquity: resp.DebtToEquity,
		LastUpdated: time.Now().UTC(),
	}, nil
}

type usAction struct {
	ExDate string  `json:"ex_date"`
	Type   string  `json:"type"`
	Value  float64 `json:"value"`
}

type usActionsResp struct {
	Actions []usAction `json:"actions"`
}

func (a *USAdapter) FetchCorporateActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	var resp usActionsResp
	if err := a.client.GetJSON(ctx, "/v1/corporate-actions", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.CorporateAction, 0, len(resp.Actions))
	for _, it := range resp.Actions {
		exDate, err := time.Parse("2006-01-02", it.ExDate)
		if err != nil {
			continue
		}
		actionType := domain.ActionDividend
		if strings.EqualFold(it.Type, "split") {
			actionType = domain.ActionSplit
		}
		out = append(out, domain.CorporateAction{
			Symbol: symbol, ExDate: exDate, ActionType: actionType, Value: it.Value,
		})
	}
	return out, nil
}

type usEarningsResp struct {
	Earnings []struct {
		Year      int     `json:"year"`
		NetIncome float64 `json:"net_income"`
	} `json:"earnings"`
}

func (a *USAdapter) FetchAnnualEarnings(ctx context.Context, symbol string) ([]domain.AnnualEarnings, error) {
	var resp usEarningsResp
	if err := a.client.GetJSON(ctx, "/v1/earnings", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.AnnualEarnings, 0, len(resp.Earnings))
	for _, it := range resp.Earnings {
		out = append(out, domain.AnnualEarnings{Symbol: symbol, Year: it.Year, NetProfit: it.NetIncome})
	}
	return out, nil
}

type usQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Volume    float64 `json:"volume"`
	PERatio   float64 `json:"pe_ratio"`
	MarketCap float64 `json:"market_cap"`
}

type usQuotesResp struct {
	Quotes []usQuote `json:"quotes"`
}

func (a *USAdapter) FetchSpot(ctx context.Context, symbols []string) ([]domain.Spot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	var resp usQuotesResp
	if err := a.client.GetJSON(ctx, "/v2/quotes/latest", url.Values{"symbols": {strings.Join(symbols, ",")}}, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]domain.Spot, 0, len(resp.Quotes))
	for _, q := range resp.Quotes {
		out = append(out, domain.Spot{
			Symbol: q.Symbol, Price: q.Price, Volume: q.Volume,
			PERatio: q.PERatio, MarketCap: q.MarketCap, Timestamp: now,
		})
	}
	return out, nil
}
