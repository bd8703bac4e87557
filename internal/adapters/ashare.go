package adapters

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

const aShareDateLayout = "20060102"

// AShareAdapter serves mainland CN and HK listings from a tushare-style
// vendor API: numeric-object payloads keyed by ts_code, YYYYMMDD dates.
type AShareAdapter struct {
	client *Client
	log    zerolog.Logger
}

// NewAShareAdapter wires the vendor endpoint. rps 5 matches the vendor's
// free-tier quota.
func NewAShareAdapter(baseURL string, log zerolog.Logger) *AShareAdapter {
	l := log.With().Str("adapter", "ashare").Logger()
	return &AShareAdapter{client: NewClient(baseURL, 5, 10, l), log: l}
}

func (a *AShareAdapter) Name() string          { return "ashare" }
func (a *AShareAdapter) Market() domain.Market { return domain.MarketAShare }

func (a *AShareAdapter) SupportedIntervals() []domain.Interval {
	return []domain.Interval{
		domain.IntervalMinute, domain.IntervalFiveDay,
		domain.IntervalDaily, domain.IntervalWeekly, domain.IntervalMonthly,
	}
}

var aSharePeriods = map[domain.Interval]string{
	domain.IntervalMinute:  "1min",
	domain.IntervalFiveDay: "5day",
	domain.IntervalDaily:   "daily",
	domain.IntervalWeekly:  "weekly",
	domain.IntervalMonthly: "monthly",
}

type aShareBar struct {
	TradeDate string  `json:"trade_date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	PreClose  float64 `json:"pre_close"`
	Vol       float64 `json:"vol"`
	Amount    float64 `json:"amount"`
}

type aShareEnvelope[T any] struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Items []T    `json:"items"`
}

func (a *AShareAdapter) FetchOHLCV(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	if err := supportsInterval(a, interval); err != nil {
		return nil, err
	}
	q := url.Values{"ts_code": {symbol}, "period": {aSharePeriods[interval]}}
	if !rng.From.IsZero() {
		q.Set("start_date", rng.From.Format(aShareDateLayout))
	}
	if !rng.To.IsZero() {
		q.Set("end_date", rng.To.Format(aShareDateLayout))
	}

	var resp aShareEnvelope[aShareBar]
	if err := a.client.GetJSON(ctx, "/api/v1/kline", q, &resp); err != nil {
		return nil, err
	}
	if resp.Code != 0 {
		return nil, domain.E(domain.KindUpstreamMalformed, fmt.Sprintf("vendor code %d: %s", resp.Code, resp.Msg))
	}
	if len(resp.Items) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "no bars for "+symbol)
	}

	bars := make([]Bar, 0, len(resp.Items))
	for _, it := range resp.Items {
		date, err := time.Parse(aShareDateLayout, it.TradeDate)
		if err != nil {
			return nil, domain.E(domain.KindUpstreamMalformed, "bad trade_date "+it.TradeDate, err)
		}
		bars = append(bars, Bar{
			Date: date, Open: it.Open, High: it.High, Low: it.Low, Close: it.Close,
			PreClose: it.PreClose, Volume: it.Vol, Amount: it.Amount,
		})
	}
	return Normalize(symbol, interval, bars, a.Name()), nil
}

type aShareListing struct {
	TSCode string `json:"ts_code"`
	Name   string `json:"name"`
}

func (a *AShareAdapter) FetchSymbols(ctx context.Context) ([]domain.SymbolInfo, error) {
	var resp aShareEnvelope[aShareListing]
	if err := a.client.GetJSON(ctx, "/api/v1/stock_basic", nil, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "empty listing set")
	}
	out := make([]domain.SymbolInfo, 0, len(resp.Items))
	for _, it := range resp.Items {
		sym, err := domain.Resolve(it.TSCode)
		if err != nil {
			a.log.Warn().Str("ts_code", it.TSCode).Msg("skipping unresolvable listing")
			continue
		}
		out = append(out, domain.SymbolInfo{Code: sym.Code, Name: it.Name, Market: sym.Market})
	}
	return out, nil
}

type aShareFundamentals struct {
	TSCode        string  `json:"ts_code"`
	MarketCap     float64 `json:"total_mv"`
	PERatio       float64 `json:"pe"`
	PBRatio       float64 `json:"pb"`
	DividendYield float64 `json:"dv_ratio"`
	GrossMargin   float64 `json:"grossprofit_margin"`
	NetMargin     float64 `json:"netprofit_margin"`
	RevenueGrowth float64 `json:"or_yoy"`
	ProfitGrowth  float64 `json:"netprofit_yoy"`
	CurrentRatio  float64 `json:"current_ratio"`
	DebtToEquity  float64 `json:"debt_to_assets"`
}

func (a *AShareAdapter) FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalSnapshot, error) {
	var resp aShareEnvelope[aShareFundamentals]
	if err := a.client.GetJSON(ctx, "/api/v1/fina_indicator", url.Values{"ts_code": {symbol}}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "no fundamentals for "+symbol)
	}
	f := resp.Items[0]
	return &domain.FundamentalSnapshot{
		Symbol: symbol, MarketCap: f.MarketCap, PERatio: f.PERatio, PBRatio: f.PBRatio,
		DividendYield: f.DividendYield, GrossMargin: f.GrossMargin, NetMargin: f.NetMargin,
		RevenueGrowth: f.RevenueGrowth, ProfitGrowth: f.ProfitGrowth,
		CurrentRatio: f.CurrentRatio, DebtToEquity: f.DebtToEquity,
		LastUpdated: time.Now().UTC(),
	}, nil
}

type aShareDividend struct {
	ExDate string  `json:"ex_date"`
	Type   string  `json:"div_type"`
	Value  float64 `json:"value"`
}

func (a *AShareAdapter) FetchCorporateActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error) {
	var resp aShareEnvelope[aShareDividend]
	if err := a.client.GetJSON(ctx, "/api/v1/dividend", url.Values{"ts_code": {symbol}}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.CorporateAction, 0, len(resp.Items))
	for _, it := range resp.Items {
		exDate, err := time.Parse(aShareDateLayout, it.ExDate)
		if err != nil {
			continue
		}
		actionType := domain.ActionDividend
		if strings.Contains(strings.ToLower(it.Type), "split") {
			actionType = domain.ActionSplit
		}
		out = append(out, domain.CorporateAction{
			Symbol: symbol, ExDate: exDate, ActionType: actionType, Value: it.Value,
		})
	}
	return out, nil
}

type aShareEarnings struct {
	Year      int     `json:"year"`
	NetProfit float64 `json:"net_profit"`
}

func (a *AShareAdapter) FetchAnnualEarnings(ctx context.Context, symbol string) ([]domain.AnnualEarnings, error) {
	var resp aShareEnvelope[aShareEarnings]
	if err := a.client.GetJSON(ctx, "/api/v1/income_annual", url.Values{"ts_code": {symbol}}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.AnnualEarnings, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, domain.AnnualEarnings{Symbol: symbol, Year: it.Year, NetProfit: it.NetProfit})
	}
	return out, nil
}

type aShareSpot struct {
	TSCode    string  `json:"ts_code"`
	Price     float64 `json:"price"`
	Vol       float64 `json:"vol"`
	PERatio   float64 `json:"pe"`
	PBRatio   float64 `json:"pb"`
	MarketCap float64 `json:"total_mv"`
	DivYield  float64 `json:"dv_ratio"`
}

func (a *AShareAdapter) FetchSpot(ctx context.Context, symbols []string) ([]domain.Spot, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	q := url.Values{"ts_codes": {strings.Join(symbols, ",")}}
	var resp aShareEnvelope[aShareSpot]
	if err := a.client.GetJSON(ctx, "/api/v1/spot", q, &resp); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]domain.Spot, 0, len(resp.Items))
	for _, it := range resp.Items {
		out = append(out, domain.Spot{
			Symbol: it.TSCode, Price: it.Price, Volume: it.Vol,
			PERatio: it.PERatio, PBRatio: it.PBRatio,
			MarketCap: it.MarketCap, DivYield: it.DivYield,
			Timestamp: now,
		})
	}
	return out, nil
}
