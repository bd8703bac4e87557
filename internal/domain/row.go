package domain

import "time"

// Interval enumerates the bar sizes served by the core. Minute and FiveDay are
// intraday views and always bypass store and cache.
type Interval string

const (
	IntervalMinute  Interval = "minute"
	IntervalFiveDay Interval = "5day"
	IntervalDaily   Interval = "daily"
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// Intraday reports whether the interval is never persisted or cached.
func (i Interval) Intraday() bool {
	return i == IntervalMinute || i == IntervalFiveDay
}

// Valid reports whether the interval is one of the served bar sizes.
func (i Interval) Valid() bool {
	switch i {
	case IntervalMinute, IntervalFiveDay, IntervalDaily, IntervalWeekly, IntervalMonthly:
		return true
	}
	return false
}

// Row is one normalized OHLCV bar. TradeDate is a UTC calendar date for daily
// and coarser intervals, a full timestamp for intraday. Moving averages are nil
// until their window is filled.
type Row struct {
	Symbol     string    `json:"symbol" db:"symbol"`
	Interval   Interval  `json:"interval" db:"interval"`
	TradeDate  time.Time `json:"trade_date" db:"trade_date"`
	Open       float64   `json:"open" db:"open"`
	High       float64   `json:"high" db:"high"`
	Low        float64   `json:"low" db:"low"`
	Close      float64   `json:"close" db:"close"`
	PreClose   float64   `json:"pre_close" db:"pre_close"`
	Change     float64   `json:"change" db:"change"`
	PctChg     float64   `json:"pct_chg" db:"pct_chg"`
	Volume     float64   `json:"volume" db:"volume"`
	Amount     float64   `json:"amount" db:"amount"`
	MA5        *float64  `json:"ma5,omitempty" db:"ma5"`
	MA10       *float64  `json:"ma10,omitempty" db:"ma10"`
	MA20       *float64  `json:"ma20,omitempty" db:"ma20"`
	MA60       *float64  `json:"ma60,omitempty" db:"ma60"`
	DataSource string    `json:"data_source,omitempty" db:"data_source"`
}

// Key returns the row's uniqueness key.
func (r Row) Key() RowKey {
	return RowKey{Symbol: r.Symbol, Interval: r.Interval, TradeDate: r.TradeDate.Format("2006-01-02")}
}

// RowKey is the (symbol, interval, trade_date) uniqueness triple.
type RowKey struct {
	Symbol    string
	Interval  Interval
	TradeDate string
}

// DateRange bounds a history read. Zero values mean unbounded on that side.
type DateRange struct {
	From time.Time
	To   time.Time
}

// FundamentalSnapshot is the one-per-symbol fundamentals record.
type FundamentalSnapshot struct {
	Symbol        string    `json:"symbol" db:"symbol"`
	MarketCap     float64   `json:"market_cap" db:"market_cap"`
	PERatio       float64   `json:"pe_ratio" db:"pe_ratio"`
	PBRatio       float64   `json:"pb_ratio" db:"pb_ratio"`
	DividendYield float64   `json:"dividend_yield" db:"dividend_yield"`
	GrossMargin   float64   `json:"gross_margin" db:"gross_margin"`
	NetMargin     float64   `json:"net_margin" db:"net_margin"`
	RevenueGrowth float64   `json:"revenue_growth" db:"revenue_growth"`
	ProfitGrowth  float64   `json:"profit_growth" db:"profit_growth"`
	CurrentRatio  float64   `json:"current_ratio" db:"current_ratio"`
	DebtToEquity  float64   `json:"debt_to_equity" db:"debt_to_equity"`
	LastUpdated   time.Time `json:"last_updated" db:"last_updated"`
}

// CorporateActionType discriminates dividend vs split actions.
type CorporateActionType string

const (
	ActionDividend CorporateActionType = "dividend"
	ActionSplit    CorporateActionType = "split"
)

// CorporateAction records one dividend or split. Unique per (symbol, ex_date, type).
type CorporateAction struct {
	Symbol     string              `json:"symbol" db:"symbol"`
	ExDate     time.Time           `json:"ex_date" db:"ex_date"`
	ActionType CorporateActionType `json:"action_type" db:"action_type"`
	Value      float64             `json:"value" db:"value"`
}

// AnnualEarnings records one year's net profit. Unique per (symbol, year).
type AnnualEarnings struct {
	Symbol    string  `json:"symbol" db:"symbol"`
	Year      int     `json:"year" db:"year"`
	NetProfit float64 `json:"net_profit" db:"net_profit"`
}

// ValidationStatus tags the outcome of the quality stage on a stored record.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationFailed    ValidationStatus = "failed"
)

// DailyMetrics is the derived per-day record per symbol, rebuilt by the warm-up
// scheduler and queried by screeners. Unique per (code, date, market).
type DailyMetrics struct {
	Code             string           `json:"code" db:"code"`
	Date             time.Time        `json:"date" db:"date"`
	Market           Market           `json:"market" db:"market"`
	ClosePrice       float64          `json:"close_price" db:"close_price"`
	MA5              *float64         `json:"ma5,omitempty" db:"ma5"`
	MA20             *float64         `json:"ma20,omitempty" db:"ma20"`
	Volume           float64          `json:"volume" db:"volume"`
	PERatio          float64          `json:"pe_ratio" db:"pe_ratio"`
	PBRatio          float64          `json:"pb_ratio" db:"pb_ratio"`
	MarketCap        float64          `json:"market_cap" db:"market_cap"`
	DividendYield    float64          `json:"dividend_yield" db:"dividend_yield"`
	DataSource       string           `json:"data_source" db:"data_source"`
	QualityScore     float64          `json:"quality_score" db:"quality_score"`
	ValidationStatus ValidationStatus `json:"validation_status" db:"validation_status"`
	IsDuplicate      bool             `json:"is_duplicate" db:"is_duplicate"`
	DuplicateSource  string           `json:"duplicate_source,omitempty" db:"duplicate_source"`
}

// Spot is a lightweight latest-quote view used by the daily-metrics refresh.
type Spot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    float64   `json:"volume"`
	PERatio   float64   `json:"pe_ratio"`
	PBRatio   float64   `json:"pb_ratio"`
	MarketCap float64   `json:"market_cap"`
	DivYield  float64   `json:"dividend_yield"`
	Timestamp time.Time `json:"timestamp"`
}
