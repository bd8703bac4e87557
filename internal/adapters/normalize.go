package adapters

import (
	"math"
	"sort"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/quotecore/quotecore/internal/domain"
)

// Bar is the adapter-neutral raw bar parsed from an upstream response before
// derivation. PreClose is the upstream's value when it supplies one; zero
// means derive from the previous bar.
type Bar struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
	Amount   float64
	PreClose float64
}

// Normalize turns raw bars into domain rows: drops unusable bars, sorts
// ascending, lags pre_close, derives change/pct_chg, backfills amount and
// computes the moving-average ladder. Windows that are not yet filled stay
// nil.
func Normalize(symbol string, interval domain.Interval, bars []Bar, source string) []domain.Row {
	clean := make([]Bar, 0, len(bars))
	for _, b := range bars {
		if !usable(b) {
			continue
		}
		clean = append(clean, b)
	}
	sort.SliceStable(clean, func(i, j int) bool { return clean[i].Date.Before(clean[j].Date) })

	rows := make([]domain.Row, len(clean))
	closes := make([]float64, len(clean))
	for i, b := range clean {
		preClose := b.PreClose
		if i > 0 {
			preClose = clean[i-1].Close
		}
		var change, pctChg float64
		if preClose > 0 {
			change = b.Close - preClose
			pctChg = change / preClose * 100
		}
		amount := b.Amount
		if amount == 0 {
			amount = b.Close * b.Volume
		}
		rows[i] = domain.Row{
			Symbol:     symbol,
			Interval:   interval,
			TradeDate:  b.Date.UTC(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			PreClose:   preClose,
			Change:     change,
			PctChg:     pctChg,
			Volume:     b.Volume,
			Amount:     amount,
			DataSource: source,
		}
		closes[i] = b.Close
	}

	applySMA(rows, closes, 5, func(r *domain.Row, v float64) { r.MA5 = &v })
	applySMA(rows, closes, 10, func(r *domain.Row, v float64) { r.MA10 = &v })
	applySMA(rows, closes, 20, func(r *domain.Row, v float64) { r.MA20 = &v })
	applySMA(rows, closes, 60, func(r *domain.Row, v float64) { r.MA60 = &v })
	return rows
}

// usable rejects sentinel and non-finite bars. A zero or negative close marks
// a missing bar in several upstream formats.
func usable(b Bar) bool {
	if b.Date.IsZero() || b.Close <= 0 {
		return false
	}
	for _, v := range []float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// applySMA fills one MA window. talib leaves the first window-1 slots at zero;
// those stay nil on the row.
func applySMA(rows []domain.Row, closes []float64, window int, set func(*domain.Row, float64)) {
	if len(closes) < window {
		return
	}
	sma := talib.Sma(closes, window)
	for i := window - 1; i < len(rows); i++ {
		set(&rows[i], sma[i])
	}
}
