package adapters

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
)

func day(n int) time.Time {
	return time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func TestNormalizeSortsAndDerives(t *testing.T) {
	bars := []Bar{
		{Date: day(1), Open: 11, High: 11.5, Low: 10.8, Close: 11.2, Volume: 200},
		{Date: day(0), Open: 10, High: 10.5, Low: 9.8, Close: 11.0, Volume: 100},
	}

	rows := Normalize("AAPL", domain.IntervalDaily, bars, "us")
	require.Len(t, rows, 2)

	// Ascending regardless of input order.
	assert.True(t, rows[0].TradeDate.Before(rows[1].TradeDate))

	// First bar has no prior close and no upstream pre_close.
	assert.Zero(t, rows[0].PreClose)
	assert.Zero(t, rows[0].Change)

	// Second bar lags the first close.
	assert.Equal(t, 11.0, rows[1].PreClose)
	assert.InDelta(t, 0.2, rows[1].Change, 1e-9)
	assert.InDelta(t, 0.2/11.0*100, rows[1].PctChg, 1e-9)

	// Amount backfilled from close * volume.
	assert.InDelta(t, 11.0*100, rows[0].Amount, 1e-9)
	assert.Equal(t, "us", rows[0].DataSource)
}

func TestNormalizeKeepsUpstreamPreClose(t *testing.T) {
	bars := []Bar{{Date: day(0), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 100, PreClose: 10.1}}
	rows := Normalize("000001.SZ", domain.IntervalDaily, bars, "ashare")
	require.Len(t, rows, 1)
	assert.Equal(t, 10.1, rows[0].PreClose)
	assert.InDelta(t, 0.1, rows[0].Change, 1e-9)
}

func TestNormalizeDropsSentinelBars(t *testing.T) {
	bars := []Bar{
		{Date: day(0), Open: 10, High: 10.5, Low: 9.8, Close: 10.2, Volume: 100},
		{Date: day(1), Close: 0, Volume: 100},          // halted-day sentinel
		{Date: day(2), Close: math.NaN(), Volume: 100}, // corrupt
		{Date: time.Time{}, Close: 10.0, Volume: 100},  // missing date
		{Date: day(3), Open: 10.2, High: 10.6, Low: 10.1, Close: 10.4, Volume: 120},
	}
	rows := Normalize("AAPL", domain.IntervalDaily, bars, "us")
	require.Len(t, rows, 2)
	assert.Equal(t, day(0), rows[0].TradeDate)
	assert.Equal(t, day(3), rows[1].TradeDate)
}

func TestNormalizeMAWindows(t *testing.T) {
	bars := make([]Bar, 12)
	for i := range bars {
		price := float64(10 + i)
		bars[i] = Bar{Date: day(i), Open: price, High: price + 0.5, Low: price - 0.5, Close: price, Volume: 100}
	}

	rows := Normalize("AAPL", domain.IntervalDaily, bars, "us")
	require.Len(t, rows, 12)

	// Below window: nil.
	assert.Nil(t, rows[3].MA5)
	// At window: mean of the first five closes, 10..14.
	require.NotNil(t, rows[4].MA5)
	assert.InDelta(t, 12.0, *rows[4].MA5, 1e-9)
	// MA10 fills from index 9.
	assert.Nil(t, rows[8].MA10)
	require.NotNil(t, rows[9].MA10)
	assert.InDelta(t, 14.5, *rows[9].MA10, 1e-9)
	// 12 bars never fill MA20 or MA60.
	for _, r := range rows {
		assert.Nil(t, r.MA20)
		assert.Nil(t, r.MA60)
	}
}

func TestNormalizeEmpty(t *testing.T) {
	assert.Empty(t, Normalize("AAPL", domain.IntervalDaily, nil, "us"))
}
