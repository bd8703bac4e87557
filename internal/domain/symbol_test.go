package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveCanonicalForms(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code string
	}{
		{"ashare bare SZ", "000001", "000001.SZ"},
		{"ashare bare SH", "600519", "600519.SH"},
		{"ashare bare BJ", "830799", "830799.BJ"},
		{"ashare canonical", "000001.SZ", "000001.SZ"},
		{"ashare chinext", "300750", "300750.SZ"},
		{"us ticker", "AAPL", "AAPL"},
		{"us ticker lowercase", "aapl", "AAPL"},
		{"us class share", "BRK.B", "BRK.B"},
		{"hk", "00700.HK", "00700.HK"},
		{"futures", "rb2410", "RB2410"},
		{"crypto", "BTC-USDT", "BTC-USDT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sym, err := Resolve(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.code, sym.Code)
		})
	}
}

func TestResolveIdempotent(t *testing.T) {
	for _, raw := range []string{"000001", "600519.SH", "AAPL", "RB2410", "BTC-USDT"} {
		first, err := Resolve(raw)
		require.NoError(t, err)
		second, err := Resolve(first.Code)
		require.NoError(t, err)
		assert.Equal(t, first.Code, second.Code, "resolve must be idempotent for %s", raw)
	}
}

func TestResolveRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "!!", "toolongsymbolname"} {
		_, err := Resolve(raw)
		require.Error(t, err, "raw=%q", raw)
		assert.Equal(t, KindInputInvalid, KindOf(err))
	}
}

func TestClassifyMarket(t *testing.T) {
	assert.Equal(t, MarketAShare, ClassifyMarket("000001.SZ"))
	assert.Equal(t, MarketHKStock, ClassifyMarket("00700.HK"))
	assert.Equal(t, MarketFutures, ClassifyMarket("RB2410"))
	assert.Equal(t, MarketCrypto, ClassifyMarket("BTC-USDT"))
	assert.Equal(t, MarketUSStock, ClassifyMarket("AAPL"))
}

func TestParseTopic(t *testing.T) {
	valid := []string{
		"stock.AAPL.1m",
		"stock.000001.SZ.1d",
		"crypto.BTC-USDT.5m",
		"futures.RB2410.1h",
		"market.US_stock.summary",
		"stock.AAPL.1M",
	}
	for _, raw := range valid {
		_, err := ParseTopic(raw)
		assert.NoError(t, err, raw)
	}

	invalid := []string{
		"",
		"stock.AAPL",
		"stock.AAPL.2m",
		"bond.AAPL.1m",
		"stock..1m",
		"market.summary",
	}
	for _, raw := range invalid {
		_, err := ParseTopic(raw)
		require.Error(t, err, raw)
		assert.Equal(t, KindInputInvalid, KindOf(err))
	}
}

func TestTopicAccessors(t *testing.T) {
	top, err := ParseTopic("stock.000001.SZ.1d")
	require.NoError(t, err)
	assert.Equal(t, "000001.SZ", top.Symbol())
	assert.Equal(t, "1d", top.IntervalToken())
	assert.Equal(t, 24*time.Hour, top.Tick())
	assert.Equal(t, IntervalDaily, top.StorageInterval())

	sum, err := ParseTopic("market.A_share.summary")
	require.NoError(t, err)
	assert.True(t, sum.IsSummary())
	assert.Equal(t, 5*time.Minute, sum.Tick())
}

func TestPreviousTradingDay(t *testing.T) {
	// 2024-01-20 is a Saturday; previous trading day is Friday the 19th.
	sat := time.Date(2024, 1, 20, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC), PreviousTradingDay(sat))

	// Monday's previous trading day is Friday.
	mon := time.Date(2024, 1, 22, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC), PreviousTradingDay(mon))

	// Friday data is fresh all weekend.
	fri := time.Date(2024, 1, 19, 0, 0, 0, 0, time.UTC)
	sun := time.Date(2024, 1, 21, 23, 0, 0, 0, time.UTC)
	assert.True(t, Fresh(fri, sun))
	assert.False(t, Fresh(time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC), sun))
	assert.False(t, Fresh(time.Time{}, sun))
}

func TestErrorKinds(t *testing.T) {
	err := E(KindUpstreamMalformed, "bad payload")
	assert.Equal(t, KindUpstreamMalformed, KindOf(err))
	assert.False(t, Retryable(err))

	thr := Throttled("429", 2*time.Second)
	assert.Equal(t, KindUpstreamThrottled, KindOf(thr))
	assert.True(t, Retryable(thr))
	assert.Equal(t, 2*time.Second, RetryAfterOf(thr))

	assert.Equal(t, KindUnknown, KindOf(assert.AnError))
}
