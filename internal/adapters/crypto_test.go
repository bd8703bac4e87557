package adapters

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
)

func TestCryptoFetchOHLCVParsesStringPrices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/0/public/OHLC", r.URL.Path)
		assert.Equal(t, "BTCUSD", r.URL.Query().Get("pair"))
		w.Write([]byte(`{"error":[],"result":{
			"XXBTZUSD":[
				[1709251200,"62000.1","62500.0","61800.0","62300.5","62100.0","15.5",320],
				[1709337600,"62300.5","63000.0","62100.0","62800.0","62500.0","12.1",280]
			],
			"last":1709337600
		}}`))
	}))
	defer srv.Close()

	a := NewCryptoAdapter(srv.URL, zerolog.Nop())
	rows, err := a.FetchOHLCV(context.Background(), "BTC-USD", domain.IntervalDaily, domain.DateRange{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 62300.5, rows[0].Close)
	assert.Equal(t, 62300.5, rows[1].PreClose)
}

func TestCryptoExchangeErrorClasses(t *testing.T) {
	tests := []struct {
		msg  string
		kind domain.Kind
	}{
		{"EAPI:Rate limit exceeded", domain.KindUpstreamThrottled},
		{"EQuery:Unknown asset pair", domain.KindUpstreamEmpty},
		{"EService:Unavailable", domain.KindUpstreamTransient},
		{"EGeneral:Invalid arguments", domain.KindUpstreamMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.kind, domain.KindOf(classifyExchangeError(tt.msg)))
		})
	}
}

func TestMatchPair(t *testing.T) {
	sym, ok := matchPair("XXBTZUSD", []string{"ETH-USD", "BTC-USD"})
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", sym)

	sym, ok = matchPair("XETHZUSD", []string{"ETH-USD", "BTC-USD"})
	require.True(t, ok)
	assert.Equal(t, "ETH-USD", sym)

	_, ok = matchPair("XXRPZUSD", []string{"BTC-USD"})
	assert.False(t, ok)
}

func TestCryptoNoFundamentals(t *testing.T) {
	a := NewCryptoAdapter("http://localhost", zerolog.Nop())
	_, err := a.FetchFundamentals(context.Background(), "BTC-USD")
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamEmpty, domain.KindOf(err))
}
