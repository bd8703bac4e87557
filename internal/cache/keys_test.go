package cache

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyLayout(t *testing.T) {
	assert.Equal(t, "stock:info:000001.SZ:v1", Key(PrefixStockInfo, "000001.SZ"))
	assert.Equal(t, "stock:daily:AAPL:2024-03-01:v1", Key(PrefixStockDaily, "AAPL", "2024-03-01"))
	assert.Equal(t, "market:metrics:A_share:overview:v1", Key(PrefixMarketMetric, "A_share", "overview"))
}

func TestParamKeyDeterministic(t *testing.T) {
	a := ParamKey(PrefixStockDaily, "000001.SZ", map[string]string{"interval": "daily", "from": "2024-01-01"})
	b := ParamKey(PrefixStockDaily, "000001.SZ", map[string]string{"from": "2024-01-01", "interval": "daily"})
	assert.Equal(t, a, b, "param order must not affect the key")

	// <prefix>:<identifier>:<8-hex-hash>:v1
	assert.Regexp(t, regexp.MustCompile(`^stock:daily:000001\.SZ:[0-9a-f]{8}:v1$`), a)

	c := ParamKey(PrefixStockDaily, "000001.SZ", map[string]string{"interval": "weekly"})
	assert.NotEqual(t, a, c)
}

func TestSymbolPattern(t *testing.T) {
	assert.Equal(t, "*:AAPL:*", SymbolPattern("AAPL"))
}
