// Package domain holds the core market-data types shared by every component:
// canonical symbols, OHLCV rows, subscription topics and the error taxonomy.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Market identifies the venue class a symbol trades on.
type Market string

const (
	MarketAShare  Market = "A_share"
	MarketUSStock Market = "US_stock"
	MarketHKStock Market = "HK_stock"
	MarketCrypto  Market = "CRYPTO"
	MarketFutures Market = "FUTURES"
)

// Symbol is a canonical identifier: code plus market. A-share codes carry an
// exchange suffix ("000001.SZ"); US symbols are bare tickers.
type Symbol struct {
	Code   string `json:"code"`
	Market Market `json:"market"`
}

func (s Symbol) String() string { return s.Code }

// IsZero reports whether the symbol is unset.
func (s Symbol) IsZero() bool { return s.Code == "" }

var (
	aShareCanonical = regexp.MustCompile(`^\d{6}\.(SH|SZ|BJ)$`)
	aShareBare      = regexp.MustCompile(`^\d{6}$`)
	hkCanonical     = regexp.MustCompile(`^\d{5}\.HK$`)
	usTicker        = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,9}$`)
	cnFutures       = regexp.MustCompile(`^[A-Za-z]{1,2}\d{3,4}$`)
	cryptoPair      = regexp.MustCompile(`^[A-Z0-9]{2,10}(-|/)?(USD|USDT|BTC|ETH)$`)
)

// ClassifyMarket infers the market type from a canonical code. This is the only
// place market inference lives; everything else asks here.
func ClassifyMarket(code string) Market {
	switch {
	case strings.Contains(code, "."):
		if hkCanonical.MatchString(code) {
			return MarketHKStock
		}
		return MarketAShare
	case cnFutures.MatchString(code):
		return MarketFutures
	case cryptoPair.MatchString(code):
		return MarketCrypto
	default:
		return MarketUSStock
	}
}

// Resolve normalizes a raw user-supplied code into a canonical Symbol. It is
// deterministic and idempotent: resolving an already-canonical code returns it
// unchanged. Unresolvable input yields an InputInvalid error.
func Resolve(raw string) (Symbol, error) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if code == "" {
		return Symbol{}, E(KindInputInvalid, "empty symbol")
	}

	switch {
	case aShareCanonical.MatchString(code):
		return Symbol{Code: code, Market: MarketAShare}, nil
	case aShareBare.MatchString(code):
		return Symbol{Code: code + "." + aShareExchange(code), Market: MarketAShare}, nil
	case hkCanonical.MatchString(code):
		return Symbol{Code: code, Market: MarketHKStock}, nil
	case cnFutures.MatchString(code):
		return Symbol{Code: code, Market: MarketFutures}, nil
	case cryptoPair.MatchString(code):
		return Symbol{Code: code, Market: MarketCrypto}, nil
	case usTicker.MatchString(code):
		return Symbol{Code: code, Market: MarketUSStock}, nil
	}
	return Symbol{}, E(KindInputInvalid, fmt.Sprintf("unresolvable symbol %q", raw))
}

// aShareExchange maps a bare six-digit code to its listing exchange by prefix.
// 6xx -> SH, 0xx/3xx -> SZ, 4xx/8xx/9xx (NEEQ/BSE ranges) -> BJ.
func aShareExchange(code string) string {
	switch code[0] {
	case '6':
		return "SH"
	case '0', '3':
		return "SZ"
	case '4', '8', '9':
		return "BJ"
	default:
		return "SZ"
	}
}

// SymbolInfo is the listing record kept per market: canonical code plus the
// display name, refreshed by the symbol-list bootstrap.
type SymbolInfo struct {
	Code        string    `json:"ts_code" db:"ts_code"`
	Name        string    `json:"name" db:"name"`
	Market      Market    `json:"market_type" db:"market_type"`
	LastUpdated time.Time `json:"last_updated" db:"last_updated"`
}
