// Package cache implements the two-level read-through cache: an in-process
// TTL+LRU map as L1 and a shared Redis keyspace as L2, with the multi-level
// read/write policy on top.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Key prefixes. The version suffix gates breaking payload-schema changes.
const (
	PrefixStockInfo    = "stock:info"
	PrefixStockDaily   = "stock:daily"
	PrefixStockMetrics = "stock:metrics"
	PrefixFilterResult = "filter:result"
	PrefixSystemConfig = "system:config"
	PrefixUserSession  = "user:session"
	PrefixAPICache     = "api:cache"
	PrefixMarketMetric = "market:metrics"
	PrefixFundamental  = "fundamental:data"

	keyVersion = "v1"
)

// Key builds `<prefix>:<identifier>[:<part>...]:<version>`.
func Key(prefix, identifier string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(':')
	b.WriteString(identifier)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(p)
	}
	b.WriteByte(':')
	b.WriteString(keyVersion)
	return b.String()
}

// ParamKey builds the parametric form: the canonicalized parameter map is
// hashed and the first 8 hex digits sit between identifier and version.
func ParamKey(prefix, identifier string, params map[string]string) string {
	return Key(prefix, identifier, hashParams(params))
}

// hashParams canonicalizes params as sorted k=v pairs joined by '&' and
// returns the first 8 hex digits of the SHA-256.
func hashParams(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		fmt.Fprintf(&b, "%s=%s", k, params[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])[:8]
}

// SymbolPattern returns the glob matching every key for a symbol under any
// prefix, used by invalidation.
func SymbolPattern(symbol string) string {
	return "*:" + symbol + ":*"
}
