package adapters

import (
	"context"
	"net/url"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
)

// USListSource is one listing provider in the bootstrap chain.
type USListSource interface {
	Name() string
	Fetch(ctx context.Context) ([]domain.SymbolInfo, error)
}

// BootstrapUSList builds the US symbol universe from an ordered source chain:
// index constituents first, then exchange listings, then the curated fallback.
// A failure of the first source is fatal, later sources degrade gracefully.
// The union is de-duplicated, filtered and sorted.
func BootstrapUSList(ctx context.Context, sources []USListSource, log zerolog.Logger) ([]domain.SymbolInfo, error) {
	if len(sources) == 0 {
		return nil, domain.E(domain.KindInternal, "no US list sources configured")
	}

	union := make(map[string]domain.SymbolInfo)
	for i, src := range sources {
		listings, err := src.Fetch(ctx)
		if err != nil {
			if i == 0 {
				return nil, err
			}
			log.Warn().Err(err).Str("source", src.Name()).Msg("us list source failed, continuing")
			continue
		}
		for _, s := range listings {
			code := strings.ToUpper(strings.TrimSpace(s.Code))
			if code == "" || filteredUSSuffix(code) {
				continue
			}
			if existing, ok := union[code]; ok && existing.Name != "" {
				continue
			}
			union[code] = domain.SymbolInfo{Code: code, Name: s.Name, Market: domain.MarketUSStock}
		}
	}
	if len(union) == 0 {
		return nil, domain.E(domain.KindUpstreamEmpty, "us list bootstrap produced no symbols")
	}

	out := make([]domain.SymbolInfo, 0, len(union))
	for _, s := range union {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

// filteredUSSuffix drops warrant, rights, preferred and bankruptcy share
// classes: tickers longer than four characters ending in W, R, P or Q.
func filteredUSSuffix(code string) bool {
	if len(code) <= 4 {
		return false
	}
	switch code[len(code)-1] {
	case 'W', 'R', 'P', 'Q':
		return true
	}
	return false
}

// HTTPListSource fetches listings from a JSON endpoint shaped
// {"symbols":[{"symbol":..., "name":...}]}.
type HTTPListSource struct {
	name   string
	path   string
	client *Client
}

// NewHTTPListSource builds a chain member on a shared or dedicated client.
func NewHTTPListSource(name, baseURL, path string, log zerolog.Logger) *HTTPListSource {
	return &HTTPListSource{
		name:   name,
		path:   path,
		client: NewClient(baseURL, 2, 4, log.With().Str("list_source", name).Logger()),
	}
}

func (s *HTTPListSource) Name() string { return s.name }

func (s *HTTPListSource) Fetch(ctx context.Context) ([]domain.SymbolInfo, error) {
	var resp struct {
		Symbols []struct {
			Symbol string `json:"symbol"`
			Name   string `json:"name"`
		} `json:"symbols"`
	}
	if err := s.client.GetJSON(ctx, s.path, url.Values{}, &resp); err != nil {
		return nil, err
	}
	out := make([]domain.SymbolInfo, 0, len(resp.Symbols))
	for _, it := range resp.Symbols {
		out = append(out, domain.SymbolInfo{Code: it.Symbol, Name: it.Name, Market: domain.MarketUSStock})
	}
	return out, nil
}

// CuratedUSListings is the last-resort US universe used when every networked
// list source fails.
func CuratedUSListings() []domain.SymbolInfo {
	names := map[string]string{
		"AAPL":  "Apple Inc.",
		"MSFT":  "Microsoft Corporation",
		"GOOGL": "Alphabet Inc.",
		"AMZN":  "Amazon.com Inc.",
		"NVDA":  "NVIDIA Corporation",
		"META":  "Meta Platforms Inc.",
		"TSLA":  "Tesla Inc.",
		"BRK.B": "Berkshire Hathaway Inc.",
		"JPM":   "JPMorgan Chase & Co.",
		"V":     "Visa Inc.",
		"JNJ":   "Johnson & Johnson",
		"WMT":   "Walmart Inc.",
		"XOM":   "Exxon Mobil Corporation",
		"PG":    "Procter & Gamble Co.",
		"KO":    "Coca-Cola Co.",
	}
	out := make([]domain.SymbolInfo, 0, len(names))
	for code, name := range names {
		out = append(out, domain.SymbolInfo{Code: code, Name: name, Market: domain.MarketUSStock})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// StaticListSource is the curated fallback at the end of the chain.
type StaticListSource struct {
	name     string
	listings []domain.SymbolInfo
}

// NewStaticListSource wraps a fixed listing set.
func NewStaticListSource(name string, listings []domain.SymbolInfo) *StaticListSource {
	return &StaticListSource{name: name, listings: listings}
}

func (s *StaticListSource) Name() string { return s.name }

func (s *StaticListSource) Fetch(context.Context) ([]domain.SymbolInfo, error) {
	return s.listings, nil
}
