// Package adapters wraps the upstream market-data sources behind one
// interface. Each adapter owns its rate limiter and HTTP client, normalizes
// raw bars into domain rows and tags failures with the error kinds the fetch
// coordinator acts on.
package adapters

import (
	"context"
	"fmt"

	"github.com/quotecore/quotecore/internal/domain"
)

// Adapter is one upstream source. Implementations never cache and never
// persist; they fetch, normalize and classify.
type Adapter interface {
	Name() string
	Market() domain.Market
	SupportedIntervals() []domain.Interval

	FetchOHLCV(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error)
	FetchSymbols(ctx context.Context) ([]domain.SymbolInfo, error)
	FetchFundamentals(ctx context.Context, symbol string) (*domain.FundamentalSnapshot, error)
	FetchCorporateActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error)
	FetchAnnualEarnings(ctx context.Context, symbol string) ([]domain.AnnualEarnings, error)

	// FetchSpot returns latest quotes for a batch; partial results are
	// allowed, absent symbols are simply missing from the slice.
	FetchSpot(ctx context.Context, symbols []string) ([]domain.Spot, error)
}

// Registry routes a market to its adapter.
type Registry struct {
	byMarket map[domain.Market]Adapter
}

// NewRegistry indexes the adapters by market. Later duplicates win.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{byMarket: make(map[domain.Market]Adapter, len(adapters))}
	for _, a := range adapters {
		r.byMarket[a.Market()] = a
	}
	return r
}

// For returns the adapter serving the market.
func (r *Registry) For(market domain.Market) (Adapter, error) {
	a, ok := r.byMarket[market]
	if !ok {
		return nil, domain.E(domain.KindInputInvalid, fmt.Sprintf("no adapter for market %s", market))
	}
	return a, nil
}

// supportsInterval is the shared guard for FetchOHLCV entry points.
func supportsInterval(a Adapter, interval domain.Interval) error {
	for _, iv := range a.SupportedIntervals() {
		if iv == interval {
			return nil
		}
	}
	return domain.E(domain.KindInputInvalid,
		fmt.Sprintf("%s does not serve interval %s", a.Name(), interval))
}
