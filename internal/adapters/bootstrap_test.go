package adapters

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
)

type fakeListSource struct {
	name     string
	listings []domain.SymbolInfo
	err      error
}

func (f *fakeListSource) Name() string { return f.name }
func (f *fakeListSource) Fetch(context.Context) ([]domain.SymbolInfo, error) {
	return f.listings, f.err
}

func listings(codes ...string) []domain.SymbolInfo {
	out := make([]domain.SymbolInfo, len(codes))
	for i, c := range codes {
		out[i] = domain.SymbolInfo{Code: c, Name: c + " Inc"}
	}
	return out
}

func TestBootstrapUnionSortedDeduplicated(t *testing.T) {
	sources := []USListSource{
		&fakeListSource{name: "index", listings: listings("MSFT", "AAPL")},
		&fakeListSource{name: "exchange", listings: listings("AAPL", "GOOG")},
	}

	out, err := BootstrapUSList(context.Background(), sources, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "AAPL", out[0].Code)
	assert.Equal(t, "GOOG", out[1].Code)
	assert.Equal(t, "MSFT", out[2].Code)
}

func TestBootstrapFirstSourceFatal(t *testing.T) {
	sources := []USListSource{
		&fakeListSource{name: "index", err: domain.E(domain.KindUpstreamTransient, "down")},
		&fakeListSource{name: "exchange", listings: listings("AAPL")},
	}

	_, err := BootstrapUSList(context.Background(), sources, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamTransient, domain.KindOf(err))
}

func TestBootstrapLaterSourcesBestEffort(t *testing.T) {
	sources := []USListSource{
		&fakeListSource{name: "index", listings: listings("AAPL")},
		&fakeListSource{name: "exchange", err: domain.E(domain.KindUpstreamTransient, "down")},
		&fakeListSource{name: "curated", listings: listings("MSFT")},
	}

	out, err := BootstrapUSList(context.Background(), sources, zerolog.Nop())
	require.NoError(t, err)
	require.Len(t, out, 2)
}

func TestBootstrapSuffixFilter(t *testing.T) {
	sources := []USListSource{
		&fakeListSource{name: "index", listings: listings(
			"AAPL",  // kept, short
			"ACHRW", // warrant, dropped
			"BANFP", // preferred, dropped
			"SIVBQ", // bankruptcy, dropped
			"GOOG",  // kept
			"TOUR",  // kept, len 4 even though ends in R
		)},
	}

	out, err := BootstrapUSList(context.Background(), sources, zerolog.Nop())
	require.NoError(t, err)
	codes := make([]string, len(out))
	for i, s := range out {
		codes[i] = s.Code
	}
	assert.Equal(t, []string{"AAPL", "GOOG", "TOUR"}, codes)
}

func TestBootstrapAllEmptyFails(t *testing.T) {
	sources := []USListSource{
		&fakeListSource{name: "index", listings: nil},
	}
	_, err := BootstrapUSList(context.Background(), sources, zerolog.Nop())
	require.Error(t, err)
	assert.Equal(t, domain.KindUpstreamEmpty, domain.KindOf(err))
}

func TestStaticListSource(t *testing.T) {
	s := NewStaticListSource("curated", listings("AAPL"))
	out, err := s.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, out, 1)
}
