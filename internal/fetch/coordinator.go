// Package fetch is the coordinator between callers and the layered data
// plane: cache, store freshness, single-flighted upstream fetches, retries
// and per-symbol circuit breaking.
package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"

	"github.com/quotecore/quotecore/internal/adapters"
	"github.com/quotecore/quotecore/internal/cache"
	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/metrics"
	"github.com/quotecore/quotecore/internal/quality"
)

const (
	maxRetries     = 2
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 5 * time.Second

	// flightTimeout bounds a shared single-flight load. The load runs on a
	// context detached from its initiator so one cancelled caller cannot
	// poison the result for every coalesced waiter.
	flightTimeout = 30 * time.Second

	// symbolRefreshThreshold is the listing count below which a market's
	// symbol set is considered incomplete.
	symbolRefreshThreshold = 100
	symbolMaxAge           = 24 * time.Hour
)

// Store is the persistence surface the coordinator needs.
type Store interface {
	UpsertRows(ctx context.Context, rows []domain.Row) error
	ReadRows(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error)
	LatestTradeDate(ctx context.Context, symbol string, interval domain.Interval) (time.Time, error)
	ListSymbols(ctx context.Context, market domain.Market) ([]domain.SymbolInfo, error)
	CountSymbols(ctx context.Context, market domain.Market) (int, error)
	OldestSymbolUpdate(ctx context.Context, market domain.Market) (time.Time, error)
	UpsertSymbols(ctx context.Context, market domain.Market, listings []domain.SymbolInfo) error
	UpsertFundamentals(ctx context.Context, snap domain.FundamentalSnapshot) error
	GetFundamentals(ctx context.Context, symbol string) (*domain.FundamentalSnapshot, error)
	UpsertCorporateActions(ctx context.Context, actions []domain.CorporateAction) error
	GetCorporateActions(ctx context.Context, symbol string) ([]domain.CorporateAction, error)
	UpsertAnnualEarnings(ctx context.Context, earnings []domain.AnnualEarnings) error
	GetAnnualEarnings(ctx context.Context, symbol string) ([]domain.AnnualEarnings, error)
	MarkDuplicates(ctx context.Context, market domain.Market, date time.Time, suppressed []string, keptID string) error
}

// Cache is the multi-level surface the coordinator needs.
type Cache interface {
	GetValue(ctx context.Context, key string, cat cache.Category, out any) bool
	Set(ctx context.Context, key string, value any, cat cache.Category, source string) error
	Invalidate(ctx context.Context, key string)
	InvalidatePattern(ctx context.Context, glob string)
}

// Coordinator owns the fetch pipeline. One instance serves all markets.
type Coordinator struct {
	store    Store
	cache    Cache
	registry *adapters.Registry
	valid    *quality.Validator
	dedup    *quality.Deduplicator

	flights  singleflight.Group
	breakers *breakerRegistry

	log zerolog.Logger
	met *metrics.Set
	now func() time.Time
}

// New wires the coordinator. met may be nil.
func New(store Store, c Cache, registry *adapters.Registry, valid *quality.Validator, log zerolog.Logger, met *metrics.Set) *Coordinator {
	l := log.With().Str("component", "fetch").Logger()
	return &Coordinator{
		store:    store,
		cache:    c,
		registry: registry,
		valid:    valid,
		dedup:    quality.NewDeduplicator(),
		breakers: newBreakerRegistry(l, met),
		log:      l,
		met:      met,
		now:      time.Now,
	}
}

// GetOHLCV serves history for one symbol and interval. Intraday intervals go
// straight upstream; persisted intervals walk cache, store freshness, then a
// single-flighted upstream fetch with stale fallback.
func (c *Coordinator) GetOHLCV(ctx context.Context, rawSymbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	sym, err := domain.Resolve(rawSymbol)
	if err != nil {
		return nil, err
	}
	if !interval.Valid() {
		return nil, domain.E(domain.KindInputInvalid, fmt.Sprintf("invalid interval %q", interval))
	}

	start := c.now()
	defer func() {
		if c.met != nil {
			c.met.FetchLatency.WithLabelValues(string(interval)).Observe(c.now().Sub(start).Seconds())
		}
	}()

	if interval.Intraday() {
		return c.fetchUpstreamRows(ctx, sym, interval, rng)
	}

	key := ohlcvKey(sym.Code, interval, rng)
	var cached []domain.Row
	if c.cache.GetValue(ctx, key, cache.CategoryDailyOHLCV, &cached) {
		c.outcome("hit")
		return cached, nil
	}

	flightKey := strings.Join([]string{sym.Code, string(interval), rangeToken(rng)}, "|")
	rows, err := c.flight(ctx, flightKey, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return c.loadOHLCV(fctx, sym, interval, rng, key)
	})
	if err != nil {
		return nil, err
	}
	return rows.([]domain.Row), nil
}

// loadOHLCV runs inside the single flight.
func (c *Coordinator) loadOHLCV(ctx context.Context, sym domain.Symbol, interval domain.Interval, rng domain.DateRange, key string) ([]domain.Row, error) {
	latest, err := c.store.LatestTradeDate(ctx, sym.Code, interval)
	if err == nil && c.freshFor(interval, latest) {
		rows, readErr := c.store.ReadRows(ctx, sym.Code, interval, rng)
		if readErr == nil && len(rows) > 0 {
			c.cacheRows(ctx, key, rows)
			c.outcome("fresh")
			return rows, nil
		}
	}

	rows, upErr := c.fetchUpstreamRows(ctx, sym, interval, rng)
	if upErr == nil {
		if err := c.store.UpsertRows(ctx, rows); err != nil {
			c.log.Warn().Err(err).Str("symbol", sym.Code).Msg("persisting fetched rows failed, serving anyway")
		}
		c.cacheRows(ctx, key, rows)
		c.outcome("upstream")
		return rows, nil
	}

	// Malformed, empty or exhausted-transient upstream: serve the last-known
	// store view when one exists.
	if fallback, readErr := c.store.ReadRows(ctx, sym.Code, interval, rng); readErr == nil && len(fallback) > 0 {
		c.log.Warn().Err(upErr).Str("symbol", sym.Code).Msg("upstream failed, serving stale store view")
		c.outcome("stale_fallback")
		return fallback, nil
	}

	c.outcome("error")
	return nil, upErr
}

// fetchUpstreamRows runs the adapter call under breaker and retry, then the
// quality stage: validation (observational) and exact-key deduplication.
func (c *Coordinator) fetchUpstreamRows(ctx context.Context, sym domain.Symbol, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error) {
	adapter, err := c.registry.For(sym.Market)
	if err != nil {
		return nil, err
	}

	var rows []domain.Row
	err = c.withRetry(ctx, func() error {
		fetched, ferr := c.throughBreaker(sym.Code, adapter.Name(), func() (any, error) {
			return adapter.FetchOHLCV(ctx, sym.Code, interval, rng)
		})
		if ferr != nil {
			return ferr
		}
		rows = fetched.([]domain.Row)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.valid != nil {
		reports := c.valid.ValidateRows(rows)
		for _, rep := range reports {
			if !rep.Valid() {
				c.log.Warn().Str("symbol", rep.RowKey.Symbol).Str("date", rep.RowKey.TradeDate).
					Strs("errors", rep.Errors).Msg("row failed validation")
			}
		}
	}
	deduped, report, derr := c.dedup.Dedup(rows, nil, quality.KeepFirst)
	if derr == nil {
		if report.Duplicates > 0 {
			c.log.Info().Int("duplicates", report.Duplicates).Str("symbol", sym.Code).Msg("suppressed duplicate bars")
			c.flagDuplicateMetrics(ctx, sym, rows, report)
		}
		rows = deduped
	}
	return rows, nil
}

// flagDuplicateMetrics records duplicate provenance on the symbol's
// daily_metrics rows so screeners can see a contested date. Best-effort: the
// quality stage never fails the ingest pipeline.
func (c *Coordinator) flagDuplicateMetrics(ctx context.Context, sym domain.Symbol, rows []domain.Row, report quality.DeduplicationReport) {
	for _, group := range report.Groups {
		date, err := time.Parse("2006-01-02", group.Key.TradeDate)
		if err != nil {
			continue
		}
		keptSource := rows[group.KeptIndex].DataSource
		if err := c.store.MarkDuplicates(ctx, sym.Market, date, []string{sym.Code}, keptSource); err != nil {
			c.log.Warn().Err(err).Str("symbol", sym.Code).Str("date", group.Key.TradeDate).
				Msg("failed to flag duplicate metrics")
		}
	}
}

// GetSymbolList serves the canonical listing set for a market. The stored set
// is refreshed when it is too small or too old.
func (c *Coordinator) GetSymbolList(ctx context.Context, market domain.Market) ([]domain.SymbolInfo, error) {
	key := cache.Key(cache.PrefixStockInfo, "list", string(market))
	var cached []domain.SymbolInfo
	if c.cache.GetValue(ctx, key, cache.CategorySymbolInfo, &cached) {
		return cached, nil
	}

	out, err := c.flight(ctx, "symbols|"+string(market), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return c.loadSymbolList(fctx, market, key, false)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.SymbolInfo), nil
}

// ForceRefreshSymbolList bypasses cache and store freshness.
func (c *Coordinator) ForceRefreshSymbolList(ctx context.Context, market domain.Market) ([]domain.SymbolInfo, error) {
	key := cache.Key(cache.PrefixStockInfo, "list", string(market))
	c.cache.Invalidate(ctx, key)
	out, err := c.flight(ctx, "symbols-force|"+string(market), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flightTimeout)
		defer cancel()
		return c.loadSymbolList(fctx, market, key, true)
	})
	if err != nil {
		return nil, err
	}
	return out.([]domain.SymbolInfo), nil
}

func (c *Coordinator) loadSymbolList(ctx context.Context, market domain.Market, key string, force bool) ([]domain.SymbolInfo, error) {
	if !force {
		count, err := c.store.CountSymbols(ctx, market)
		if err == nil && count >= symbolRefreshThreshold {
			oldest, oerr := c.store.OldestSymbolUpdate(ctx, market)
			if oerr == nil && c.now().Sub(oldest) < symbolMaxAge {
				listings, lerr := c.store.ListSymbols(ctx, market)
				if lerr == nil && len(listings) > 0 {
					c.cacheSymbols(ctx, key, listings)
					return listings, nil
				}
			}
		}
	}

	adapter, err := c.registry.For(market)
	if err != nil {
		return nil, err
	}
	var fetched []domain.SymbolInfo
	err = c.withRetry(ctx, func() error {
		got, ferr := c.throughBreaker("symbols:"+string(market), adapter.Name(), func() (any, error) {
			return adapter.FetchSymbols(ctx)
		})
		if ferr != nil {
			return ferr
		}
		fetched = got.([]domain.SymbolInfo)
		return nil
	})
	if err != nil {
		// Serve the stale stored set rather than nothing.
		if listings, lerr := c.store.ListSymbols(ctx, market); lerr == nil && len(listings) > 0 {
			c.log.Warn().Err(err).Str("market", string(market)).Msg("symbol refresh failed, serving stored set")
			return listings, nil
		}
		return nil, err
	}

	if uerr := c.store.UpsertSymbols(ctx, market, fetched); uerr != nil {
		c.log.Warn().Err(uerr).Str("market", string(market)).Msg("persisting symbol list failed")
	}
	if listings, lerr := c.store.ListSymbols(ctx, market); lerr == nil && len(listings) > 0 {
		c.cacheSymbols(ctx, key, listings)
		return listings, nil
	}
	c.cacheSymbols(ctx, key, fetched)
	return fetched, nil
}

// GetFundamentals is cache-aside over store, with upstream fill on a double
// miss.
func (c *Coordinator) GetFundamentals(ctx context.Context, rawSymbol string) (*domain.FundamentalSnapshot, error) {
	sym, err := domain.Resolve(rawSymbol)
	if err != nil {
		return nil, err
	}
	key := cache.Key(cache.PrefixFundamental, sym.Code)
	var cached domain.FundamentalSnapshot
	if c.cache.GetValue(ctx, key, cache.CategoryDerivedMetrics, &cached) {
		return &cached, nil
	}

	if snap, serr := c.store.GetFundamentals(ctx, sym.Code); serr == nil && snap != nil {
		c.cacheSet(ctx, key, snap, cache.CategoryDerivedMetrics)
		return snap, nil
	}

	adapter, err := c.registry.For(sym.Market)
	if err != nil {
		return nil, err
	}
	var snap *domain.FundamentalSnapshot
	err = c.withRetry(ctx, func() error {
		got, ferr := c.throughBreaker(sym.Code, adapter.Name(), func() (any, error) {
			return adapter.FetchFundamentals(ctx, sym.Code)
		})
		if ferr != nil {
			return ferr
		}
		snap = got.(*domain.FundamentalSnapshot)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uerr := c.store.UpsertFundamentals(ctx, *snap); uerr != nil {
		c.log.Warn().Err(uerr).Str("symbol", sym.Code).Msg("persisting fundamentals failed")
	}
	c.cacheSet(ctx, key, snap, cache.CategoryDerivedMetrics)
	return snap, nil
}

// GetCorporateActions is store-first with upstream fill.
func (c *Coordinator) GetCorporateActions(ctx context.Context, rawSymbol string) ([]domain.CorporateAction, error) {
	sym, err := domain.Resolve(rawSymbol)
	if err != nil {
		return nil, err
	}
	if actions, serr := c.store.GetCorporateActions(ctx, sym.Code); serr == nil && len(actions) > 0 {
		return actions, nil
	}

	adapter, err := c.registry.For(sym.Market)
	if err != nil {
		return nil, err
	}
	var actions []domain.CorporateAction
	err = c.withRetry(ctx, func() error {
		got, ferr := c.throughBreaker(sym.Code, adapter.Name(), func() (any, error) {
			return adapter.FetchCorporateActions(ctx, sym.Code)
		})
		if ferr != nil {
			return ferr
		}
		actions = got.([]domain.CorporateAction)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uerr := c.store.UpsertCorporateActions(ctx, actions); uerr != nil {
		c.log.Warn().Err(uerr).Str("symbol", sym.Code).Msg("persisting corporate actions failed")
	}
	return actions, nil
}

// GetAnnualEarnings is store-first with upstream fill.
func (c *Coordinator) GetAnnualEarnings(ctx context.Context, rawSymbol string) ([]domain.AnnualEarnings, error) {
	sym, err := domain.Resolve(rawSymbol)
	if err != nil {
		return nil, err
	}
	if earnings, serr := c.store.GetAnnualEarnings(ctx, sym.Code); serr == nil && len(earnings) > 0 {
		return earnings, nil
	}

	adapter, err := c.registry.For(sym.Market)
	if err != nil {
		return nil, err
	}
	var earnings []domain.AnnualEarnings
	err = c.withRetry(ctx, func() error {
		got, ferr := c.throughBreaker(sym.Code, adapter.Name(), func() (any, error) {
			return adapter.FetchAnnualEarnings(ctx, sym.Code)
		})
		if ferr != nil {
			return ferr
		}
		earnings = got.([]domain.AnnualEarnings)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if uerr := c.store.UpsertAnnualEarnings(ctx, earnings); uerr != nil {
		c.log.Warn().Err(uerr).Str("symbol", sym.Code).Msg("persisting earnings failed")
	}
	return earnings, nil
}

// FetchSpot proxies the adapter's batch quote endpoint for the warm-up jobs.
func (c *Coordinator) FetchSpot(ctx context.Context, market domain.Market, symbols []string) ([]domain.Spot, error) {
	adapter, err := c.registry.For(market)
	if err != nil {
		return nil, err
	}
	return adapter.FetchSpot(ctx, symbols)
}

// InvalidateSymbol drops every cached entry for the symbol in both tiers.
func (c *Coordinator) InvalidateSymbol(ctx context.Context, rawSymbol string) error {
	sym, err := domain.Resolve(rawSymbol)
	if err != nil {
		return err
	}
	c.cache.InvalidatePattern(ctx, cache.SymbolPattern(sym.Code))
	return nil
}

// flight runs fn under singleflight. A cancelled caller stops waiting but the
// flight completes for everyone else.
func (c *Coordinator) flight(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	ch := c.flights.DoChan(key, fn)
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// throughBreaker guards one upstream call with the per-symbol breaker. An open
// breaker reads as a transient upstream failure.
func (c *Coordinator) throughBreaker(name, adapterName string, fn func() (any, error)) (any, error) {
	out, err := c.breakers.forName(name).Execute(fn)
	if c.met != nil {
		result := "ok"
		if err != nil {
			result = domain.KindOf(err).String()
		}
		c.met.UpstreamCalls.WithLabelValues(adapterName, result).Inc()
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, domain.E(domain.KindUpstreamTransient, "breaker open for "+name, err)
	}
	return out, err
}

// withRetry retries transient and throttled failures with capped exponential
// backoff, honoring an upstream Retry-After hint when present.
func (c *Coordinator) withRetry(ctx context.Context, fn func() error) error {
	backoff := initialBackoff
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || attempt >= maxRetries || !domain.Retryable(err) {
			return err
		}
		wait := backoff
		if ra := domain.RetryAfterOf(err); ra > 0 {
			wait = ra
		}
		if wait > maxBackoff {
			wait = maxBackoff
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		backoff *= 2
	}
}

// freshFor applies the market-calendar freshness rule per interval.
func (c *Coordinator) freshFor(interval domain.Interval, latest time.Time) bool {
	now := c.now()
	switch interval {
	case domain.IntervalDaily:
		return domain.Fresh(latest, now)
	case domain.IntervalWeekly:
		return !latest.IsZero() && now.Sub(latest) < 7*24*time.Hour
	case domain.IntervalMonthly:
		return !latest.IsZero() && now.Sub(latest) < 31*24*time.Hour
	}
	return false
}

func (c *Coordinator) cacheRows(ctx context.Context, key string, rows []domain.Row) {
	c.cacheSet(ctx, key, rows, cache.CategoryDailyOHLCV)
}

func (c *Coordinator) cacheSymbols(ctx context.Context, key string, listings []domain.SymbolInfo) {
	c.cacheSet(ctx, key, listings, cache.CategorySymbolInfo)
}

func (c *Coordinator) cacheSet(ctx context.Context, key string, value any, cat cache.Category) {
	if err := c.cache.Set(ctx, key, value, cat, "fetch"); err != nil {
		c.log.Debug().Err(err).Str("key", key).Msg("cache write degraded")
	}
}

func (c *Coordinator) outcome(o string) {
	if c.met != nil {
		c.met.FetchOutcomes.WithLabelValues(o).Inc()
	}
}

func ohlcvKey(symbol string, interval domain.Interval, rng domain.DateRange) string {
	return cache.ParamKey(cache.PrefixStockDaily, symbol, map[string]string{
		"interval": string(interval),
		"range":    rangeToken(rng),
	})
}

func rangeToken(rng domain.DateRange) string {
	from, to := "open", "open"
	if !rng.From.IsZero() {
		from = rng.From.Format("20060102")
	}
	if !rng.To.IsZero() {
		to = rng.To.Format("20060102")
	}
	return from + "-" + to
}
