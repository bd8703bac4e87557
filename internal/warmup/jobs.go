package warmup

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quotecore/quotecore/internal/cache"
	"github.com/quotecore/quotecore/internal/domain"
)

const (
	spotBatchSize          = 50
	maxConsecutiveFailures = 10
	maxTotalFailuresCap    = 50
)

// staticHotSymbols is the fallback hot set when no screener activity has been
// recorded yet.
var staticHotSymbols = []string{
	"000001.SZ", "600519.SH", "000858.SZ", "601318.SH", "300750.SZ",
	"AAPL", "MSFT", "NVDA", "GOOG", "AMZN",
}

var preloadIntervals = []domain.Interval{
	domain.IntervalDaily, domain.IntervalWeekly, domain.IntervalMonthly,
}

// PreloadHotSymbols warms cache and store for the hot set: the screener
// activity key when present, the static fallback otherwise. History is
// fetched for the persisted intervals with a pause every few symbols so the
// upstream quota is shared with live traffic.
func (s *Scheduler) PreloadHotSymbols(ctx context.Context) (int, error) {
	hot := s.hotSet(ctx)
	if len(hot) > s.cfg.HotLimit {
		hot = hot[:s.cfg.HotLimit]
	}

	warmed := 0
	for i, symbol := range hot {
		if err := ctx.Err(); err != nil {
			return warmed, err
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, interval := range preloadIntervals {
			iv := interval
			sym := symbol
			g.Go(func() error {
				_, err := s.plane.GetOHLCV(gctx, sym, iv, domain.DateRange{})
				return err
			})
		}
		if err := g.Wait(); err != nil {
			s.log.Warn().Err(err).Str("symbol", symbol).Msg("preload failed, continuing")
		} else {
			warmed++
		}

		if s.pauseEvery > 0 && (i+1)%s.pauseEvery == 0 {
			select {
			case <-ctx.Done():
				return warmed, ctx.Err()
			case <-time.After(s.pause):
			}
		}
	}
	return warmed, nil
}

func (s *Scheduler) hotSet(ctx context.Context) []string {
	var hot []string
	key := cache.Key(cache.PrefixFilterResult, "hot_symbols")
	if s.cache.GetValue(ctx, key, cache.CategoryScreenerResult, &hot) && len(hot) > 0 {
		return hot
	}
	return staticHotSymbols
}

// RefreshDailyMetrics rebuilds today's derived records for one market from
// batch spot quotes, falling back to per-symbol fetches when a batch fails.
// The job aborts cleanly once the failure ceilings are hit; completed batches
// stay persisted.
func (s *Scheduler) RefreshDailyMetrics(ctx context.Context, market domain.Market) (int, error) {
	listings, err := s.plane.GetSymbolList(ctx, market)
	if err != nil {
		return 0, err
	}
	if len(listings) == 0 {
		return 0, nil
	}

	totalCeiling := len(listings) / 10
	if totalCeiling > maxTotalFailuresCap {
		totalCeiling = maxTotalFailuresCap
	}
	if totalCeiling < 1 {
		totalCeiling = 1
	}

	date := s.now().UTC().Truncate(24 * time.Hour)
	written := 0
	consecutive := 0
	total := 0

	for start := 0; start < len(listings); start += spotBatchSize {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		end := start + spotBatchSize
		if end > len(listings) {
			end = len(listings)
		}
		codes := make([]string, 0, end-start)
		for _, l := range listings[start:end] {
			codes = append(codes, l.Code)
		}

		spots, serr := s.plane.FetchSpot(ctx, market, codes)
		if serr != nil {
			spots, consecutive, total = s.spotFallback(ctx, market, codes, consecutive, total)
		} else {
			consecutive = 0
		}
		if consecutive >= maxConsecutiveFailures || total >= totalCeiling {
			return written, domain.E(domain.KindUpstreamTransient,
				fmt.Sprintf("daily metrics aborted: %d consecutive, %d total failures", consecutive, total))
		}
		if len(spots) == 0 {
			continue
		}

		rows := make([]domain.DailyMetrics, 0, len(spots))
		for _, sp := range spots {
			rows = append(rows, domain.DailyMetrics{
				Code: sp.Symbol, Date: date, Market: market,
				ClosePrice: sp.Price, Volume: sp.Volume,
				PERatio: sp.PERatio, PBRatio: sp.PBRatio,
				MarketCap: sp.MarketCap, DividendYield: sp.DivYield,
				DataSource: "spot", QualityScore: 1,
				ValidationStatus: domain.ValidationValidated,
			})
		}
		if uerr := s.store.UpsertDailyMetrics(ctx, rows); uerr != nil {
			s.log.Warn().Err(uerr).Str("market", string(market)).Msg("daily metrics batch write failed")
			continue
		}
		written += len(rows)
	}
	return written, nil
}

// spotFallback retries a failed batch symbol by symbol, counting failures
// against the shared ceilings.
func (s *Scheduler) spotFallback(ctx context.Context, market domain.Market, codes []string, consecutive, total int) ([]domain.Spot, int, int) {
	out := make([]domain.Spot, 0, len(codes))
	for _, code := range codes {
		if consecutive >= maxConsecutiveFailures {
			break
		}
		spots, err := s.plane.FetchSpot(ctx, market, []string{code})
		if err != nil || len(spots) == 0 {
			consecutive++
			total++
			continue
		}
		consecutive = 0
		out = append(out, spots...)
	}
	return out, consecutive, total
}

// industryWindows are the return horizons warmed per industry.
var industryWindows = []int{5, 20, 60}

const sparklinePoints = 20

// industryConstituents is the static industry map used for aggregate
// warming. A richer classification feed can replace it without touching the
// job.
var industryConstituents = map[string][]string{
	"banking":    {"601318.SH", "000001.SZ"},
	"liquor":     {"600519.SH", "000858.SZ"},
	"technology": {"AAPL", "MSFT", "NVDA"},
}

// IndustrySnapshot is the cached aggregate per industry.
type IndustrySnapshot struct {
	Industry  string             `msgpack:"industry" json:"industry"`
	Returns   map[string]float64 `msgpack:"returns" json:"returns"` // "5d", "20d", "60d"
	Sparkline []float64          `msgpack:"sparkline" json:"sparkline"`
	WarmedAt  time.Time          `msgpack:"warmed_at" json:"warmed_at"`
}

const industryGateKey = "industry_warming:last_time"

// WarmIndustries recomputes industry aggregates at most once per reseed
// window. The gate lives in the shared cache so restarts and replicas do not
// double-trigger.
func (s *Scheduler) WarmIndustries(ctx context.Context) (int, error) {
	var last time.Time
	gate := cache.Key(cache.PrefixSystemConfig, industryGateKey)
	if s.cache.GetValue(ctx, gate, cache.CategorySymbolInfo, &last) {
		if s.now().Sub(last) < s.cfg.IndustryMinReseed {
			s.log.Info().Time("last", last).Msg("industry warming gated, skipping")
			return 0, nil
		}
	}

	warmed := 0
	for industry, symbols := range industryConstituents {
		snap, err := s.industrySnapshot(ctx, industry, symbols)
		if err != nil {
			s.log.Warn().Err(err).Str("industry", industry).Msg("industry warm failed, continuing")
			continue
		}
		key := cache.Key(cache.PrefixMarketMetric, "industry", industry)
		if err := s.cache.Set(ctx, key, snap, cache.CategoryDerivedMetrics, "warmup"); err != nil {
			s.log.Warn().Err(err).Str("industry", industry).Msg("industry snapshot write degraded")
			continue
		}
		warmed++
	}

	if warmed > 0 {
		if err := s.cache.Set(ctx, gate, s.now(), cache.CategorySymbolInfo, "warmup"); err != nil {
			s.log.Warn().Err(err).Msg("industry gate write degraded")
		}
	}
	return warmed, nil
}

// industrySnapshot averages constituent returns over each window and builds
// the sparkline from the first constituent with enough history.
func (s *Scheduler) industrySnapshot(ctx context.Context, industry string, symbols []string) (IndustrySnapshot, error) {
	snap := IndustrySnapshot{
		Industry: industry,
		Returns:  make(map[string]float64, len(industryWindows)),
		WarmedAt: s.now(),
	}

	series := make([][]float64, 0, len(symbols))
	for _, sym := range symbols {
		rows, err := s.plane.GetOHLCV(ctx, sym, domain.IntervalDaily, domain.DateRange{})
		if err != nil || len(rows) == 0 {
			continue
		}
		closes := make([]float64, len(rows))
		for i, r := range rows {
			closes[i] = r.Close
		}
		series = append(series, closes)
	}
	if len(series) == 0 {
		return snap, domain.E(domain.KindUpstreamEmpty, "no history for industry "+industry)
	}

	for _, window := range industryWindows {
		var sum float64
		var n int
		for _, closes := range series {
			if len(closes) <= window {
				continue
			}
			last := closes[len(closes)-1]
			base := closes[len(closes)-1-window]
			if base > 0 {
				sum += (last - base) / base * 100
				n++
			}
		}
		if n > 0 {
			snap.Returns[fmt.Sprintf("%dd", window)] = sum / float64(n)
		}
	}

	spark := series[0]
	if len(spark) > sparklinePoints {
		spark = spark[len(spark)-sparklinePoints:]
	}
	snap.Sparkline = append([]float64(nil), spark...)
	return snap, nil
}
