// Package warmup runs the background jobs that keep the serving path hot:
// preloading history for high-traffic symbols, rebuilding the per-day derived
// metrics and reseeding industry aggregates.
package warmup

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/cache"
	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/metrics"
)

// DataPlane is the slice of the fetch coordinator the jobs consume.
type DataPlane interface {
	GetOHLCV(ctx context.Context, symbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error)
	GetSymbolList(ctx context.Context, market domain.Market) ([]domain.SymbolInfo, error)
	FetchSpot(ctx context.Context, market domain.Market, symbols []string) ([]domain.Spot, error)
}

// MetricsStore persists the derived per-day records.
type MetricsStore interface {
	UpsertDailyMetrics(ctx context.Context, rows []domain.DailyMetrics) error
}

// Cache is the shared cache surface: hot-set reads, gating keys, run records.
type Cache interface {
	GetValue(ctx context.Context, key string, cat cache.Category, out any) bool
	Set(ctx context.Context, key string, value any, cat cache.Category, source string) error
}

// Config tunes the scheduler.
type Config struct {
	HotLimit          int
	Interval          time.Duration
	IndustryMinReseed time.Duration
	Markets           []domain.Market
}

// RunRecord is persisted per job so restarts can see the last outcome.
type RunRecord struct {
	Job        string    `msgpack:"job" json:"job"`
	StartedAt  time.Time `msgpack:"started_at" json:"started_at"`
	FinishedAt time.Time `msgpack:"finished_at" json:"finished_at"`
	Result     string    `msgpack:"result" json:"result"`
	Items      int       `msgpack:"items" json:"items"`
}

// Scheduler owns the cron cadence and the three jobs. Jobs never overlap: a
// tick that lands during a run is skipped.
type Scheduler struct {
	plane DataPlane
	store MetricsStore
	cache Cache
	cfg   Config

	cron    *cron.Cron
	running atomic.Bool
	log     zerolog.Logger
	met     *metrics.Set
	now     func() time.Time

	// pacing between preload symbols, shrunk in tests
	pauseEvery int
	pause      time.Duration
}

// New wires the scheduler. met may be nil.
func New(plane DataPlane, store MetricsStore, c Cache, cfg Config, log zerolog.Logger, met *metrics.Set) *Scheduler {
	if cfg.HotLimit <= 0 {
		cfg.HotLimit = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.IndustryMinReseed <= 0 {
		cfg.IndustryMinReseed = 12 * time.Hour
	}
	if len(cfg.Markets) == 0 {
		cfg.Markets = []domain.Market{domain.MarketAShare, domain.MarketUSStock}
	}
	return &Scheduler{
		plane:      plane,
		store:      store,
		cache:      c,
		cfg:        cfg,
		cron:       cron.New(),
		log:        log.With().Str("component", "warmup").Logger(),
		met:        met,
		now:        time.Now,
		pauseEvery: 10,
		pause:      500 * time.Millisecond,
	}
}

// Start schedules RunOnce on the configured cadence.
func (s *Scheduler) Start() error {
	_, err := s.cron.AddFunc("@every "+s.cfg.Interval.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
		defer cancel()
		s.RunOnce(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info().Dur("interval", s.cfg.Interval).Msg("warmup scheduler started")
	return nil
}

// Stop halts the cadence and waits for a running job batch.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// RunOnce executes the full job batch. Overlapping invocations are rejected
// so an on-demand trigger cannot race the cron tick.
func (s *Scheduler) RunOnce(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Warn().Msg("warmup already running, skipping tick")
		return
	}
	defer s.running.Store(false)

	s.runJob(ctx, "preload_hot_symbols", s.PreloadHotSymbols)
	for _, market := range s.cfg.Markets {
		m := market
		s.runJob(ctx, "refresh_daily_metrics:"+string(m), func(ctx context.Context) (int, error) {
			return s.RefreshDailyMetrics(ctx, m)
		})
	}
	s.runJob(ctx, "warm_industries", s.WarmIndustries)
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(context.Context) (int, error)) {
	rec := RunRecord{Job: name, StartedAt: s.now()}
	items, err := fn(ctx)
	rec.FinishedAt = s.now()
	rec.Items = items
	rec.Result = "ok"
	if err != nil {
		rec.Result = "error"
		s.log.Error().Err(err).Str("job", name).Int("items", items).Msg("warmup job failed")
	} else {
		s.log.Info().Str("job", name).Int("items", items).
			Dur("took", rec.FinishedAt.Sub(rec.StartedAt)).Msg("warmup job done")
	}
	if s.met != nil {
		s.met.WarmupRuns.WithLabelValues(name, rec.Result).Inc()
	}
	s.recordRun(ctx, rec)
}

func (s *Scheduler) recordRun(ctx context.Context, rec RunRecord) {
	key := cache.Key(cache.PrefixSystemConfig, "warmup_run", rec.Job)
	if err := s.cache.Set(ctx, key, rec, cache.CategorySymbolInfo, "warmup"); err != nil {
		s.log.Debug().Err(err).Str("job", rec.Job).Msg("run record write degraded")
	}
}

// LastRun reads the persisted record for a job.
func (s *Scheduler) LastRun(ctx context.Context, job string) (RunRecord, bool) {
	var rec RunRecord
	ok := s.cache.GetValue(ctx, cache.Key(cache.PrefixSystemConfig, "warmup_run", job), cache.CategorySymbolInfo, &rec)
	return rec, ok
}
