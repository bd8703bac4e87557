// Package app constructs the data plane once and owns its lifecycle. Every
// component is built here and injected; nothing reaches for a singleton.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/adapters"
	"github.com/quotecore/quotecore/internal/cache"
	"github.com/quotecore/quotecore/internal/config"
	"github.com/quotecore/quotecore/internal/fetch"
	"github.com/quotecore/quotecore/internal/metrics"
	"github.com/quotecore/quotecore/internal/quality"
	"github.com/quotecore/quotecore/internal/store"
	"github.com/quotecore/quotecore/internal/stream"
	"github.com/quotecore/quotecore/internal/warmup"
	"github.com/quotecore/quotecore/internal/ws"
)

const l1SweepEvery = time.Minute

// App is the assembled service.
type App struct {
	cfg config.Config
	log zerolog.Logger
	met *metrics.Set

	gateway *store.Gateway
	l1      *cache.L1
	l2      *cache.RedisL2
	cache   *cache.MultiLevel
	coord   *fetch.Coordinator
	warm    *warmup.Scheduler
	stream  *stream.Service
	mgr     *ws.Manager
	srv     *http.Server

	stopJanitor context.CancelFunc
}

// New builds every component. ctx bounds the initial store handshake.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	met := metrics.New()

	db, err := store.Open(ctx, store.Config{
		URL:          cfg.Store.URL,
		PoolSize:     cfg.Store.PoolSize,
		PoolOverflow: cfg.Store.PoolOverflow,
		PoolTimeout:  cfg.Store.PoolTimeout,
		PoolRecycle:  cfg.Store.PoolRecycle,
		QueryTimeout: cfg.Store.QueryTimeout,
	})
	if err != nil {
		return nil, err
	}
	gw := store.NewGateway(db, cfg.Store.QueryTimeout, log, met)
	if err := gw.EnsureSchema(ctx); err != nil {
		gw.Close()
		return nil, err
	}

	l1 := cache.NewL1(cfg.Cache.L1MaxSize, l1SweepEvery)
	l2 := cache.NewRedisL2(cache.L2Config{
		Addr:     cfg.KV.URL,
		Password: cfg.KV.Password,
		DB:       cfg.KV.DB,
		PoolSize: cfg.KV.PoolSize,
	}, log)
	ml := cache.NewMultiLevel(l1, l2, log, met)

	registry := adapters.NewRegistry(
		adapters.NewAShareAdapter(cfg.Upstream.AShareBaseURL, log),
		adapters.NewUSAdapter(cfg.Upstream.USBaseURL, usListSources(cfg.Upstream, log), log),
		adapters.NewCryptoAdapter(cfg.Upstream.CryptoBaseURL, log),
		adapters.NewFuturesAdapter(cfg.Upstream.FuturesBaseURL, log),
	)

	valid := quality.NewValidator(quality.DefaultValidatorConfig(), log)
	coord := fetch.New(gw, ml, registry, valid, log, met)

	svc := stream.New(coord, log)
	mgr := ws.NewManager(svc, log, met)
	svc.Bind(mgr)

	warm := warmup.New(coord, gw, ml, warmup.Config{
		HotLimit:          cfg.Warmup.HotLimit,
		Interval:          cfg.Warmup.Interval,
		IndustryMinReseed: cfg.Warmup.IndustryMinReseed,
	}, log, met)

	a := &App{
		cfg:     cfg,
		log:     log.With().Str("component", "app").Logger(),
		met:     met,
		gateway: gw,
		l1:      l1,
		l2:      l2,
		cache:   ml,
		coord:   coord,
		warm:    warm,
		stream:  svc,
		mgr:     mgr,
	}
	a.srv = &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// usListSources builds the US bootstrap chain: index constituents, exchange
// listings, curated fallback.
func usListSources(cfg config.UpstreamConfig, log zerolog.Logger) []adapters.USListSource {
	return []adapters.USListSource{
		adapters.NewHTTPListSource("index_constituents", cfg.USListBaseURL, "/api/v1/index/constituents", log),
		adapters.NewHTTPListSource("exchange_listings", cfg.USListBaseURL, "/api/v1/listings", log),
		adapters.NewStaticListSource("curated", adapters.CuratedUSListings()),
	}
}

func (a *App) router() *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", ws.NewHandler(a.mgr, a.log))
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.HandlerFor(a.met.Registry(), promhttp.HandlerOpts{}))
	return r
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{
		"store": "ok",
		"cache": "ok",
	}
	code := http.StatusOK
	if err := a.gateway.Ping(ctx); err != nil {
		status["store"] = "down"
		code = http.StatusServiceUnavailable
	}
	if !a.cache.Healthy() {
		// L1-only degraded mode still serves.
		status["cache"] = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// Coordinator exposes the data plane to the HTTP collaborator.
func (a *App) Coordinator() *fetch.Coordinator { return a.coord }

// Warmup exposes the scheduler for on-demand runs.
func (a *App) Warmup() *warmup.Scheduler { return a.warm }

// Start launches the warm-up cadence, the session janitor and the listener.
// The listener error lands on the returned channel.
func (a *App) Start() (<-chan error, error) {
	if err := a.warm.Start(); err != nil {
		return nil, err
	}

	janitorCtx, cancel := context.WithCancel(context.Background())
	a.stopJanitor = cancel
	go a.mgr.RunJanitor(janitorCtx)

	errc := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Server.Addr).Msg("listening")
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()
	return errc, nil
}

// Stop tears the service down in reverse dependency order.
func (a *App) Stop(ctx context.Context) error {
	err := a.srv.Shutdown(ctx)

	a.stream.Shutdown()
	a.mgr.Shutdown()
	a.warm.Stop()
	if a.stopJanitor != nil {
		a.stopJanitor()
	}

	a.l1.Stop()
	if cerr := a.l2.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if cerr := a.gateway.Close(); cerr != nil && err == nil {
		err = cerr
	}
	a.log.Info().Msg("shutdown complete")
	return err
}
