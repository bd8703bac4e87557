package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/metrics"
)

// Category selects the TTL pair and promotion behavior for a cache write.
type Category int

const (
	CategorySymbolInfo Category = iota
	CategoryDailyOHLCV
	CategoryIntraday
	CategoryDerivedMetrics
	CategoryScreenerResult
	CategoryAPIResponse
)

// categoryPolicy is the per-category TTL table. Promote controls whether an
// L2 hit is copied into L1 on read.
type categoryPolicy struct {
	l2TTL   time.Duration
	l1TTL   time.Duration
	promote bool
	bypass  bool
}

var policies = map[Category]categoryPolicy{
	CategorySymbolInfo:     {l2TTL: 24 * time.Hour, l1TTL: time.Hour, promote: true},
	CategoryDailyOHLCV:     {l2TTL: time.Hour, l1TTL: 15 * time.Minute, promote: false},
	CategoryIntraday:       {bypass: true},
	CategoryDerivedMetrics: {l2TTL: 30 * time.Minute, l1TTL: 5 * time.Minute, promote: true},
	CategoryScreenerResult: {l2TTL: 15 * time.Minute, l1TTL: 5 * time.Minute, promote: false},
	CategoryAPIResponse:    {l2TTL: 15 * time.Minute, l1TTL: 3 * time.Minute, promote: true},
}

const maxPromotionTTL = 5 * time.Minute

// MultiLevel composes L1 and L2 under the read-through/write-through policy.
// When L2 is unreachable it degrades to best-effort L1-only writes with the
// envelope marked non-promotable, and recovers on the next successful call.
type MultiLevel struct {
	l1  *L1
	l2  Level2
	log zerolog.Logger
	met *metrics.Set

	l2Down atomic.Bool
}

// NewMultiLevel wires the two tiers. met may be nil.
func NewMultiLevel(l1 *L1, l2 Level2, log zerolog.Logger, met *metrics.Set) *MultiLevel {
	return &MultiLevel{
		l1:  l1,
		l2:  l2,
		log: log.With().Str("component", "cache").Logger(),
		met: met,
	}
}

// Get looks up L1 first, then L2. L2 hits are promoted into L1 with TTL
// min(remaining/4, 5m) when the category allows it; the caller passes the
// category so the policy stays uniform with writes.
func (m *MultiLevel) Get(ctx context.Context, key string, cat Category) ([]byte, bool) {
	pol := policies[cat]
	if pol.bypass {
		return nil, false
	}

	if payload, ok := m.l1.Get(key); ok {
		// A degraded entry was written while L2 was unreachable. Once L2 is
		// back it may hold newer shared state, so stop re-sharing the local
		// copy and read through again.
		if env, err := DecodeEnvelope(payload); err == nil && !env.L2Backed && !m.l2Down.Load() {
			m.l1.Delete(key)
		} else {
			m.count(m.met, "l1", true)
			return payload, true
		}
	}
	m.count(m.met, "l1", false)

	payload, remaining, ok, err := m.l2.Get(ctx, key)
	if err != nil {
		m.markL2(err)
		return nil, false
	}
	m.l2Down.Store(false)
	if !ok {
		m.count(m.met, "l2", false)
		return nil, false
	}
	m.count(m.met, "l2", true)

	if pol.promote {
		promoteTTL := remaining / 4
		if promoteTTL > maxPromotionTTL {
			promoteTTL = maxPromotionTTL
		}
		if promoteTTL > 0 {
			m.l1.Set(key, payload, promoteTTL)
		}
	}
	return payload, true
}

// GetValue is the typed read path: decode the envelope and its value in one
// call. Returns false on miss or decode failure (a poisoned entry is dropped).
func (m *MultiLevel) GetValue(ctx context.Context, key string, cat Category, out any) bool {
	payload, ok := m.Get(ctx, key, cat)
	if !ok {
		return false
	}
	env, err := DecodeEnvelope(payload)
	if err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("dropping undecodable cache entry")
		m.Invalidate(ctx, key)
		return false
	}
	if err := DecodeValue(env, out); err != nil {
		m.log.Warn().Err(err).Str("key", key).Msg("dropping mistyped cache entry")
		m.Invalidate(ctx, key)
		return false
	}
	return true
}

// Set materializes value and writes through: L2 first, then L1. The L1 TTL is
// clamped so it never exceeds the L2 TTL. When L2 is down the entry still
// lands in L1, marked non-promotable, and a CacheUnavailable error reports
// the degraded write.
func (m *MultiLevel) Set(ctx context.Context, key string, value any, cat Category, source string) error {
	pol := policies[cat]
	if pol.bypass {
		return nil
	}

	l1TTL := pol.l1TTL
	if l1TTL > pol.l2TTL {
		l1TTL = pol.l2TTL
	}

	payload, err := EncodeEnvelope(value, source, pol.l2TTL, true)
	if err != nil {
		return domain.E(domain.KindInternal, "cache set "+key, err)
	}

	if err := m.l2.Set(ctx, key, payload, pol.l2TTL); err != nil {
		m.markL2(err)
		// Degraded: best-effort local write that cannot be promoted.
		degraded, encErr := EncodeEnvelope(value, source, l1TTL, false)
		if encErr == nil {
			m.l1.Set(key, degraded, l1TTL)
		}
		return err
	}
	m.l2Down.Store(false)
	if m.met != nil {
		m.met.CacheSets.WithLabelValues("l2").Inc()
	}

	m.l1.Set(key, payload, l1TTL)
	if m.met != nil {
		m.met.CacheSets.WithLabelValues("l1").Inc()
	}
	return nil
}

// Invalidate removes key from both tiers.
func (m *MultiLevel) Invalidate(ctx context.Context, key string) {
	m.l1.Delete(key)
	if err := m.l2.Delete(ctx, key); err != nil {
		m.markL2(err)
	}
}

// InvalidatePattern removes matching keys: glob enumeration in L2, substring
// sweep in L1 (the glob's literal core).
func (m *MultiLevel) InvalidatePattern(ctx context.Context, glob string) {
	core := globCore(glob)
	if core != "" {
		m.l1.DeleteContaining(core)
	}
	if _, err := m.l2.DeletePattern(ctx, glob); err != nil {
		m.markL2(err)
	}
}

// Healthy reports whether the last L2 interaction succeeded.
func (m *MultiLevel) Healthy() bool { return !m.l2Down.Load() }

// L1Stats exposes the in-process tier counters.
func (m *MultiLevel) L1Stats() L1Stats { return m.l1.Stats() }

func (m *MultiLevel) markL2(err error) {
	if m.l2Down.CompareAndSwap(false, true) {
		m.log.Warn().Err(err).Msg("L2 cache unreachable, degrading to L1-only")
	}
}

func (m *MultiLevel) count(met *metrics.Set, tier string, hit bool) {
	if met == nil {
		return
	}
	if hit {
		met.CacheHits.WithLabelValues(tier).Inc()
	} else {
		met.CacheMisses.WithLabelValues(tier).Inc()
	}
}

// globCore strips leading/trailing wildcards so the L1 sweep can match by
// substring.
func globCore(glob string) string {
	core := glob
	for len(core) > 0 && (core[0] == '*' || core[0] == '?') {
		core = core[1:]
	}
	for len(core) > 0 && (core[len(core)-1] == '*' || core[len(core)-1] == '?') {
		core = core[:len(core)-1]
	}
	return core
}
