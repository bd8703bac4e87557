package fetch

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quotecore/quotecore/internal/metrics"
)

const (
	breakerConsecutiveTrip = 10
	breakerCooldown        = 60 * time.Second
)

// breakerRegistry keeps one circuit breaker per symbol so a single broken
// listing cannot poison upstream calls for the rest of the market.
type breakerRegistry struct {
	mu  sync.Mutex
	m   map[string]*gobreaker.CircuitBreaker
	log zerolog.Logger
	met *metrics.Set
}

func newBreakerRegistry(log zerolog.Logger, met *metrics.Set) *breakerRegistry {
	return &breakerRegistry{
		m:   make(map[string]*gobreaker.CircuitBreaker),
		log: log,
		met: met,
	}
}

func (r *breakerRegistry) forName(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.m[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerConsecutiveTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("breaker state change")
			if to == gobreaker.StateOpen && r.met != nil {
				r.met.BreakerOpens.WithLabelValues(name).Inc()
			}
		},
	})
	r.m[name] = cb
	return cb
}
