// Package stream runs one polling worker per active topic and fans changed
// snapshots out through the connection manager.
package stream

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/ws"
)

const (
	defaultGrace     = 5 * time.Minute
	defaultReapEvery = 30 * time.Second

	// summarySpotLimit caps how many listings feed a market-summary snapshot.
	summarySpotLimit = 20
)

// DataPlane is the slice of the fetch coordinator the stream service polls.
type DataPlane interface {
	GetOHLCV(ctx context.Context, rawSymbol string, interval domain.Interval, rng domain.DateRange) ([]domain.Row, error)
	GetSymbolList(ctx context.Context, market domain.Market) ([]domain.SymbolInfo, error)
	FetchSpot(ctx context.Context, market domain.Market, symbols []string) ([]domain.Spot, error)
}

// Broadcaster is the slice of the connection manager the service pushes into.
type Broadcaster interface {
	Broadcast(topic domain.Topic, frame ws.ServerFrame) int
	Subscribers(topic domain.Topic) int
}

// Snapshot is the payload of one data push. Change detection compares price,
// volume and timestamp only.
type Snapshot struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Open      float64   `json:"open,omitempty"`
	High      float64   `json:"high,omitempty"`
	Low       float64   `json:"low,omitempty"`
	Volume    float64   `json:"volume"`
	PctChg    float64   `json:"pct_chg,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s Snapshot) sameAs(o Snapshot) bool {
	return s.Price == o.Price && s.Volume == o.Volume && s.Timestamp.Equal(o.Timestamp)
}

type worker struct {
	topic     domain.Topic
	cancel    context.CancelFunc
	drainedAt time.Time // zero while the topic has subscribers

	// touched only by the worker goroutine
	last    Snapshot
	hasLast bool
}

// Service owns the per-topic workers. It implements ws.TopicObserver so the
// connection manager can start and stop polling lazily.
type Service struct {
	mu      sync.Mutex
	workers map[domain.Topic]*worker
	bcast   Broadcaster

	plane DataPlane
	log   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	tickFor   func(domain.Topic) time.Duration
	grace     time.Duration
	reapEvery time.Duration
	now       func() time.Time
}

// New builds the service. Bind must be called with the connection manager
// before any topic activates.
func New(plane DataPlane, log zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		workers:   make(map[domain.Topic]*worker),
		plane:     plane,
		log:       log.With().Str("component", "stream").Logger(),
		ctx:       ctx,
		cancel:    cancel,
		tickFor:   domain.Topic.Tick,
		grace:     defaultGrace,
		reapEvery: defaultReapEvery,
		now:       time.Now,
	}
}

// Bind attaches the broadcaster. The manager and the service reference each
// other, so one side is wired after construction.
func (s *Service) Bind(b Broadcaster) {
	s.mu.Lock()
	s.bcast = b
	s.mu.Unlock()
}

// TopicActivated starts a worker for the topic, or cancels a pending stop if
// one is already draining.
func (s *Service) TopicActivated(topic domain.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w, ok := s.workers[topic]; ok {
		w.drainedAt = time.Time{}
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	w := &worker{topic: topic, cancel: cancel}
	s.workers[topic] = w
	s.wg.Add(1)
	go s.run(ctx, w)
	s.log.Info().Str("topic", string(topic)).Msg("stream worker started")
}

// TopicDrained marks the worker for a deferred stop. A new subscriber inside
// the grace window reverses it.
func (s *Service) TopicDrained(topic domain.Topic) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.workers[topic]; ok {
		w.drainedAt = s.now()
	}
}

// Workers reports the live worker count.
func (s *Service) Workers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.workers)
}

// Shutdown cancels every worker and waits for them to exit.
func (s *Service) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.mu.Lock()
	s.workers = make(map[domain.Topic]*worker)
	s.mu.Unlock()
}

func (s *Service) run(ctx context.Context, w *worker) {
	defer s.wg.Done()

	poll := time.NewTicker(s.tickFor(w.topic))
	defer poll.Stop()
	reap := time.NewTicker(s.reapEvery)
	defer reap.Stop()

	// Immediate first poll so a fresh subscriber sees data before the first
	// full tick.
	s.pollOnce(ctx, w)

	for {
		select {
		case <-ctx.Done():
			return
		case <-reap.C:
			if s.reapIfDrained(w) {
				return
			}
		case <-poll.C:
			s.pollOnce(ctx, w)
		}
	}
}

// reapIfDrained stops the worker when the topic has been empty past the grace
// window. Returns true when the worker should exit.
func (s *Service) reapIfDrained(w *worker) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.drainedAt.IsZero() {
		return false
	}
	if s.bcast != nil && s.bcast.Subscribers(w.topic) > 0 {
		// Activation raced the drain notification.
		w.drainedAt = time.Time{}
		return false
	}
	if s.now().Sub(w.drainedAt) < s.grace {
		return false
	}

	if s.workers[w.topic] == w {
		delete(s.workers, w.topic)
	}
	w.cancel()
	s.log.Info().Str("topic", string(w.topic)).Msg("stream worker stopped")
	return true
}

func (s *Service) pollOnce(ctx context.Context, w *worker) {
	snap, err := s.snapshot(ctx, w.topic)
	if err != nil {
		s.log.Warn().Err(err).Str("topic", string(w.topic)).Msg("stream poll failed")
		return
	}
	if w.hasLast && snap.sameAs(w.last) {
		return
	}

	s.mu.Lock()
	b := s.bcast
	s.mu.Unlock()
	if b == nil {
		return
	}

	n := b.Broadcast(w.topic, ws.DataFrame(string(w.topic), snap, s.now()))
	w.last = snap
	w.hasLast = true
	s.log.Debug().Str("topic", string(w.topic)).Int("delivered", n).Msg("stream push")
}

func (s *Service) snapshot(ctx context.Context, topic domain.Topic) (Snapshot, error) {
	if topic.IsSummary() {
		return s.summarySnapshot(ctx, topic)
	}

	rows, err := s.plane.GetOHLCV(ctx, topic.Symbol(), topic.StorageInterval(), domain.DateRange{})
	if err != nil {
		return Snapshot{}, err
	}
	if len(rows) == 0 {
		return Snapshot{}, domain.E(domain.KindUpstreamEmpty, "no rows for topic "+string(topic))
	}
	last := rows[len(rows)-1]
	return Snapshot{
		Symbol:    last.Symbol,
		Price:     last.Close,
		Open:      last.Open,
		High:      last.High,
		Low:       last.Low,
		Volume:    last.Volume,
		PctChg:    last.PctChg,
		Timestamp: last.TradeDate,
	}, nil
}

// summarySnapshot aggregates spot quotes over the market's leading listings
// into an average price and a total volume.
func (s *Service) summarySnapshot(ctx context.Context, topic domain.Topic) (Snapshot, error) {
	market := domain.Market(topic.Symbol())
	listings, err := s.plane.GetSymbolList(ctx, market)
	if err != nil {
		return Snapshot{}, err
	}
	if len(listings) == 0 {
		return Snapshot{}, domain.E(domain.KindUpstreamEmpty, "no listings for market "+string(market))
	}

	codes := make([]string, 0, summarySpotLimit)
	for _, l := range listings {
		codes = append(codes, l.Code)
		if len(codes) == summarySpotLimit {
			break
		}
	}

	spots, err := s.plane.FetchSpot(ctx, market, codes)
	if err != nil {
		return Snapshot{}, err
	}
	if len(spots) == 0 {
		return Snapshot{}, domain.E(domain.KindUpstreamEmpty, "no spot quotes for market "+string(market))
	}

	var sum, volume float64
	var latest time.Time
	for _, sp := range spots {
		sum += sp.Price
		volume += sp.Volume
		if sp.Timestamp.After(latest) {
			latest = sp.Timestamp
		}
	}
	return Snapshot{
		Symbol:    string(market),
		Price:     sum / float64(len(spots)),
		Volume:    volume,
		Timestamp: latest,
	}, nil
}
