package stream

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/ws"
)

type fakePlane struct {
	mu       sync.Mutex
	rows     []domain.Row
	listings []domain.SymbolInfo
	spots    []domain.Spot
	calls    int
}

func (p *fakePlane) GetOHLCV(context.Context, string, domain.Interval, domain.DateRange) ([]domain.Row, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	out := make([]domain.Row, len(p.rows))
	copy(out, p.rows)
	return out, nil
}

func (p *fakePlane) GetSymbolList(context.Context, domain.Market) ([]domain.SymbolInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listings, nil
}

func (p *fakePlane) FetchSpot(context.Context, domain.Market, []string) ([]domain.Spot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spots, nil
}

func (p *fakePlane) setLatest(close, volume float64, date time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = []domain.Row{{
		Symbol:    "AAPL",
		Interval:  domain.IntervalDaily,
		TradeDate: date,
		Close:     close,
		Volume:    volume,
	}}
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	frames []ws.ServerFrame
	subs   map[domain.Topic]int
}

func (b *fakeBroadcaster) Broadcast(_ domain.Topic, frame ws.ServerFrame) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frames = append(b.frames, frame)
	return 1
}

func (b *fakeBroadcaster) Subscribers(t domain.Topic) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.subs[t]
}

func (b *fakeBroadcaster) pushed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

func newTestService(plane DataPlane, b Broadcaster) *Service {
	s := New(plane, zerolog.Nop())
	s.Bind(b)
	s.tickFor = func(domain.Topic) time.Duration { return 5 * time.Millisecond }
	s.reapEvery = 5 * time.Millisecond
	s.grace = 20 * time.Millisecond
	return s
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestPushOnChangeOnly(t *testing.T) {
	plane := &fakePlane{}
	plane.setLatest(100, 1000, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	b := &fakeBroadcaster{subs: map[domain.Topic]int{"stock.AAPL.1d": 1}}
	s := newTestService(plane, b)
	defer s.Shutdown()

	s.TopicActivated(domain.Topic("stock.AAPL.1d"))
	waitFor(t, func() bool { return b.pushed() == 1 })

	// Same snapshot must not push again even as polls continue.
	waitFor(t, func() bool {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		return plane.calls >= 4
	})
	assert.Equal(t, 1, b.pushed())

	// Price change triggers exactly one more push.
	plane.setLatest(101.5, 1000, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	waitFor(t, func() bool { return b.pushed() == 2 })

	b.mu.Lock()
	frame := b.frames[1]
	b.mu.Unlock()
	assert.Equal(t, "data", frame.Type)
	assert.Equal(t, "stock.AAPL.1d", frame.Topic)
	snap, ok := frame.Data.(Snapshot)
	require.True(t, ok)
	assert.Equal(t, 101.5, snap.Price)
}

func TestWorkerStopsAfterGrace(t *testing.T) {
	plane := &fakePlane{}
	plane.setLatest(100, 1000, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	b := &fakeBroadcaster{subs: map[domain.Topic]int{}}
	s := newTestService(plane, b)
	defer s.Shutdown()

	topic := domain.Topic("stock.AAPL.1d")
	s.TopicActivated(topic)
	require.Equal(t, 1, s.Workers())

	s.TopicDrained(topic)
	waitFor(t, func() bool { return s.Workers() == 0 })
}

func TestDrainReversedByReactivation(t *testing.T) {
	plane := &fakePlane{}
	plane.setLatest(100, 1000, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	topic := domain.Topic("stock.AAPL.1d")
	b := &fakeBroadcaster{subs: map[domain.Topic]int{topic: 1}}
	s := newTestService(plane, b)
	defer s.Shutdown()

	s.TopicActivated(topic)
	s.TopicDrained(topic)
	s.TopicActivated(topic)

	// Well past the grace window the worker is still alive.
	time.Sleep(3 * s.grace)
	assert.Equal(t, 1, s.Workers())
}

func TestLiveSubscribersCancelPendingStop(t *testing.T) {
	plane := &fakePlane{}
	plane.setLatest(100, 1000, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	topic := domain.Topic("stock.AAPL.1d")
	// Drain notification arrives but the subscriber index still shows one.
	b := &fakeBroadcaster{subs: map[domain.Topic]int{topic: 1}}
	s := newTestService(plane, b)
	defer s.Shutdown()

	s.TopicActivated(topic)
	s.TopicDrained(topic)

	time.Sleep(3 * s.grace)
	assert.Equal(t, 1, s.Workers())
}

func TestSummarySnapshotAggregates(t *testing.T) {
	ts := time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)
	plane := &fakePlane{
		listings: []domain.SymbolInfo{{Code: "AAPL"}, {Code: "MSFT"}},
		spots: []domain.Spot{
			{Symbol: "AAPL", Price: 100, Volume: 10, Timestamp: ts},
			{Symbol: "MSFT", Price: 300, Volume: 20, Timestamp: ts.Add(time.Minute)},
		},
	}
	s := newTestService(plane, &fakeBroadcaster{subs: map[domain.Topic]int{}})
	defer s.Shutdown()

	snap, err := s.snapshot(context.Background(), domain.Topic("market.US_stock.summary"))
	require.NoError(t, err)
	assert.Equal(t, "US_stock", snap.Symbol)
	assert.Equal(t, 200.0, snap.Price)
	assert.Equal(t, 30.0, snap.Volume)
	assert.Equal(t, ts.Add(time.Minute), snap.Timestamp)
}

func TestEmptyHistoryIsNotPushed(t *testing.T) {
	plane := &fakePlane{} // no rows
	topic := domain.Topic("stock.AAPL.1d")
	b := &fakeBroadcaster{subs: map[domain.Topic]int{topic: 1}}
	s := newTestService(plane, b)
	defer s.Shutdown()

	s.TopicActivated(topic)
	waitFor(t, func() bool {
		plane.mu.Lock()
		defer plane.mu.Unlock()
		return plane.calls >= 3
	})
	assert.Zero(t, b.pushed())
}

func TestShutdownStopsAllWorkers(t *testing.T) {
	plane := &fakePlane{}
	plane.setLatest(100, 1000, time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC))
	b := &fakeBroadcaster{subs: map[domain.Topic]int{}}
	s := newTestService(plane, b)

	s.TopicActivated(domain.Topic("stock.AAPL.1d"))
	s.TopicActivated(domain.Topic("crypto.BTC-USD.5m"))
	require.Equal(t, 2, s.Workers())

	s.Shutdown()
	assert.Zero(t, s.Workers())
}
