package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotecore/quotecore/internal/domain"
)

// fakeTransport records frames and close calls.
type fakeTransport struct {
	mu     sync.Mutex
	frames []ServerFrame
	closed bool
	code   int
	fail   bool
}

func (f *fakeTransport) WriteJSON(v any, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return assert.AnError
	}
	if frame, ok := v.(ServerFrame); ok {
		f.frames = append(f.frames, frame)
	}
	return nil
}

func (f *fakeTransport) Close(code int, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.code = code
	return nil
}

func (f *fakeTransport) frameTypes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.frames))
	for i, fr := range f.frames {
		out[i] = fr.Type
	}
	return out
}

func (f *fakeTransport) closedWith() (bool, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.code
}

type recordingObserver struct {
	mu        sync.Mutex
	activated []domain.Topic
	drained   []domain.Topic
}

func (o *recordingObserver) TopicActivated(t domain.Topic) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.activated = append(o.activated, t)
}

func (o *recordingObserver) TopicDrained(t domain.Topic) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.drained = append(o.drained, t)
}

func newTestManager(obs TopicObserver) *Manager {
	return NewManager(obs, zerolog.Nop(), nil)
}

func mustConnect(t *testing.T, m *Manager, clientID string, tr Transport) *Session {
	t.Helper()
	s, err := m.Connect(context.Background(), clientID, "", tr)
	require.NoError(t, err)
	return s
}

func TestConnectEmitsAck(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}

	mustConnect(t, m, "c1", tr)
	require.Len(t, tr.frames, 1)
	assert.Equal(t, FrameConnectionAck, tr.frames[0].Type)
	assert.Equal(t, "c1", tr.frames[0].ClientID)
	assert.Equal(t, 1, m.SessionCount())
}

func TestConnectReplacementClosesOldFirst(t *testing.T) {
	m := newTestManager(nil)
	old := &fakeTransport{}
	mustConnect(t, m, "c1", old)
	require.NoError(t, m.Subscribe("c1", "stock.AAPL.1d"))

	repl := &fakeTransport{}
	mustConnect(t, m, "c1", repl)

	closed, code := old.closedWith()
	assert.True(t, closed)
	assert.Equal(t, CloseNormal, code)
	assert.Equal(t, 1, m.SessionCount())

	// Subscriptions do not migrate.
	assert.Empty(t, m.Subscriptions("c1"))
	assert.Zero(t, m.Subscribers(domain.Topic("stock.AAPL.1d")))
	assert.Equal(t, []string{FrameConnectionAck}, repl.frameTypes())
}

func TestStaleSessionTeardownLeavesReplacement(t *testing.T) {
	m := newTestManager(nil)
	oldTr := &fakeTransport{}
	oldSess := mustConnect(t, m, "c1", oldTr)

	replTr := &fakeTransport{}
	replSess := mustConnect(t, m, "c1", replTr)

	// The replaced connection's read loop errors out after its transport is
	// closed and tears down the session it owned. That must not touch the
	// replacement.
	m.DisconnectSession(oldSess)
	assert.Equal(t, 1, m.SessionCount())

	// Stale frames are discarded too.
	m.HandleFrame(oldSess, ClientFrame{Type: FramePing})
	closed, _ := replTr.closedWith()
	assert.False(t, closed)

	// The replacement still serves traffic.
	m.HandleFrame(replSess, ClientFrame{Type: FramePing})
	assert.Equal(t, []string{FrameConnectionAck, FramePong}, replTr.frameTypes())
}

func TestDisconnectIdempotent(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	mustConnect(t, m, "c1", tr)

	m.Disconnect("c1")
	m.Disconnect("c1")
	m.Disconnect("never-connected")
	assert.Zero(t, m.SessionCount())
}

func TestSubscribeUnsubscribeRoundTrip(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	mustConnect(t, m, "c1", tr)

	require.NoError(t, m.Subscribe("c1", "stock.000001.SZ.1d"))
	assert.Equal(t, []string{"stock.000001.SZ.1d"}, m.Subscriptions("c1"))
	assert.Equal(t, 1, m.Subscribers(domain.Topic("stock.000001.SZ.1d")))

	require.NoError(t, m.Unsubscribe("c1", "stock.000001.SZ.1d"))
	assert.Empty(t, m.Subscriptions("c1"))
	assert.Zero(t, m.Subscribers(domain.Topic("stock.000001.SZ.1d")))

	types := tr.frameTypes()
	assert.Equal(t, []string{FrameConnectionAck, FrameSubscribeAck, FrameUnsubscribeAck}, types)
}

func TestSubscribeRejectsBadGrammar(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	mustConnect(t, m, "c1", tr)

	err := m.Subscribe("c1", "stonks.AAPL.1d")
	require.Error(t, err)
	assert.Equal(t, domain.KindInputInvalid, domain.KindOf(err))

	err = m.Subscribe("c1", "stock.AAPL.7h")
	require.Error(t, err)
	assert.Equal(t, domain.KindInputInvalid, domain.KindOf(err))
}

func TestObserverActivationAndDrain(t *testing.T) {
	obs := &recordingObserver{}
	m := newTestManager(obs)
	t1 := &fakeTransport{}
	t2 := &fakeTransport{}
	mustConnect(t, m, "c1", t1)
	mustConnect(t, m, "c2", t2)

	topic := "stock.AAPL.1m"
	require.NoError(t, m.Subscribe("c1", topic))
	require.NoError(t, m.Subscribe("c2", topic))

	obs.mu.Lock()
	assert.Equal(t, []domain.Topic{domain.Topic(topic)}, obs.activated, "only the first subscriber activates")
	obs.mu.Unlock()

	require.NoError(t, m.Unsubscribe("c1", topic))
	obs.mu.Lock()
	assert.Empty(t, obs.drained)
	obs.mu.Unlock()

	require.NoError(t, m.Unsubscribe("c2", topic))
	obs.mu.Lock()
	assert.Equal(t, []domain.Topic{domain.Topic(topic)}, obs.drained)
	obs.mu.Unlock()
}

func TestBroadcastCountsAndCleansDead(t *testing.T) {
	m := newTestManager(nil)
	alive := &fakeTransport{}
	dead := &fakeTransport{}
	mustConnect(t, m, "alive", alive)
	mustConnect(t, m, "dead", dead)

	topic := "stock.AAPL.1d"
	require.NoError(t, m.Subscribe("alive", topic))
	require.NoError(t, m.Subscribe("dead", topic))

	dead.mu.Lock()
	dead.fail = true
	dead.mu.Unlock()

	n := m.Broadcast(domain.Topic(topic), DataFrame(topic, map[string]any{"price": 101.5}, time.Now()))
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, m.SessionCount(), "dead session cleaned up")
	assert.Zero(t, len(m.Subscriptions("dead")))
}

func TestHandleFramePingAndSubscriptions(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	s := mustConnect(t, m, "c1", tr)

	m.HandleFrame(s, ClientFrame{Type: FramePing})
	m.HandleFrame(s, ClientFrame{Type: FrameSubscribe, Topic: "crypto.BTC-USD.5m"})
	m.HandleFrame(s, ClientFrame{Type: FrameGetSubscriptions})
	m.HandleFrame(s, ClientFrame{Type: FrameSubscribe, Topic: "garbage"})

	types := tr.frameTypes()
	require.Len(t, types, 5)
	assert.Equal(t, FramePong, types[1])
	assert.Equal(t, FrameSubscribeAck, types[2])
	assert.Equal(t, FrameSubscriptionsList, types[3])
	assert.Equal(t, FrameError, types[4])

	tr.mu.Lock()
	assert.Equal(t, []string{"crypto.BTC-USD.5m"}, tr.frames[3].Subscriptions)
	tr.mu.Unlock()
}

func TestEmptyFrameTypeClosesWithPolicy(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	s := mustConnect(t, m, "c1", tr)

	m.HandleFrame(s, ClientFrame{})

	assert.Zero(t, m.SessionCount())
	closed, code := tr.closedWith()
	assert.True(t, closed)
	assert.Equal(t, ClosePolicy, code)
}

func TestJanitorSweepsIdleSessions(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	mustConnect(t, m, "c1", tr)

	// Move the clock past the idle limit without inbound activity.
	base := time.Now()
	m.now = func() time.Time { return base.Add(defaultIdleLimit + time.Minute) }
	m.sweepIdle()

	assert.Zero(t, m.SessionCount())
	closed, _ := tr.closedWith()
	assert.True(t, closed)
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	m := newTestManager(nil)
	tr := &fakeTransport{}
	mustConnect(t, m, "c1", tr)

	base := time.Now()
	m.now = func() time.Time { return base.Add(defaultIdleLimit - time.Second) }
	m.Touch("c1")
	m.now = func() time.Time { return base.Add(defaultIdleLimit + time.Second) }
	m.sweepIdle()

	assert.Equal(t, 1, m.SessionCount())
}
