package ws

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quotecore/quotecore/internal/domain"
	"github.com/quotecore/quotecore/internal/metrics"
)

const (
	writeTimeout      = 5 * time.Second
	heartbeatEvery    = 30 * time.Second
	defaultIdleLimit  = 5 * time.Minute
	janitorSweepEvery = time.Minute
	broadcastWorkers  = 16
)

// sessionState is the per-session lifecycle.
type sessionState int

const (
	stateHandshake sessionState = iota
	stateActive
	stateClosing
	stateClosed
)

// Session is one live client connection. The handle identifies the exact
// connection, not just the client_id: a replaced session's late teardown must
// not touch its replacement.
type Session struct {
	clientID      string
	userID        string
	transport     Transport
	connectedAt   time.Time
	lastHeartbeat time.Time
	state         sessionState
	stopHeartbeat context.CancelFunc
}

// ClientID returns the owning client identifier.
func (s *Session) ClientID() string { return s.clientID }

// TopicObserver is notified when a topic's subscriber count transitions
// between zero and non-zero; the stream service uses it to start and stop
// workers.
type TopicObserver interface {
	TopicActivated(topic domain.Topic)
	TopicDrained(topic domain.Topic)
}

// Manager tracks sessions and subscriptions. All four indexes mutate under
// one mutex; network writes happen outside it.
type Manager struct {
	mu         sync.Mutex
	sessions   map[string]*Session
	clientSubs map[string]map[domain.Topic]struct{}
	topicSubs  map[domain.Topic]map[string]struct{}

	observer  TopicObserver
	idleLimit time.Duration
	log       zerolog.Logger
	met       *metrics.Set
	now       func() time.Time
}

// NewManager builds the connection manager. observer and met may be nil.
func NewManager(observer TopicObserver, log zerolog.Logger, met *metrics.Set) *Manager {
	return &Manager{
		sessions:   make(map[string]*Session),
		clientSubs: make(map[string]map[domain.Topic]struct{}),
		topicSubs:  make(map[domain.Topic]map[string]struct{}),
		observer:   observer,
		idleLimit:  defaultIdleLimit,
		log:        log.With().Str("component", "ws").Logger(),
		met:        met,
		now:        time.Now,
	}
}

// Connect registers a session and returns its handle. An existing session
// under the same client_id is closed with a normal-closure code before the
// new one is acknowledged. Subscriptions never migrate to the replacement.
func (m *Manager) Connect(ctx context.Context, clientID, userID string, t Transport) (*Session, error) {
	m.mu.Lock()
	old := m.sessions[clientID]
	if old != nil {
		old.state = stateClosing
		delete(m.sessions, clientID)
		m.dropSubscriptionsLocked(clientID)
	}

	hbCtx, cancel := context.WithCancel(ctx)
	s := &Session{
		clientID:      clientID,
		userID:        userID,
		transport:     t,
		connectedAt:   m.now(),
		lastHeartbeat: m.now(),
		state:         stateHandshake,
		stopHeartbeat: cancel,
	}
	m.sessions[clientID] = s
	m.mu.Unlock()

	if old != nil {
		m.closeSession(old, CloseNormal, "replaced by new connection")
		if m.met != nil {
			m.met.WSConnections.Dec()
		}
	}

	if err := t.WriteJSON(connectionAck(clientID, m.now()), m.now().Add(writeTimeout)); err != nil {
		cancel()
		m.mu.Lock()
		if m.sessions[clientID] == s {
			delete(m.sessions, clientID)
		}
		m.mu.Unlock()
		return nil, err
	}

	m.mu.Lock()
	s.state = stateActive
	m.mu.Unlock()
	if m.met != nil {
		m.met.WSConnections.Inc()
	}

	go m.heartbeatLoop(hbCtx, s)
	m.log.Info().Str("client_id", clientID).Msg("session connected")
	return s, nil
}

// Disconnect tears down whatever session currently owns clientID. Idempotent:
// unknown client_ids are a no-op.
func (m *Manager) Disconnect(clientID string) {
	m.mu.Lock()
	s := m.sessions[clientID]
	m.mu.Unlock()
	if s != nil {
		m.dropSession(s, CloseNormal, "disconnect")
	}
}

// DisconnectSession tears down exactly s. A session that has already been
// replaced by a newer connection is a no-op, so a dying read loop cannot take
// its replacement down with it.
func (m *Manager) DisconnectSession(s *Session) {
	m.dropSession(s, CloseNormal, "disconnect")
}

// dropSession removes s from the indexes and closes its transport, but only
// while s is still the registered session for its client_id.
func (m *Manager) dropSession(s *Session, code int, reason string) {
	m.mu.Lock()
	if m.sessions[s.clientID] != s {
		m.mu.Unlock()
		return
	}
	s.state = stateClosing
	delete(m.sessions, s.clientID)
	m.dropSubscriptionsLocked(s.clientID)
	m.mu.Unlock()

	m.closeSession(s, code, reason)
	if m.met != nil {
		m.met.WSConnections.Dec()
	}
	m.log.Info().Str("client_id", s.clientID).Int("code", code).Msg("session disconnected")
}

// Subscribe validates the topic grammar and updates both indexes.
func (m *Manager) Subscribe(clientID, rawTopic string) error {
	topic, err := domain.ParseTopic(rawTopic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.sessions[clientID]
	if s == nil {
		m.mu.Unlock()
		return domain.E(domain.KindInputInvalid, "unknown client "+clientID)
	}
	if m.clientSubs[clientID] == nil {
		m.clientSubs[clientID] = make(map[domain.Topic]struct{})
	}
	m.clientSubs[clientID][topic] = struct{}{}
	first := len(m.topicSubs[topic]) == 0
	if m.topicSubs[topic] == nil {
		m.topicSubs[topic] = make(map[string]struct{})
	}
	m.topicSubs[topic][clientID] = struct{}{}
	t := s.transport
	m.mu.Unlock()

	if first && m.observer != nil {
		m.observer.TopicActivated(topic)
	}
	return t.WriteJSON(subscribeAck(string(topic)), m.now().Add(writeTimeout))
}

// Unsubscribe removes one topic from one client; both indexes shrink
// together.
func (m *Manager) Unsubscribe(clientID, rawTopic string) error {
	topic, err := domain.ParseTopic(rawTopic)
	if err != nil {
		return err
	}

	m.mu.Lock()
	s := m.sessions[clientID]
	delete(m.clientSubs[clientID], topic)
	if len(m.clientSubs[clientID]) == 0 {
		delete(m.clientSubs, clientID)
	}
	delete(m.topicSubs[topic], clientID)
	drained := len(m.topicSubs[topic]) == 0
	if drained {
		delete(m.topicSubs, topic)
	}
	var t Transport
	if s != nil {
		t = s.transport
	}
	m.mu.Unlock()

	if drained && m.observer != nil {
		m.observer.TopicDrained(topic)
	}
	if t == nil {
		return nil
	}
	return t.WriteJSON(unsubscribeAck(string(topic)), m.now().Add(writeTimeout))
}

// Send writes one frame to one client; a dead transport triggers cleanup.
func (m *Manager) Send(clientID string, frame ServerFrame) error {
	m.mu.Lock()
	s := m.sessions[clientID]
	m.mu.Unlock()
	if s == nil {
		return domain.E(domain.KindInputInvalid, "unknown client "+clientID)
	}
	if err := s.transport.WriteJSON(frame, m.now().Add(writeTimeout)); err != nil {
		if m.met != nil {
			m.met.WSSendErrors.Inc()
		}
		m.dropSession(s, CloseNormal, "write failed")
		return err
	}
	return nil
}

// Broadcast fans a frame out to every subscriber of the topic with a bounded
// worker pool, cleans up dead sessions and returns the success count.
func (m *Manager) Broadcast(topic domain.Topic, frame ServerFrame) int {
	m.mu.Lock()
	targets := make([]*Session, 0, len(m.topicSubs[topic]))
	for clientID := range m.topicSubs[topic] {
		if s := m.sessions[clientID]; s != nil {
			targets = append(targets, s)
		}
	}
	m.mu.Unlock()
	if len(targets) == 0 {
		return 0
	}

	deadline := m.now().Add(writeTimeout)
	sem := make(chan struct{}, broadcastWorkers)
	var wg sync.WaitGroup
	var okCount sync.Map

	for _, s := range targets {
		wg.Add(1)
		sem <- struct{}{}
		go func(s *Session) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := s.transport.WriteJSON(frame, deadline); err != nil {
				if m.met != nil {
					m.met.WSSendErrors.Inc()
				}
				m.dropSession(s, CloseNormal, "write failed")
				return
			}
			okCount.Store(s.clientID, struct{}{})
		}(s)
	}
	wg.Wait()

	n := 0
	okCount.Range(func(_, _ any) bool { n++; return true })
	if m.met != nil {
		m.met.WSBroadcasts.WithLabelValues(topicType(topic)).Inc()
	}
	return n
}

// HandleFrame processes one inbound frame from s. Frames from a session that
// has been replaced are discarded. Any accepted frame counts as liveness.
func (m *Manager) HandleFrame(s *Session, frame ClientFrame) {
	m.mu.Lock()
	current := m.sessions[s.clientID] == s
	if current {
		s.lastHeartbeat = m.now()
	}
	m.mu.Unlock()
	if !current {
		return
	}

	switch frame.Type {
	case "":
		m.dropSession(s, ClosePolicy, "missing frame type")
	case FrameSubscribe:
		if err := m.Subscribe(s.clientID, frame.Topic); err != nil {
			m.sendError(s.clientID, "invalid_topic", err.Error())
		}
	case FrameUnsubscribe:
		if err := m.Unsubscribe(s.clientID, frame.Topic); err != nil {
			m.sendError(s.clientID, "invalid_topic", err.Error())
		}
	case FramePing:
		_ = m.Send(s.clientID, pongFrame(m.now()))
	case FrameHeartbeatResponse:
		// liveness already recorded
	case FrameGetSubscriptions:
		_ = m.Send(s.clientID, subscriptionsList(m.Subscriptions(s.clientID)))
	default:
		m.sendError(s.clientID, "unknown_type", "unsupported frame type "+frame.Type)
	}
}

// Touch records inbound activity for the janitor.
func (m *Manager) Touch(clientID string) {
	m.mu.Lock()
	if s := m.sessions[clientID]; s != nil {
		s.lastHeartbeat = m.now()
	}
	m.mu.Unlock()
}

// Subscriptions lists a client's topics.
func (m *Manager) Subscriptions(clientID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.clientSubs[clientID]))
	for t := range m.clientSubs[clientID] {
		out = append(out, string(t))
	}
	return out
}

// Subscribers returns the live subscriber count for a topic.
func (m *Manager) Subscribers(topic domain.Topic) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.topicSubs[topic])
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// RunJanitor sweeps idle sessions until ctx ends.
func (m *Manager) RunJanitor(ctx context.Context) {
	ticker := time.NewTicker(janitorSweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepIdle()
		}
	}
}

func (m *Manager) sweepIdle() {
	cutoff := m.now().Add(-m.idleLimit)
	m.mu.Lock()
	stale := make([]*Session, 0)
	for _, s := range m.sessions {
		if s.lastHeartbeat.Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()
	for _, s := range stale {
		m.log.Info().Str("client_id", s.clientID).Msg("closing idle session")
		m.dropSession(s, CloseNormal, "idle timeout")
	}
}

// Shutdown closes every session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	open := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		open = append(open, s)
	}
	m.mu.Unlock()
	for _, s := range open {
		m.dropSession(s, CloseNormal, "shutdown")
	}
}

// heartbeatLoop pushes a heartbeat frame every 30 s until the session dies.
func (m *Manager) heartbeatLoop(ctx context.Context, s *Session) {
	ticker := time.NewTicker(heartbeatEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.transport.WriteJSON(heartbeatFrame(m.now()), m.now().Add(writeTimeout)); err != nil {
				m.dropSession(s, CloseNormal, "heartbeat failed")
				return
			}
		}
	}
}

func (m *Manager) closeSession(s *Session, code int, reason string) {
	if s.stopHeartbeat != nil {
		s.stopHeartbeat()
	}
	if err := s.transport.Close(code, reason); err != nil {
		m.log.Debug().Err(err).Str("client_id", s.clientID).Msg("transport close")
	}
	m.mu.Lock()
	s.state = stateClosed
	m.mu.Unlock()
}

// dropSubscriptionsLocked removes every subscription of a client; caller
// holds the mutex. Drained topics are collected and notified after unlock by
// the caller via deferred notifications.
func (m *Manager) dropSubscriptionsLocked(clientID string) {
	drained := make([]domain.Topic, 0)
	for topic := range m.clientSubs[clientID] {
		delete(m.topicSubs[topic], clientID)
		if len(m.topicSubs[topic]) == 0 {
			delete(m.topicSubs, topic)
			drained = append(drained, topic)
		}
	}
	delete(m.clientSubs, clientID)
	if m.observer != nil && len(drained) > 0 {
		go func() {
			for _, t := range drained {
				m.observer.TopicDrained(t)
			}
		}()
	}
}

func (m *Manager) sendError(clientID, code, msg string) {
	_ = m.Send(clientID, errorFrame(code, msg))
}

func topicType(topic domain.Topic) string {
	if topic.IsSummary() {
		return "summary"
	}
	parts := string(topic)
	for i := 0; i < len(parts); i++ {
		if parts[i] == '.' {
			return parts[:i]
		}
	}
	return "unknown"
}
