package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/area"
	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/store"
)

// Manager owns one tracking session per agent, created lazily on the
// first approval and torn down on agent deletion or service shutdown.
type Manager struct {
	records    store.RecordStore
	resolver   *area.Resolver
	dispatcher events.Dispatcher
	cfg        config.TrackingConfig
	logger     *zap.Logger
	metrics    *observability.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	*Session
	source *PushSource
}

// NewManager builds an empty session manager.
func NewManager(
	records store.RecordStore,
	resolver *area.Resolver,
	dispatcher events.Dispatcher,
	cfg config.TrackingConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Manager {
	return &Manager{
		records:    records,
		resolver:   resolver,
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		sessions:   make(map[string]*session),
	}
}

// Approve records consent for the agent and arms its tracking session.
// Retrying after a sensor error goes through here as well.
func (m *Manager) Approve(ctx context.Context, agentID string) error {
	if _, err := m.records.Get(ctx, agentID); err != nil {
		return err
	}

	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	if !ok {
		source := NewPushSource(time.Duration(m.cfg.SensorTimeoutSec) * time.Second)
		sess = &session{
			Session: NewSession(agentID, source, m.records, m.resolver, m.dispatcher, m.cfg, m.logger, m.metrics),
			source:  source,
		}
		m.sessions[agentID] = sess
	}
	m.mu.Unlock()

	return sess.Approve(ctx)
}

// Push feeds a raw device sample into the agent's active session.
func (m *Manager) Push(agentID string, sample domain.PositionSample) error {
	sess, ok := m.lookup(agentID)
	if !ok {
		return ErrSourceClosed
	}
	return sess.source.Push(sample)
}

// ReportSensorError surfaces a device-side sensor failure.
func (m *Manager) ReportSensorError(agentID string, err error) error {
	sess, ok := m.lookup(agentID)
	if !ok {
		return ErrSourceClosed
	}
	return sess.source.Fail(err)
}

// Status returns the live-panel snapshot for the agent's session.
func (m *Manager) Status(agentID string) (Status, bool) {
	sess, ok := m.lookup(agentID)
	if !ok {
		return Status{}, false
	}
	return sess.Status(), true
}

// Drop stops and removes a deleted agent's session.
func (m *Manager) Drop(agentID string) {
	m.mu.Lock()
	sess, ok := m.sessions[agentID]
	delete(m.sessions, agentID)
	m.mu.Unlock()
	if ok {
		sess.Stop()
	}
}

// StopAll cancels every active sensor watch. Called on shutdown so no
// background sampling leaks past the hosting process.
func (m *Manager) StopAll() {
	m.mu.Lock()
	sessions := make([]*session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.sessions = make(map[string]*session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Stop()
	}
}

func (m *Manager) lookup(agentID string) (*session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[agentID]
	return sess, ok
}
