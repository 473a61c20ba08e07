package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/area"
	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/geo"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/store"
)

// State enumerates the tracking session lifecycle.
type State string

const (
	StateAwaitingConsent State = "awaiting_consent"
	StateTracking        State = "tracking"
	StateStopped         State = "stopped"
)

// ShouldWrite is the write-throttle gate: the first sample is always
// accepted; later samples pass only when enough time elapsed or the
// agent moved far enough since the last accepted sample.
func ShouldWrite(prev *domain.PositionSample, next domain.PositionSample, minInterval time.Duration, minDisplacementKm float64) bool {
	if prev == nil {
		return true
	}
	if next.Timestamp.Sub(prev.Timestamp) >= minInterval {
		return true
	}
	return geo.DistanceKm(prev.Lat, prev.Lng, next.Lat, next.Lng) >= minDisplacementKm
}

// Status is the live-panel snapshot of a session.
type Status struct {
	State        State                  `json:"state"`
	SensorError  string                 `json:"sensorError,omitempty"`
	WriteError   string                 `json:"writeError,omitempty"`
	LastAccepted *domain.PositionSample `json:"lastAccepted,omitempty"`
	Area         string                 `json:"area,omitempty"`
	SpeedKmh     *float64               `json:"speedKmh,omitempty"`
}

// Session is the per-agent ingestion state machine
// (AwaitingConsent → Tracking → Stopped). Sensor errors are a
// user-visible sub-state; the machine survives them and is re-armed by
// an explicit retry of the approval action.
type Session struct {
	agentID    string
	source     SampleSource
	records    store.RecordStore
	resolver   *area.Resolver
	dispatcher events.Dispatcher
	logger     *zap.Logger
	metrics    *observability.Metrics
	cfg        config.TrackingConfig

	mu           sync.Mutex
	state        State
	sensorErr    string
	writeErr     string
	lastAccepted *domain.PositionSample
	lastArea     string
	cancel       context.CancelFunc

	done chan struct{}
	now  func() time.Time
}

// NewSession builds a session in AwaitingConsent.
func NewSession(
	agentID string,
	source SampleSource,
	records store.RecordStore,
	resolver *area.Resolver,
	dispatcher events.Dispatcher,
	cfg config.TrackingConfig,
	logger *zap.Logger,
	metrics *observability.Metrics,
) *Session {
	return &Session{
		agentID:    agentID,
		source:     source,
		records:    records,
		resolver:   resolver,
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    metrics,
		cfg:        cfg,
		state:      StateAwaitingConsent,
		now:        time.Now,
	}
}

// Approve records consent and starts (or re-arms) the sensor watch.
// The consent patch is atomic: status and timestamp land together, and
// the store keeps consentAt from ever being overwritten.
func (s *Session) Approve(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return ErrSourceClosed
	}
	s.mu.Unlock()

	consentAt := s.now()
	approved := domain.ConsentStatusApproved
	if err := s.records.Patch(ctx, s.agentID, store.Patch{
		ConsentStatus: &approved,
		ConsentAt:     &consentAt,
	}); err != nil {
		return err
	}

	s.dispatch(events.EventConsentApproved, events.ConsentApprovedPayload{ConsentAt: consentAt})

	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.state = StateTracking
	s.sensorErr = ""
	done := make(chan struct{})
	s.done = done
	s.mu.Unlock()

	samples, errs := s.source.Watch(watchCtx)
	go s.consume(samples, errs, done)

	s.logger.Info("tracking started", zap.String("agent_id", s.agentID))
	return nil
}

// Stop ends the session and cancels the sensor watch. Only the hosting
// session ending should call this.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.state = StateStopped
	done := s.done
	s.mu.Unlock()

	if done != nil {
		<-done
	}
	s.logger.Info("tracking stopped", zap.String("agent_id", s.agentID))
}

// Status returns the live-panel snapshot.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:       s.state,
		SensorError: s.sensorErr,
		WriteError:  s.writeErr,
		Area:        s.lastArea,
	}
	if s.lastAccepted != nil {
		copied := *s.lastAccepted
		st.LastAccepted = &copied
		if kmh, ok := geo.SpeedKmh(copied.Speed); ok {
			st.SpeedKmh = &kmh
		}
	}
	return st
}

func (s *Session) consume(samples <-chan domain.PositionSample, errs <-chan error, done chan struct{}) {
	defer close(done)
	for {
		select {
		case sample, ok := <-samples:
			if !ok {
				return
			}
			s.handleSample(sample)
		case err, ok := <-errs:
			if !ok {
				return
			}
			s.handleSensorError(err)
		}
	}
}

func (s *Session) handleSample(sample domain.PositionSample) {
	if sample.Timestamp.IsZero() {
		sample.Timestamp = s.now()
	}

	s.mu.Lock()
	if s.state != StateTracking {
		s.mu.Unlock()
		return
	}
	if !ShouldWrite(s.lastAccepted, sample, s.cfg.MinWriteInterval(), s.cfg.MinDisplacementKm) {
		s.mu.Unlock()
		s.metrics.IncrPipeline(observability.CounterPositionsThrottled)
		return
	}
	s.mu.Unlock()

	areaName := s.resolver.Enrich(s.agentID, sample.Lat, sample.Lng)

	approved := domain.ConsentStatusApproved
	ts := sample.Timestamp
	loc := domain.Location{
		Lat:       &sample.Lat,
		Lng:       &sample.Lng,
		Accuracy:  &sample.Accuracy,
		Speed:     &sample.Speed,
		Area:      areaName,
		UpdatedAt: &ts,
	}

	err := s.records.Patch(context.Background(), s.agentID, store.Patch{
		ConsentStatus: &approved,
		LastSeenAt:    &ts,
		Location:      &loc,
	})

	s.mu.Lock()
	if err != nil {
		s.writeErr = "position upload failed, check connectivity"
		s.mu.Unlock()
		s.logger.Warn("position write failed", zap.String("agent_id", s.agentID), zap.Error(err))
		// no retry here: the next sensor sample is the retry
		return
	}
	s.writeErr = ""
	s.sensorErr = ""
	if s.lastAccepted == nil || !sample.Timestamp.Before(s.lastAccepted.Timestamp) {
		s.lastAccepted = &sample
	}
	s.lastArea = areaName
	s.mu.Unlock()

	s.metrics.IncrPipeline(observability.CounterPositionsAccepted)
	s.dispatch(events.EventPositionAccepted, events.PositionAcceptedPayload{Sample: sample, Area: areaName})
}

func (s *Session) handleSensorError(err error) {
	s.mu.Lock()
	s.sensorErr = "positioning unavailable, allow location access and retry"
	s.mu.Unlock()
	s.logger.Warn("sensor error", zap.String("agent_id", s.agentID), zap.Error(err))
}

func (s *Session) dispatch(eventType events.EventType, payload interface{}) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(context.Background(), events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		AgentID:   s.agentID,
		Timestamp: s.now(),
		Payload:   payload,
	})
}
