package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/area"
	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/events"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/store"
)

type stubGeocoder struct{}

func (stubGeocoder) ReverseArea(ctx context.Context, lat, lng float64) (string, error) {
	return "Salmiya", nil
}

func testTrackingCfg() config.TrackingConfig {
	return config.TrackingConfig{
		MinWriteIntervalMs: 2000,
		MinDisplacementKm:  0.005,
		AreaStalenessSec:   60,
		AreaMovementKm:     0.3,
		SensorTimeoutSec:   15,
	}
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore, string) {
	m, s, id, _ := newTestManagerWithMetrics(t)
	return m, s, id
}

func newTestManagerWithMetrics(t *testing.T) (*Manager, *store.MemoryStore, string, *observability.Metrics) {
	t.Helper()
	s := store.NewMemoryStore()
	id, err := s.Create(context.Background())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	err = s.Write(context.Background(), &domain.Agent{
		ID:            id,
		Name:          "Ali",
		Phone:         "96512345678",
		ConsentStatus: domain.ConsentStatusPending,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	metrics := observability.NewMetrics()
	resolver := area.NewResolver(stubGeocoder{}, s, testTrackingCfg(), zap.NewNop(), metrics, nil)
	m := NewManager(s, resolver, events.NewInMemoryDispatcher(), testTrackingCfg(), zap.NewNop(), metrics)
	t.Cleanup(m.StopAll)
	return m, s, id, metrics
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestShouldWriteGate(t *testing.T) {
	cfg := testTrackingCfg()
	base := time.Now()
	first := domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: base}

	if !ShouldWrite(nil, first, cfg.MinWriteInterval(), cfg.MinDisplacementKm) {
		t.Error("first sample must always be accepted")
	}

	// 500ms later, no movement: rejected.
	same := domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: base.Add(500 * time.Millisecond)}
	if ShouldWrite(&first, same, cfg.MinWriteInterval(), cfg.MinDisplacementKm) {
		t.Error("sample at t=500ms with no movement must be rejected")
	}

	// 500ms later but ~6m moved: accepted.
	moved := domain.PositionSample{Lat: 29.330054, Lng: 48.07, Timestamp: base.Add(500 * time.Millisecond)}
	if !ShouldWrite(&first, moved, cfg.MinWriteInterval(), cfg.MinDisplacementKm) {
		t.Error("sample at t=500ms with 6m displacement must be accepted")
	}

	// 2s later, no movement: accepted.
	late := domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: base.Add(2 * time.Second)}
	if !ShouldWrite(&first, late, cfg.MinWriteInterval(), cfg.MinDisplacementKm) {
		t.Error("sample at t=2s must be accepted")
	}
}

func TestApproveRecordsConsentOnce(t *testing.T) {
	m, s, id := newTestManager(t)
	ctx := context.Background()

	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	agent, _ := s.Get(ctx, id)
	if agent.ConsentStatus != domain.ConsentStatusApproved {
		t.Fatalf("expected approved, got %s", agent.ConsentStatus)
	}
	if agent.ConsentAt == nil {
		t.Fatal("consentAt not set")
	}
	consentAt := *agent.ConsentAt

	// Retry (re-arm) must not move consentAt.
	time.Sleep(5 * time.Millisecond)
	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("re-approve failed: %v", err)
	}
	agent, _ = s.Get(ctx, id)
	if !agent.ConsentAt.Equal(consentAt) {
		t.Errorf("consentAt moved on retry: %v vs %v", agent.ConsentAt, consentAt)
	}
}

func TestAcceptedSampleWritesRecord(t *testing.T) {
	m, s, id := newTestManager(t)
	ctx := context.Background()

	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	consentBefore, _ := s.Get(ctx, id)

	sample := domain.PositionSample{Lat: 29.33, Lng: 48.07, Accuracy: 8, Speed: 4, Timestamp: time.Now()}
	if err := m.Push(id, sample); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	waitFor(t, "position write", func() bool {
		agent, _ := s.Get(ctx, id)
		return agent.Location.HasCoordinates()
	})

	agent, _ := s.Get(ctx, id)
	if agent.LastSeenAt == nil || !agent.LastSeenAt.Equal(sample.Timestamp) {
		t.Errorf("lastSeenAt not updated: %v", agent.LastSeenAt)
	}
	if agent.Location.UpdatedAt == nil || !agent.Location.UpdatedAt.Equal(sample.Timestamp) {
		t.Errorf("location.updatedAt not updated: %v", agent.Location.UpdatedAt)
	}
	if !agent.ConsentAt.Equal(*consentBefore.ConsentAt) {
		t.Errorf("consentAt altered by position write")
	}
}

func TestThrottledSampleIsDroppedSilently(t *testing.T) {
	m, s, id, metrics := newTestManagerWithMetrics(t)
	ctx := context.Background()

	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}

	base := time.Now()
	if err := m.Push(id, domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: base}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	waitFor(t, "first write", func() bool {
		agent, _ := s.Get(ctx, id)
		return agent.Location.HasCoordinates()
	})

	// Same spot 500ms later: must not move updatedAt.
	if err := m.Push(id, domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: base.Add(500 * time.Millisecond)}); err != nil {
		t.Fatalf("Push failed: %v", err)
	}

	waitFor(t, "throttle counter", func() bool {
		return metrics.PipelineCount(observability.CounterPositionsThrottled) == 1
	})
	agent, _ := s.Get(ctx, id)
	if !agent.Location.UpdatedAt.Equal(base) {
		t.Errorf("throttled sample reached the store: %v", agent.Location.UpdatedAt)
	}
}

func TestSensorErrorSurvivableAndRetryable(t *testing.T) {
	m, s, id := newTestManager(t)
	ctx := context.Background()

	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if err := m.ReportSensorError(id, errors.New("permission denied")); err != nil {
		t.Fatalf("ReportSensorError failed: %v", err)
	}

	waitFor(t, "sensor error state", func() bool {
		st, ok := m.Status(id)
		return ok && st.SensorError != ""
	})

	// Explicit retry re-arms the watch and clears the error.
	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("retry Approve failed: %v", err)
	}
	st, _ := m.Status(id)
	if st.SensorError != "" {
		t.Errorf("sensor error not cleared on retry: %q", st.SensorError)
	}

	if err := m.Push(id, domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Push after retry failed: %v", err)
	}
	waitFor(t, "write after retry", func() bool {
		agent, _ := s.Get(ctx, id)
		return agent.Location.HasCoordinates()
	})
}

func TestDropStopsWatch(t *testing.T) {
	m, _, id := newTestManager(t)
	ctx := context.Background()

	if err := m.Approve(ctx, id); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	m.Drop(id)

	if err := m.Push(id, domain.PositionSample{Lat: 29.33, Lng: 48.07, Timestamp: time.Now()}); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("expected ErrSourceClosed after Drop, got %v", err)
	}
	if _, ok := m.Status(id); ok {
		t.Error("status should be gone after Drop")
	}
}
