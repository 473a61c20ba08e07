package roster

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/courier-track/internal/area"
	"github.com/spec-kit/courier-track/internal/config"
	"github.com/spec-kit/courier-track/internal/domain"
	"github.com/spec-kit/courier-track/internal/observability"
	"github.com/spec-kit/courier-track/internal/store"
)

type stubGeocoder struct{}

func (stubGeocoder) ReverseArea(ctx context.Context, lat, lng float64) (string, error) {
	return "Salmiya", nil
}

func engineCfg() config.TrackingConfig {
	return config.TrackingConfig{
		HomeName:          "bakery",
		HomeLat:           29.3759,
		HomeLng:           47.9774,
		LivenessWindowSec: 20,
		RenderTickSec:     3,
		AreaStalenessSec:  60,
		AreaMovementKm:    0.3,
	}
}

func newTestEngine(t *testing.T) (*Engine, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	metrics := observability.NewMetrics()
	resolver := area.NewResolver(stubGeocoder{}, s, engineCfg(), zap.NewNop(), metrics, nil)
	e := NewEngine(s, resolver, engineCfg(), "965", zap.NewNop(), metrics)
	return e, s
}

// agentAt builds an approved agent a given distance north of home, with
// a location update at the given age.
func agentAt(name string, kmNorth float64, age time.Duration, now time.Time) domain.Agent {
	lat := engineCfg().HomeLat + kmNorth/111
	lng := engineCfg().HomeLng
	ts := now.Add(-age)
	return domain.Agent{
		Name:          name,
		Phone:         "96512345678",
		ConsentStatus: domain.ConsentStatusApproved,
		CreatedAt:     now.Add(-time.Hour),
		LastSeenAt:    &ts,
		Location: &domain.Location{
			Lat: &lat, Lng: &lng, UpdatedAt: &ts,
		},
	}
}

func TestRenderRankOrder(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Now()

	agents := map[string]domain.Agent{
		"b": agentAt("B", 2, 5*time.Second, now),    // live, 2 km out
		"d": {Name: "D", ConsentStatus: domain.ConsentStatusPending, CreatedAt: now},
		"a": agentAt("A", 0.05, 5*time.Second, now), // live, within 100 m
		"c": {Name: "C", ConsentStatus: domain.ConsentStatusApproved, CreatedAt: now.Add(-time.Minute)},
	}

	rows := e.Render(agents, now)
	got := make([]string, 0, len(rows))
	for _, r := range rows {
		got = append(got, r.Name)
	}
	want := []string{"A", "B", "C", "D"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rank order = %v, want %v", got, want)
		}
	}

	if !rows[0].Within100m {
		t.Error("A should be within 100 m")
	}
	if !rows[0].Live || !rows[1].Live {
		t.Error("A and B should be live")
	}
	if rows[3].Distance != pendingLabel || rows[3].ETA != pendingLabel {
		t.Error("pending agent must mask distance and ETA")
	}
}

func TestRenderLivenessDecay(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Now()

	// approved, coordinates present, but the last update is 25s old
	agents := map[string]domain.Agent{
		"x": agentAt("X", 1, 25*time.Second, now),
	}

	rows := e.Render(agents, now)
	if rows[0].Live {
		t.Error("agent with 25s-old update must render as non-live")
	}

	// the same snapshot rendered 30s earlier was live: decay is purely
	// a function of wall-clock time, no new data involved
	rows = e.Render(agents, now.Add(-20*time.Second))
	if !rows[0].Live {
		t.Error("agent must have been live while inside the window")
	}
}

func TestRenderStaleLiveOutranksNearStale(t *testing.T) {
	e, _ := newTestEngine(t)
	now := time.Now()

	agents := map[string]domain.Agent{
		"far-live":  agentAt("FarLive", 5, 2*time.Second, now),
		"near-dead": agentAt("NearDead", 0.5, 2*time.Minute, now),
	}

	rows := e.Render(agents, now)
	if rows[0].Name != "FarLive" {
		t.Errorf("live connection must outrank a stale one regardless of distance, got %v first", rows[0].Name)
	}
}

func TestRenderEmptyAndDeletedTolerance(t *testing.T) {
	e, _ := newTestEngine(t)

	rows := e.Render(map[string]domain.Agent{}, time.Now())
	if len(rows) != 0 {
		t.Errorf("expected empty render, got %d rows", len(rows))
	}

	// nil locations and half-filled records must not panic
	rows = e.Render(map[string]domain.Agent{
		"ghost": {Name: "Ghost", ConsentStatus: domain.ConsentStatusApproved},
	}, time.Now())
	if len(rows) != 1 || rows[0].Area != noArea {
		t.Errorf("unexpected render for coordinate-less agent: %+v", rows)
	}
}

func TestRunRendersOnStoreChange(t *testing.T) {
	e, s := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = e.Run(ctx) }()

	// Engine starts empty; a store write must show up without a tick.
	waitSnapshot(t, e, func(snap Snapshot) bool { return len(snap.Rows) == 0 })

	id, err := s.Create(ctx)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if err := s.Write(ctx, &domain.Agent{
		ID:            id,
		Name:          "Ali",
		Phone:         "96512345678",
		ConsentStatus: domain.ConsentStatusPending,
		CreatedAt:     time.Now(),
	}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	waitSnapshot(t, e, func(snap Snapshot) bool {
		return len(snap.Rows) == 1 && snap.Rows[0].Name == "Ali"
	})
}

// Readers hitting Current while renders land must neither block nor
// observe a snapshot older than one they already saw.
func TestCurrentSafeUnderConcurrentRenders(t *testing.T) {
	e, _ := newTestEngine(t)
	base := time.Now()

	var wentBackwards atomic.Bool
	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeen time.Time
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := e.Current()
				if snap.UpdatedAt.Before(lastSeen) {
					wentBackwards.Store(true)
					return
				}
				lastSeen = snap.UpdatedAt
			}
		}()
	}

	var last Snapshot
	for i := 1; i <= 500; i++ {
		last = Snapshot{UpdatedAt: base.Add(time.Duration(i) * time.Millisecond)}
		e.storeSnapshot(last)
	}
	close(stop)

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("readers still blocked after renders finished")
	}

	if wentBackwards.Load() {
		t.Error("a reader observed an older snapshot after a newer one")
	}
	if got := e.Current(); !got.UpdatedAt.Equal(last.UpdatedAt) {
		t.Errorf("Current = %v, want the last rendered snapshot %v", got.UpdatedAt, last.UpdatedAt)
	}
}

func waitSnapshot(t *testing.T, e *Engine, cond func(Snapshot) bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond(e.Current()) {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("snapshot condition not met; last: %+v", e.Current())
}
